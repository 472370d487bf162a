package kv

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/suite"
)

// StoreSuite runs the same behaviour checks against every backend.
type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store Store
	reset func()
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	if s.reset != nil {
		s.reset()
	}
}

func (s *StoreSuite) get(key string) (string, bool) {
	var (
		out string
		ok  bool
	)
	s.Require().NoError(s.store.View(s.ctx, func(r Reader) error {
		raw, found, err := r.Get(key)
		out, ok = string(raw), found
		return err
	}))
	return out, ok
}

// =============================================================================
// Commit and rollback
// =============================================================================

func (s *StoreSuite) TestUpdateCommits() {
	s.Require().NoError(s.store.Update(s.ctx, func(tx Tx) error {
		if err := tx.Put("a/1", []byte("one")); err != nil {
			return err
		}
		return tx.Put("a/2", []byte("two"))
	}))

	v, ok := s.get("a/1")
	s.True(ok)
	s.Equal("one", v)
	v, ok = s.get("a/2")
	s.True(ok)
	s.Equal("two", v)
}

func (s *StoreSuite) TestFailedUpdateLeavesNoTrace() {
	s.Require().NoError(s.store.Update(s.ctx, func(tx Tx) error {
		return tx.Put("keep", []byte("v1"))
	}))

	boom := errors.New("boom")
	err := s.store.Update(s.ctx, func(tx Tx) error {
		if err := tx.Put("keep", []byte("v2")); err != nil {
			return err
		}
		if err := tx.Put("new", []byte("x")); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	v, _ := s.get("keep")
	s.Equal("v1", v)
	_, ok := s.get("new")
	s.False(ok)
}

func (s *StoreSuite) TestReadYourWrites() {
	s.Require().NoError(s.store.Update(s.ctx, func(tx Tx) error {
		if err := tx.Put("k", []byte("v")); err != nil {
			return err
		}
		raw, ok, err := tx.Get("k")
		s.Require().NoError(err)
		s.True(ok)
		s.Equal("v", string(raw))

		if err := tx.Delete("k"); err != nil {
			return err
		}
		_, ok, err = tx.Get("k")
		s.Require().NoError(err)
		s.False(ok)
		return nil
	}))

	_, ok := s.get("k")
	s.False(ok)
}

func (s *StoreSuite) TestJSONHelpers() {
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	s.Require().NoError(s.store.Update(s.ctx, func(tx Tx) error {
		return PutJSON(tx, Key("ns", "record"), record{Name: "x", Count: 3})
	}))

	var got record
	s.Require().NoError(s.store.View(s.ctx, func(r Reader) error {
		ok, err := GetJSON(r, "ns/record", &got)
		s.True(ok)
		return err
	}))
	s.Equal(record{Name: "x", Count: 3}, got)

	s.Require().NoError(s.store.View(s.ctx, func(r Reader) error {
		ok, err := GetJSON(r, "ns/missing", &got)
		s.False(ok)
		return err
	}))
}

// =============================================================================
// Concurrency
// =============================================================================

func (s *StoreSuite) TestConcurrentIncrementsAreSerialised() {
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Update(s.ctx, func(tx Tx) error {
				var n int
				if _, err := GetJSON(tx, "counter", &n); err != nil {
					return err
				}
				return PutJSON(tx, "counter", n+1)
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	var n int
	s.Require().NoError(s.store.View(s.ctx, func(r Reader) error {
		_, err := GetJSON(r, "counter", &n)
		return err
	}))
	s.Equal(writers, n)
}
