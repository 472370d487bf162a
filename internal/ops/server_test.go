package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RouterSuite struct {
	suite.Suite
	registry *prometheus.Registry
	counter  prometheus.Counter
}

func TestRouterSuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.registry = prometheus.NewRegistry()
	s.counter = prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_test_total", Help: "test counter"})
	s.registry.MustRegister(s.counter)
}

func (s *RouterSuite) do(router *gin.Engine, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =====================================
// Health
// =====================================

func (s *RouterSuite) TestHealthy() {
	router := NewRouter("test", s.registry, map[string]Check{
		"store": func(context.Context) error { return nil },
	}, nil)

	w := s.do(router, "/health", nil)
	s.Equal(http.StatusOK, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal("healthy", body.Status)
	s.Equal(map[string]string{"store": "ok"}, body.Checks)
}

func (s *RouterSuite) TestUnhealthy() {
	router := NewRouter("test", s.registry, map[string]Check{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, nil)

	w := s.do(router, "/health", nil)
	s.Equal(http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal("unhealthy", body.Status)
	s.Equal("connection refused", body.Checks["redis"])
	s.Equal("ok", body.Checks["store"])
}

// =====================================
// Metrics and stats
// =====================================

func (s *RouterSuite) TestMetrics() {
	s.counter.Add(3)
	router := NewRouter("test", s.registry, nil, nil)

	w := s.do(router, "/metrics", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "ops_test_total 3")
}

func (s *RouterSuite) TestStats() {
	router := NewRouter("test", s.registry, nil, func() any {
		return map[string]int{"processed_count": 7}
	})

	w := s.do(router, "/stats", nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"processed_count":7}`, w.Body.String())
}

func (s *RouterSuite) TestStatsRouteOnlyWhenConfigured() {
	router := NewRouter("test", s.registry, nil, nil)
	s.Equal(http.StatusNotFound, s.do(router, "/stats", nil).Code)
}

func (s *RouterSuite) TestRequestID() {
	router := NewRouter("test", s.registry, nil, nil)

	w := s.do(router, "/health", http.Header{"X-Request-Id": {"req-42"}})
	s.Equal("req-42", w.Header().Get("X-Request-ID"))

	w = s.do(router, "/health", nil)
	s.NotEmpty(w.Header().Get("X-Request-ID"))
}

func TestServerStopsOnCancel(t *testing.T) {
	srv := &Server{srv: &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	require.NoError(t, <-done)
	assert.ErrorIs(t, srv.srv.ListenAndServe(), http.ErrServerClosed)
}
