package kv

// overlay buffers writes on top of a read function. Memory and Redis stores
// commit the buffered writes in one step once the update function succeeds.
type overlay struct {
	read   func(key string) ([]byte, bool, error)
	writes map[string]pending
	order  []string
}

type pending struct {
	value   []byte
	deleted bool
}

func newOverlay(read func(key string) ([]byte, bool, error)) *overlay {
	return &overlay{read: read, writes: make(map[string]pending)}
}

func (o *overlay) Get(key string) ([]byte, bool, error) {
	if p, ok := o.writes[key]; ok {
		if p.deleted {
			return nil, false, nil
		}
		return cloneBytes(p.value), true, nil
	}
	return o.read(key)
}

func (o *overlay) Put(key string, value []byte) error {
	o.stage(key, pending{value: cloneBytes(value)})
	return nil
}

func (o *overlay) Delete(key string) error {
	o.stage(key, pending{deleted: true})
	return nil
}

func (o *overlay) stage(key string, p pending) {
	if _, seen := o.writes[key]; !seen {
		o.order = append(o.order, key)
	}
	o.writes[key] = p
}

// each visits staged writes in first-write order.
func (o *overlay) each(fn func(key string, p pending)) {
	for _, key := range o.order {
		fn(key, o.writes[key])
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
