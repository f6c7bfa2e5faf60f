package api

import (
	"context"
	"strings"
	"sync"

	"github.com/arbiter-hq/arbiter/internal/store"
)

// memDurable is a minimal in-memory store.Durable used only by this
// package's tests, the same shape as the registry/orchestrator/worker
// packages' own copies.
type memDurable struct {
	mu      sync.Mutex
	data    map[string]store.Record
	version uint64
}

func newMemDurable() *memDurable {
	return &memDurable{data: make(map[string]store.Record)}
}

func (m *memDurable) Get(ctx context.Context, key string) (store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[key]
	if !ok {
		return store.Record{}, store.NonRetryable(store.ErrNotFound)
	}
	return rec, nil
}

func (m *memDurable) Put(ctx context.Context, key string, value []byte, ifMatch *uint64) (store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	rec := store.Record{Key: key, Value: value, Version: m.version}
	m.data[key] = rec
	return rec, nil
}

func (m *memDurable) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memDurable) Scan(ctx context.Context, prefix string, filter store.ScanFilter) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Record
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memDurable) Tx(ctx context.Context, ops []store.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		switch op.Kind {
		case store.OpPut:
			m.version++
			m.data[op.Key] = store.Record{Key: op.Key, Value: op.Value, Version: m.version}
		case store.OpDelete:
			delete(m.data, op.Key)
		}
	}
	return nil
}

func (m *memDurable) Ping(ctx context.Context) error { return nil }
