package store

import (
	"container/list"
	"sync"
)

// pendingWrite is one write queued while the breaker is open, to be
// drained in submission order once the breaker closes.
type pendingWrite struct {
	key     string
	value   []byte
	ifMatch *uint64
	deleted bool
}

// pendingLog is the bounded, oldest-dropped queue of writes accepted while
// the durable path is unavailable. A drop emits system.degraded via the
// onDrop callback so the caller (ResilientStore) can publish it on the
// event bus without this package depending on events.
type pendingLog struct {
	mu       sync.Mutex
	capacity int
	items    *list.List // front = oldest
	onDrop   func(pendingWrite)
}

func newPendingLog(capacity int, onDrop func(pendingWrite)) *pendingLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &pendingLog{capacity: capacity, items: list.New(), onDrop: onDrop}
}

func (p *pendingLog) Append(w pendingWrite) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items.PushBack(w)
	for p.items.Len() > p.capacity {
		front := p.items.Front()
		dropped := p.items.Remove(front).(pendingWrite)
		if p.onDrop != nil {
			p.onDrop(dropped)
		}
	}
}

// Drain returns every queued write in submission order and empties the
// log. The caller applies them to the durable backend one at a time.
func (p *pendingLog) Drain() []pendingWrite {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]pendingWrite, 0, p.items.Len())
	for e := p.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(pendingWrite))
	}
	p.items.Init()
	return out
}

func (p *pendingLog) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items.Len()
}
