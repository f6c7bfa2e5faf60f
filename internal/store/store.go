package store

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/arbiter-hq/arbiter/internal/clock"
)

// DegradationSink receives a notification whenever the resilient store
// degrades in a way an operator should know about: a pending write
// dropped, a reconciliation failure, or a breaker transition. Kept as a
// narrow callback interface (rather than a hard dependency on the event
// bus) so store stays the leaf-most component in the lock-ordering chain
// (Queue -> Registry -> Assignment -> Store).
type DegradationSink interface {
	OnDegraded(reason string, detail map[string]interface{})
	OnReconcileFailure(key string, err error)
	OnBreakerStateChanged(from, to BreakerState)
}

// Config bundles the tunables for a ResilientStore.
type Config struct {
	Breaker         BreakerConfig
	Retry           RetryConfig
	ShadowCapacity  int
	PendingCapacity int
	ProbeInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Breaker:         DefaultBreakerConfig(),
		Retry:           DefaultRetryConfig(),
		ShadowCapacity:  10000,
		PendingCapacity: 1000,
		ProbeInterval:   5 * time.Second,
	}
}

// ResilientStore wraps a Durable backend with a circuit breaker,
// exponential-backoff retry for idempotent calls, an in-memory shadow,
// and a bounded pending-write log drained once the breaker closes. This
// is C1: every other component talks to the durable record store only
// through a ResilientStore.
type ResilientStore struct {
	durable Durable
	cfg     Config
	clk     clock.Clock
	sink    DegradationSink

	breaker *breaker
	shadow  *shadow
	pending *pendingLog
	keys    *keyLocks
	rng     *rand.Rand

	logger *log.Logger

	stopProbe chan struct{}
	probeWG   sync.WaitGroup
	lastBreakerState BreakerState
	mu               sync.Mutex // guards lastBreakerState transition notifications
}

func New(durable Durable, cfg Config, clk clock.Clock, sink DegradationSink, logger *log.Logger) *ResilientStore {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &ResilientStore{
		durable:          durable,
		cfg:              cfg,
		clk:              clk,
		sink:             sink,
		breaker:          newBreaker(cfg.Breaker, clk),
		shadow:           newShadow(cfg.ShadowCapacity),
		keys:             newKeyLocks(),
		rng:              rand.New(rand.NewSource(1)),
		logger:           logger,
		lastBreakerState: BreakerClosed,
	}
	s.pending = newPendingLog(cfg.PendingCapacity, s.onPendingDrop)
	return s
}

func (s *ResilientStore) onPendingDrop(w pendingWrite) {
	s.logger.Printf("[STORE] WARNING: dropped pending write for key=%s (pending log at capacity)", w.key)
	if s.sink != nil {
		s.sink.OnDegraded("pending_write_dropped", map[string]interface{}{"key": w.key})
	}
}

// Read serves a value: durable if the breaker admits the call, shadow
// (tagged sourcedFrom=memory) otherwise.
func (s *ResilientStore) Read(ctx context.Context, key string) (Record, string, error) {
	unlock := s.keys.Lock(key)
	defer unlock()

	allowed, isProbe := s.breaker.Allow()
	if !allowed {
		if rec, ok := s.shadow.Get(key); ok {
			return rec, "memory", nil
		}
		return Record{}, "", notFoundOrUnavailable(key)
	}

	rec, err := s.durable.Get(ctx, key)
	if err != nil {
		s.recordFailure(isProbe, err)
		if IsRetryable(err) {
			if rec, ok := s.shadow.Get(key); ok {
				return rec, "memory", nil
			}
		}
		return Record{}, "", err
	}
	s.recordSuccess(isProbe)
	s.shadow.Put(key, rec.Value, rec.Version)
	return rec, "durable", nil
}

// Write is idempotent-aware: when idempotent and the durable call fails
// retryably, it is retried per RetryConfig; when the breaker is open, the
// write is appended to the pending log and the shadow is updated
// immediately so a subsequent Read observes it (shadow coherence).
func (s *ResilientStore) Write(ctx context.Context, key string, value []byte, idempotent bool) (Record, error) {
	unlock := s.keys.Lock(key)
	defer unlock()

	allowed, isProbe := s.breaker.Allow()
	if !allowed {
		s.shadow.Put(key, value, s.nextShadowVersion(key))
		s.pending.Append(pendingWrite{key: key, value: value})
		return s.mustShadow(key), nil
	}

	var rec Record
	op := func(ctx context.Context) error {
		var err error
		rec, err = s.durable.Put(ctx, key, value, nil)
		return err
	}

	var err error
	if idempotent {
		err = withRetry(ctx, s.cfg.Retry, s.rng, op)
	} else {
		err = op(ctx)
	}

	if err != nil {
		s.recordFailure(isProbe, err)
		if IsRetryable(err) || isExhausted(err) {
			s.shadow.Put(key, value, s.nextShadowVersion(key))
			s.pending.Append(pendingWrite{key: key, value: value})
			return s.mustShadow(key), nil
		}
		return Record{}, err
	}

	s.recordSuccess(isProbe)
	s.shadow.Put(key, rec.Value, rec.Version)
	return rec, nil
}

func (s *ResilientStore) Delete(ctx context.Context, key string) error {
	unlock := s.keys.Lock(key)
	defer unlock()

	allowed, isProbe := s.breaker.Allow()
	if !allowed {
		s.shadow.Delete(key)
		s.pending.Append(pendingWrite{key: key, deleted: true})
		return nil
	}

	err := s.durable.Delete(ctx, key)
	if err != nil {
		s.recordFailure(isProbe, err)
		if IsRetryable(err) {
			s.shadow.Delete(key)
			s.pending.Append(pendingWrite{key: key, deleted: true})
			return nil
		}
		return err
	}
	s.recordSuccess(isProbe)
	s.shadow.Delete(key)
	return nil
}

// Transaction rejects with a plain "breaker open" error when the breaker
// is open; it is never retried (transactions are not assumed idempotent).
func (s *ResilientStore) Transaction(ctx context.Context, ops []Op) error {
	allowed, isProbe := s.breaker.Allow()
	if !allowed {
		return fmt.Errorf("transaction rejected: breaker open")
	}

	err := s.durable.Tx(ctx, ops)
	if err != nil {
		s.recordFailure(isProbe, err)
		return err
	}
	s.recordSuccess(isProbe)

	for _, op := range ops {
		switch op.Kind {
		case OpPut:
			s.shadow.Put(op.Key, op.Value, s.nextShadowVersion(op.Key))
		case OpDelete:
			s.shadow.Delete(op.Key)
		}
	}
	return nil
}

// drain applies every pending write to the durable backend in submission
// order once the breaker has closed. A rejected drained write is logged
// as a reconciliation failure, never silently discarded.
func (s *ResilientStore) drain(ctx context.Context) {
	writes := s.pending.Drain()
	for _, w := range writes {
		var err error
		if w.deleted {
			err = s.durable.Delete(ctx, w.key)
		} else {
			_, err = s.durable.Put(ctx, w.key, w.value, w.ifMatch)
		}
		if err != nil {
			s.logger.Printf("[STORE] ERROR: reconciliation failed for key=%s: %v", w.key, err)
			if s.sink != nil {
				s.sink.OnReconcileFailure(w.key, err)
			}
		}
	}
}

func (s *ResilientStore) recordSuccess(isProbe bool) {
	before := s.breaker.State()
	s.breaker.RecordSuccess()
	after := s.breaker.State()
	s.notifyTransition(before, after)
	if after == BreakerClosed && before != BreakerClosed {
		s.drain(context.Background())
	}
}

func (s *ResilientStore) recordFailure(isProbe bool, err error) {
	if !IsRetryable(err) {
		// The backend answered (not found, conflict, ...): for the breaker
		// that is a successful call, and it settles a half-open probe.
		s.recordSuccess(isProbe)
		return
	}
	before := s.breaker.State()
	s.breaker.RecordFailure()
	after := s.breaker.State()
	s.notifyTransition(before, after)
}

func (s *ResilientStore) notifyTransition(before, after BreakerState) {
	if before == after {
		return
	}
	s.mu.Lock()
	s.lastBreakerState = after
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.OnBreakerStateChanged(before, after)
	}
}

func (s *ResilientStore) nextShadowVersion(key string) uint64 {
	if rec, ok := s.shadow.Get(key); ok {
		return rec.Version + 1
	}
	return 1
}

func (s *ResilientStore) mustShadow(key string) Record {
	rec, _ := s.shadow.Get(key)
	return rec
}

func isExhausted(err error) bool {
	_, ok := err.(*RetryExhaustedError)
	return ok
}

func notFoundOrUnavailable(key string) error {
	return fmt.Errorf("key %s not in shadow and durable store is unavailable", key)
}

// HealthCheck reports the wrapper's current health: healthy, latency,
// shadowSize, pendingWrites, breakerState.
func (s *ResilientStore) HealthCheck(ctx context.Context) HealthStatus {
	start := s.clk.Now()
	err := s.durable.Ping(ctx)
	latency := s.clk.Now().Sub(start)
	return HealthStatus{
		Healthy:       err == nil,
		Latency:       latency,
		ShadowSize:    s.shadow.Len(),
		PendingWrites: s.pending.Len(),
		BreakerState:  s.breaker.State(),
	}
}

// StartHealthProber launches a cooperative, cancellable background
// prober: a periodic lightweight read against the durable layer, whose
// success counts toward closing the breaker. Stop via StopHealthProber.
func (s *ResilientStore) StartHealthProber(ctx context.Context) {
	s.stopProbe = make(chan struct{})
	s.probeWG.Add(1)
	go func() {
		defer s.probeWG.Done()
		ticker := time.NewTicker(s.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopProbe:
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeInterval)
				err := s.durable.Ping(probeCtx)
				cancel()
				if err == nil {
					s.recordSuccess(false)
				} else {
					s.recordFailure(false, Retryable(err))
				}
			}
		}
	}()
}

func (s *ResilientStore) StopHealthProber() {
	if s.stopProbe != nil {
		close(s.stopProbe)
		s.probeWG.Wait()
	}
}

// BreakerState exposes the current breaker state for observer endpoints.
func (s *ResilientStore) BreakerState() BreakerState {
	return s.breaker.State()
}
