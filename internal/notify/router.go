package notify

import (
	"context"
	"log"
	"sync"

	"github.com/arbiter-hq/arbiter/internal/events"
)

// Router dispatches bus events to every registered Channel, fire-and-forget,
// the same one-goroutine-per-channel-per-event shape as the teacher's
// notification router.
type Router struct {
	mu       sync.RWMutex
	channels []Channel
	logger   *log.Logger
}

func NewRouter(logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{logger: logger}
}

func (r *Router) AddChannel(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, ch)
}

func (r *Router) RemoveChannel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filtered := r.channels[:0]
	for _, ch := range r.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	r.channels = filtered
}

func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.channels))
	for i, ch := range r.channels {
		names[i] = ch.Name()
	}
	return names
}

// Route sends ev to every channel whose ShouldNotify matches, each in its
// own goroutine; failures are logged, never returned, since a notification
// failure must never block or fail the operation that raised the event.
func (r *Router) Route(ev events.Event) {
	r.mu.RLock()
	channels := make([]Channel, len(r.channels))
	copy(channels, r.channels)
	r.mu.RUnlock()

	for _, ch := range channels {
		go func(ch Channel) {
			if !ch.ShouldNotify(ev) {
				return
			}
			if err := ch.Send(ev); err != nil {
				r.logger.Printf("[NOTIFY] channel %s failed to send event %s: %v", ch.Name(), ev.ID, err)
			}
		}(ch)
	}
}

// RouteWithWait is Route but blocks until every matching channel has
// finished sending, used by tests and by callers that need delivery
// ordering guarantees.
func (r *Router) RouteWithWait(ev events.Event) {
	r.mu.RLock()
	channels := make([]Channel, len(r.channels))
	copy(channels, r.channels)
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if !ch.ShouldNotify(ev) {
				return
			}
			if err := ch.Send(ev); err != nil {
				r.logger.Printf("[NOTIFY] channel %s failed to send event %s: %v", ch.Name(), ev.ID, err)
			}
		}(ch)
	}
	wg.Wait()
}

// Subscribe drains topics off bus and routes every event until ctx is
// cancelled. Defaults to system.* and security.* — the resilient store's
// degradation/breaker signals and the security gate's rate-limit/authz
// alerts are the classes of event an operator notification channel cares
// about; task/agent events stay on the bus for the audit log and the
// API's /events surface.
func (r *Router) Subscribe(ctx context.Context, bus *events.Bus, topics ...string) {
	if len(topics) == 0 {
		topics = []string{events.TopicSystem, events.TopicSecurity}
	}
	for _, topic := range topics {
		ch, unsubscribe := bus.Subscribe(topic, nil)
		go func(ch <-chan events.Event, unsubscribe func()) {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					r.Route(ev)
				}
			}
		}(ch, unsubscribe)
	}
}
