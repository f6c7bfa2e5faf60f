package main

import (
	"github.com/arbiter-hq/arbiter/internal/events"
	"github.com/arbiter-hq/arbiter/internal/store"
)

// busDegradationSink bridges store.DegradationSink to the event bus.
// store deliberately has no dependency on events so it stays leaf-most in
// the lock-ordering chain (queue -> registry -> assignment -> store); this
// adapter is the thing that actually turns a degradation callback into a
// system-topic event, and it only makes sense to exist once all of the
// components it publishes about are wired together, which happens here.
type busDegradationSink struct {
	bus *events.Bus
}

func newBusDegradationSink(bus *events.Bus) *busDegradationSink {
	return &busDegradationSink{bus: bus}
}

func (s *busDegradationSink) OnDegraded(reason string, detail map[string]interface{}) {
	payload := map[string]interface{}{"reason": reason}
	for k, v := range detail {
		payload[k] = v
	}
	s.bus.Publish(events.TopicSystem, events.New(events.SystemDegraded, events.SeverityWarning, "", payload))
}

func (s *busDegradationSink) OnReconcileFailure(key string, err error) {
	s.bus.Publish(events.TopicSystem, events.New(events.SystemReconcileFail, events.SeverityError, "", map[string]interface{}{
		"key":   key,
		"error": err.Error(),
	}))
}

func (s *busDegradationSink) OnBreakerStateChanged(from, to store.BreakerState) {
	typ := events.SystemBreakerClosed
	severity := events.SeverityWarning
	if to == store.BreakerOpen {
		typ = events.SystemBreakerOpen
		severity = events.SeverityCritical
	}
	s.bus.Publish(events.TopicSystem, events.New(typ, severity, "", map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	}))
}
