package notify

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-hq/arbiter/internal/events"
)

// fakeChannel records every event it receives, for asserting fan-out.
type fakeChannel struct {
	mu       sync.Mutex
	name     string
	accepts  func(events.Event) bool
	received []events.Event
	failNext bool
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) ShouldNotify(ev events.Event) bool {
	if f.accepts == nil {
		return true
	}
	return f.accepts(ev)
}

func (f *fakeChannel) Send(ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.received = append(f.received, ev)
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestRouter_RouteWithWaitFansOutToMatchingChannels(t *testing.T) {
	router := NewRouter(log.Default())
	critical := &fakeChannel{name: "critical-only", accepts: func(ev events.Event) bool {
		return ev.Severity == events.SeverityCritical
	}}
	all := &fakeChannel{name: "all"}
	router.AddChannel(critical)
	router.AddChannel(all)

	ev := events.New(events.SystemBreakerOpen, events.SeverityCritical, "", "store degraded")
	router.RouteWithWait(ev)

	assert.Equal(t, 1, critical.count())
	assert.Equal(t, 1, all.count())

	warn := events.New(events.SecurityRateLimited, events.SeverityWarning, "", "rate limited")
	router.RouteWithWait(warn)

	assert.Equal(t, 1, critical.count())
	assert.Equal(t, 2, all.count())
}

func TestRouter_ChannelFailureDoesNotBlockOthers(t *testing.T) {
	router := NewRouter(log.Default())
	broken := &fakeChannel{name: "broken", failNext: true}
	ok := &fakeChannel{name: "ok"}
	router.AddChannel(broken)
	router.AddChannel(ok)

	router.RouteWithWait(events.New(events.SystemDegraded, events.SeverityWarning, "", "degraded"))

	assert.Equal(t, 0, broken.count())
	assert.Equal(t, 1, ok.count())
}

func TestRouter_RemoveChannel(t *testing.T) {
	router := NewRouter(log.Default())
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	router.AddChannel(a)
	router.AddChannel(b)
	router.RemoveChannel("a")

	assert.ElementsMatch(t, []string{"b"}, router.Channels())

	router.RouteWithWait(events.New(events.SystemDegraded, events.SeverityCritical, "", "x"))
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
}

func TestRouter_SubscribeDefaultsToSystemAndSecurity(t *testing.T) {
	bus := events.NewBus()
	router := NewRouter(log.Default())
	sink := &fakeChannel{name: "sink"}
	router.AddChannel(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router.Subscribe(ctx, bus)

	bus.Publish(events.TopicSystem, events.New(events.SystemDegraded, events.SeverityCritical, "", "x"))
	bus.Publish(events.TopicTask, events.New(events.TaskFailed, events.SeverityCritical, "", "y"))

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestLogChannel_FiltersBySeverity(t *testing.T) {
	ch := NewLogChannel(nil)
	assert.True(t, ch.ShouldNotify(events.New(events.SystemDegraded, events.SeverityWarning, "", nil)))
	assert.False(t, ch.ShouldNotify(events.New(events.SystemDegraded, events.SeverityInfo, "", nil)))

	require.NoError(t, ch.Send(events.New(events.SystemDegraded, events.SeverityError, "", "disk full")))
}

func TestToastChannel_UnsupportedPlatformErrors(t *testing.T) {
	ch := NewToastChannel("", "")
	ev := events.New(events.SystemBreakerOpen, events.SeverityCritical, "", "open")
	if ch.IsSupported() {
		t.Skip("running on windows; unsupported-platform behavior not exercised")
	}
	assert.Error(t, ch.Send(ev))
}

func TestBannerChannel_ShowAndClear(t *testing.T) {
	banner := NewBannerChannel()
	assert.False(t, banner.State().Visible)

	ev := events.New(events.SecurityRateLimited, events.SeverityWarning, "", "too many requests")
	require.NoError(t, banner.Send(ev))

	state := banner.State()
	assert.True(t, state.Visible)
	assert.Contains(t, state.Message, "security.rate_limit_exceeded")
	assert.Equal(t, "warning", state.Severity)

	banner.Clear()
	assert.False(t, banner.State().Visible)
}
