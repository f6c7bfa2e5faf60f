package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/arbiter-hq/arbiter/internal/events"
)

// BannerState is the latest alert an operator dashboard would render,
// adapted from the teacher's BannerState shape one-for-one.
type BannerState struct {
	Visible   bool      `json:"visible"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// BannerChannel keeps the single most recent warning-or-above event in
// memory for a dashboard to poll, the same single-active-banner model the
// teacher's BannerNotifier uses rather than an unbounded alert history
// (that history is the audit log's job, not this one's).
type BannerChannel struct {
	mu    sync.RWMutex
	state BannerState
}

func NewBannerChannel() *BannerChannel {
	return &BannerChannel{}
}

func (b *BannerChannel) Name() string { return "banner" }

func (b *BannerChannel) ShouldNotify(ev events.Event) bool {
	return ev.Severity == events.SeverityWarning || ev.Severity == events.SeverityError || ev.Severity == events.SeverityCritical
}

func (b *BannerChannel) Send(ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BannerState{
		Visible:   true,
		Message:   fmt.Sprintf("%s: %v", ev.Type, ev.Payload),
		Severity:  string(ev.Severity),
		Timestamp: ev.Timestamp,
	}
	return nil
}

// Clear hides the banner without discarding the last message.
func (b *BannerChannel) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Visible = false
}

// State returns a copy of the current banner state.
func (b *BannerChannel) State() BannerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
