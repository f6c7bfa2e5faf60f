package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/arbiter-hq/arbiter/internal/events"
)

// ToastChannel surfaces critical/error-severity events as an OS toast
// notification. go-toast/toast only drives the Windows notification
// center, so Send is a no-op (returning the "unsupported" error) on every
// other platform — an operator running Arbiter on Linux/macOS gets the log
// and banner channels instead.
type ToastChannel struct {
	appID        string
	dashboardURL string
}

func NewToastChannel(appID, dashboardURL string) *ToastChannel {
	if appID == "" {
		appID = "arbiter"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &ToastChannel{appID: appID, dashboardURL: dashboardURL}
}

func (t *ToastChannel) Name() string { return "toast" }

func (t *ToastChannel) ShouldNotify(ev events.Event) bool {
	return ev.Severity == events.SeverityCritical || ev.Severity == events.SeverityError
}

func (t *ToastChannel) IsSupported() bool { return runtime.GOOS == "windows" }

func (t *ToastChannel) Send(ev events.Event) error {
	if !t.IsSupported() {
		return fmt.Errorf("toast notifications only supported on windows")
	}
	notification := toast.Notification{
		AppID:   t.appID,
		Title:   fmt.Sprintf("arbiter: %s", ev.Type),
		Message: fmt.Sprintf("[%s] %v", ev.Severity, ev.Payload),
		Audio:   toast.Default,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open dashboard", Arguments: t.dashboardURL},
		},
	}
	if ev.Severity == events.SeverityCritical {
		notification.Audio = toast.IM
	}
	return notification.Push()
}
