package notify

import (
	"context"
	"errors"
	"sync"
)

// Alert kinds posted to operators.
const (
	KindSanction      = "sanction"
	KindInvestigation = "investigation"
	KindAppeal        = "appeal"
	KindRaid          = "raid"
	KindCircuitBreak  = "circuit-breaker"
	KindReport        = "report"
)

// A non-interactive, operator-facing message.
type Alert struct {
	CommunityID string
	Kind        string
	// short one-line headline
	Title string
	Body  string
}

func (a *Alert) Text() string {
	if a.Body == "" {
		return a.Title
	}
	return a.Title + "\n" + a.Body
}

// Delivers operator alerts. Delivery is best-effort; callers log errors and continue.
type Notifier interface {
	SendAlert(ctx context.Context, a Alert) error
}

// Fans an alert out to every wrapped notifier. All are attempted; errors are joined.
type Multi []Notifier

func (m Multi) SendAlert(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.SendAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keeps alerts in memory. Used in tests and by the `classify` command.
type Recorder struct {
	mu     sync.Mutex
	Alerts []Alert
}

func (r *Recorder) SendAlert(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, a)
	return nil
}

// Recorded alerts of the given kind.
func (r *Recorder) OfKind(kind string) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Alert{}
	for _, a := range r.Alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
