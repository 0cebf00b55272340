package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notification summarizes one collection run for alert destinations.
type Notification struct {
	RunID     string    `json:"run_id"`
	Title     string    `json:"title"`
	Totals    string    `json:"totals"`
	Lines     []string  `json:"lines"`
	Processed int       `json:"processed"`
	Stored    int       `json:"stored"`
	Sources   int       `json:"sources"`
	Failed    int       `json:"failed"`
	Charts    []string  `json:"charts,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Degraded reports whether any source failed in the run.
func (n *Notification) Degraded() bool { return n.Failed > 0 }

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. One failing
// destination does not stop the others.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

const maxLines = 10

// topLines caps the per-source lines shown in chat messages.
func topLines(lines []string) ([]string, int) {
	if len(lines) <= maxLines {
		return lines, 0
	}
	return lines[:maxLines], len(lines) - maxLines
}

func newClient() *resty.Client {
	return resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "socialpulse/1.0")
}

func post(ctx context.Context, req *resty.Request, url string, body []byte, dest string) error {
	resp, err := req.SetContext(ctx).SetBody(body).Post(url)
	if err != nil {
		return fmt.Errorf("send %s webhook: %w", dest, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("%s webhook status %d", dest, resp.StatusCode())
	}
	return nil
}
