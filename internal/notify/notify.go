// Package notify pushes cycle events to the operator. The only real
// transport is a webhook; everything else in the system treats
// notification failure as a logged warning, never a cycle failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/logging"
)

// Event is one notification payload.
type Event struct {
	Kind        string    `json:"kind"` // cycle_failed | gate_flip | moves_proposed
	CycleNumber int64     `json:"cycle_number"`
	Message     string    `json:"message"`
	Detail      any       `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Composite fans one event out to several notifiers, collecting the
// first error.
type Composite []Notifier

func (c Composite) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range c {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Webhook POSTs events as JSON to a single URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhook builds a webhook notifier. Returns a Nop when url is
// empty so callers never branch on configuration.
func NewWebhook(url string, logger *zap.Logger) Notifier {
	if url == "" {
		return Nop{}
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logging.OrNop(logger).Named("notify"),
	}
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	w.logger.Debug("notification delivered", zap.String("kind", ev.Kind))
	return nil
}
