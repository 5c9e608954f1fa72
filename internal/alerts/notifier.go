// Package alerts delivers high-risk decisions to a notification channel.
// It applies its own interest filter and a short time-windowed dedupe by
// transaction id before posting, and skips silently when no destination is
// configured.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/frauddesk/sentinel/internal/metrics"
	"github.com/frauddesk/sentinel/internal/model"
)

// Notifier posts Slack-style webhook messages for interesting decisions.
type Notifier struct {
	webhookURL string
	interest   map[model.Label]bool
	dedupe     time.Duration
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time // transaction id -> last alert time
}

// NewNotifier creates a notifier. labels is the set of decision labels
// worth alerting on; an empty set alerts on everything.
func NewNotifier(webhookURL string, labels []string, dedupe, postTimeout time.Duration, logger *slog.Logger) *Notifier {
	interest := make(map[model.Label]bool, len(labels))
	for _, l := range labels {
		interest[model.Label(l)] = true
	}
	return &Notifier{
		webhookURL: webhookURL,
		interest:   interest,
		dedupe:     dedupe,
		client:     &http.Client{Timeout: postTimeout},
		logger:     logger,
		now:        time.Now,
		recent:     make(map[string]time.Time),
	}
}

// WithClock overrides the dedupe clock. Test hook.
func (n *Notifier) WithClock(now func() time.Time) *Notifier {
	n.now = now
	return n
}

// Notify delivers one decision if it passes the filter and dedupe window.
// Delivery failures are logged, never propagated. Alerting is advisory.
func (n *Notifier) Notify(ctx context.Context, d *model.Decision) {
	if !n.shouldAlert(d) {
		metrics.AlertsSkippedTotal.Inc()
		return
	}
	if n.webhookURL == "" {
		metrics.AlertsMissingWebhookTotal.Inc()
		n.logger.Warn("alert webhook not configured, skipping",
			"transaction_id", d.TransactionID)
		return
	}
	if err := n.post(ctx, d); err != nil {
		n.logger.Error("alert delivery failed",
			"transaction_id", d.TransactionID, "error", err)
		return
	}
	metrics.AlertsSentTotal.Inc()
}

// shouldAlert applies the interest filter and the per-transaction dedupe
// window, sweeping stale entries as it goes.
func (n *Notifier) shouldAlert(d *model.Decision) bool {
	if len(n.interest) > 0 && !n.interest[d.Decision] {
		return false
	}
	if n.dedupe <= 0 {
		return true
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	for id, at := range n.recent {
		if at.Before(now.Add(-5 * n.dedupe)) {
			delete(n.recent, id)
		}
	}
	if last, ok := n.recent[d.TransactionID]; ok && last.After(now.Add(-n.dedupe)) {
		return false
	}
	n.recent[d.TransactionID] = now
	return true
}

func (n *Notifier) post(ctx context.Context, d *model.Decision) error {
	text := fmt.Sprintf("*Fraud Alert* (%s)\nUser: `%s`\nScore: %.1f\nReasons: %s\nEvaluated: %s",
		d.Decision, d.UserID, d.Score,
		strings.Join(d.Reasons, ", "),
		d.EvaluatedAt.Format(time.RFC3339))

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
