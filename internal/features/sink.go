package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sink delivers feature vectors to an external consumer. Advisory path:
// callers log delivery errors and move on.
type Sink interface {
	Consume(ctx context.Context, transactionID string, v *Vector) error
}

// HTTPSink posts vectors as JSON to the scoring model service. The model's
// response is intentionally ignored: this process only produces input
// features, it does not consume model scores.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink posting to the given URL.
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Consume(ctx context.Context, transactionID string, v *Vector) error {
	payload, err := json.Marshal(map[string]any{
		"transactionId": transactionID,
		"features":      v,
	})
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build feature request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post features: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("feature sink returned %d", resp.StatusCode)
	}
	return nil
}
