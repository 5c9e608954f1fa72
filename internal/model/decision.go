package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Label is the closed set of decision outcomes. Anything else coming off
// the wire is a decode error, never a silent default.
type Label string

const (
	LabelAllow  Label = "ALLOW"
	LabelReview Label = "REVIEW"
	LabelBlock  Label = "BLOCK"
)

// ParseLabel validates a raw decision string.
func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case LabelAllow, LabelReview, LabelBlock:
		return Label(s), nil
	}
	return "", fmt.Errorf("unknown decision label %q", s)
}

// UnmarshalJSON enforces the closed enumeration.
func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLabel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Decision is the immutable outcome produced for every processed
// (non-duplicate) transaction. Reasons preserve insertion order: the order
// rules fired, not deduplicated, not sorted.
type Decision struct {
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Decision      Label     `json:"decision"`
	Score         float64   `json:"score"`
	Reasons       []string  `json:"reasons"`
	LatencyMs     int64     `json:"latencyMs"`
	EvaluatedAt   time.Time `json:"evaluatedAt"`
}
