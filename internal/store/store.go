// Package store persists transactions and decisions. The decision store
// doubles as the processing dedupe check: a transaction id with a saved
// decision is never scored twice.
package store

import (
	"context"

	"github.com/frauddesk/sentinel/internal/model"
)

// DecisionStore persists decisions and answers existence checks.
// Exists-then-process is not a compare-and-swap; user-id partitioning
// serializes same-user processing, so the residual race is limited to
// consumer rebalance replay (accepted at-least-once edge case).
type DecisionStore interface {
	Exists(ctx context.Context, transactionID string) (bool, error)
	Save(ctx context.Context, d *model.Decision) error
	ListRecent(ctx context.Context, limit int) ([]*model.Decision, error)
	CountByLabel(ctx context.Context) (map[model.Label]int64, error)
}

// TransactionStore keeps the raw transaction audit trail.
type TransactionStore interface {
	Save(ctx context.Context, tx *model.Transaction) error
	ListRecent(ctx context.Context, limit int) ([]*model.Transaction, error)
}
