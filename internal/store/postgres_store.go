package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/frauddesk/sentinel/internal/model"
)

// PostgresDecisionStore persists decisions in PostgreSQL. Saves are
// idempotent by transaction id so at-least-once redelivery never produces
// a second row.
type PostgresDecisionStore struct {
	db *sql.DB
}

// NewPostgresDecisionStore creates a PostgreSQL-backed decision store.
func NewPostgresDecisionStore(db *sql.DB) *PostgresDecisionStore {
	return &PostgresDecisionStore{db: db}
}

func (s *PostgresDecisionStore) Exists(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM decisions WHERE transaction_id = $1)`,
		transactionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check decision existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresDecisionStore) Save(ctx context.Context, d *model.Decision) error {
	reasonsJSON, err := json.Marshal(d.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (transaction_id, user_id, decision, score, reasons, latency_ms, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
	`,
		d.TransactionID,
		d.UserID,
		string(d.Decision),
		d.Score,
		reasonsJSON,
		d.LatencyMs,
		d.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

func (s *PostgresDecisionStore) ListRecent(ctx context.Context, limit int) ([]*model.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, user_id, decision, score, reasons, latency_ms, evaluated_at
		FROM decisions
		ORDER BY evaluated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*model.Decision
	for rows.Next() {
		var d model.Decision
		var label string
		var reasonsJSON []byte
		if err := rows.Scan(&d.TransactionID, &d.UserID, &label, &d.Score, &reasonsJSON, &d.LatencyMs, &d.EvaluatedAt); err != nil {
			continue
		}
		parsed, err := model.ParseLabel(label)
		if err != nil {
			return nil, fmt.Errorf("corrupt decision row %s: %w", d.TransactionID, err)
		}
		d.Decision = parsed
		_ = json.Unmarshal(reasonsJSON, &d.Reasons)
		result = append(result, &d)
	}
	return result, rows.Err()
}

func (s *PostgresDecisionStore) CountByLabel(ctx context.Context) (map[model.Label]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM decisions GROUP BY decision`)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.Label]int64)
	for rows.Next() {
		var label string
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			continue
		}
		parsed, err := model.ParseLabel(label)
		if err != nil {
			return nil, fmt.Errorf("corrupt decision label: %w", err)
		}
		counts[parsed] = n
	}
	return counts, rows.Err()
}

// PostgresTransactionStore persists the raw transaction audit trail.
type PostgresTransactionStore struct {
	db *sql.DB
}

// NewPostgresTransactionStore creates a PostgreSQL-backed transaction store.
func NewPostgresTransactionStore(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

func (s *PostgresTransactionStore) Save(ctx context.Context, tx *model.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	var deviceID, deviceIP sql.NullString
	if tx.Device != nil {
		deviceID = sql.NullString{String: tx.Device.ID, Valid: tx.Device.ID != ""}
		deviceIP = sql.NullString{String: tx.Device.IP, Valid: tx.Device.IP != ""}
	}
	var lat, lon sql.NullFloat64
	if tx.HasCoordinates() {
		lat = sql.NullFloat64{Float64: *tx.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: *tx.Location.Lon, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, user_id, amount, currency, merchant_id, occurred_at, device_id, device_ip, latitude, longitude, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (transaction_id) DO NOTHING
	`,
		tx.TransactionID,
		tx.UserID,
		tx.Amount,
		tx.Currency,
		tx.MerchantID,
		nullableTime(tx),
		deviceID,
		deviceIP,
		lat,
		lon,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (s *PostgresTransactionStore) ListRecent(ctx context.Context, limit int) ([]*model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT raw_payload
		FROM transactions
		ORDER BY received_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*model.Transaction
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var tx model.Transaction
		if err := json.Unmarshal(payload, &tx); err != nil {
			continue
		}
		result = append(result, &tx)
	}
	return result, rows.Err()
}

func nullableTime(tx *model.Transaction) interface{} {
	if ts, ok := tx.OccurredAt(); ok {
		return ts
	}
	return nil
}
