// Package engine orchestrates fraud decisioning for one transaction at a
// time: dedupe check, stateless rule evaluation, stateful signal pass,
// clamp, classify, emit.
//
// Transactions arrive partitioned by user id, so all same-user processing
// is serialized by the transport and the signal store never sees same-user
// races in steady state. Signal updates are not transactional with decision
// emission: a crash mid-pipeline leaves state slightly ahead of decisions,
// which is accepted: it can under-count on the next transaction, never
// wrongly deny. The dedupe check is exists-then-process, not a
// compare-and-swap; the narrow double-processing window under consumer
// rebalance replay is a known, accepted at-least-once edge case.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frauddesk/sentinel/internal/config"
	"github.com/frauddesk/sentinel/internal/features"
	"github.com/frauddesk/sentinel/internal/logging"
	"github.com/frauddesk/sentinel/internal/metrics"
	"github.com/frauddesk/sentinel/internal/model"
	"github.com/frauddesk/sentinel/internal/rules"
	"github.com/frauddesk/sentinel/internal/signals"
	"github.com/frauddesk/sentinel/internal/store"
	"github.com/frauddesk/sentinel/internal/traces"
)

// Publisher emits decisions to the outbound stream, keyed by user id.
type Publisher interface {
	Publish(ctx context.Context, d *model.Decision) error
}

// Processor is the per-transaction decision pipeline.
type Processor struct {
	cfg       config.Rules
	signals   *signals.Store
	decisions store.DecisionStore
	txs       store.TransactionStore
	publisher Publisher
	builder   *features.Builder
	sink      features.Sink
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor wires the pipeline. cfg must already be validated; publisher
// may be nil (decisions are then only persisted), txs may be nil (no audit
// trail), and builder/sink may be nil (feature export disabled).
func NewProcessor(cfg config.Rules, sig *signals.Store, decisions store.DecisionStore, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:       cfg,
		signals:   sig,
		decisions: decisions,
		logger:    logger,
		now:       time.Now,
	}
}

// WithPublisher sets the outbound decision publisher.
func (p *Processor) WithPublisher(pub Publisher) *Processor {
	p.publisher = pub
	return p
}

// WithTransactionStore enables the raw transaction audit trail.
func (p *Processor) WithTransactionStore(txs store.TransactionStore) *Processor {
	p.txs = txs
	return p
}

// WithFeatureExport enables the advisory model-feature path.
func (p *Processor) WithFeatureExport(b *features.Builder, sink features.Sink) *Processor {
	p.builder = b
	p.sink = sink
	return p
}

// WithClock overrides the wall clock. Test hook.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process runs the full pipeline for one transaction. A duplicate
// transaction id returns (nil, nil): counted, not an error, and the signal
// store is left untouched. A store failure returns an error so the
// transport can redeliver.
func (p *Processor) Process(ctx context.Context, tx *model.Transaction) (*model.Decision, error) {
	ctx, span := traces.StartSpan(ctx, "engine.Process",
		traces.TransactionID(tx.TransactionID),
		traces.UserID(tx.UserID),
	)
	defer span.End()
	ctx = logging.WithTransactionID(ctx, tx.TransactionID)

	exists, err := p.decisions.Exists(ctx, tx.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("dedupe check: %w", err)
	}
	if exists {
		metrics.DecisionDuplicatesTotal.Inc()
		logging.L(ctx).Debug("duplicate transaction skipped")
		return nil, nil
	}

	started := p.now()

	// Audit trail is best-effort; scoring proceeds without it.
	if p.txs != nil {
		if err := p.txs.Save(ctx, tx); err != nil {
			logging.L(ctx).Error("failed to save transaction", "error", err)
		}
	}

	base := rules.Evaluate(tx)
	score := base.Score
	reasons := append([]string(nil), base.Reasons...)

	now := p.now()
	var obs features.Observations
	score, reasons, err = p.applySignals(ctx, tx, now, score, reasons, &obs)
	if err != nil {
		return nil, err
	}

	if score > 100 {
		score = 100
	}
	label := rules.Classify(score, p.cfg.ReviewThreshold, p.cfg.BlockThreshold)

	latency := p.now().Sub(started)
	decision := &model.Decision{
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Decision:      label,
		Score:         score,
		Reasons:       reasons,
		LatencyMs:     latency.Milliseconds(),
		EvaluatedAt:   p.now(),
	}
	span.SetAttributes(traces.DecisionLabel(string(label)), traces.Score(score))

	// Publish before persisting, mirroring the transport contract: a
	// failed publish leaves the transaction unacknowledged for redelivery,
	// and the idempotent save below absorbs the resulting duplicate.
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, decision); err != nil {
			return nil, fmt.Errorf("publish decision: %w", err)
		}
	}

	if err := p.decisions.Save(ctx, decision); err != nil {
		logging.L(ctx).Error("failed to persist decision", "error", err)
	}

	metrics.DecisionsTotal.WithLabelValues(string(label)).Inc()
	metrics.DecisionLatency.Observe(latency.Seconds())

	p.exportFeatures(ctx, tx, now, base, reasons, obs)

	return decision, nil
}

// applySignals runs the stateful pass in fixed order: burst, spend spike,
// device novelty, IP novelty, geo speed. Order affects only reason-list
// ordering; contributions are additive.
func (p *Processor) applySignals(ctx context.Context, tx *model.Transaction, now time.Time, score float64, reasons []string, obs *features.Observations) (float64, []string, error) {
	userID := tx.UserID

	if err := p.signals.RecordActivity(ctx, userID, now); err != nil {
		return 0, nil, fmt.Errorf("record activity: %w", err)
	}
	count, err := p.signals.CountRecent(ctx, userID, now, p.cfg.BurstWindow())
	if err != nil {
		return 0, nil, fmt.Errorf("count recent: %w", err)
	}
	if count >= p.cfg.BurstCount {
		score += p.cfg.BurstScore
		reasons = append(reasons, fmt.Sprintf("burst_%ds", p.cfg.BurstWindowSec))
	}

	// Compare against the median first, then record: the current
	// transaction must never spend-spike against itself.
	median, err := p.signals.MedianAmount(ctx, userID)
	if err != nil {
		return 0, nil, fmt.Errorf("median amount: %w", err)
	}
	if median > 0 && tx.Amount >= median*p.cfg.SpendMultiplier {
		score += p.cfg.SpendScore
		reasons = append(reasons, rules.ReasonSpendSpike)
	}
	if err := p.signals.RecordAmount(ctx, userID, tx.Amount, p.cfg.SpendHistory); err != nil {
		return 0, nil, fmt.Errorf("record amount: %w", err)
	}

	if tx.Device != nil {
		firstSeen, err := p.signals.RecordDevice(ctx, userID, tx.Device.ID, now)
		if err != nil {
			return 0, nil, fmt.Errorf("record device: %w", err)
		}
		obs.FirstSeenDevice = firstSeen
		recent, err := p.signals.DeviceSeenWithinDays(ctx, userID, tx.Device.ID, now, p.cfg.DeviceNewWithinDays)
		if err != nil {
			return 0, nil, fmt.Errorf("device recency: %w", err)
		}
		if firstSeen || recent {
			score += p.cfg.DeviceScore
			reasons = append(reasons, rules.ReasonNewDevice)
		}

		firstSeenIP, err := p.signals.RecordIP(ctx, userID, tx.Device.IP, now)
		if err != nil {
			return 0, nil, fmt.Errorf("record ip: %w", err)
		}
		obs.FirstSeenIP = firstSeenIP
		recentIP, err := p.signals.IPSeenWithinDays(ctx, userID, tx.Device.IP, now, p.cfg.IPNewWithinDays)
		if err != nil {
			return 0, nil, fmt.Errorf("ip recency: %w", err)
		}
		if firstSeenIP || recentIP {
			score += p.cfg.IPScore
			reasons = append(reasons, rules.ReasonNewIP)
		}
	}

	if tx.HasCoordinates() {
		last, err := p.signals.LastLocation(ctx, userID)
		if err != nil {
			return 0, nil, fmt.Errorf("last location: %w", err)
		}
		if last != nil {
			km := signals.HaversineKm(last.Lat, last.Lon, *tx.Location.Lat, *tx.Location.Lon)
			dt := now.Unix() - last.EpochSec
			if dt < 1 {
				dt = 1 // floor elapsed time, avoids division blow-up
			}
			speed := km / (float64(dt) / 3600.0)
			obs.SpeedKmph = speed
			if speed > p.cfg.GeoMaxSpeedKmph {
				score += p.cfg.GeoScore
				reasons = append(reasons, rules.ReasonGeoImpossible)
			}
		}
		// Overwrite even when the speed check fired, and even on the
		// first location ever: the newest position always wins.
		if err := p.signals.SetLastLocation(ctx, userID, *tx.Location.Lat, *tx.Location.Lon, now); err != nil {
			return 0, nil, fmt.Errorf("set last location: %w", err)
		}
	}

	return score, reasons, nil
}

// exportFeatures runs the advisory model-input path. Never fails the
// decision: errors are logged and counted only.
func (p *Processor) exportFeatures(ctx context.Context, tx *model.Transaction, now time.Time, base rules.Result, reasons []string, obs features.Observations) {
	if p.builder == nil || p.sink == nil {
		return
	}
	vec, err := p.builder.Build(ctx, tx, now, base.Score, reasons, obs)
	if err != nil {
		metrics.FeatureExportErrorsTotal.Inc()
		logging.L(ctx).Warn("feature build failed", "error", err)
		return
	}
	if err := p.sink.Consume(ctx, tx.TransactionID, vec); err != nil {
		metrics.FeatureExportErrorsTotal.Inc()
		logging.L(ctx).Warn("feature delivery failed", "error", err)
	}
}
