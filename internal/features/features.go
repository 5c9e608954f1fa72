// Package features assembles the fixed-order input vector for the external
// scoring model. It is a read-mostly consumer of signal state the decision
// engine already updated: it must never mutate the store a second time, and
// its failure never blocks decisioning.
package features

import (
	"context"
	"fmt"
	"time"

	"github.com/frauddesk/sentinel/internal/model"
	"github.com/frauddesk/sentinel/internal/rules"
	"github.com/frauddesk/sentinel/internal/signals"
)

// Vector holds the model input features. Field order is the model contract;
// Values returns them in exactly this order.
type Vector struct {
	Amount              float64 `json:"amount"`
	HourOfDay           int     `json:"hour_of_day"`
	TxCountWindow       int64   `json:"tx_count_60s"`
	SpendDeviationRatio float64 `json:"spend_deviation_ratio"`
	RequiredSpeedKmph   float64 `json:"required_speed_kmph"`
	IsNewDevice         int     `json:"is_new_device"`
	IsNewIP             int     `json:"is_new_ip"`
	RuleBurst           int     `json:"rule_burst_60s"`
	RuleSpendSpike      int     `json:"rule_spend_spike"`
	RuleNewDevice       int     `json:"rule_new_device"`
	RuleNewIP           int     `json:"rule_new_ip"`
	RuleGeoImpossible   int     `json:"rule_geo_impossible"`
	RuleOddHour         int     `json:"rule_odd_hour"`
	RuleScore           float64 `json:"rule_score"`
	Currency            string  `json:"currency"`
}

// Values returns the feature values in contract order. Currency stays a
// string: the model treats it as a categorical.
func (v *Vector) Values() []any {
	return []any{
		v.Amount,
		v.HourOfDay,
		v.TxCountWindow,
		v.SpendDeviationRatio,
		v.RequiredSpeedKmph,
		v.IsNewDevice,
		v.IsNewIP,
		v.RuleBurst,
		v.RuleSpendSpike,
		v.RuleNewDevice,
		v.RuleNewIP,
		v.RuleGeoImpossible,
		v.RuleOddHour,
		v.RuleScore,
		v.Currency,
	}
}

// Observations carries the mutation-derived values the decision engine saw
// during its stateful pass. Re-deriving them here would either mutate the
// store again (novelty inserts) or read back state the engine just
// overwrote (last location), so they are captured once and handed over.
type Observations struct {
	FirstSeenDevice bool
	FirstSeenIP     bool
	SpeedKmph       float64
}

// Builder assembles vectors from a transaction and its engine observations.
type Builder struct {
	store       *signals.Store
	burstWindow time.Duration
}

// NewBuilder creates a feature builder over the shared signal store.
func NewBuilder(store *signals.Store, burstWindow time.Duration) *Builder {
	return &Builder{store: store, burstWindow: burstWindow}
}

// Build assembles the feature vector. Count and median are read-only store
// reads over the state the engine already updated; everything else comes
// from the transaction, the base rule result, and the observations.
func (b *Builder) Build(ctx context.Context, tx *model.Transaction, now time.Time, ruleScore float64, reasons []string, obs Observations) (*Vector, error) {
	hour := now.UTC().Hour()
	if ts, ok := tx.OccurredAt(); ok {
		hour = ts.UTC().Hour()
	}

	count, err := b.store.CountRecent(ctx, tx.UserID, now, b.burstWindow)
	if err != nil {
		return nil, fmt.Errorf("recent count: %w", err)
	}

	median, err := b.store.MedianAmount(ctx, tx.UserID)
	if err != nil {
		return nil, fmt.Errorf("median amount: %w", err)
	}
	deviation := 0.0
	if median > 0 {
		deviation = tx.Amount/median - 1.0
	}

	currency := tx.Currency
	if currency == "" {
		currency = "USD"
	}

	return &Vector{
		Amount:              tx.Amount,
		HourOfDay:           hour,
		TxCountWindow:       count,
		SpendDeviationRatio: deviation,
		RequiredSpeedKmph:   obs.SpeedKmph,
		IsNewDevice:         boolToInt(obs.FirstSeenDevice),
		IsNewIP:             boolToInt(obs.FirstSeenIP),
		RuleBurst:           boolToInt(hasBurstReason(reasons)),
		RuleSpendSpike:      boolToInt(contains(reasons, rules.ReasonSpendSpike)),
		RuleNewDevice:       boolToInt(contains(reasons, rules.ReasonNewDevice)),
		RuleNewIP:           boolToInt(contains(reasons, rules.ReasonNewIP)),
		RuleGeoImpossible:   boolToInt(contains(reasons, rules.ReasonGeoImpossible)),
		RuleOddHour:         boolToInt(hour >= 0 && hour <= 5),
		RuleScore:           ruleScore,
		Currency:            currency,
	}, nil
}

func hasBurstReason(reasons []string) bool {
	for _, r := range reasons {
		if len(r) > 6 && r[:6] == "burst_" {
			return true
		}
	}
	return false
}

func contains(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
