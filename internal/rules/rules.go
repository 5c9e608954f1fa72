// Package rules implements the stateless half of fraud scoring: a pure,
// deterministic evaluation of a single transaction with no history and no
// I/O. Stateful signals (burst, spend spike, novelty, geo) are layered on
// top by the engine package.
package rules

import (
	"strings"

	"github.com/frauddesk/sentinel/internal/model"
)

// Reason codes attached to decisions. Stable strings: downstream consumers
// and the feature builder match on them.
const (
	ReasonHighAmount    = "high_amount"
	ReasonInvalidAmount = "invalid_amount"
	ReasonBadCurrency   = "bad_currency"
	ReasonTestMerchant  = "test_merchant"
	ReasonNightTime     = "night_time"
	ReasonSpendSpike    = "spend_spike"
	ReasonNewDevice     = "new_device"
	ReasonNewIP         = "new_ip"
	ReasonGeoImpossible = "geo_impossible"
)

const (
	highAmountThreshold = 1000.0
	highAmountScore     = 60.0
	invalidAmountScore  = 100.0
	badCurrencyScore    = 40.0
	testMerchantScore   = 30.0
	nightTimeScore      = 20.0

	nightStartHour = 0
	nightEndHour   = 5
)

// Result carries the base score and the reasons that fired, in firing order.
type Result struct {
	Score   float64
	Reasons []string
}

// Evaluate scores a transaction on stateless rules alone. The returned
// score is clamped to [0, 100] independently of any stateful additions the
// engine merges later. An unparseable timestamp silently skips the
// night-time rule.
func Evaluate(tx *model.Transaction) Result {
	var score float64
	var reasons []string

	if tx.Amount >= highAmountThreshold {
		score += highAmountScore
		reasons = append(reasons, ReasonHighAmount)
	}

	// Forces the score, it does not merely add.
	if tx.Amount <= 0 {
		score = invalidAmountScore
		reasons = append(reasons, ReasonInvalidAmount)
	}

	if len(tx.Currency) != 3 {
		score += badCurrencyScore
		reasons = append(reasons, ReasonBadCurrency)
	}

	if strings.HasPrefix(tx.MerchantID, "test-") {
		score += testMerchantScore
		reasons = append(reasons, ReasonTestMerchant)
	}

	if ts, ok := tx.OccurredAt(); ok {
		hour := ts.UTC().Hour()
		if hour >= nightStartHour && hour <= nightEndHour {
			score += nightTimeScore
			reasons = append(reasons, ReasonNightTime)
		}
	}

	if score > 100 {
		score = 100
	}
	return Result{Score: score, Reasons: reasons}
}

// Classify maps a merged score to a decision label. Thresholds are
// inclusive: a score exactly at blockThreshold blocks.
func Classify(score, reviewThreshold, blockThreshold float64) model.Label {
	switch {
	case score >= blockThreshold:
		return model.LabelBlock
	case score >= reviewThreshold:
		return model.LabelReview
	default:
		return model.LabelAllow
	}
}
