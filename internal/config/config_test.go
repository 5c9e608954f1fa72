package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, DefaultInboundTopic, cfg.InboundTopic)
	assert.Equal(t, DefaultDecisionTopic, cfg.DecisionTopic)
	assert.Equal(t, DefaultConsumerGroup, cfg.ConsumerGroup)
	assert.Equal(t, []string{"REVIEW", "BLOCK"}, cfg.AlertDecisions)
	assert.Equal(t, 5*time.Minute, cfg.AlertDedupe)
	assert.Equal(t, DefaultRules(), cfg.Rules)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("RULE_BURST_COUNT", "5")
	t.Setenv("RULE_BLOCK_THRESHOLD", "75")
	t.Setenv("ALERT_DECISIONS", "BLOCK")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, int64(5), cfg.Rules.BurstCount)
	assert.Equal(t, 75.0, cfg.Rules.BlockThreshold)
	assert.Equal(t, []string{"BLOCK"}, cfg.AlertDecisions)
}

func TestLoadRejectsUnknownAlertLabel(t *testing.T) {
	t.Setenv("ALERT_DECISIONS", "BLOCK,MAYBE")

	_, err := Load()
	assert.Error(t, err)
}

func TestRulesValidate(t *testing.T) {
	valid := DefaultRules()
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Rules)
	}{
		{"zero burst window", func(r *Rules) { r.BurstWindowSec = 0 }},
		{"negative burst count", func(r *Rules) { r.BurstCount = -1 }},
		{"zero spend history", func(r *Rules) { r.SpendHistory = 0 }},
		{"zero spend multiplier", func(r *Rules) { r.SpendMultiplier = 0 }},
		{"negative device window", func(r *Rules) { r.DeviceNewWithinDays = -1 }},
		{"zero geo speed", func(r *Rules) { r.GeoMaxSpeedKmph = 0 }},
		{"negative score", func(r *Rules) { r.IPScore = -1 }},
		{"review above block", func(r *Rules) { r.ReviewThreshold = 80 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRules()
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestBurstWindowDuration(t *testing.T) {
	r := DefaultRules()
	r.BurstWindowSec = 90
	assert.Equal(t, 90*time.Second, r.BurstWindow())
}
