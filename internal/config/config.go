// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rules holds every tunable threshold, window, and score weight of the
// decision pipeline. One validated structure, injected at construction,
// never scattered constants.
type Rules struct {
	BurstWindowSec int     // sliding window for the burst check
	BurstCount     int64   // transactions in window at or above which burst fires
	BurstScore     float64 // score added when burst fires

	SpendMultiplier float64 // amount >= median * multiplier fires spend_spike
	SpendScore      float64
	SpendHistory    int // bounded amount-history length for the median

	DeviceNewWithinDays int // device first seen within this many days counts as new
	DeviceScore         float64
	IPNewWithinDays     int
	IPScore             float64

	GeoMaxSpeedKmph float64 // implied travel speed strictly above this fires geo_impossible
	GeoScore        float64

	ReviewThreshold float64 // score >= this is at least REVIEW
	BlockThreshold  float64 // score >= this is BLOCK
}

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Shared state backend (optional; in-memory signals when unset)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Persistence (optional; in-memory stores when unset)
	DatabaseURL string

	// Streams
	KafkaBrokers  []string
	InboundTopic  string
	DecisionTopic string
	DeadTopic     string
	ConsumerGroup string

	// Alerts
	SlackWebhookURL  string
	AlertDecisions   []string // decision labels worth alerting on
	AlertDedupe      time.Duration
	AlertPostTimeout time.Duration

	// Feature export (optional; disabled when unset)
	ModelURL string

	// Tracing (optional; no-op when unset)
	OTLPEndpoint string

	Rules Rules
}

// Defaults match the production rollout of the configurable pipeline.
const (
	DefaultPort          = "8081"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultKafkaBrokers  = "localhost:9092"
	DefaultInboundTopic  = "payments.transactions"
	DefaultDecisionTopic = "fraud.decisions"
	DefaultDeadTopic     = "payments.dlq"
	DefaultConsumerGroup = "fraud-engine"
)

// DefaultRules returns the default thresholds and score weights.
func DefaultRules() Rules {
	return Rules{
		BurstWindowSec:      60,
		BurstCount:          3,
		BurstScore:          40,
		SpendMultiplier:     5.0,
		SpendScore:          30,
		SpendHistory:        10,
		DeviceNewWithinDays: 7,
		DeviceScore:         20,
		IPNewWithinDays:     7,
		IPScore:             15,
		GeoMaxSpeedKmph:     900,
		GeoScore:            50,
		ReviewThreshold:     30,
		BlockThreshold:      60,
	}
}

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		RedisAddr:        os.Getenv("REDIS_ADDR"), // Optional, in-memory signals if not set
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          int(getEnvInt64("REDIS_DB", 0)),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", DefaultKafkaBrokers)),
		InboundTopic:     getEnv("TOPIC_IN", DefaultInboundTopic),
		DecisionTopic:    getEnv("TOPIC_OUT", DefaultDecisionTopic),
		DeadTopic:        getEnv("TOPIC_DLQ", DefaultDeadTopic),
		ConsumerGroup:    getEnv("CONSUMER_GROUP", DefaultConsumerGroup),
		SlackWebhookURL:  os.Getenv("SLACK_WEBHOOK_URL"),
		AlertDecisions:   splitList(getEnv("ALERT_DECISIONS", "REVIEW,BLOCK")),
		AlertDedupe:      getEnvDuration("ALERT_DEDUPE_WINDOW", 5*time.Minute),
		AlertPostTimeout: getEnvDuration("ALERT_POST_TIMEOUT", 5*time.Second),
		ModelURL:         os.Getenv("MODEL_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Rules: Rules{
			BurstWindowSec:      int(getEnvInt64("RULE_BURST_WINDOW_SEC", 60)),
			BurstCount:          getEnvInt64("RULE_BURST_COUNT", 3),
			BurstScore:          getEnvFloat("RULE_BURST_SCORE", 40),
			SpendMultiplier:     getEnvFloat("RULE_SPEND_MULTIPLIER", 5.0),
			SpendScore:          getEnvFloat("RULE_SPEND_SCORE", 30),
			SpendHistory:        int(getEnvInt64("RULE_SPEND_HISTORY", 10)),
			DeviceNewWithinDays: int(getEnvInt64("RULE_DEVICE_NEW_DAYS", 7)),
			DeviceScore:         getEnvFloat("RULE_DEVICE_SCORE", 20),
			IPNewWithinDays:     int(getEnvInt64("RULE_IP_NEW_DAYS", 7)),
			IPScore:             getEnvFloat("RULE_IP_SCORE", 15),
			GeoMaxSpeedKmph:     getEnvFloat("RULE_GEO_MAX_SPEED_KMPH", 900),
			GeoScore:            getEnvFloat("RULE_GEO_SCORE", 50),
			ReviewThreshold:     getEnvFloat("RULE_REVIEW_THRESHOLD", 30),
			BlockThreshold:      getEnvFloat("RULE_BLOCK_THRESHOLD", 60),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on configuration that would corrupt scoring at
// runtime. Bad windows are a startup error, not a per-transaction one.
func (c *Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.InboundTopic == "" || c.DecisionTopic == "" || c.DeadTopic == "" {
		return fmt.Errorf("stream topics must not be empty")
	}
	for _, label := range c.AlertDecisions {
		switch label {
		case "ALLOW", "REVIEW", "BLOCK":
		default:
			return fmt.Errorf("ALERT_DECISIONS contains unknown label %q", label)
		}
	}
	return c.Rules.Validate()
}

// Validate rejects windows and caps where zero or negative is meaningless.
func (r Rules) Validate() error {
	if r.BurstWindowSec <= 0 {
		return fmt.Errorf("burst window must be positive, got %d", r.BurstWindowSec)
	}
	if r.BurstCount <= 0 {
		return fmt.Errorf("burst count must be positive, got %d", r.BurstCount)
	}
	if r.SpendHistory <= 0 {
		return fmt.Errorf("spend history size must be positive, got %d", r.SpendHistory)
	}
	if r.SpendMultiplier <= 0 {
		return fmt.Errorf("spend multiplier must be positive, got %f", r.SpendMultiplier)
	}
	if r.DeviceNewWithinDays < 0 || r.IPNewWithinDays < 0 {
		return fmt.Errorf("new-within-days windows must not be negative")
	}
	if r.GeoMaxSpeedKmph <= 0 {
		return fmt.Errorf("geo max speed must be positive, got %f", r.GeoMaxSpeedKmph)
	}
	if r.BurstScore < 0 || r.SpendScore < 0 || r.DeviceScore < 0 || r.IPScore < 0 || r.GeoScore < 0 {
		return fmt.Errorf("rule scores must not be negative")
	}
	if r.ReviewThreshold < 0 || r.BlockThreshold < 0 {
		return fmt.Errorf("decision thresholds must not be negative")
	}
	if r.ReviewThreshold > r.BlockThreshold {
		return fmt.Errorf("review threshold %f exceeds block threshold %f", r.ReviewThreshold, r.BlockThreshold)
	}
	return nil
}

// BurstWindow returns the burst window as a duration.
func (r Rules) BurstWindow() time.Duration {
	return time.Duration(r.BurstWindowSec) * time.Second
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
