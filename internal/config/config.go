// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MedGAN-AI/price-pilot/internal/worker"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	CORSOrigins  []string
	StoreDriver  string // "sqlite" or "memory"
	DBPath       string
	WorkflowFile string // optional YAML catalog merged over the built-in workflows
	LogLevel     slog.Level

	SessionTTL       time.Duration
	EvictionInterval time.Duration
	TurnTimeout      time.Duration
	MaxFanOut        int
	ConfidenceFloor  float64

	RateLimitRPS        float64
	RateLimitBurst      int
	MaxRequestBodyBytes int64

	ConversationLog ConversationLogConfig
	Workers         map[string]WorkerConfig
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// WorkerConfig is the endpoint and call policy of one worker.
type WorkerConfig struct {
	URL           string
	Timeout       time.Duration
	MaxRetries    int
	SideEffecting bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		DBPath:       getEnv("DB_PATH", "./data/pricepilot.db"),
		WorkflowFile: getEnv("WORKFLOWS_FILE", ""),
		LogLevel:     parseLevel(getEnv("LOG_LEVEL", "info")),

		SessionTTL:       getEnvDuration("SESSION_TTL", 30*time.Minute),
		EvictionInterval: getEnvDuration("EVICTION_INTERVAL", time.Minute),
		TurnTimeout:      getEnvDuration("TURN_TIMEOUT", 30*time.Second),
		MaxFanOut:        getEnvInt("MAX_FAN_OUT", 4),
		ConfidenceFloor:  getEnvFloat("CONFIDENCE_FLOOR", 0.55),

		RateLimitRPS:        getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 10),
		MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),

		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		Workers: loadWorkers(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadWorkers reads WORKER_<NAME>_URL, _TIMEOUT and _RETRIES for every
// known worker. SIDE_EFFECTING_WORKERS lists the workers that receive
// idempotency keys.
func loadWorkers() map[string]WorkerConfig {
	sideEffecting := map[string]bool{}
	for _, name := range splitList(getEnv("SIDE_EFFECTING_WORKERS", "order")) {
		sideEffecting[strings.ToLower(name)] = true
	}

	out := make(map[string]WorkerConfig, len(worker.Names()))
	for _, name := range worker.Names() {
		def := worker.DefaultConfig(name)
		prefix := "WORKER_" + strings.ToUpper(name) + "_"
		out[name] = WorkerConfig{
			URL:           strings.TrimSpace(getEnv(prefix+"URL", "")),
			Timeout:       getEnvDuration(prefix+"TIMEOUT", def.Timeout),
			MaxRetries:    getEnvInt(prefix+"RETRIES", def.MaxRetries),
			SideEffecting: sideEffecting[name],
		}
	}
	return out
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite or memory, got %q", c.StoreDriver)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.EvictionInterval <= 0 {
		return fmt.Errorf("EVICTION_INTERVAL must be > 0")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be > 0")
	}
	if c.MaxFanOut <= 0 {
		return fmt.Errorf("MAX_FAN_OUT must be > 0")
	}
	if c.ConfidenceFloor <= 0 || c.ConfidenceFloor >= 1 {
		return fmt.Errorf("CONFIDENCE_FLOOR must be between 0 and 1")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST cannot be negative")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	for name, w := range c.Workers {
		if w.Timeout <= 0 {
			return fmt.Errorf("WORKER_%s_TIMEOUT must be > 0", strings.ToUpper(name))
		}
		if w.MaxRetries < 0 {
			return fmt.Errorf("WORKER_%s_RETRIES cannot be negative", strings.ToUpper(name))
		}
	}
	return nil
}

// IsDevelopment returns true if CORS is open to localhost only.
func (c *Config) IsDevelopment() bool {
	for _, o := range c.CORSOrigins {
		if !strings.Contains(o, "localhost") && !strings.Contains(o, "127.0.0.1") {
			return false
		}
	}
	return true
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("45s", "2m") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(v string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
