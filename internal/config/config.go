package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the startup configuration of the gateway.
type Config struct {
	HTTPAddr string
	LogLevel string

	// Node scan service: postCTG and scan counters.
	ScanAPIURL string
	// Prediction service: predict and analysis history.
	PredictAPIURL string
	// Zero means outbound calls have no client-side deadline.
	OutboundTimeout time.Duration

	RedisAddr      string
	HandoffTTL     time.Duration
	SessionIdleTTL time.Duration

	CameraSnapshotURL string

	BreakerEnabled      bool
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ScanAPIURL:      strings.TrimRight(getEnv("SCAN_API_URL", ""), "/"),
		PredictAPIURL:   strings.TrimRight(getEnv("PREDICT_API_URL", ""), "/"),
		OutboundTimeout: getEnvDuration("OUTBOUND_TIMEOUT", 0),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		HandoffTTL:     getEnvDuration("HANDOFF_TTL", 10*time.Minute),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),

		CameraSnapshotURL: getEnv("CAMERA_SNAPSHOT_URL", ""),

		BreakerEnabled:      getEnvBool("BREAKER_ENABLED", true),
		BreakerMinRequests:  uint32(getEnvInt("BREAKER_MIN_REQUESTS", 5)),
		BreakerFailureRatio: getEnvFloat("BREAKER_FAILURE_RATIO", 0.6),
		BreakerOpenTimeout:  getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that have no usable default.
func (c Config) Validate() error {
	if err := validateBaseURL("SCAN_API_URL", c.ScanAPIURL); err != nil {
		return err
	}
	if err := validateBaseURL("PREDICT_API_URL", c.PredictAPIURL); err != nil {
		return err
	}
	if c.CameraSnapshotURL != "" {
		if err := validateBaseURL("CAMERA_SNAPSHOT_URL", c.CameraSnapshotURL); err != nil {
			return err
		}
	}
	if c.HandoffTTL <= 0 {
		return fmt.Errorf("HANDOFF_TTL must be positive")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	return nil
}

func validateBaseURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		log.Printf("Warning: failed to parse %s as non-negative int, using default: %v", key, err)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return fallback
	}
	return d
}
