package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures all tunable parameters for the rider client process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ClientConfig struct {
	APIBaseURL  string
	HTTPTimeout time.Duration

	PollInterval     time.Duration
	SearchTimeout    time.Duration
	HandoffDelay     time.Duration
	SimTick          time.Duration
	SimSpeedMps      float64
	FallbackSpeedMps float64

	StatusAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	PGDSN string

	KafkaBrokers []string
	KafkaTopic   string

	StripeAPIKey string

	LogLevel      string
	RunMigrations bool
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		APIBaseURL:       "http://localhost:8080",
		HTTPTimeout:      10 * time.Second,
		PollInterval:     5 * time.Second,
		SearchTimeout:    180 * time.Second,
		HandoffDelay:     2 * time.Second,
		SimTick:          time.Second,
		SimSpeedMps:      8,
		FallbackSpeedMps: 8.33, // ~30 km/h city average
		StatusAddr:       ":7180",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		KafkaTopic:       "ride-events",
		LogLevel:         "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setDurationFromEnv(&cfg.HTTPTimeout, "HTTP_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SearchTimeout, "SEARCH_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.HandoffDelay, "HANDOFF_DELAY", &errs)
	setDurationFromEnv(&cfg.SimTick, "SIM_TICK", &errs)
	setFloatFromEnv(&cfg.SimSpeedMps, "SIM_SPEED_MPS", &errs)
	setFloatFromEnv(&cfg.FallbackSpeedMps, "FALLBACK_SPEED_MPS", &errs)

	setStringFromEnv(&cfg.StatusAddr, "STATUS_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}
	if cfg.SearchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_TIMEOUT must be > 0"))
	}
	if cfg.SimTick <= 0 {
		errs = append(errs, fmt.Errorf("SIM_TICK must be > 0"))
	}
	if cfg.FallbackSpeedMps <= 0 {
		errs = append(errs, fmt.Errorf("FALLBACK_SPEED_MPS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
