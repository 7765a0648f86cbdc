package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every knob the service reads from the environment.
type Config struct {
	Addr   string
	PGDSN  string
	Redis  string
	JWTKey string

	BaseURL string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ConfirmTTL time.Duration
	UnlockTTL  time.Duration
	ResetTTL   time.Duration

	LockoutThreshold int

	KafkaBrokers []string
	KafkaTopic   string

	CaptchaSecret string
	CaptchaURL    string

	LogLevel string
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Addr:             envOr("IDENTRA_ADDR", ":8080"),
		PGDSN:            os.Getenv("IDENTRA_PG_DSN"),
		Redis:            os.Getenv("IDENTRA_REDIS_ADDR"),
		JWTKey:           os.Getenv("IDENTRA_JWT_SECRET"),
		BaseURL:          envOr("IDENTRA_BASE_URL", "http://localhost:8080"),
		AccessTTL:        envDuration("IDENTRA_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:       envDuration("IDENTRA_REFRESH_TTL", 14*24*time.Hour),
		ConfirmTTL:       envDuration("IDENTRA_CONFIRM_TTL", 24*time.Hour),
		UnlockTTL:        envDuration("IDENTRA_UNLOCK_TTL", 24*time.Hour),
		ResetTTL:         envDuration("IDENTRA_RESET_TTL", 30*time.Minute),
		LockoutThreshold: envInt("IDENTRA_LOCKOUT_THRESHOLD", 3),
		KafkaTopic:       envOr("IDENTRA_KAFKA_TOPIC", "identra.notifications"),
		CaptchaSecret:    os.Getenv("IDENTRA_CAPTCHA_SECRET"),
		CaptchaURL:       os.Getenv("IDENTRA_CAPTCHA_URL"),
		LogLevel:         envOr("IDENTRA_LOG_LEVEL", "info"),
	}

	if brokers := strings.TrimSpace(os.Getenv("IDENTRA_KAFKA_BROKERS")); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.JWTKey) == "" {
		return errors.New("config: IDENTRA_JWT_SECRET is required")
	}
	if len(c.JWTKey) < 32 {
		return errors.New("config: IDENTRA_JWT_SECRET must be at least 32 bytes")
	}
	if c.LockoutThreshold < 1 {
		return errors.New("config: IDENTRA_LOCKOUT_THRESHOLD must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
