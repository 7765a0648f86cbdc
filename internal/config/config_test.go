package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IDENTRA_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.ResetTTL != 30*time.Minute {
		t.Fatalf("unexpected reset ttl: %v", cfg.ResetTTL)
	}
	if cfg.LockoutThreshold != 3 {
		t.Fatalf("unexpected lockout threshold: %d", cfg.LockoutThreshold)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("IDENTRA_JWT_SECRET", "too-short")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestLoadParsesBrokersAndTTL(t *testing.T) {
	t.Setenv("IDENTRA_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("IDENTRA_KAFKA_BROKERS", "broker-1:9092, broker-2:9092 ,")
	t.Setenv("IDENTRA_CONFIRM_TTL", "48h")
	t.Setenv("IDENTRA_REFRESH_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.ConfirmTTL != 48*time.Hour {
		t.Fatalf("unexpected confirm ttl: %v", cfg.ConfirmTTL)
	}
	if cfg.RefreshTTL != 14*24*time.Hour {
		t.Fatalf("bad duration should fall back, got %v", cfg.RefreshTTL)
	}
}
