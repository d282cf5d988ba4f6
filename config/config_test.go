package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.yaml")
	body := `
service:
  http_port: 9090
dependencies:
  postgres_url: postgres://file-host/escrow
  kafka_brokers: [broker-1:9092, broker-2:9092]
registry:
  owner: 0c1d2e3f-4a5b-4c6d-8e9f-0a1b2c3d4e5f
  platform_fee_bps: 300
  dispute_stake: "1000000000000000000"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://env-host/escrow")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("OUTBOX_POLL_SECONDS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("expected file port 9090, got %d", cfg.HTTPPort)
	}
	// Env wins over file for the database URL.
	if cfg.DatabaseURL != "postgres://env-host/escrow" {
		t.Errorf("expected env database url, got %q", cfg.DatabaseURL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "broker-1:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.PlatformFeeBps != 300 {
		t.Errorf("expected fee 300 bps, got %d", cfg.PlatformFeeBps)
	}
	if cfg.DisputeStake.String() != "1000000000000000000" {
		t.Errorf("unexpected stake %s", cfg.DisputeStake)
	}
	if cfg.OutboxPollInterval != 7*time.Second {
		t.Errorf("expected 7s poll interval, got %v", cfg.OutboxPollInterval)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://somewhere/escrow")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing JWT_SECRET")
	}
}
