package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the escrow service.
// It merges file defaults and environment overrides to support both local
// and deployed runs.
type Config struct {
	HTTPPort    int
	DatabaseURL string
	JWTSecret   string

	KafkaBrokers []string
	KafkaTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	RegistryOwner  string
	PlatformFeeBps int32
	DisputeStake   *big.Int

	ShutdownTimeout time.Duration
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		HTTPPort int `yaml:"http_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Registry struct {
		Owner          string `yaml:"owner"`
		PlatformFeeBps int32  `yaml:"platform_fee_bps"`
		DisputeStake   string `yaml:"dispute_stake"`
	} `yaml:"registry"`
}

// Load resolves configuration in priority order: defaults -> file -> env.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPPort:           8080,
		KafkaTopic:         "escrow-events",
		OutboxPollInterval: 2 * time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  10,
		PlatformFeeBps:     250,
		DisputeStake:       new(big.Int),
		ShutdownTimeout:    10 * time.Second,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("config: parse file: %w", unmarshalErr)
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
		}
		if f.Dependencies.KafkaTopic != "" {
			cfg.KafkaTopic = f.Dependencies.KafkaTopic
		}
		if f.Registry.Owner != "" {
			cfg.RegistryOwner = f.Registry.Owner
		}
		if f.Registry.PlatformFeeBps > 0 {
			cfg.PlatformFeeBps = f.Registry.PlatformFeeBps
		}
		if f.Registry.DisputeStake != "" {
			stake, ok := new(big.Int).SetString(f.Registry.DisputeStake, 10)
			if !ok {
				return Config{}, fmt.Errorf("config: invalid dispute_stake %q", f.Registry.DisputeStake)
			}
			cfg.DisputeStake = stake
		}
	}

	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.RegistryOwner = envOrDefault("REGISTRY_OWNER", cfg.RegistryOwner)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = envInt("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.ShutdownTimeout = time.Duration(envInt("SHUTDOWN_TIMEOUT_SECONDS", int(cfg.ShutdownTimeout.Seconds()))) * time.Second

	if raw := os.Getenv("PLATFORM_FEE_BPS"); raw != "" {
		bps, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid PLATFORM_FEE_BPS %q", raw)
		}
		cfg.PlatformFeeBps = int32(bps)
	}
	if raw := os.Getenv("DISPUTE_STAKE"); raw != "" {
		stake, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return Config{}, fmt.Errorf("config: invalid DISPUTE_STAKE %q", raw)
		}
		cfg.DisputeStake = stake
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: missing DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: missing JWT_SECRET")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
