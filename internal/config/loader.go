package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "conductor.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CONDUCTOR_PORT")
	setString(&cfg.Server.CORSOrigin, "CONDUCTOR_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONDUCTOR_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONDUCTOR_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONDUCTOR_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONDUCTOR_PG_MAX_CONN_IDLE_TIME")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Progress.Backend, "CONDUCTOR_PROGRESS_BACKEND")
	setString(&cfg.Logging.Level, "CONDUCTOR_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONDUCTOR_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONDUCTOR_LOG_ASYNC")

	setString(&cfg.Pipeline.WorkingDir, "CONDUCTOR_WORKING_DIR")
	setInt(&cfg.Pipeline.MaxTokens, "CONDUCTOR_MAX_TOKENS")
	setFloat64(&cfg.Pipeline.Temperature, "CONDUCTOR_TEMPERATURE")
	setDuration(&cfg.Pipeline.WaitPollInterval, "CONDUCTOR_WAIT_POLL_INTERVAL")
	setInt(&cfg.Pipeline.ImplementationMax, "IMPLEMENTATION_MAX_RETRIES")
	setInt(&cfg.Pipeline.QualityMax, "QUALITY_MAX_RETRIES")
	setInt(&cfg.Pipeline.TestingMax, "TESTING_MAX_RETRIES")

	setString(&cfg.Bridge.FIFOName, "CONDUCTOR_FIFO_NAME")
	setDuration(&cfg.Bridge.Grace, "CONDUCTOR_BRIDGE_GRACE")
	setString(&cfg.Bridge.CompanionURL, "CONDUCTOR_COMPANION_URL")
	setInt(&cfg.Bridge.ProbeLimit, "CONDUCTOR_PROBE_LIMIT")
	setDuration(&cfg.Bridge.ProbeBackoff, "CONDUCTOR_PROBE_BACKOFF")

	setString(&cfg.Templates.RootDir, "CONDUCTOR_TEMPLATE_DIR")
	setInt64(&cfg.Templates.CacheSizeMB, "CONDUCTOR_TEMPLATE_CACHE_MB")
	setDuration(&cfg.Templates.CacheTTL, "CONDUCTOR_TEMPLATE_CACHE_TTL")

	setDuration(&cfg.Health.Interval, "CONDUCTOR_HEALTH_INTERVAL")
	setDuration(&cfg.Health.Timeout, "CONDUCTOR_HEALTH_TIMEOUT")
	setInt(&cfg.Health.HistoryLimit, "CONDUCTOR_HEALTH_HISTORY_LIMIT")
	setInt(&cfg.Health.UnhealthyThreshold, "CONDUCTOR_HEALTH_UNHEALTHY_THRESHOLD")

	setString(&cfg.CodeHost.BaseURL, "CONDUCTOR_GITEA_URL")
	setString(&cfg.CodeHost.Token, "GITEA_TOKEN")

	setString(&cfg.Notify.SlackWebhookURL, "CONDUCTOR_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "CONDUCTOR_DISCORD_WEBHOOK_URL")

	setBool(&cfg.Telemetry.Enabled, "CONDUCTOR_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	switch cfg.Progress.Backend {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "natskv":
	default:
		return fmt.Errorf("progress.backend must be postgres or natskv, got %q", cfg.Progress.Backend)
	}
	if cfg.Health.UnhealthyThreshold < 1 {
		return errors.New("health.unhealthy_threshold must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
