package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "SENTINEL_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SENTINEL_SECTION_FIELD (e.g., SENTINEL_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefaultConfig()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	// Store overrides
	envString("STORE_BACKEND", &cfg.Store.Backend)
	envString("STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)
	envString("STORE_REDIS_URL", &cfg.Store.Redis.URL)
	envString("STORE_REDIS_KEY_PREFIX", &cfg.Store.Redis.KeyPrefix)

	// Audit overrides
	envString("AUDIT_BACKEND", &cfg.Audit.Backend)
	envString("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	envString("AUDIT_POSTGRES_HOST", &cfg.Audit.Postgres.Host)
	envInt("AUDIT_POSTGRES_PORT", &cfg.Audit.Postgres.Port)
	envString("AUDIT_POSTGRES_DATABASE", &cfg.Audit.Postgres.Database)
	envString("AUDIT_POSTGRES_USER", &cfg.Audit.Postgres.User)
	envString("AUDIT_POSTGRES_PASSWORD", &cfg.Audit.Postgres.Password)
	envString("AUDIT_POSTGRES_SSL_MODE", &cfg.Audit.Postgres.SSLMode)
	envDuration("AUDIT_WRITE_TIMEOUT", &cfg.Audit.WriteTimeout)
	envBool("AUDIT_REDACT_PII", &cfg.Audit.RedactPII)

	// Policy overrides
	envString("POLICY_POLICY_ID", &cfg.Policy.PolicyID)
	envBool("POLICY_FALLBACK_TO_DEFAULT", &cfg.Policy.FallbackToDefault)
	envString("POLICY_FILE_PATH", &cfg.Policy.FilePath)
	envBool("POLICY_WATCH", &cfg.Policy.Watch)
	envBool("POLICY_GIT_ENABLED", &cfg.Policy.Git.Enabled)
	envString("POLICY_GIT_REPOSITORY", &cfg.Policy.Git.Repository)
	envString("POLICY_GIT_BRANCH", &cfg.Policy.Git.Branch)
	envString("POLICY_GIT_PATH", &cfg.Policy.Git.Path)
	envString("POLICY_GIT_AUTH_TYPE", &cfg.Policy.Git.Auth.Type)
	envString("POLICY_GIT_AUTH_TOKEN", &cfg.Policy.Git.Auth.Token)
	envDuration("POLICY_GIT_POLL_INTERVAL", &cfg.Policy.Git.PollInterval)

	envDuration("ENFORCEMENT_TIMEOUT", &cfg.Enforcement.Timeout)

	// Notify overrides
	envBool("NOTIFY_SLACK_ENABLED", &cfg.Notify.Slack.Enabled)
	envString("NOTIFY_SLACK_WEBHOOK_URL", &cfg.Notify.Slack.WebhookURL)
	envBool("NOTIFY_EMAIL_ENABLED", &cfg.Notify.Email.Enabled)
	envString("NOTIFY_EMAIL_SMTP_HOST", &cfg.Notify.Email.SMTPHost)
	envInt("NOTIFY_EMAIL_SMTP_PORT", &cfg.Notify.Email.SMTPPort)
	envString("NOTIFY_EMAIL_USERNAME", &cfg.Notify.Email.Username)
	envString("NOTIFY_EMAIL_PASSWORD", &cfg.Notify.Email.Password)
	envString("NOTIFY_EMAIL_FROM", &cfg.Notify.Email.From)
	if val := os.Getenv(EnvPrefix + "NOTIFY_EMAIL_TO"); val != "" {
		cfg.Notify.Email.To = splitList(val)
	}

	// Tuning overrides
	envBool("TUNING_ENABLED", &cfg.Tuning.Enabled)
	envString("TUNING_ORIGIN", &cfg.Tuning.Origin)
	envDuration("TUNING_TIMEOUT", &cfg.Tuning.Timeout)

	// Scheduler and ingest overrides
	envBool("SCHEDULER_ENABLED", &cfg.Scheduler.Enabled)
	envString("SCHEDULER_ROLLUP_SCHEDULE", &cfg.Scheduler.RollupSchedule)
	envString("SCHEDULER_DRIFT_SCHEDULE", &cfg.Scheduler.DriftSchedule)
	envBool("INGEST_ENABLED", &cfg.Ingest.Enabled)
	envString("INGEST_URL", &cfg.Ingest.URL)
	envString("INGEST_SNAPSHOT_SUBJECT", &cfg.Ingest.SnapshotSubject)
	envString("INGEST_EVENT_SUBJECT", &cfg.Ingest.EventSubject)
	envString("INGEST_QUEUE_GROUP", &cfg.Ingest.QueueGroup)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
