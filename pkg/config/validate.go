package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validatePolicy(&cfg.Policy)...)
	errs = append(errs, validateNotify(&cfg.Notify)...)
	errs = append(errs, validateTuning(&cfg.Tuning)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if cfg.Enforcement.Timeout < 0 {
		errs = append(errs, FieldError{Field: "enforcement.timeout", Message: "timeout must not be negative"})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if !strings.Contains(cfg.ListenAddress, ":") {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: must be host:port", cfg.ListenAddress),
		})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must not be negative"})
	}
	if t := cfg.TLS; t.Enabled {
		if t.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "required when TLS is enabled"})
		}
		if t.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "required when TLS is enabled"})
		}
		if t.MinVersion != "" && t.MinVersion != "1.2" && t.MinVersion != "1.3" {
			errs = append(errs, FieldError{
				Field:   "server.tls.min_version",
				Message: fmt.Sprintf("unsupported TLS version %q: must be 1.2 or 1.3", t.MinVersion),
			})
		}
	}

	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "store.sqlite.path", Message: "path is required when backend is 'sqlite'"})
		}
	case "redis":
		if _, err := url.Parse(cfg.Redis.URL); err != nil || cfg.Redis.URL == "" {
			errs = append(errs, FieldError{Field: "store.redis.url", Message: fmt.Sprintf("invalid redis url %q", cfg.Redis.URL)})
		}
		if cfg.Redis.MaxRetries < 0 {
			errs = append(errs, FieldError{Field: "store.redis.max_retries", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'sqlite', or 'redis'", cfg.Backend),
		})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "path is required when backend is 'sqlite'"})
		}
	case "postgres":
		if cfg.Postgres.Host == "" {
			errs = append(errs, FieldError{Field: "audit.postgres.host", Message: "host is required when backend is 'postgres'"})
		}
		if cfg.Postgres.Database == "" {
			errs = append(errs, FieldError{Field: "audit.postgres.database", Message: "database is required when backend is 'postgres'"})
		}
		validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
		if !validSSL[cfg.Postgres.SSLMode] {
			errs = append(errs, FieldError{
				Field:   "audit.postgres.ssl_mode",
				Message: fmt.Sprintf("invalid ssl mode %q", cfg.Postgres.SSLMode),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'sqlite', or 'postgres'", cfg.Backend),
		})
	}

	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "audit.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		errs = append(errs, FieldError{Field: "audit.query.default_limit", Message: "default limit must not exceed max limit"})
	}

	return errs
}

func validatePolicy(cfg *PolicyConfig) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(cfg.PolicyID) == "" {
		errs = append(errs, FieldError{Field: "policy.policy_id", Message: "policy id is required"})
	}
	if cfg.Watch && cfg.FilePath == "" {
		errs = append(errs, FieldError{Field: "policy.file_path", Message: "file path is required when watch is enabled"})
	}

	if cfg.Git.Enabled {
		if cfg.Git.Repository == "" {
			errs = append(errs, FieldError{Field: "policy.git.repository", Message: "repository is required when git is enabled"})
		}
		switch cfg.Git.Auth.Type {
		case "none":
		case "token":
			if cfg.Git.Auth.Token == "" {
				errs = append(errs, FieldError{Field: "policy.git.auth.token", Message: "token is required for token auth"})
			}
		case "ssh":
			if cfg.Git.Auth.SSHKeyPath == "" {
				errs = append(errs, FieldError{Field: "policy.git.auth.ssh_key_path", Message: "ssh key path is required for ssh auth"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   "policy.git.auth.type",
				Message: fmt.Sprintf("invalid auth type %q: must be 'token', 'ssh', or 'none'", cfg.Git.Auth.Type),
			})
		}
		if cfg.Git.PollInterval <= 0 {
			errs = append(errs, FieldError{Field: "policy.git.poll_interval", Message: "poll interval must be positive"})
		}
	}

	return errs
}

func validateNotify(cfg *NotifyConfig) []FieldError {
	var errs []FieldError

	if cfg.Slack.Enabled {
		if u, err := url.Parse(cfg.Slack.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{Field: "notify.slack.webhook_url", Message: "a valid webhook url is required when slack is enabled"})
		}
	}
	if cfg.Email.Enabled {
		if cfg.Email.SMTPHost == "" {
			errs = append(errs, FieldError{Field: "notify.email.smtp_host", Message: "smtp host is required when email is enabled"})
		}
		if cfg.Email.From == "" {
			errs = append(errs, FieldError{Field: "notify.email.from", Message: "sender is required when email is enabled"})
		}
		if len(cfg.Email.To) == 0 {
			errs = append(errs, FieldError{Field: "notify.email.to", Message: "at least one recipient is required when email is enabled"})
		}
	}
	if cfg.RateLimit.PerMinute < 0 || cfg.RateLimit.Burst < 0 {
		errs = append(errs, FieldError{Field: "notify.rate_limit", Message: "rate limits must not be negative"})
	}

	return errs
}

func validateTuning(cfg *TuningConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	if u, err := url.Parse(cfg.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		return []FieldError{{Field: "tuning.origin", Message: "a valid origin url is required when tuning is enabled"}}
	}
	return nil
}

func validateScheduler(cfg *SchedulerConfig) []FieldError {
	var errs []FieldError

	if _, err := cron.ParseStandard(cfg.RollupSchedule); err != nil {
		errs = append(errs, FieldError{Field: "scheduler.rollup_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}
	if _, err := cron.ParseStandard(cfg.DriftSchedule); err != nil {
		errs = append(errs, FieldError{Field: "scheduler.drift_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "tracing endpoint is required when tracing is enabled"})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("invalid sampler %q", cfg.Tracing.Sampler)})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0.0 and 1.0"})
	}

	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.liveness_path", Message: "liveness path must start with /"})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.readiness_path", Message: "readiness path must start with /"})
	}

	return errs
}
