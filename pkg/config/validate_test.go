package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(NewDefaultConfig()); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "listen address without port",
			mutate:    func(c *Config) { c.Server.ListenAddress = "localhost" },
			wantField: "server.listen_address",
		},
		{
			name:      "tls without key",
			mutate:    func(c *Config) { c.Server.TLS = TLSConfig{Enabled: true, CertFile: "cert.pem", MinVersion: "1.3"} },
			wantField: "server.tls.key_file",
		},
		{
			name: "tls 1.1",
			mutate: func(c *Config) {
				c.Server.TLS = TLSConfig{Enabled: true, CertFile: "cert.pem", KeyFile: "key.pem", MinVersion: "1.1"}
			},
			wantField: "server.tls.min_version",
		},
		{
			name:      "unknown store backend",
			mutate:    func(c *Config) { c.Store.Backend = "dynamo" },
			wantField: "store.backend",
		},
		{
			name: "postgres audit without host",
			mutate: func(c *Config) {
				c.Audit.Backend = "postgres"
				c.Audit.Postgres.Database = "gov"
			},
			wantField: "audit.postgres.host",
		},
		{
			name: "postgres bad ssl mode",
			mutate: func(c *Config) {
				c.Audit.Backend = "postgres"
				c.Audit.Postgres.Host = "db"
				c.Audit.Postgres.Database = "gov"
				c.Audit.Postgres.SSLMode = "maybe"
			},
			wantField: "audit.postgres.ssl_mode",
		},
		{
			name:      "blank policy id",
			mutate:    func(c *Config) { c.Policy.PolicyID = " " },
			wantField: "policy.policy_id",
		},
		{
			name:      "watch without file",
			mutate:    func(c *Config) { c.Policy.Watch = true },
			wantField: "policy.file_path",
		},
		{
			name: "git token auth without token",
			mutate: func(c *Config) {
				c.Policy.Git.Enabled = true
				c.Policy.Git.Repository = "https://example.com/gov.git"
				c.Policy.Git.Auth.Type = "token"
			},
			wantField: "policy.git.auth.token",
		},
		{
			name: "email without recipients",
			mutate: func(c *Config) {
				c.Notify.Email.Enabled = true
				c.Notify.Email.SMTPHost = "smtp.example.com"
				c.Notify.Email.From = "sentinel@example.com"
			},
			wantField: "notify.email.to",
		},
		{
			name: "tuning without origin",
			mutate: func(c *Config) {
				c.Tuning.Enabled = true
			},
			wantField: "tuning.origin",
		},
		{
			name:      "bad drift schedule",
			mutate:    func(c *Config) { c.Scheduler.DriftSchedule = "* *" },
			wantField: "scheduler.drift_schedule",
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Telemetry.Logging.Level = "trace" },
			wantField: "telemetry.logging.level",
		},
		{
			name: "tracing without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Tracing.Enabled = true
			},
			wantField: "telemetry.tracing.endpoint",
		},
		{
			name:      "sample ratio out of range",
			mutate:    func(c *Config) { c.Telemetry.Tracing.SampleRatio = 1.5 },
			wantField: "telemetry.tracing.sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %q, got %v", tt.wantField, verr.Errors)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if got := single.Error(); got != "configuration validation failed: a: bad" {
		t.Errorf("Error() = %q", got)
	}

	multi := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}}
	if got := multi.Error(); !strings.Contains(got, "with 2 errors") || !strings.Contains(got, "  - b: worse") {
		t.Errorf("Error() = %q", got)
	}

	if got := (ValidationError{}).Error(); got != "configuration validation failed" {
		t.Errorf("Error() = %q", got)
	}
}
