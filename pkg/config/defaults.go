package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = int64(1048576) // 1MB
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute

	// Store defaults
	DefaultStoreBackend         = "sqlite"
	DefaultStoreSQLitePath      = "data/sentinel.db"
	DefaultStoreSQLiteBusy      = 5 * time.Second
	DefaultRedisURL             = "redis://127.0.0.1:6379/0"
	DefaultRedisKeyPrefix       = "sentinel:"
	DefaultRedisMaxRetries      = 3
	DefaultAuditBackend         = "sqlite"
	DefaultAuditSQLitePath      = "data/audit.db"
	DefaultAuditSQLiteMaxOpen   = 10
	DefaultAuditSQLiteMaxIdle   = 5
	DefaultAuditSQLiteBusy      = 5 * time.Second
	DefaultAuditWriteTimeout    = 5 * time.Second
	DefaultAuditQueryLimit      = 100
	DefaultAuditQueryMaxLimit   = 10000
	DefaultPostgresPort         = 5432
	DefaultPostgresSSLMode      = "require"
	DefaultPostgresMaxOpenConns = 10

	// Policy defaults
	DefaultPolicyID            = "default-governance"
	DefaultPolicyWatchDebounce = 200 * time.Millisecond
	DefaultGitBranch           = "main"
	DefaultGitPath             = "policy.yaml"
	DefaultGitAuthType         = "none"
	DefaultGitPollInterval     = 60 * time.Second
	DefaultGitTimeout          = 30 * time.Second

	// Side-effect defaults
	DefaultEnforcementTimeout = 2 * time.Second
	DefaultSlackTimeout       = 5 * time.Second
	DefaultSMTPPort           = 587
	DefaultEmailTimeout       = 10 * time.Second
	DefaultNotifyPerMinute    = 30
	DefaultNotifyBurst        = 5
	DefaultTuningTimeout      = 30 * time.Second

	// Scheduler and ingest defaults
	DefaultRollupSchedule  = "0 * * * *"
	DefaultDriftSchedule   = "30 * * * *"
	DefaultNATSURL         = "nats://127.0.0.1:4222"
	DefaultSnapshotSubject = "governance.snapshots"
	DefaultEventSubject    = "governance.events"
	DefaultQueueGroup      = "sentinel"
	DefaultHandleTimeout   = 10 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultPrometheusPath      = "/metrics"
	DefaultMetricsNamespace    = "sentinel"
	DefaultMetricsSubsystem    = "governance"
	DefaultTracingSampler      = "ratio"
	DefaultTracingSamplingRate = 1.0
	DefaultTracingServiceName  = "sentinel"
	DefaultTracingTimeout      = 10 * time.Second
	DefaultLivenessPath        = "/health"
	DefaultReadinessPath       = "/ready"
	DefaultHealthCheckTimeout  = 5 * time.Second
)

// NewDefaultConfig returns a Config with every default applied, including
// the boolean fields that default to true. LoadConfig decodes YAML on top
// of it so an explicit `false` in the file is preserved.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Audit.RedactPII = true
	cfg.Audit.SQLite.WALMode = true
	cfg.Audit.Export.JSONPretty = true
	cfg.Audit.Export.CSVIncludeHeader = true
	cfg.Policy.FallbackToDefault = true
	cfg.Scheduler.Enabled = true
	cfg.Telemetry.Logging.RedactPII = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Tracing.Insecure = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	}

	applyStoreDefaults(cfg)
	applyAuditDefaults(cfg)
	applyPolicyDefaults(cfg)

	if cfg.Enforcement.Timeout == 0 {
		cfg.Enforcement.Timeout = DefaultEnforcementTimeout
	}

	// Notify defaults
	if cfg.Notify.Slack.Timeout == 0 {
		cfg.Notify.Slack.Timeout = DefaultSlackTimeout
	}
	if cfg.Notify.Email.SMTPPort == 0 {
		cfg.Notify.Email.SMTPPort = DefaultSMTPPort
	}
	if cfg.Notify.Email.Timeout == 0 {
		cfg.Notify.Email.Timeout = DefaultEmailTimeout
	}
	if cfg.Notify.RateLimit.PerMinute == 0 {
		cfg.Notify.RateLimit.PerMinute = DefaultNotifyPerMinute
	}
	if cfg.Notify.RateLimit.Burst == 0 {
		cfg.Notify.RateLimit.Burst = DefaultNotifyBurst
	}
	if cfg.Tuning.Timeout == 0 {
		cfg.Tuning.Timeout = DefaultTuningTimeout
	}

	// Scheduler defaults
	if cfg.Scheduler.RollupSchedule == "" {
		cfg.Scheduler.RollupSchedule = DefaultRollupSchedule
	}
	if cfg.Scheduler.DriftSchedule == "" {
		cfg.Scheduler.DriftSchedule = DefaultDriftSchedule
	}

	// Ingest defaults
	if cfg.Ingest.URL == "" {
		cfg.Ingest.URL = DefaultNATSURL
	}
	if cfg.Ingest.SnapshotSubject == "" {
		cfg.Ingest.SnapshotSubject = DefaultSnapshotSubject
	}
	if cfg.Ingest.EventSubject == "" {
		cfg.Ingest.EventSubject = DefaultEventSubject
	}
	if cfg.Ingest.QueueGroup == "" {
		cfg.Ingest.QueueGroup = DefaultQueueGroup
	}
	if cfg.Ingest.HandleTimeout == 0 {
		cfg.Ingest.HandleTimeout = DefaultHandleTimeout
	}

	applyTelemetryDefaults(cfg)
}

func applyStoreDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = DefaultStoreSQLitePath
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = DefaultStoreSQLiteBusy
	}
	if cfg.Store.Redis.URL == "" {
		cfg.Store.Redis.URL = DefaultRedisURL
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Store.Redis.MaxRetries == 0 {
		cfg.Store.Redis.MaxRetries = DefaultRedisMaxRetries
	}
}

func applyAuditDefaults(cfg *Config) {
	a := &cfg.Audit
	if a.Backend == "" {
		a.Backend = DefaultAuditBackend
	}
	if a.SQLite.Path == "" {
		a.SQLite.Path = DefaultAuditSQLitePath
	}
	if a.SQLite.MaxOpenConns == 0 {
		a.SQLite.MaxOpenConns = DefaultAuditSQLiteMaxOpen
	}
	if a.SQLite.MaxIdleConns == 0 {
		a.SQLite.MaxIdleConns = DefaultAuditSQLiteMaxIdle
	}
	if a.SQLite.BusyTimeout == 0 {
		a.SQLite.BusyTimeout = DefaultAuditSQLiteBusy
	}
	if a.Postgres.Port == 0 {
		a.Postgres.Port = DefaultPostgresPort
	}
	if a.Postgres.SSLMode == "" {
		a.Postgres.SSLMode = DefaultPostgresSSLMode
	}
	if a.Postgres.MaxOpenConns == 0 {
		a.Postgres.MaxOpenConns = DefaultPostgresMaxOpenConns
	}
	if a.WriteTimeout == 0 {
		a.WriteTimeout = DefaultAuditWriteTimeout
	}
	if a.Query.DefaultLimit == 0 {
		a.Query.DefaultLimit = DefaultAuditQueryLimit
	}
	if a.Query.MaxLimit == 0 {
		a.Query.MaxLimit = DefaultAuditQueryMaxLimit
	}
}

func applyPolicyDefaults(cfg *Config) {
	p := &cfg.Policy
	if p.PolicyID == "" {
		p.PolicyID = DefaultPolicyID
	}
	if p.WatchDebounce == 0 {
		p.WatchDebounce = DefaultPolicyWatchDebounce
	}
	if p.Git.Branch == "" {
		p.Git.Branch = DefaultGitBranch
	}
	if p.Git.Path == "" {
		p.Git.Path = DefaultGitPath
	}
	if p.Git.Auth.Type == "" {
		p.Git.Auth.Type = DefaultGitAuthType
	}
	if p.Git.PollInterval == 0 {
		p.Git.PollInterval = DefaultGitPollInterval
	}
	if p.Git.Timeout == 0 {
		p.Git.Timeout = DefaultGitTimeout
	}
}

func applyTelemetryDefaults(cfg *Config) {
	t := &cfg.Telemetry
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultPrometheusPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSamplingRate
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultReadinessPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
