package config

import "time"

// Config is the root configuration structure for Sentinel.
// It contains all configuration sections for the HTTP API, durable state,
// audit ledger, policy sources, governance side effects, and telemetry.
type Config struct {
	// Server contains HTTP API server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Store selects and configures the backend holding policies, runtime
	// overrides, rollout state, alerts, and snapshots.
	Store StoreConfig `yaml:"store"`

	// Audit configures the append-only audit ledger.
	Audit AuditConfig `yaml:"audit"`

	// Policy configures which policy governs the engine and where its
	// source comes from.
	Policy PolicyConfig `yaml:"policy"`

	// Enforcement configures the enforcement gate.
	Enforcement EnforcementConfig `yaml:"enforcement"`

	// Notify configures alert delivery channels.
	Notify NotifyConfig `yaml:"notify"`

	// Tuning configures the external tuning entry point.
	Tuning TuningConfig `yaml:"tuning"`

	// Scheduler configures the periodic rollup and drift jobs.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Ingest configures the NATS snapshot and event subscriber.
	Ingest IngestConfig `yaml:"ingest"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port for the API to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request when
	// keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes limits request bodies (policy sources, snapshots, events).
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TLS serves the API over HTTPS when enabled.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures the API server certificate.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are PEM files. Both are required when enabled.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts TLS 1.2 suites. Empty keeps Go's defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often the files are checked for renewal.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// StoreConfig configures durable governance state.
type StoreConfig struct {
	// Backend selects the state store.
	// Options: "memory", "sqlite", "redis"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite StoreSQLiteConfig `yaml:"sqlite"`

	// Redis contains Redis-specific configuration.
	Redis RedisConfig `yaml:"redis"`
}

// StoreSQLiteConfig configures the SQLite state store.
type StoreSQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/sentinel.db"
	Path string `yaml:"path"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RedisConfig configures the Redis state store.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	// Default: "redis://127.0.0.1:6379/0"
	URL string `yaml:"url"`

	// KeyPrefix namespaces every key written by Sentinel.
	// Default: "sentinel:"
	KeyPrefix string `yaml:"key_prefix"`

	// MaxRetries bounds optimistic transaction retries on contended keys.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`
}

// AuditConfig configures the audit ledger.
type AuditConfig struct {
	// Backend specifies the storage backend for audit entries.
	// Options: "memory", "sqlite", "postgres"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres PostgresConfig `yaml:"postgres"`

	// WriteTimeout is the timeout for writing one entry to storage.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RedactPII enables PII detection and redaction of entry input/output.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// Query contains query configuration.
	Query QueryConfig `yaml:"query"`

	// Export contains export configuration.
	Export ExportConfig `yaml:"export"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open database connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle database connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `yaml:"host"`

	// Port is the PostgreSQL server port.
	// Default: 5432
	Port int `yaml:"port"`

	// Database is the name of the database to use.
	Database string `yaml:"database"`

	// User is the PostgreSQL user for authentication.
	User string `yaml:"user"`

	// Password is the PostgreSQL password for authentication.
	// This should typically be loaded from an environment variable.
	Password string `yaml:"password"`

	// SSLMode controls SSL/TLS connection mode.
	// Options: "disable", "require", "verify-ca", "verify-full"
	// Default: "require"
	SSLMode string `yaml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`
}

// QueryConfig contains audit query configuration.
type QueryConfig struct {
	// DefaultLimit is the number of entries returned when no limit is given.
	// Default: 100
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit caps the number of entries a single query may return.
	// Default: 10000
	MaxLimit int `yaml:"max_limit"`
}

// ExportConfig contains audit export configuration.
type ExportConfig struct {
	// JSONPretty enables pretty-printing for JSON exports.
	// Default: true
	JSONPretty bool `yaml:"json_pretty"`

	// CSVIncludeHeader includes a header row in CSV exports.
	// Default: true
	CSVIncludeHeader bool `yaml:"csv_include_header"`
}

// PolicyConfig configures the governing policy.
type PolicyConfig struct {
	// PolicyID is the document the engine evaluates snapshots against and
	// the enforcement gate consults.
	// Default: "default-governance"
	PolicyID string `yaml:"policy_id"`

	// FallbackToDefault evaluates snapshots against the built-in default
	// policy when no document with PolicyID has been compiled yet.
	// Default: true
	FallbackToDefault bool `yaml:"fallback_to_default"`

	// FilePath is a policy file or directory compiled at startup.
	// Empty disables file loading.
	FilePath string `yaml:"file_path"`

	// Watch recompiles FilePath when it changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce is the quiet period before a changed file is compiled.
	// Default: 200ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// Git configures a GitOps policy source.
	Git GitPolicyConfig `yaml:"git"`
}

// GitPolicyConfig configures Git-based policy loading.
type GitPolicyConfig struct {
	// Enabled determines if the Git source is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Repository URL (HTTPS or SSH).
	// Example: "https://github.com/company/governance.git"
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path within the repository to the policy file.
	// Default: "policy.yaml"
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned.
	// Default: system temp directory
	LocalPath string `yaml:"local_path"`

	// Auth configures Git authentication.
	Auth GitAuthConfig `yaml:"auth"`

	// PollInterval is the time between pulls.
	// Default: 60s
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds clone and pull operations.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// GitAuthConfig configures Git authentication.
type GitAuthConfig struct {
	// Type: "token", "ssh", "none"
	// Default: "none"
	Type string `yaml:"type"`

	// Token for HTTPS authentication.
	// Required when Type is "token".
	Token string `yaml:"token"`

	// SSHKeyPath for SSH authentication.
	// Required when Type is "ssh".
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase for encrypted SSH keys.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// EnforcementConfig configures the enforcement gate.
type EnforcementConfig struct {
	// Timeout bounds the policy and override reads of one check. A timeout
	// rejects the call.
	// Default: 2s
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig configures alert channels.
type NotifyConfig struct {
	// Slack configures the Slack incoming-webhook channel.
	Slack SlackConfig `yaml:"slack"`

	// Email configures the SMTP channel.
	Email EmailConfig `yaml:"email"`

	// RateLimit bounds sends per channel.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// SlackConfig configures Slack delivery.
type SlackConfig struct {
	// Enabled turns the channel on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// WebhookURL is the incoming webhook URL.
	WebhookURL string `yaml:"webhook_url"`

	// Timeout bounds one delivery.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	// Enabled turns the channel on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// SMTPHost is the SMTP server hostname.
	SMTPHost string `yaml:"smtp_host"`

	// SMTPPort is the SMTP server port.
	// Default: 587
	SMTPPort int `yaml:"smtp_port"`

	// Username and Password authenticate with PLAIN auth when set.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// From is the envelope sender.
	From string `yaml:"from"`

	// To lists recipients.
	To []string `yaml:"to"`

	// Timeout bounds one delivery.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig bounds per-channel send rate.
type RateLimitConfig struct {
	// PerMinute is the sustained send rate. 0 disables limiting.
	// Default: 30
	PerMinute int `yaml:"per_minute"`

	// Burst is the number of sends allowed at once.
	// Default: 5
	Burst int `yaml:"burst"`
}

// TuningConfig configures the tuning entry point.
type TuningConfig struct {
	// Enabled turns tune_system invocations on. When false the action is
	// recorded but nothing is invoked.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Origin is the base URL entry points are posted to ("{origin}/{invoke}").
	Origin string `yaml:"origin"`

	// Timeout bounds one invocation.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// SchedulerConfig configures periodic jobs.
type SchedulerConfig struct {
	// Enabled runs the scheduler inside `sentinel run`.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// RollupSchedule is a cron expression for the event rollup job.
	// Default: "0 * * * *" (hourly)
	RollupSchedule string `yaml:"rollup_schedule"`

	// DriftSchedule is a cron expression for the drift check.
	// Default: "30 * * * *"
	DriftSchedule string `yaml:"drift_schedule"`
}

// IngestConfig configures the NATS subscriber.
type IngestConfig struct {
	// Enabled subscribes on startup.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// URL is the NATS server URL.
	// Default: "nats://127.0.0.1:4222"
	URL string `yaml:"url"`

	// SnapshotSubject carries complete metric snapshots.
	// Default: "governance.snapshots"
	SnapshotSubject string `yaml:"snapshot_subject"`

	// EventSubject carries raw quality events for rollup.
	// Default: "governance.events"
	EventSubject string `yaml:"event_subject"`

	// QueueGroup load-balances messages across replicas.
	// Default: "sentinel"
	QueueGroup string `yaml:"queue_group"`

	// HandleTimeout bounds processing of one message.
	// Default: 10s
	HandleTimeout time.Duration `yaml:"handle_timeout"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables automatic PII redaction in logs.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "sentinel"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "governance"
	Subsystem string `yaml:"subsystem"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "sentinel"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
