package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/audit"
	auditstorage "mercator-hq/sentinel/pkg/audit/storage"
	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/dispatch"
	"mercator-hq/sentinel/pkg/notify"
	"mercator-hq/sentinel/pkg/store"
	"mercator-hq/sentinel/pkg/store/memory"
	"mercator-hq/sentinel/pkg/store/redis"
	"mercator-hq/sentinel/pkg/store/sqlite"
	"mercator-hq/sentinel/pkg/telemetry/metrics"
	"mercator-hq/sentinel/pkg/tuning"
)

// Open builds an engine from cfg: it opens the state store and the audit
// ledger, creates the enabled notification channels and tuning invoker,
// and registers metrics on registry (a fresh registry when nil).
func Open(ctx context.Context, cfg *config.Config, registry *prometheus.Registry) (*Engine, error) {
	st, err := OpenStore(ctx, &cfg.Store)
	if err != nil {
		return nil, err
	}
	ledger, err := OpenAudit(ctx, &cfg.Audit)
	if err != nil {
		st.Close()
		return nil, err
	}

	dispatchCfg := dispatch.DefaultConfig()
	if t := max(cfg.Notify.Slack.Timeout, cfg.Notify.Email.Timeout); t > 0 {
		dispatchCfg.NotifyTimeout = t
	}
	if cfg.Tuning.Timeout > 0 {
		dispatchCfg.TuneTimeout = cfg.Tuning.Timeout
	}

	deps := Deps{
		Store:        st,
		AuditStorage: ledger,
		Recorder: &audit.Config{
			WriteTimeout: cfg.Audit.WriteTimeout,
			RedactPII:    cfg.Audit.RedactPII,
		},
		Dispatch:  dispatchCfg,
		Notifiers: Notifiers(&cfg.Notify),
		Metrics:   metrics.NewCollector(&cfg.Telemetry.Metrics, registry),
	}
	if cfg.Tuning.Enabled {
		deps.Tuner = tuning.NewHTTPInvoker(cfg.Tuning.Origin, &http.Client{Timeout: cfg.Tuning.Timeout})
	}

	e, err := New(Config{
		PolicyID:           cfg.Policy.PolicyID,
		FallbackToDefault:  cfg.Policy.FallbackToDefault,
		EnforcementTimeout: cfg.Enforcement.Timeout,
	}, deps)
	if err != nil {
		st.Close()
		ledger.Close()
		return nil, err
	}
	return e, nil
}

// OpenStore opens the configured state store backend.
func OpenStore(ctx context.Context, cfg *config.StoreConfig) (store.Store, error) {
	slog.Info("opening state store", "backend", cfg.Backend)
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite", "":
		st, err := sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, BusyTimeout: cfg.SQLite.BusyTimeout})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "redis":
		st, err := redis.New(ctx, redis.Options{
			URL:        cfg.Redis.URL,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// OpenAudit opens the configured audit ledger backend.
func OpenAudit(ctx context.Context, cfg *config.AuditConfig) (audit.Storage, error) {
	slog.Info("opening audit ledger", "backend", cfg.Backend)
	switch cfg.Backend {
	case "memory":
		return auditstorage.NewMemoryStorage(), nil
	case "sqlite", "":
		s, err := auditstorage.NewSQLiteStorage(&auditstorage.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := auditstorage.OpenPostgres(ctx, &auditstorage.PostgresConfig{
			Host:         cfg.Postgres.Host,
			Port:         cfg.Postgres.Port,
			Database:     cfg.Postgres.Database,
			User:         cfg.Postgres.User,
			Password:     cfg.Postgres.Password,
			SSLMode:      cfg.Postgres.SSLMode,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported audit backend: %s", cfg.Backend)
	}
}

// Notifiers builds the enabled alert channels, each rate limited when a
// rate is configured.
func Notifiers(cfg *config.NotifyConfig) []dispatch.Notifier {
	var out []notify.Sender
	if cfg.Slack.Enabled {
		out = append(out, notify.NewSlackNotifier(cfg.Slack.WebhookURL, &http.Client{Timeout: cfg.Slack.Timeout}))
	}
	if cfg.Email.Enabled {
		out = append(out, notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}))
	}

	notifiers := make([]dispatch.Notifier, 0, len(out))
	for _, s := range out {
		if cfg.RateLimit.PerMinute > 0 {
			s = notify.NewRateLimited(s, float64(cfg.RateLimit.PerMinute), cfg.RateLimit.Burst)
		}
		notifiers = append(notifiers, s)
	}
	return notifiers
}
