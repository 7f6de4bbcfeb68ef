package engine

import (
	"context"
	"errors"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/store"
	"mercator-hq/sentinel/pkg/telemetry/health"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// RegisterHealthChecks adds the state store, audit ledger and governing
// policy readiness checks to checker.
func (e *Engine) RegisterHealthChecks(checker *health.Checker) {
	checker.RegisterCheck("store", e.store.Ping)
	checker.RegisterCheck("audit", func(ctx context.Context) error {
		if p, ok := e.storage.(pinger); ok {
			return p.Ping(ctx)
		}
		_, err := e.storage.Count(ctx, &audit.Query{})
		return err
	})
	checker.RegisterCheck("policy", func(ctx context.Context) error {
		_, err := e.store.GetPolicy(ctx, e.config.PolicyID)
		if errors.Is(err, store.ErrNotFound) && e.config.FallbackToDefault {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("policy " + e.config.PolicyID + " not compiled")
		}
		return err
	})
}
