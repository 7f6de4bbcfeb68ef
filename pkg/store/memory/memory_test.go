package memory

import (
	"context"
	"errors"
	"testing"

	"mercator-hq/sentinel/pkg/store"
	"mercator-hq/sentinel/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestStore_ClosedReturnsStoreError(t *testing.T) {
	s := New()
	s.Close()

	err := s.Ping(context.Background())
	var se *store.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("Ping() after Close error = %v, want *StoreError", err)
	}
	if !store.IsUnavailable(err) {
		t.Error("closed store error should classify as unavailable")
	}
}

func TestStore_OverrideIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	disabled := []string{"deploy_model"}
	if _, err := s.ReplaceOverride(ctx, store.RuntimeOverride{Disabled: disabled}); err != nil {
		t.Fatalf("ReplaceOverride() error = %v", err)
	}
	disabled[0] = "mutated"

	got, err := s.GetOverride(ctx)
	if err != nil {
		t.Fatalf("GetOverride() error = %v", err)
	}
	if got.Disabled[0] != "deploy_model" {
		t.Errorf("stored override aliased caller slice: %v", got.Disabled)
	}
}
