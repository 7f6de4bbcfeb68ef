package audit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"mercator-hq/sentinel/pkg/policy"
)

// Config contains configuration for the audit recorder.
type Config struct {
	// WriteTimeout bounds each storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// RedactPII masks detected PII in Input and Output before hashing.
	// Default: true
	RedactPII bool
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		WriteTimeout: 5 * time.Second,
		RedactPII:    true,
	}
}

// Recorder assigns identity, redacts, hashes and synchronously persists
// audit entries. Writes are never queued.
type Recorder struct {
	storage Storage
	config  *Config
	now     func() time.Time
	logger  *slog.Logger
}

// NewRecorder creates a recorder writing to storage.
func NewRecorder(storage Storage, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	return &Recorder{
		storage: storage,
		config:  config,
		now:     time.Now,
		logger:  slog.Default().With("component", "audit.recorder"),
	}
}

// Record prepares and writes a single entry. The entry is updated in place
// with its ID, timestamp, PII info and hash.
func (r *Recorder) Record(ctx context.Context, e *Entry) (Receipt, error) {
	if err := r.prepare(e); err != nil {
		return Receipt{}, NewRecorderError(e.ID, e.Action, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Append(writeCtx, e); err != nil {
		r.logger.Error("failed to store audit entry",
			"entry_id", e.ID,
			"action", e.Action,
			"error", err,
		)
		return Receipt{}, NewRecorderError(e.ID, e.Action, err)
	}

	duration := time.Since(start)
	r.logger.Debug("audit entry recorded",
		"entry_id", e.ID,
		"action", e.Action,
		"risk", e.Policy.Risk,
		"duration_ms", duration.Milliseconds(),
	)
	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow audit write",
			"entry_id", e.ID,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}

	return Receipt{ID: e.ID, SHA256: e.Integrity.SHA256}, nil
}

// RecordBatch writes entries independently. A failure does not stop the
// remaining writes and nothing already written is rolled back. Receipts
// are returned for the entries that were written, in input order; the
// error joins every failure.
func (r *Recorder) RecordBatch(ctx context.Context, entries []*Entry) ([]Receipt, error) {
	receipts := make([]Receipt, 0, len(entries))
	var errs []error
	for _, e := range entries {
		receipt, err := r.Record(ctx, e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		receipts = append(receipts, receipt)
	}
	return receipts, errors.Join(errs...)
}

// prepare fills defaults, applies redaction and computes the hash.
func (r *Recorder) prepare(e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	// Microsecond precision round-trips through every backend.
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)

	if e.Policy.MatchedRules == nil {
		e.Policy.MatchedRules = []string{}
	}
	if e.Policy.Risk == "" {
		e.Policy.Risk = policy.SeverityLow
	}

	e.PII = PIIInfo{Fields: []string{}}
	if r.config.RedactPII {
		var inFields, outFields []string
		e.Input, inFields = ProcessPII(e.Input)
		e.Output, outFields = ProcessPII(e.Output)
		for _, f := range append(inFields, outFields...) {
			if !slices.Contains(e.PII.Fields, f) {
				e.PII.Fields = append(e.PII.Fields, f)
			}
		}
		e.PII.Redacted = len(e.PII.Fields) > 0
	}

	sum, err := ComputeHash(e)
	if err != nil {
		return err
	}
	e.Integrity = Integrity{SHA256: sum}
	return nil
}
