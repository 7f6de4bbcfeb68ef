package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"mercator-hq/sentinel/pkg/audit"
)

// CSVExporter exports audit entries as CSV, one row per entry. Nested
// fields are flattened; list fields are joined with ";".
type CSVExporter struct {
	// IncludeHeader writes a header row first.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

var csvHeader = []string{
	"id", "ts", "action",
	"actor_uid", "actor_role",
	"subject_uid", "team_id", "service", "policy_id",
	"matched_rules", "risk",
	"pii_redacted", "pii_fields",
	"error", "sha256",
}

// Export writes entries to w.
func (x *CSVExporter) Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)
	if x.IncludeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return audit.NewExportError("csv", err)
		}
	}
	for _, e := range entries {
		if err := writer.Write(entryRow(e)); err != nil {
			return audit.NewExportError("csv", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return audit.NewExportError("csv", err)
	}
	return nil
}

// ExportStream writes entries received on ch until it is closed or ctx is
// done. Output is flushed every 100 rows.
func (x *CSVExporter) ExportStream(ctx context.Context, ch <-chan *audit.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if x.IncludeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return audit.NewExportError("csv", err)
		}
	}

	rows := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-ch:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", err)
				}
				return nil
			}
			if err := writer.Write(entryRow(e)); err != nil {
				return audit.NewExportError("csv", err)
			}
			rows++
			if rows%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", err)
				}
			}
		}
	}
}

func entryRow(e *audit.Entry) []string {
	return []string{
		e.ID,
		formatTime(e.Timestamp),
		e.Action,
		e.Actor.UID,
		e.Actor.Role,
		e.Subject.UID,
		e.Subject.TeamID,
		e.Subject.Service,
		e.Subject.PolicyID,
		strings.Join(e.Policy.MatchedRules, ";"),
		string(e.Policy.Risk),
		strconv.FormatBool(e.PII.Redacted),
		strings.Join(e.PII.Fields, ";"),
		e.Error,
		e.Integrity.SHA256,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
