package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"mercator-hq/sentinel/pkg/audit"
)

// DefaultSubjectLimit bounds each of the actor and subject lookups.
const DefaultSubjectLimit = 1000

// Relations a user can have to an entry.
const (
	RelationActor   = "actor"
	RelationSubject = "subject"
)

// SubjectLog is an entry annotated with how the exported user relates to
// it.
type SubjectLog struct {
	*audit.Entry
	Relation string `json:"relation"`
}

// SubjectReport is every entry a user appears in.
type SubjectReport struct {
	UID        string       `json:"uid"`
	ExportedAt time.Time    `json:"exportedAt"`
	Count      int          `json:"count"`
	Logs       []SubjectLog `json:"logs"`
}

// SubjectExport collects entries where uid is the actor or the subject.
// Up to limit entries are read for each relation, newest first. An entry
// matching both keeps the actor relation. Actor entries come first.
func SubjectExport(ctx context.Context, storage audit.Storage, uid string, limit int) (*SubjectReport, error) {
	if uid == "" {
		return nil, audit.NewQueryError("uid", "uid is required")
	}
	if limit <= 0 {
		limit = DefaultSubjectLimit
	}

	asActor, err := storage.Query(ctx, &audit.Query{ActorUID: uid, Limit: limit})
	if err != nil {
		return nil, err
	}
	asSubject, err := storage.Query(ctx, &audit.Query{SubjectUID: uid, Limit: limit})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(asActor)+len(asSubject))
	logs := make([]SubjectLog, 0, len(asActor)+len(asSubject))
	for _, e := range asActor {
		seen[e.ID] = true
		logs = append(logs, SubjectLog{Entry: e, Relation: RelationActor})
	}
	for _, e := range asSubject {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		logs = append(logs, SubjectLog{Entry: e, Relation: RelationSubject})
	}

	return &SubjectReport{
		UID:        uid,
		ExportedAt: time.Now().UTC(),
		Count:      len(logs),
		Logs:       logs,
	}, nil
}

// WriteJSON writes the report as a single JSON object.
func (r *SubjectReport) WriteJSON(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(r); err != nil {
		return audit.NewExportError("json", err)
	}
	return nil
}

var subjectHeader = []string{"id", "timestamp", "action", "actor.uid", "subject.teamId", "relation"}

// WriteCSV writes one row per log. Every data cell is quoted.
func (r *SubjectReport) WriteCSV(w io.Writer) error {
	var b strings.Builder
	b.WriteString(strings.Join(subjectHeader, ","))
	for _, log := range r.Logs {
		cells := []string{
			log.ID,
			isoMillis(log.Timestamp),
			log.Action,
			log.Actor.UID,
			log.Subject.TeamID,
			log.Relation,
		}
		for i, c := range cells {
			cells[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(cells, ","))
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return audit.NewExportError("csv", err)
	}
	return nil
}

// Filename returns the attachment name for the report in format.
func (r *SubjectReport) Filename(format string) string {
	return fmt.Sprintf("audit-export-%s-%d.%s", r.UID, r.ExportedAt.UnixMilli(), format)
}

func isoMillis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
