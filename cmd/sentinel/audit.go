package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/cli"
	"mercator-hq/sentinel/pkg/engine"
)

// auditOptions holds the audit subcommand flags.
type auditOptions struct {
	start   string
	end     string
	actor   string
	subject string
	team    string
	action  string
	limit   int
	offset  int

	uid         string
	format      string
	out         string
	exportLimit int
}

var auditFlags auditOptions

// verifyPageSize bounds how many entries verify loads per query.
const verifyPageSize = 500

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query, verify and export the audit log",
	Long: `Query, verify and export the append-only audit log.

Subcommands:
  query    - List entries matching filters, newest first
  verify   - Recompute entry hashes and report tampering
  explain  - Show why an entry was written
  export   - Export every entry a subject appears in`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit entries",
	Long: `List audit entries matching the filters, newest first. Times accept
RFC3339 or YYYY-MM-DD.

Examples:
  sentinel audit query --action governance_block_all
  sentinel audit query --subject alice --start 2026-01-01 --format json`,
	Args: cobra.NoArgs,
	RunE: queryAudit,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit entry hashes",
	Long: `Recompute the content hash of every entry matching the filters and
compare it with the hash stored at write time. Exits non-zero if any entry
was modified.`,
	Args: cobra.NoArgs,
	RunE: verifyAudit,
}

var auditExplainCmd = &cobra.Command{
	Use:   "explain <id>",
	Short: "Explain why an audit entry was written",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			x, err := eng.Explain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd, x)
		})
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every entry a subject appears in",
	Long: `Export every audit entry in which uid appears as actor or subject.

Examples:
  sentinel audit export --uid alice
  sentinel audit export --uid alice --format csv --out alice.csv`,
	Args: cobra.NoArgs,
	RunE: exportAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd, auditVerifyCmd, auditExplainCmd, auditExportCmd)

	for _, c := range []*cobra.Command{auditQueryCmd, auditVerifyCmd} {
		c.Flags().StringVar(&auditFlags.start, "start", "", "earliest entry time (inclusive)")
		c.Flags().StringVar(&auditFlags.end, "end", "", "latest entry time (inclusive)")
		c.Flags().StringVar(&auditFlags.actor, "actor", "", "actor uid")
		c.Flags().StringVar(&auditFlags.subject, "subject", "", "subject uid")
		c.Flags().StringVar(&auditFlags.team, "team", "", "subject team id")
		c.Flags().StringVar(&auditFlags.action, "action", "", "entry action")
	}
	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", 100, "maximum entries to return")
	auditQueryCmd.Flags().IntVar(&auditFlags.offset, "offset", 0, "entries to skip")

	auditExportCmd.Flags().StringVar(&auditFlags.uid, "uid", "", "subject uid to export (required)")
	auditExportCmd.Flags().StringVar(&auditFlags.format, "export-format", "json", "export format: json, csv")
	auditExportCmd.Flags().StringVar(&auditFlags.out, "out", "", "output file (default stdout)")
	auditExportCmd.Flags().IntVar(&auditFlags.exportLimit, "limit", 0, "maximum entries to export (0 for all)")
	_ = auditExportCmd.MarkFlagRequired("uid")
}

// buildAuditQuery turns the filter flags into a query.
func buildAuditQuery() (*audit.Query, error) {
	q := &audit.Query{
		ActorUID:   auditFlags.actor,
		SubjectUID: auditFlags.subject,
		TeamID:     auditFlags.team,
		Action:     auditFlags.action,
		Limit:      auditFlags.limit,
		Offset:     auditFlags.offset,
	}
	var err error
	if q.Start, err = parseFlagTime("start", auditFlags.start); err != nil {
		return nil, err
	}
	if q.End, err = parseFlagTime("end", auditFlags.end); err != nil {
		return nil, err
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, cli.NewConfigError("end", "must not be before start")
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, cli.NewConfigError("limit", "limit and offset must not be negative")
	}
	return q, nil
}

func parseFlagTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, cli.NewConfigError(field, fmt.Sprintf("invalid time %q", s))
	}
	return t, nil
}

// auditTable renders entries one per row.
type auditTable struct {
	Entries []*audit.Entry `json:"entries"`
	Total   int64          `json:"total"`
}

func (t auditTable) Header() []string {
	return []string{"ID", "TIME", "ACTION", "ACTOR", "SUBJECT", "RISK", "RULES"}
}

func (t auditTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		subject := e.Subject.UID
		if subject == "" {
			subject = e.Subject.PolicyID
		}
		rows = append(rows, []string{
			e.ID,
			e.Timestamp.Format(time.RFC3339),
			e.Action,
			e.Actor.UID,
			subject,
			string(e.Policy.Risk),
			strings.Join(e.Policy.MatchedRules, ","),
		})
	}
	return rows
}

func queryAudit(cmd *cobra.Command, args []string) error {
	q, err := buildAuditQuery()
	if err != nil {
		return err
	}
	return withEngine(cmd.Context(), func(eng *engine.Engine) error {
		entries, total, err := eng.QueryAudit(cmd.Context(), q)
		if err != nil {
			return err
		}
		return printResult(cmd, auditTable{Entries: entries, Total: total})
	})
}

// verifyResult summarises a verify run.
type verifyResult struct {
	Checked  int      `json:"checked"`
	Tampered []string `json:"tampered"`
}

func verifyAudit(cmd *cobra.Command, args []string) error {
	auditFlags.limit, auditFlags.offset = 0, 0
	q, err := buildAuditQuery()
	if err != nil {
		return err
	}
	return withEngine(cmd.Context(), func(eng *engine.Engine) error {
		res, err := verifyEntries(cmd, eng, q)
		if err != nil {
			return err
		}
		if err := printResult(cmd, res); err != nil {
			return err
		}
		if len(res.Tampered) > 0 {
			return cli.NewCommandError("verify", fmt.Errorf("%d of %d entries failed hash verification", len(res.Tampered), res.Checked))
		}
		return nil
	})
}

func verifyEntries(cmd *cobra.Command, eng *engine.Engine, q *audit.Query) (*verifyResult, error) {
	ctx := cmd.Context()
	res := &verifyResult{Tampered: []string{}}
	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "entries")

	page := *q
	page.Limit = verifyPageSize
	for first := true; ; first = false {
		entries, total, err := eng.QueryAudit(ctx, &page)
		if err != nil {
			progress.Error(err)
			return nil, err
		}
		if first {
			progress.Start(total)
		}
		for _, e := range entries {
			ok, err := audit.Verify(e)
			if err != nil {
				progress.Error(err)
				return nil, fmt.Errorf("verify %s: %w", e.ID, err)
			}
			if !ok {
				res.Tampered = append(res.Tampered, e.ID)
			}
			res.Checked++
		}
		progress.Update(int64(res.Checked))
		if len(entries) < page.Limit {
			break
		}
		page.Offset += len(entries)
	}
	progress.Finish()
	return res, nil
}

func exportAudit(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(auditFlags.format)
	if format != "json" && format != "csv" {
		return cli.NewConfigError("export-format", fmt.Sprintf("unsupported export format %q (json, csv)", auditFlags.format))
	}
	return withEngine(cmd.Context(), func(eng *engine.Engine) error {
		report, err := eng.ExportSubject(cmd.Context(), auditFlags.uid, auditFlags.exportLimit)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if auditFlags.out != "" {
			f, err := os.Create(auditFlags.out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		if format == "csv" {
			err = report.WriteCSV(w)
		} else {
			err = report.WriteJSON(w)
		}
		if err != nil {
			return err
		}
		if auditFlags.out != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d entries for %s to %s\n", report.Count, auditFlags.uid, auditFlags.out)
		}
		return nil
	})
}
