package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sentinel/pkg/cli"
	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/policy"
)

var policyFlags struct {
	by    string
	force bool
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Compile, lint and inspect governance policies",
	Long: `Compile, lint and inspect governance policies.

Subcommands:
  init     - Write the built-in default policy to a file
  lint     - Validate policy files without storing them
  compile  - Validate a policy file and store it
  show     - Print a stored policy
  list     - List stored policies`,
}

var policyInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the built-in default policy",
	Long: `Write the built-in default governance policy to path (default
policy.yaml) as a starting point.

Examples:
  sentinel policy init
  sentinel policy init governance/policy.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: initPolicy,
}

var policyLintCmd = &cobra.Command{
	Use:   "lint <file|dir>...",
	Short: "Validate policy files",
	Long: `Validate policy files for syntax and schema errors without storing them.
Directories are searched for *.yaml and *.yml files.

Examples:
  sentinel policy lint policy.yaml
  sentinel policy lint policies/ --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: lintPolicies,
}

var policyCompileCmd = &cobra.Command{
	Use:   "compile <file>",
	Short: "Compile and store a policy",
	Long: `Compile a policy file and store it under its ID. A policy_compile audit
entry is recorded. Invalid files are rejected and nothing is stored.

Examples:
  sentinel policy compile policy.yaml --by alice`,
	Args: cobra.ExactArgs(1),
	RunE: compilePolicy,
}

var policyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a stored policy",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showPolicy,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored policies",
	Args:  cobra.NoArgs,
	RunE:  listPolicies,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyInitCmd, policyLintCmd, policyCompileCmd, policyShowCmd, policyListCmd)

	policyCompileCmd.Flags().StringVar(&policyFlags.by, "by", "", "author recorded as compiledBy")
	policyInitCmd.Flags().BoolVar(&policyFlags.force, "force", false, "overwrite an existing file")
}

func initPolicy(cmd *cobra.Command, args []string) error {
	path := "policy.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if !policyFlags.force {
		if _, err := os.Stat(path); err == nil {
			return cli.NewConfigError("path", fmt.Sprintf("%s already exists (use --force to overwrite)", path))
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, []byte(policy.DefaultSource), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote default policy to %s\n", path)
	return nil
}

// lintResult is the validation outcome of one file.
type lintResult struct {
	File    string `json:"file"`
	Valid   bool   `json:"valid"`
	ID      string `json:"id,omitempty"`
	Rules   int    `json:"rules"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

type lintReport []lintResult

func (r lintReport) Header() []string { return []string{"FILE", "VALID", "ID", "RULES", "ERROR"} }

func (r lintReport) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, res := range r {
		msg := res.Message
		if res.Field != "" {
			msg = res.Field + ": " + msg
		}
		rows = append(rows, []string{res.File, strconv.FormatBool(res.Valid), res.ID, strconv.Itoa(res.Rules), msg})
	}
	return rows
}

func lintPolicies(cmd *cobra.Command, args []string) error {
	files, err := policyFiles(args)
	if err != nil {
		return err
	}

	report := make(lintReport, 0, len(files))
	invalid := 0
	for _, file := range files {
		res := lintFile(file)
		if !res.Valid {
			invalid++
		}
		report = append(report, res)
	}

	if err := printResult(cmd, report); err != nil {
		return err
	}
	if invalid > 0 {
		return cli.NewCommandError("lint", fmt.Errorf("%d of %d policy files invalid", invalid, len(files)))
	}
	return nil
}

func lintFile(path string) lintResult {
	res := lintResult{File: path}
	src, err := os.ReadFile(path)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	doc, err := policy.Compile(src, policy.DefaultCompiledBy, time.Now())
	if err != nil {
		res.Message = err.Error()
		var cfgErr *policy.ConfigError
		if errors.As(err, &cfgErr) {
			res.Field, res.Message = cfgErr.Field, cfgErr.Message
		}
		return res
	}
	res.Valid, res.ID, res.Rules = true, doc.ID, len(doc.Rules)
	return res
}

// policyFiles expands directories into their YAML files.
func policyFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, fmt.Errorf("failed to list policy files: %w", err)
			}
			files = append(files, matches...)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found")
	}
	return files, nil
}

func compilePolicy(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return withEngine(cmd.Context(), func(eng *engine.Engine) error {
		res, err := eng.CompilePolicy(cmd.Context(), src, policyFlags.by)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Compiled %s version %s (%d rules), audit %s\n",
			res.Policy.ID, res.Policy.Version, len(res.Policy.Rules), res.AuditID)
		return nil
	})
}

func showPolicy(cmd *cobra.Command, args []string) error {
	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	return withEngine(cmd.Context(), func(eng *engine.Engine) error {
		doc, err := eng.GetPolicy(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("policy %q: %w", id, err)
		}
		return printResult(cmd, doc)
	})
}

// policyList renders stored documents one per row.
type policyList []*policy.Document

func (l policyList) Header() []string {
	return []string{"ID", "VERSION", "RULES", "COMPILED BY", "COMPILED AT"}
}

func (l policyList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, d := range l {
		rows = append(rows, []string{d.ID, d.Version, strconv.Itoa(len(d.Rules)), d.CompiledBy, d.CompiledAt.Format(time.RFC3339)})
	}
	return rows
}

func listPolicies(cmd *cobra.Command, args []string) error {
	return withEngine(cmd.Context(), func(eng *engine.Engine) error {
		docs, err := eng.ListPolicies(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd, policyList(docs))
	})
}
