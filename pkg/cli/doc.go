// Package cli holds the output, exit code, progress and signal helpers
// shared by the sentinel commands.
//
// Results are written with a Formatter chosen by --format. Types that
// implement Table render as aligned columns or CSV; everything else is
// written as YAML or JSON:
//
//	f := cli.NewFormatter(format)
//	if err := f.FormatTo(os.Stdout, result); err != nil {
//		return err
//	}
//
// Commands return errors wrapped with WithExitCode when the exit status
// carries meaning to scripts, such as ExitBlocked from `sentinel enforce`.
package cli
