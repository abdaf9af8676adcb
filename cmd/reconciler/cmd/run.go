package cmd

import (
	"fmt"
	"io"

	"reconciliation-engine/internal/feed"
	"reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

func newRunCmd(c *cli) *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "run PERIOD SCRIPT",
		Short: "Apply a scripted review session to a period",
		Long: `Run loads a period, applies the actions of a session script in order and
prints the step outcomes followed by the resulting report. A script that ends
with finalize adds the sign-off summary to the report.

With --journal every engine event is appended to a SQLite journal under a new
session id.

Examples:
  reconciler run testdata/periods/q2-2024.yaml testdata/periods/q2-2024-session.yaml
  reconciler run period.yaml session.yaml --journal journal.db -f json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := feed.LoadScript(args[1])
			if err != nil {
				return err
			}

			s, err := c.openPeriod(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			// a stopped run still reports the steps it got through
			result, runErr := feed.RunScript(cmd.Context(), s.engine, script, c.logger)
			printSteps(cmd.ErrOrStderr(), result)

			if err := c.writeReport(cmd, s, opts, result.Summary); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if result.Failed > 0 {
				return errors.New(errors.CategoryFeed, errors.CodeInvalidData,
					fmt.Sprintf("%d of %d script steps failed", result.Failed, len(result.Steps))).
					WithContext("script", args[1]).
					WithSuggestion("check the failed steps above; use expect_error for steps that should fail")
			}
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func printSteps(w io.Writer, result *feed.ScriptResult) {
	for _, step := range result.Steps {
		target := step.Op
		if step.ID != "" {
			target += " " + step.ID
		}
		switch {
		case !step.OK:
			fmt.Fprintf(w, "  %3d  %-40s FAILED %s: %s\n", step.Index+1, target, step.Code, step.Error)
		case step.Expected:
			fmt.Fprintf(w, "  %3d  %-40s ok (expected %s)\n", step.Index+1, target, step.Code)
		default:
			fmt.Fprintf(w, "  %3d  %-40s ok\n", step.Index+1, target)
		}
	}
	fmt.Fprintf(w, "%d steps, %d failed in %s\n", len(result.Steps), result.Failed, result.Progress.Duration)
}
