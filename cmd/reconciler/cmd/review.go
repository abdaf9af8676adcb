package cmd

import (
	"github.com/spf13/cobra"
)

func newReviewCmd(c *cli) *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "review PERIOD",
		Short: "Load a period and print its reconciliation report",
		Long: `Review loads a period file, builds the attention queue and matched set, and
prints the balance together with everything that still needs a decision.

Examples:
  # Console report
  reconciler review testdata/periods/q2-2024.yaml

  # Only rows mentioning ACME, as JSON
  reconciler review period.yaml --ledger acme --output-format json

  # Full CSV export including matched pairs
  reconciler review period.yaml -f csv --matched -o q2.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openPeriod(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			return c.writeReport(cmd, s, opts, nil)
		},
	}
	opts.register(cmd)
	return cmd
}
