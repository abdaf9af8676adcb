package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"reconciliation-engine/internal/feed"
	"reconciliation-engine/internal/journal"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/internal/reporter"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
)

// session is a period loaded into an engine, optionally journaled.
type session struct {
	period  *feed.Period
	engine  *reconciler.Engine
	journal *journal.Journal
}

// openPeriod loads the period file and imports it into a new engine. When a
// journal is configured the session is started before the import so the
// import event is recorded too.
func (c *cli) openPeriod(ctx context.Context, path string) (*session, error) {
	loader := feed.NewLoader(c.cfg.Matching(), c.logger)
	period, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	imp, assembly, err := loader.Import(period)
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logger.Fields{
		"source":     period.Source,
		"by_variant": assembly.Stats.ByVariant,
	}).Debug("Attention breakdown")

	s := &session{period: period}
	opts := []reconciler.Option{reconciler.WithLogger(c.logger)}
	if c.cfg.Journal.Path != "" {
		j, err := journal.Open(c.cfg.Journal.Path, c.logger)
		if err != nil {
			return nil, err
		}
		if _, err := j.StartSession(ctx, period.Account, period.Source); err != nil {
			j.Close()
			return nil, err
		}
		s.journal = j
		opts = append(opts, reconciler.WithEventSink(j))
	}

	engine, err := reconciler.NewEngine(&c.cfg.Engine, opts...)
	if err != nil {
		s.Close()
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "engine", c.cfg.Engine, err)
	}
	if err := engine.Import(imp); err != nil {
		s.Close()
		return nil, err
	}
	s.engine = engine
	return s, nil
}

func (s *session) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

// reportOptions are the flags shared by commands that print a report.
type reportOptions struct {
	ledger     string
	statement  string
	outputFile string
	matched    bool
}

func (o *reportOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.ledger, "ledger", "", "only show rows whose ledger side contains this text")
	cmd.Flags().StringVar(&o.statement, "statement", "", "only show rows whose statement side contains this text")
	cmd.Flags().StringVarP(&o.outputFile, "output-file", "o", "", "output file path (default: stdout)")
	cmd.Flags().BoolVar(&o.matched, "matched", false, "include the matched set in the report")
}

// writeReport prints the session's report to the output file or stdout.
func (c *cli) writeReport(cmd *cobra.Command, s *session, o reportOptions, summary *reconciler.FinalizationSummary) error {
	config := c.cfg.ReportConfig()
	if o.matched {
		config.IncludeMatched = true
	}

	generator, err := reporter.NewSafeReportGenerator(config, c.logger)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if o.outputFile != "" {
		file, err := os.Create(o.outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, o.outputFile, err).
				WithSuggestion("Check that the output directory exists and is writable")
		}
		defer file.Close()
		out = file
	}

	return generator.GenerateReportSafely(&reporter.Report{
		Account:     s.period.Account,
		Source:      s.period.Source,
		Snapshot:    s.engine.Snapshot(),
		Query:       reconciler.ViewQuery{Ledger: o.ledger, Statement: o.statement},
		Summary:     summary,
		GeneratedAt: time.Now(),
	}, out)
}
