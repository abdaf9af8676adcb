package cmd

import (
	"fmt"

	"reconciliation-engine/cmd/reconciler/config"
	"reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	envFile string
	verbose bool

	cfg    *config.Config
	logger logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Bank reconciliation review tool",
		Long: `Reconciler loads an accounting period (ledger entries, bank statement lines
and matching suggestions) into a reconciliation engine and lets you review it:
accept suggestions, resolve duplicates, create missing entries, match by hand
and finalize once the ledger agrees with the statement.

Examples:
  reconciler review testdata/periods/q2-2024.yaml
  reconciler review period.yaml --ledger acme --output-format json
  reconciler run period.yaml session.yaml --journal journal.db
  reconciler serve period.yaml --addr :8080
  reconciler version`,
		Version:           getVersionString(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (optional)")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file with RECONCILER_* overrides")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	flags.StringP("output-format", "f", "", "output format: console, json, csv")
	flags.String("journal", "", "SQLite event journal path (disabled when empty)")

	c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	c.v.BindPFlag("log.format", flags.Lookup("log-format"))
	c.v.BindPFlag("output-format", flags.Lookup("output-format"))
	c.v.BindPFlag("journal.path", flags.Lookup("journal"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newReviewCmd(c),
		newRunCmd(c),
		newServeCmd(c),
	)
	return rootCmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		return NewCLIErrorHandler(rootCmd.ErrOrStderr(), verbose).HandleError(err)
	}
	return 0
}

// initConfig resolves the configuration and installs the logger before any
// subcommand runs.
func (c *cli) initConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.v, c.cfgFile, c.envFile)
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Log.Level = logger.DebugLevel
	}
	if cfg.Log.Output == logger.StderrOutput {
		cfg.Log.Output = logger.WriterOutput
		cfg.Log.Writer = cmd.ErrOrStderr()
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	c.cfg = cfg
	c.logger = log.WithComponent("cli")
	if c.cfgFile != "" {
		c.logger.WithField("config", c.v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
