package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"reconciliation-engine/internal/api"
	"reconciliation-engine/internal/matcher"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/internal/reporter"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RECONCILER_LOG_LEVEL.
const EnvPrefix = "RECONCILER"

// Matcher presets selectable with matcher.preset.
const (
	PresetDefault = "default"
	PresetStrict  = "strict"
	PresetRelaxed = "relaxed"
)

// Config holds all configuration for the CLI.
type Config struct {
	Log     logger.Config         `mapstructure:"log"`
	Engine  reconciler.Config     `mapstructure:"engine"`
	Matcher MatcherConfig         `mapstructure:"matcher"`
	Journal JournalConfig         `mapstructure:"journal"`
	Server  api.Config            `mapstructure:"server"`
	Report  reporter.ReportConfig `mapstructure:"report"`
	Output  string                `mapstructure:"output-format"`
}

// MatcherConfig is the matcher configuration plus the settings that select it.
type MatcherConfig struct {
	Preset                 string `mapstructure:"preset"`
	Timezone               string `mapstructure:"timezone"`
	matcher.MatchingConfig `mapstructure:",squash"`
}

// JournalConfig locates the event journal. An empty path disables it.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return withPreset(PresetDefault)
}

func withPreset(preset string) *Config {
	var matching *matcher.MatchingConfig
	switch preset {
	case PresetStrict:
		matching = matcher.StrictMatchingConfig()
	case PresetRelaxed:
		matching = matcher.RelaxedMatchingConfig()
	default:
		matching = matcher.DefaultMatchingConfig()
	}

	report := reporter.DefaultReportConfig()
	return &Config{
		Log:    *logger.DefaultConfig(),
		Engine: *reconciler.DefaultConfig(),
		Matcher: MatcherConfig{
			Preset:         preset,
			Timezone:       strings.ToLower(matching.TimezoneHandling.String()),
			MatchingConfig: *matching,
		},
		Server: api.DefaultConfig(),
		Report: *report,
		Output: string(report.Format),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}
	if err := c.Engine.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "engine.duplicate_policy", c.Engine.DuplicatePolicy, err)
	}

	switch c.Matcher.Preset {
	case PresetDefault, PresetStrict, PresetRelaxed:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matcher.preset", c.Matcher.Preset,
			fmt.Errorf("preset must be %s, %s or %s", PresetDefault, PresetStrict, PresetRelaxed))
	}
	if _, err := matcher.ParseTimezoneMode(c.Matcher.Timezone); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matcher.timezone", c.Matcher.Timezone, err)
	}
	if err := c.Matcher.MatchingConfig.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matcher", c.Matcher.Preset, err)
	}

	if !reporter.OutputFormat(c.Output).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", c.Output,
			fmt.Errorf("valid formats: console, json, csv")).
			WithSuggestion("Use --output-format console, json or csv")
	}
	if c.Server.Addr == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "server.addr", c.Server.Addr, nil)
	}
	return nil
}

// Matching returns the matcher configuration with the timezone mode applied.
func (c *Config) Matching() *matcher.MatchingConfig {
	m := c.Matcher.MatchingConfig.Clone()
	if mode, err := matcher.ParseTimezoneMode(c.Matcher.Timezone); err == nil {
		m.TimezoneHandling = mode
	}
	return m
}

// ReportConfig returns the report settings for the selected output format.
func (c *Config) ReportConfig() *reporter.ReportConfig {
	report := c.Report
	report.Format = reporter.OutputFormat(c.Output)
	if report.CSVDelimiter == 0 {
		report.CSVDelimiter = ','
	}
	if report.Format == reporter.FormatCSV {
		report.IncludeMatched = true
	}
	return &report
}

// Load resolves the configuration from, in increasing priority: defaults,
// the config file, the env file, the environment and flags already bound to v.
func Load(v *viper.Viper, configFile, envFile string) (*Config, error) {
	if envFile != "" {
		// a missing env file is normal outside development
		_ = godotenv.Overload(envFile)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.FileError(errors.CodeFileNotFound, configFile, err).
				WithSuggestion("Check the --config path and its YAML syntax")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	preset := v.GetString("matcher.preset")
	if preset == "" {
		preset = PresetDefault
	}
	bindDefaults(v, reflect.ValueOf(*withPreset(preset)), "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", configFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindDefaults walks the default configuration and registers every
// mapstructure key with its default value, which also makes the key visible
// to AutomaticEnv during Unmarshal.
func bindDefaults(v *viper.Viper, value reflect.Value, prefix string) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")
		name := tag[0]
		squash := len(tag) > 1 && tag[1] == "squash"
		if (name == "" && !squash) || name == "-" || !field.IsExported() {
			continue
		}

		key := name
		if prefix != "" && name != "" {
			key = prefix + "." + name
		} else if name == "" {
			key = prefix
		}

		fv := value.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			bindDefaults(v, fv, key)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}
