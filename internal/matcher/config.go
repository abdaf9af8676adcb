// Package matcher turns raw ledger and statement feeds into the attention
// items and matched pairs the reconciliation engine starts a period with.
//
// Two entry points are provided:
//   - Assemble takes match suggestions (normally produced by an AI matcher
//     outside this module) and builds the period contents verbatim from them.
//   - Suggester is an offline heuristic stand-in for that matcher. It scores
//     ledger candidates for every statement line and emits the same
//     Suggestion values, so feeds without suggestions can still be reviewed.
//
// The suggester uses a multi-stage approach:
//  1. Candidate selection using indexed lookups on amount and date
//  2. Duplicate detection when several candidates carry the exact amount
//  3. Scoring based on amount, date, and description similarity
//  4. One-to-many grouping by subset sums for lines nothing else explains
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateToleranceDays = 2
//
//	suggestions := matcher.NewSuggester(config).Suggest(ledger, statements)
//	assembly, err := matcher.Assemble(ledger, statements, suggestions, config)
package matcher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimezoneMode defines how timezone differences should be handled during matching.
type TimezoneMode int

const (
	// TimezoneUTC normalizes all times to UTC before comparison.
	TimezoneUTC TimezoneMode = iota

	// TimezoneLocal uses the local system timezone for time normalization.
	TimezoneLocal

	// TimezoneIgnore compares calendar dates only. This is the usual mode for
	// bank reconciliation where statement lines carry no time of day.
	TimezoneIgnore

	// TimezoneBusiness uses a specified business timezone for normalization.
	TimezoneBusiness
)

// String returns the string representation of TimezoneMode
func (tm TimezoneMode) String() string {
	switch tm {
	case TimezoneUTC:
		return "UTC"
	case TimezoneLocal:
		return "Local"
	case TimezoneIgnore:
		return "Ignore"
	case TimezoneBusiness:
		return "Business"
	default:
		return "Unknown"
	}
}

// ParseTimezoneMode maps a config string to a TimezoneMode.
func ParseTimezoneMode(s string) (TimezoneMode, error) {
	switch s {
	case "utc", "UTC":
		return TimezoneUTC, nil
	case "local", "Local":
		return TimezoneLocal, nil
	case "", "ignore", "Ignore":
		return TimezoneIgnore, nil
	case "business", "Business":
		return TimezoneBusiness, nil
	}
	return TimezoneIgnore, fmt.Errorf("unknown timezone mode %q", s)
}

// MatchingConfig holds configuration parameters for suggestion and assembly.
//
// Key configuration areas:
//   - Date handling: tolerances, weekends and timezone behavior
//   - Amount handling: precision and tolerance percentages
//   - Confidence: the floor for emitting a suggestion and the level at which
//     an exact suggestion is confirmed straight into the matched set
//   - Grouping: duplicate and one-to-many detection limits
//   - Scoring: relative weights for amount, date and description
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): balanced approach for most use cases
//   - StrictMatchingConfig(): tight tolerances, fewer suggestions
//   - RelaxedMatchingConfig(): loose tolerances for messy feeds
type MatchingConfig struct {
	// DateToleranceDays is the largest date gap a candidate may have
	DateToleranceDays int `json:"date_tolerance_days" mapstructure:"date_tolerance_days"`

	// AmountPrecision defines the number of decimal places for amount tolerance rounding
	AmountPrecision int `json:"amount_precision" mapstructure:"amount_precision"`

	// AmountTolerancePercent defines percentage tolerance for amount matching (0.0 to 100.0)
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`

	// TimezoneHandling defines how to handle timezone differences
	TimezoneHandling TimezoneMode `json:"timezone_handling" mapstructure:"-"`

	// BusinessTimezone defines the business timezone (used with TimezoneBusiness mode)
	BusinessTimezone string `json:"business_timezone" mapstructure:"business_timezone"`

	// IgnoreWeekends counts only business days against the date tolerance
	IgnoreWeekends bool `json:"ignore_weekends" mapstructure:"ignore_weekends"`

	// MaxCandidatesPerStatement limits the ledger candidates scored per statement line
	MaxCandidatesPerStatement int `json:"max_candidates_per_statement" mapstructure:"max_candidates_per_statement"`

	// MinConfidence is the lowest confidence (0-100) a suggestion is emitted with
	MinConfidence int `json:"min_confidence" mapstructure:"min_confidence"`

	// AutoMatchConfidence is the confidence at which an exact-amount match
	// skips the attention queue and lands in the matched set
	AutoMatchConfidence int `json:"auto_match_confidence" mapstructure:"auto_match_confidence"`

	// NameSimilarityThreshold is the normalized description similarity
	// (0.0 to 1.0) below which a pair is flagged as a name variant
	NameSimilarityThreshold float64 `json:"name_similarity_threshold" mapstructure:"name_similarity_threshold"`

	// EnableGrouping turns on one-to-many detection
	EnableGrouping bool `json:"enable_grouping" mapstructure:"enable_grouping"`

	// MaxGroupSize bounds the number of ledger entries in a one-to-many group
	MaxGroupSize int `json:"max_group_size" mapstructure:"max_group_size"`

	// Priority weights for different matching criteria
	Weights MatchingWeights `json:"weights" mapstructure:"weights"`
}

// MatchingWeights defines the relative importance of different matching criteria
type MatchingWeights struct {
	AmountWeight float64 `json:"amount_weight" mapstructure:"amount_weight"`
	DateWeight   float64 `json:"date_weight" mapstructure:"date_weight"`
	NameWeight   float64 `json:"name_weight" mapstructure:"name_weight"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:         3,
		AmountPrecision:           2,
		AmountTolerancePercent:    1.0,
		TimezoneHandling:          TimezoneIgnore,
		BusinessTimezone:          "UTC",
		IgnoreWeekends:            false,
		MaxCandidatesPerStatement: 10,
		MinConfidence:             50,
		AutoMatchConfidence:       95,
		NameSimilarityThreshold:   0.6,
		EnableGrouping:            true,
		MaxGroupSize:              4,
		Weights: MatchingWeights{
			AmountWeight: 0.6,
			DateWeight:   0.25,
			NameWeight:   0.15,
		},
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:         1,
		AmountPrecision:           2,
		AmountTolerancePercent:    0.0,
		TimezoneHandling:          TimezoneUTC,
		BusinessTimezone:          "UTC",
		IgnoreWeekends:            false,
		MaxCandidatesPerStatement: 5,
		MinConfidence:             70,
		AutoMatchConfidence:       98,
		NameSimilarityThreshold:   0.75,
		EnableGrouping:            false,
		MaxGroupSize:              2,
		Weights: MatchingWeights{
			AmountWeight: 0.7,
			DateWeight:   0.2,
			NameWeight:   0.1,
		},
	}
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:         5,
		AmountPrecision:           2,
		AmountTolerancePercent:    2.0,
		TimezoneHandling:          TimezoneIgnore,
		BusinessTimezone:          "UTC",
		IgnoreWeekends:            true,
		MaxCandidatesPerStatement: 20,
		MinConfidence:             40,
		AutoMatchConfidence:       95,
		NameSimilarityThreshold:   0.5,
		EnableGrouping:            true,
		MaxGroupSize:              5,
		Weights: MatchingWeights{
			AmountWeight: 0.5,
			DateWeight:   0.3,
			NameWeight:   0.2,
		},
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance days cannot be negative: %d", mc.DateToleranceDays)
	}

	if mc.AmountPrecision < 0 || mc.AmountPrecision > 10 {
		return fmt.Errorf("amount precision must be between 0 and 10: %d", mc.AmountPrecision)
	}

	if mc.AmountTolerancePercent < 0.0 || mc.AmountTolerancePercent > 100.0 {
		return fmt.Errorf("amount tolerance percent must be between 0.0 and 100.0: %f", mc.AmountTolerancePercent)
	}

	if mc.MaxCandidatesPerStatement <= 0 {
		return fmt.Errorf("max candidates per statement must be positive: %d", mc.MaxCandidatesPerStatement)
	}

	if mc.MinConfidence < 0 || mc.MinConfidence > 100 {
		return fmt.Errorf("minimum confidence must be between 0 and 100: %d", mc.MinConfidence)
	}

	if mc.AutoMatchConfidence < mc.MinConfidence || mc.AutoMatchConfidence > 100 {
		return fmt.Errorf("auto-match confidence must be between min confidence (%d) and 100: %d",
			mc.MinConfidence, mc.AutoMatchConfidence)
	}

	if mc.NameSimilarityThreshold < 0.0 || mc.NameSimilarityThreshold > 1.0 {
		return fmt.Errorf("name similarity threshold must be between 0.0 and 1.0: %f", mc.NameSimilarityThreshold)
	}

	if mc.EnableGrouping && mc.MaxGroupSize < 2 {
		return fmt.Errorf("max group size must be at least 2 when grouping is enabled: %d", mc.MaxGroupSize)
	}

	if err := mc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	if mc.TimezoneHandling == TimezoneBusiness {
		if _, err := time.LoadLocation(mc.BusinessTimezone); err != nil {
			return fmt.Errorf("invalid business timezone '%s': %w", mc.BusinessTimezone, err)
		}
	}

	return nil
}

// Validate checks if the matching weights are valid
func (mw *MatchingWeights) Validate() error {
	if mw.AmountWeight < 0.0 || mw.AmountWeight > 1.0 {
		return fmt.Errorf("amount weight must be between 0.0 and 1.0: %f", mw.AmountWeight)
	}

	if mw.DateWeight < 0.0 || mw.DateWeight > 1.0 {
		return fmt.Errorf("date weight must be between 0.0 and 1.0: %f", mw.DateWeight)
	}

	if mw.NameWeight < 0.0 || mw.NameWeight > 1.0 {
		return fmt.Errorf("name weight must be between 0.0 and 1.0: %f", mw.NameWeight)
	}

	// Weights should sum to approximately 1.0 (allow some tolerance)
	total := mw.AmountWeight + mw.DateWeight + mw.NameWeight
	if total < 0.9 || total > 1.1 {
		return fmt.Errorf("weights should sum to approximately 1.0, got %f", total)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

// GetAmountTolerance calculates the amount tolerance for a given amount
func (mc *MatchingConfig) GetAmountTolerance(amount decimal.Decimal) decimal.Decimal {
	if mc.AmountTolerancePercent == 0.0 {
		return decimal.Zero
	}

	percentage := decimal.NewFromFloat(mc.AmountTolerancePercent / 100.0)
	tolerance := amount.Abs().Mul(percentage)

	return tolerance.Round(int32(mc.AmountPrecision))
}

// IsWithinDateTolerance checks if two dates are within the configured tolerance
func (mc *MatchingConfig) IsWithinDateTolerance(date1, date2 time.Time) bool {
	date1, date2 = mc.NormalizeTime(date1), mc.NormalizeTime(date2)
	if mc.DateToleranceDays == 0 {
		return date1.Format("2006-01-02") == date2.Format("2006-01-02")
	}

	if !mc.IgnoreWeekends {
		diff := date1.Sub(date2)
		if diff < 0 {
			diff = -diff
		}
		return diff <= time.Duration(mc.DateToleranceDays)*24*time.Hour
	}

	return mc.businessDaysBetween(date1, date2) <= mc.DateToleranceDays
}

// DaysApart returns the calendar or business day gap between two dates,
// following IgnoreWeekends.
func (mc *MatchingConfig) DaysApart(date1, date2 time.Time) int {
	date1, date2 = mc.NormalizeTime(date1), mc.NormalizeTime(date2)
	if mc.IgnoreWeekends {
		return mc.businessDaysBetween(date1, date2)
	}
	diff := date1.Sub(date2)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// businessDaysBetween counts weekdays stepped over going from the earlier
// date to the later one.
func (mc *MatchingConfig) businessDaysBetween(date1, date2 time.Time) int {
	if date1.After(date2) {
		date1, date2 = date2, date1
	}

	days := 0
	for current := date1; current.Before(date2); current = current.AddDate(0, 0, 1) {
		if current.Weekday() != time.Saturday && current.Weekday() != time.Sunday {
			days++
		}
	}
	return days
}

// NormalizeTime normalizes time according to the timezone handling configuration
func (mc *MatchingConfig) NormalizeTime(t time.Time) time.Time {
	switch mc.TimezoneHandling {
	case TimezoneUTC:
		return t.UTC()
	case TimezoneLocal:
		return t.Local()
	case TimezoneIgnore:
		year, month, day := t.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	case TimezoneBusiness:
		if loc, err := time.LoadLocation(mc.BusinessTimezone); err == nil {
			return t.In(loc)
		}
		return t.UTC()
	default:
		return t
	}
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateTolerance: %d days, AmountTolerance: %.2f%%, Timezone: %s, MinConfidence: %d, AutoMatch: %d}",
		mc.DateToleranceDays, mc.AmountTolerancePercent, mc.TimezoneHandling.String(), mc.MinConfidence, mc.AutoMatchConfidence)
}
