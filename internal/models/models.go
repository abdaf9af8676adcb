package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for entry dates.
const DateLayout = "2006-01-02"

// BalanceTolerance is the fixed one-hundredth tolerance used for every
// balance and selection comparison. Comparisons against it are exclusive.
var BalanceTolerance = decimal.New(1, -2)

// LedgerEntry is a transaction recorded in the company books
type LedgerEntry struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category,omitempty"`
	Manual      bool            `json:"manual,omitempty"`
}

// Validate performs basic validation on the LedgerEntry
func (e LedgerEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("ledger entry ID cannot be empty")
	}
	if e.Amount.IsZero() {
		return fmt.Errorf("ledger entry %s amount cannot be zero", e.ID)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("ledger entry %s date cannot be zero", e.ID)
	}
	return nil
}

// String returns a string representation of the LedgerEntry
func (e LedgerEntry) String() string {
	return fmt.Sprintf("LedgerEntry{ID: %s, Date: %s, Description: %q, Amount: %s}",
		e.ID, e.Date.Format(DateLayout), e.Description, e.Amount.String())
}

// AbsAmount returns the absolute value of the entry amount
func (e LedgerEntry) AbsAmount() decimal.Decimal {
	return e.Amount.Abs()
}

// SearchText is the lower-cased text the filter projection matches against.
func (e LedgerEntry) SearchText() string {
	return searchText(e.Description, e.Date)
}

// Equals compares two entries field by field, amounts by value.
func (e LedgerEntry) Equals(other LedgerEntry) bool {
	return e.ID == other.ID &&
		e.Date.Equal(other.Date) &&
		e.Description == other.Description &&
		e.Amount.Equal(other.Amount) &&
		e.Category == other.Category &&
		e.Manual == other.Manual
}

// MarshalJSON implements custom JSON marshaling for LedgerEntry
func (e LedgerEntry) MarshalJSON() ([]byte, error) {
	type Alias LedgerEntry
	return json.Marshal(&struct {
		Date   string `json:"date"`
		Amount string `json:"amount"`
		*Alias
	}{
		Date:   e.Date.Format(DateLayout),
		Amount: e.Amount.String(),
		Alias:  (*Alias)(&e),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for LedgerEntry
func (e *LedgerEntry) UnmarshalJSON(data []byte) error {
	type Alias LedgerEntry
	aux := &struct {
		Date   string `json:"date"`
		Amount string `json:"amount"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if e.Amount, err = ParseDecimalFromString(aux.Amount); err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}
	if e.Date, err = ParseTimeWithFormats(aux.Date); err != nil {
		return fmt.Errorf("invalid date format: %w", err)
	}
	return nil
}

// StatementEntry is a bank statement line. The engine never mutates one.
type StatementEntry struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Validate performs basic validation on the StatementEntry
func (s StatementEntry) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("statement entry ID cannot be empty")
	}
	if s.Amount.IsZero() {
		return fmt.Errorf("statement entry %s amount cannot be zero", s.ID)
	}
	if s.Date.IsZero() {
		return fmt.Errorf("statement entry %s date cannot be zero", s.ID)
	}
	return nil
}

// String returns a string representation of the StatementEntry
func (s StatementEntry) String() string {
	return fmt.Sprintf("StatementEntry{ID: %s, Date: %s, Description: %q, Amount: %s}",
		s.ID, s.Date.Format(DateLayout), s.Description, s.Amount.String())
}

// AbsAmount returns the absolute value of the statement amount
func (s StatementEntry) AbsAmount() decimal.Decimal {
	return s.Amount.Abs()
}

// SearchText is the lower-cased text the filter projection matches against.
func (s StatementEntry) SearchText() string {
	return searchText(s.Description, s.Date)
}

// Equals compares two statement entries field by field.
func (s StatementEntry) Equals(other StatementEntry) bool {
	return s.ID == other.ID &&
		s.Date.Equal(other.Date) &&
		s.Description == other.Description &&
		s.Amount.Equal(other.Amount)
}

// MarshalJSON implements custom JSON marshaling for StatementEntry
func (s StatementEntry) MarshalJSON() ([]byte, error) {
	type Alias StatementEntry
	return json.Marshal(&struct {
		Date   string `json:"date"`
		Amount string `json:"amount"`
		*Alias
	}{
		Date:   s.Date.Format(DateLayout),
		Amount: s.Amount.String(),
		Alias:  (*Alias)(&s),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for StatementEntry
func (s *StatementEntry) UnmarshalJSON(data []byte) error {
	type Alias StatementEntry
	aux := &struct {
		Date   string `json:"date"`
		Amount string `json:"amount"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if s.Amount, err = ParseDecimalFromString(aux.Amount); err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}
	if s.Date, err = ParseTimeWithFormats(aux.Date); err != nil {
		return fmt.Errorf("invalid date format: %w", err)
	}
	return nil
}

func searchText(description string, date time.Time) string {
	return strings.ToLower(strings.Join([]string{
		description,
		date.Format(DateLayout),
		date.Format("2 Jan"),
		date.Format("02/01/2006"),
	}, " "))
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Remove common currency symbols and thousand separators
	for _, sym := range []string{"$", "£", "€", ","} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple common formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		DateLayout,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"02/01/2006",
		"2006/01/02",
		"2 Jan 2006",
		"Jan 2, 2006",
		"January 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// WithinTolerance reports whether |a-b| is strictly below BalanceTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(BalanceTolerance)
}

// SumLedger returns the signed sum of the entries.
func SumLedger(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// SumLedgerAbs returns the sum of absolute amounts.
func SumLedgerAbs(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.AbsAmount())
	}
	return total
}

// CompareDatesWithTolerance compares two dates within a day tolerance
func CompareDatesWithTolerance(a, b time.Time, toleranceDays int) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceDays)*24*time.Hour
}

// NormalizeDescription upper-cases and collapses punctuation so that
// "WIRE TRF - ACME CORP." and "wire trf acme corp" compare equal.
func NormalizeDescription(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToUpper(s) {
		switch {
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			space = false
		default:
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
