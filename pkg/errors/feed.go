package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FeedLocation points at a value inside a period feed document.
type FeedLocation struct {
	File  string `json:"file"`
	Path  string `json:"path"`
	Value string `json:"value,omitempty"`
}

func (l FeedLocation) String() string {
	loc := filepath.Base(l.File)
	if l.Path != "" {
		loc += ":" + l.Path
	}
	return loc
}

// FeedError creates an error for a malformed period feed value
func FeedError(code ErrorCode, loc FeedLocation, message string, cause error) *ReconcilerError {
	err := build(CategoryFeed, code, fmt.Sprintf("%s at %s", message, loc), cause).
		WithContext("file", loc.File).
		WithContext("path", loc.Path)
	if loc.Value != "" {
		err.WithContext("value", loc.Value)
	}

	switch code {
	case CodeInvalidAmount:
		err.WithSuggestion("write amounts as quoted decimals, e.g. \"-4812.50\"")
	case CodeInvalidDate:
		err.WithSuggestion("use YYYY-MM-DD dates")
	case CodeUnknownRef:
		err.WithSuggestion("reference an id declared in the same feed")
	case CodeInvalidFormat:
		err.WithSuggestion("check the document against the period feed layout")
	}
	return err
}

// FeedErrorCollector gathers feed problems so a document can be reported in one pass.
type FeedErrorCollector struct {
	errors    []*ReconcilerError
	maxErrors int
}

// NewFeedErrorCollector creates a collector; maxErrors <= 0 means unlimited
func NewFeedErrorCollector(maxErrors int) *FeedErrorCollector {
	return &FeedErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether collection should continue.
func (c *FeedErrorCollector) Add(err error) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, WrapIfNeeded(err, CategoryFeed, CodeInvalidData, "invalid feed value"))
	return c.maxErrors <= 0 || len(c.errors) < c.maxErrors
}

// HasErrors returns true if any errors have been collected
func (c *FeedErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all collected errors
func (c *FeedErrorCollector) Errors() []*ReconcilerError {
	return c.errors
}

// Err returns nil, the single collected error, or an ErrorSummary.
func (c *FeedErrorCollector) Err() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return NewErrorSummary(c.errors)
	}
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a summary from multiple errors
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error implements the error interface for ErrorSummary
func (s *ErrorSummary) Error() string {
	if s.Total == 0 {
		return "no errors"
	}
	if s.Total == 1 {
		return s.Errors[0].Error()
	}

	lines := []string{fmt.Sprintf("%d errors:", s.Total)}
	for _, err := range s.Errors {
		lines = append(lines, "  - "+err.Error())
	}
	return strings.Join(lines, "\n")
}

// HasCategory checks if the summary contains errors of a specific category
func (s *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return s.ByCategory[category] > 0
}

// GetExitCode returns the exit code of the first collected error
func (s *ErrorSummary) GetExitCode() int {
	if s.Total == 0 {
		return 0
	}
	return s.Errors[0].GetExitCode()
}
