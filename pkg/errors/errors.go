package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryFeed          ErrorCategory = "feed"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryResolution    ErrorCategory = "resolution"
	CategoryExternal      ErrorCategory = "external"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"

	// Feed errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeUnknownRef    ErrorCode = "unknown_reference"

	// Validation errors
	CodeInvalidAmount    ErrorCode = "invalid_amount"
	CodeInvalidDate      ErrorCode = "invalid_date"
	CodeMissingField     ErrorCode = "missing_field"
	CodeInvalidSelection ErrorCode = "invalid_selection"
	CodeDuplicateID      ErrorCode = "duplicate_id"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Resolution errors
	CodeNotFound          ErrorCode = "not_found"
	CodeInvalidTransition ErrorCode = "invalid_transition"
	CodeUnbalanced        ErrorCode = "unbalanced"
	CodeEmptySelection    ErrorCode = "empty_selection"
	CodeFinalized         ErrorCode = "period_finalized"

	// External errors
	CodeExternalFailure ErrorCode = "external_failure"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// Sentinels for errors.Is matching. Any ReconcilerError with the same code
// matches, regardless of message or context.
var (
	ErrNotFound          = &ReconcilerError{Category: CategoryResolution, Code: CodeNotFound, Message: "not found"}
	ErrInvalidTransition = &ReconcilerError{Category: CategoryResolution, Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrUnbalanced        = &ReconcilerError{Category: CategoryResolution, Code: CodeUnbalanced, Message: "unbalanced selection"}
	ErrEmptySelection    = &ReconcilerError{Category: CategoryResolution, Code: CodeEmptySelection, Message: "empty selection"}
	ErrFinalized         = &ReconcilerError{Category: CategoryResolution, Code: CodeFinalized, Message: "period finalized"}
	ErrExternalFailure   = &ReconcilerError{Category: CategoryExternal, Code: CodeExternalFailure, Message: "external failure"}
	ErrInvalidSelection  = &ReconcilerError{Category: CategoryValidation, Code: CodeInvalidSelection, Message: "invalid selection"}
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	msg := e.Message
	if e.Cause != nil && e.Category == CategoryExternal {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ReconcilerError carrying the same code.
func (e *ReconcilerError) Is(target error) bool {
	t, ok := target.(*ReconcilerError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryFeed, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryResolution, CategoryInternal:
		return 5
	case CategoryExternal:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be non-zero decimal numbers (e.g., '-12.34')"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeDuplicateID:
		message = fmt.Sprintf("duplicate id in field '%s': %v", field, value)
		suggestion = "every ledger entry, statement line and item needs a unique id"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// NotFound reports an id that is not present in the container an operation targets.
func NotFound(container, id string) *ReconcilerError {
	return New(CategoryResolution, CodeNotFound, fmt.Sprintf("%s item %q not found", container, id)).
		WithContext("container", container).
		WithContext("id", id)
}

// InvalidTransition reports an operation that is not legal for the item's current shape or state.
func InvalidTransition(operation, id, state string) *ReconcilerError {
	return New(CategoryResolution, CodeInvalidTransition,
		fmt.Sprintf("%s is not allowed for item %q in state %s", operation, id, state)).
		WithContext("operation", operation).
		WithContext("id", id).
		WithContext("state", state)
}

// Unbalanced reports a manual selection whose sides do not agree within tolerance.
func Unbalanced(ledgerTotal, statementTotal, difference fmt.Stringer) *ReconcilerError {
	return New(CategoryResolution, CodeUnbalanced,
		fmt.Sprintf("selection is unbalanced: ledger %s vs statement %s (difference %s)", ledgerTotal, statementTotal, difference)).
		WithSuggestion("select rows whose absolute totals agree to within 0.01").
		WithContext("ledger_total", ledgerTotal.String()).
		WithContext("statement_total", statementTotal.String()).
		WithContext("difference", difference.String())
}

// EmptySelection reports an operation that was given nothing to work on.
func EmptySelection(operation, id string) *ReconcilerError {
	return New(CategoryResolution, CodeEmptySelection, fmt.Sprintf("%s needs at least one selected entry", operation)).
		WithContext("operation", operation).
		WithContext("id", id)
}

// InvalidSelection reports a malformed selection argument (unknown index, repeated id).
func InvalidSelection(operation, detail string) *ReconcilerError {
	return New(CategoryValidation, CodeInvalidSelection, fmt.Sprintf("invalid selection for %s: %s", operation, detail)).
		WithContext("operation", operation)
}

// Finalized reports a mutation attempted after the period was signed off.
func Finalized(operation string) *ReconcilerError {
	return New(CategoryResolution, CodeFinalized, fmt.Sprintf("%s rejected: period already finalized", operation)).
		WithContext("operation", operation)
}

// ExternalFailure wraps an error returned by a collaborator service.
func ExternalFailure(operation, id string, err error) *ReconcilerError {
	return build(CategoryExternal, CodeExternalFailure, fmt.Sprintf("%s failed for item %q", operation, id), err).
		WithSuggestion("the item was returned to its previous state; retry when the service is available").
		WithContext("operation", operation).
		WithContext("id", id)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ReconcilerError {
	return build(CategoryInternal, CodeUnexpectedError, fmt.Sprintf("unexpected error during %s", operation), err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

func build(category ErrorCategory, code ErrorCode, message string, cause error) *ReconcilerError {
	if cause != nil {
		return Wrap(cause, category, code, message)
	}
	return New(category, code, message)
}

// HasCode reports whether err, or anything it wraps, is a ReconcilerError with code.
func HasCode(err error, code ErrorCode) bool {
	if rerr, ok := AsReconcilerError(err); ok {
		return rerr.Code == code
	}
	return false
}

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}

// Describe renders the error with its context on one line, keys sorted for stable logs.
func Describe(e *ReconcilerError) string {
	if len(e.Context) == 0 {
		return e.Error()
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
	}
	return fmt.Sprintf("%s [%s]", e.Error(), strings.Join(parts, " "))
}
