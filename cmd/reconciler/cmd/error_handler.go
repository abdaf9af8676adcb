package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var summary *errors.ErrorSummary
	if stderrors.As(err, &summary) {
		return h.handleSummary(summary)
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary) int {
	errs := make([]error, len(summary.Errors))
	for i, e := range summary.Errors {
		errs[i] = e
	}
	fmt.Fprintln(h.out, FormatValidationErrors(errs))
	if summary.Total > 0 {
		fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(summary.Errors[0].Category))
	}
	return summary.GetExitCode()
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range sortedKeys(err.Context) {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	var pathErr *fs.PathError
	if stderrors.As(err, &pathErr) {
		fmt.Fprint(h.out, FormatFileError(pathErr.Path, pathErr.Err))
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Relative CSV paths in a period file resolve against the period file's directory
• Ensure you have write access to the --output-file directory`

	case errors.CategoryFeed:
		return `Period file help:
• Check the YAML syntax and field names of the period or script file
• Every ledger entry, statement line and suggestion needs a unique id
• Suggestions may only reference ids declared in the same period`

	case errors.CategoryValidation:
		return `Validation error help:
• Dates use YYYY-MM-DD
• Amounts are decimal numbers without currency symbols
• Required fields must not be empty`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and the --config file
• RECONCILER_* environment variables and the --env-file override the config file
• Try running with default settings first`

	case errors.CategoryResolution:
		return `Resolution error help:
• Run 'reconciler review' to see where each item currently is
• Finalized periods accept no further changes
• Manual selections must balance to within 0.01`

	case errors.CategoryExternal:
		return `External error help:
• The ledger service or event journal could not complete the request
• Check the --journal path and retry; the period state was left unchanged`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help`
	}
}

// FormatValidationErrors formats validation errors in a user-friendly way
func FormatValidationErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}

	if len(errs) == 1 {
		return fmt.Sprintf("Validation error: %v", errs[0])
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d validation errors:", len(errs)))

	for i, err := range errs {
		lines = append(lines, fmt.Sprintf("  %d. %v", i+1, err))
		if i >= 9 && len(errs) > 10 {
			lines = append(lines, fmt.Sprintf("  ... and %d more errors", len(errs)-10))
			break
		}
	}

	return strings.Join(lines, "\n")
}

// FormatFileError formats file-related errors with helpful information
func FormatFileError(filePath string, err error) string {
	baseName := filepath.Base(filePath)
	dir := filepath.Dir(filePath)

	var message strings.Builder
	message.WriteString(fmt.Sprintf("Error with file '%s':\n", baseName))
	message.WriteString(fmt.Sprintf("  Path: %s\n", filePath))
	message.WriteString(fmt.Sprintf("  Error: %v\n", err))

	if os.IsNotExist(err) {
		message.WriteString("  Suggestion: Check if the file exists in the specified location\n")

		// offer files with a similar prefix
		if entries, dirErr := os.ReadDir(dir); dirErr == nil {
			prefix := strings.ToLower(baseName[:min(len(baseName), 3)])
			var similar []string
			for _, entry := range entries {
				if !entry.IsDir() && strings.Contains(strings.ToLower(entry.Name()), prefix) {
					similar = append(similar, entry.Name())
				}
			}
			if len(similar) > 0 {
				message.WriteString("  Similar files found:\n")
				for _, name := range similar[:min(len(similar), 3)] {
					message.WriteString(fmt.Sprintf("    - %s\n", name))
				}
			}
		}
	} else if os.IsPermission(err) {
		message.WriteString("  Suggestion: Check file permissions - you may need read access\n")
	}

	return message.String()
}

func sortedKeys(ctx errors.Context) []string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
