package feed

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Script operations, one per engine command.
const (
	OpAccept              = "accept"
	OpApplySuggestion     = "apply_suggestion"
	OpResolveUpdated      = "resolve_updated"
	OpResolveDuplicates   = "resolve_duplicates"
	OpIgnoreDuplication   = "ignore_duplication"
	OpDismiss             = "dismiss"
	OpCreateLedgerEntry   = "create_ledger_entry"
	OpResolveCreated      = "resolve_created"
	OpManualResolve       = "manual_resolve"
	OpReject              = "reject"
	OpUnresolve           = "unresolve"
	OpEditLedgerEntry     = "edit_ledger_entry"
	OpAddLedgerEntry      = "add_ledger_entry"
	OpSetStatementBalance = "set_statement_balance"
	OpFinalize            = "finalize"
)

// opsWithID lists the operations that target a single item.
var opsWithID = map[string]bool{
	OpAccept:            true,
	OpApplySuggestion:   true,
	OpResolveUpdated:    true,
	OpResolveDuplicates: true,
	OpIgnoreDuplication: true,
	OpDismiss:           true,
	OpCreateLedgerEntry: true,
	OpResolveCreated:    true,
	OpReject:            true,
	OpUnresolve:         true,
	OpEditLedgerEntry:   true,
}

var knownOps = map[string]bool{
	OpManualResolve:       true,
	OpAddLedgerEntry:      true,
	OpSetStatementBalance: true,
	OpFinalize:            true,
}

func init() {
	for op := range opsWithID {
		knownOps[op] = true
	}
}

// Script is a recorded review session replayed against an engine.
type Script struct {
	Actions     []Action `yaml:"actions" json:"actions"`
	StopOnError bool     `yaml:"stop_on_error,omitempty" json:"stop_on_error,omitempty"`
}

// Action is one engine command. Only the fields its op reads are used.
type Action struct {
	Op          string   `yaml:"op" json:"op"`
	ID          string   `yaml:"id,omitempty" json:"id,omitempty"`
	Keep        []int    `yaml:"keep,omitempty" json:"keep,omitempty"`
	Ledger      []string `yaml:"ledger,omitempty" json:"ledger,omitempty"`
	Statements  []string `yaml:"statements,omitempty" json:"statements,omitempty"`
	Category    *string  `yaml:"category,omitempty" json:"category,omitempty"`
	Direction   string   `yaml:"direction,omitempty" json:"direction,omitempty"`
	Date        string   `yaml:"date,omitempty" json:"date,omitempty"`
	Description *string  `yaml:"description,omitempty" json:"description,omitempty"`
	Amount      string   `yaml:"amount,omitempty" json:"amount,omitempty"`
	// ExpectError is an error code the action must fail with.
	ExpectError errors.ErrorCode `yaml:"expect_error,omitempty" json:"expect_error,omitempty"`
}

// LoadScript reads and validates a script file.
func LoadScript(path string) (*Script, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeScript(path, data)
}

// DecodeScript parses and validates a script document.
func DecodeScript(source string, data []byte) (*Script, error) {
	var script Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&script); err != nil {
		return nil, errors.FeedError(errors.CodeInvalidFormat, errors.FeedLocation{File: source}, "malformed script", err)
	}
	if err := script.Validate(source); err != nil {
		return nil, err
	}
	return &script, nil
}

// Validate checks every action before anything runs.
func (s *Script) Validate(source string) error {
	errs := errors.NewFeedErrorCollector(0)
	add := func(code errors.ErrorCode, path, value, message string, cause error) {
		errs.Add(errors.FeedError(code, errors.FeedLocation{File: source, Path: path, Value: value}, message, cause))
	}

	for i, a := range s.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		if !knownOps[a.Op] {
			add(errors.CodeInvalidData, path+".op", a.Op, "unknown operation", nil)
			continue
		}
		if opsWithID[a.Op] && strings.TrimSpace(a.ID) == "" {
			add(errors.CodeMissingField, path+".id", "", a.Op+" needs an item id", nil)
		}

		switch a.Op {
		case OpManualResolve:
			if len(a.Ledger) == 0 && len(a.Statements) == 0 {
				add(errors.CodeMissingField, path, "", "manual_resolve needs ledger or statements", nil)
			}
		case OpAddLedgerEntry:
			switch reconciler.Direction(a.Direction) {
			case reconciler.DirectionIncome, reconciler.DirectionExpense:
			default:
				add(errors.CodeInvalidData, path+".direction", a.Direction, "direction must be income or expense", nil)
			}
			if a.Date == "" || a.Amount == "" {
				add(errors.CodeMissingField, path, "", "add_ledger_entry needs date and amount", nil)
			}
		case OpSetStatementBalance:
			if a.Amount == "" {
				add(errors.CodeMissingField, path+".amount", "", "set_statement_balance needs an amount", nil)
			}
		}

		if a.Date != "" {
			if _, err := models.ParseTimeWithFormats(a.Date); err != nil {
				add(errors.CodeInvalidDate, path+".date", a.Date, "invalid date", err)
			}
		}
		if a.Amount != "" {
			if _, err := models.ParseDecimalFromString(a.Amount); err != nil {
				add(errors.CodeInvalidAmount, path+".amount", a.Amount, "invalid amount", err)
			}
		}
	}
	return errs.Err()
}

// StepResult is the outcome of one action.
type StepResult struct {
	Index    int              `json:"index"`
	Op       string           `json:"op"`
	ID       string           `json:"id,omitempty"`
	OK       bool             `json:"ok"`
	Code     errors.ErrorCode `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
	Expected bool             `json:"expected,omitempty"`
}

// ScriptResult is the outcome of a script run.
type ScriptResult struct {
	Steps    []StepResult                    `json:"steps"`
	Failed   int                             `json:"failed"`
	Summary  *reconciler.FinalizationSummary `json:"summary,omitempty"`
	Progress logger.ProgressStats            `json:"progress"`
}

// RunScript applies the actions in order. A step fails when it errors
// without a matching expect_error, or when an expected error does not occur.
// With StopOnError the first failure ends the run and is returned.
func RunScript(ctx context.Context, engine *reconciler.Engine, script *Script, log logger.Logger) (*ScriptResult, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("script")

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "script",
		Total:     len(script.Actions),
		Logger:    log,
	})
	result := &ScriptResult{Steps: make([]StepResult, 0, len(script.Actions))}

	for i, action := range script.Actions {
		if err := ctx.Err(); err != nil {
			result.Progress = tracker.Complete()
			return result, errors.InternalError("script", err)
		}

		summary, err := apply(ctx, engine, action)
		if summary != nil {
			result.Summary = summary
		}

		step := StepResult{Index: i, Op: action.Op, ID: action.ID, OK: true}
		failure := evaluate(&step, action, err)
		result.Steps = append(result.Steps, step)
		tracker.Step(failure)

		if failure != nil {
			result.Failed++
			log.WithError(failure).WithFields(logger.Fields{
				"step": i,
				"op":   action.Op,
			}).WithItem(action.ID).Warn("Script step failed")
			if script.StopOnError {
				result.Progress = tracker.Complete()
				return result, failure
			}
		}
	}

	result.Progress = tracker.Complete()
	return result, nil
}

func evaluate(step *StepResult, action Action, err error) error {
	if err != nil {
		step.Error = err.Error()
		if rerr, ok := errors.AsReconcilerError(err); ok {
			step.Code = rerr.Code
		}
	}

	switch {
	case action.ExpectError != "" && err == nil:
		step.OK = false
		return errors.New(errors.CategoryValidation, errors.CodeInvalidData,
			fmt.Sprintf("step %d (%s) expected %s but succeeded", step.Index, action.Op, action.ExpectError))
	case action.ExpectError != "" && step.Code == action.ExpectError:
		step.Expected = true
		return nil
	case err != nil:
		step.OK = false
		return err
	}
	return nil
}

// apply runs one action. The summary is set only by finalize.
func apply(ctx context.Context, engine *reconciler.Engine, a Action) (*reconciler.FinalizationSummary, error) {
	switch a.Op {
	case OpAccept:
		return nil, engine.Accept(a.ID)
	case OpApplySuggestion:
		return nil, engine.ApplySuggestion(a.ID)
	case OpResolveUpdated:
		return nil, engine.ResolveUpdated(a.ID)
	case OpResolveDuplicates:
		_, err := engine.ResolveDuplicates(a.ID, a.Keep)
		return nil, err
	case OpIgnoreDuplication:
		return nil, engine.IgnoreDuplication(a.ID)
	case OpDismiss:
		return nil, engine.Dismiss(a.ID)
	case OpCreateLedgerEntry:
		fields := reconciler.LedgerEntryFields{}
		if a.Category != nil {
			fields.Category = *a.Category
		}
		_, err := engine.CreateLedgerEntry(ctx, a.ID, fields)
		return nil, err
	case OpResolveCreated:
		return nil, engine.ResolveCreated(a.ID)
	case OpManualResolve:
		_, err := engine.ManualResolve(a.Ledger, a.Statements)
		return nil, err
	case OpReject:
		return nil, engine.Reject(a.ID)
	case OpUnresolve:
		return nil, engine.Unresolve(a.ID)
	case OpEditLedgerEntry:
		patch, err := a.patch()
		if err != nil {
			return nil, err
		}
		return nil, engine.EditLedgerEntry(a.ID, patch)
	case OpAddLedgerEntry:
		date, amount, err := a.values()
		if err != nil {
			return nil, err
		}
		input := reconciler.NewLedgerEntry{Date: date, Amount: amount}
		if a.Description != nil {
			input.Description = *a.Description
		}
		if a.Category != nil {
			input.Category = *a.Category
		}
		_, err = engine.AddLedgerEntry(reconciler.Direction(a.Direction), input)
		return nil, err
	case OpSetStatementBalance:
		_, amount, err := a.values()
		if err != nil {
			return nil, err
		}
		return nil, engine.SetStatementBalance(amount)
	case OpFinalize:
		summary, err := engine.Finalize()
		if err != nil {
			return nil, err
		}
		return &summary, nil
	}
	return nil, errors.ValidationError(errors.CodeInvalidData, "op", a.Op, nil)
}

func (a Action) values() (time.Time, decimal.Decimal, error) {
	var date time.Time
	amount := decimal.Zero
	var err error
	if a.Date != "" {
		if date, err = models.ParseTimeWithFormats(a.Date); err != nil {
			return date, amount, errors.ValidationError(errors.CodeInvalidDate, "date", a.Date, err)
		}
	}
	if a.Amount != "" {
		if amount, err = models.ParseDecimalFromString(a.Amount); err != nil {
			return date, amount, errors.ValidationError(errors.CodeInvalidAmount, "amount", a.Amount, err)
		}
	}
	return date, amount, nil
}

func (a Action) patch() (reconciler.LedgerPatch, error) {
	date, amount, err := a.values()
	if err != nil {
		return reconciler.LedgerPatch{}, err
	}
	patch := reconciler.LedgerPatch{Description: a.Description, Category: a.Category}
	if a.Date != "" {
		patch.Date = &date
	}
	if a.Amount != "" {
		patch.Amount = &amount
	}
	return patch, nil
}
