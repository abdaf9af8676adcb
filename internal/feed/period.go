// Package feed loads the documents a reconciliation session starts from: a
// period file with both entry feeds, balances and match suggestions, and an
// optional script of review actions.
//
// Period files are YAML. Entry feeds can be inline or point at CSV exports
// next to the document:
//
//	account: Operating
//	beginning_balance: "130347.28"
//	statement_balance: "142890.50"
//	ledger_file: {path: ledger.csv}
//	statement_file: {path: statement.csv, format: split}
//	suggestions:
//	  - {type: anomaly, kind: DateOffset, statement_id: s1, ledger_ids: [l1], confidence: 92}
//
// Every decoding problem is reported with its location, not just the first.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reconciliation-engine/internal/matcher"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/parsers"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk shape of a period file. Amounts and dates are kept
// as text so problems can be reported with the offending value.
type Document struct {
	Account          string               `yaml:"account"`
	PeriodStart      string               `yaml:"period_start,omitempty"`
	PeriodEnd        string               `yaml:"period_end,omitempty"`
	BeginningBalance string               `yaml:"beginning_balance"`
	StatementBalance string               `yaml:"statement_balance"`
	Ledger           []EntryDocument      `yaml:"ledger,omitempty"`
	Statements       []EntryDocument      `yaml:"statements,omitempty"`
	LedgerFile       *FileRef             `yaml:"ledger_file,omitempty"`
	StatementFile    *FileRef             `yaml:"statement_file,omitempty"`
	Suggestions      []matcher.Suggestion `yaml:"suggestions,omitempty"`
	Matched          []MatchedDocument    `yaml:"matched,omitempty"`
}

// EntryDocument is one ledger or statement line.
type EntryDocument struct {
	ID          string `yaml:"id"`
	Date        string `yaml:"date"`
	Description string `yaml:"description"`
	Amount      string `yaml:"amount"`
	Category    string `yaml:"category,omitempty"`
	Manual      bool   `yaml:"manual,omitempty"`
}

// FileRef points at a CSV export. Relative paths resolve against the period
// file. Format names a statement layout; ledger files always use the
// accounting export layout.
type FileRef struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format,omitempty"`
}

// MatchedDocument is a pair confirmed in an earlier session.
type MatchedDocument struct {
	ID          string `yaml:"id,omitempty"`
	LedgerID    string `yaml:"ledger_id"`
	StatementID string `yaml:"statement_id"`
	Confidence  int    `yaml:"confidence"`
}

// Period is a decoded period file.
type Period struct {
	Source           string
	Account          string
	Start            time.Time
	End              time.Time
	BeginningBalance decimal.Decimal
	StatementBalance decimal.Decimal
	Ledger           []models.LedgerEntry
	Statements       []models.StatementEntry
	Suggestions      []matcher.Suggestion
	LedgerFile       *FileRef
	StatementFile    *FileRef
}

// Loader reads period files and turns them into engine imports.
type Loader struct {
	matching *matcher.MatchingConfig
	logger   logger.Logger
}

// NewLoader creates a loader. A nil matching config uses the defaults.
func NewLoader(matching *matcher.MatchingConfig, log logger.Logger) *Loader {
	if matching == nil {
		matching = matcher.DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Loader{matching: matching, logger: log.WithComponent("feed")}
}

// Load reads the period file at path and any CSV exports it references.
func (l *Loader) Load(ctx context.Context, path string) (*Period, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	period, err := l.Decode(path, data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	if ref := period.LedgerFile; ref != nil {
		parser, err := parsers.NewLedgerParser(nil)
		if err != nil {
			return nil, err
		}
		entries, _, err := parser.Parse(ctx, resolvePath(base, ref.Path))
		if err != nil {
			return nil, err
		}
		period.Ledger = append(period.Ledger, entries...)
	}
	if ref := period.StatementFile; ref != nil {
		format := ref.Format
		if format == "" {
			format = "generic"
		}
		config, err := parsers.GetStatementConfig(format)
		if err != nil {
			return nil, errors.FeedError(errors.CodeInvalidFormat,
				errors.FeedLocation{File: path, Path: "statement_file.format", Value: ref.Format}, "unknown statement format", err)
		}
		parser, err := parsers.NewStatementParser(config)
		if err != nil {
			return nil, err
		}
		entries, _, err := parser.Parse(ctx, resolvePath(base, ref.Path))
		if err != nil {
			return nil, err
		}
		period.Statements = append(period.Statements, entries...)
	}

	l.logger.WithFields(logger.Fields{
		"file_path":   path,
		"account":     period.Account,
		"ledger":      len(period.Ledger),
		"statements":  len(period.Statements),
		"suggestions": len(period.Suggestions),
	}).Info("Loaded period")

	l.warnOutsidePeriod(period)
	return period, nil
}

// Decode parses a period document. source names it in errors. CSV references
// are recorded on the Period but not read.
func (l *Loader) Decode(source string, data []byte) (*Period, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.FeedError(errors.CodeInvalidFormat, errors.FeedLocation{File: source}, "malformed period document", err).
			WithSuggestion("check the YAML syntax and field names")
	}

	d := &decoder{source: source, errs: errors.NewFeedErrorCollector(0)}
	period := &Period{
		Source:        source,
		Account:       strings.TrimSpace(doc.Account),
		LedgerFile:    doc.LedgerFile,
		StatementFile: doc.StatementFile,
	}

	period.Start = d.optionalDate("period_start", doc.PeriodStart)
	period.End = d.optionalDate("period_end", doc.PeriodEnd)
	if !period.Start.IsZero() && !period.End.IsZero() && period.End.Before(period.Start) {
		d.add(errors.CodeInvalidDate, "period_end", doc.PeriodEnd, "period ends before it starts", nil)
	}
	period.BeginningBalance = d.amount("beginning_balance", doc.BeginningBalance, true)
	period.StatementBalance = d.amount("statement_balance", doc.StatementBalance, true)

	for i, e := range doc.Ledger {
		path := fmt.Sprintf("ledger[%d]", i)
		period.Ledger = append(period.Ledger, models.LedgerEntry{
			ID:          d.id(path, e.ID),
			Date:        d.date(path+".date", e.Date),
			Description: strings.TrimSpace(e.Description),
			Amount:      d.amount(path+".amount", e.Amount, false),
			Category:    strings.TrimSpace(e.Category),
			Manual:      e.Manual,
		})
	}
	for i, e := range doc.Statements {
		path := fmt.Sprintf("statements[%d]", i)
		if e.Category != "" || e.Manual {
			d.add(errors.CodeInvalidData, path, e.ID, "statement lines carry no category or manual flag", nil)
		}
		period.Statements = append(period.Statements, models.StatementEntry{
			ID:          d.id(path, e.ID),
			Date:        d.date(path+".date", e.Date),
			Description: strings.TrimSpace(e.Description),
			Amount:      d.amount(path+".amount", e.Amount, false),
		})
	}

	if ref := doc.LedgerFile; ref != nil && strings.TrimSpace(ref.Path) == "" {
		d.add(errors.CodeMissingField, "ledger_file.path", "", "path is required", nil)
	}
	if ref := doc.StatementFile; ref != nil && strings.TrimSpace(ref.Path) == "" {
		d.add(errors.CodeMissingField, "statement_file.path", "", "path is required", nil)
	}

	period.Suggestions = append(period.Suggestions, doc.Suggestions...)
	for i, m := range doc.Matched {
		path := fmt.Sprintf("matched[%d]", i)
		if m.LedgerID == "" || m.StatementID == "" {
			d.add(errors.CodeMissingField, path, m.ID, "ledger_id and statement_id are required", nil)
			continue
		}
		confidence := m.Confidence
		if confidence == 0 {
			confidence = 100
		}
		period.Suggestions = append(period.Suggestions, matcher.Suggestion{
			ID:          m.ID,
			Type:        matcher.SuggestMatch,
			StatementID: m.StatementID,
			LedgerIDs:   []string{m.LedgerID},
			Confidence:  confidence,
			Confirmed:   true,
		})
	}

	if err := d.errs.Err(); err != nil {
		return nil, err
	}
	return period, nil
}

// Import builds the engine import for a period. When the document carries no
// suggestions beyond confirmed matches, the offline suggester fills them in
// for the entries the confirmed matches leave unclaimed.
func (l *Loader) Import(period *Period) (reconciler.PeriodImport, *matcher.Assembly, error) {
	suggestions := period.Suggestions
	if !hasOpenSuggestions(suggestions) {
		generated, err := l.suggest(period)
		if err != nil {
			return reconciler.PeriodImport{}, nil, err
		}
		suggestions = append(append([]matcher.Suggestion{}, suggestions...), generated...)
	}

	assembly, err := matcher.Assemble(matcher.Feed{
		Source:      period.Source,
		Ledger:      period.Ledger,
		Statements:  period.Statements,
		Suggestions: suggestions,
	}, l.matching)
	if err != nil {
		return reconciler.PeriodImport{}, nil, err
	}

	l.logger.WithFields(logger.Fields{
		"account":      period.Account,
		"auto_matched": assembly.Stats.AutoMatched,
		"attention":    assembly.Stats.Attention,
	}).Info("Assembled period")

	return reconciler.PeriodImport{
		BeginningBalance: period.BeginningBalance,
		StatementBalance: period.StatementBalance,
		Attention:        assembly.Attention,
		Matched:          assembly.Matched,
	}, assembly, nil
}

func (l *Loader) suggest(period *Period) ([]matcher.Suggestion, error) {
	suggester, err := matcher.NewSuggester(l.matching, l.logger)
	if err != nil {
		return nil, err
	}

	claimedLedger := make(map[string]bool)
	claimedStmts := make(map[string]bool)
	for _, s := range period.Suggestions {
		claimedStmts[s.StatementID] = true
		for _, id := range s.LedgerIDs {
			claimedLedger[id] = true
		}
	}

	ledger := make([]models.LedgerEntry, 0, len(period.Ledger))
	for _, e := range period.Ledger {
		if !claimedLedger[e.ID] {
			ledger = append(ledger, e)
		}
	}
	statements := make([]models.StatementEntry, 0, len(period.Statements))
	for _, s := range period.Statements {
		if !claimedStmts[s.ID] {
			statements = append(statements, s)
		}
	}

	suggestions, stats := suggester.Suggest(ledger, statements)
	l.logger.WithFields(logger.Fields{
		"statements": stats.Statements,
		"ledger":     stats.Ledger,
		"unclaimed":  stats.Unclaimed,
	}).Info("Generated match suggestions")
	return suggestions, nil
}

func (l *Loader) warnOutsidePeriod(period *Period) {
	if period.Start.IsZero() || period.End.IsZero() {
		return
	}
	outside := func(t time.Time) bool { return t.Before(period.Start) || t.After(period.End) }
	count := 0
	for _, e := range period.Ledger {
		if outside(e.Date) {
			count++
		}
	}
	for _, s := range period.Statements {
		if outside(s.Date) {
			count++
		}
	}
	if count > 0 {
		l.logger.WithFields(logger.Fields{
			"period_start": period.Start.Format(models.DateLayout),
			"period_end":   period.End.Format(models.DateLayout),
			"entries":      count,
		}).Warn("Entries dated outside the period")
	}
}

func hasOpenSuggestions(suggestions []matcher.Suggestion) bool {
	for _, s := range suggestions {
		if !s.Confirmed {
			return true
		}
	}
	return false
}

// decoder converts document text into typed values, collecting every problem.
type decoder struct {
	source string
	errs   *errors.FeedErrorCollector
}

func (d *decoder) add(code errors.ErrorCode, path, value, message string, cause error) {
	d.errs.Add(errors.FeedError(code, errors.FeedLocation{File: d.source, Path: path, Value: value}, message, cause))
}

func (d *decoder) id(path, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		d.add(errors.CodeMissingField, path+".id", "", "id is required", nil)
	}
	return id
}

func (d *decoder) date(path, value string) time.Time {
	t, err := models.ParseTimeWithFormats(value)
	if err != nil {
		d.add(errors.CodeInvalidDate, path, value, "invalid date", err)
	}
	return t
}

func (d *decoder) optionalDate(path, value string) time.Time {
	if strings.TrimSpace(value) == "" {
		return time.Time{}
	}
	return d.date(path, value)
}

func (d *decoder) amount(path, value string, allowZero bool) decimal.Decimal {
	if strings.TrimSpace(value) == "" {
		d.add(errors.CodeMissingField, path, "", "amount is required", nil)
		return decimal.Zero
	}
	amount, err := models.ParseDecimalFromString(value)
	if err != nil {
		d.add(errors.CodeInvalidAmount, path, value, "invalid amount", err)
		return decimal.Zero
	}
	if amount.IsZero() && !allowZero {
		d.add(errors.CodeInvalidAmount, path, value, "amount cannot be zero", nil)
	}
	return amount
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeInvalidFormat, path, err)
	}
	return data, nil
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
