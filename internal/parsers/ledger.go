package parsers

import (
	"context"
	"io"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

// LedgerParser reads ledger exports
type LedgerParser struct {
	*BaseParser
}

// NewLedgerParser creates a ledger parser; a nil config selects DefaultLedgerConfig
func NewLedgerParser(config *CSVConfig) (*LedgerParser, error) {
	if config == nil {
		config = DefaultLedgerConfig()
	}
	base, err := NewBaseParser(config, "ledger_parser")
	if err != nil {
		return nil, err
	}
	return &LedgerParser{BaseParser: base}, nil
}

// Parse reads a ledger CSV file. Rows are validated like any other ledger
// entry: a zero amount or a missing id is an error.
func (lp *LedgerParser) Parse(ctx context.Context, path string) ([]models.LedgerEntry, *ParseStats, error) {
	var entries []models.LedgerEntry
	stats, err := lp.each(ctx, path, func(r row) error {
		entry, err := lp.entry(path, r)
		if err == nil {
			entries = append(entries, entry)
		}
		return err
	})
	return entries, stats, err
}

// ParseReader reads a ledger CSV from in; name is used in error locations
func (lp *LedgerParser) ParseReader(ctx context.Context, name string, in io.Reader) ([]models.LedgerEntry, *ParseStats, error) {
	var entries []models.LedgerEntry
	stats, err := lp.read(ctx, name, in, func(r row) error {
		entry, err := lp.entry(name, r)
		if err == nil {
			entries = append(entries, entry)
		}
		return err
	})
	return entries, stats, err
}

func (lp *LedgerParser) entry(path string, r row) (models.LedgerEntry, error) {
	id, date, desc, amount, err := lp.fields(path, r)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	category, _ := r.get(lp.config.GetColumnName(ColumnCategory))

	entry := models.LedgerEntry{ID: id, Date: date, Description: desc, Amount: amount, Category: category}
	if err := entry.Validate(); err != nil {
		return models.LedgerEntry{}, errors.FeedError(errors.CodeInvalidData, lp.loc(path, r.line, ""), "invalid ledger entry", err)
	}
	return entry, nil
}
