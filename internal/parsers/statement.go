package parsers

import (
	"context"
	"io"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

// StatementParser reads bank statement exports
type StatementParser struct {
	*BaseParser
}

// NewStatementParser creates a statement parser; a nil config selects the
// generic layout
func NewStatementParser(config *CSVConfig) (*StatementParser, error) {
	if config == nil {
		var err error
		if config, err = GetStatementConfig("generic"); err != nil {
			return nil, err
		}
	}
	base, err := NewBaseParser(config, "statement_parser")
	if err != nil {
		return nil, err
	}
	return &StatementParser{BaseParser: base}, nil
}

// Parse reads a statement CSV file
func (sp *StatementParser) Parse(ctx context.Context, path string) ([]models.StatementEntry, *ParseStats, error) {
	var entries []models.StatementEntry
	stats, err := sp.each(ctx, path, func(r row) error {
		entry, err := sp.entry(path, r)
		if err == nil {
			entries = append(entries, entry)
		}
		return err
	})
	return entries, stats, err
}

// ParseReader reads a statement CSV from in; name is used in error locations
func (sp *StatementParser) ParseReader(ctx context.Context, name string, in io.Reader) ([]models.StatementEntry, *ParseStats, error) {
	var entries []models.StatementEntry
	stats, err := sp.read(ctx, name, in, func(r row) error {
		entry, err := sp.entry(name, r)
		if err == nil {
			entries = append(entries, entry)
		}
		return err
	})
	return entries, stats, err
}

func (sp *StatementParser) entry(path string, r row) (models.StatementEntry, error) {
	id, date, desc, amount, err := sp.fields(path, r)
	if err != nil {
		return models.StatementEntry{}, err
	}

	entry := models.StatementEntry{ID: id, Date: date, Description: desc, Amount: amount}
	if err := entry.Validate(); err != nil {
		return models.StatementEntry{}, errors.FeedError(errors.CodeInvalidData, sp.loc(path, r.line, ""), "invalid statement entry", err)
	}
	return entry, nil
}
