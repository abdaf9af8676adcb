// Package parsers reads ledger and bank statement CSV exports into entries.
//
// Exports differ in delimiter, header names, date layout and in whether the
// amount is one signed column or a debit/credit pair. A CSVConfig captures
// one layout; predefined statement layouts are available by name.
//
// Example usage:
//
//	parser, err := NewStatementParser(nil)
//	statements, stats, err := parser.Parse(ctx, "statement.csv")
//
// Every malformed row is reported, not just the first one.
package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// ParseStats counts the rows of one file
type ParseStats struct {
	TotalRecords int `json:"total_records"`
	ValidRecords int `json:"valid_records"`
	ErrorRecords int `json:"error_records"`
}

func (ps *ParseStats) String() string {
	return fmt.Sprintf("ParseStats{Total: %d, Valid: %d, Errors: %d}",
		ps.TotalRecords, ps.ValidRecords, ps.ErrorRecords)
}

// BaseParser provides the CSV plumbing shared by the ledger and statement parsers
type BaseParser struct {
	config *CSVConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *CSVConfig, component string) (*BaseParser, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "csv."+config.Name, config.Name, err)
	}

	log := logger.GetGlobalLogger().WithComponent(component)
	log.WithFields(logger.Fields{
		"layout":     config.Name,
		"has_header": config.HasHeader,
		"delimiter":  string(config.Delimiter),
	}).Debug("Created parser")

	return &BaseParser{config: config, logger: log}, nil
}

// row is one data record with header-based lookup
type row struct {
	line    int
	values  []string
	headers map[string]int
}

func (r row) get(column string) (string, bool) {
	if column == "" {
		return "", false
	}
	idx := -1
	if strings.HasPrefix(column, "#") {
		if n, err := strconv.Atoi(column[1:]); err == nil {
			idx = n
		}
	} else if i, ok := r.headers[strings.ToLower(column)]; ok {
		idx = i
	}
	if idx < 0 || idx >= len(r.values) {
		return "", false
	}
	return strings.TrimSpace(r.values[idx]), true
}

// each opens path and calls fn for every data row. Row errors returned by fn
// are collected; file and header problems abort.
func (bp *BaseParser) each(ctx context.Context, path string, fn func(r row) error) (*ParseStats, error) {
	file, err := os.Open(path)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", path).Error("Failed to open CSV file")
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeInvalidFormat, path, err)
	}
	defer file.Close()

	return bp.read(ctx, path, file, fn)
}

func (bp *BaseParser) read(ctx context.Context, path string, in io.Reader, fn func(r row) error) (*ParseStats, error) {
	reader := csv.NewReader(in)
	if bp.config.Delimiter != 0 {
		reader.Comma = bp.config.Delimiter
	}
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers := make(map[string]int)
	line := 0
	if bp.config.HasHeader {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, errors.FeedError(errors.CodeInvalidFormat, errors.FeedLocation{File: path, Path: "line 1"}, "file is empty", nil)
		}
		if err != nil {
			return nil, errors.FeedError(errors.CodeInvalidFormat, errors.FeedLocation{File: path, Path: "line 1"}, "unreadable header row", err)
		}
		line++
		for i, h := range record {
			headers[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
		}

		var missing []string
		for _, h := range bp.config.requiredHeaders() {
			if _, ok := headers[strings.ToLower(h)]; !ok {
				missing = append(missing, h)
			}
		}
		if len(missing) > 0 {
			return nil, errors.FeedError(errors.CodeInvalidFormat, errors.FeedLocation{File: path, Path: "line 1", Value: strings.Join(missing, ", ")},
				"required headers are missing", nil).
				WithSuggestion(fmt.Sprintf("ensure the CSV file contains these headers: %s", strings.Join(missing, ", ")))
		}
	}

	stats := &ParseStats{}
	collector := errors.NewFeedErrorCollector(0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.InternalError("csv parsing", err)
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			stats.TotalRecords++
			stats.ErrorRecords++
			collector.Add(errors.FeedError(errors.CodeInvalidFormat, bp.loc(path, line, ""), "malformed CSV record", err))
			continue
		}
		if isEmptyRecord(record) {
			continue
		}

		stats.TotalRecords++
		if err := fn(row{line: line, values: record, headers: headers}); err != nil {
			stats.ErrorRecords++
			collector.Add(err)
			continue
		}
		stats.ValidRecords++
	}

	bp.logger.WithFields(logger.Fields{
		"file_path":     path,
		"total_records": stats.TotalRecords,
		"valid_records": stats.ValidRecords,
		"error_records": stats.ErrorRecords,
	}).Info("CSV parsing completed")

	return stats, collector.Err()
}

func (bp *BaseParser) loc(path string, line int, column string) errors.FeedLocation {
	p := fmt.Sprintf("line %d", line)
	if column != "" {
		p += ", column " + column
	}
	return errors.FeedLocation{File: path, Path: p}
}

// fields extracts the columns every entry carries
func (bp *BaseParser) fields(path string, r row) (id string, date time.Time, desc string, amount decimal.Decimal, err error) {
	if col := bp.config.GetColumnName(ColumnID); col != "" {
		id, _ = r.get(col)
		if id == "" {
			return "", time.Time{}, "", decimal.Zero,
				errors.FeedError(errors.CodeMissingField, bp.loc(path, r.line, col), "id is empty", nil)
		}
	} else {
		id = fmt.Sprintf("%s%d", bp.config.IDPrefix, r.line)
	}

	dateCol := bp.config.GetColumnName(ColumnDate)
	dateStr, _ := r.get(dateCol)
	if date, err = bp.parseDate(dateStr); err != nil {
		return "", time.Time{}, "", decimal.Zero,
			errors.FeedError(errors.CodeInvalidDate, errors.FeedLocation{File: path, Path: bp.loc(path, r.line, dateCol).Path, Value: dateStr}, "invalid date", err)
	}

	desc, _ = r.get(bp.config.GetColumnName(ColumnDescription))

	if amount, err = bp.parseAmount(path, r); err != nil {
		return "", time.Time{}, "", decimal.Zero, err
	}
	return id, date, desc, amount, nil
}

func (bp *BaseParser) parseDate(s string) (time.Time, error) {
	if bp.config.DateFormat != "" {
		return time.Parse(bp.config.DateFormat, strings.TrimSpace(s))
	}
	return models.ParseTimeWithFormats(s)
}

// parseAmount reads the signed amount, or credit minus debit for split layouts
func (bp *BaseParser) parseAmount(path string, r row) (decimal.Decimal, error) {
	if !bp.config.SplitAmount() {
		col := bp.config.GetColumnName(ColumnAmount)
		s, _ := r.get(col)
		amount, err := models.ParseDecimalFromString(s)
		if err != nil {
			return decimal.Zero, errors.FeedError(errors.CodeInvalidAmount,
				errors.FeedLocation{File: path, Path: bp.loc(path, r.line, col).Path, Value: s}, "invalid amount", err)
		}
		return amount, nil
	}

	amount := decimal.Zero
	for _, side := range []struct {
		column string
		sign   int64
	}{
		{bp.config.GetColumnName(ColumnCredit), 1},
		{bp.config.GetColumnName(ColumnDebit), -1},
	} {
		s, _ := r.get(side.column)
		if s == "" {
			continue
		}
		value, err := models.ParseDecimalFromString(s)
		if err != nil {
			return decimal.Zero, errors.FeedError(errors.CodeInvalidAmount,
				errors.FeedLocation{File: path, Path: bp.loc(path, r.line, side.column).Path, Value: s}, "invalid amount", err)
		}
		amount = amount.Add(value.Abs().Mul(decimal.NewFromInt(side.sign)))
	}
	return amount, nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
