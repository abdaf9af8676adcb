package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

func createTempCSVFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestCSVConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *CSVConfig)
		wantErr bool
	}{
		{"default ledger", func(c *CSVConfig) {}, false},
		{"no name", func(c *CSVConfig) { c.Name = " " }, true},
		{"no date column", func(c *CSVConfig) { delete(c.Columns, ColumnDate) }, true},
		{"no amount", func(c *CSVConfig) { delete(c.Columns, ColumnAmount) }, true},
		{"split amount", func(c *CSVConfig) {
			delete(c.Columns, ColumnAmount)
			c.Columns[ColumnDebit] = "out"
			c.Columns[ColumnCredit] = "in"
		}, false},
		{"no id and no prefix", func(c *CSVConfig) { delete(c.Columns, ColumnID) }, true},
		{"headerless by name", func(c *CSVConfig) { c.HasHeader = false }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultLedgerConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetStatementConfig(t *testing.T) {
	config, err := GetStatementConfig("split")
	if err != nil {
		t.Fatalf("GetStatementConfig: %v", err)
	}
	config.Columns[ColumnDebit] = "changed"

	again, _ := GetStatementConfig("split")
	if again.Columns[ColumnDebit] != "Debit" {
		t.Error("predefined layouts must not be mutable through returned copies")
	}

	if _, err := GetStatementConfig("mt940"); err == nil {
		t.Error("expected error for unknown layout")
	}
	if got := ListStatementConfigs(); strings.Join(got, ",") != "generic,semicolon,split" {
		t.Errorf("unexpected layouts %v", got)
	}
}

func TestLedgerParser_Parse(t *testing.T) {
	path := createTempCSVFile(t, `id,date,description,amount,category
l1,2024-06-27,ACME CORP INVOICE 1042,"12,500.00",Revenue
l2,2024-06-28,OFFICE RENT,-3200,Rent

l3,2024-06-30,CHEQUE 000123,-250,
`)

	parser, err := NewLedgerParser(nil)
	if err != nil {
		t.Fatalf("NewLedgerParser: %v", err)
	}
	entries, stats, err := parser.Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(entries) != 3 || stats.ValidRecords != 3 || stats.TotalRecords != 3 {
		t.Fatalf("expected 3 entries, got %d (%s)", len(entries), stats)
	}
	if !entries[0].Amount.Equal(decimal.NewFromInt(12500)) {
		t.Errorf("expected 12500, got %s", entries[0].Amount)
	}
	if entries[0].Category != "Revenue" || entries[2].Category != "" {
		t.Errorf("unexpected categories %q %q", entries[0].Category, entries[2].Category)
	}
}

func TestLedgerParser_Malformed(t *testing.T) {
	input := `id,date,description,amount
l1,2024-06-27,OK,100
l2,not-a-date,BAD DATE,100
l3,2024-06-27,BAD AMOUNT,abc
l4,2024-06-27,ZERO,0
,2024-06-27,NO ID,5
`
	parser, _ := NewLedgerParser(nil)
	entries, stats, err := parser.ParseReader(context.Background(), "ledger.csv", strings.NewReader(input))

	if len(entries) != 1 {
		t.Errorf("expected 1 valid entry, got %d", len(entries))
	}
	if stats.ErrorRecords != 4 {
		t.Errorf("expected 4 error records, got %d", stats.ErrorRecords)
	}
	summary, ok := err.(*errors.ErrorSummary)
	if !ok {
		t.Fatalf("expected an error summary, got %T", err)
	}
	for _, code := range []errors.ErrorCode{errors.CodeInvalidDate, errors.CodeInvalidAmount, errors.CodeInvalidData, errors.CodeMissingField} {
		if summary.ByCode[code] != 1 {
			t.Errorf("expected one %s error, got %d", code, summary.ByCode[code])
		}
	}
	if !strings.Contains(summary.Errors[0].Error(), "ledger.csv:line 3") {
		t.Errorf("expected the location in the message, got %q", summary.Errors[0].Error())
	}
}

func TestLedgerParser_MissingHeaders(t *testing.T) {
	parser, _ := NewLedgerParser(nil)
	_, _, err := parser.ParseReader(context.Background(), "ledger.csv", strings.NewReader("id,when,amount\nl1,2024-06-01,5\n"))
	if !errors.HasCode(err, errors.CodeInvalidFormat) {
		t.Errorf("expected invalid format, got %v", err)
	}

	_, _, err = parser.ParseReader(context.Background(), "ledger.csv", strings.NewReader(""))
	if !errors.HasCode(err, errors.CodeInvalidFormat) {
		t.Errorf("expected invalid format for empty input, got %v", err)
	}
}

func TestLedgerParser_FileNotFound(t *testing.T) {
	parser, _ := NewLedgerParser(nil)
	_, _, err := parser.Parse(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.HasCode(err, errors.CodeFileNotFound) {
		t.Errorf("expected file not found, got %v", err)
	}
}

func TestStatementParser_Layouts(t *testing.T) {
	tests := []struct {
		layout  string
		input   string
		ids     []string
		amounts []string
	}{
		{
			layout:  "generic",
			input:   "id,date,description,amount\ns1,2024-06-29,ACME CORP,12500\ns2,2024-06-30,BANK FEE,-35\n",
			ids:     []string{"s1", "s2"},
			amounts: []string{"12500", "-35"},
		},
		{
			layout:  "split",
			input:   "Reference,Posting Date,Details,Debit,Credit\nR1,29/06/2024,ACME CORP,,12500.00\nR2,30/06/2024,BANK FEE,35.00,\n",
			ids:     []string{"R1", "R2"},
			amounts: []string{"12500", "-35"},
		},
		{
			layout:  "semicolon",
			input:   "Datum;Omschrijving;Bedrag\n2024-06-29;ACME CORP;12500\n2024-06-30;BANK FEE;-35\n",
			ids:     []string{"stmt-2", "stmt-3"},
			amounts: []string{"12500", "-35"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.layout, func(t *testing.T) {
			config, err := GetStatementConfig(tt.layout)
			if err != nil {
				t.Fatal(err)
			}
			parser, err := NewStatementParser(config)
			if err != nil {
				t.Fatalf("NewStatementParser: %v", err)
			}

			entries, _, err := parser.ParseReader(context.Background(), tt.layout+".csv", strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ParseReader: %v", err)
			}
			if len(entries) != len(tt.ids) {
				t.Fatalf("expected %d entries, got %d", len(tt.ids), len(entries))
			}
			for i, e := range entries {
				if e.ID != tt.ids[i] {
					t.Errorf("entry %d: expected id %s, got %s", i, tt.ids[i], e.ID)
				}
				if !e.Amount.Equal(decimal.RequireFromString(tt.amounts[i])) {
					t.Errorf("entry %d: expected amount %s, got %s", i, tt.amounts[i], e.Amount)
				}
			}
			if entries[0].Date.Day() != 29 || entries[0].Date.Month() != 6 {
				t.Errorf("expected 29 June, got %s", entries[0].Date)
			}
		})
	}
}

func TestStatementParser_Headerless(t *testing.T) {
	config := &CSVConfig{
		Name:      "positional",
		Delimiter: ',',
		Columns:   map[string]string{ColumnDate: "#0", ColumnAmount: "#1", ColumnDescription: "#2"},
		IDPrefix:  "row-",
	}
	parser, err := NewStatementParser(config)
	if err != nil {
		t.Fatalf("NewStatementParser: %v", err)
	}

	entries, _, err := parser.ParseReader(context.Background(), "pos.csv", strings.NewReader("2024-06-01,10.50,COFFEE\n"))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "row-1" || entries[0].Description != "COFFEE" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestStatementParser_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parser, _ := NewStatementParser(nil)
	_, _, err := parser.ParseReader(ctx, "s.csv", strings.NewReader("id,date,description,amount\ns1,2024-06-01,X,1\n"))
	if err == nil {
		t.Error("expected an error for a cancelled context")
	}
}
