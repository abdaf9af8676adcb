package parsers

import (
	"fmt"
	"sort"
	"strings"
)

// Standard column names. Configs map them to the headers of a given export.
const (
	ColumnID          = "id"
	ColumnDate        = "date"
	ColumnDescription = "description"
	ColumnAmount      = "amount"
	ColumnDebit       = "debit"
	ColumnCredit      = "credit"
	ColumnCategory    = "category"
)

// CSVConfig describes one CSV export layout for ledger or statement entries
type CSVConfig struct {
	Name        string `json:"name" mapstructure:"name"`
	HasHeader   bool   `json:"has_header" mapstructure:"has_header"`
	Delimiter   rune   `json:"delimiter" mapstructure:"-"`
	DateFormat  string `json:"date_format,omitempty" mapstructure:"date_format"`
	Description string `json:"description,omitempty" mapstructure:"description"`

	// Columns maps standard column names to headers. When amount is unmapped
	// the signed amount is credit minus debit.
	Columns map[string]string `json:"columns" mapstructure:"columns"`

	// IDPrefix generates ids from the line number when no id column is mapped
	IDPrefix string `json:"id_prefix,omitempty" mapstructure:"id_prefix"`
}

// Validate checks if the CSV configuration is valid
func (c *CSVConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("config name cannot be empty")
	}
	if c.Columns[ColumnDate] == "" {
		return fmt.Errorf("%s: date column cannot be empty", c.Name)
	}
	if c.Columns[ColumnAmount] == "" && (c.Columns[ColumnDebit] == "" || c.Columns[ColumnCredit] == "") {
		return fmt.Errorf("%s: map either the amount column or both debit and credit", c.Name)
	}
	if c.Columns[ColumnID] == "" && c.IDPrefix == "" {
		return fmt.Errorf("%s: map the id column or set an id prefix", c.Name)
	}
	if !c.HasHeader {
		for name, col := range c.Columns {
			if !strings.HasPrefix(col, "#") {
				return fmt.Errorf("%s: headerless files address columns by position, got %s=%q", c.Name, name, col)
			}
		}
	}
	return nil
}

// GetColumnName returns the header for a standard column name, or "" when
// the layout does not carry it
func (c *CSVConfig) GetColumnName(standardName string) string {
	return c.Columns[standardName]
}

// SplitAmount reports whether amounts come from separate debit and credit columns
func (c *CSVConfig) SplitAmount() bool {
	return c.Columns[ColumnAmount] == ""
}

// requiredHeaders lists the mapped headers that must be present
func (c *CSVConfig) requiredHeaders() []string {
	var headers []string
	for _, name := range []string{ColumnID, ColumnDate, ColumnAmount, ColumnDebit, ColumnCredit} {
		if col := c.Columns[name]; col != "" {
			headers = append(headers, col)
		}
	}
	return headers
}

// DefaultLedgerConfig is the layout written by the accounting export
func DefaultLedgerConfig() *CSVConfig {
	return &CSVConfig{
		Name:      "ledger",
		HasHeader: true,
		Delimiter: ',',
		Columns: map[string]string{
			ColumnID:          "id",
			ColumnDate:        "date",
			ColumnDescription: "description",
			ColumnAmount:      "amount",
			ColumnCategory:    "category",
		},
		Description: "Accounting system ledger export",
	}
}

var statementConfigs = map[string]*CSVConfig{
	"generic": {
		Name:      "generic",
		HasHeader: true,
		Delimiter: ',',
		Columns: map[string]string{
			ColumnID:          "id",
			ColumnDate:        "date",
			ColumnDescription: "description",
			ColumnAmount:      "amount",
		},
		Description: "Signed amount column with line ids",
	},
	"split": {
		Name:       "split",
		HasHeader:  true,
		Delimiter:  ',',
		DateFormat: "02/01/2006",
		Columns: map[string]string{
			ColumnID:          "Reference",
			ColumnDate:        "Posting Date",
			ColumnDescription: "Details",
			ColumnDebit:       "Debit",
			ColumnCredit:      "Credit",
		},
		Description: "Separate debit and credit columns, day-first dates",
	},
	"semicolon": {
		Name:      "semicolon",
		HasHeader: true,
		Delimiter: ';',
		Columns: map[string]string{
			ColumnDate:        "Datum",
			ColumnDescription: "Omschrijving",
			ColumnAmount:      "Bedrag",
		},
		IDPrefix:    "stmt-",
		Description: "Semicolon separated export without line ids",
	},
}

// GetStatementConfig returns a copy of a predefined statement layout by name
func GetStatementConfig(name string) (*CSVConfig, error) {
	config, ok := statementConfigs[name]
	if !ok {
		return nil, fmt.Errorf("unknown statement format %q (available: %s)", name, strings.Join(ListStatementConfigs(), ", "))
	}
	c := *config
	c.Columns = make(map[string]string, len(config.Columns))
	for k, v := range config.Columns {
		c.Columns[k] = v
	}
	return &c, nil
}

// ListStatementConfigs returns the names of the predefined statement layouts
func ListStatementConfigs() []string {
	names := make([]string, 0, len(statementConfigs))
	for name := range statementConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
