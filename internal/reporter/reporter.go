// Package reporter renders the state of a reconciliation period.
//
// Supported output formats:
//   - Console: styled tables for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per item for spreadsheet applications
//
// A report covers the balance projection, the per-container totals, the
// filtered rows of the attention queue, and optionally the matched set, the
// resolved log and a finalization summary.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(nil)
//	err = generator.GenerateReport(&reporter.Report{
//		Account:  "Operating",
//		Snapshot: engine.Snapshot(),
//	}, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciler"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeAttention bool `json:"include_attention" mapstructure:"include_attention"`
	IncludeMatched   bool `json:"include_matched" mapstructure:"include_matched"`
	IncludeResolved  bool `json:"include_resolved" mapstructure:"include_resolved"`

	// Console formatting options
	UseColors     bool `json:"use_colors" mapstructure:"use_colors"`
	TableMaxWidth int  `json:"table_max_width" mapstructure:"table_max_width"`
	MaxRows       int  `json:"max_rows" mapstructure:"max_rows"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"-"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`

	SortByAmount bool `json:"sort_by_amount" mapstructure:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:           FormatConsole,
		IncludeAttention: true,
		IncludeMatched:   false,
		IncludeResolved:  true,
		UseColors:        true,
		TableMaxWidth:    120,
		MaxRows:          50,
		CSVDelimiter:     ',',
		CSVHeaders:       true,
		SortByAmount:     false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max rows cannot be negative, got %d", c.MaxRows)
	}
	return nil
}

// Report is everything one rendering covers. Snapshot is required.
type Report struct {
	Account     string
	Source      string
	Snapshot    *reconciler.Snapshot
	Query       reconciler.ViewQuery
	Summary     *reconciler.FinalizationSummary
	GeneratedAt time.Time
}

// ReportGenerator generates period reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes the report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *Report, writer io.Writer) error {
	if report == nil || report.Snapshot == nil {
		return fmt.Errorf("report snapshot cannot be nil")
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now()
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

// styles are the console styles, bound to the output's renderer.
type styles struct {
	title    lipgloss.Style
	section  lipgloss.Style
	label    lipgloss.Style
	good     lipgloss.Style
	bad      lipgloss.Style
	muted    lipgloss.Style
	header   lipgloss.Style
	negative lipgloss.Style
}

func (rg *ReportGenerator) styles(writer io.Writer) styles {
	r := lipgloss.NewRenderer(writer)
	if !rg.config.UseColors {
		plain := r.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa")),
		section:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#cba6f7")),
		label:    r.NewStyle().Foreground(lipgloss.Color("#a6adc8")),
		good:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#a6e3a1")),
		bad:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("#f38ba8")),
		muted:    r.NewStyle().Foreground(lipgloss.Color("#7f849c")),
		header:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#cdd6f4")),
		negative: r.NewStyle().Foreground(lipgloss.Color("#fab387")),
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(report *Report, writer io.Writer) error {
	st := rg.styles(writer)
	snap := report.Snapshot

	title := "RECONCILIATION REPORT"
	if report.Account != "" {
		title += " - " + report.Account
	}
	fmt.Fprintln(writer, st.title.Render(title))
	if report.Source != "" {
		fmt.Fprintln(writer, st.muted.Render("Source: "+report.Source))
	}
	fmt.Fprintln(writer, st.muted.Render("Generated: "+report.GeneratedAt.Format(time.RFC3339)))
	fmt.Fprintln(writer)

	fmt.Fprintln(writer, st.section.Render("=== BALANCE ==="))
	rg.printBalance(snap.Balance(), st, writer)
	fmt.Fprintln(writer)

	fmt.Fprintln(writer, st.section.Render("=== TOTALS ==="))
	rg.printTotals(snap.Totals(), st, writer)
	fmt.Fprintln(writer)

	rows := snap.View(report.Query)
	if q := report.Query; q.Ledger != "" || q.Statement != "" {
		fmt.Fprintln(writer, st.muted.Render(fmt.Sprintf("Filter: ledger=%q statement=%q (%d rows)", q.Ledger, q.Statement, len(rows))))
		fmt.Fprintln(writer)
	}

	sections := []struct {
		container reconciler.Container
		title     string
		include   bool
	}{
		{reconciler.ContainerAttention, "=== ATTENTION QUEUE ===", rg.config.IncludeAttention},
		{reconciler.ContainerMatched, "=== MATCHED ===", rg.config.IncludeMatched},
		{reconciler.ContainerResolved, "=== RESOLVED ===", rg.config.IncludeResolved},
	}
	details := itemDetails(snap)
	for _, sec := range sections {
		if !sec.include {
			continue
		}
		selected := rowsIn(rows, sec.container)
		if len(selected) == 0 {
			continue
		}
		fmt.Fprintln(writer, st.section.Render(sec.title))
		rg.printRows(selected, details, st, writer)
		fmt.Fprintln(writer)
	}

	if report.Summary != nil {
		fmt.Fprintln(writer, st.section.Render("=== FINALIZATION ==="))
		rg.printSummary(report.Summary, st, writer)
	}
	return nil
}

func (rg *ReportGenerator) printBalance(b reconciler.PeriodBalance, st styles, writer io.Writer) {
	lines := [][2]string{
		{"Beginning Balance:", money(b.BeginningBalance)},
		{"Ledger Net Total:", money(b.LedgerNetTotal)},
		{"Ledger Balance:", money(b.LedgerBalance)},
		{"Statement Balance:", money(b.StatementBalance)},
		{"Difference:", money(b.Difference)},
	}
	for _, l := range lines {
		fmt.Fprintf(writer, "%s %s\n", st.label.Render(fmt.Sprintf("%-20s", l[0])), l[1])
	}

	status := st.good.Render("BALANCED")
	if !b.Balanced {
		status = st.bad.Render("NOT BALANCED")
	}
	fmt.Fprintf(writer, "%s %s\n", st.label.Render(fmt.Sprintf("%-20s", "Status:")), status)
}

func (rg *ReportGenerator) printTotals(t reconciler.Totals, st styles, writer io.Writer) {
	fmt.Fprintf(writer, "%s %d (%d pending, %d carried forward)\n",
		st.label.Render(fmt.Sprintf("%-20s", "Attention:")), t.AttentionCount, t.PendingCount, t.CarryForward)
	fmt.Fprintf(writer, "%s %d, net %s\n",
		st.label.Render(fmt.Sprintf("%-20s", "Matched:")), t.MatchedCount, money(t.MatchedTotal))
	fmt.Fprintf(writer, "%s %d, net %s\n",
		st.label.Render(fmt.Sprintf("%-20s", "Resolved:")), t.ResolvedCount, money(t.ResolvedTotal))

	methods := make([]string, 0, len(t.ResolvedByMethod))
	for m := range t.ResolvedByMethod {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)
	for _, m := range methods {
		fmt.Fprintf(writer, "  %s %d\n", st.muted.Render(fmt.Sprintf("%-18s", m+":")), t.ResolvedByMethod[models.ResolutionMethod(m)])
	}
}

func (rg *ReportGenerator) printRows(rows []reconciler.ViewRow, details map[string]detail, st styles, writer io.Writer) {
	if rg.config.SortByAmount {
		sort.SliceStable(rows, func(i, j int) bool {
			return rowAmount(rows[i]).GreaterThan(rowAmount(rows[j]))
		})
	}

	headers := []string{"ID", "Kind", "Ledger", "Amount", "Statement", "Amount", "Conf", "Note"}
	var table [][]string
	for i, row := range rows {
		if rg.config.MaxRows > 0 && i >= rg.config.MaxRows {
			break
		}
		d := details[row.ItemID]
		table = append(table, []string{
			row.ItemID,
			rowKind(row, d),
			ledgerText(row),
			ledgerAmount(row),
			statementText(row),
			statementAmount(row),
			confidenceText(d.confidence),
			d.note,
		})
	}

	widths := columnWidths(headers, table, rg.config.TableMaxWidth)
	fmt.Fprintln(writer, st.header.Render(formatRow(headers, widths)))
	for _, cells := range table {
		line := formatRow(cells, widths)
		if strings.HasPrefix(cells[3], "-") || strings.HasPrefix(cells[5], "-") {
			line = st.negative.Render(line)
		}
		fmt.Fprintln(writer, line)
	}
	if rg.config.MaxRows > 0 && len(rows) > rg.config.MaxRows {
		fmt.Fprintln(writer, st.muted.Render(fmt.Sprintf("... and %d more", len(rows)-rg.config.MaxRows)))
	}
}

func (rg *ReportGenerator) printSummary(s *reconciler.FinalizationSummary, st styles, writer io.Writer) {
	status := st.good.Render("BALANCED")
	if !s.Balanced {
		status = st.bad.Render("NOT BALANCED")
	}
	fmt.Fprintf(writer, "%s %s\n", st.label.Render(fmt.Sprintf("%-20s", "Finalized:")), s.FinalizedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "%s %s\n", st.label.Render(fmt.Sprintf("%-20s", "Result:")), status)
	fmt.Fprintf(writer, "%s %d (auto %d, AI-assisted %d, manual %d)\n",
		st.label.Render(fmt.Sprintf("%-20s", "Reconciled:")), s.TotalCount, s.AutoCount, s.AIAssistedCount, s.ManualCount)
	if len(s.CarryForward) > 0 {
		fmt.Fprintf(writer, "%s %d\n", st.label.Render(fmt.Sprintf("%-20s", "Carried forward:")), len(s.CarryForward))
		for _, e := range s.CarryForward {
			fmt.Fprintf(writer, "  %s %s %s\n", e.Date.Format(models.DateLayout), money(e.Amount), e.Description)
		}
	}
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	snap := report.Snapshot
	output := map[string]interface{}{
		"generated_at": report.GeneratedAt,
		"balance":      snap.Balance(),
		"totals":       snap.Totals(),
		"can_finalize": snap.CanFinalize(),
		"finalized":    snap.Finalized,
	}
	if report.Account != "" {
		output["account"] = report.Account
	}
	if report.Query.Ledger != "" || report.Query.Statement != "" {
		output["query"] = report.Query
	}

	rows := snap.View(report.Query)
	if rg.config.IncludeAttention {
		output["attention"] = nonNil(rowsIn(rows, reconciler.ContainerAttention))
	}
	if rg.config.IncludeMatched {
		output["matched"] = nonNil(rowsIn(rows, reconciler.ContainerMatched))
	}
	if rg.config.IncludeResolved {
		output["resolved"] = nonNil(rowsIn(rows, reconciler.ContainerResolved))
	}
	if report.Summary != nil {
		output["summary"] = report.Summary
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// generateCSVReport generates a CSV report with one row per item
func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	if csvWriter.Comma == 0 {
		csvWriter.Comma = ','
	}

	if rg.config.CSVHeaders {
		headers := []string{
			"Container",
			"ID",
			"Kind",
			"Ledger_IDs",
			"Ledger_Date",
			"Ledger_Description",
			"Ledger_Amount",
			"Statement_ID",
			"Statement_Date",
			"Statement_Description",
			"Statement_Amount",
			"Confidence",
			"Note",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	include := map[reconciler.Container]bool{
		reconciler.ContainerAttention: rg.config.IncludeAttention,
		reconciler.ContainerMatched:   rg.config.IncludeMatched,
		reconciler.ContainerResolved:  rg.config.IncludeResolved,
	}
	details := itemDetails(report.Snapshot)
	for _, row := range report.Snapshot.View(report.Query) {
		if !include[row.Container] {
			continue
		}
		d := details[row.ItemID]

		ids := make([]string, len(row.Ledger))
		for i, e := range row.Ledger {
			ids[i] = e.ID
		}
		record := []string{
			string(row.Container),
			row.ItemID,
			rowKind(row, d),
			strings.Join(ids, ";"),
			"", "", "",
			"", "", "", "",
			confidenceText(d.confidence),
			d.note,
		}
		if len(row.Ledger) > 0 {
			record[4] = row.Ledger[0].Date.Format(models.DateLayout)
			record[5] = ledgerText(row)
			record[6] = models.SumLedger(row.Ledger).StringFixed(2)
		}
		if s := row.Statement; s != nil {
			record[7] = s.ID
			record[8] = s.Date.Format(models.DateLayout)
			record[9] = s.Description
			record[10] = s.Amount.StringFixed(2)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write record %s: %w", row.ItemID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// detail carries the item fields a ViewRow does not.
type detail struct {
	confidence int
	kind       string
	note       string
}

func itemDetails(s *reconciler.Snapshot) map[string]detail {
	out := make(map[string]detail, len(s.Attention)+len(s.Matched)+len(s.Resolved))
	for _, item := range s.Attention {
		switch v := item.(type) {
		case *models.SimpleAnomaly:
			note := v.Explanation
			if v.Updated {
				note = "updated: " + note
			}
			out[v.ID] = detail{confidence: v.Confidence, kind: string(v.Kind), note: note}
		case *models.DuplicateCandidates:
			out[v.ID] = detail{confidence: v.Confidence, note: v.Explanation}
		case *models.OneToMany:
			out[v.ID] = detail{confidence: v.Confidence, note: v.Explanation}
		case *models.MissingInLedger:
			out[v.ID] = detail{confidence: -1, note: "ledger entry " + string(v.State)}
		case *models.MissingInBank:
			out[v.ID] = detail{confidence: -1, note: "carries forward"}
		}
	}
	for _, p := range s.Matched {
		out[p.ID] = detail{confidence: p.Confidence}
	}
	for _, r := range s.Resolved {
		out[r.ID] = detail{confidence: r.Confidence, note: r.Explanation}
	}
	return out
}

func rowsIn(rows []reconciler.ViewRow, c reconciler.Container) []reconciler.ViewRow {
	var out []reconciler.ViewRow
	for _, r := range rows {
		if r.Container == c {
			out = append(out, r)
		}
	}
	return out
}

func nonNil(rows []reconciler.ViewRow) []reconciler.ViewRow {
	if rows == nil {
		return []reconciler.ViewRow{}
	}
	return rows
}

func rowKind(row reconciler.ViewRow, d detail) string {
	switch {
	case row.Method != "":
		return string(row.Method)
	case d.kind != "":
		return d.kind
	case row.Variant != "":
		return string(row.Variant)
	}
	return "match"
}

func rowAmount(row reconciler.ViewRow) decimal.Decimal {
	if row.Statement != nil {
		return row.Statement.Amount.Abs()
	}
	return models.SumLedgerAbs(row.Ledger)
}

func ledgerText(row reconciler.ViewRow) string {
	if row.LedgerHidden {
		return "(hidden)"
	}
	switch len(row.Ledger) {
	case 0:
		return ""
	case 1:
		return row.Ledger[0].Description
	}
	return fmt.Sprintf("%s (+%d)", row.Ledger[0].Description, len(row.Ledger)-1)
}

func ledgerAmount(row reconciler.ViewRow) string {
	if len(row.Ledger) == 0 {
		return ""
	}
	return money(models.SumLedger(row.Ledger))
}

func statementText(row reconciler.ViewRow) string {
	if row.StatementHidden {
		return "(hidden)"
	}
	if row.Statement == nil {
		return ""
	}
	return row.Statement.Description
}

func statementAmount(row reconciler.ViewRow) string {
	if row.Statement == nil {
		return ""
	}
	return money(row.Statement.Amount)
}

func confidenceText(c int) string {
	if c <= 0 {
		return ""
	}
	return strconv.Itoa(c) + "%"
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// columnWidths sizes each column to its widest cell, then narrows the
// description columns until the row fits maxWidth.
func columnWidths(headers []string, rows [][]string, maxWidth int) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	total := func() int {
		sum := len(widths) - 1
		for _, w := range widths {
			sum += w
		}
		return sum
	}
	// ledger, statement and note text shrink first
	for _, col := range []int{7, 2, 4} {
		for total() > maxWidth && widths[col] > 8 {
			widths[col]--
		}
	}
	return widths
}

func formatRow(cells []string, widths []int) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = pad(truncate(cell, widths[i]), widths[i])
	}
	return strings.TrimRight(strings.Join(parts, " "), " ")
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

func pad(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
