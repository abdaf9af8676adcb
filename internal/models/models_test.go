package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   LedgerEntry
		wantErr bool
	}{
		{"valid", LedgerEntry{ID: "L1", Date: date("2024-06-28"), Description: "WIRE", Amount: dec("12500")}, false},
		{"missing id", LedgerEntry{Date: date("2024-06-28"), Amount: dec("1")}, true},
		{"zero amount", LedgerEntry{ID: "L1", Date: date("2024-06-28"), Amount: decimal.Zero}, true},
		{"zero date", LedgerEntry{ID: "L1", Amount: dec("1")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.entry.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedgerEntry_JSON(t *testing.T) {
	entry := LedgerEntry{
		ID:          "L1",
		Date:        date("2024-06-28"),
		Description: "WIRE TRF - ACME CORP",
		Amount:      dec("-4812.50"),
		Category:    "Tax",
	}

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"date":"2024-06-28"`) || !strings.Contains(string(data), `"amount":"-4812.5"`) {
		t.Errorf("unexpected encoding %s", data)
	}

	var decoded LedgerEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.Equals(entry) {
		t.Errorf("expected %v, got %v", entry, decoded)
	}
}

func TestStatementEntry_UnmarshalLenientAmount(t *testing.T) {
	var s StatementEntry
	err := json.Unmarshal([]byte(`{"id":"S1","date":"29 Jun 2024","description":"ACME CORP WIRE","amount":"£12,500.00"}`), &s)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !s.Amount.Equal(dec("12500")) {
		t.Errorf("expected 12500, got %s", s.Amount)
	}
	if !s.Date.Equal(date("2024-06-29")) {
		t.Errorf("expected 2024-06-29, got %s", s.Date)
	}
}

func TestSearchText(t *testing.T) {
	s := StatementEntry{ID: "S1", Date: date("2024-06-29"), Description: "ACME CORP WIRE", Amount: dec("1")}
	text := s.SearchText()
	for _, want := range []string{"acme corp wire", "2024-06-29", "29 jun"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"100.00", "100.00", true},
		{"100.00", "100.0099", true},
		{"100.00", "100.01", false},
		{"-4812.00", "-4812.50", false},
		{"0", "-0.0099", true},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			if got := WithinTolerance(dec(tt.a), dec(tt.b)); got != tt.want {
				t.Errorf("WithinTolerance(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12500", "12500", false},
		{"$1,234.56", "1234.56", false},
		{" -35.00 ", "-35", false},
		{"€9,000", "9000", false},
		{"", "", true},
		{"12.3.4", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDecimalFromString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(dec(tt.want)) {
				t.Errorf("ParseDecimalFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNormalizeDescription(t *testing.T) {
	if got := NormalizeDescription("Wire trf - ACME Corp."); got != "WIRE TRF ACME CORP" {
		t.Errorf("NormalizeDescription() = %q", got)
	}
}

func sampleStatement() StatementEntry {
	return StatementEntry{ID: "S1", Date: date("2024-06-29"), Description: "ACME CORP WIRE", Amount: dec("12500")}
}

func sampleLedger(id, amount string) LedgerEntry {
	return LedgerEntry{ID: id, Date: date("2024-06-28"), Description: "WIRE TRF - ACME CORP", Amount: dec(amount)}
}

func TestAttentionItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    AttentionItem
		wantErr bool
	}{
		{"simple anomaly", &SimpleAnomaly{ID: "a1", Ledger: sampleLedger("L1", "12500"), Statement: sampleStatement(), Confidence: 88, Kind: KindDateOffset}, false},
		{"bad confidence", &SimpleAnomaly{ID: "a1", Ledger: sampleLedger("L1", "12500"), Statement: sampleStatement(), Confidence: 101, Kind: KindDateOffset}, true},
		{"bad kind", &SimpleAnomaly{ID: "a1", Ledger: sampleLedger("L1", "12500"), Statement: sampleStatement(), Kind: "Other"}, true},
		{"single duplicate", &DuplicateCandidates{ID: "d1", Candidates: []LedgerEntry{sampleLedger("L1", "1")}, Statement: sampleStatement()}, true},
		{"duplicates", &DuplicateCandidates{ID: "d1", Candidates: []LedgerEntry{sampleLedger("L1", "1"), sampleLedger("L2", "1")}, Statement: sampleStatement()}, false},
		{"one to many", &OneToMany{ID: "g1", LedgerItems: []LedgerEntry{sampleLedger("L1", "5000"), sampleLedger("L2", "7500")}, Statement: sampleStatement()}, false},
		{"missing in ledger", &MissingInLedger{ID: "o1", Statement: sampleStatement(), State: CreationMissing}, false},
		{"creating with entry", &MissingInLedger{ID: "o1", Statement: sampleStatement(), State: CreationCreating, Created: &LedgerEntry{}}, true},
		{"created without entry", &MissingInLedger{ID: "o1", Statement: sampleStatement(), State: CreationCreated}, true},
		{"missing in bank", &MissingInBank{ID: "b1", Ledger: sampleLedger("L9", "-15")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.item.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAttentionItem_Sides(t *testing.T) {
	bank := &MissingInBank{ID: "b1", Ledger: sampleLedger("L9", "-15")}
	if bank.StatementSide() != nil {
		t.Error("MissingInBank must not carry a statement")
	}

	missing := &MissingInLedger{ID: "o1", Statement: sampleStatement(), State: CreationMissing}
	if len(missing.LedgerSide()) != 0 {
		t.Error("uncreated MissingInLedger must not carry a ledger side")
	}

	group := &OneToMany{ID: "g1", LedgerItems: []LedgerEntry{sampleLedger("L1", "5000"), sampleLedger("L2", "-7500")}, Statement: sampleStatement()}
	if got := ItemMass(group); !got.Equal(dec("25000")) {
		t.Errorf("ItemMass() = %s, want 25000", got)
	}
}

func TestAttentionItem_CloneIsDeep(t *testing.T) {
	orig := &DuplicateCandidates{ID: "d1", Candidates: []LedgerEntry{sampleLedger("L1", "1"), sampleLedger("L2", "1")}, Statement: sampleStatement()}
	clone := orig.Clone().(*DuplicateCandidates)
	clone.Candidates[0].Description = "changed"
	if orig.Candidates[0].Description == "changed" {
		t.Error("Clone shares the candidates slice")
	}
}

func TestAttentionItem_JSONRoundTrip(t *testing.T) {
	created := sampleLedger("L7", "-35")
	items := []AttentionItem{
		&SimpleAnomaly{ID: "a1", Ledger: sampleLedger("L1", "12500"), Statement: sampleStatement(), Confidence: 88, Kind: KindDateOffset, Explanation: "1 day apart"},
		&MissingInLedger{ID: "o1", Statement: sampleStatement(), State: CreationCreated, Created: &created},
		&MissingInBank{ID: "b1", Ledger: sampleLedger("L9", "-15")},
	}

	for _, item := range items {
		t.Run(string(item.Variant()), func(t *testing.T) {
			data, err := MarshalAttentionItem(item)
			if err != nil {
				t.Fatalf("MarshalAttentionItem: %v", err)
			}
			if !strings.Contains(string(data), `"variant":"`+string(item.Variant())+`"`) {
				t.Errorf("missing variant tag in %s", data)
			}
			decoded, err := UnmarshalAttentionItem(data)
			if err != nil {
				t.Fatalf("UnmarshalAttentionItem: %v", err)
			}
			if decoded.Variant() != item.Variant() || decoded.ItemID() != item.ItemID() {
				t.Errorf("decoded %T %s, want %T %s", decoded, decoded.ItemID(), item, item.ItemID())
			}
			if !ItemMass(decoded).Equal(ItemMass(item)) {
				t.Errorf("mass drift after round trip")
			}
		})
	}

	if _, err := UnmarshalAttentionItem([]byte(`{"variant":"unknown"}`)); err == nil {
		t.Error("expected error for unknown variant")
	}
}

func TestResolvedRecord_NetAmount(t *testing.T) {
	stmt := sampleStatement()
	tests := []struct {
		name   string
		record ResolvedRecord
		want   string
	}{
		{"ledger wins", ResolvedRecord{ID: "r1", Ledger: []LedgerEntry{sampleLedger("L1", "12500")}, Statement: &stmt, Method: MethodAIAccepted}, "12500"},
		{"group sums", ResolvedRecord{ID: "r2", Ledger: []LedgerEntry{sampleLedger("L1", "5000"), sampleLedger("L2", "7500")}, Method: MethodManuallyMatched}, "12500"},
		{"statement fallback", ResolvedRecord{ID: "r3", Statement: &stmt, Method: MethodDismissed}, "12500"},
		{"manual statement-only", ResolvedRecord{ID: "r4", Statement: &stmt, Method: MethodManuallyMatched}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.NetAmount(); !got.Equal(dec(tt.want)) {
				t.Errorf("NetAmount() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolutionMethod_AIAssisted(t *testing.T) {
	tests := []struct {
		method ResolutionMethod
		want   bool
	}{
		{MethodAIAccepted, true},
		{MethodAIUpdated, true},
		{MethodDuplicateResolved, true},
		{MethodManuallyMatched, false},
		{MethodCreated, false},
		{MethodDismissed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			if got := tt.method.AIAssisted(); got != tt.want {
				t.Errorf("AIAssisted() = %v, want %v", got, tt.want)
			}
		})
	}
}
