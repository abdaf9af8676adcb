package reconciler

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ledger(id, date, desc, amount, category string) models.LedgerEntry {
	return models.LedgerEntry{ID: id, Date: day(date), Description: desc, Amount: amt(amount), Category: category}
}

func stmt(id, date, desc, amount string) models.StatementEntry {
	return models.StatementEntry{ID: id, Date: day(date), Description: desc, Amount: amt(amount)}
}

// q2Period is the end-of-June review used across the engine tests.
func q2Period() PeriodImport {
	return PeriodImport{
		BeginningBalance: amt("130347.28"),
		StatementBalance: amt("142890.50"),
		Attention: []models.AttentionItem{
			&models.SimpleAnomaly{
				ID:          "a1",
				Ledger:      ledger("l1", "2024-06-28", "WIRE TRF – ACME CORP", "12500", "Sales Revenue"),
				Statement:   stmt("s1", "2024-06-29", "ACME CORP WIRE", "12500"),
				Confidence:  88,
				Kind:        models.KindDateOffset,
				Explanation: "Same transaction, 1-day date offset.",
			},
			&models.SimpleAnomaly{
				ID:          "a2",
				Ledger:      ledger("l2", "2024-06-26", "STRIPE PAYOUT", "8943.22", "Payment Processing"),
				Statement:   stmt("s2", "2024-06-26", "STRIPE PAYMENTS UK", "9000"),
				Confidence:  82,
				Kind:        models.KindAmountDiff,
				Explanation: "Gross vs net payout.",
			},
			&models.SimpleAnomaly{
				ID:          "a3",
				Ledger:      ledger("l3", "2024-06-25", "PAYMENT – SMITH & CO", "-3200", "Supplier Payments"),
				Statement:   stmt("s3", "2024-06-25", "SMITH AND COMPANY LTD", "-3200"),
				Confidence:  92,
				Kind:        models.KindNameVariant,
				Explanation: "Abbreviated name in ledger.",
			},
			&models.SimpleAnomaly{
				ID:          "a4",
				Ledger:      ledger("l4", "2024-06-24", "DD – HMRC VAT Q2", "-4812", "Tax Payments"),
				Statement:   stmt("s4", "2024-06-24", "HMRC VAT", "-4812.5"),
				Confidence:  68,
				Kind:        models.KindAmountDiff,
				Explanation: "50p rounding difference.",
			},
			&models.DuplicateCandidates{
				ID: "dup1",
				Candidates: []models.LedgerEntry{
					ledger("l10", "2024-06-27", "STRIPE PAYOUT", "8943.22", "Payment Processing"),
					ledger("l11", "2024-06-27", "STRIPE TRANSFER", "8943.22", "Payment Processing"),
					ledger("l12", "2024-06-26", "STRIPE PAYOUT – REPOST", "8943.22", "Payment Processing"),
					ledger("l13", "2024-06-27", "STRIPE NET SETTLEMENT", "8943.22", "Payment Processing"),
					ledger("l14", "2024-06-28", "STRIPE PAYOUT ADJUSTED", "8943.22", "Payment Processing"),
				},
				Statement:   stmt("s5", "2024-06-27", "STRIPE PAYMENTS UK", "8943.22"),
				Confidence:  74,
				Explanation: "5 ledger entries share the same amount as one statement line.",
			},
			&models.OneToMany{
				ID: "g1",
				LedgerItems: []models.LedgerEntry{
					ledger("l15", "2024-06-20", "INVOICE 1041 – XYZ LTD", "1200", "Sales Revenue"),
					ledger("l16", "2024-06-21", "INVOICE 1042 – XYZ LTD", "800", "Sales Revenue"),
				},
				Statement:   stmt("s13", "2024-06-22", "XYZ LTD BATCH PAYMENT", "2000"),
				Confidence:  77,
				Explanation: "Two invoices settled in one transfer.",
			},
			&models.MissingInLedger{ID: "o1", Statement: stmt("s6", "2024-06-30", "BANK SERVICE CHARGE", "-35")},
			&models.MissingInLedger{ID: "o2", Statement: stmt("s7", "2024-06-29", "CARD MACHINE RENTAL", "-15")},
			&models.MissingInBank{ID: "b1", Ledger: ledger("l17", "2024-06-30", "CHEQUE 000123", "-250", "Supplier Payments")},
		},
		Matched: []models.MatchedPair{
			{ID: "m1", Ledger: ledger("l5", "2024-06-28", "FASTER PYMT – CLIENT ABC", "5000", "Sales Revenue"), Statement: stmt("s8", "2024-06-28", "FASTER PAYMENT CLIENT ABC", "5000"), Confidence: 99},
			{ID: "m2", Ledger: ledger("l6", "2024-06-27", "DD – OFFICE RENT", "-2400", "Rent & Utilities"), Statement: stmt("s9", "2024-06-27", "STANDING ORDER RENT", "-2400"), Confidence: 99},
			{ID: "m3", Ledger: ledger("l7", "2024-06-26", "CARD – AWS", "-487.32", "Software"), Statement: stmt("s10", "2024-06-26", "AMAZON WEB SERVICES", "-487.32"), Confidence: 98},
			{ID: "m4", Ledger: ledger("l8", "2024-06-25", "BACS – PAYROLL", "-34200", "Payroll"), Statement: stmt("s11", "2024-06-25", "PAYROLL BACS BULK", "-34200"), Confidence: 99},
			{ID: "m5", Ledger: ledger("l9", "2024-06-24", "INSURANCE", "-890", "Insurance"), Statement: stmt("s12", "2024-06-24", "AVIVA INSURANCE", "-890"), Confidence: 97},
		},
	}
}

// recorder is an EventSink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventHeader().Type
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newEngine(t *testing.T, config *Config, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	base := []Option{
		WithEventSink(rec),
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(sequentialIDs()),
	}
	e, err := NewEngine(config, append(base, opts...)...)
	require.NoError(t, err)
	return e, rec
}

func newQ2Engine(t *testing.T, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	e, rec := newEngine(t, nil, opts...)
	require.NoError(t, e.Import(q2Period()))
	return e, rec
}

func attentionItem(t *testing.T, e *Engine, id string) models.AttentionItem {
	t.Helper()
	for _, item := range e.Snapshot().Attention {
		if item.ItemID() == id {
			return item
		}
	}
	t.Fatalf("item %s not in attention queue", id)
	return nil
}

func resolvedRecord(t *testing.T, e *Engine, id string) models.ResolvedRecord {
	t.Helper()
	for _, r := range e.Snapshot().Resolved {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("record %s not in resolved log", id)
	return models.ResolvedRecord{}
}

// assertExclusive checks that every id lives in exactly one container.
func assertExclusive(t *testing.T, s *Snapshot) {
	t.Helper()
	seen := make(map[string]Container)
	check := func(id string, c Container) {
		if prev, ok := seen[id]; ok {
			t.Errorf("id %s present in both %s and %s", id, prev, c)
		}
		seen[id] = c
	}
	for _, item := range s.Attention {
		check(item.ItemID(), ContainerAttention)
	}
	for _, p := range s.Matched {
		check(p.ID, ContainerMatched)
	}
	for _, r := range s.Resolved {
		check(r.ID, ContainerResolved)
	}
}
