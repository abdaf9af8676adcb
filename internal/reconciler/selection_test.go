package reconciler

import (
	"context"
	"testing"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairPeriod(ledgerAmount, statementAmount string) PeriodImport {
	return PeriodImport{
		BeginningBalance: decimal.Zero,
		StatementBalance: decimal.Zero,
		Attention: []models.AttentionItem{
			&models.SimpleAnomaly{
				ID:         "x1",
				Ledger:     ledger("lx", "2024-06-10", "CONSULTING FEE", ledgerAmount, "Sales Revenue"),
				Statement:  stmt("sx", "2024-06-10", "CONSULTING", statementAmount),
				Confidence: 60,
				Kind:       models.KindAmountDiff,
			},
		},
	}
}

func TestManualResolveTolerance(t *testing.T) {
	tests := []struct {
		name      string
		ledger    string
		statement string
		wantErr   error
	}{
		{"exact", "100", "100", nil},
		{"just inside tolerance", "100.0000", "100.0099", nil},
		{"at tolerance", "100.00", "100.01", errors.ErrUnbalanced},
		{"outside tolerance", "100", "100.5", errors.ErrUnbalanced},
		{"signs ignored", "-100", "100", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t, nil)
			require.NoError(t, e.Import(pairPeriod(tt.ledger, tt.statement)))

			records, err := e.ManualResolve([]string{"x1"}, []string{"x1"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, ContainerAttention, e.Snapshot().Location("x1"))
				return
			}
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, models.MethodManuallyMatched, records[0].Method)
			assert.Equal(t, ContainerResolved, e.Snapshot().Location("x1"))
		})
	}
}

func TestManualResolveAcrossItems(t *testing.T) {
	e, rec := newQ2Engine(t)

	sel, err := e.PreviewSelection([]string{"a3", "a1"}, []string{"a1", "a3"})
	require.NoError(t, err)
	assert.True(t, sel.Balanced)
	assert.True(t, sel.LedgerTotal.Equal(amt("15700")))
	assert.True(t, sel.StatementTotal.Equal(amt("15700")))
	assert.Equal(t, []string{"a1", "a3"}, sel.Touched)
	assert.Len(t, e.Snapshot().Attention, 9)

	records, err := e.ManualResolve([]string{"a3", "a1"}, []string{"a1", "a3"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a1", records[0].ID)
	assert.Equal(t, "a3", records[1].ID)

	s := e.Snapshot()
	assert.Len(t, s.Attention, 7)
	assert.Len(t, s.Resolved, 2)
	assertExclusive(t, s)

	ev, ok := rec.last().(*ManuallyResolved)
	require.True(t, ok)
	assert.Equal(t, []string{"a1", "a3"}, ev.ItemIDs)
	assert.Len(t, ev.Records, 2)
}

func TestManualResolveCreatedEntry(t *testing.T) {
	e, _ := newQ2Engine(t)
	_, err := e.CreateLedgerEntry(context.Background(), "o1", LedgerEntryFields{})
	require.NoError(t, err)

	records, err := e.ManualResolve([]string{"o1"}, []string{"o1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Ledger, 1)
}

func TestManualResolveUnbalanced(t *testing.T) {
	e, rec := newQ2Engine(t)
	before := e.Snapshot()

	sel, err := e.PreviewSelection([]string{"a2"}, []string{"a2"})
	require.NoError(t, err)
	assert.False(t, sel.Balanced)
	assert.True(t, sel.Difference.Equal(amt("-56.78")))

	_, err = e.ManualResolve([]string{"a2"}, []string{"a2"})
	require.ErrorIs(t, err, errors.ErrUnbalanced)
	rerr, _ := errors.AsReconcilerError(err)
	assert.Equal(t, "-56.78", rerr.Context["difference"])

	assert.Equal(t, before, e.Snapshot())
	assert.Len(t, rec.types(), 1)
}

func TestManualResolveInvalidSelections(t *testing.T) {
	tests := []struct {
		name      string
		ledger    []string
		statement []string
		want      error
	}{
		{"no ledger rows", nil, []string{"o1"}, errors.ErrEmptySelection},
		{"no statement rows", []string{"a1"}, nil, errors.ErrEmptySelection},
		{"repeated ledger row", []string{"a1", "a1"}, []string{"a1"}, errors.ErrInvalidSelection},
		{"repeated statement row", []string{"a1"}, []string{"a1", "a1"}, errors.ErrInvalidSelection},
		{"unknown row", []string{"a1"}, []string{"zz"}, errors.ErrNotFound},
		{"matched pair", []string{"m1"}, []string{"a1"}, errors.ErrNotFound},
		{"ledger-only row on statement side", []string{"a1"}, []string{"b1"}, errors.ErrInvalidSelection},
		{"duplicate set on ledger side", []string{"dup1"}, []string{"a1"}, errors.ErrInvalidTransition},
		{"statement-only row on ledger side", []string{"o1"}, []string{"o1"}, errors.ErrInvalidSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newQ2Engine(t)
			before := e.Snapshot()

			_, err := e.ManualResolve(tt.ledger, tt.statement)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, e.Snapshot())

			_, err = e.PreviewSelection(tt.ledger, tt.statement)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestManualResolveLedgerOnlyWithStatementOnly(t *testing.T) {
	e, rec := newEngine(t, nil)
	require.NoError(t, e.Import(PeriodImport{
		BeginningBalance: amt("1000"),
		StatementBalance: amt("965"),
		Attention: []models.AttentionItem{
			&models.MissingInBank{ID: "b1", Ledger: ledger("l1", "2024-06-30", "BANK CHARGES JUNE", "-35", "Bank Fees")},
			&models.MissingInLedger{ID: "o1", Statement: stmt("s1", "2024-06-30", "BANK SERVICE CHARGE", "-35")},
		},
	}))
	before := e.Snapshot()
	assert.False(t, before.CanFinalize())

	records, err := e.ManualResolve([]string{"b1"}, []string{"o1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, models.MethodManuallyMatched, r.Method)
	}

	s := e.Snapshot()
	assert.Empty(t, s.Attention)
	assert.True(t, s.CanFinalize())
	assert.True(t, before.MonetaryMass().Equal(s.MonetaryMass()))
	assertExclusive(t, s)

	// The statement line is covered by the ledger row, not counted twice.
	balance := s.Balance()
	assert.True(t, balance.LedgerNetTotal.Equal(amt("-35")), "net %s", balance.LedgerNetTotal)
	assert.True(t, balance.Balanced)

	ev, ok := rec.last().(*ManuallyResolved)
	require.True(t, ok)
	assert.Equal(t, []string{"b1", "o1"}, ev.ItemIDs)
	assert.Empty(t, ev.Requeued)

	_, err = e.Finalize()
	require.NoError(t, err)
}

func TestManualResolveDuplicateStatement(t *testing.T) {
	e, rec := newEngine(t, nil)
	require.NoError(t, e.Import(PeriodImport{
		BeginningBalance: decimal.Zero,
		StatementBalance: amt("100"),
		Attention: []models.AttentionItem{
			&models.DuplicateCandidates{
				ID: "d1",
				Candidates: []models.LedgerEntry{
					ledger("l1", "2024-06-12", "CLIENT XYZ", "100", "Sales Revenue"),
					ledger("l2", "2024-06-12", "CLIENT XYZ REPOST", "100", "Sales Revenue"),
				},
				Statement:  stmt("s1", "2024-06-12", "XYZ LTD", "100"),
				Confidence: 70,
			},
			&models.MissingInBank{ID: "b1", Ledger: ledger("l3", "2024-06-12", "XYZ LTD RECEIPT", "100", "Sales Revenue")},
		},
	}))
	before := e.Snapshot()

	records, err := e.ManualResolve([]string{"b1"}, []string{"d1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "d1", records[0].ID)
	assert.Empty(t, records[0].Ledger)
	require.NotNil(t, records[0].Statement)
	assert.Equal(t, "s1", records[0].Statement.ID)

	s := e.Snapshot()
	require.Len(t, s.Attention, 2)
	assert.Equal(t, "d1/candidate-0", s.Attention[0].ItemID())
	assert.Equal(t, "d1/candidate-1", s.Attention[1].ItemID())
	for _, item := range s.Attention {
		assert.Equal(t, models.VariantMissingInBank, item.Variant())
	}
	assert.True(t, s.CanFinalize())
	assert.True(t, before.MonetaryMass().Equal(s.MonetaryMass()))
	assert.True(t, s.Balance().LedgerNetTotal.Equal(amt("100")))
	assertExclusive(t, s)

	ev := rec.last().(*ManuallyResolved)
	assert.Len(t, ev.Requeued, 2)
}

func TestRejectThenManualResolveRestoresPair(t *testing.T) {
	e, _ := newQ2Engine(t)
	original := e.Snapshot().Matched[0]

	require.NoError(t, e.Reject("m1"))
	records, err := e.ManualResolve([]string{"m1"}, []string{"m1"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.True(t, r.Ledger[0].Equals(original.Ledger))
	assert.Equal(t, original.Statement, *r.Statement)
	assert.Equal(t, original.Confidence, r.Confidence)
	assert.Equal(t, models.MethodManuallyMatched, r.Method)
}
