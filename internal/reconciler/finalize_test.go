package reconciler

import (
	"context"
	"testing"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resolveAllButCarryForward walks the q2 queue to the point where only the
// missing-in-bank cheque remains.
func resolveAllButCarryForward(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.Accept("a1"))
	require.NoError(t, e.ApplySuggestion("a2"))
	require.NoError(t, e.ResolveUpdated("a2"))
	require.NoError(t, e.Accept("a3"))
	_, err := e.ManualResolve([]string{"a4"}, []string{"a4"})
	require.ErrorIs(t, err, errors.ErrUnbalanced)
	require.NoError(t, e.Accept("a4"))
	_, err = e.ResolveDuplicates("dup1", []int{0})
	require.NoError(t, err)
	require.NoError(t, e.Accept("g1"))
	_, err = e.CreateLedgerEntry(context.Background(), "o1", LedgerEntryFields{Category: "Bank Charges"})
	require.NoError(t, err)
	require.NoError(t, e.ResolveCreated("o1"))
	assert.False(t, e.CanFinalize())
	_, err = e.CreateLedgerEntry(context.Background(), "o2", LedgerEntryFields{})
	require.NoError(t, err)
	require.NoError(t, e.ResolveCreated("o2"))
}

func TestCanFinalize(t *testing.T) {
	e, _ := newQ2Engine(t)
	assert.False(t, e.CanFinalize())

	resolveAllButCarryForward(t, e)
	assert.True(t, e.CanFinalize())

	s := e.Snapshot()
	require.Len(t, s.Attention, 1)
	assert.Equal(t, models.VariantMissingInBank, s.Attention[0].Variant())
	require.Len(t, s.CarryForward(), 1)
	assert.Equal(t, "l17", s.CarryForward()[0].ID)
}

func TestFinalize(t *testing.T) {
	e, rec := newQ2Engine(t)

	_, err := e.Finalize()
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	resolveAllButCarryForward(t, e)
	summary, err := e.Finalize()
	require.NoError(t, err)

	assert.Equal(t, 5, summary.AutoCount)
	assert.Equal(t, 6, summary.AIAssistedCount)
	assert.Equal(t, 2, summary.ManualCount)
	assert.Equal(t, 13, summary.TotalCount)
	assert.Len(t, summary.CarryForward, 1)
	assert.Equal(t, testNow, summary.FinalizedAt)
	assert.Equal(t, e.Balance(), summary.PeriodBalance)

	ev, ok := rec.last().(*PeriodFinalized)
	require.True(t, ok)
	assert.Equal(t, summary, ev.Summary)
	assert.True(t, e.Snapshot().Finalized)
}

func TestFinalizedRejectsMutations(t *testing.T) {
	e, rec := newQ2Engine(t)
	resolveAllButCarryForward(t, e)
	_, err := e.Finalize()
	require.NoError(t, err)
	events := len(rec.types())
	before := e.Snapshot()

	ops := map[string]func() error{
		"accept":    func() error { return e.Accept("b1") },
		"reject":    func() error { return e.Reject("m1") },
		"unresolve": func() error { return e.Unresolve("a1") },
		"finalize": func() error {
			_, err := e.Finalize()
			return err
		},
		"manual resolve": func() error {
			_, err := e.ManualResolve([]string{"b1"}, []string{"b1"})
			return err
		},
		"set balance": func() error { return e.SetStatementBalance(amt("1")) },
		"add entry": func() error {
			_, err := e.AddLedgerEntry(DirectionIncome, NewLedgerEntry{Date: day("2024-06-30"), Description: "X", Amount: amt("1")})
			return err
		},
		"edit entry": func() error {
			cat := "x"
			return e.EditLedgerEntry("b1", LedgerPatch{Category: &cat})
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(), errors.ErrFinalized)
		})
	}

	assert.Equal(t, before, e.Snapshot())
	assert.Len(t, rec.types(), events)

	// Reads keep working.
	assert.True(t, e.CanFinalize())
	assert.NotEmpty(t, e.Snapshot().View(ViewQuery{Ledger: "cheque"}))
}
