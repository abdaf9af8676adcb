package reconciler

import (
	"context"
	"testing"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReject(t *testing.T) {
	e, rec := newQ2Engine(t)
	before := e.Snapshot()

	require.NoError(t, e.Reject("m3"))

	s := e.Snapshot()
	assert.Len(t, s.Matched, 4)
	head, ok := s.Attention[0].(*models.SimpleAnomaly)
	require.True(t, ok)
	assert.Equal(t, "m3", head.ID)
	assert.Equal(t, models.KindUnconfirmed, head.Kind)
	assert.Equal(t, RejectedMatchExplanation, head.Explanation)
	assert.Equal(t, 98, head.Confidence)
	assert.True(t, head.Ledger.Amount.Equal(amt("-487.32")))
	assert.True(t, before.MonetaryMass().Equal(s.MonetaryMass()))
	assertExclusive(t, s)

	ev := rec.last().(*MatchRejected)
	assert.Equal(t, "m3", ev.Pair.ID)

	assert.ErrorIs(t, e.Reject("m3"), errors.ErrNotFound)
	assert.ErrorIs(t, e.Reject("a1"), errors.ErrNotFound)
}

func TestUnresolve(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		resolve func(t *testing.T, e *Engine)
		check   func(t *testing.T, item models.AttentionItem)
	}{
		{
			name:    "accepted anomaly becomes unconfirmed",
			id:      "a1",
			resolve: func(t *testing.T, e *Engine) { require.NoError(t, e.Accept("a1")) },
			check: func(t *testing.T, item models.AttentionItem) {
				a := item.(*models.SimpleAnomaly)
				assert.Equal(t, models.KindUnconfirmed, a.Kind)
				assert.Equal(t, ReversedExplanation, a.Explanation)
				assert.Equal(t, 88, a.Confidence)
				assert.True(t, a.Ledger.Amount.Equal(amt("12500")))
			},
		},
		{
			name: "updated anomaly keeps the corrected amount",
			id:   "a2",
			resolve: func(t *testing.T, e *Engine) {
				require.NoError(t, e.ApplySuggestion("a2"))
				require.NoError(t, e.ResolveUpdated("a2"))
			},
			check: func(t *testing.T, item models.AttentionItem) {
				a := item.(*models.SimpleAnomaly)
				assert.True(t, a.Ledger.Amount.Equal(amt("9000")))
				assert.False(t, a.Updated)
			},
		},
		{
			name:    "one to many stays grouped",
			id:      "g1",
			resolve: func(t *testing.T, e *Engine) { require.NoError(t, e.Accept("g1")) },
			check: func(t *testing.T, item models.AttentionItem) {
				o := item.(*models.OneToMany)
				assert.Len(t, o.LedgerItems, 2)
				assert.Equal(t, 77, o.Confidence)
			},
		},
		{
			name: "created entry keeps its ledger entry",
			id:   "o1",
			resolve: func(t *testing.T, e *Engine) {
				_, err := e.CreateLedgerEntry(context.Background(), "o1", LedgerEntryFields{})
				require.NoError(t, err)
				require.NoError(t, e.ResolveCreated("o1"))
			},
			check: func(t *testing.T, item models.AttentionItem) {
				m := item.(*models.MissingInLedger)
				assert.Equal(t, models.CreationCreated, m.State)
				require.NotNil(t, m.Created)
				assert.True(t, m.Created.Amount.Equal(amt("-35")))
			},
		},
		{
			name:    "dismissed statement line becomes missing in ledger",
			id:      "dup1",
			resolve: func(t *testing.T, e *Engine) { require.NoError(t, e.Dismiss("dup1")) },
			check: func(t *testing.T, item models.AttentionItem) {
				m := item.(*models.MissingInLedger)
				assert.Equal(t, models.CreationMissing, m.State)
				assert.Equal(t, "s5", m.Statement.ID)
			},
		},
		{
			name: "resolved duplicate becomes a simple anomaly",
			id:   "dup1",
			resolve: func(t *testing.T, e *Engine) {
				_, err := e.ResolveDuplicates("dup1", []int{2})
				require.NoError(t, err)
			},
			check: func(t *testing.T, item models.AttentionItem) {
				a := item.(*models.SimpleAnomaly)
				assert.Equal(t, "l12", a.Ledger.ID)
				assert.Equal(t, 74, a.Confidence)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newQ2Engine(t)
			tt.resolve(t, e)
			mass := e.Snapshot().MonetaryMass()
			balance := e.Balance()
			record := resolvedRecord(t, e, tt.id)

			require.NoError(t, e.Unresolve(tt.id))

			s := e.Snapshot()
			assert.Equal(t, tt.id, s.Attention[0].ItemID())
			assert.NoError(t, s.Attention[0].Validate())
			tt.check(t, s.Attention[0])
			assert.True(t, mass.Equal(s.MonetaryMass()))
			assert.True(t, balance.LedgerNetTotal.Sub(record.NetAmount()).Equal(s.Balance().LedgerNetTotal))
			assertExclusive(t, s)

			ev := rec.last().(*ItemReversed)
			assert.Equal(t, s.Attention[0].Variant(), ev.Restored)
		})
	}
}

func TestUnresolveUnknown(t *testing.T) {
	e, _ := newQ2Engine(t)
	assert.ErrorIs(t, e.Unresolve("a1"), errors.ErrNotFound)
}

func TestUnresolveThenResolveAgain(t *testing.T) {
	e, _ := newQ2Engine(t)

	require.NoError(t, e.Accept("a1"))
	require.NoError(t, e.Unresolve("a1"))
	require.NoError(t, e.Accept("a1"))
	assert.Equal(t, models.MethodAIAccepted, resolvedRecord(t, e, "a1").Method)
	assert.Len(t, e.Snapshot().Resolved, 1)
}

func TestResolvedLogIsNewestFirst(t *testing.T) {
	e, _ := newQ2Engine(t)
	require.NoError(t, e.Accept("a1"))
	require.NoError(t, e.Accept("a3"))
	require.NoError(t, e.Dismiss("dup1"))

	var ids []string
	for _, r := range e.Snapshot().Resolved {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"dup1", "a3", "a1"}, ids)
}
