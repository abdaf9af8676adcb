package reconciler

import (
	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

// ReversedExplanation is attached to anomalies rebuilt by Unresolve.
const ReversedExplanation = "Resolution reversed for manual review."

// Unresolve moves a resolved record back to the head of the attention queue,
// rebuilding the most specific item the snapshot supports. Amounts are
// restored exactly as recorded.
func (e *Engine) Unresolve(recordID string) error {
	return e.mutate("unresolve", recordID, func() ([]Event, error) {
		idx := -1
		for i, r := range e.resolved {
			if r.ID == recordID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, errors.NotFound("resolved", recordID)
		}

		rec := e.resolved[idx]
		item, err := rebuildItem(rec)
		if err != nil {
			return nil, err
		}

		e.resolved = append(e.resolved[:idx:idx], e.resolved[idx+1:]...)
		e.prependAttention(item)
		return []Event{&ItemReversed{
			Header:   e.header(EventItemReversed, recordID),
			Record:   rec,
			Restored: item.Variant(),
		}}, nil
	})
}

func rebuildItem(rec models.ResolvedRecord) (models.AttentionItem, error) {
	rec = rec.Clone()
	switch {
	case rec.Method == models.MethodCreated && len(rec.Ledger) == 1 && rec.Statement != nil:
		created := rec.Ledger[0]
		return &models.MissingInLedger{
			ID:        rec.ID,
			Statement: *rec.Statement,
			State:     models.CreationCreated,
			Created:   &created,
		}, nil

	case len(rec.Ledger) == 1 && rec.Statement != nil:
		return &models.SimpleAnomaly{
			ID:          rec.ID,
			Ledger:      rec.Ledger[0],
			Statement:   *rec.Statement,
			Confidence:  rec.Confidence,
			Kind:        models.KindUnconfirmed,
			Explanation: ReversedExplanation,
		}, nil

	case len(rec.Ledger) > 1 && rec.Statement != nil:
		explanation := rec.Explanation
		if explanation == "" {
			explanation = ReversedExplanation
		}
		return &models.OneToMany{
			ID:          rec.ID,
			LedgerItems: rec.Ledger,
			Statement:   *rec.Statement,
			Confidence:  rec.Confidence,
			Explanation: explanation,
		}, nil

	case len(rec.Ledger) == 1:
		return &models.MissingInBank{ID: rec.ID, Ledger: rec.Ledger[0]}, nil

	case len(rec.Ledger) == 0 && rec.Statement != nil:
		return &models.MissingInLedger{
			ID:        rec.ID,
			Statement: *rec.Statement,
			State:     models.CreationMissing,
		}, nil
	}

	return nil, errors.InvalidTransition("unresolve", rec.ID, "ledger-only group")
}
