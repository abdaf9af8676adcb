package reconciler

import (
	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

// RejectedMatchExplanation is attached to every pair moved back by Reject.
const RejectedMatchExplanation = "Auto-match moved back for manual review."

// Reject moves a matched pair back to the head of the attention queue as an
// Unconfirmed anomaly, keeping both entries and the confidence.
func (e *Engine) Reject(pairID string) error {
	return e.mutate("reject match", pairID, func() ([]Event, error) {
		idx := -1
		for i, p := range e.matched {
			if p.ID == pairID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, errors.NotFound("matched", pairID)
		}

		pair := e.matched[idx]
		e.matched = append(e.matched[:idx:idx], e.matched[idx+1:]...)
		e.prependAttention(&models.SimpleAnomaly{
			ID:          pair.ID,
			Ledger:      pair.Ledger,
			Statement:   pair.Statement,
			Confidence:  pair.Confidence,
			Kind:        models.KindUnconfirmed,
			Explanation: RejectedMatchExplanation,
		})
		return []Event{&MatchRejected{Header: e.header(EventMatchRejected, pairID), Pair: pair}}, nil
	})
}
