package reconciler

import (
	"fmt"
	"sort"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

// DuplicateOutcome reports what ResolveDuplicates did.
type DuplicateOutcome struct {
	Record          models.ResolvedRecord   `json:"record"`
	Requeued        []*models.MissingInBank `json:"requeued,omitempty"`
	Pruned          []models.LedgerEntry    `json:"pruned"`
	FallbackApplied bool                    `json:"fallback_applied"`
}

// ResolveDuplicates keeps the candidates at the given indexes and resolves the
// statement line against the first of them. Candidates not kept are reported
// as pruned for the ledger collaborator to delete. Kept candidates after the
// first stay in the ledger and are requeued as MissingInBank.
//
// An empty keep set is governed by Config.DuplicatePolicy.
func (e *Engine) ResolveDuplicates(id string, keep []int) (*DuplicateOutcome, error) {
	var outcome *DuplicateOutcome
	err := e.mutate("resolve duplicates", id, func() ([]Event, error) {
		idx, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		dup, ok := item.(*models.DuplicateCandidates)
		if !ok {
			return nil, errors.InvalidTransition("resolve duplicates", id, stateOf(item))
		}

		kept, err := normalizeKeepSet(dup, keep)
		if err != nil {
			return nil, err
		}

		fallback := false
		if len(kept) == 0 {
			if e.config.DuplicatePolicy != DuplicatePolicyKeepFirst {
				return nil, errors.EmptySelection("resolve duplicates", id).
					WithSuggestion("keep at least one candidate, or ignore the duplication instead")
			}
			kept = []int{0}
			fallback = true
		}

		keptSet := make(map[int]bool, len(kept))
		for _, k := range kept {
			keptSet[k] = true
		}
		var pruned []models.LedgerEntry
		for i, c := range dup.Candidates {
			if !keptSet[i] {
				pruned = append(pruned, c)
			}
		}

		var requeued []*models.MissingInBank
		var extra []models.LedgerEntry
		for _, k := range kept[1:] {
			reqID := fmt.Sprintf("%s/kept-%d", id, k)
			if e.containsID(reqID) {
				return nil, errors.ValidationError(errors.CodeDuplicateID, "item_id", reqID, nil)
			}
			requeued = append(requeued, &models.MissingInBank{ID: reqID, Ledger: dup.Candidates[k]})
			extra = append(extra, dup.Candidates[k])
		}

		rec := e.recordFrom(dup, models.MethodDuplicateResolved)
		rec.Ledger = []models.LedgerEntry{dup.Candidates[kept[0]]}

		e.removeAttention(idx)
		tail := append([]models.AttentionItem{}, e.attention[idx:]...)
		e.attention = e.attention[:idx]
		for _, r := range requeued {
			e.attention = append(e.attention, r)
		}
		e.attention = append(e.attention, tail...)
		e.appendResolved(rec)

		outcome = &DuplicateOutcome{Record: rec.Clone(), Pruned: pruned, FallbackApplied: fallback}
		for _, r := range requeued {
			outcome.Requeued = append(outcome.Requeued, r.Clone().(*models.MissingInBank))
		}
		return []Event{&DuplicateResolved{
			Header:          e.header(EventDuplicateResolved, id),
			Record:          rec,
			Kept:            extra,
			Pruned:          pruned,
			FallbackApplied: fallback,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// normalizeKeepSet validates the indexes and returns them sorted ascending.
func normalizeKeepSet(dup *models.DuplicateCandidates, keep []int) ([]int, error) {
	seen := make(map[int]bool, len(keep))
	out := make([]int, 0, len(keep))
	for _, k := range keep {
		if k < 0 || k >= len(dup.Candidates) {
			return nil, errors.InvalidSelection("resolve duplicates",
				fmt.Sprintf("candidate index %d out of range [0,%d)", k, len(dup.Candidates))).
				WithContext("id", dup.ID)
		}
		if seen[k] {
			return nil, errors.InvalidSelection("resolve duplicates",
				fmt.Sprintf("candidate index %d repeated", k)).
				WithContext("id", dup.ID)
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Ints(out)
	return out, nil
}

// IgnoredDuplicationExplanation is attached to the anomaly IgnoreDuplication
// leaves in the queue.
const IgnoredDuplicationExplanation = "Duplicate suggestion ignored; first candidate left for manual review."

// IgnoreDuplication drops the duplicate suggestion without resolving
// anything. The statement line stays in the queue paired with the first
// candidate as an Unconfirmed anomaly under the same id. The other candidates
// leave the period as independent ledger entries, reported in the event.
func (e *Engine) IgnoreDuplication(id string) error {
	return e.mutate("ignore duplication", id, func() ([]Event, error) {
		idx, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		dup, ok := item.(*models.DuplicateCandidates)
		if !ok {
			return nil, errors.InvalidTransition("ignore duplication", id, stateOf(item))
		}

		anomaly := &models.SimpleAnomaly{
			ID:          dup.ID,
			Ledger:      dup.Candidates[0],
			Statement:   dup.Statement,
			Confidence:  dup.Confidence,
			Kind:        models.KindUnconfirmed,
			Explanation: IgnoredDuplicationExplanation,
		}
		released := append([]models.LedgerEntry(nil), dup.Candidates[1:]...)

		e.attention[idx] = anomaly
		return []Event{&DuplicationIgnored{
			Header:   e.header(EventDuplicationIgnored, id),
			Requeued: anomaly.Clone().(*models.SimpleAnomaly),
			Released: released,
		}}, nil
	})
}

// Dismiss resolves the statement line of a duplicate set with no ledger
// side at all.
func (e *Engine) Dismiss(id string) error {
	return e.mutate("dismiss", id, func() ([]Event, error) {
		idx, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		dup, ok := item.(*models.DuplicateCandidates)
		if !ok {
			return nil, errors.InvalidTransition("dismiss", id, stateOf(item))
		}

		rec := e.recordFrom(dup, models.MethodDismissed)
		rec.Ledger = nil

		e.removeAttention(idx)
		e.appendResolved(rec)
		return []Event{&DuplicateDismissed{
			Header:     e.header(EventDuplicateDismissed, id),
			Record:     rec,
			Candidates: dup.LedgerSide(),
		}}, nil
	})
}
