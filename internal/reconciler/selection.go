package reconciler

import (
	"fmt"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// Selection is a cross-selection of attention rows: the ledger side of some
// items and the statement side of others. An item may be selected on both
// sides.
type Selection struct {
	LedgerItemIDs    []string        `json:"ledger_item_ids"`
	StatementItemIDs []string        `json:"statement_item_ids"`
	LedgerTotal      decimal.Decimal `json:"ledger_total"`
	StatementTotal   decimal.Decimal `json:"statement_total"`
	Difference       decimal.Decimal `json:"difference"`
	Balanced         bool            `json:"balanced"`
	// Touched lists every item either side selects, in queue order.
	Touched []string `json:"touched"`
}

// PreviewSelection evaluates a selection without resolving it. An
// unbalanced selection is not an error here; Balanced reports it.
func (e *Engine) PreviewSelection(ledgerItemIDs, statementItemIDs []string) (Selection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sel, _, err := e.evaluateSelection(ledgerItemIDs, statementItemIDs)
	return sel, err
}

// ManualResolve resolves every touched item with method ManuallyMatched when
// the absolute ledger and statement totals agree within tolerance. Otherwise
// it fails with Unbalanced and changes nothing.
//
// MissingInBank rows may only be selected on the ledger side and duplicate
// sets only on the statement side. Items in the creating state are refused.
func (e *Engine) ManualResolve(ledgerItemIDs, statementItemIDs []string) ([]models.ResolvedRecord, error) {
	var out []models.ResolvedRecord
	err := e.mutate("manual resolve", "", func() ([]Event, error) {
		sel, touched, err := e.evaluateSelection(ledgerItemIDs, statementItemIDs)
		if err != nil {
			return nil, err
		}
		if !sel.Balanced {
			return nil, errors.Unbalanced(sel.LedgerTotal, sel.StatementTotal, sel.Difference)
		}

		// A duplicate set matched by its statement line alone hands its
		// candidates back to the queue as ledger-only rows.
		var requeued []*models.MissingInBank
		released := make(map[string][]*models.MissingInBank)
		for _, item := range e.attention {
			dup, ok := item.(*models.DuplicateCandidates)
			if !ok || !touched[dup.ID] {
				continue
			}
			for i, c := range dup.Candidates {
				reqID := fmt.Sprintf("%s/candidate-%d", dup.ID, i)
				if e.containsID(reqID) {
					return nil, errors.ValidationError(errors.CodeDuplicateID, "item_id", reqID, nil)
				}
				m := &models.MissingInBank{ID: reqID, Ledger: c}
				released[dup.ID] = append(released[dup.ID], m)
				requeued = append(requeued, m)
			}
		}

		records := make([]models.ResolvedRecord, 0, len(touched))
		remaining := make([]models.AttentionItem, 0, len(e.attention)-len(touched)+len(requeued))
		for _, item := range e.attention {
			if !touched[item.ItemID()] {
				remaining = append(remaining, item)
				continue
			}
			rec := e.recordFrom(item, models.MethodManuallyMatched)
			if rows, ok := released[item.ItemID()]; ok {
				rec.Ledger = nil
				for _, m := range rows {
					remaining = append(remaining, m)
				}
			}
			records = append(records, rec)
		}

		e.attention = remaining
		e.appendResolved(records...)
		for _, r := range records {
			out = append(out, r.Clone())
		}
		return []Event{&ManuallyResolved{
			Header:         e.header(EventManuallyResolved, ""),
			ItemIDs:        sel.Touched,
			LedgerTotal:    sel.LedgerTotal,
			StatementTotal: sel.StatementTotal,
			Records:        records,
			Requeued:       requeued,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) evaluateSelection(ledgerItemIDs, statementItemIDs []string) (Selection, map[string]bool, error) {
	sel := Selection{
		LedgerItemIDs:    append([]string(nil), ledgerItemIDs...),
		StatementItemIDs: append([]string(nil), statementItemIDs...),
		LedgerTotal:      decimal.Zero,
		StatementTotal:   decimal.Zero,
	}
	if !e.imported {
		return sel, nil, errors.InvalidTransition("manual resolve", "period", "not imported")
	}
	if len(ledgerItemIDs) == 0 || len(statementItemIDs) == 0 {
		return sel, nil, errors.EmptySelection("manual resolve", "").
			WithSuggestion("select at least one ledger row and one statement row")
	}

	touched := make(map[string]bool)

	pick := func(side string, ids []string) ([]models.AttentionItem, error) {
		seen := make(map[string]bool, len(ids))
		items := make([]models.AttentionItem, 0, len(ids))
		for _, id := range ids {
			if seen[id] {
				return nil, errors.InvalidSelection("manual resolve", fmt.Sprintf("%s item %q selected twice", side, id))
			}
			seen[id] = true

			_, item, err := e.findAttention(id)
			if err != nil {
				return nil, err
			}
			switch item.(type) {
			case *models.MissingInBank:
				if side == "statement" {
					return nil, errors.InvalidSelection("manual resolve",
						fmt.Sprintf("item %q has no statement side", id))
				}
			case *models.DuplicateCandidates:
				// The candidates compete for the line; pick one with ResolveDuplicates.
				if side == "ledger" {
					return nil, errors.InvalidTransition("manual resolve", id, stateOf(item))
				}
			}
			if isCreating(item) {
				return nil, errors.InvalidTransition("manual resolve", id, stateOf(item))
			}
			touched[id] = true
			items = append(items, item)
		}
		return items, nil
	}

	ledgerItems, err := pick("ledger", ledgerItemIDs)
	if err != nil {
		return sel, nil, err
	}
	statementItems, err := pick("statement", statementItemIDs)
	if err != nil {
		return sel, nil, err
	}

	for _, item := range ledgerItems {
		entries := item.LedgerSide()
		if len(entries) == 0 {
			return sel, nil, errors.InvalidSelection("manual resolve",
				fmt.Sprintf("item %q has no ledger side", item.ItemID()))
		}
		sel.LedgerTotal = sel.LedgerTotal.Add(models.SumLedgerAbs(entries))
	}
	for _, item := range statementItems {
		sel.StatementTotal = sel.StatementTotal.Add(item.StatementSide().AbsAmount())
	}

	sel.Difference = sel.LedgerTotal.Sub(sel.StatementTotal)
	sel.Balanced = models.WithinTolerance(sel.LedgerTotal, sel.StatementTotal)
	for _, item := range e.attention {
		if touched[item.ItemID()] {
			sel.Touched = append(sel.Touched, item.ItemID())
		}
	}
	return sel, touched, nil
}
