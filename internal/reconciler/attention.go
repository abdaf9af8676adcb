package reconciler

import (
	"strings"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// Accept resolves a SimpleAnomaly or OneToMany exactly as suggested.
func (e *Engine) Accept(id string) error {
	return e.mutate("accept", id, func() ([]Event, error) {
		idx, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		switch item.(type) {
		case *models.SimpleAnomaly, *models.OneToMany:
		default:
			return nil, errors.InvalidTransition("accept", id, stateOf(item))
		}

		rec := e.recordFrom(item, models.MethodAIAccepted)
		e.removeAttention(idx)
		e.appendResolved(rec)
		return []Event{&ItemAccepted{Header: e.header(EventItemAccepted, id), Record: rec}}, nil
	})
}

// ApplySuggestion rewrites the ledger side of a DateOffset, NameVariant or
// AmountDiff anomaly from the statement line and marks the item updated.
func (e *Engine) ApplySuggestion(id string) error {
	return e.mutate("apply suggestion", id, func() ([]Event, error) {
		_, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		a, ok := item.(*models.SimpleAnomaly)
		if !ok || !a.Kind.Correctable() || a.Updated {
			return nil, errors.InvalidTransition("apply suggestion", id, stateOf(item))
		}

		before := a.Ledger
		after := before
		switch a.Kind {
		case models.KindDateOffset:
			after.Date = a.Statement.Date
		case models.KindNameVariant:
			after.Description = a.Statement.Description
		case models.KindAmountDiff:
			after.Amount = a.Statement.Amount
		}

		a.Ledger = after
		a.Updated = true
		return []Event{&SuggestionApplied{
			Header: e.header(EventSuggestionApplied, id),
			Kind:   a.Kind,
			Before: before,
			After:  after,
		}}, nil
	})
}

// ResolveUpdated finalizes an anomaly whose suggestion was applied.
func (e *Engine) ResolveUpdated(id string) error {
	return e.mutate("resolve updated", id, func() ([]Event, error) {
		idx, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		a, ok := item.(*models.SimpleAnomaly)
		if !ok || !a.Updated {
			return nil, errors.InvalidTransition("resolve updated", id, stateOf(item))
		}

		rec := e.recordFrom(item, models.MethodAIUpdated)
		e.removeAttention(idx)
		e.appendResolved(rec)
		return []Event{&UpdatedItemResolved{Header: e.header(EventUpdatedItemResolved, id), Record: rec}}, nil
	})
}

// LedgerPatch lists the ledger fields to overwrite; nil fields are left alone.
type LedgerPatch struct {
	Date        *time.Time       `json:"date,omitempty"`
	Description *string          `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Category    *string          `json:"category,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p LedgerPatch) IsEmpty() bool {
	return p.Date == nil && p.Description == nil && p.Amount == nil && p.Category == nil
}

func (p LedgerPatch) apply(entry models.LedgerEntry) models.LedgerEntry {
	if p.Date != nil {
		entry.Date = *p.Date
	}
	if p.Description != nil {
		entry.Description = strings.TrimSpace(*p.Description)
	}
	if p.Amount != nil {
		entry.Amount = *p.Amount
	}
	if p.Category != nil {
		entry.Category = strings.TrimSpace(*p.Category)
	}
	return entry
}

// EditLedgerEntry edits the single ledger entry of a SimpleAnomaly,
// a MissingInBank item, or a MissingInLedger item whose entry was created.
func (e *Engine) EditLedgerEntry(id string, patch LedgerPatch) error {
	return e.mutate("edit ledger entry", id, func() ([]Event, error) {
		_, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		if patch.IsEmpty() {
			return nil, errors.ValidationError(errors.CodeMissingField, "patch", nil, nil).
				WithSuggestion("set at least one of date, description, amount or category")
		}

		var target *models.LedgerEntry
		switch it := item.(type) {
		case *models.SimpleAnomaly:
			target = &it.Ledger
		case *models.MissingInBank:
			target = &it.Ledger
		case *models.MissingInLedger:
			if it.State == models.CreationCreated {
				target = it.Created
			}
		}
		if target == nil {
			return nil, errors.InvalidTransition("edit ledger entry", id, stateOf(item))
		}

		before := *target
		after := patch.apply(before)
		if err := after.Validate(); err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidData, "ledger", after.ID, err)
		}

		*target = after
		return []Event{&LedgerEntryEdited{
			Header: e.header(EventLedgerEntryEdited, id),
			Before: before,
			After:  after,
		}}, nil
	})
}

// Direction is the side of a manually added ledger entry.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// NewLedgerEntry is the user input for AddLedgerEntry. The amount sign is
// taken from the direction.
type NewLedgerEntry struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// AddLedgerEntry records a manual income or expense. It has no statement
// counterpart yet, so it is queued as MissingInBank.
func (e *Engine) AddLedgerEntry(direction Direction, input NewLedgerEntry) (*models.MissingInBank, error) {
	var added *models.MissingInBank
	err := e.mutate("add ledger entry", "", func() ([]Event, error) {
		amount := input.Amount.Abs()
		switch direction {
		case DirectionIncome:
		case DirectionExpense:
			amount = amount.Neg()
		default:
			return nil, errors.ValidationError(errors.CodeInvalidData, "direction", direction, nil).
				WithSuggestion("use income or expense")
		}

		category := strings.TrimSpace(input.Category)
		if category == "" {
			category = e.config.DefaultCategory
		}
		entry := models.LedgerEntry{
			ID:          e.newID(),
			Date:        input.Date,
			Description: strings.TrimSpace(input.Description),
			Amount:      amount,
			Category:    category,
			Manual:      true,
		}
		if err := entry.Validate(); err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidData, "entry", entry.Description, err)
		}
		if entry.Description == "" {
			return nil, errors.ValidationError(errors.CodeMissingField, "description", nil, nil)
		}

		itemID := "manual-" + entry.ID
		if e.containsID(itemID) {
			return nil, errors.ValidationError(errors.CodeDuplicateID, "item_id", itemID, nil)
		}
		item := &models.MissingInBank{ID: itemID, Ledger: entry}
		e.attention = append(e.attention, item)
		added = item.Clone().(*models.MissingInBank)
		return []Event{&LedgerEntryAdded{
			Header:    e.header(EventLedgerEntryAdded, itemID),
			Direction: direction,
			Entry:     entry,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}
