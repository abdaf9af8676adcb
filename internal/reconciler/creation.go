package reconciler

import (
	"context"
	"strings"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

// LedgerService is the external ledger that persists entries created during
// review. Timeouts and cancellation are the service's concern; the engine
// passes the caller's context through.
type LedgerService interface {
	CreateEntry(ctx context.Context, draft models.LedgerEntry) (models.LedgerEntry, error)
}

// EchoLedgerService accepts every draft unchanged. It is the default when no
// ledger service is configured.
type EchoLedgerService struct{}

// CreateEntry returns the draft.
func (EchoLedgerService) CreateEntry(ctx context.Context, draft models.LedgerEntry) (models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.LedgerEntry{}, err
	}
	return draft, nil
}

// LedgerEntryFields are the user-supplied parts of a created ledger entry.
// Date, description and amount always come from the statement line.
type LedgerEntryFields struct {
	Category string `json:"category"`
}

// CreateLedgerEntry runs the full creation protocol for a MissingInLedger
// item: park the item in the creating state, call the ledger service with the
// engine unlocked, then attach the result. If the service fails the item goes
// back to the missing state and an ExternalFailure is returned.
func (e *Engine) CreateLedgerEntry(ctx context.Context, id string, fields LedgerEntryFields) (models.LedgerEntry, error) {
	draft, err := e.BeginLedgerEntryCreation(id, fields)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	created, callErr := e.ledger.CreateEntry(ctx, draft)
	if err := e.CompleteLedgerEntryCreation(id, created, callErr); err != nil {
		return models.LedgerEntry{}, err
	}
	return created, nil
}

// BeginLedgerEntryCreation moves a MissingInLedger item into the creating
// state and returns the draft to send to the ledger service. Until
// CompleteLedgerEntryCreation is called every other operation on the item
// fails with InvalidTransition.
func (e *Engine) BeginLedgerEntryCreation(id string, fields LedgerEntryFields) (models.LedgerEntry, error) {
	var draft models.LedgerEntry
	err := e.mutate("create ledger entry", id, func() ([]Event, error) {
		_, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		m, ok := item.(*models.MissingInLedger)
		if !ok || m.State != models.CreationMissing {
			return nil, errors.InvalidTransition("create ledger entry", id, stateOf(item))
		}

		category := strings.TrimSpace(fields.Category)
		if category == "" {
			category = e.config.DefaultCategory
		}
		draft = models.LedgerEntry{
			ID:          e.newID(),
			Date:        m.Statement.Date,
			Description: m.Statement.Description,
			Amount:      m.Statement.Amount,
			Category:    category,
		}

		m.State = models.CreationCreating
		return []Event{&LedgerEntryCreationStarted{
			Header: e.header(EventLedgerEntryCreationStarted, id),
			Draft:  draft,
		}}, nil
	})
	return draft, err
}

// CompleteLedgerEntryCreation is the continuation of BeginLedgerEntryCreation.
// A non-nil callErr, or an invalid entry, returns the item to the missing state.
func (e *Engine) CompleteLedgerEntryCreation(id string, entry models.LedgerEntry, callErr error) error {
	var failure error
	err := e.mutate("complete ledger entry", id, func() ([]Event, error) {
		_, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		m, ok := item.(*models.MissingInLedger)
		if !ok || m.State != models.CreationCreating {
			return nil, errors.InvalidTransition("complete ledger entry", id, stateOf(item))
		}

		if callErr == nil {
			callErr = entry.Validate()
		}
		if callErr != nil {
			m.State = models.CreationMissing
			failure = errors.ExternalFailure("create ledger entry", id, callErr)
			return []Event{&LedgerEntryCreationFailed{
				Header: e.header(EventLedgerEntryCreationFailed, id),
				Reason: callErr.Error(),
			}}, nil
		}

		created := entry
		m.Created = &created
		m.State = models.CreationCreated
		return []Event{&LedgerEntryCreated{
			Header: e.header(EventLedgerEntryCreated, id),
			Entry:  entry,
		}}, nil
	})
	if err != nil {
		return err
	}
	if failure != nil {
		e.logger.WithItem(id).WithError(failure).Warn("Ledger entry creation failed, item returned to missing")
	}
	return failure
}

// ResolveCreated moves a MissingInLedger item with a created ledger entry to
// the resolved log.
func (e *Engine) ResolveCreated(id string) error {
	return e.mutate("resolve created", id, func() ([]Event, error) {
		idx, item, err := e.findAttention(id)
		if err != nil {
			return nil, err
		}
		m, ok := item.(*models.MissingInLedger)
		if !ok || m.State != models.CreationCreated {
			return nil, errors.InvalidTransition("resolve created", id, stateOf(item))
		}

		rec := e.recordFrom(m, models.MethodCreated)
		e.removeAttention(idx)
		e.appendResolved(rec)
		return []Event{&CreatedItemResolved{Header: e.header(EventCreatedItemResolved, id), Record: rec}}, nil
	})
}
