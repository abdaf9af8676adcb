package reconciler

import (
	"time"

	"reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// EventType names a domain event.
type EventType string

const (
	EventPeriodImported             EventType = "PeriodImported"
	EventItemAccepted               EventType = "ItemAccepted"
	EventSuggestionApplied          EventType = "SuggestionApplied"
	EventUpdatedItemResolved        EventType = "UpdatedItemResolved"
	EventDuplicateResolved          EventType = "DuplicateResolved"
	EventDuplicationIgnored         EventType = "DuplicationIgnored"
	EventDuplicateDismissed         EventType = "DuplicateDismissed"
	EventLedgerEntryCreationStarted EventType = "LedgerEntryCreationStarted"
	EventLedgerEntryCreated         EventType = "LedgerEntryCreated"
	EventLedgerEntryCreationFailed  EventType = "LedgerEntryCreationFailed"
	EventCreatedItemResolved        EventType = "CreatedItemResolved"
	EventManuallyResolved           EventType = "ManuallyResolved"
	EventMatchRejected              EventType = "MatchRejected"
	EventItemReversed               EventType = "ItemReversed"
	EventLedgerEntryEdited          EventType = "LedgerEntryEdited"
	EventLedgerEntryAdded           EventType = "LedgerEntryAdded"
	EventStatementBalanceSet        EventType = "StatementBalanceSet"
	EventPeriodFinalized            EventType = "PeriodFinalized"
)

// Event is emitted once per successful mutation.
type Event interface {
	EventHeader() Header
}

// Header is common to every event.
type Header struct {
	ID     string    `json:"event_id"`
	Type   EventType `json:"type"`
	ItemID string    `json:"item_id,omitempty"`
	At     time.Time `json:"at"`
}

// EventHeader implements Event for every struct embedding Header.
func (h Header) EventHeader() Header { return h }

// EventSink receives domain events in order. Errors are logged by the
// engine; they never undo the mutation that produced the event.
type EventSink interface {
	Publish(event Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event) error

// Publish calls f(event).
func (f EventSinkFunc) Publish(event Event) error { return f(event) }

type PeriodImported struct {
	Header
	AttentionCount   int             `json:"attention_count"`
	MatchedCount     int             `json:"matched_count"`
	BeginningBalance decimal.Decimal `json:"beginning_balance"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
}

type ItemAccepted struct {
	Header
	Record models.ResolvedRecord `json:"record"`
}

type SuggestionApplied struct {
	Header
	Kind   models.AnomalyKind `json:"kind"`
	Before models.LedgerEntry `json:"before"`
	After  models.LedgerEntry `json:"after"`
}

type UpdatedItemResolved struct {
	Header
	Record models.ResolvedRecord `json:"record"`
}

// DuplicateResolved tells the ledger collaborator which candidates to delete.
type DuplicateResolved struct {
	Header
	Record models.ResolvedRecord `json:"record"`
	// Kept lists kept candidates beyond the first; they were requeued as MissingInBank.
	Kept            []models.LedgerEntry `json:"kept,omitempty"`
	Pruned          []models.LedgerEntry `json:"pruned"`
	FallbackApplied bool                 `json:"fallback_applied,omitempty"`
}

// DuplicationIgnored reports the anomaly left in the queue and the candidates
// handed back to the ledger as independent, unreconciled entries.
type DuplicationIgnored struct {
	Header
	Requeued *models.SimpleAnomaly `json:"requeued"`
	Released []models.LedgerEntry  `json:"released"`
}

type DuplicateDismissed struct {
	Header
	Record     models.ResolvedRecord `json:"record"`
	Candidates []models.LedgerEntry  `json:"candidates"`
}

type LedgerEntryCreationStarted struct {
	Header
	Draft models.LedgerEntry `json:"draft"`
}

type LedgerEntryCreated struct {
	Header
	Entry models.LedgerEntry `json:"entry"`
}

type LedgerEntryCreationFailed struct {
	Header
	Reason string `json:"reason"`
}

type CreatedItemResolved struct {
	Header
	Record models.ResolvedRecord `json:"record"`
}

type ManuallyResolved struct {
	Header
	ItemIDs        []string                `json:"item_ids"`
	LedgerTotal    decimal.Decimal         `json:"ledger_total"`
	StatementTotal decimal.Decimal         `json:"statement_total"`
	Records        []models.ResolvedRecord `json:"records"`
	Requeued       []*models.MissingInBank `json:"requeued,omitempty"`
}

type MatchRejected struct {
	Header
	Pair models.MatchedPair `json:"pair"`
}

type ItemReversed struct {
	Header
	Record   models.ResolvedRecord `json:"record"`
	Restored models.Variant        `json:"restored"`
}

type LedgerEntryEdited struct {
	Header
	Before models.LedgerEntry `json:"before"`
	After  models.LedgerEntry `json:"after"`
}

type LedgerEntryAdded struct {
	Header
	Direction Direction          `json:"direction"`
	Entry     models.LedgerEntry `json:"entry"`
}

type StatementBalanceSet struct {
	Header
	Previous decimal.Decimal `json:"previous"`
	Current  decimal.Decimal `json:"current"`
}

type PeriodFinalized struct {
	Header
	Summary FinalizationSummary `json:"summary"`
}
