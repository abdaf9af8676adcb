// Package reconciler implements the reconciliation matching and resolution
// engine.
//
// The engine owns three containers for a single accounting period:
//   - the attention queue of unresolved discrepancies
//   - the matched set of confirmed 1:1 pairs awaiting sign-off
//   - the resolved log of items resolved during review
//
// Every item lives in exactly one container. Mutations are serialized by the
// engine, fail atomically, and emit a domain event to every registered
// EventSink. Reads go through Snapshot, an immutable deep copy that the
// balance calculator and the filter projection operate on without locks.
//
// Example usage:
//
//	engine, err := reconciler.NewEngine(reconciler.DefaultConfig(),
//		reconciler.WithEventSink(journal),
//	)
//	if err := engine.Import(period); err != nil {
//		return err
//	}
//	if err := engine.Accept("a1"); err != nil {
//		return err
//	}
//	balance := engine.Snapshot().Balance()
package reconciler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DuplicatePolicy decides what ResolveDuplicates does with an empty keep set.
type DuplicatePolicy string

const (
	// DuplicatePolicyReject fails the call with EmptySelection.
	DuplicatePolicyReject DuplicatePolicy = "reject"
	// DuplicatePolicyKeepFirst keeps candidate 0 and flags the fallback in the event.
	DuplicatePolicyKeepFirst DuplicatePolicy = "keep-first"
)

// Config holds configuration options for the engine
type Config struct {
	DuplicatePolicy DuplicatePolicy `json:"duplicate_policy" mapstructure:"duplicate_policy"`
	DefaultCategory string          `json:"default_category" mapstructure:"default_category"`
}

// DefaultConfig returns a default configuration for the engine
func DefaultConfig() *Config {
	return &Config{
		DuplicatePolicy: DuplicatePolicyReject,
		DefaultCategory: "Uncategorized",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.DuplicatePolicy {
	case DuplicatePolicyReject, DuplicatePolicyKeepFirst:
	default:
		return fmt.Errorf("duplicate policy must be %q or %q, got %q",
			DuplicatePolicyReject, DuplicatePolicyKeepFirst, c.DuplicatePolicy)
	}
	if strings.TrimSpace(c.DefaultCategory) == "" {
		return fmt.Errorf("default category cannot be empty")
	}
	return nil
}

// PeriodImport is everything the collaborators supply at period start.
type PeriodImport struct {
	BeginningBalance decimal.Decimal
	StatementBalance decimal.Decimal
	Attention        []models.AttentionItem
	Matched          []models.MatchedPair
}

// Engine is the single-writer owner of a period's reconciliation state.
type Engine struct {
	mu     sync.RWMutex
	config *Config
	ledger LedgerService
	sinks  []EventSink
	logger logger.Logger
	now    func() time.Time
	newID  func() string

	imported         bool
	finalized        bool
	beginningBalance decimal.Decimal
	statementBalance decimal.Decimal
	attention        []models.AttentionItem
	matched          []models.MatchedPair
	resolved         []models.ResolvedRecord
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedgerService sets the collaborator that persists created ledger entries.
func WithLedgerService(s LedgerService) Option {
	return func(e *Engine) { e.ledger = s }
}

// WithEventSink registers a sink. Sinks receive events in registration order.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithLogger replaces the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces the time source used for events and records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the generator for event and entry ids.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine creates an empty engine. Call Import before any other operation.
func NewEngine(config *Config, opts ...Option) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "engine", config.DuplicatePolicy, err)
	}

	e := &Engine{
		config: config,
		ledger: EchoLedgerService{},
		logger: logger.GetGlobalLogger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("reconciler")
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return *e.config
}

// Import loads the period. It can be called once per engine.
func (e *Engine) Import(p PeriodImport) error {
	return e.mutate("import", "", func() ([]Event, error) {
		if e.imported {
			return nil, errors.InvalidTransition("import", "period", "imported")
		}

		attention := make([]models.AttentionItem, 0, len(p.Attention))
		for _, item := range p.Attention {
			if item == nil {
				return nil, errors.ValidationError(errors.CodeMissingField, "attention", nil, nil)
			}
			item = item.Clone()
			if m, ok := item.(*models.MissingInLedger); ok && m.State == "" {
				m.State = models.CreationMissing
			}
			if m, ok := item.(*models.MissingInLedger); ok && m.State == models.CreationCreating {
				return nil, errors.ValidationError(errors.CodeInvalidData, "attention."+m.ID+".state", m.State, nil).
					WithSuggestion("items cannot be imported mid-creation; import them as missing")
			}
			if err := item.Validate(); err != nil {
				return nil, errors.ValidationError(errors.CodeInvalidData, "attention."+item.ItemID(), item.Variant(), err)
			}
			attention = append(attention, item)
		}

		matched := make([]models.MatchedPair, 0, len(p.Matched))
		for _, pair := range p.Matched {
			if err := pair.Validate(); err != nil {
				return nil, errors.ValidationError(errors.CodeInvalidData, "matched."+pair.ID, nil, err)
			}
			matched = append(matched, pair)
		}

		if err := checkUniqueIDs(attention, matched); err != nil {
			return nil, err
		}

		e.imported = true
		e.beginningBalance = p.BeginningBalance
		e.statementBalance = p.StatementBalance
		e.attention = attention
		e.matched = matched
		e.resolved = nil

		return []Event{&PeriodImported{
			Header:           e.header(EventPeriodImported, ""),
			AttentionCount:   len(attention),
			MatchedCount:     len(matched),
			BeginningBalance: p.BeginningBalance,
			StatementBalance: p.StatementBalance,
		}}, nil
	})
}

func checkUniqueIDs(attention []models.AttentionItem, matched []models.MatchedPair) error {
	items := make(map[string]bool)
	ledger := make(map[string]bool)
	statement := make(map[string]bool)

	claim := func(seen map[string]bool, field, id string) error {
		if seen[id] {
			return errors.ValidationError(errors.CodeDuplicateID, field, id, nil)
		}
		seen[id] = true
		return nil
	}

	for _, item := range attention {
		if err := claim(items, "item_id", item.ItemID()); err != nil {
			return err
		}
		for _, l := range item.LedgerSide() {
			if err := claim(ledger, "ledger_id", l.ID); err != nil {
				return err
			}
		}
		if s := item.StatementSide(); s != nil {
			if err := claim(statement, "statement_id", s.ID); err != nil {
				return err
			}
		}
	}
	for _, pair := range matched {
		if err := claim(items, "item_id", pair.ID); err != nil {
			return err
		}
		if err := claim(ledger, "ledger_id", pair.Ledger.ID); err != nil {
			return err
		}
		if err := claim(statement, "statement_id", pair.Statement.ID); err != nil {
			return err
		}
	}
	return nil
}

// mutate runs fn under the write lock. fn must validate everything before
// touching state so that a returned error leaves the engine unchanged.
func (e *Engine) mutate(op, itemID string, fn func() ([]Event, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.WithField("operation", op)
	if itemID != "" {
		log = log.WithItem(itemID)
	}

	if e.finalized {
		err := errors.Finalized(op)
		log.WithError(err).Warn("Operation rejected")
		return err
	}
	if !e.imported && op != "import" {
		err := errors.InvalidTransition(op, "period", "not imported")
		log.WithError(err).Warn("Operation rejected")
		return err
	}

	events, err := fn()
	if err != nil {
		log.WithError(err).Warn("Operation rejected")
		return err
	}

	log.Debug("Operation applied")
	for _, ev := range events {
		e.publish(ev)
	}
	return nil
}

func (e *Engine) publish(ev Event) {
	for _, sink := range e.sinks {
		if err := sink.Publish(ev); err != nil {
			e.logger.WithError(err).WithFields(logger.Fields{
				"event_type": ev.EventHeader().Type,
				"event_id":   ev.EventHeader().ID,
			}).Warn("Event sink failed")
		}
	}
}

func (e *Engine) header(t EventType, itemID string) Header {
	return Header{ID: e.newID(), Type: t, ItemID: itemID, At: e.now()}
}

func (e *Engine) findAttention(id string) (int, models.AttentionItem, error) {
	for i, item := range e.attention {
		if item.ItemID() == id {
			return i, item, nil
		}
	}
	return -1, nil, errors.NotFound("attention", id)
}

func (e *Engine) removeAttention(idx int) {
	e.attention = append(e.attention[:idx:idx], e.attention[idx+1:]...)
}

// appendResolved adds records at the head of the log, newest first.
func (e *Engine) appendResolved(records ...models.ResolvedRecord) {
	log := make([]models.ResolvedRecord, 0, len(records)+len(e.resolved))
	log = append(log, records...)
	e.resolved = append(log, e.resolved...)
}

func (e *Engine) prependAttention(item models.AttentionItem) {
	e.attention = append([]models.AttentionItem{item}, e.attention...)
}

func (e *Engine) containsID(id string) bool {
	for _, item := range e.attention {
		if item.ItemID() == id {
			return true
		}
	}
	for _, p := range e.matched {
		if p.ID == id {
			return true
		}
	}
	for _, r := range e.resolved {
		if r.ID == id {
			return true
		}
	}
	return false
}

// recordFrom snapshots an attention item into a resolved record.
func (e *Engine) recordFrom(item models.AttentionItem, method models.ResolutionMethod) models.ResolvedRecord {
	rec := models.ResolvedRecord{
		ID:         item.ItemID(),
		Ledger:     item.LedgerSide(),
		Statement:  item.StatementSide(),
		Method:     method,
		Origin:     item.Variant(),
		ResolvedAt: e.now(),
	}
	switch it := item.(type) {
	case *models.SimpleAnomaly:
		rec.Confidence = it.Confidence
		rec.Explanation = it.Explanation
	case *models.DuplicateCandidates:
		rec.Confidence = it.Confidence
		rec.Explanation = it.Explanation
	case *models.OneToMany:
		rec.Confidence = it.Confidence
		rec.Explanation = it.Explanation
	}
	return rec
}

// stateOf describes an item for InvalidTransition errors.
func stateOf(item models.AttentionItem) string {
	if m, ok := item.(*models.MissingInLedger); ok {
		return fmt.Sprintf("%s(%s)", m.Variant(), m.State)
	}
	if a, ok := item.(*models.SimpleAnomaly); ok && a.Updated {
		return fmt.Sprintf("%s(updated)", a.Variant())
	}
	return string(item.Variant())
}

func isCreating(item models.AttentionItem) bool {
	m, ok := item.(*models.MissingInLedger)
	return ok && m.State == models.CreationCreating
}
