package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Variant tags the shape of an attention item.
type Variant string

const (
	VariantSimpleAnomaly       Variant = "simple_anomaly"
	VariantDuplicateCandidates Variant = "duplicate_candidates"
	VariantOneToMany           Variant = "one_to_many"
	VariantMissingInLedger     Variant = "missing_in_ledger"
	VariantMissingInBank       Variant = "missing_in_bank"
)

// AnomalyKind classifies a SimpleAnomaly.
type AnomalyKind string

const (
	KindDateOffset  AnomalyKind = "DateOffset"
	KindNameVariant AnomalyKind = "NameVariant"
	KindAmountDiff  AnomalyKind = "AmountDiff"
	KindUnconfirmed AnomalyKind = "Unconfirmed"
)

// IsValid checks if the kind is one of the known anomaly kinds
func (k AnomalyKind) IsValid() bool {
	switch k {
	case KindDateOffset, KindNameVariant, KindAmountDiff, KindUnconfirmed:
		return true
	}
	return false
}

// Correctable reports whether the ledger side can be rewritten from the
// statement side to clear the anomaly.
func (k AnomalyKind) Correctable() bool {
	return k == KindDateOffset || k == KindNameVariant || k == KindAmountDiff
}

// AttentionItem is an unresolved discrepancy. The set of implementations is
// closed: SimpleAnomaly, DuplicateCandidates, OneToMany, MissingInLedger and
// MissingInBank.
type AttentionItem interface {
	ItemID() string
	Variant() Variant
	// LedgerSide returns the ledger entries the item carries, if any.
	LedgerSide() []LedgerEntry
	// StatementSide returns the statement line, nil only for MissingInBank.
	StatementSide() *StatementEntry
	Validate() error
	Clone() AttentionItem
	attentionItem()
}

// SimpleAnomaly is a 1:1 pairing the matcher was not sure enough about.
type SimpleAnomaly struct {
	ID          string         `json:"id"`
	Ledger      LedgerEntry    `json:"ledger"`
	Statement   StatementEntry `json:"statement"`
	Confidence  int            `json:"confidence"`
	Kind        AnomalyKind    `json:"kind"`
	Explanation string         `json:"explanation"`
	// Updated is set once the suggested correction was applied to the ledger side.
	Updated bool `json:"updated,omitempty"`
}

func (a *SimpleAnomaly) ItemID() string                 { return a.ID }
func (a *SimpleAnomaly) Variant() Variant               { return VariantSimpleAnomaly }
func (a *SimpleAnomaly) LedgerSide() []LedgerEntry      { return []LedgerEntry{a.Ledger} }
func (a *SimpleAnomaly) StatementSide() *StatementEntry { s := a.Statement; return &s }
func (a *SimpleAnomaly) attentionItem()                 {}

func (a *SimpleAnomaly) Clone() AttentionItem {
	c := *a
	return &c
}

func (a *SimpleAnomaly) Validate() error {
	if err := validateHeader(a.ID, a.Confidence); err != nil {
		return err
	}
	if !a.Kind.IsValid() {
		return fmt.Errorf("item %s: invalid anomaly kind %q", a.ID, a.Kind)
	}
	if err := a.Ledger.Validate(); err != nil {
		return fmt.Errorf("item %s: %w", a.ID, err)
	}
	if err := a.Statement.Validate(); err != nil {
		return fmt.Errorf("item %s: %w", a.ID, err)
	}
	return nil
}

// DuplicateCandidates is a set of ledger entries competing for one statement line.
type DuplicateCandidates struct {
	ID          string         `json:"id"`
	Candidates  []LedgerEntry  `json:"candidates"`
	Statement   StatementEntry `json:"statement"`
	Confidence  int            `json:"confidence"`
	Explanation string         `json:"explanation"`
}

func (d *DuplicateCandidates) ItemID() string                 { return d.ID }
func (d *DuplicateCandidates) Variant() Variant               { return VariantDuplicateCandidates }
func (d *DuplicateCandidates) LedgerSide() []LedgerEntry      { return cloneEntries(d.Candidates) }
func (d *DuplicateCandidates) StatementSide() *StatementEntry { s := d.Statement; return &s }
func (d *DuplicateCandidates) attentionItem()                 {}

func (d *DuplicateCandidates) Clone() AttentionItem {
	c := *d
	c.Candidates = cloneEntries(d.Candidates)
	return &c
}

func (d *DuplicateCandidates) Validate() error {
	if err := validateHeader(d.ID, d.Confidence); err != nil {
		return err
	}
	if len(d.Candidates) < 2 {
		return fmt.Errorf("item %s: duplicate candidates need at least two ledger entries, got %d", d.ID, len(d.Candidates))
	}
	if err := validateEntries(d.ID, d.Candidates); err != nil {
		return err
	}
	if err := d.Statement.Validate(); err != nil {
		return fmt.Errorf("item %s: %w", d.ID, err)
	}
	return nil
}

// OneToMany is a group of ledger entries that together equal one statement line.
type OneToMany struct {
	ID          string         `json:"id"`
	LedgerItems []LedgerEntry  `json:"ledger_items"`
	Statement   StatementEntry `json:"statement"`
	Confidence  int            `json:"confidence"`
	Explanation string         `json:"explanation"`
}

func (o *OneToMany) ItemID() string                 { return o.ID }
func (o *OneToMany) Variant() Variant               { return VariantOneToMany }
func (o *OneToMany) LedgerSide() []LedgerEntry      { return cloneEntries(o.LedgerItems) }
func (o *OneToMany) StatementSide() *StatementEntry { s := o.Statement; return &s }
func (o *OneToMany) attentionItem()                 {}

func (o *OneToMany) Clone() AttentionItem {
	c := *o
	c.LedgerItems = cloneEntries(o.LedgerItems)
	return &c
}

func (o *OneToMany) Validate() error {
	if err := validateHeader(o.ID, o.Confidence); err != nil {
		return err
	}
	if len(o.LedgerItems) < 2 {
		return fmt.Errorf("item %s: one-to-many needs at least two ledger entries, got %d", o.ID, len(o.LedgerItems))
	}
	if err := validateEntries(o.ID, o.LedgerItems); err != nil {
		return err
	}
	if err := o.Statement.Validate(); err != nil {
		return fmt.Errorf("item %s: %w", o.ID, err)
	}
	return nil
}

// CreationState tracks the ledger-entry creation protocol of a MissingInLedger item.
type CreationState string

const (
	CreationMissing  CreationState = "missing"
	CreationCreating CreationState = "creating"
	CreationCreated  CreationState = "created"
)

// MissingInLedger is a statement line with no ledger counterpart.
type MissingInLedger struct {
	ID        string         `json:"id"`
	Statement StatementEntry `json:"statement"`
	State     CreationState  `json:"state"`
	// Created holds the synthesized ledger entry once State is created.
	Created *LedgerEntry `json:"created,omitempty"`
}

func (m *MissingInLedger) ItemID() string   { return m.ID }
func (m *MissingInLedger) Variant() Variant { return VariantMissingInLedger }
func (m *MissingInLedger) attentionItem()   {}

func (m *MissingInLedger) LedgerSide() []LedgerEntry {
	if m.Created == nil {
		return nil
	}
	return []LedgerEntry{*m.Created}
}

func (m *MissingInLedger) StatementSide() *StatementEntry { s := m.Statement; return &s }

func (m *MissingInLedger) Clone() AttentionItem {
	c := *m
	if m.Created != nil {
		created := *m.Created
		c.Created = &created
	}
	return &c
}

func (m *MissingInLedger) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("attention item ID cannot be empty")
	}
	switch m.State {
	case CreationMissing, CreationCreating:
		if m.Created != nil {
			return fmt.Errorf("item %s: ledger entry present in %s state", m.ID, m.State)
		}
	case CreationCreated:
		if m.Created == nil {
			return fmt.Errorf("item %s: created state without a ledger entry", m.ID)
		}
		if err := m.Created.Validate(); err != nil {
			return fmt.Errorf("item %s: %w", m.ID, err)
		}
	default:
		return fmt.Errorf("item %s: invalid creation state %q", m.ID, m.State)
	}
	if err := m.Statement.Validate(); err != nil {
		return fmt.Errorf("item %s: %w", m.ID, err)
	}
	return nil
}

// MissingInBank is a ledger line with no statement counterpart. It carries
// forward to the next period.
type MissingInBank struct {
	ID     string      `json:"id"`
	Ledger LedgerEntry `json:"ledger"`
}

func (m *MissingInBank) ItemID() string                 { return m.ID }
func (m *MissingInBank) Variant() Variant               { return VariantMissingInBank }
func (m *MissingInBank) LedgerSide() []LedgerEntry      { return []LedgerEntry{m.Ledger} }
func (m *MissingInBank) StatementSide() *StatementEntry { return nil }
func (m *MissingInBank) attentionItem()                 {}

func (m *MissingInBank) Clone() AttentionItem {
	c := *m
	return &c
}

func (m *MissingInBank) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("attention item ID cannot be empty")
	}
	if err := m.Ledger.Validate(); err != nil {
		return fmt.Errorf("item %s: %w", m.ID, err)
	}
	return nil
}

// ItemMass is Σ|amount| over every entry the item carries.
func ItemMass(item AttentionItem) decimal.Decimal {
	total := SumLedgerAbs(item.LedgerSide())
	if s := item.StatementSide(); s != nil {
		total = total.Add(s.AbsAmount())
	}
	return total
}

// MarshalAttentionItem encodes an item with its variant tag.
func MarshalAttentionItem(item AttentionItem) ([]byte, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(item.Variant())
	fields["variant"] = tag
	return json.Marshal(fields)
}

// UnmarshalAttentionItem decodes an item produced by MarshalAttentionItem.
func UnmarshalAttentionItem(data []byte) (AttentionItem, error) {
	var probe struct {
		Variant Variant `json:"variant"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	var item AttentionItem
	switch probe.Variant {
	case VariantSimpleAnomaly:
		item = &SimpleAnomaly{}
	case VariantDuplicateCandidates:
		item = &DuplicateCandidates{}
	case VariantOneToMany:
		item = &OneToMany{}
	case VariantMissingInLedger:
		item = &MissingInLedger{}
	case VariantMissingInBank:
		item = &MissingInBank{}
	default:
		return nil, fmt.Errorf("unknown attention item variant %q", probe.Variant)
	}
	if err := json.Unmarshal(data, item); err != nil {
		return nil, err
	}
	return item, nil
}

func validateHeader(id string, confidence int) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("attention item ID cannot be empty")
	}
	if confidence < 0 || confidence > 100 {
		return fmt.Errorf("item %s: confidence %d outside 0-100", id, confidence)
	}
	return nil
}

func validateEntries(id string, entries []LedgerEntry) error {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("item %s: %w", id, err)
		}
	}
	return nil
}

func cloneEntries(entries []LedgerEntry) []LedgerEntry {
	if entries == nil {
		return nil
	}
	out := make([]LedgerEntry, len(entries))
	copy(out, entries)
	return out
}
