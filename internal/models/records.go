package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchedPair is a confirmed 1:1 match awaiting period sign-off.
type MatchedPair struct {
	ID         string         `json:"id"`
	Ledger     LedgerEntry    `json:"ledger"`
	Statement  StatementEntry `json:"statement"`
	Confidence int            `json:"confidence"`
}

// Validate performs basic validation on the MatchedPair
func (p MatchedPair) Validate() error {
	if err := validateHeader(p.ID, p.Confidence); err != nil {
		return err
	}
	if err := p.Ledger.Validate(); err != nil {
		return fmt.Errorf("pair %s: %w", p.ID, err)
	}
	if err := p.Statement.Validate(); err != nil {
		return fmt.Errorf("pair %s: %w", p.ID, err)
	}
	return nil
}

// Mass is Σ|amount| over both sides.
func (p MatchedPair) Mass() decimal.Decimal {
	return p.Ledger.AbsAmount().Add(p.Statement.AbsAmount())
}

// ResolutionMethod records how a resolved record left the attention queue.
type ResolutionMethod string

const (
	MethodAIAccepted        ResolutionMethod = "AI Accepted"
	MethodAIUpdated         ResolutionMethod = "AI Updated"
	MethodManuallyMatched   ResolutionMethod = "Manual"
	MethodDuplicateResolved ResolutionMethod = "Duplicate resolved"
	MethodCreated           ResolutionMethod = "Created"
	MethodDismissed         ResolutionMethod = "Dismissed"
)

// IsValid checks if the method is known
func (m ResolutionMethod) IsValid() bool {
	switch m {
	case MethodAIAccepted, MethodAIUpdated, MethodManuallyMatched,
		MethodDuplicateResolved, MethodCreated, MethodDismissed:
		return true
	}
	return false
}

// AIAssisted reports whether the resolution followed an AI suggestion.
func (m ResolutionMethod) AIAssisted() bool {
	return m == MethodAIAccepted || m == MethodAIUpdated || m == MethodDuplicateResolved
}

// ResolvedRecord is an entry in the append-only resolved log. It keeps a
// full snapshot of the item it came from so the resolution can be reversed.
type ResolvedRecord struct {
	ID          string           `json:"id"`
	Ledger      []LedgerEntry    `json:"ledger,omitempty"`
	Statement   *StatementEntry  `json:"statement,omitempty"`
	Confidence  int              `json:"confidence"`
	Method      ResolutionMethod `json:"method"`
	Origin      Variant          `json:"origin"`
	Explanation string           `json:"explanation,omitempty"`
	ResolvedAt  time.Time        `json:"resolved_at"`
}

// Validate performs basic validation on the ResolvedRecord
func (r ResolvedRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("resolved record ID cannot be empty")
	}
	if !r.Method.IsValid() {
		return fmt.Errorf("record %s: invalid resolution method %q", r.ID, r.Method)
	}
	if len(r.Ledger) == 0 && r.Statement == nil {
		return fmt.Errorf("record %s: needs a ledger side or a statement side", r.ID)
	}
	return nil
}

// NetAmount is the record's contribution to the ledger net total: the
// ledger side when present, otherwise the statement line. A manually matched
// statement line without a ledger side contributes nothing, since the ledger
// rows selected with it already carry the amount.
func (r ResolvedRecord) NetAmount() decimal.Decimal {
	if len(r.Ledger) > 0 {
		return SumLedger(r.Ledger)
	}
	if r.Statement != nil && r.Method != MethodManuallyMatched {
		return r.Statement.Amount
	}
	return decimal.Zero
}

// Mass is Σ|amount| over every entry the record holds.
func (r ResolvedRecord) Mass() decimal.Decimal {
	total := SumLedgerAbs(r.Ledger)
	if r.Statement != nil {
		total = total.Add(r.Statement.AbsAmount())
	}
	return total
}

// Clone returns a deep copy.
func (r ResolvedRecord) Clone() ResolvedRecord {
	c := r
	c.Ledger = cloneEntries(r.Ledger)
	if r.Statement != nil {
		s := *r.Statement
		c.Statement = &s
	}
	return c
}
