package reconciler

import (
	"encoding/json"

	"reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// PeriodBalance is the balance projection of a snapshot.
type PeriodBalance struct {
	BeginningBalance decimal.Decimal `json:"beginning_balance"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
	LedgerNetTotal   decimal.Decimal `json:"ledger_net_total"`
	// LedgerBalance is BeginningBalance + LedgerNetTotal.
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	// Difference is StatementBalance - LedgerBalance.
	Difference decimal.Decimal `json:"difference"`
	Balanced   bool            `json:"balanced"`
}

// Snapshot is an immutable copy of the engine state. Its methods are pure
// and safe for concurrent use.
type Snapshot struct {
	BeginningBalance decimal.Decimal         `json:"beginning_balance"`
	StatementBalance decimal.Decimal         `json:"statement_balance"`
	Attention        []models.AttentionItem  `json:"-"`
	Matched          []models.MatchedPair    `json:"matched"`
	Resolved         []models.ResolvedRecord `json:"resolved"`
	Finalized        bool                    `json:"finalized"`
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := &Snapshot{
		BeginningBalance: e.beginningBalance,
		StatementBalance: e.statementBalance,
		Attention:        make([]models.AttentionItem, len(e.attention)),
		Matched:          make([]models.MatchedPair, len(e.matched)),
		Resolved:         make([]models.ResolvedRecord, len(e.resolved)),
		Finalized:        e.finalized,
	}
	for i, item := range e.attention {
		s.Attention[i] = item.Clone()
	}
	copy(s.Matched, e.matched)
	for i, r := range e.resolved {
		s.Resolved[i] = r.Clone()
	}
	return s
}

// MarshalJSON encodes attention items with their variant tag.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(s.Attention))
	for i, item := range s.Attention {
		data, err := models.MarshalAttentionItem(item)
		if err != nil {
			return nil, err
		}
		items[i] = data
	}
	type Alias Snapshot
	return json.Marshal(&struct {
		Attention []json.RawMessage `json:"attention"`
		*Alias
	}{
		Attention: items,
		Alias:     (*Alias)(s),
	})
}

// Balance recomputes the balance projection.
func (s *Snapshot) Balance() PeriodBalance {
	net := decimal.Zero
	for _, p := range s.Matched {
		net = net.Add(p.Ledger.Amount)
	}
	for _, r := range s.Resolved {
		net = net.Add(r.NetAmount())
	}

	ledgerBalance := s.BeginningBalance.Add(net)
	diff := s.StatementBalance.Sub(ledgerBalance)
	return PeriodBalance{
		BeginningBalance: s.BeginningBalance,
		StatementBalance: s.StatementBalance,
		LedgerNetTotal:   net,
		LedgerBalance:    ledgerBalance,
		Difference:       diff,
		Balanced:         diff.Abs().LessThan(models.BalanceTolerance),
	}
}

// Pending returns the attention items that block finalization.
func (s *Snapshot) Pending() []models.AttentionItem {
	var out []models.AttentionItem
	for _, item := range s.Attention {
		if item.Variant() != models.VariantMissingInBank {
			out = append(out, item)
		}
	}
	return out
}

// CarryForward returns the ledger entries that roll into the next period.
func (s *Snapshot) CarryForward() []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, item := range s.Attention {
		if m, ok := item.(*models.MissingInBank); ok {
			out = append(out, m.Ledger)
		}
	}
	return out
}

// CanFinalize reports whether only MissingInBank items remain in the queue.
func (s *Snapshot) CanFinalize() bool {
	return len(s.Pending()) == 0
}

// MonetaryMass is Σ|amount| over every entry in the three containers.
func (s *Snapshot) MonetaryMass() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Attention {
		total = total.Add(models.ItemMass(item))
	}
	for _, p := range s.Matched {
		total = total.Add(p.Mass())
	}
	for _, r := range s.Resolved {
		total = total.Add(r.Mass())
	}
	return total
}

// Location names the container holding an id, or "" if none does.
func (s *Snapshot) Location(id string) Container {
	for _, item := range s.Attention {
		if item.ItemID() == id {
			return ContainerAttention
		}
	}
	for _, p := range s.Matched {
		if p.ID == id {
			return ContainerMatched
		}
	}
	for _, r := range s.Resolved {
		if r.ID == id {
			return ContainerResolved
		}
	}
	return ""
}

// Container names one of the three engine containers.
type Container string

const (
	ContainerAttention Container = "attention"
	ContainerMatched   Container = "matched"
	ContainerResolved  Container = "resolved"
)

// Totals are the per-section figures shown next to each container.
type Totals struct {
	AttentionCount   int                             `json:"attention_count"`
	PendingCount     int                             `json:"pending_count"`
	CarryForward     int                             `json:"carry_forward_count"`
	MatchedCount     int                             `json:"matched_count"`
	MatchedTotal     decimal.Decimal                 `json:"matched_total"`
	ResolvedCount    int                             `json:"resolved_count"`
	ResolvedTotal    decimal.Decimal                 `json:"resolved_total"`
	ResolvedByMethod map[models.ResolutionMethod]int `json:"resolved_by_method"`
}

// Totals counts and sums every container.
func (s *Snapshot) Totals() Totals {
	t := Totals{
		AttentionCount:   len(s.Attention),
		PendingCount:     len(s.Pending()),
		MatchedCount:     len(s.Matched),
		MatchedTotal:     decimal.Zero,
		ResolvedCount:    len(s.Resolved),
		ResolvedTotal:    decimal.Zero,
		ResolvedByMethod: make(map[models.ResolutionMethod]int),
	}
	t.CarryForward = t.AttentionCount - t.PendingCount
	for _, p := range s.Matched {
		t.MatchedTotal = t.MatchedTotal.Add(p.Ledger.Amount)
	}
	for _, r := range s.Resolved {
		t.ResolvedTotal = t.ResolvedTotal.Add(r.NetAmount())
		t.ResolvedByMethod[r.Method]++
	}
	return t
}

// Balance is a shortcut for Snapshot().Balance().
func (e *Engine) Balance() PeriodBalance {
	return e.Snapshot().Balance()
}

// CanFinalize is a shortcut for Snapshot().CanFinalize().
func (e *Engine) CanFinalize() bool {
	return e.Snapshot().CanFinalize()
}
