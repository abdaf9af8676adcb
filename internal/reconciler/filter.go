package reconciler

import (
	"strings"

	"reconciliation-engine/internal/models"
)

// ViewQuery holds the two independent side filters. An empty query is
// inactive.
type ViewQuery struct {
	Ledger    string `json:"ledger" query:"ledger"`
	Statement string `json:"statement" query:"statement"`
}

// ViewRow is one visible row. A side whose own active query fails is
// hidden: its field is nil and the matching Hidden flag is set.
type ViewRow struct {
	ItemID          string                  `json:"item_id"`
	Container       Container               `json:"container"`
	Variant         models.Variant          `json:"variant,omitempty"`
	Method          models.ResolutionMethod `json:"method,omitempty"`
	Ledger          []models.LedgerEntry    `json:"ledger,omitempty"`
	Statement       *models.StatementEntry  `json:"statement,omitempty"`
	LedgerHidden    bool                    `json:"ledger_hidden,omitempty"`
	StatementHidden bool                    `json:"statement_hidden,omitempty"`
}

// View projects the snapshot through q. A row is included when any active
// side matches, or when no query is active. Nothing is mutated.
func (s *Snapshot) View(q ViewQuery) []ViewRow {
	lq := strings.ToLower(strings.TrimSpace(q.Ledger))
	sq := strings.ToLower(strings.TrimSpace(q.Statement))

	var rows []ViewRow
	add := func(row ViewRow) {
		lm := matchLedger(row.Ledger, lq)
		sm := matchStatement(row.Statement, sq)

		if lq != "" || sq != "" {
			if !((lq != "" && lm) || (sq != "" && sm)) {
				return
			}
		}
		if lq != "" && !lm {
			row.Ledger = nil
			row.LedgerHidden = true
		}
		if sq != "" && !sm {
			row.Statement = nil
			row.StatementHidden = true
		}
		rows = append(rows, row)
	}

	for _, item := range s.Attention {
		add(ViewRow{
			ItemID:    item.ItemID(),
			Container: ContainerAttention,
			Variant:   item.Variant(),
			Ledger:    item.LedgerSide(),
			Statement: item.StatementSide(),
		})
	}
	for _, p := range s.Matched {
		stmt := p.Statement
		add(ViewRow{
			ItemID:    p.ID,
			Container: ContainerMatched,
			Ledger:    []models.LedgerEntry{p.Ledger},
			Statement: &stmt,
		})
	}
	for _, r := range s.Resolved {
		r = r.Clone()
		add(ViewRow{
			ItemID:    r.ID,
			Container: ContainerResolved,
			Variant:   r.Origin,
			Method:    r.Method,
			Ledger:    r.Ledger,
			Statement: r.Statement,
		})
	}
	return rows
}

func matchLedger(entries []models.LedgerEntry, q string) bool {
	if q == "" {
		return true
	}
	for _, e := range entries {
		if strings.Contains(e.SearchText(), q) {
			return true
		}
	}
	return false
}

func matchStatement(s *models.StatementEntry, q string) bool {
	if q == "" {
		return true
	}
	return s != nil && strings.Contains(s.SearchText(), q)
}
