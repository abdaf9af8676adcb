package reconciler

import (
	"fmt"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// FinalizationSummary is the sign-off report of a period.
type FinalizationSummary struct {
	PeriodBalance
	TotalCount      int                  `json:"total_count"`
	AutoCount       int                  `json:"auto_count"`
	AIAssistedCount int                  `json:"ai_assisted_count"`
	ManualCount     int                  `json:"manual_count"`
	CarryForward    []models.LedgerEntry `json:"carry_forward,omitempty"`
	FinalizedAt     time.Time            `json:"finalized_at"`
}

// Summarize builds the summary for the snapshot as it stands.
func (s *Snapshot) Summarize(at time.Time) FinalizationSummary {
	sum := FinalizationSummary{
		PeriodBalance: s.Balance(),
		AutoCount:     len(s.Matched),
		CarryForward:  s.CarryForward(),
		FinalizedAt:   at,
	}
	for _, r := range s.Resolved {
		if r.Method.AIAssisted() {
			sum.AIAssistedCount++
		} else {
			sum.ManualCount++
		}
	}
	sum.TotalCount = sum.AutoCount + sum.AIAssistedCount + sum.ManualCount
	return sum
}

// SetStatementBalance overrides the statement ending balance.
func (e *Engine) SetStatementBalance(amount decimal.Decimal) error {
	return e.mutate("set statement balance", "", func() ([]Event, error) {
		previous := e.statementBalance
		e.statementBalance = amount
		return []Event{&StatementBalanceSet{
			Header:   e.header(EventStatementBalanceSet, ""),
			Previous: previous,
			Current:  amount,
		}}, nil
	})
}

// Finalize signs the period off. It requires CanFinalize; afterwards every
// mutation fails with Finalized.
func (e *Engine) Finalize() (FinalizationSummary, error) {
	var summary FinalizationSummary
	err := e.mutate("finalize", "", func() ([]Event, error) {
		pending := 0
		for _, item := range e.attention {
			if item.Variant() != models.VariantMissingInBank {
				pending++
			}
		}
		if pending > 0 {
			return nil, errors.InvalidTransition("finalize", "period", fmt.Sprintf("%d items pending", pending)).
				WithSuggestion("resolve or ignore every attention item except missing-in-bank entries")
		}

		snap := &Snapshot{
			BeginningBalance: e.beginningBalance,
			StatementBalance: e.statementBalance,
			Attention:        e.attention,
			Matched:          e.matched,
			Resolved:         e.resolved,
		}
		summary = snap.Summarize(e.now())
		e.finalized = true
		return []Event{&PeriodFinalized{
			Header:  e.header(EventPeriodFinalized, ""),
			Summary: summary,
		}}, nil
	})
	return summary, err
}
