package matcher

import (
	"sort"
	"time"

	"reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerIndex provides efficient candidate lookups over ledger entries.
// Amount lookups are by absolute value so that sign conventions of the two
// feeds do not matter.
type LedgerIndex struct {
	// ExactAmountIndex maps absolute amounts to entry positions
	ExactAmountIndex map[string][]int

	// DateIndex maps date strings (YYYY-MM-DD) to entry positions
	DateIndex map[string][]int

	// AmountRangeIndex provides sorted absolute amounts for range lookups
	AmountRangeIndex []*AmountIndexEntry

	// Entries holds all indexed entries in feed order
	Entries []models.LedgerEntry
}

// AmountIndexEntry represents an entry in the sorted amount index
type AmountIndexEntry struct {
	Amount    decimal.Decimal
	Positions []int
}

// IndexStats provides statistics about index usage
type IndexStats struct {
	TotalEntries  int `json:"total_entries"`
	UniqueAmounts int `json:"unique_amounts"`
	UniqueDates   int `json:"unique_dates"`
}

// NewLedgerIndex creates a new index from a slice of ledger entries
func NewLedgerIndex(entries []models.LedgerEntry) *LedgerIndex {
	index := &LedgerIndex{
		ExactAmountIndex: make(map[string][]int),
		DateIndex:        make(map[string][]int),
		Entries:          entries,
	}

	index.buildIndexes()
	return index
}

// buildIndexes constructs all internal indexes
func (li *LedgerIndex) buildIndexes() {
	amountMap := make(map[string]*AmountIndexEntry)

	for i, e := range li.Entries {
		abs := e.Amount.Abs()
		amountKey := abs.String()
		dateKey := e.Date.Format(models.DateLayout)

		li.ExactAmountIndex[amountKey] = append(li.ExactAmountIndex[amountKey], i)
		li.DateIndex[dateKey] = append(li.DateIndex[dateKey], i)

		if entry, exists := amountMap[amountKey]; exists {
			entry.Positions = append(entry.Positions, i)
		} else {
			amountMap[amountKey] = &AmountIndexEntry{Amount: abs, Positions: []int{i}}
		}
	}

	li.AmountRangeIndex = make([]*AmountIndexEntry, 0, len(amountMap))
	for _, entry := range amountMap {
		li.AmountRangeIndex = append(li.AmountRangeIndex, entry)
	}

	sort.Slice(li.AmountRangeIndex, func(i, j int) bool {
		return li.AmountRangeIndex[i].Amount.LessThan(li.AmountRangeIndex[j].Amount)
	})
}

// GetByExactAmount returns positions of entries with the same absolute amount
func (li *LedgerIndex) GetByExactAmount(amount decimal.Decimal) []int {
	return li.ExactAmountIndex[amount.Abs().String()]
}

// GetByAmountRange returns positions of entries whose absolute amount lies
// within [minAmount, maxAmount]
func (li *LedgerIndex) GetByAmountRange(minAmount, maxAmount decimal.Decimal) []int {
	var result []int

	startIdx := sort.Search(len(li.AmountRangeIndex), func(i int) bool {
		return li.AmountRangeIndex[i].Amount.GreaterThanOrEqual(minAmount)
	})

	for i := startIdx; i < len(li.AmountRangeIndex); i++ {
		entry := li.AmountRangeIndex[i]
		if entry.Amount.GreaterThan(maxAmount) {
			break
		}
		result = append(result, entry.Positions...)
	}

	sort.Ints(result)
	return result
}

// GetByDateRange returns positions of entries dated within the range (inclusive)
func (li *LedgerIndex) GetByDateRange(startDate, endDate time.Time) []int {
	var result []int

	for current := startDate; !current.After(endDate); current = current.AddDate(0, 0, 1) {
		result = append(result, li.DateIndex[current.Format(models.DateLayout)]...)
	}

	sort.Ints(result)
	return result
}

// Candidates returns positions of unused entries with the statement's sign,
// an amount within tolerance and a date within tolerance, in feed order.
func (li *LedgerIndex) Candidates(stmt models.StatementEntry, used map[int]bool, config *MatchingConfig) []int {
	abs := stmt.Amount.Abs()
	tolerance := config.GetAmountTolerance(abs)

	var candidates []int
	for _, pos := range li.GetByAmountRange(abs.Sub(tolerance), abs.Add(tolerance)) {
		if used[pos] {
			continue
		}
		e := li.Entries[pos]
		if e.Amount.Sign() != stmt.Amount.Sign() {
			continue
		}
		if !config.IsWithinDateTolerance(e.Date, stmt.Date) {
			continue
		}
		candidates = append(candidates, pos)
	}

	if config.MaxCandidatesPerStatement > 0 && len(candidates) > config.MaxCandidatesPerStatement {
		candidates = candidates[:config.MaxCandidatesPerStatement]
	}
	return candidates
}

// GroupCandidates returns positions of unused entries with the statement's
// sign, a smaller absolute amount and a date within tolerance.
func (li *LedgerIndex) GroupCandidates(stmt models.StatementEntry, used map[int]bool, config *MatchingConfig) []int {
	abs := stmt.Amount.Abs()

	var candidates []int
	for _, pos := range li.GetByAmountRange(decimal.Zero, abs) {
		if used[pos] {
			continue
		}
		e := li.Entries[pos]
		if e.Amount.Sign() != stmt.Amount.Sign() || e.Amount.Abs().Equal(abs) {
			continue
		}
		if !config.IsWithinDateTolerance(e.Date, stmt.Date) {
			continue
		}
		candidates = append(candidates, pos)
	}
	return candidates
}

// GetIndexStats returns statistics about the index
func (li *LedgerIndex) GetIndexStats() IndexStats {
	return IndexStats{
		TotalEntries:  len(li.Entries),
		UniqueAmounts: len(li.AmountRangeIndex),
		UniqueDates:   len(li.DateIndex),
	}
}
