package matcher

import (
	"fmt"
	"sort"

	"reconciliation-engine/internal/models"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

// maxGroupPool bounds the candidates fed to subset search.
const maxGroupPool = 12

// EdgeCaseHandler handles the statement lines a plain 1:1 score cannot
// explain: duplicated ledger postings and one-to-many settlements.
type EdgeCaseHandler struct {
	Config *MatchingConfig
}

// NewEdgeCaseHandler creates a new edge case handler
func NewEdgeCaseHandler(config *MatchingConfig) *EdgeCaseHandler {
	return &EdgeCaseHandler{
		Config: config,
	}
}

// DuplicateGroup is a set of ledger entries that could each explain the
// same statement line.
type DuplicateGroup struct {
	Positions  []int
	Confidence int
	Reason     string
}

// PartialMatchResult is a combination of ledger entries summing to a
// statement line.
type PartialMatchResult struct {
	Positions   []int
	TotalAmount decimal.Decimal
	Confidence  int
	Reason      string
}

// NameSimilarity compares two descriptions after normalization and returns
// 1 minus the normalized levenshtein distance.
func NameSimilarity(a, b string) float64 {
	a, b = models.NormalizeDescription(a), models.NormalizeDescription(b)
	if a == b {
		return 1.0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// DetectDuplicates groups candidates that carry exactly the statement's
// amount. It returns nil unless at least two do. Positions are ordered by
// descending similarity to the statement line.
func (ech *EdgeCaseHandler) DetectDuplicates(stmt models.StatementEntry, candidates []int, index *LedgerIndex) *DuplicateGroup {
	var exact []int
	for _, pos := range candidates {
		if index.Entries[pos].Amount.Equal(stmt.Amount) {
			exact = append(exact, pos)
		}
	}
	if len(exact) < 2 {
		return nil
	}

	sort.SliceStable(exact, func(i, j int) bool {
		return ech.closeness(stmt, index.Entries[exact[i]]) > ech.closeness(stmt, index.Entries[exact[j]])
	})

	return &DuplicateGroup{
		Positions:  exact,
		Confidence: ech.calculateDuplicateConfidence(stmt, exact, index),
		Reason: fmt.Sprintf("%d ledger entries share the amount %s of one statement line.",
			len(exact), stmt.Amount.String()),
	}
}

// closeness ranks a candidate against a statement line by description
// similarity, then date proximity.
func (ech *EdgeCaseHandler) closeness(stmt models.StatementEntry, e models.LedgerEntry) float64 {
	days := ech.Config.DaysApart(e.Date, stmt.Date)
	return NameSimilarity(e.Description, stmt.Description) - float64(days)*0.01
}

// calculateDuplicateConfidence is high when one candidate clearly stands
// out and low when they are indistinguishable.
func (ech *EdgeCaseHandler) calculateDuplicateConfidence(stmt models.StatementEntry, positions []int, index *LedgerIndex) int {
	best := ech.closeness(stmt, index.Entries[positions[0]])
	second := ech.closeness(stmt, index.Entries[positions[1]])

	confidence := 60 + int((best-second)*100)
	if confidence > 90 {
		confidence = 90
	}
	if confidence < ech.Config.MinConfidence {
		confidence = ech.Config.MinConfidence
	}
	return confidence
}

// FindGroup looks for 2..MaxGroupSize candidates whose amounts add up to the
// statement amount within the balance tolerance. Among several solutions the
// smallest group with the tightest date spread wins.
func (ech *EdgeCaseHandler) FindGroup(stmt models.StatementEntry, candidates []int, index *LedgerIndex) *PartialMatchResult {
	if !ech.Config.EnableGrouping || len(candidates) < 2 {
		return nil
	}
	if len(candidates) > maxGroupPool {
		candidates = candidates[:maxGroupPool]
	}

	var best *PartialMatchResult
	bestSpread := 0
	for _, combo := range ech.generateCombinations(candidates, 2, ech.Config.MaxGroupSize) {
		total := decimal.Zero
		for _, pos := range combo {
			total = total.Add(index.Entries[pos].Amount)
		}
		if !models.WithinTolerance(total, stmt.Amount) {
			continue
		}

		spread := 0
		for _, pos := range combo {
			spread += ech.Config.DaysApart(index.Entries[pos].Date, stmt.Date)
		}
		if best != nil && (len(combo) > len(best.Positions) ||
			(len(combo) == len(best.Positions) && spread >= bestSpread)) {
			continue
		}

		best = &PartialMatchResult{
			Positions:   combo,
			TotalAmount: total,
			Confidence:  ech.calculatePartialMatchConfidence(len(combo), spread),
			Reason: fmt.Sprintf("%d ledger entries add up to the statement amount %s.",
				len(combo), stmt.Amount.String()),
		}
		bestSpread = spread
	}
	return best
}

// generateCombinations generates position combinations for subset search
func (ech *EdgeCaseHandler) generateCombinations(positions []int, minSize, maxSize int) [][]int {
	var combinations [][]int

	for size := minSize; size <= maxSize && size <= len(positions); size++ {
		combinations = append(combinations, ech.getCombinations(positions, size)...)
	}

	return combinations
}

// getCombinations generates all combinations of given size
func (ech *EdgeCaseHandler) getCombinations(positions []int, size int) [][]int {
	if size > len(positions) || size <= 0 {
		return nil
	}

	if size == 1 {
		result := make([][]int, 0, len(positions))
		for _, pos := range positions {
			result = append(result, []int{pos})
		}
		return result
	}

	var result [][]int
	for i := 0; i <= len(positions)-size; i++ {
		for _, combo := range ech.getCombinations(positions[i+1:], size-1) {
			result = append(result, append([]int{positions[i]}, combo...))
		}
	}
	return result
}

// calculatePartialMatchConfidence penalizes larger groups and wider date spreads
func (ech *EdgeCaseHandler) calculatePartialMatchConfidence(size, spread int) int {
	confidence := 85 - (size-2)*10 - spread*2
	if confidence < ech.Config.MinConfidence {
		confidence = ech.Config.MinConfidence
	}
	return confidence
}
