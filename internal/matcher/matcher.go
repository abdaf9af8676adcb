package matcher

import (
	"fmt"
	"math"
	"sort"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Suggester produces match suggestions for a period from the raw ledger and
// statement feeds. It is the local stand-in for the upstream AI matcher: the
// engine never calls it, it only consumes what it emits.
type Suggester struct {
	Config *MatchingConfig
	edge   *EdgeCaseHandler
	logger logger.Logger
}

// SuggestStats summarizes one Suggest run.
type SuggestStats struct {
	Statements int                    `json:"statements"`
	Ledger     int                    `json:"ledger"`
	ByType     map[SuggestionType]int `json:"by_type"`
	Unclaimed  int                    `json:"unclaimed_statements"`
	Index      IndexStats             `json:"index"`
}

// scoredCandidate is one ledger entry scored against a statement line.
type scoredCandidate struct {
	pos         int
	confidence  int
	amountScore float64
	dateScore   float64
	similarity  float64
}

// NewSuggester creates a suggester. A nil config selects the defaults and a
// nil logger the global one.
func NewSuggester(config *MatchingConfig, log logger.Logger) (*Suggester, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	config = config.Clone()
	return &Suggester{
		Config: config,
		edge:   NewEdgeCaseHandler(config),
		logger: log.WithComponent("matcher"),
	}, nil
}

// Suggest walks the statement lines in feed order and emits at most one
// suggestion per line. A ledger entry is claimed by at most one suggestion.
// Lines without a suggestion are left for Assemble to report as missing.
func (s *Suggester) Suggest(ledger []models.LedgerEntry, statements []models.StatementEntry) ([]Suggestion, SuggestStats) {
	index := NewLedgerIndex(ledger)
	used := make(map[int]bool)
	stats := SuggestStats{
		Statements: len(statements),
		Ledger:     len(ledger),
		ByType:     make(map[SuggestionType]int),
		Index:      index.GetIndexStats(),
	}

	var suggestions []Suggestion
	for _, stmt := range statements {
		suggestion, ok := s.suggestFor(stmt, index, used)
		if !ok {
			stats.Unclaimed++
			continue
		}
		suggestions = append(suggestions, suggestion)
		stats.ByType[suggestion.Type]++
	}

	s.logger.WithFields(logger.Fields{
		"statements":  stats.Statements,
		"ledger":      stats.Ledger,
		"suggestions": len(suggestions),
		"unclaimed":   stats.Unclaimed,
	}).Info("Suggestions generated")

	return suggestions, stats
}

func (s *Suggester) suggestFor(stmt models.StatementEntry, index *LedgerIndex, used map[int]bool) (Suggestion, bool) {
	candidates := index.Candidates(stmt, used, s.Config)

	if dup := s.edge.DetectDuplicates(stmt, candidates, index); dup != nil {
		claim(used, dup.Positions)
		return Suggestion{
			Type:        SuggestDuplicate,
			StatementID: stmt.ID,
			LedgerIDs:   ledgerIDs(index, dup.Positions),
			Confidence:  dup.Confidence,
			Explanation: dup.Reason,
		}, true
	}

	if scored := s.scoreCandidates(stmt, candidates, index); len(scored) > 0 {
		best := scored[0]
		claim(used, []int{best.pos})
		return s.classify(stmt, index.Entries[best.pos], best), true
	}

	if s.Config.EnableGrouping {
		group := s.edge.FindGroup(stmt, index.GroupCandidates(stmt, used, s.Config), index)
		if group != nil {
			claim(used, group.Positions)
			return Suggestion{
				Type:        SuggestGroup,
				StatementID: stmt.ID,
				LedgerIDs:   ledgerIDs(index, group.Positions),
				Confidence:  group.Confidence,
				Explanation: group.Reason,
			}, true
		}
	}

	s.logger.WithField("statement", stmt.ID).Debug("No ledger candidate found")
	return Suggestion{}, false
}

// scoreCandidates scores every candidate and returns those at or above
// MinConfidence, best first. Ties keep feed order.
func (s *Suggester) scoreCandidates(stmt models.StatementEntry, candidates []int, index *LedgerIndex) []scoredCandidate {
	var results []scoredCandidate
	for _, pos := range candidates {
		result := s.scoreMatch(stmt, index.Entries[pos])
		result.pos = pos
		if result.confidence >= s.Config.MinConfidence {
			results = append(results, result)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].confidence > results[j].confidence
	})
	return results
}

// scoreMatch calculates the weighted match score between a ledger entry and
// a statement line
func (s *Suggester) scoreMatch(stmt models.StatementEntry, entry models.LedgerEntry) scoredCandidate {
	amountScore := s.calculateAmountScore(entry.Amount, stmt.Amount)
	dateScore := s.calculateDateScore(entry, stmt)
	similarity := NameSimilarity(entry.Description, stmt.Description)

	weights := s.Config.Weights
	score := amountScore*weights.AmountWeight +
		dateScore*weights.DateWeight +
		similarity*weights.NameWeight

	return scoredCandidate{
		confidence:  int(math.Round(score * 100)),
		amountScore: amountScore,
		dateScore:   dateScore,
		similarity:  similarity,
	}
}

// calculateAmountScore is 1 for equal amounts and decays linearly to 0 at
// the configured tolerance.
func (s *Suggester) calculateAmountScore(ledgerAmount, stmtAmount decimal.Decimal) float64 {
	if ledgerAmount.Equal(stmtAmount) {
		return 1.0
	}

	tolerance := s.Config.GetAmountTolerance(stmtAmount)
	if tolerance.IsZero() {
		return 0.0
	}

	difference := ledgerAmount.Sub(stmtAmount).Abs()
	if difference.LessThanOrEqual(tolerance) {
		diffRatio := difference.Div(tolerance).InexactFloat64()
		return math.Max(0.0, 1.0-diffRatio)
	}
	return 0.0
}

// calculateDateScore is 1 on the same day and decays linearly across the
// tolerance window.
func (s *Suggester) calculateDateScore(entry models.LedgerEntry, stmt models.StatementEntry) float64 {
	days := s.Config.DaysApart(entry.Date, stmt.Date)
	if days == 0 {
		return 1.0
	}
	if s.Config.DateToleranceDays == 0 || !s.Config.IsWithinDateTolerance(entry.Date, stmt.Date) {
		return 0.0
	}
	// Leave some credit at the window edge so a date offset alone never
	// drops a pair below the confidence floor.
	return math.Max(0.2, 1.0-float64(days)/float64(s.Config.DateToleranceDays+1))
}

// classify turns the best candidate into a match or an anomaly. Amount
// differences win over date offsets, which win over name variants.
func (s *Suggester) classify(stmt models.StatementEntry, entry models.LedgerEntry, best scoredCandidate) Suggestion {
	suggestion := Suggestion{
		StatementID: stmt.ID,
		LedgerIDs:   []string{entry.ID},
		Confidence:  best.confidence,
	}

	switch {
	case !entry.Amount.Equal(stmt.Amount):
		suggestion.Type = SuggestAnomaly
		suggestion.Kind = models.KindAmountDiff
		suggestion.Explanation = fmt.Sprintf("Ledger shows %s but the bank cleared %s, a difference of %s.",
			entry.Amount.StringFixed(2), stmt.Amount.StringFixed(2), stmt.Amount.Sub(entry.Amount).StringFixed(2))
	case s.Config.DaysApart(entry.Date, stmt.Date) > 0:
		suggestion.Type = SuggestAnomaly
		suggestion.Kind = models.KindDateOffset
		suggestion.Explanation = fmt.Sprintf("Bank posted on %s, %d day(s) from the ledger date %s.",
			stmt.Date.Format(models.DateLayout), s.Config.DaysApart(entry.Date, stmt.Date), entry.Date.Format(models.DateLayout))
	case best.similarity < s.Config.NameSimilarityThreshold:
		suggestion.Type = SuggestAnomaly
		suggestion.Kind = models.KindNameVariant
		suggestion.Explanation = fmt.Sprintf("Descriptions differ: %q in the ledger, %q at the bank (%.0f%% similar).",
			entry.Description, stmt.Description, best.similarity*100)
	default:
		suggestion.Type = SuggestMatch
		suggestion.Explanation = "Amount and date agree exactly."
	}
	return suggestion
}

func claim(used map[int]bool, positions []int) {
	for _, pos := range positions {
		used[pos] = true
	}
}

func ledgerIDs(index *LedgerIndex, positions []int) []string {
	ids := make([]string, len(positions))
	for i, pos := range positions {
		ids[i] = index.Entries[pos].ID
	}
	return ids
}
