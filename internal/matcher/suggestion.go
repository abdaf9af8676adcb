package matcher

import (
	"fmt"
	"strings"

	"reconciliation-engine/internal/models"
)

// SuggestionType says which attention variant a suggestion becomes.
type SuggestionType string

const (
	// SuggestMatch is a confident 1:1 pairing. It is confirmed into the
	// matched set when its confidence reaches AutoMatchConfidence.
	SuggestMatch SuggestionType = "match"
	// SuggestAnomaly is a 1:1 pairing with a named discrepancy.
	SuggestAnomaly SuggestionType = "anomaly"
	// SuggestDuplicate is one statement line with several ledger candidates.
	SuggestDuplicate SuggestionType = "duplicate"
	// SuggestGroup is one statement line settling several ledger entries.
	SuggestGroup SuggestionType = "group"
)

// IsValid reports whether t is a known suggestion type.
func (t SuggestionType) IsValid() bool {
	switch t {
	case SuggestMatch, SuggestAnomaly, SuggestDuplicate, SuggestGroup:
		return true
	}
	return false
}

// Suggestion is a match hint for one statement line. It is stored verbatim
// on the item it produces; confidence and explanation are never recomputed.
type Suggestion struct {
	ID          string             `json:"id,omitempty" yaml:"id,omitempty"`
	Type        SuggestionType     `json:"type" yaml:"type"`
	StatementID string             `json:"statement_id" yaml:"statement_id"`
	LedgerIDs   []string           `json:"ledger_ids" yaml:"ledger_ids"`
	Kind        models.AnomalyKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Confidence  int                `json:"confidence" yaml:"confidence"`
	Explanation string             `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	// Confirmed marks a match the reviewer already signed off in an earlier
	// session. It skips the auto-match confidence gate.
	Confirmed bool `json:"confirmed,omitempty" yaml:"confirmed,omitempty"`
}

// Validate checks the shape of the suggestion. References are checked by
// Assemble against the feeds.
func (s Suggestion) Validate() error {
	if !s.Type.IsValid() {
		return fmt.Errorf("unknown suggestion type %q", s.Type)
	}
	if strings.TrimSpace(s.StatementID) == "" {
		return fmt.Errorf("statement_id is required")
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("confidence %d outside 0-100", s.Confidence)
	}

	if s.Confirmed && s.Type != SuggestMatch {
		return fmt.Errorf("only a match can be confirmed, got %s", s.Type)
	}

	switch s.Type {
	case SuggestMatch:
		if len(s.LedgerIDs) != 1 {
			return fmt.Errorf("a match needs exactly one ledger id, got %d", len(s.LedgerIDs))
		}
	case SuggestAnomaly:
		if len(s.LedgerIDs) != 1 {
			return fmt.Errorf("an anomaly needs exactly one ledger id, got %d", len(s.LedgerIDs))
		}
		if !s.Kind.IsValid() {
			return fmt.Errorf("unknown anomaly kind %q", s.Kind)
		}
	case SuggestDuplicate, SuggestGroup:
		if len(s.LedgerIDs) < 2 {
			return fmt.Errorf("a %s needs at least two ledger ids, got %d", s.Type, len(s.LedgerIDs))
		}
	}
	return nil
}

// itemID is the attention or matched id the suggestion produces.
func (s Suggestion) itemID() string {
	if s.ID != "" {
		return s.ID
	}
	return string(s.Type) + "-" + s.StatementID
}
