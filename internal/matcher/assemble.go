package matcher

import (
	"fmt"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

// Feed is the raw material of one period: both entry feeds and the
// suggestions produced for them. Source names the document for errors.
type Feed struct {
	Source      string
	Ledger      []models.LedgerEntry
	Statements  []models.StatementEntry
	Suggestions []Suggestion
}

// Assembly is the initial state handed to the engine at import.
type Assembly struct {
	Attention []models.AttentionItem
	Matched   []models.MatchedPair
	Stats     AssemblyStats
}

// AssemblyStats counts what Assemble produced.
type AssemblyStats struct {
	AutoMatched int                    `json:"auto_matched"`
	Attention   int                    `json:"attention"`
	ByVariant   map[models.Variant]int `json:"by_variant"`
}

// Assemble turns suggestions into attention items and matched pairs. A match
// suggestion is confirmed into the matched set only when its confidence
// reaches AutoMatchConfidence and both amounts agree within tolerance;
// otherwise it is queued as an unconfirmed anomaly. A match already marked
// Confirmed only needs the amounts to agree. Statement lines no
// suggestion claims become MissingInLedger, ledger entries no suggestion
// claims become MissingInBank. Items keep suggestion order, followed by the
// missing-in-ledger items and then the missing-in-bank items, each in feed
// order.
//
// All reference problems are reported together.
func Assemble(feed Feed, config *MatchingConfig) (*Assembly, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	a := &assembler{
		feed:      feed,
		config:    config,
		errs:      errors.NewFeedErrorCollector(0),
		ledger:    make(map[string]int),
		stmts:     make(map[string]int),
		ledgerBy:  make(map[string]string),
		stmtBy:    make(map[string]string),
		itemIDs:   make(map[string]bool),
		assembled: &Assembly{Stats: AssemblyStats{ByVariant: make(map[models.Variant]int)}},
	}

	a.indexFeeds()
	for i, s := range feed.Suggestions {
		a.addSuggestion(i, s)
	}
	a.addUnclaimed()

	if err := a.errs.Err(); err != nil {
		return nil, err
	}
	return a.assembled, nil
}

type assembler struct {
	feed   Feed
	config *MatchingConfig
	errs   *errors.FeedErrorCollector

	ledger   map[string]int
	stmts    map[string]int
	ledgerBy map[string]string
	stmtBy   map[string]string
	itemIDs  map[string]bool

	assembled *Assembly
}

func (a *assembler) loc(path, value string) errors.FeedLocation {
	return errors.FeedLocation{File: a.feed.Source, Path: path, Value: value}
}

func (a *assembler) indexFeeds() {
	for i, e := range a.feed.Ledger {
		path := fmt.Sprintf("ledger[%d]", i)
		if err := e.Validate(); err != nil {
			a.errs.Add(errors.FeedError(errors.CodeInvalidData, a.loc(path, e.ID), "invalid ledger entry", err))
			continue
		}
		if _, dup := a.ledger[e.ID]; dup {
			a.errs.Add(errors.FeedError(errors.CodeDuplicateID, a.loc(path+".id", e.ID), "duplicate ledger id", nil))
			continue
		}
		a.ledger[e.ID] = i
	}

	for i, s := range a.feed.Statements {
		path := fmt.Sprintf("statements[%d]", i)
		if err := s.Validate(); err != nil {
			a.errs.Add(errors.FeedError(errors.CodeInvalidData, a.loc(path, s.ID), "invalid statement entry", err))
			continue
		}
		if _, dup := a.stmts[s.ID]; dup {
			a.errs.Add(errors.FeedError(errors.CodeDuplicateID, a.loc(path+".id", s.ID), "duplicate statement id", nil))
			continue
		}
		a.stmts[s.ID] = i
	}
}

func (a *assembler) addSuggestion(i int, s Suggestion) {
	path := fmt.Sprintf("suggestions[%d]", i)
	if err := s.Validate(); err != nil {
		a.errs.Add(errors.FeedError(errors.CodeInvalidData, a.loc(path, s.ID), "invalid suggestion", err))
		return
	}

	ok := true
	stmtPos, found := a.stmts[s.StatementID]
	if !found {
		a.errs.Add(errors.FeedError(errors.CodeUnknownRef, a.loc(path+".statement_id", s.StatementID), "unknown statement", nil))
		ok = false
	} else if owner, taken := a.stmtBy[s.StatementID]; taken {
		a.errs.Add(errors.FeedError(errors.CodeInvalidData, a.loc(path+".statement_id", s.StatementID),
			fmt.Sprintf("statement already claimed by %s", owner), nil))
		ok = false
	}

	entries := make([]models.LedgerEntry, 0, len(s.LedgerIDs))
	seen := make(map[string]bool, len(s.LedgerIDs))
	for j, id := range s.LedgerIDs {
		idPath := fmt.Sprintf("%s.ledger_ids[%d]", path, j)
		pos, found := a.ledger[id]
		switch {
		case !found:
			a.errs.Add(errors.FeedError(errors.CodeUnknownRef, a.loc(idPath, id), "unknown ledger entry", nil))
			ok = false
		case seen[id]:
			a.errs.Add(errors.FeedError(errors.CodeInvalidData, a.loc(idPath, id), "ledger entry listed twice", nil))
			ok = false
		case a.ledgerBy[id] != "":
			a.errs.Add(errors.FeedError(errors.CodeInvalidData, a.loc(idPath, id),
				fmt.Sprintf("ledger entry already claimed by %s", a.ledgerBy[id]), nil))
			ok = false
		default:
			entries = append(entries, a.feed.Ledger[pos])
		}
		seen[id] = true
	}

	itemID := s.itemID()
	if a.itemIDs[itemID] {
		a.errs.Add(errors.FeedError(errors.CodeDuplicateID, a.loc(path+".id", itemID), "duplicate item id", nil))
		ok = false
	}
	if !ok {
		return
	}

	a.itemIDs[itemID] = true
	a.stmtBy[s.StatementID] = itemID
	for _, id := range s.LedgerIDs {
		a.ledgerBy[id] = itemID
	}

	a.place(path, itemID, s, a.feed.Statements[stmtPos], entries)
}

func (a *assembler) place(path, itemID string, s Suggestion, stmt models.StatementEntry, entries []models.LedgerEntry) {
	var item models.AttentionItem
	switch s.Type {
	case SuggestMatch:
		balanced := models.WithinTolerance(entries[0].Amount, stmt.Amount)
		if s.Confirmed && !balanced {
			a.errs.Add(errors.FeedError(errors.CodeInvalidData, a.loc(path, itemID),
				fmt.Sprintf("confirmed match amounts differ: %s vs %s", entries[0].Amount, stmt.Amount), nil))
			return
		}
		if s.Confirmed || (s.Confidence >= a.config.AutoMatchConfidence && balanced) {
			pair := models.MatchedPair{ID: itemID, Ledger: entries[0], Statement: stmt, Confidence: s.Confidence}
			a.assembled.Matched = append(a.assembled.Matched, pair)
			a.assembled.Stats.AutoMatched++
			return
		}
		item = &models.SimpleAnomaly{
			ID: itemID, Ledger: entries[0], Statement: stmt,
			Confidence: s.Confidence, Kind: models.KindUnconfirmed, Explanation: s.Explanation,
		}
	case SuggestAnomaly:
		item = &models.SimpleAnomaly{
			ID: itemID, Ledger: entries[0], Statement: stmt,
			Confidence: s.Confidence, Kind: s.Kind, Explanation: s.Explanation,
		}
	case SuggestDuplicate:
		item = &models.DuplicateCandidates{
			ID: itemID, Candidates: entries, Statement: stmt,
			Confidence: s.Confidence, Explanation: s.Explanation,
		}
	case SuggestGroup:
		item = &models.OneToMany{
			ID: itemID, LedgerItems: entries, Statement: stmt,
			Confidence: s.Confidence, Explanation: s.Explanation,
		}
	}

	if err := item.Validate(); err != nil {
		a.errs.Add(errors.FeedError(errors.CodeInvalidData, a.loc(path, itemID), "invalid attention item", err))
		return
	}
	a.queue(item)
}

func (a *assembler) addUnclaimed() {
	for i, stmt := range a.feed.Statements {
		if pos, ok := a.stmts[stmt.ID]; !ok || pos != i || a.stmtBy[stmt.ID] != "" {
			continue
		}
		a.queueMissing(fmt.Sprintf("statements[%d]", i), &models.MissingInLedger{
			ID:        "missing-ledger-" + stmt.ID,
			Statement: stmt,
			State:     models.CreationMissing,
		})
	}

	for i, e := range a.feed.Ledger {
		if pos, ok := a.ledger[e.ID]; !ok || pos != i || a.ledgerBy[e.ID] != "" {
			continue
		}
		a.queueMissing(fmt.Sprintf("ledger[%d]", i), &models.MissingInBank{
			ID:     "missing-bank-" + e.ID,
			Ledger: e,
		})
	}
}

func (a *assembler) queueMissing(path string, item models.AttentionItem) {
	if a.itemIDs[item.ItemID()] {
		a.errs.Add(errors.FeedError(errors.CodeDuplicateID, a.loc(path, item.ItemID()), "duplicate item id", nil))
		return
	}
	a.itemIDs[item.ItemID()] = true
	a.queue(item)
}

func (a *assembler) queue(item models.AttentionItem) {
	a.assembled.Attention = append(a.assembled.Attention, item)
	a.assembled.Stats.Attention++
	a.assembled.Stats.ByVariant[item.Variant()]++
}
