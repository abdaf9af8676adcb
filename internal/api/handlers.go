package api

import (
	"time"

	"reconciliation-engine/internal/feed"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/internal/reporter"
	"reconciliation-engine/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

func (s *Server) registerRoutes(r fiber.Router) {
	r.Get("/period", s.handlePeriod)
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/balance", s.handleBalance)
	r.Get("/totals", s.handleTotals)
	r.Get("/view", s.handleView)
	r.Get("/report", s.handleReport)

	attention := r.Group("/attention/:id")
	attention.Post("/accept", s.itemCommand(s.engine.Accept))
	attention.Post("/apply-suggestion", s.itemCommand(s.engine.ApplySuggestion))
	attention.Post("/resolve-updated", s.itemCommand(s.engine.ResolveUpdated))
	attention.Patch("/ledger-entry", s.handleEditLedgerEntry)
	attention.Post("/duplicates/resolve", s.handleResolveDuplicates)
	attention.Post("/duplicates/ignore", s.itemCommand(s.engine.IgnoreDuplication))
	attention.Post("/dismiss", s.itemCommand(s.engine.Dismiss))
	attention.Post("/ledger-entry", s.handleCreateLedgerEntry)
	attention.Post("/resolve-created", s.itemCommand(s.engine.ResolveCreated))

	r.Post("/ledger-entries", s.handleAddLedgerEntry)
	r.Post("/selection/preview", s.handlePreviewSelection)
	r.Post("/selection/resolve", s.handleManualResolve)
	r.Post("/matched/:id/reject", s.itemCommand(s.engine.Reject))
	r.Post("/resolved/:id/unresolve", s.itemCommand(s.engine.Unresolve))
	r.Put("/period/statement-balance", s.handleSetStatementBalance)
	r.Post("/period/finalize", s.handleFinalize)
	r.Post("/script", s.handleScript)

	r.Get("/events", s.handleEvents)
	r.Get("/sessions", s.handleSessions)
	r.Get("/sessions/:session/events", s.handleEvents)
}

// commandResponse reports where an item ended up and the new balance.
type commandResponse struct {
	ItemID      string                   `json:"item_id,omitempty"`
	Location    reconciler.Container     `json:"location,omitempty"`
	Balance     reconciler.PeriodBalance `json:"balance"`
	CanFinalize bool                     `json:"can_finalize"`
	Result      interface{}              `json:"result,omitempty"`
}

func (s *Server) respond(c *fiber.Ctx, status int, itemID string, result interface{}) error {
	snap := s.engine.Snapshot()
	resp := commandResponse{
		ItemID:      itemID,
		Balance:     snap.Balance(),
		CanFinalize: snap.CanFinalize(),
		Result:      result,
	}
	if itemID != "" {
		resp.Location = snap.Location(itemID)
	}
	return c.Status(status).JSON(resp)
}

// itemCommand adapts an engine command that takes only an item id.
func (s *Server) itemCommand(cmd func(id string) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := cmd(id); err != nil {
			return err
		}
		return s.respond(c, fiber.StatusOK, id, nil)
	}
}

func (s *Server) handlePeriod(c *fiber.Ctx) error {
	snap := s.engine.Snapshot()
	return c.JSON(fiber.Map{
		"account":      s.period.Account,
		"source":       s.period.Source,
		"finalized":    snap.Finalized,
		"can_finalize": snap.CanFinalize(),
		"config":       s.engine.Config(),
	})
}

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	return c.JSON(s.engine.Snapshot())
}

func (s *Server) handleBalance(c *fiber.Ctx) error {
	snap := s.engine.Snapshot()
	return c.JSON(fiber.Map{
		"balance":      snap.Balance(),
		"can_finalize": snap.CanFinalize(),
	})
}

func (s *Server) handleTotals(c *fiber.Ctx) error {
	return c.JSON(s.engine.Snapshot().Totals())
}

func (s *Server) handleView(c *fiber.Ctx) error {
	var q reconciler.ViewQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest(err)
	}
	rows := s.engine.Snapshot().View(q)
	if rows == nil {
		rows = []reconciler.ViewRow{}
	}
	return c.JSON(fiber.Map{"query": q, "rows": rows})
}

func (s *Server) handleReport(c *fiber.Ctx) error {
	var q reconciler.ViewQuery
	if err := c.QueryParser(&q); err != nil {
		return badRequest(err)
	}

	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(c.Query("format", string(reporter.FormatJSON)))
	config.UseColors = false
	config.IncludeMatched = c.QueryBool("matched", false)
	generator, err := reporter.NewReportGenerator(config)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidFormat, "format", config.Format, err)
	}

	switch config.Format {
	case reporter.FormatJSON:
		c.Type("json")
	case reporter.FormatCSV:
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	default:
		c.Type("txt")
	}
	return generator.GenerateReport(&reporter.Report{
		Account:  s.period.Account,
		Source:   s.period.Source,
		Snapshot: s.engine.Snapshot(),
		Query:    q,
	}, c.Response().BodyWriter())
}

type editRequest struct {
	Date        *string `json:"date"`
	Description *string `json:"description"`
	Amount      *string `json:"amount"`
	Category    *string `json:"category"`
}

func (s *Server) handleEditLedgerEntry(c *fiber.Ctx) error {
	var req editRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}

	patch := reconciler.LedgerPatch{Description: req.Description, Category: req.Category}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			return err
		}
		patch.Date = &date
	}
	if req.Amount != nil {
		amount, err := parseAmount(*req.Amount)
		if err != nil {
			return err
		}
		patch.Amount = &amount
	}

	id := c.Params("id")
	if err := s.engine.EditLedgerEntry(id, patch); err != nil {
		return err
	}
	return s.respond(c, fiber.StatusOK, id, nil)
}

type duplicatesRequest struct {
	Keep []int `json:"keep"`
}

func (s *Server) handleResolveDuplicates(c *fiber.Ctx) error {
	var req duplicatesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}

	id := c.Params("id")
	outcome, err := s.engine.ResolveDuplicates(id, req.Keep)
	if err != nil {
		return err
	}
	return s.respond(c, fiber.StatusOK, id, outcome)
}

func (s *Server) handleCreateLedgerEntry(c *fiber.Ctx) error {
	var fields reconciler.LedgerEntryFields
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&fields); err != nil {
			return badRequest(err)
		}
	}

	id := c.Params("id")
	entry, err := s.engine.CreateLedgerEntry(c.UserContext(), id, fields)
	if err != nil {
		return err
	}
	return s.respond(c, fiber.StatusCreated, id, entry)
}

type addRequest struct {
	Direction   reconciler.Direction `json:"direction"`
	Date        string               `json:"date"`
	Description string               `json:"description"`
	Amount      string               `json:"amount"`
	Category    string               `json:"category"`
}

func (s *Server) handleAddLedgerEntry(c *fiber.Ctx) error {
	var req addRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}

	item, err := s.engine.AddLedgerEntry(req.Direction, reconciler.NewLedgerEntry{
		Date:        date,
		Description: req.Description,
		Amount:      amount,
		Category:    req.Category,
	})
	if err != nil {
		return err
	}
	return s.respond(c, fiber.StatusCreated, item.ID, item)
}

type selectionRequest struct {
	LedgerItemIDs    []string `json:"ledger_item_ids"`
	StatementItemIDs []string `json:"statement_item_ids"`
}

func (s *Server) handlePreviewSelection(c *fiber.Ctx) error {
	var req selectionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	selection, err := s.engine.PreviewSelection(req.LedgerItemIDs, req.StatementItemIDs)
	if err != nil {
		return err
	}
	return c.JSON(selection)
}

func (s *Server) handleManualResolve(c *fiber.Ctx) error {
	var req selectionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	records, err := s.engine.ManualResolve(req.LedgerItemIDs, req.StatementItemIDs)
	if err != nil {
		return err
	}
	return s.respond(c, fiber.StatusOK, "", records)
}

type balanceRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleSetStatementBalance(c *fiber.Ctx) error {
	var req balanceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	if err := s.engine.SetStatementBalance(amount); err != nil {
		return err
	}
	return s.respond(c, fiber.StatusOK, "", nil)
}

func (s *Server) handleFinalize(c *fiber.Ctx) error {
	summary, err := s.engine.Finalize()
	if err != nil {
		return err
	}
	s.requestLogger(c).WithField("balanced", summary.Balanced).Info("Period finalized")
	return c.JSON(summary)
}

func (s *Server) handleScript(c *fiber.Ctx) error {
	var script feed.Script
	if err := c.BodyParser(&script); err != nil {
		return badRequest(err)
	}
	if err := script.Validate("request"); err != nil {
		return err
	}

	result, err := feed.RunScript(c.UserContext(), s.engine, &script, s.requestLogger(c))
	if err != nil && !script.StopOnError {
		return err
	}
	// a stopped script still reports the steps it ran
	status := fiber.StatusOK
	if result.Failed > 0 {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(result)
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	if s.events == nil {
		return fiber.NewError(fiber.StatusNotFound, "event journal is not enabled")
	}
	session := c.Params("session", s.events.Session())
	if session == "" {
		return fiber.NewError(fiber.StatusNotFound, "no journal session")
	}

	records, err := s.events.Events(c.UserContext(), session)
	if err != nil {
		return err
	}
	if itemID := c.Query("item_id"); itemID != "" {
		filtered := records[:0]
		for _, r := range records {
			if r.ItemID == itemID {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	return c.JSON(fiber.Map{"session_id": session, "events": records})
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	if s.events == nil {
		return fiber.NewError(fiber.StatusNotFound, "event journal is not enabled")
	}
	sessions, err := s.events.Sessions(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.ValidationError(errors.CodeMissingField, "date", s, nil)
	}
	date, err := models.ParseTimeWithFormats(s)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, "date", s, err)
	}
	return date, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.ValidationError(errors.CodeMissingField, "amount", s, nil)
	}
	amount, err := models.ParseDecimalFromString(s)
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, "amount", s, err)
	}
	return amount, nil
}
