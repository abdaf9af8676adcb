package api

import (
	stderrors "errors"

	"reconciliation-engine/pkg/errors"

	"github.com/gofiber/fiber/v2"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error      string                    `json:"error"`
	Code       errors.ErrorCode          `json:"code,omitempty"`
	Category   errors.ErrorCategory      `json:"category,omitempty"`
	Suggestion string                    `json:"suggestion,omitempty"`
	Context    errors.Context            `json:"context,omitempty"`
	Details    []*errors.ReconcilerError `json:"details,omitempty"`
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	var fe *fiber.Error
	if stderrors.As(err, &fe) {
		return fe.Code
	}

	var summary *errors.ErrorSummary
	if stderrors.As(err, &summary) {
		return fiber.StatusUnprocessableEntity
	}

	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		return fiber.StatusInternalServerError
	}
	switch rerr.Code {
	case errors.CodeNotFound:
		return fiber.StatusNotFound
	case errors.CodeInvalidTransition, errors.CodeFinalized:
		return fiber.StatusConflict
	case errors.CodeExternalFailure:
		return fiber.StatusBadGateway
	}
	switch rerr.Category {
	case errors.CategoryValidation, errors.CategoryResolution, errors.CategoryFeed:
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}

	var summary *errors.ErrorSummary
	if rerr, ok := errors.AsReconcilerError(err); ok {
		body.Error = rerr.Message
		body.Code = rerr.Code
		body.Category = rerr.Category
		body.Suggestion = rerr.Suggestion
		body.Context = rerr.Context
	} else if stderrors.As(err, &summary) {
		body.Code = errors.CodeInvalidData
		body.Details = summary.Errors
	}

	l := s.requestLogger(c).WithField("status", status)
	if status >= fiber.StatusInternalServerError {
		l.WithError(err).Error("Request error")
	} else {
		l.WithError(err).Debug("Request rejected")
	}
	return c.Status(status).JSON(body)
}

func badRequest(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, "malformed request body: "+err.Error())
}
