package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/samirrijal/geoproof/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"` // bad_request, not_found, invalid_input, ...
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	Category  string `json:"category,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	return writeAPIError(c, APIError{Status: status, Code: code, Message: message})
}

func writeAPIError(c *fiber.Ctx, e APIError) error {
	e.RequestID, _ = c.Locals("requestid").(string)
	return c.Status(e.Status).JSON(e)
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusNotFound, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusInternalServerError, "internal_error", msg)
}

// errUnavailable returns a 503 error.
func errUnavailable(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusServiceUnavailable, "unavailable", msg)
}

// errFromDomain maps a pipeline or repository error onto an HTTP status.
// Input problems are the caller's fault (422), execution faults come from
// the prover (502), format drift is ours (500) and network failures are
// retryable (503).
func errFromDomain(c *fiber.Ctx, err error) error {
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		e := APIError{Message: err.Error(), Stage: string(pe.Stage), Category: string(pe.Category)}
		switch pe.Category {
		case domain.CategoryInput:
			e.Status, e.Code = fiber.StatusUnprocessableEntity, "invalid_input"
		case domain.CategoryExecution:
			e.Status, e.Code = fiber.StatusBadGateway, "execution_failed"
		case domain.CategoryFormat:
			e.Status, e.Code = fiber.StatusInternalServerError, "format_error"
		case domain.CategoryNetwork:
			e.Status, e.Code = fiber.StatusServiceUnavailable, "network_error"
			c.Set(fiber.HeaderRetryAfter, "5")
		default:
			e.Status, e.Code = fiber.StatusInternalServerError, "internal_error"
		}
		return writeAPIError(c, e)
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return newError(c, fiber.StatusGatewayTimeout, "timeout", err.Error())
	default:
		LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
		return errInternal(c, "internal error")
	}
}
