package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/model"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeConflict        = "CONFLICT"
	CodeJobFailed       = "JOB_FAILED"
	CodeServiceError    = "SERVICE_ERROR"
	CodeUpstreamError   = "UPSTREAM_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, CodeConflict, message, nil)
}

func UpstreamError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, CodeUpstreamError, message, nil)
}

// FromError maps a domain error onto the envelope. Unknown errors become a
// generic service error so internals never leak.
func FromError(c *fiber.Ctx, err error) error {
	var (
		submitErr  *model.SubmissionError
		publishErr *model.PublishStepError
	)
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrJobNotFound):
		return NotFound(c, err.Error())
	case errors.Is(err, model.ErrInvalidSchedule), errors.Is(err, model.ErrNoMedia),
		errors.Is(err, model.ErrIneligiblePlatform):
		return ValidationError(c, err.Error(), nil)
	case errors.Is(err, model.ErrAlreadyPublishing), errors.Is(err, model.ErrInvalidTransition):
		return Conflict(c, err.Error())
	case errors.As(err, &submitErr):
		return UpstreamError(c, err.Error())
	case errors.As(err, &publishErr):
		return Error(c, fiber.StatusBadGateway, CodeJobFailed, err.Error(), fiber.Map{"step": publishErr.Step})
	}
	return ServiceError(c, "Internal server error")
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
