package server

import (
	"errors"
	"fmt"
	"strconv"

	"eggdash/dashboard"
	"eggdash/feeds"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// ErrorCode is a string type for consistent error codes.
type ErrorCode string

const (
	ErrorCodeInternalServerError ErrorCode = "internal_server_error"
	ErrorCodeValidationFailed    ErrorCode = "validation_failed"
	ErrorCodeNotFound            ErrorCode = "not_found"
	ErrorCodeForbidden           ErrorCode = "forbidden"
	ErrorCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, statusCode int) APIError {
	return APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// respondWithError maps service errors to JSON error responses
func respondWithError(c *fiber.Ctx, err error) error {
	var validation *dashboard.ValidationError
	var apiErr APIError

	switch {
	case errors.As(err, &validation):
		apiErr = NewAPIError(ErrorCodeValidationFailed, validation.Message, fiber.StatusBadRequest)
	case errors.Is(err, dashboard.ErrFeedNotFound):
		apiErr = NewAPIError(ErrorCodeNotFound, "Egg not found", fiber.StatusNotFound)
	case errors.Is(err, feeds.ErrUpstreamUnavailable):
		apiErr = NewAPIError(ErrorCodeUpstreamUnavailable, "The feed service is unavailable, try again later", fiber.StatusBadGateway)
	default:
		apiErr = NewAPIError(ErrorCodeInternalServerError, "Internal server error", fiber.StatusInternalServerError)
	}

	log.WithFields(log.Fields{
		"path":   c.Path(),
		"status": apiErr.StatusCode,
		"error":  err,
	}).Error("Request failed")
	return respondWithAPIError(c, apiErr)
}

func respondWithAPIError(c *fiber.Ctx, apiErr APIError) error {
	return c.Status(apiErr.StatusCode).JSON(apiErr)
}

func eggPath(feedId int64) string {
	return "/egg/" + strconv.FormatInt(feedId, 10)
}
