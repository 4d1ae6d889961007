package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/papersum/internal/api/shared"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/gateway"
	"github.com/phrazzld/papersum/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidSubmission),
		errors.Is(err, domain.ErrMalformedInput),
		errors.Is(err, domain.ErrEmptyKey),
		errors.Is(err, domain.ErrEmptySourceLocator),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, gateway.ErrRecordNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, domain.ErrCollaborator):
		return http.StatusBadGateway

	case errors.Is(err, gateway.ErrEnqueueFailed),
		errors.Is(err, domain.ErrNodeUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, gateway.ErrInvalidSubmission):
		if msg := SanitizeValidationError(err); msg != "" {
			return msg
		}
		return "Invalid submission"
	case errors.Is(err, domain.ErrEmptySourceLocator):
		return "source_locator is required"
	case errors.Is(err, domain.ErrMalformedInput),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"
	case errors.Is(err, gateway.ErrRecordNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Summary not found"
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConflict):
		return "Task already queued"
	case errors.Is(err, domain.ErrCollaborator):
		return "Failed to summarize document"
	case errors.Is(err, gateway.ErrEnqueueFailed):
		return "Failed to enqueue task, please retry"
	case errors.Is(err, domain.ErrNodeUnavailable):
		return "Compute node unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError describes the first failed field of a validator
// error, e.g. "Invalid source_locator: invalid URL". It returns "" when err
// carries no validation errors.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return ""
	}

	fe := validationErrs[0]
	return fmt.Sprintf("Invalid %s: %s", fieldName(fe.Field()), getValidationTagMessage(fe.Tag()))
}

// fieldName converts a Go field name to the JSON name clients send.
func fieldName(field string) string {
	switch field {
	case "SourceLocator":
		return "source_locator"
	default:
		return strings.ToLower(field)
	}
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "url":
		return "invalid URL"
	case "max":
		return "too long"
	case "min":
		return "too short"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the mapped status and safe message for err and logs
// the redacted detail. fallback replaces the generic message for 5xx errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
