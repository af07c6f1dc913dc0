package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/auth"
	"taskboard/domain"
	"taskboard/notifier"
)

var (
	errMalformedBody    = errors.New("invalid body")
	errBodyTooLarge     = errors.New("body too large")
	errDuplicateRequest = errors.New("duplicate idempotency key")
)

// requestError wraps a validator failure on a decoded body.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return "invalid request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.Is(err, errMalformedBody), errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, auth.ErrMissingAuthorization),
		errors.Is(err, auth.ErrBadAuthorization),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIDCollision):
		return http.StatusConflict
	case errors.Is(err, notifier.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error response. A dangling reference means a
// snapshot broke its invariants; the process does not keep serving it.
func (h *handlers) fail(c echo.Context, err error) error {
	status := statusFor(err)
	fields := log.Fields{
		"route":  c.Path(),
		"status": status,
	}
	switch {
	case errors.Is(err, domain.ErrDanglingReference):
		h.logger.WithError(err).WithFields(fields).Fatal("board state invariant violated")
	case status >= http.StatusInternalServerError:
		h.logger.WithError(err).WithFields(fields).Error("request failed")
	default:
		h.logger.WithError(err).WithFields(fields).Debug("request rejected")
	}
	c.Set(errorContextKey, err)
	return c.JSON(status, errorResponse{Error: err.Error()})
}
