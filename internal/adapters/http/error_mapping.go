package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal details behind the status text for 5xx.
func errorMessage(status int, err error) string {
	if status < http.StatusInternalServerError {
		return err.Error()
	}
	return http.StatusText(status)
}
