package handler

import (
	"errors"
	"net/http"

	"osusu-auth/internal/domain"

	"github.com/labstack/echo/v4"
)

// mapDomainError converts a domain error into an appropriate echo.HTTPError.
func mapDomainError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrNotAuthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")

	case errors.Is(err, domain.ErrEmailTaken):
		return echo.NewHTTPError(http.StatusConflict, "email already registered")

	case errors.Is(err, domain.ErrOperationInFlight):
		return echo.NewHTTPError(http.StatusConflict, "another lifecycle operation is in flight")

	case errors.Is(err, domain.ErrPasswordPolicy),
		errors.Is(err, domain.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	case errors.Is(err, domain.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")

	case errors.Is(err, domain.ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "identity provider unavailable")

	case errors.Is(err, domain.ErrTokenGeneration):
		return echo.NewHTTPError(http.StatusInternalServerError, "token generation error")

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
