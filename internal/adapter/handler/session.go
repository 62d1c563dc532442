package handler

import (
	"net/http"

	"osusu-auth/internal/lifecycle"
	"osusu-auth/utils/logger"

	"github.com/labstack/echo/v4"
)

// SessionHandler handles sign-in and sign-out.
type SessionHandler struct {
	manager   *lifecycle.Manager
	lifecycle *LifecycleHandler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(manager *lifecycle.Manager, lifecycle *LifecycleHandler) *SessionHandler {
	return &SessionHandler{manager: manager, lifecycle: lifecycle}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignIn processes POST /v1/sessions.
func (h *SessionHandler) HandleSignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	ctx := logger.WithOperation(c.Request().Context(), "sign_in")
	if err := h.manager.SignIn(ctx, req.Email, req.Password); err != nil {
		return mapDomainError(err)
	}

	if state := h.manager.State(); state.Authenticated() {
		ctx = logger.WithAccountID(ctx, state.Account.ID)
		ctx = logger.WithSessionID(ctx, state.Session.ID)
	}
	logger.FromContext(ctx).InfoContext(ctx, "sign-in completed")

	return h.lifecycle.respondState(c, http.StatusOK)
}

// HandleSignOut processes DELETE /v1/sessions/current. Sign-out is fail-open:
// local state always clears, so the response is 204 even when the remote
// delete failed. A concurrent operation yields 409 without touching state.
func (h *SessionHandler) HandleSignOut(c echo.Context) error {
	ctx := logger.WithOperation(c.Request().Context(), "sign_out")
	if err := h.manager.SignOut(ctx); err != nil {
		return mapDomainError(err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "sign-out completed")
	return c.NoContent(http.StatusNoContent)
}
