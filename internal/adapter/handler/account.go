package handler

import (
	"net/http"

	"osusu-auth/internal/lifecycle"
	"osusu-auth/utils/logger"

	"github.com/labstack/echo/v4"
)

// AccountHandler handles account registration.
type AccountHandler struct {
	manager   *lifecycle.Manager
	lifecycle *LifecycleHandler
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(manager *lifecycle.Manager, lifecycle *LifecycleHandler) *AccountHandler {
	return &AccountHandler{manager: manager, lifecycle: lifecycle}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister processes POST /v1/accounts: create account, set display
// name, sign in. Registration errors are surfaced so the app can show them.
func (h *AccountHandler) HandleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name, email and password are required")
	}

	ctx := logger.WithOperation(c.Request().Context(), "register")
	if err := h.manager.RegisterAccount(ctx, req.Name, req.Email, req.Password); err != nil {
		return mapDomainError(err)
	}

	if state := h.manager.State(); state.Authenticated() {
		ctx = logger.WithAccountID(ctx, state.Account.ID)
	}
	logger.FromContext(ctx).InfoContext(ctx, "registration completed")

	return h.lifecycle.respondState(c, http.StatusCreated)
}
