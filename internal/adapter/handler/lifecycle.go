package handler

import (
	"log/slog"
	"net/http"
	"time"

	"osusu-auth/internal/domain"
	"osusu-auth/internal/lifecycle"
	"osusu-auth/utils/logger"

	"github.com/labstack/echo/v4"
)

// LifecycleHandler exposes the lifecycle state to the presentation layer.
type LifecycleHandler struct {
	manager *lifecycle.Manager
	token   domain.TokenIssuer
}

// NewLifecycleHandler creates a new lifecycle handler.
func NewLifecycleHandler(manager *lifecycle.Manager, token domain.TokenIssuer) *LifecycleHandler {
	return &LifecycleHandler{manager: manager, token: token}
}

type accountPayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionPayload struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	CreatedAt time.Time `json:"createdAt"`
}

// statePayload is the JSON shape of LifecycleState. The app redirects on
// phase + pending; appToken is present only when authenticated.
type statePayload struct {
	Phase    string          `json:"phase"`
	Pending  bool            `json:"pending"`
	Account  *accountPayload `json:"account,omitempty"`
	Session  *sessionPayload `json:"session,omitempty"`
	AppToken string          `json:"appToken,omitempty"`
}

// buildStatePayload snapshots the lifecycle and mints an app token when the
// snapshot is authenticated and settled.
func (h *LifecycleHandler) buildStatePayload(c echo.Context) (statePayload, error) {
	state := h.manager.State()
	payload := statePayload{
		Phase:   state.Phase.String(),
		Pending: state.Pending,
	}

	if state.Account != nil {
		payload.Account = &accountPayload{
			ID:        state.Account.ID,
			Name:      state.Account.Name,
			Email:     state.Account.Email,
			CreatedAt: state.Account.CreatedAt,
		}
	}
	if state.Session != nil {
		payload.Session = &sessionPayload{
			ID:        state.Session.ID,
			AccountID: state.Session.AccountID,
			CreatedAt: state.Session.CreatedAt,
		}
	}

	if state.Authenticated() && !state.Pending {
		appToken, err := h.token.IssueAppToken(state.Account, state.Session.ID)
		if err != nil {
			slog.ErrorContext(c.Request().Context(), "failed to issue app token", "error", err)
			return statePayload{}, domain.ErrTokenGeneration
		}
		payload.AppToken = appToken
	}

	return payload, nil
}

// respondState writes the state payload with the given status.
func (h *LifecycleHandler) respondState(c echo.Context, status int) error {
	payload, err := h.buildStatePayload(c)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(status, payload)
}

// HandleState returns the current lifecycle state. Never blocks on the
// identity provider.
func (h *LifecycleHandler) HandleState(c echo.Context) error {
	return h.respondState(c, http.StatusOK)
}

// HandleRestore re-runs the startup restore. Restore never surfaces provider
// errors; the only non-200 outcome is 202 when another operation holds the
// lifecycle.
func (h *LifecycleHandler) HandleRestore(c echo.Context) error {
	ctx := logger.WithOperation(c.Request().Context(), "restore")
	if err := h.manager.RestoreSession(ctx); err != nil {
		return c.JSON(http.StatusAccepted, map[string]string{
			"status": "skipped",
			"reason": "another lifecycle operation is in flight",
		})
	}
	return h.respondState(c, http.StatusOK)
}
