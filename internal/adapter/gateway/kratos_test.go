package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"osusu-auth/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKratosGateway_GetCurrentSession_NoCredential(t *testing.T) {
	gw := NewKratosGateway("http://unused", 5*time.Second, newTestStore(t))
	sess, err := gw.GetCurrentSession(context.Background())

	assert.Nil(t, sess)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestKratosGateway_GetCurrentAccount_NoCredential(t *testing.T) {
	gw := NewKratosGateway("http://unused", 5*time.Second, newTestStore(t))
	acct, err := gw.GetCurrentAccount(context.Background())

	assert.Nil(t, acct)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestKratosGateway_UpdateAccountName_NoCredential(t *testing.T) {
	gw := NewKratosGateway("http://unused", 5*time.Second, newTestStore(t))
	acct, err := gw.UpdateAccountName(context.Background(), "Ada")

	assert.Nil(t, acct)
	assert.True(t, errors.Is(err, domain.ErrNotAuthenticated))
}

func TestKratosGateway_DeleteCurrentSession_NoCredential(t *testing.T) {
	gw := NewKratosGateway("http://unused", 5*time.Second, newTestStore(t))

	// Nothing to log out of; fail-open means no error either.
	assert.NoError(t, gw.DeleteCurrentSession(context.Background()))
}

func TestKratosGateway_GetCurrentSession_Whoami(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/whoami", r.URL.Path)
		assert.Equal(t, "token-123", r.Header.Get("X-Session-Token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "sess-1",
			"active": true,
			"issued_at": "2026-08-01T10:00:00Z",
			"identity": {
				"id": "acct-1",
				"schema_id": "default",
				"schema_url": "http://test/schemas/default",
				"traits": {"email": "ada@example.com", "name": "Ada"}
			}
		}`))
	}))
	defer server.Close()

	store := newTestStore(t)
	require.NoError(t, store.Save("token-123"))

	gw := NewKratosGateway(server.URL, 5*time.Second, store)
	sess, err := gw.GetCurrentSession(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "acct-1", sess.AccountID)

	acct, err := gw.GetCurrentAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acct-1", acct.ID)
	assert.Equal(t, "ada@example.com", acct.Email)
	assert.Equal(t, "Ada", acct.Name)
}

func TestKratosGateway_Whoami_ExpiredClearsCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := newTestStore(t)
	require.NoError(t, store.Save("stale-token"))

	gw := NewKratosGateway(server.URL, 5*time.Second, store)
	_, err := gw.GetCurrentSession(context.Background())

	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))

	persisted, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Empty(t, persisted, "stale token should be cleared")
}
