package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"osusu-auth/internal/domain"
)

// AppwriteGateway talks to an Appwrite-compatible identity provider over its
// Account REST API. The session secret returned at login is the ambient
// credential; it is held in memory and mirrored to the credential store so a
// restore after restart can reuse it.
// Implements domain.IdentityService.
type AppwriteGateway struct {
	endpoint   string
	project    string
	httpClient *http.Client
	creds      domain.CredentialStore

	mu     sync.Mutex
	secret string
}

// NewAppwriteGateway creates a gateway with tuned HTTP transport. Any
// credential already persisted in the store is adopted as the ambient one.
func NewAppwriteGateway(endpoint, project string, timeout time.Duration, creds domain.CredentialStore) *AppwriteGateway {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	g := &AppwriteGateway{
		endpoint: strings.TrimRight(endpoint, "/"),
		project:  project,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		creds: creds,
	}

	if secret, err := creds.Load(); err == nil {
		g.secret = secret
	}
	return g
}

// Wire types for the Appwrite Account API.

type appwriteAccount struct {
	ID        string `json:"$id"`
	CreatedAt string `json:"$createdAt"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

type appwriteSession struct {
	ID        string `json:"$id"`
	CreatedAt string `json:"$createdAt"`
	UserID    string `json:"userId"`
	Secret    string `json:"secret"`
}

type appwriteError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}

// CreateAccount registers a new account under the caller-supplied identifier.
func (g *AppwriteGateway) CreateAccount(ctx context.Context, id, email, password string) (*domain.Account, error) {
	body := map[string]string{
		"userId":   id,
		"email":    email,
		"password": password,
	}

	var acct appwriteAccount
	if err := g.do(ctx, http.MethodPost, "/v1/account", body, &acct); err != nil {
		return nil, err
	}
	return acct.toDomain(), nil
}

// UpdateAccountName changes the display name of the credential's account.
func (g *AppwriteGateway) UpdateAccountName(ctx context.Context, name string) (*domain.Account, error) {
	var acct appwriteAccount
	if err := g.do(ctx, http.MethodPatch, "/v1/account/name", map[string]string{"name": name}, &acct); err != nil {
		return nil, err
	}
	return acct.toDomain(), nil
}

// CreateEmailPasswordSession logs in and adopts the returned session secret
// as the ambient credential.
func (g *AppwriteGateway) CreateEmailPasswordSession(ctx context.Context, email, password string) (*domain.Session, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	var sess appwriteSession
	if err := g.do(ctx, http.MethodPost, "/v1/account/sessions/email", body, &sess); err != nil {
		return nil, err
	}

	g.setSecret(sess.Secret)
	return sess.toDomain(), nil
}

// GetCurrentSession resolves the held credential to a live session.
func (g *AppwriteGateway) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	if g.currentSecret() == "" {
		return nil, domain.ErrSessionNotFound
	}

	var sess appwriteSession
	if err := g.do(ctx, http.MethodGet, "/v1/account/sessions/current", nil, &sess); err != nil {
		return nil, err
	}
	return sess.toDomain(), nil
}

// GetCurrentAccount returns the account the held credential belongs to.
func (g *AppwriteGateway) GetCurrentAccount(ctx context.Context) (*domain.Account, error) {
	var acct appwriteAccount
	if err := g.do(ctx, http.MethodGet, "/v1/account", nil, &acct); err != nil {
		return nil, err
	}
	return acct.toDomain(), nil
}

// DeleteCurrentSession ends the session behind the held credential. The
// credential is forgotten whether or not the provider accepted the delete.
func (g *AppwriteGateway) DeleteCurrentSession(ctx context.Context) error {
	err := g.do(ctx, http.MethodDelete, "/v1/account/sessions/current", nil, nil)
	g.setSecret("")
	return err
}

func (g *AppwriteGateway) currentSecret() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.secret
}

// setSecret updates the in-memory credential and mirrors it to the store.
// Store failures are not fatal: the in-memory credential keeps the current
// process working, only restart-restore is degraded.
func (g *AppwriteGateway) setSecret(secret string) {
	g.mu.Lock()
	g.secret = secret
	g.mu.Unlock()

	if secret == "" {
		_ = g.creds.Clear()
		return
	}
	_ = g.creds.Save(secret)
}

// do performs one provider call and decodes the response into out.
func (g *AppwriteGateway) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var req *http.Request
	var err error
	if reqBody != nil {
		req, err = http.NewRequestWithContext(ctx, method, g.endpoint+path, reqBody)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, g.endpoint+path, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Appwrite-Project", g.project)
	if secret := g.currentSecret(); secret != "" {
		req.Header.Set("X-Appwrite-Session", secret)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return g.mapError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrProviderUnavailable, err)
	}
	return nil
}

// mapError translates an Appwrite error envelope into the domain taxonomy.
func (g *AppwriteGateway) mapError(resp *http.Response) error {
	var apiErr appwriteError
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// An invalidated credential is useless; drop it so the next restore
		// resolves cleanly to logged-out.
		if apiErr.Type == "user_invalid_credentials" {
			return fmt.Errorf("%w: %s", domain.ErrInvalidCredentials, apiErr.Message)
		}
		g.setSecret("")
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, apiErr.Message)

	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrEmailTaken, apiErr.Message)

	case resp.StatusCode == http.StatusBadRequest:
		if strings.Contains(apiErr.Type, "password") {
			return fmt.Errorf("%w: %s", domain.ErrPasswordPolicy, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, apiErr.Message)

	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.Message)

	default:
		return fmt.Errorf("%w: provider returned status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
}

func (a appwriteAccount) toDomain() *domain.Account {
	return &domain.Account{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		CreatedAt: parseProviderTime(a.CreatedAt),
	}
}

func (s appwriteSession) toDomain() *domain.Session {
	return &domain.Session{
		ID:        s.ID,
		AccountID: s.UserID,
		CreatedAt: parseProviderTime(s.CreatedAt),
	}
}

// parseProviderTime parses the provider's ISO timestamps; the zero time
// stands in for anything unparsable since timestamps are provider-owned and
// opaque to the lifecycle.
func parseProviderTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
