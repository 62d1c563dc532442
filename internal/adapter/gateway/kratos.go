package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"osusu-auth/internal/domain"

	kratos "github.com/ory/kratos-client-go"
)

// KratosGateway implements domain.IdentityService against an Ory Kratos
// deployment using the native (API) self-service flows. The session token
// issued by Kratos is the ambient credential.
//
// Kratos assigns identity IDs server-side; the caller-supplied identifier on
// CreateAccount is accepted and discarded, and the provider-authoritative
// account is returned.
type KratosGateway struct {
	client *kratos.APIClient
	creds  domain.CredentialStore

	mu           sync.Mutex
	sessionToken string
}

// NewKratosGateway creates a Kratos gateway with tuned HTTP transport. Any
// credential already persisted in the store is adopted as the ambient one.
func NewKratosGateway(baseURL string, timeout time.Duration, creds domain.CredentialStore) *KratosGateway {
	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{
		{URL: baseURL},
	}
	configuration.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	g := &KratosGateway{
		client: kratos.NewAPIClient(configuration),
		creds:  creds,
	}

	if token, err := creds.Load(); err == nil {
		g.sessionToken = token
	}
	return g
}

// CreateAccount registers an identity through the native registration flow.
// The session token issued at registration is adopted so the follow-up name
// update can act on the new account.
func (g *KratosGateway) CreateAccount(ctx context.Context, _, email, password string) (*domain.Account, error) {
	flow, resp, err := g.client.FrontendAPI.CreateNativeRegistrationFlow(ctx).Execute()
	if err != nil {
		return nil, mapKratosError(resp, err)
	}

	body := kratos.UpdateRegistrationFlowWithPasswordMethodAsUpdateRegistrationFlowBody(
		&kratos.UpdateRegistrationFlowWithPasswordMethod{
			Method:   "password",
			Password: password,
			Traits:   map[string]interface{}{"email": email},
		})

	result, resp, err := g.client.FrontendAPI.UpdateRegistrationFlow(ctx).
		Flow(flow.Id).
		UpdateRegistrationFlowBody(body).
		Execute()
	if err != nil {
		return nil, mapKratosError(resp, err)
	}

	if result.SessionToken != nil {
		g.setToken(*result.SessionToken)
	}
	return identityToAccount(&result.Identity), nil
}

// UpdateAccountName updates the name trait through a native settings flow,
// preserving the remaining traits.
func (g *KratosGateway) UpdateAccountName(ctx context.Context, name string) (*domain.Account, error) {
	token := g.currentToken()
	if token == "" {
		return nil, domain.ErrNotAuthenticated
	}

	flow, resp, err := g.client.FrontendAPI.CreateNativeSettingsFlow(ctx).
		XSessionToken(token).
		Execute()
	if err != nil {
		return nil, mapKratosError(resp, err)
	}

	traits, _ := flow.Identity.Traits.(map[string]interface{})
	if traits == nil {
		traits = map[string]interface{}{}
	}
	traits["name"] = name

	body := kratos.UpdateSettingsFlowWithProfileMethodAsUpdateSettingsFlowBody(
		&kratos.UpdateSettingsFlowWithProfileMethod{
			Method: "profile",
			Traits: traits,
		})

	updated, resp, err := g.client.FrontendAPI.UpdateSettingsFlow(ctx).
		Flow(flow.Id).
		XSessionToken(token).
		UpdateSettingsFlowBody(body).
		Execute()
	if err != nil {
		return nil, mapKratosError(resp, err)
	}

	return identityToAccount(&updated.Identity), nil
}

// CreateEmailPasswordSession logs in through the native login flow and adopts
// the issued session token as the ambient credential.
func (g *KratosGateway) CreateEmailPasswordSession(ctx context.Context, email, password string) (*domain.Session, error) {
	flow, resp, err := g.client.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, mapKratosError(resp, err)
	}

	body := kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(
		&kratos.UpdateLoginFlowWithPasswordMethod{
			Method:     "password",
			Identifier: email,
			Password:   password,
		})

	result, resp, err := g.client.FrontendAPI.UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(body).
		Execute()
	if err != nil {
		// A failed flow update is a credential rejection, not an outage.
		if resp != nil && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: login flow rejected", domain.ErrInvalidCredentials)
		}
		return nil, mapKratosError(resp, err)
	}

	if result.SessionToken != nil {
		g.setToken(*result.SessionToken)
	}
	return kratosSessionToDomain(&result.Session), nil
}

// GetCurrentSession resolves the held session token via whoami.
func (g *KratosGateway) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	session, err := g.whoami(ctx)
	if err != nil {
		return nil, err
	}
	return kratosSessionToDomain(session), nil
}

// GetCurrentAccount returns the identity behind the held session token.
func (g *KratosGateway) GetCurrentAccount(ctx context.Context) (*domain.Account, error) {
	session, err := g.whoami(ctx)
	if err != nil {
		return nil, err
	}
	if session.Identity == nil {
		return nil, fmt.Errorf("%w: session carries no identity", domain.ErrNotAuthenticated)
	}
	return identityToAccount(session.Identity), nil
}

// DeleteCurrentSession performs a native logout. The token is forgotten
// whether or not Kratos accepted the logout.
func (g *KratosGateway) DeleteCurrentSession(ctx context.Context) error {
	token := g.currentToken()
	g.setToken("")
	if token == "" {
		return nil
	}

	resp, err := g.client.FrontendAPI.PerformNativeLogout(ctx).
		PerformNativeLogoutBody(kratos.PerformNativeLogoutBody{SessionToken: token}).
		Execute()
	if err != nil {
		return mapKratosError(resp, err)
	}
	return nil
}

func (g *KratosGateway) whoami(ctx context.Context) (*kratos.Session, error) {
	token := g.currentToken()
	if token == "" {
		return nil, domain.ErrSessionNotFound
	}

	session, resp, err := g.client.FrontendAPI.ToSession(ctx).
		XSessionToken(token).
		Execute()
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			g.setToken("")
			return nil, fmt.Errorf("%w: session invalid or expired", domain.ErrSessionNotFound)
		}
		return nil, mapKratosError(resp, err)
	}

	if session.Active != nil && !*session.Active {
		g.setToken("")
		return nil, fmt.Errorf("%w: session inactive", domain.ErrSessionNotFound)
	}
	return session, nil
}

func (g *KratosGateway) currentToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionToken
}

func (g *KratosGateway) setToken(token string) {
	g.mu.Lock()
	g.sessionToken = token
	g.mu.Unlock()

	if token == "" {
		_ = g.creds.Clear()
		return
	}
	_ = g.creds.Save(token)
}

// mapKratosError translates SDK errors into the domain taxonomy.
func mapKratosError(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: kratos returned 401", domain.ErrNotAuthenticated)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: kratos rejected the request", domain.ErrInvalidInput)
	case http.StatusConflict:
		return fmt.Errorf("%w: kratos returned 409", domain.ErrEmailTaken)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: kratos returned 429", domain.ErrRateLimited)
	default:
		return fmt.Errorf("%w: kratos returned status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
}

func identityToAccount(identity *kratos.Identity) *domain.Account {
	email := ""
	name := ""
	if traits, ok := identity.Traits.(map[string]interface{}); ok {
		if v, ok := traits["email"].(string); ok {
			email = v
		}
		if v, ok := traits["name"].(string); ok {
			name = v
		}
	}

	var createdAt time.Time
	if identity.CreatedAt != nil {
		createdAt = *identity.CreatedAt
	}

	return &domain.Account{
		ID:        identity.Id,
		Name:      name,
		Email:     email,
		CreatedAt: createdAt,
	}
}

func kratosSessionToDomain(session *kratos.Session) *domain.Session {
	accountID := ""
	if session.Identity != nil {
		accountID = session.Identity.Id
	}

	var createdAt time.Time
	if session.IssuedAt != nil {
		createdAt = *session.IssuedAt
	}

	return &domain.Session{
		ID:        session.Id,
		AccountID: accountID,
		CreatedAt: createdAt,
	}
}
