package domain

import "context"

// IdentityService is the remote identity provider boundary. Implementations
// hold whatever ambient credential the provider issues (session secret,
// session token) so the "current" operations can resolve against it.
type IdentityService interface {
	// CreateAccount registers a new account under a caller-generated
	// collision-resistant identifier. Providers that assign identifiers
	// server-side return the authoritative account.
	CreateAccount(ctx context.Context, id, email, password string) (*Account, error)

	// UpdateAccountName changes the display name of the account the held
	// credential belongs to.
	UpdateAccountName(ctx context.Context, name string) (*Account, error)

	// CreateEmailPasswordSession starts a new session and adopts its
	// credential as the ambient one.
	CreateEmailPasswordSession(ctx context.Context, email, password string) (*Session, error)

	// GetCurrentSession resolves the ambient credential to a live session.
	// Returns ErrSessionNotFound when no credential is held or when it no
	// longer maps to a session.
	GetCurrentSession(ctx context.Context) (*Session, error)

	// GetCurrentAccount returns the account the ambient credential belongs to.
	GetCurrentAccount(ctx context.Context) (*Account, error)

	// DeleteCurrentSession ends the session behind the ambient credential
	// and forgets the credential.
	DeleteCurrentSession(ctx context.Context) error
}

// CredentialStore persists the ambient session credential between process
// runs so a restore can pick up a prior login.
type CredentialStore interface {
	Load() (string, error)
	Save(secret string) error
	Clear() error
}

// TokenIssuer generates signed app tokens from the authenticated state.
type TokenIssuer interface {
	IssueAppToken(account *Account, sessionID string) (string, error)
}
