package domain

import "errors"

// Authentication errors.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// Registration errors.
var (
	ErrEmailTaken     = errors.New("email already registered")
	ErrPasswordPolicy = errors.New("password rejected by provider policy")
	ErrInvalidInput   = errors.New("input rejected by provider")
)

// Lifecycle errors.
var (
	ErrOperationInFlight = errors.New("lifecycle operation already in flight")
)

// Token errors.
var (
	ErrTokenGeneration = errors.New("token generation failed")
)

// External service errors.
var (
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Rate limiting errors.
var (
	ErrRateLimited = errors.New("rate limit exceeded")
)
