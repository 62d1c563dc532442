package domain

import "time"

// Account represents a registered user at the identity provider.
type Account struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Session represents one authenticated login tied to exactly one account.
type Session struct {
	ID        string
	AccountID string
	CreatedAt time.Time
}

// Phase is the collapsed authentication dimension of the lifecycle.
type Phase int

const (
	// PhaseUnknown holds from process start until the first restore resolves.
	PhaseUnknown Phase = iota
	PhaseUnauthenticated
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// LifecycleState is the process-wide view of authentication.
// Invariant: Session != nil implies Account != nil; both are set together
// or cleared together, never one without the other.
type LifecycleState struct {
	Account *Account
	Session *Session
	Pending bool
	Phase   Phase
}

// Authenticated reports whether a full account+session pair is held.
func (s LifecycleState) Authenticated() bool {
	return s.Session != nil && s.Account != nil
}
