package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"osusu-auth/internal/domain"

	"github.com/google/uuid"
)

// Manager owns the process-wide authentication lifecycle. It mediates every
// interaction with the identity provider and exposes a single consistent
// LifecycleState to the presentation boundary.
//
// The four mutating operations (RestoreSession, RegisterAccount, SignIn,
// SignOut) are serialized against one another: a call arriving while another
// is in flight is rejected with domain.ErrOperationInFlight and does not
// touch state.
type Manager struct {
	identity domain.IdentityService
	logger   *slog.Logger
	newID    func() string

	// opMu serializes the mutating operations; stateMu guards state and subs.
	opMu    sync.Mutex
	stateMu sync.RWMutex
	state   domain.LifecycleState
	subs    map[int]chan domain.LifecycleState
	nextSub int
}

// NewManager creates a lifecycle manager in the Unknown phase.
func NewManager(identity domain.IdentityService, logger *slog.Logger) *Manager {
	return &Manager{
		identity: identity,
		logger:   logger,
		newID:    uuid.NewString,
		state:    domain.LifecycleState{Phase: domain.PhaseUnknown},
		subs:     make(map[int]chan domain.LifecycleState),
	}
}

// State returns a snapshot of the current lifecycle state.
func (m *Manager) State() domain.LifecycleState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Subscribe registers a listener that receives every state transition.
// The returned cancel func must be called to release the subscription.
// Slow listeners miss intermediate transitions rather than block the manager.
func (m *Manager) Subscribe() (<-chan domain.LifecycleState, func()) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan domain.LifecycleState, 1)
	m.subs[id] = ch

	cancel := func() {
		m.stateMu.Lock()
		defer m.stateMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// RestoreSession resolves any prior stored session at process start. It never
// surfaces provider errors: every failure, including "no session", results in
// the unauthenticated state so startup is never blocked. The only returned
// error is domain.ErrOperationInFlight.
func (m *Manager) RestoreSession(ctx context.Context) error {
	if !m.opMu.TryLock() {
		return domain.ErrOperationInFlight
	}
	defer m.opMu.Unlock()

	m.setPending()

	session, err := m.identity.GetCurrentSession(ctx)
	if err != nil {
		m.logger.DebugContext(ctx, "no session to restore", "error", err)
		m.setUnauthenticated()
		return nil
	}

	account, err := m.identity.GetCurrentAccount(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "session restored but account lookup failed", "error", err)
		m.setUnauthenticated()
		return nil
	}

	m.setAuthenticated(account, session)
	m.logger.InfoContext(ctx, "session restored",
		"account_id", account.ID,
		"session_id", session.ID)
	return nil
}

// RegisterAccount creates a new account under a freshly generated identifier,
// sets its display name, and signs in — strictly in that order, failing fast.
// On any failure the state is reset to fully unauthenticated and the error is
// surfaced so the caller can show it.
func (m *Manager) RegisterAccount(ctx context.Context, name, email, password string) error {
	if name == "" {
		return fmt.Errorf("%w: display name must not be empty", domain.ErrInvalidInput)
	}
	if !m.opMu.TryLock() {
		return domain.ErrOperationInFlight
	}
	defer m.opMu.Unlock()

	m.setPending()

	id := m.newID()
	if _, err := m.identity.CreateAccount(ctx, id, email, password); err != nil {
		m.setUnauthenticated()
		m.logger.WarnContext(ctx, "account creation failed", "error", err)
		return fmt.Errorf("create account: %w", err)
	}

	if _, err := m.identity.UpdateAccountName(ctx, name); err != nil {
		m.setUnauthenticated()
		m.logger.WarnContext(ctx, "account name update failed", "account_id", id, "error", err)
		return fmt.Errorf("update account name: %w", err)
	}

	if err := m.establishSession(ctx, email, password); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "account registered", "account_id", m.State().Account.ID)
	return nil
}

// SignIn starts a new email/password session and loads the account behind it.
// Failure resets the state to unauthenticated and surfaces the error.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	if !m.opMu.TryLock() {
		return domain.ErrOperationInFlight
	}
	defer m.opMu.Unlock()

	m.setPending()

	if err := m.establishSession(ctx, email, password); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "signed in", "account_id", m.State().Account.ID)
	return nil
}

// SignOut ends the current session. The remote delete is best-effort: local
// state is cleared even when it fails, so the user is never held in a session
// they asked to end. The only returned error is domain.ErrOperationInFlight.
func (m *Manager) SignOut(ctx context.Context) error {
	if !m.opMu.TryLock() {
		return domain.ErrOperationInFlight
	}
	defer m.opMu.Unlock()

	m.setPending()

	if err := m.identity.DeleteCurrentSession(ctx); err != nil {
		m.logger.WarnContext(ctx, "remote session delete failed, clearing local state anyway", "error", err)
	}

	m.setUnauthenticated()
	m.logger.InfoContext(ctx, "signed out")
	return nil
}

// establishSession performs the shared sign-in steps: create the session,
// then load the account it belongs to. Callers must hold opMu.
func (m *Manager) establishSession(ctx context.Context, email, password string) error {
	session, err := m.identity.CreateEmailPasswordSession(ctx, email, password)
	if err != nil {
		m.setUnauthenticated()
		m.logger.WarnContext(ctx, "session creation failed", "error", err)
		return fmt.Errorf("create session: %w", err)
	}

	account, err := m.identity.GetCurrentAccount(ctx)
	if err != nil {
		m.setUnauthenticated()
		m.logger.WarnContext(ctx, "account lookup after sign-in failed", "error", err)
		return fmt.Errorf("get account: %w", err)
	}

	m.setAuthenticated(account, session)
	return nil
}

func (m *Manager) setPending() {
	m.stateMu.Lock()
	m.state.Pending = true
	m.notifyLocked()
	m.stateMu.Unlock()
}

func (m *Manager) setAuthenticated(account *domain.Account, session *domain.Session) {
	m.stateMu.Lock()
	m.state = domain.LifecycleState{
		Account: account,
		Session: session,
		Phase:   domain.PhaseAuthenticated,
	}
	m.notifyLocked()
	m.stateMu.Unlock()
}

func (m *Manager) setUnauthenticated() {
	m.stateMu.Lock()
	m.state = domain.LifecycleState{Phase: domain.PhaseUnauthenticated}
	m.notifyLocked()
	m.stateMu.Unlock()
}

// notifyLocked fans the current state out to subscribers. A full subscriber
// channel is drained first so it always ends up holding the latest state.
func (m *Manager) notifyLocked() {
	for _, ch := range m.subs {
		select {
		case ch <- m.state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- m.state
		}
	}
}
