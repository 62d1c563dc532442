package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"osusu-auth/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockIdentity implements domain.IdentityService for testing. Each call can
// be failed independently; a non-nil gate channel blocks calls until closed.
type mockIdentity struct {
	mu sync.Mutex

	account *domain.Account
	session *domain.Session

	createAccountErr error
	updateNameErr    error
	createSessionErr error
	getSessionErr    error
	getAccountErr    error
	deleteErr        error

	gate chan struct{}

	createAccountCalls int
	updateNameCalls    int
	createSessionCalls int
	deleteCalls        int
	updatedName        string
	createdID          string
}

func (m *mockIdentity) wait() {
	if m.gate != nil {
		<-m.gate
	}
}

func (m *mockIdentity) CreateAccount(_ context.Context, id, email, _ string) (*domain.Account, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createAccountCalls++
	if m.createAccountErr != nil {
		return nil, m.createAccountErr
	}
	m.createdID = id
	m.account = &domain.Account{ID: id, Email: email, CreatedAt: time.Now()}
	return m.account, nil
}

func (m *mockIdentity) UpdateAccountName(_ context.Context, name string) (*domain.Account, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateNameCalls++
	if m.updateNameErr != nil {
		return nil, m.updateNameErr
	}
	m.updatedName = name
	if m.account != nil {
		m.account.Name = name
	}
	return m.account, nil
}

func (m *mockIdentity) CreateEmailPasswordSession(_ context.Context, email, _ string) (*domain.Session, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createSessionCalls++
	if m.createSessionErr != nil {
		return nil, m.createSessionErr
	}
	if m.account == nil {
		m.account = &domain.Account{ID: "acct-1", Email: email}
	}
	m.session = &domain.Session{ID: "sess-1", AccountID: m.account.ID, CreatedAt: time.Now()}
	return m.session, nil
}

func (m *mockIdentity) GetCurrentSession(_ context.Context) (*domain.Session, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getSessionErr != nil {
		return nil, m.getSessionErr
	}
	if m.session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return m.session, nil
}

func (m *mockIdentity) GetCurrentAccount(_ context.Context) (*domain.Account, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getAccountErr != nil {
		return nil, m.getAccountErr
	}
	if m.account == nil {
		return nil, domain.ErrNotAuthenticated
	}
	return m.account, nil
}

func (m *mockIdentity) DeleteCurrentSession(_ context.Context) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.session = nil
	return nil
}

func newTestManager(identity *mockIdentity) *Manager {
	return NewManager(identity, slog.Default())
}

func assertLoggedOut(t *testing.T, state domain.LifecycleState) {
	t.Helper()
	assert.Nil(t, state.Account)
	assert.Nil(t, state.Session)
	assert.False(t, state.Pending)
	assert.Equal(t, domain.PhaseUnauthenticated, state.Phase)
}

func TestManager_InitialStateUnknown(t *testing.T) {
	m := newTestManager(&mockIdentity{})
	state := m.State()

	assert.Equal(t, domain.PhaseUnknown, state.Phase)
	assert.False(t, state.Pending)
	assert.False(t, state.Authenticated())
}

func TestManager_RestoreSession_NoSession(t *testing.T) {
	m := newTestManager(&mockIdentity{})

	err := m.RestoreSession(context.Background())

	require.NoError(t, err)
	assertLoggedOut(t, m.State())
}

func TestManager_RestoreSession_NoSession_Idempotent(t *testing.T) {
	m := newTestManager(&mockIdentity{})

	for range 3 {
		require.NoError(t, m.RestoreSession(context.Background()))
		assertLoggedOut(t, m.State())
	}
}

func TestManager_RestoreSession_ValidPriorSession(t *testing.T) {
	identity := &mockIdentity{
		account: &domain.Account{ID: "acct-9", Name: "Ada", Email: "ada@example.com"},
		session: &domain.Session{ID: "sess-9", AccountID: "acct-9"},
	}
	m := newTestManager(identity)

	err := m.RestoreSession(context.Background())

	require.NoError(t, err)
	state := m.State()
	require.True(t, state.Authenticated())
	assert.Equal(t, "acct-9", state.Account.ID)
	assert.Equal(t, "sess-9", state.Session.ID)
	assert.False(t, state.Pending)
	assert.Equal(t, domain.PhaseAuthenticated, state.Phase)
}

func TestManager_RestoreSession_AccountLookupFails(t *testing.T) {
	identity := &mockIdentity{
		session:       &domain.Session{ID: "sess-9", AccountID: "acct-9"},
		getAccountErr: errors.New("network down"),
	}
	m := newTestManager(identity)

	err := m.RestoreSession(context.Background())

	// Provider failures never surface from restore.
	require.NoError(t, err)
	assertLoggedOut(t, m.State())
}

func TestManager_SignIn_Success(t *testing.T) {
	m := newTestManager(&mockIdentity{})

	err := m.SignIn(context.Background(), "ada@example.com", "pw")

	require.NoError(t, err)
	state := m.State()
	require.True(t, state.Authenticated())
	assert.Equal(t, state.Account.ID, state.Session.AccountID)
	assert.False(t, state.Pending)
}

func TestManager_SignIn_InvalidCredentials(t *testing.T) {
	identity := &mockIdentity{createSessionErr: domain.ErrInvalidCredentials}
	m := newTestManager(identity)

	err := m.SignIn(context.Background(), "ada@example.com", "wrong")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
	assertLoggedOut(t, m.State())
}

func TestManager_SignInSignOut_RoundTrip(t *testing.T) {
	m := newTestManager(&mockIdentity{})
	require.NoError(t, m.RestoreSession(context.Background()))
	before := m.State()

	require.NoError(t, m.SignIn(context.Background(), "ada@example.com", "pw"))
	require.True(t, m.State().Authenticated())
	require.NoError(t, m.SignOut(context.Background()))

	assert.Equal(t, before, m.State())
}

func TestManager_SignOut_FailOpen(t *testing.T) {
	identity := &mockIdentity{deleteErr: errors.New("network error")}
	m := newTestManager(identity)
	require.NoError(t, m.SignIn(context.Background(), "ada@example.com", "pw"))

	err := m.SignOut(context.Background())

	// Remote delete failed but local state still clears.
	require.NoError(t, err)
	assertLoggedOut(t, m.State())
	assert.Equal(t, 1, identity.deleteCalls)
}

func TestManager_RegisterAccount_Success(t *testing.T) {
	identity := &mockIdentity{}
	m := newTestManager(identity)

	err := m.RegisterAccount(context.Background(), "Warren Buffet", "warren.buff@invest.ai", "S3cure!23")

	require.NoError(t, err)
	state := m.State()
	require.True(t, state.Authenticated())
	assert.Equal(t, "warren.buff@invest.ai", state.Account.Email)
	assert.Equal(t, "Warren Buffet", state.Account.Name)
	assert.NotNil(t, state.Session)
	assert.False(t, state.Pending)

	// create -> update name -> sign in, each exactly once.
	assert.Equal(t, 1, identity.createAccountCalls)
	assert.Equal(t, 1, identity.updateNameCalls)
	assert.Equal(t, 1, identity.createSessionCalls)
	assert.NotEmpty(t, identity.createdID)
}

func TestManager_RegisterAccount_GeneratesUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for range 10 {
		identity := &mockIdentity{}
		m := newTestManager(identity)
		require.NoError(t, m.RegisterAccount(context.Background(), "A", "a@example.com", "pw"))
		assert.False(t, seen[identity.createdID], "identifier reused: %s", identity.createdID)
		seen[identity.createdID] = true
	}
}

func TestManager_RegisterAccount_EmptyName(t *testing.T) {
	m := newTestManager(&mockIdentity{})

	err := m.RegisterAccount(context.Background(), "", "a@example.com", "pw")

	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestManager_RegisterAccount_DuplicateEmail(t *testing.T) {
	identity := &mockIdentity{createAccountErr: domain.ErrEmailTaken}
	m := newTestManager(identity)

	err := m.RegisterAccount(context.Background(), "Warren Buffet", "warren.buff@invest.ai", "S3cure!23")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmailTaken))
	assertLoggedOut(t, m.State())
	assert.Equal(t, 0, identity.updateNameCalls)
	assert.Equal(t, 0, identity.createSessionCalls)
}

func TestManager_RegisterAccount_NameUpdateFails_Atomic(t *testing.T) {
	identity := &mockIdentity{updateNameErr: errors.New("network error")}
	m := newTestManager(identity)

	err := m.RegisterAccount(context.Background(), "Warren Buffet", "warren.buff@invest.ai", "S3cure!23")

	require.Error(t, err)
	assertLoggedOut(t, m.State())
	assert.Equal(t, 0, identity.createSessionCalls)
}

func TestManager_RegisterAccount_SignInStepFails_Atomic(t *testing.T) {
	identity := &mockIdentity{createSessionErr: errors.New("network error")}
	m := newTestManager(identity)

	err := m.RegisterAccount(context.Background(), "Warren Buffet", "warren.buff@invest.ai", "S3cure!23")

	require.Error(t, err)
	assertLoggedOut(t, m.State())
}

func TestManager_RejectsOverlappingOperations(t *testing.T) {
	identity := &mockIdentity{gate: make(chan struct{})}
	m := newTestManager(identity)

	done := make(chan error, 1)
	go func() {
		done <- m.SignIn(context.Background(), "ada@example.com", "pw")
	}()

	// Wait until the first sign-in is pending, then try to overlap.
	require.Eventually(t, func() bool { return m.State().Pending }, time.Second, time.Millisecond)

	assert.True(t, errors.Is(m.SignIn(context.Background(), "b@example.com", "pw"), domain.ErrOperationInFlight))
	assert.True(t, errors.Is(m.SignOut(context.Background()), domain.ErrOperationInFlight))
	assert.True(t, errors.Is(m.RestoreSession(context.Background()), domain.ErrOperationInFlight))
	assert.True(t, errors.Is(m.RegisterAccount(context.Background(), "B", "b@example.com", "pw"), domain.ErrOperationInFlight))

	close(identity.gate)
	require.NoError(t, <-done)

	// The rejected calls must not have disturbed the in-flight one.
	state := m.State()
	require.True(t, state.Authenticated())
	assert.Equal(t, "ada@example.com", state.Account.Email)
	assert.Equal(t, state.Account.ID, state.Session.AccountID)
	assert.Equal(t, 1, identity.createSessionCalls)
	assert.Equal(t, 0, identity.deleteCalls)
}

func TestManager_ConcurrentSignInSignOut_NeverPartial(t *testing.T) {
	identity := &mockIdentity{}
	m := newTestManager(identity)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.SignIn(context.Background(), "ada@example.com", "pw")
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.SignOut(context.Background())
		}()
	}
	wg.Wait()

	state := m.State()
	if state.Session != nil {
		assert.NotNil(t, state.Account, "session present without account")
		assert.Equal(t, state.Account.ID, state.Session.AccountID)
	}
	assert.False(t, state.Pending)
}

func TestManager_Subscribe_SeesTransitions(t *testing.T) {
	m := newTestManager(&mockIdentity{})
	ch, cancel := m.Subscribe()
	defer cancel()

	require.NoError(t, m.SignIn(context.Background(), "ada@example.com", "pw"))

	// The channel holds the most recent transition.
	select {
	case state := <-ch:
		// Either the pending notification or the final one; drain to latest.
		for {
			select {
			case state = <-ch:
			default:
				assert.True(t, state.Authenticated())
				return
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no state notification received")
	}
}
