package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"campus-gateway/internal/mail"
	"campus-gateway/internal/observability"
)

// memStore is an in-memory Store with the same error semantics as the
// Postgres repository. The mutex makes RegisterFailedLogin and
// ConsumePasswordResetToken single-winner, matching the row-lock and
// conditional-update guarantees tests rely on.
type memStore struct {
	mu      sync.Mutex
	creds   map[string]*Credential // keyed by user id
	roles   map[string][]string
	refresh map[string]*RefreshTokenRecord // keyed by token value
	reset   map[string]*PasswordResetTokenRecord

	findErr error // injected failure for credential lookups
}

func newMemStore() *memStore {
	return &memStore{
		creds:   map[string]*Credential{},
		roles:   map[string][]string{},
		refresh: map[string]*RefreshTokenRecord{},
		reset:   map[string]*PasswordResetTokenRecord{},
	}
}

func (m *memStore) addCredential(cred Credential, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := cred
	m.creds[cred.UserID] = &copied
	m.roles[cred.UserID] = roles
}

func (m *memStore) FindCredentialByEmail(ctx context.Context, email string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return Credential{}, m.findErr
	}
	for _, cred := range m.creds {
		if cred.Email == email {
			return *cred, nil
		}
	}
	return Credential{}, ErrAccountNotFound
}

func (m *memStore) FindCredentialByID(ctx context.Context, userID string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return Credential{}, m.findErr
	}
	cred, ok := m.creds[userID]
	if !ok {
		return Credential{}, ErrAccountNotFound
	}
	return *cred, nil
}

func (m *memStore) RegisterFailedLogin(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[userID]
	if !ok {
		return LockoutState{}, ErrAccountNotFound
	}
	next := policy.OnFailure(cred.LockoutState(), now)
	cred.FailedAttempts = next.FailedAttempts
	cred.LockedUntil = next.LockedUntil
	return next, nil
}

func (m *memStore) ClearLockout(ctx context.Context, userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred, ok := m.creds[userID]; ok {
		cred.FailedAttempts = 0
		cred.LockedUntil = nil
	}
	return nil
}

func (m *memStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[userID]
	if !ok {
		return ErrAccountNotFound
	}
	cred.PasswordHash = passwordHash
	cred.FailedAttempts = 0
	cred.LockedUntil = nil
	return nil
}

func (m *memStore) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.roles[userID]...), nil
}

func (m *memStore) CreateRefreshToken(ctx context.Context, userID, token string, issuedAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[token] = &RefreshTokenRecord{ID: token, UserID: userID, IssuedAt: issuedAt, ExpiresAt: expiresAt}
	return nil
}

func (m *memStore) FindRefreshToken(ctx context.Context, token string) (RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.refresh[token]
	if !ok {
		return RefreshTokenRecord{}, ErrRefreshTokenNotFound
	}
	return *record, nil
}

func (m *memStore) DeleteRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, token)
	return nil
}

func (m *memStore) DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for token, record := range m.refresh {
		if record.UserID == userID {
			delete(m.refresh, token)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) CreatePasswordResetToken(ctx context.Context, userID, token string, createdAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset[token] = &PasswordResetTokenRecord{ID: token, UserID: userID, CreatedAt: createdAt, ExpiresAt: expiresAt}
	return nil
}

func (m *memStore) ConsumePasswordResetToken(ctx context.Context, token string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.reset[token]
	if !ok {
		return "", ErrResetTokenNotFound
	}
	if record.UsedAt != nil {
		return "", ErrResetTokenAlreadyUsed
	}
	if !now.Before(record.ExpiresAt) {
		return "", ErrResetTokenExpired
	}
	used := now
	record.UsedAt = &used
	return record.UserID, nil
}

// recordingMailer captures sends; failErr makes every send fail.
type recordingMailer struct {
	mu      sync.Mutex
	sent    []map[string]string
	to      []string
	kinds   []string
	failErr error
}

func (m *recordingMailer) Send(ctx context.Context, to, kind string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.to = append(m.to, to)
	m.kinds = append(m.kinds, kind)
	m.sent = append(m.sent, vars)
	return nil
}

type serviceFixture struct {
	service *Service
	store   *memStore
	mailer  *recordingMailer
	hasher  *PasswordHasher
	clock   *time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := newMemStore()
	mailer := &recordingMailer{}
	hasher := NewPasswordHasher(bcrypt.MinCost, 4)
	codec := NewCodec("0123456789abcdef0123456789abcdef")
	service := NewService(store, codec, hasher, mailer, observability.NewLogger())

	clock := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return clock })
	service.WithResetLink("https://campus.example.edu/reset-password")

	return &serviceFixture{service: service, store: store, mailer: mailer, hasher: hasher, clock: &clock}
}

func (f *serviceFixture) seedUser(t *testing.T, email, password, status string, roles ...string) string {
	t.Helper()
	hash, err := f.hasher.Hash(context.Background(), password)
	if err != nil {
		t.Fatalf("hash seed password: %v", err)
	}
	userID := "user-" + email
	f.store.addCredential(Credential{
		UserID:       userID,
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		Status:       status,
	}, roles...)
	return userID
}

func TestLoginIssuesTokenPair(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive, "STUDENT")

	tokens, err := f.service.Login(context.Background(), "Alice@Example.edu ", "s3cret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tokens.TokenType != "Bearer" || tokens.ExpiresIn != 3600 {
		t.Fatalf("token envelope = %+v", tokens)
	}
	if tokens.User.ID != userID || len(tokens.User.Roles) != 1 {
		t.Fatalf("user info = %+v", tokens.User)
	}

	access, err := f.service.codec.Verify(tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if access.Kind() != KindAccess || access.Subject != userID {
		t.Fatalf("access claims = %+v", access)
	}

	refresh, err := f.service.codec.Verify(tokens.RefreshToken)
	if err != nil {
		t.Fatalf("verify refresh token: %v", err)
	}
	if refresh.Kind() != KindRefresh {
		t.Fatalf("refresh kind = %s", refresh.Kind())
	}
	if _, ok := f.store.refresh[tokens.RefreshToken]; !ok {
		t.Fatal("refresh token missing from ledger")
	}
}

func TestLoginRejectsUnknownAccount(t *testing.T) {
	f := newServiceFixture(t)
	if _, err := f.service.Login(context.Background(), "ghost@example.edu", "whatever1"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("login unknown: %v, want ErrAccountNotFound", err)
	}
}

func TestLoginRejectsNonActiveAccount(t *testing.T) {
	f := newServiceFixture(t)
	for _, status := range []string{StatusInactive, StatusPending} {
		email := strings.ToLower(status) + "@example.edu"
		f.seedUser(t, email, "s3cret-password", status)
		_, err := f.service.Login(context.Background(), email, "s3cret-password")
		if !errors.Is(err, ErrAccountNotActive) {
			t.Errorf("login %s account: %v, want ErrAccountNotActive", status, err)
		}
	}
}

func TestLoginLockoutFlow(t *testing.T) {
	f := newServiceFixture(t)
	f.service.WithSecurityConfig(3, 30*time.Minute, 0, 0, 0)
	userID := f.seedUser(t, "bob@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	// Two failures stay below the threshold.
	for i := 0; i < 2; i++ {
		if _, err := f.service.Login(ctx, "bob@example.edu", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d: %v, want ErrInvalidCredentials", i+1, err)
		}
	}
	if f.store.creds[userID].FailedAttempts != 2 {
		t.Fatalf("counter = %d, want 2", f.store.creds[userID].FailedAttempts)
	}

	// Third failure trips the lock.
	if _, err := f.service.Login(ctx, "bob@example.edu", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("threshold failure: %v", err)
	}
	if f.store.creds[userID].LockedUntil == nil {
		t.Fatal("account not locked at threshold")
	}

	// Even the correct password is rejected while locked.
	if _, err := f.service.Login(ctx, "bob@example.edu", "s3cret-password"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("login while locked: %v, want ErrAccountLocked", err)
	}

	// After the lock expires the account is usable and starts clean.
	*f.clock = f.clock.Add(31 * time.Minute)
	if _, err := f.service.Login(ctx, "bob@example.edu", "s3cret-password"); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}
	cred := f.store.creds[userID]
	if cred.FailedAttempts != 0 || cred.LockedUntil != nil {
		t.Fatalf("lockout state not cleared: %+v", cred)
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.seedUser(t, "carol@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	if _, err := f.service.Login(ctx, "carol@example.edu", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("seed failure: %v", err)
	}
	if _, err := f.service.Login(ctx, "carol@example.edu", "s3cret-password"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := f.store.creds[userID].FailedAttempts; got != 0 {
		t.Fatalf("counter after success = %d, want 0", got)
	}
}

func TestLoginMapsStoreTimeout(t *testing.T) {
	f := newServiceFixture(t)
	f.store.findErr = context.DeadlineExceeded

	if _, err := f.service.Login(context.Background(), "alice@example.edu", "pw123456"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("login with store timeout: %v, want ErrServiceUnavailable", err)
	}
}

func TestRefreshIssuesNewAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive, "STUDENT")
	ctx := context.Background()

	first, err := f.service.Login(ctx, "alice@example.edu", "s3cret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	ledgerBefore := *f.store.refresh[first.RefreshToken]

	*f.clock = f.clock.Add(10 * time.Minute)
	refreshed, err := f.service.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if refreshed.RefreshToken != first.RefreshToken {
		t.Fatal("refresh token rotated, want same value returned")
	}
	if refreshed.AccessToken == first.AccessToken {
		t.Fatal("access token not re-minted")
	}

	ledgerAfter := *f.store.refresh[first.RefreshToken]
	if !ledgerAfter.ExpiresAt.Equal(ledgerBefore.ExpiresAt) {
		t.Fatalf("ledger expiry moved from %v to %v", ledgerBefore.ExpiresAt, ledgerAfter.ExpiresAt)
	}
}

func TestRefreshRejectsRevokedToken(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	tokens, err := f.service.Login(ctx, "alice@example.edu", "s3cret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := f.service.Logout(ctx, tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.service.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("refresh after revoke: %v, want ErrRefreshTokenNotFound", err)
	}
}

func TestRefreshRejectsExpiredLedgerRow(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	tokens, err := f.service.Login(ctx, "alice@example.edu", "s3cret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	*f.clock = f.clock.Add(7*24*time.Hour + time.Second)
	if _, err := f.service.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("refresh expired: %v, want ErrRefreshTokenExpired", err)
	}
	if _, ok := f.store.refresh[tokens.RefreshToken]; ok {
		t.Fatal("expired ledger row not removed")
	}
}

func TestRefreshRejectsAccessTokenKind(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	tokens, err := f.service.Login(ctx, "alice@example.edu", "s3cret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Even with a ledger entry, an access-kind token must not refresh.
	now := f.clock.UTC()
	if err := f.store.CreateRefreshToken(ctx, userID, tokens.AccessToken, now, now.Add(time.Hour)); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	if _, err := f.service.Refresh(ctx, tokens.AccessToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("refresh with access token: %v, want ErrTokenMalformed", err)
	}
}

func TestRefreshRejectsDeactivatedAccount(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	tokens, err := f.service.Login(ctx, "alice@example.edu", "s3cret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	f.store.creds[userID].Status = StatusInactive
	if _, err := f.service.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("refresh for inactive account: %v, want ErrAccountNotActive", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	tokens, err := f.service.Login(ctx, "alice@example.edu", "s3cret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.service.Logout(ctx, tokens.RefreshToken); err != nil {
			t.Fatalf("logout %d: %v", i+1, err)
		}
	}
	if err := f.service.Logout(ctx, "never-issued"); err != nil {
		t.Fatalf("logout of unknown token: %v", err)
	}
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	if err := f.service.ForgotPassword(ctx, "ghost@example.edu"); err != nil {
		t.Fatalf("forgot for unknown account: %v", err)
	}
	if len(f.store.reset) != 0 || len(f.mailer.sent) != 0 {
		t.Fatal("unknown identifier produced a token or mail")
	}

	if err := f.service.ForgotPassword(ctx, "alice@example.edu"); err != nil {
		t.Fatalf("forgot for known account: %v", err)
	}
	if len(f.store.reset) != 1 || len(f.mailer.sent) != 1 {
		t.Fatalf("reset tokens = %d, mails = %d, want 1 and 1", len(f.store.reset), len(f.mailer.sent))
	}
	if f.mailer.kinds[0] != mail.KindPasswordReset {
		t.Fatalf("mail template = %q, want %q", f.mailer.kinds[0], mail.KindPasswordReset)
	}
	token := f.mailer.sent[0]["token"]
	if token == "" {
		t.Fatal("mail lacks reset token")
	}
	wantLink := "https://campus.example.edu/reset-password?token=" + token
	if got := f.mailer.sent[0]["link"]; got != wantLink {
		t.Fatalf("mail link = %q, want %q", got, wantLink)
	}
}

func TestForgotPasswordSkipsNonActiveAccounts(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "pending@example.edu", "s3cret-password", StatusPending)

	if err := f.service.ForgotPassword(context.Background(), "pending@example.edu"); err != nil {
		t.Fatalf("forgot for pending account: %v", err)
	}
	if len(f.store.reset) != 0 {
		t.Fatal("pending account received a reset token")
	}
}

func TestForgotPasswordSurvivesMailFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive)
	f.mailer.failErr = errors.New("smtp down")

	if err := f.service.ForgotPassword(context.Background(), "alice@example.edu"); err != nil {
		t.Fatalf("forgot with failing mailer: %v", err)
	}
	if len(f.store.reset) != 1 {
		t.Fatal("reset token not persisted despite mail failure")
	}
}

func TestResetPasswordAppliesNewHashAndRevokesSessions(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "old-password1", StatusActive)
	ctx := context.Background()

	if _, err := f.service.Login(ctx, "alice@example.edu", "old-password1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := f.service.ForgotPassword(ctx, "alice@example.edu"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := f.mailer.sent[0]["token"]

	if err := f.service.ResetPassword(ctx, token, "new-password1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if len(f.store.refresh) != 0 {
		t.Fatalf("refresh ledger has %d rows after reset, want 0", len(f.store.refresh))
	}
	if _, err := f.service.Login(ctx, "alice@example.edu", "old-password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("login with old password: %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.service.Login(ctx, "alice@example.edu", "new-password1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestResetPasswordTokenStates(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "old-password1", StatusActive)
	ctx := context.Background()

	if err := f.service.ResetPassword(ctx, "never-issued", "new-password1"); !errors.Is(err, ErrResetTokenNotFound) {
		t.Fatalf("unknown token: %v, want ErrResetTokenNotFound", err)
	}

	if err := f.service.ForgotPassword(ctx, "alice@example.edu"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := f.mailer.sent[0]["token"]

	if err := f.service.ResetPassword(ctx, token, "new-password1"); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	if err := f.service.ResetPassword(ctx, token, "another-pass1"); !errors.Is(err, ErrResetTokenAlreadyUsed) {
		t.Fatalf("replayed token: %v, want ErrResetTokenAlreadyUsed", err)
	}

	if err := f.service.ForgotPassword(ctx, "alice@example.edu"); err != nil {
		t.Fatalf("second forgot: %v", err)
	}
	expiredToken := f.mailer.sent[1]["token"]
	*f.clock = f.clock.Add(61 * time.Minute)
	if err := f.service.ResetPassword(ctx, expiredToken, "another-pass1"); !errors.Is(err, ErrResetTokenExpired) {
		t.Fatalf("expired token: %v, want ErrResetTokenExpired", err)
	}
}

func TestResetPasswordExactlyOnceUnderConcurrency(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "old-password1", StatusActive)
	ctx := context.Background()

	if err := f.service.ForgotPassword(ctx, "alice@example.edu"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := f.mailer.sent[0]["token"]

	const attempts = 16
	results := make(chan error, attempts)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < attempts; i++ {
		go func() {
			start.Wait()
			results <- f.service.ResetPassword(ctx, token, "new-password1")
		}()
	}
	start.Done()

	var successes, replays int
	for i := 0; i < attempts; i++ {
		switch err := <-results; {
		case err == nil:
			successes++
		case errors.Is(err, ErrResetTokenAlreadyUsed):
			replays++
		default:
			t.Fatalf("unexpected reset error: %v", err)
		}
	}
	if successes != 1 || replays != attempts-1 {
		t.Fatalf("successes = %d, replays = %d, want exactly one winner", successes, replays)
	}
}

func TestOutstandingResetTokensStayValid(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "alice@example.edu", "old-password1", StatusActive)
	ctx := context.Background()

	if err := f.service.ForgotPassword(ctx, "alice@example.edu"); err != nil {
		t.Fatalf("first forgot: %v", err)
	}
	if err := f.service.ForgotPassword(ctx, "alice@example.edu"); err != nil {
		t.Fatalf("second forgot: %v", err)
	}
	first := f.mailer.sent[0]["token"]
	second := f.mailer.sent[1]["token"]

	// Issuing a second token does not touch the first; either can win.
	if err := f.service.ResetPassword(ctx, first, "new-password1"); err != nil {
		t.Fatalf("reset with first token: %v", err)
	}
	if err := f.service.ResetPassword(ctx, second, "new-password2"); err != nil {
		t.Fatalf("reset with second token: %v", err)
	}
}

func TestLoginResolveRefreshRoundTrip(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive, "STUDENT")
	resolver := NewResolver(f.service.codec)
	ctx := context.Background()

	tokens, err := f.service.Login(ctx, "alice@example.edu", "s3cret-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	principal, ok := resolver.Resolve("Bearer " + tokens.AccessToken)
	if !ok || principal.UserID != userID {
		t.Fatalf("resolve fresh access token: ok = %v, principal = %+v", ok, principal)
	}

	*f.clock = f.clock.Add(30 * time.Minute)
	refreshed, err := f.service.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	principal, ok = resolver.Resolve("Bearer " + refreshed.AccessToken)
	if !ok || !principal.HasRole("STUDENT") {
		t.Fatalf("resolve refreshed access token: ok = %v, principal = %+v", ok, principal)
	}

	// The original access token ages out while the refreshed one still works.
	*f.clock = f.clock.Add(31 * time.Minute)
	if _, ok := resolver.Resolve("Bearer " + tokens.AccessToken); ok {
		t.Fatal("expired access token still resolves")
	}
	if _, ok := resolver.Resolve("Bearer " + refreshed.AccessToken); !ok {
		t.Fatal("refreshed access token no longer resolves")
	}
}

func TestRevokeAllClearsLedger(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.seedUser(t, "alice@example.edu", "s3cret-password", StatusActive)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		*f.clock = f.clock.Add(time.Second)
		if _, err := f.service.Login(ctx, "alice@example.edu", "s3cret-password"); err != nil {
			t.Fatalf("login %d: %v", i+1, err)
		}
	}
	if len(f.store.refresh) != 3 {
		t.Fatalf("ledger rows = %d, want 3", len(f.store.refresh))
	}

	if err := f.service.RevokeAll(ctx, userID); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if len(f.store.refresh) != 0 {
		t.Fatalf("ledger rows after revoke = %d, want 0", len(f.store.refresh))
	}
}
