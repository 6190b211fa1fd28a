package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"campus-gateway/internal/mail"
	"campus-gateway/internal/observability"
)

const (
	defaultAccessTTL    = time.Hour
	defaultRefreshTTL   = 7 * 24 * time.Hour
	defaultResetTTL     = time.Hour
	defaultMaxAttempts  = 5
	defaultLockDuration = 30 * time.Minute
)

// Store is the durable backing for credentials and both token ledgers.
// Implementations must make RegisterFailedLogin a single linearized write and
// ConsumePasswordResetToken a conditional single-winner update.
type Store interface {
	FindCredentialByEmail(ctx context.Context, email string) (Credential, error)
	FindCredentialByID(ctx context.Context, userID string) (Credential, error)
	RegisterFailedLogin(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (LockoutState, error)
	ClearLockout(ctx context.Context, userID string, now time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error
	RolesForUser(ctx context.Context, userID string) ([]string, error)

	CreateRefreshToken(ctx context.Context, userID, token string, issuedAt, expiresAt time.Time) error
	FindRefreshToken(ctx context.Context, token string) (RefreshTokenRecord, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error)

	CreatePasswordResetToken(ctx context.Context, userID, token string, createdAt, expiresAt time.Time) error
	ConsumePasswordResetToken(ctx context.Context, token string, now time.Time) (string, error)
}

// Mailer delivers templated mail. Delivery is fire-and-forget from the auth
// flows: a failure is logged, never surfaced to the caller.
type Mailer interface {
	Send(ctx context.Context, to, kind string, vars map[string]string) error
}

type Service struct {
	store         Store
	codec         *Codec
	hasher        *PasswordHasher
	mailer        Mailer
	logger        *observability.Logger
	policy        LockoutPolicy
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
	resetLinkBase string
	now           func() time.Time
}

func NewService(store Store, codec *Codec, hasher *PasswordHasher, mailer Mailer, logger *observability.Logger) *Service {
	return &Service{
		store:      store,
		codec:      codec,
		hasher:     hasher,
		mailer:     mailer,
		logger:     logger,
		policy:     LockoutPolicy{MaxAttempts: defaultMaxAttempts, LockDuration: defaultLockDuration},
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		resetTTL:   defaultResetTTL,
		now:        time.Now,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration, accessTTL, refreshTTL, resetTTL time.Duration) {
	if maxAttempts > 0 {
		s.policy.MaxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.policy.LockDuration = lockDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	if resetTTL > 0 {
		s.resetTTL = resetTTL
	}
}

// WithResetLink sets the base URL embedded in password-reset mail. The token
// is appended as a query parameter.
func (s *Service) WithResetLink(baseURL string) {
	s.resetLinkBase = strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// WithClock overrides the service clock.
func (s *Service) WithClock(now func() time.Time) {
	s.now = now
	s.codec.WithClock(now)
}

// Login verifies credentials and mints an access/refresh token pair. Every
// attempt durably updates the lockout state before returning.
func (s *Service) Login(ctx context.Context, email, password string) (Tokens, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	cred, err := s.store.FindCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn a comparison so unknown identifiers are not
			// distinguishable from wrong passwords by timing.
			s.hasher.CompareDecoy(ctx, password)
			return Tokens{}, ErrAccountNotFound
		}
		return Tokens{}, storeFailure(err)
	}

	if s.policy.IsBlocked(cred.LockoutState(), now) {
		return Tokens{}, ErrAccountLocked
	}
	if cred.Status != StatusActive {
		return Tokens{}, ErrAccountNotActive
	}

	if err := s.hasher.Compare(ctx, cred.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			return Tokens{}, err
		}
		// The counter write must land even if the caller disconnects
		// mid-verification.
		if _, regErr := s.store.RegisterFailedLogin(context.WithoutCancel(ctx), cred.UserID, s.policy, now); regErr != nil {
			return Tokens{}, storeFailure(regErr)
		}
		return Tokens{}, ErrInvalidCredentials
	}

	if err := s.store.ClearLockout(context.WithoutCancel(ctx), cred.UserID, now); err != nil {
		return Tokens{}, storeFailure(err)
	}

	return s.issueTokens(ctx, cred, now)
}

// Refresh mints a new access token against a live refresh token. The ledger
// is consulted first and is authoritative: a revoked or swept token fails
// regardless of its embedded expiry. The refresh token itself is not rotated
// and its ledger expiry is never extended.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrRefreshTokenNotFound
	}

	now := s.now().UTC()
	record, err := s.store.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		return Tokens{}, storeFailure(err)
	}
	if !now.Before(record.ExpiresAt) {
		if err := s.store.DeleteRefreshToken(context.WithoutCancel(ctx), refreshToken); err != nil {
			return Tokens{}, storeFailure(err)
		}
		return Tokens{}, ErrRefreshTokenExpired
	}

	claims, err := s.codec.Verify(refreshToken)
	if err != nil {
		return Tokens{}, err
	}
	if claims.Kind() != KindRefresh {
		return Tokens{}, ErrTokenMalformed
	}

	cred, err := s.store.FindCredentialByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Tokens{}, ErrAccountNotActive
		}
		return Tokens{}, storeFailure(err)
	}
	if cred.Status != StatusActive {
		return Tokens{}, ErrAccountNotActive
	}

	roles, err := s.store.RolesForUser(ctx, cred.UserID)
	if err != nil {
		return Tokens{}, storeFailure(err)
	}

	access, err := s.issueAccessToken(cred, roles, now)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		User:         UserInfo{ID: cred.UserID, Email: cred.Email, Name: cred.Name, Roles: roles},
	}, nil
}

// Logout revokes a refresh token. Revoking an already-absent token succeeds
// silently, so logout is idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return storeFailure(s.store.DeleteRefreshToken(ctx, refreshToken))
}

// RevokeAll deletes every refresh token for the account. Used by the
// reset-password flow and available for compromise response.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	_, err := s.store.DeleteRefreshTokensForUser(ctx, userID)
	return storeFailure(err)
}

// ForgotPassword issues a single-use reset token and mails it. The response
// is identical whether or not the identifier matches an account, so the
// endpoint cannot be used for enumeration. Outstanding reset tokens for the
// same account stay valid.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}

	now := s.now().UTC()
	cred, err := s.store.FindCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return storeFailure(err)
	}
	if cred.Status != StatusActive {
		return nil
	}

	token := uuid.NewString()
	if err := s.store.CreatePasswordResetToken(ctx, cred.UserID, token, now, now.Add(s.resetTTL)); err != nil {
		return storeFailure(err)
	}

	if s.mailer != nil {
		vars := map[string]string{
			"name":  cred.Name,
			"token": token,
		}
		if s.resetLinkBase != "" {
			vars["link"] = s.resetLinkBase + "?token=" + url.QueryEscape(token)
		}

		mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := s.mailer.Send(mailCtx, cred.Email, mail.KindPasswordReset, vars); err != nil {
			// The token stays valid; delivery has its own retry policy.
			s.logger.Error("password_reset_mail_failed", map[string]any{"error": err.Error()})
		}
	}

	return nil
}

// ResetPassword consumes a reset token and applies the new password hash.
// Consumption is the single-winner guard: concurrent calls against the same
// token resolve to exactly one success. On success the lockout state is
// cleared and every refresh token for the account is revoked.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrResetTokenNotFound
	}

	now := s.now().UTC()
	userID, err := s.store.ConsumePasswordResetToken(ctx, token, now)
	if err != nil {
		return storeFailure(err)
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}

	detached := context.WithoutCancel(ctx)
	if err := s.store.UpdatePasswordHash(detached, userID, hash, now); err != nil {
		return storeFailure(err)
	}
	if _, err := s.store.DeleteRefreshTokensForUser(detached, userID); err != nil {
		return storeFailure(err)
	}

	return nil
}

func (s *Service) issueTokens(ctx context.Context, cred Credential, now time.Time) (Tokens, error) {
	roles, err := s.store.RolesForUser(ctx, cred.UserID)
	if err != nil {
		return Tokens{}, storeFailure(err)
	}

	access, err := s.issueAccessToken(cred, roles, now)
	if err != nil {
		return Tokens{}, err
	}

	refreshExpiry := now.Add(s.refreshTTL)
	refresh, err := s.codec.Sign(Claims{
		Typ: string(KindRefresh),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpiry),
		},
	})
	if err != nil {
		return Tokens{}, err
	}

	// The ledger row is what makes the refresh token revocable independent
	// of its embedded expiry.
	if err := s.store.CreateRefreshToken(ctx, cred.UserID, refresh, now, refreshExpiry); err != nil {
		return Tokens{}, storeFailure(err)
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		User:         UserInfo{ID: cred.UserID, Email: cred.Email, Name: cred.Name, Roles: roles},
	}, nil
}

func (s *Service) issueAccessToken(cred Credential, roles []string, now time.Time) (string, error) {
	return s.codec.Sign(Claims{
		Email: cred.Email,
		Roles: roles,
		Typ:   string(KindAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	})
}

// storeFailure converts store timeouts into the retryable taxonomy error and
// passes everything else through.
func storeFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrServiceUnavailable
	}
	return err
}
