package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the Postgres-backed Store. Refresh and reset token values are
// stored as sha256 digests; lookup stays exact-value since the digest is
// deterministic.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	DeletedResetTokens   int64 `json:"deleted_reset_tokens"`
}

func (r *Repository) FindCredentialByEmail(ctx context.Context, email string) (Credential, error) {
	return r.findCredential(ctx, `
		SELECT id, email, name, password_hash, status, failed_attempts, locked_until
		FROM users
		WHERE email = $1 AND deleted = FALSE
	`, email)
}

func (r *Repository) FindCredentialByID(ctx context.Context, userID string) (Credential, error) {
	return r.findCredential(ctx, `
		SELECT id, email, name, password_hash, status, failed_attempts, locked_until
		FROM users
		WHERE id = $1 AND deleted = FALSE
	`, userID)
}

func (r *Repository) findCredential(ctx context.Context, query, arg string) (Credential, error) {
	var cred Credential
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&cred.UserID, &cred.Email, &cred.Name, &cred.PasswordHash,
		&cred.Status, &cred.FailedAttempts, &lockedUntil,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrAccountNotFound
		}
		return Credential{}, fmt.Errorf("query credential: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		cred.LockedUntil = &value
	}
	return cred, nil
}

// RegisterFailedLogin applies the lockout policy to the account's counter
// under a row lock, so concurrent failures against the same account cannot
// under-count.
func (r *Repository) RegisterFailedLogin(ctx context.Context, userID string, policy LockoutPolicy, now time.Time) (LockoutState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LockoutState{}, fmt.Errorf("begin failed-login tx: %w", err)
	}
	defer tx.Rollback()

	var state LockoutState
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&state.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockoutState{}, ErrAccountNotFound
		}
		return LockoutState{}, fmt.Errorf("lock credential row: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		state.LockedUntil = &value
	}

	next := policy.OnFailure(state, now)
	var nextLock any
	if next.LockedUntil != nil {
		nextLock = *next.LockedUntil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, userID, next.FailedAttempts, nextLock, now.UTC())
	if err != nil {
		return LockoutState{}, fmt.Errorf("update lockout state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LockoutState{}, fmt.Errorf("commit failed-login tx: %w", err)
	}

	return next, nil
}

func (r *Repository) ClearLockout(ctx context.Context, userID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = 0, locked_until = NULL, last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("clear lockout state: %w", err)
	}
	return nil
}

// UpdatePasswordHash also clears the lockout state: a successful reset proves
// control of the mailbox, so stale failure counters should not linger.
func (r *Repository) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, failed_attempts = 0, locked_until = NULL, updated_at = $3
		WHERE id = $1
	`, userID, passwordHash, now.UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

func (r *Repository) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.code
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.code
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0, 2)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

func (r *Repository) CreateRefreshToken(ctx context.Context, userID, token string, issuedAt, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate refresh token id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), userID, digest(token), issuedAt.UTC(), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *Repository) FindRefreshToken(ctx context.Context, token string) (RefreshTokenRecord, error) {
	var record RefreshTokenRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, issued_at, expires_at
		FROM auth_refresh_tokens
		WHERE token_hash = $1
	`, digest(token)).Scan(&record.ID, &record.UserID, &record.IssuedAt, &record.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshTokenRecord{}, ErrRefreshTokenNotFound
		}
		return RefreshTokenRecord{}, fmt.Errorf("query refresh token: %w", err)
	}
	record.IssuedAt = record.IssuedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, nil
}

// DeleteRefreshToken removes the ledger row if present. Deleting an absent
// token is not an error.
func (r *Repository) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_refresh_tokens
		WHERE token_hash = $1
	`, digest(token))
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (r *Repository) DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_refresh_tokens
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens for user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) CreatePasswordResetToken(ctx context.Context, userID, token string, createdAt, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate reset token id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_password_reset_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), userID, digest(token), createdAt.UTC(), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	return nil
}

// ConsumePasswordResetToken marks the record consumed and returns the owning
// account id. The conditional UPDATE is the race guard: of two concurrent
// consumers exactly one sees a row change, the other gets already-used. The
// row itself is never deleted, so replays stay detectable.
func (r *Repository) ConsumePasswordResetToken(ctx context.Context, token string, now time.Time) (string, error) {
	tokenHash := digest(token)

	var userID string
	var expiresAt time.Time
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, expires_at, used_at
		FROM auth_password_reset_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&userID, &expiresAt, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrResetTokenNotFound
		}
		return "", fmt.Errorf("query reset token: %w", err)
	}

	if usedAt.Valid {
		return "", ErrResetTokenAlreadyUsed
	}
	if !now.Before(expiresAt.UTC()) {
		return "", ErrResetTokenExpired
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE auth_password_reset_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL
	`, tokenHash, now.UTC())
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("reset token rows affected: %w", err)
	}
	if affected == 0 {
		return "", ErrResetTokenAlreadyUsed
	}

	return userID, nil
}

// UpsertAdminUser seeds or refreshes the bootstrap admin account and grants
// it the ADMIN role.
func (r *Repository) UpsertAdminUser(ctx context.Context, email, name, passwordHash string, now time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admin bootstrap tx: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, status, failed_attempts, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, FALSE, $6, $6)
		ON CONFLICT (email)
		DO UPDATE SET password_hash = EXCLUDED.password_hash, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		RETURNING id
	`, id.String(), email, name, passwordHash, StatusActive, now.UTC()).Scan(&userID)
	if err != nil {
		return fmt.Errorf("upsert admin user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE code = 'ADMIN'
		ON CONFLICT DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("grant admin role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admin bootstrap tx: %w", err)
	}
	return nil
}

// CleanupStaleAuthData sweeps expired refresh tokens and stale consumed or
// expired reset tokens in bounded batches.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, resetRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if resetRetention <= 0 {
		resetRetention = 30 * 24 * time.Hour
	}

	resetCutoff := time.Now().UTC().Add(-resetRetention)

	deletedRefresh, err := r.deleteExpiredRefreshTokens(ctx, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedReset, err := r.deleteStaleResetTokens(ctx, resetCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedRefreshTokens: deletedRefresh,
		DeletedResetTokens:   deletedReset,
	}, nil
}

func (r *Repository) deleteExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_tokens
			WHERE expires_at < NOW()
			ORDER BY expires_at ASC
			LIMIT $1
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) deleteStaleResetTokens(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_password_reset_tokens
			WHERE (used_at IS NOT NULL AND used_at < $1)
			   OR (used_at IS NULL AND expires_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_password_reset_tokens t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale reset tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale reset tokens rows affected: %w", err)
	}
	return affected, nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
