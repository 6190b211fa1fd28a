package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// PasswordHasher wraps bcrypt behind a weighted semaphore so the CPU-bound
// comparison work is bounded independently of I/O concurrency and cannot
// starve the serving goroutines.
type PasswordHasher struct {
	cost int
	gate *semaphore.Weighted
}

// dummy bcrypt hash compared against when no credential matches, so an
// unknown identifier costs the same as a wrong password.
const enumerationDecoyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func NewPasswordHasher(cost, workers int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if workers <= 0 {
		workers = 4
	}
	return &PasswordHasher{cost: cost, gate: semaphore.NewWeighted(int64(workers))}
}

func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.gate.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.gate.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Compare checks password against hash. Returns ErrInvalidCredentials on
// mismatch; any other error is an internal failure.
func (h *PasswordHasher) Compare(ctx context.Context, hash, password string) error {
	if err := h.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.gate.Release(1)

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}

// CompareDecoy burns one full comparison against a fixed hash. Called when
// the identifier matched no credential.
func (h *PasswordHasher) CompareDecoy(ctx context.Context, password string) {
	_ = h.Compare(ctx, enumerationDecoyHash, password)
}
