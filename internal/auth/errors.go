package auth

import "errors"

// Credential verification failures. All four are collapsed into one generic
// 401 response at the handler boundary; the distinct cause is only logged.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountNotActive   = errors.New("account not active")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Token codec failures.
var (
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
)

// Refresh-token ledger failures. The ledger is authoritative for revocation,
// independent of the expiry embedded in the signed token.
var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
)

// Password-reset ledger failures.
var (
	ErrResetTokenNotFound    = errors.New("reset token not found")
	ErrResetTokenExpired     = errors.New("reset token expired")
	ErrResetTokenAlreadyUsed = errors.New("reset token already used")
)

// ErrServiceUnavailable signals a store timeout. Retryable by the client;
// every other error above is terminal for the request.
var ErrServiceUnavailable = errors.New("auth store unavailable")
