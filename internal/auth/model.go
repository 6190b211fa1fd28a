package auth

import "time"

// Account statuses as stored. Locked is not a status: an account with a
// non-null future locked_until is rejected regardless of status.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusPending  = "PENDING"
)

type Credential struct {
	UserID         string
	Email          string
	Name           string
	PasswordHash   string
	Status         string
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutState returns the mutable lockout portion of the credential.
func (c Credential) LockoutState() LockoutState {
	return LockoutState{FailedAttempts: c.FailedAttempts, LockedUntil: c.LockedUntil}
}

type RefreshTokenRecord struct {
	ID        string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type PasswordResetTokenRecord struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

type Tokens struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	User         UserInfo `json:"user"`
}

type UserInfo struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}
