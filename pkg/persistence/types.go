package persistence

import (
	"errors"
	"strings"
	"time"
)

var ErrClosed = errors.New("persistence layer is closed")

// Persistence backend names accepted in configuration
const (
	TypeMemory = "memory"
	TypeBadger = "badger"
	TypeRedis  = "redis"
)

// SessionState is what a client must remember between runs
type SessionState struct {
	// Address is the identity address of the signed in user.
	Address string `json:"address"`

	// RequiresSignIn is set after sign out and before the first successful sign in.
	RequiresSignIn bool `json:"requiresSignIn"`

	// UpdatedAt is the unix time of the last write.
	UpdatedAt int64 `json:"updatedAt"`
}

// NewSignedOutState is the state of a fresh install or a signed out user
func NewSignedOutState() *SessionState {
	return &SessionState{RequiresSignIn: true, UpdatedAt: time.Now().Unix()}
}

// IsSignedIn reports whether state belongs to an active user
func (s *SessionState) IsSignedIn() bool {
	return s != nil && !s.RequiresSignIn && s.Address != ""
}

// NormalizeAddress is the form addresses are keyed under
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
