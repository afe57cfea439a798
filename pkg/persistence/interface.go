package persistence

import (
	"time"

	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

// IAuthPersistence stores client session state, cached profiles and the
// signatures already accepted by the verifier. All implementations must be
// thread-safe.
type IAuthPersistence interface {
	// Session State

	// SaveSessionState overwrites the stored session state.
	SaveSessionState(state *SessionState) error

	// LoadSessionState returns nil if no session has been stored, error only
	// on storage failure.
	LoadSessionState() (*SessionState, error)

	// ClearSessionState removes the session state. Idempotent.
	ClearSessionState() error

	// Active Network

	// SetActiveNetworkID stores the id of the switched network. An empty id
	// clears it.
	SetActiveNetworkID(networkID string) error

	// GetActiveNetworkID returns "" when no network has been switched to.
	GetActiveNetworkID() (string, error)

	// Profile Cache

	// SaveUser caches a profile keyed by its identity address. Overwrites.
	SaveUser(user *types.User) error

	// LoadUser returns nil if the address is not cached.
	LoadUser(address string) (*types.User, error)

	// ListUsers returns every cached profile sorted by address.
	ListUsers() ([]*types.User, error)

	// ClearUsers drops the whole profile cache.
	ClearUsers() error

	// Replay Guard

	// RecordSignature stores signature until expiresAt. It returns true when
	// the signature was not already recorded and unexpired, false for a replay.
	RecordSignature(signature string, expiresAt time.Time) (bool, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer. Idempotent.
	// After Close(), all other operations return ErrClosed.
	Close() error

	// HealthCheck returns nil if the backend is operational.
	HealthCheck() error
}
