package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/toshiapp/toshi-auth-go/pkg/persistence"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IAuthPersistence.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Values are copied on the way in and out to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	session         *persistence.SessionState
	activeNetworkID string

	// Profile cache: normalized address -> User
	users map[string]*types.User

	// Replay guard: signature -> expiry
	signatures map[string]time.Time

	now    func() time.Time
	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since nothing survives a restart.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL DATA WILL BE LOST ON RESTART")
	fmt.Println("⚠️  Set TOSHI_PERSISTENCE_TYPE=badger or redis to keep sessions and replay state")

	return newMemoryPersistence(time.Now)
}

// NewMemoryPersistenceWithClock is NewMemoryPersistence with an injected clock
// for replay expiry. It does not print the warning.
func NewMemoryPersistenceWithClock(now func() time.Time) *MemoryPersistence {
	if now == nil {
		now = time.Now
	}
	return newMemoryPersistence(now)
}

func newMemoryPersistence(now func() time.Time) *MemoryPersistence {
	return &MemoryPersistence{
		users:      make(map[string]*types.User),
		signatures: make(map[string]time.Time),
		now:        now,
	}
}

// SaveSessionState persists the session state.
func (m *MemoryPersistence) SaveSessionState(state *persistence.SessionState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil SessionState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	s := *state
	m.session = &s
	return nil
}

// LoadSessionState retrieves the session state.
func (m *MemoryPersistence) LoadSessionState() (*persistence.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	if m.session == nil {
		return nil, nil // Not found is not an error
	}

	s := *m.session
	return &s, nil
}

// ClearSessionState removes the session state.
func (m *MemoryPersistence) ClearSessionState() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.session = nil
	return nil
}

// SetActiveNetworkID stores the switched network id.
func (m *MemoryPersistence) SetActiveNetworkID(networkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.activeNetworkID = networkID
	return nil
}

// GetActiveNetworkID retrieves the switched network id.
func (m *MemoryPersistence) GetActiveNetworkID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", persistence.ErrClosed
	}

	return m.activeNetworkID, nil
}

// SaveUser caches a profile.
func (m *MemoryPersistence) SaveUser(user *types.User) error {
	if user == nil {
		return fmt.Errorf("cannot save nil User")
	}
	key := persistence.NormalizeAddress(user.Address)
	if key == "" {
		return fmt.Errorf("cannot save User without address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.users[key] = user.Clone()
	return nil
}

// LoadUser retrieves a cached profile.
func (m *MemoryPersistence) LoadUser(address string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	user, exists := m.users[persistence.NormalizeAddress(address)]
	if !exists {
		return nil, nil
	}
	return user.Clone(), nil
}

// ListUsers returns every cached profile sorted by address.
func (m *MemoryPersistence) ListUsers() ([]*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	addresses := make([]string, 0, len(m.users))
	for address := range m.users {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	result := make([]*types.User, 0, len(addresses))
	for _, address := range addresses {
		result = append(result, m.users[address].Clone())
	}
	return result, nil
}

// ClearUsers drops the profile cache.
func (m *MemoryPersistence) ClearUsers() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.users = make(map[string]*types.User)
	return nil
}

// RecordSignature records signature until expiresAt. Expired entries are
// pruned on every call.
func (m *MemoryPersistence) RecordSignature(signature string, expiresAt time.Time) (bool, error) {
	if signature == "" {
		return false, fmt.Errorf("cannot record empty signature")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, persistence.ErrClosed
	}

	now := m.now()
	for sig, exp := range m.signatures {
		if !exp.After(now) {
			delete(m.signatures, sig)
		}
	}

	if _, seen := m.signatures[signature]; seen {
		return false, nil
	}
	if expiresAt.After(now) {
		m.signatures[signature] = expiresAt
	}
	return true, nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck always succeeds until Close.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}

var _ persistence.IAuthPersistence = (*MemoryPersistence)(nil)
