package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/persistence"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keySessionState      = "session:main"
	keyActiveNetwork     = "network:active"
	keyPrefixUser        = "user:"
	keyPrefixSignature   = "replay:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a disk-backed IAuthPersistence.
// Replay entries are written with a badger TTL and disappear on their own.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value log garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// get copies the value at key, returning nil when it does not exist
func (b *BadgerPersistence) get(key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// SaveSessionState persists the session state
func (b *BadgerPersistence) SaveSessionState(state *persistence.SessionState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil SessionState")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalSessionState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionState: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySessionState), data)
	})
}

// LoadSessionState retrieves the session state
func (b *BadgerPersistence) LoadSessionState() (*persistence.SessionState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	data, err := b.get(keySessionState)
	if err != nil {
		return nil, fmt.Errorf("failed to load SessionState: %w", err)
	}
	if data == nil {
		return nil, nil // Not found
	}

	state, err := persistence.UnmarshalSessionState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal SessionState: %w", err)
	}
	return state, nil
}

// ClearSessionState removes the session state
func (b *BadgerPersistence) ClearSessionState() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(keySessionState))
	})
}

// SetActiveNetworkID stores the switched network id. Empty deletes it.
func (b *BadgerPersistence) SetActiveNetworkID(networkID string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		if networkID == "" {
			return txn.Delete([]byte(keyActiveNetwork))
		}
		return txn.Set([]byte(keyActiveNetwork), []byte(networkID))
	})
}

// GetActiveNetworkID retrieves the switched network id
func (b *BadgerPersistence) GetActiveNetworkID() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", persistence.ErrClosed
	}

	data, err := b.get(keyActiveNetwork)
	if err != nil {
		return "", fmt.Errorf("failed to get active network: %w", err)
	}
	return string(data), nil
}

// SaveUser caches a profile
func (b *BadgerPersistence) SaveUser(user *types.User) error {
	if user == nil {
		return fmt.Errorf("cannot save nil User")
	}
	address := persistence.NormalizeAddress(user.Address)
	if address == "" {
		return fmt.Errorf("cannot save User without address")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalUser(user)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyPrefixUser+address), data)
	})
}

// LoadUser retrieves a cached profile
func (b *BadgerPersistence) LoadUser(address string) (*types.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	data, err := b.get(keyPrefixUser + persistence.NormalizeAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to load User: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalUser(data)
}

// ListUsers returns all cached profiles sorted by address
func (b *BadgerPersistence) ListUsers() ([]*types.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	users := []*types.User{}

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixUser)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			user, err := persistence.UnmarshalUser(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal User, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Users: %w", err)
	}

	sort.Slice(users, func(i, j int) bool {
		return persistence.NormalizeAddress(users[i].Address) < persistence.NormalizeAddress(users[j].Address)
	})
	return users, nil
}

// ClearUsers drops every cached profile
func (b *BadgerPersistence) ClearUsers() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.DropPrefix([]byte(keyPrefixUser))
}

// RecordSignature stores signature with a TTL ending at expiresAt. Badger
// expiry has one second resolution. A transaction conflict means another
// caller recorded the same signature first, which is reported as a replay.
func (b *BadgerPersistence) RecordSignature(signature string, expiresAt time.Time) (bool, error) {
	if signature == "" {
		return false, fmt.Errorf("cannot record empty signature")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, persistence.ErrClosed
	}

	ttl := time.Until(expiresAt)
	key := []byte(keyPrefixSignature + signature)

	fresh := false
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}

		fresh = true
		if ttl <= 0 {
			return nil
		}
		return txn.SetEntry(badgerdb.NewEntry(key, []byte{1}).WithTTL(ttl))
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record signature: %w", err)
	}
	return fresh, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}

var _ persistence.IAuthPersistence = (*BadgerPersistence)(nil)
