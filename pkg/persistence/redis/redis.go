package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/toshiapp/toshi-auth-go/pkg/persistence"
	"github.com/toshiapp/toshi-auth-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keySessionState      = "toshi:session:main"
	keyActiveNetwork     = "toshi:network:active"
	keyPrefixUser        = "toshi:user:"
	keyPrefixSignature   = "toshi:replay:"
	keySchemaVersion     = "toshi:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Index of cached profile addresses (Redis doesn't support prefix iteration natively)
	keySetUsers = "toshi:users:index"

	operationTimeout = 5 * time.Second
)

// RedisPersistence is an IAuthPersistence backed by Redis. Sharing one Redis
// between several auth servers gives them a common replay guard.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "staging:" gives
	// "staging:toshi:replay:<sig>".
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and validates the schema version.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// begin takes the read lock and returns a bounded context. The caller must
// invoke the returned release function.
func (r *RedisPersistence) begin() (context.Context, func(), error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, nil, persistence.ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	return ctx, func() {
		cancel()
		r.mu.RUnlock()
	}, nil
}

// SaveSessionState persists the session state
func (r *RedisPersistence) SaveSessionState(state *persistence.SessionState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil SessionState")
	}

	ctx, release, err := r.begin()
	if err != nil {
		return err
	}
	defer release()

	data, err := persistence.MarshalSessionState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionState: %w", err)
	}
	return r.client.Set(ctx, r.prefixKey(keySessionState), data, 0).Err()
}

// LoadSessionState retrieves the session state
func (r *RedisPersistence) LoadSessionState() (*persistence.SessionState, error) {
	ctx, release, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := r.client.Get(ctx, r.prefixKey(keySessionState)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SessionState: %w", err)
	}
	return persistence.UnmarshalSessionState(data)
}

// ClearSessionState removes the session state
func (r *RedisPersistence) ClearSessionState() error {
	ctx, release, err := r.begin()
	if err != nil {
		return err
	}
	defer release()

	return r.client.Del(ctx, r.prefixKey(keySessionState)).Err()
}

// SetActiveNetworkID stores the switched network id. Empty deletes it.
func (r *RedisPersistence) SetActiveNetworkID(networkID string) error {
	ctx, release, err := r.begin()
	if err != nil {
		return err
	}
	defer release()

	key := r.prefixKey(keyActiveNetwork)
	if networkID == "" {
		return r.client.Del(ctx, key).Err()
	}
	return r.client.Set(ctx, key, networkID, 0).Err()
}

// GetActiveNetworkID retrieves the switched network id
func (r *RedisPersistence) GetActiveNetworkID() (string, error) {
	ctx, release, err := r.begin()
	if err != nil {
		return "", err
	}
	defer release()

	id, err := r.client.Get(ctx, r.prefixKey(keyActiveNetwork)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active network: %w", err)
	}
	return id, nil
}

// SaveUser caches a profile and adds it to the index set
func (r *RedisPersistence) SaveUser(user *types.User) error {
	if user == nil {
		return fmt.Errorf("cannot save nil User")
	}
	address := persistence.NormalizeAddress(user.Address)
	if address == "" {
		return fmt.Errorf("cannot save User without address")
	}

	ctx, release, err := r.begin()
	if err != nil {
		return err
	}
	defer release()

	data, err := persistence.MarshalUser(user)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefixKey(keyPrefixUser+address), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetUsers), address)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save User: %w", err)
	}
	return nil
}

// LoadUser retrieves a cached profile
func (r *RedisPersistence) LoadUser(address string) (*types.User, error) {
	ctx, release, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := r.client.Get(ctx, r.prefixKey(keyPrefixUser+persistence.NormalizeAddress(address))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load User: %w", err)
	}
	return persistence.UnmarshalUser(data)
}

// ListUsers returns all cached profiles sorted by address
func (r *RedisPersistence) ListUsers() ([]*types.User, error) {
	ctx, release, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	indexKey := r.prefixKey(keySetUsers)
	addresses, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list User addresses: %w", err)
	}
	if len(addresses) == 0 {
		return []*types.User{}, nil
	}
	sort.Strings(addresses)

	keys := make([]string, len(addresses))
	for i, address := range addresses {
		keys[i] = r.prefixKey(keyPrefixUser + address)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Users: %w", err)
	}

	users := make([]*types.User, 0, len(values))
	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, addresses[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for User", "key", keys[i])
			continue
		}

		user, err := persistence.UnmarshalUser([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal User, skipping", "key", keys[i], "error", err)
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// ClearUsers drops every cached profile named in the index
func (r *RedisPersistence) ClearUsers() error {
	ctx, release, err := r.begin()
	if err != nil {
		return err
	}
	defer release()

	indexKey := r.prefixKey(keySetUsers)
	addresses, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list User addresses: %w", err)
	}

	keys := make([]string, 0, len(addresses)+1)
	for _, address := range addresses {
		keys = append(keys, r.prefixKey(keyPrefixUser+address))
	}
	keys = append(keys, indexKey)
	return r.client.Del(ctx, keys...).Err()
}

// RecordSignature uses SET NX with an expiry so that exactly one caller across
// every server sharing this Redis sees a signature as fresh.
func (r *RedisPersistence) RecordSignature(signature string, expiresAt time.Time) (bool, error) {
	if signature == "" {
		return false, fmt.Errorf("cannot record empty signature")
	}

	ctx, release, err := r.begin()
	if err != nil {
		return false, err
	}
	defer release()

	key := r.prefixKey(keyPrefixSignature + signature)
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		exists, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("failed to check signature: %w", err)
		}
		return exists == 0, nil
	}

	fresh, err := r.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record signature: %w", err)
	}
	return fresh, nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck pings Redis and checks the schema marker
func (r *RedisPersistence) HealthCheck() error {
	ctx, release, err := r.begin()
	if err != nil {
		return err
	}
	defer release()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err = r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}

var _ persistence.IAuthPersistence = (*RedisPersistence)(nil)
