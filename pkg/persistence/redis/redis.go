package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixProposal    = "ccd:proposal:"
	keyWalletState       = "ccd:walletstate:main"
	keySchemaVersion     = "ccd:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key set for listing operations (Redis doesn't support prefix iteration natively)
	keySetProposals = "ccd:proposals:index"
)

// RedisPersistence is a shared proposal store, letting several wallet
// instances (for example co-signers on one team) see the same proposals.
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
	// KeyPrefix is prepended to all keys, e.g. "team-a:" gives
	// "team-a:ccd:proposal:<id>".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

// prefixKey adds the custom key prefix (if configured) to a key
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
	if err == redis.Nil {
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

// SaveProposal persists a proposal and indexes its id
func (r *RedisPersistence) SaveProposal(p *proposal.Proposal) error {
	data, err := persistence.MarshalProposal(p)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefixKey(keyPrefixProposal+p.ID), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetProposals), p.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save Proposal: %w", err)
	}
	return nil
}

// LoadProposal retrieves a proposal by id
func (r *RedisPersistence) LoadProposal(id string) (*proposal.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	data, err := r.client.Get(context.Background(), r.prefixKey(keyPrefixProposal+id)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Proposal: %w", err)
	}
	return persistence.UnmarshalProposal(data)
}

// ListProposals returns matching proposals ordered by creation time
func (r *RedisPersistence) ListProposals(statuses ...proposal.Status) ([]*proposal.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetProposals)

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list Proposal ids: %w", err)
	}
	if len(ids) == 0 {
		return []*proposal.Proposal{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefixKey(keyPrefixProposal + id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Proposals: %w", err)
	}

	proposals := make([]*proposal.Proposal, 0, len(values))
	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for Proposal", "key", keys[i])
			continue
		}

		p, err := persistence.UnmarshalProposal([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal Proposal, skipping",
				"key", keys[i], "error", err)
			continue
		}
		if persistence.MatchesStatus(p, statuses) {
			proposals = append(proposals, p)
		}
	}

	persistence.SortProposals(proposals)
	return proposals, nil
}

// DeleteProposal removes a proposal and its index entry
func (r *RedisPersistence) DeleteProposal(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.prefixKey(keyPrefixProposal+id))
	pipe.SRem(ctx, r.prefixKey(keySetProposals), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete Proposal: %w", err)
	}
	return nil
}

// SaveWalletState persists wallet operational state
func (r *RedisPersistence) SaveWalletState(state *persistence.WalletState) error {
	data, err := persistence.MarshalWalletState(state)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	if err := r.client.Set(context.Background(), r.prefixKey(keyWalletState), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save WalletState: %w", err)
	}
	return nil
}

// LoadWalletState retrieves wallet operational state
func (r *RedisPersistence) LoadWalletState() (*persistence.WalletState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	data, err := r.client.Get(context.Background(), r.prefixKey(keyWalletState)).Bytes()
	if err == redis.Nil {
		return nil, nil // First run
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load WalletState: %w", err)
	}
	return persistence.UnmarshalWalletState(data)
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

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
