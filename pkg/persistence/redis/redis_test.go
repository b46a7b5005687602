package redis

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/ccdwallet/multisig-go/pkg/logger"
	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/persistence/persistencetest"
	"github.com/ccdwallet/multisig-go/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis skips the test if Redis is not available. Every store gets
// its own key prefix so tests never see each other's keys.
func requireRedis(t *testing.T) *RedisPersistence {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &RedisConfig{
		Address:   getTestRedisAddress(),
		DB:        15, // Use DB 15 for tests to avoid conflicts
		KeyPrefix: fmt.Sprintf("test-%s:", uuid.NewString()),
	}

	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}
	t.Cleanup(func() { cleanupRedis(t, cfg) })
	return rp
}

// cleanupRedis removes every key written under the test prefix
func cleanupRedis(t *testing.T, cfg *RedisConfig) {
	t.Helper()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		return
	}
	defer func() { _ = rp.Close() }()

	ctx := context.Background()
	iter := rp.client.Scan(ctx, 0, cfg.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rp.client.Del(ctx, iter.Val())
	}
}

func TestRedisPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IProposalPersistence {
		return requireRedis(t)
	})
}

func TestRedisPersistence_StaleIndexEntryCleaned(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	signers := testutil.CreateTestSigners(t, 1)
	p := testutil.CreateTestProposal(t, signers, 1, 1)
	require.NoError(t, rp.SaveProposal(p))

	ctx := context.Background()
	require.NoError(t, rp.client.Del(ctx, rp.prefixKey(keyPrefixProposal+p.ID)).Err())

	all, err := rp.ListProposals()
	require.NoError(t, err)
	assert.Empty(t, all)

	members, err := rp.client.SMembers(ctx, rp.prefixKey(keySetProposals)).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestNewRedisPersistence_Validation(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	_, err := NewRedisPersistence(nil, testLogger)
	assert.Error(t, err)
	_, err = NewRedisPersistence(&RedisConfig{}, testLogger)
	assert.Error(t, err)
}
