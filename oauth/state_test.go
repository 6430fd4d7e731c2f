package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

var testSigningKey = []byte("test-signing-key-do-not-use-in-prod")

func TestMintState_ProducesUniqueTokens(t *testing.T) {
	a, err := mintState(testSigningKey, time.Minute, true)
	require.NoError(t, err)
	b, err := mintState(testSigningKey, time.Minute, true)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestConsumeState_ValidTokenConsumedOnce(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()

	state, err := mintState(testSigningKey, time.Minute, true)
	require.NoError(t, err)

	ok, err := consumeState(ctx, rdb, testSigningKey, time.Minute, state)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = consumeState(ctx, rdb, testSigningKey, time.Minute, state)
	require.NoError(t, err)
	assert.False(t, ok, "a second consumption of the same state must fail")
}

func TestConsumeState_UnknownTokenRejected(t *testing.T) {
	rdb := setupTestRedis(t)
	ok, err := consumeState(context.Background(), rdb, testSigningKey, time.Minute, "totally-forged-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeState_WrongSigningKeyRejected(t *testing.T) {
	rdb := setupTestRedis(t)
	state, err := mintState([]byte("a-different-key-entirely"), time.Minute, true)
	require.NoError(t, err)

	ok, err := consumeState(context.Background(), rdb, testSigningKey, time.Minute, state)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeState_ExpiredTokenRejected(t *testing.T) {
	rdb := setupTestRedis(t)
	state, err := mintState(testSigningKey, 10*time.Millisecond, true)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	ok, err := consumeState(context.Background(), rdb, testSigningKey, time.Minute, state)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeState_EmptyTokenRejected(t *testing.T) {
	rdb := setupTestRedis(t)
	ok, err := consumeState(context.Background(), rdb, testSigningKey, time.Minute, "")
	require.NoError(t, err)
	assert.False(t, ok)
}
