package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/pkg/logger"
)

func TestRedisConnection_Lifecycle(t *testing.T) {
	s := miniredis.RunT(t)
	ctx := context.Background()

	rc, err := NewRedisConnection(ctx, &config.RedisConfig{Address: s.Addr()}, logger.NewNoopLogger())
	require.NoError(t, err)

	assert.NoError(t, rc.Ping(ctx))
	health, err := rc.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, health["connected"])

	require.NoError(t, rc.GetClient().Set(ctx, "k", "v", 0).Err())
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	assert.NoError(t, rc.Close())
}

func TestRedisConnection_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	_, err := NewRedisConnection(context.Background(), &config.RedisConfig{Address: addr}, logger.NewNoopLogger())
	assert.Error(t, err)

	_, err = NewRedisConnection(context.Background(), &config.RedisConfig{Address: " , "}, logger.NewNoopLogger())
	assert.Error(t, err)
}

func TestSplitAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitAddrs(" a:1, b:2 ,"))
	assert.Nil(t, splitAddrs(""))
}
