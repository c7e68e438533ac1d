package infra

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/agentpay/internal/config"
	"github.com/agentpay/agentpay/internal/engagement"
	"github.com/agentpay/agentpay/internal/logging"
	"github.com/agentpay/agentpay/internal/store"
)

func TestOpenStoreFallsBackToMemory(t *testing.T) {
	st, err := OpenStore(context.Background(), config.Config{AppEnv: "development"}, logging.Discard())
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &store.Memory{}, st)
	assert.NoError(t, st.Ping(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, client)

	mr := miniredis.RunT(t)
	client, err = NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = NewRedisClient(context.Background(), "://bad")
	assert.Error(t, err)
}

func TestNewMetricsQueue(t *testing.T) {
	q, err := NewMetricsQueue(config.Config{MetricsQueue: config.QueueMemory}, nil, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &engagement.MemoryQueue{}, q)

	_, err = NewMetricsQueue(config.Config{MetricsQueue: config.QueueRedis}, nil, logging.Discard())
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	q, err = NewMetricsQueue(config.Config{MetricsQueue: config.QueueRedis}, client, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &engagement.RedisQueue{}, q)
}
