package redis

import (
	"context"
	"testing"

	"github.com/Yohanamtesfaye/emma-care-backend/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), &config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { Close(client) })
	return client, mr
}

func TestNewRedisClient_PingFails(t *testing.T) {
	_, err := NewRedisClient(context.Background(), &config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestPublishToStream(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	id, err := PublishToStream(ctx, client, "vitals:test", 0, map[string]interface{}{
		"heart_rate": 72.5,
		"record_id":  int64(9),
		"degraded":   false,
		"meta":       map[string]string{"port": "/dev/ttyUSB0"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "vitals:test", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "72.5", msgs[0].Values["heart_rate"])
	assert.Equal(t, "9", msgs[0].Values["record_id"])
	assert.Equal(t, "false", msgs[0].Values["degraded"])
	assert.Equal(t, `{"port":"/dev/ttyUSB0"}`, msgs[0].Values["meta"])
}

func TestPublishJSONToStream(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	_, err := PublishJSONToStream(ctx, client, "vitals:test", 100, map[string]int{"id": 1})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "vitals:test", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"id":1}`, msgs[0].Values["data"])
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
}
