package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adgate/core"
)

// newTestClient spins up a miniredis server and returns a client plus the server.
func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestStore_ReadUnset(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewWithClient(client, "test")

	v, err := store.ReadAdsEnabled(context.Background())
	assert.ErrorIs(t, err, core.ErrPreferenceNotSet)
	assert.Equal(t, core.DefaultAdsEnabled, v)
}

func TestStore_WriteAndRead(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewWithClient(client, "test")
	ctx := context.Background()

	require.NoError(t, store.WriteAdsEnabled(ctx, false))
	raw, err := mr.Get("test:prefs:ads_enabled")
	require.NoError(t, err)
	assert.Equal(t, "0", raw)
	assert.True(t, mr.Exists("test:prefs:updated"))

	v, err := store.ReadAdsEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, v)

	require.NoError(t, store.WriteAdsEnabled(ctx, true))
	v, err = store.ReadAdsEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestStore_CorruptValue(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewWithClient(client, "")
	require.NoError(t, mr.Set("prefs:ads_enabled", "maybe"))

	_, err := store.ReadAdsEnabled(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrPreferenceNotSet)
}

func TestStore_ServerDown(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewWithClient(client, "test")
	mr.Close()

	err := store.WriteAdsEnabled(context.Background(), false)
	assert.Error(t, err)
	_, err = store.ReadAdsEnabled(context.Background())
	assert.Error(t, err)
}

func TestNew_ConnectsAndCloses(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()

	store, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, store.WriteAdsEnabled(context.Background(), true))
	assert.True(t, mr.Exists("adgate:prefs:ads_enabled"))
	require.NoError(t, store.Close())
}
