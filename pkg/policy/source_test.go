package policy

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSource(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	src := NewRedisSource(client, "")
	ctx := context.Background()

	_, err := src.Get(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, src.Put(ctx, []byte(`{"tiers":{}}`)))
	got, err := s.Get(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, `{"tiers":{}}`, got)

	raw, err := src.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"tiers":{}}`, string(raw))
}

func TestRedisSource_StoreRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	writer := NewStore(defaults(), NewRedisSource(client, "custom:policies"))
	_, err := writer.Update(context.Background(), mustPatch(t,
		`{"global":{"capacity":7,"refillPerSec":7},"exemptions":{"apiKey:ci":true}}`))
	require.NoError(t, err)

	reader := NewStore(defaults(), NewRedisSource(client, "custom:policies"))
	set := reader.Load(context.Background())
	assert.Equal(t, 7.0, set.Global.Capacity)
	assert.True(t, set.Exempt("apiKey:ci"))
}

func TestRedisSource_Unavailable(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := NewStore(defaults(), NewRedisSource(client, ""))
	before := store.Snapshot()
	s.SetError("ERR unavailable")

	assert.Same(t, before, store.Load(context.Background()))
}
