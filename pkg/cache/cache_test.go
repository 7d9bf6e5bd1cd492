package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/cache"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	m := cache.NewMemory().WithClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Delete(ctx, "k"))
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestMemory_ZeroTTLNotStored(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemory()

	type quote struct {
		Area  string `json:"area"`
		Price string `json:"price"`
	}
	require.NoError(t, cache.SetJSON(ctx, m, "q", quote{Area: "soho", Price: "99.00"}, time.Minute))

	var got quote
	require.NoError(t, cache.GetJSON(ctx, m, "q", &got))
	assert.Equal(t, "soho", got.Area)
	assert.Equal(t, "99.00", got.Price)

	assert.ErrorIs(t, cache.GetJSON(ctx, m, "missing", &got), cache.ErrNotFound)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c cache.Cache = cache.Nop{}

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("HPG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HPG_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	r, err := cache.NewRedis(ctx, addr, "", 0, "hpg-test:"+uuid.NewString()+":")
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, r.Delete(ctx, "k"))
	_, err = r.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}
