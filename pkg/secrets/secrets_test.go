package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_TTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_BustAndCleanup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("a", 1)
	c.Put("b", 2)
	c.Bust("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	now = now.Add(time.Hour)
	c.sweep()
	assert.Equal(t, 0, c.Len())
}

func TestCache_UnknownKeysExpireSooner(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache[string](time.Hour, WithMissTTL(10*time.Second))
	c.now = func() time.Time { return now }

	c.PutUnknown("bad")
	assert.True(t, c.Unknown("bad"))
	_, ok := c.Get("bad")
	assert.False(t, ok)

	c.Put("good", "desk-1")
	assert.False(t, c.Unknown("good"))

	now = now.Add(time.Minute)
	assert.False(t, c.Unknown("bad"))
	v, ok := c.Get("good")
	require.True(t, ok)
	assert.Equal(t, "desk-1", v)
}

func TestCache_MissTTLDisabled(t *testing.T) {
	c := NewCache[string](time.Hour, WithMissTTL(0))
	c.PutUnknown("bad")
	assert.False(t, c.Unknown("bad"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_CapacityEvictsLeastRecent(t *testing.T) {
	c := NewCache[int](time.Hour, WithCapacity(2))
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider()
	p.Put("marketplace/api-keys/b", map[string]string{"address": "0x1"})
	p.Put("marketplace/api-keys/a", map[string]string{"address": "0x2"})
	p.Put("other/x", map[string]string{})

	got, err := p.GetSecret(context.Background(), "marketplace/api-keys/a")
	require.NoError(t, err)
	got["address"] = "mutated"
	again, _ := p.GetSecret(context.Background(), "marketplace/api-keys/a")
	assert.Equal(t, "0x2", again["address"])

	_, err = p.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	names, err := p.ListSecrets(context.Background(), "marketplace/")
	require.NoError(t, err)
	assert.Equal(t, []string{"marketplace/api-keys/a", "marketplace/api-keys/b"}, names)
}
