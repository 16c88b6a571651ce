// ABOUTME: Tests for the ristretto-backed destination cache
// ABOUTME: Verifies read-through hits and invalidation on update and delete

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedStore_ReadThrough(t *testing.T) {
	inner := NewMockStore()
	now := time.Now()
	require.NoError(t, inner.CreateDestination(t.Context(), &Destination{ID: "d1", ConnectionString: "postgres://a", CreatedAt: now, UpdatedAt: now}))

	cached, err := NewCachedStore(inner, time.Minute)
	require.NoError(t, err)
	defer cached.Close()

	for range 3 {
		d, err := cached.GetDestination(t.Context(), "d1")
		require.NoError(t, err)
		assert.Equal(t, "postgres://a", d.ConnectionString)
	}
	assert.Equal(t, 1, inner.GetDestinationCalls)
}

func TestCachedStore_InvalidatesOnWrite(t *testing.T) {
	inner := NewMockStore()
	now := time.Now()
	require.NoError(t, inner.CreateDestination(t.Context(), &Destination{ID: "d1", ConnectionString: "postgres://a", CreatedAt: now, UpdatedAt: now}))

	cached, err := NewCachedStore(inner, time.Minute)
	require.NoError(t, err)
	defer cached.Close()

	_, err = cached.GetDestination(t.Context(), "d1")
	require.NoError(t, err)

	require.NoError(t, cached.UpdateDestination(t.Context(), &Destination{ID: "d1", ConnectionString: "postgres://b", UpdatedAt: now}))
	d, err := cached.GetDestination(t.Context(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "postgres://b", d.ConnectionString)

	require.NoError(t, cached.DeleteDestination(t.Context(), "d1"))
	_, err = cached.GetDestination(t.Context(), "d1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStore_MissIsNotCached(t *testing.T) {
	inner := NewMockStore()
	cached, err := NewCachedStore(inner, 0)
	require.NoError(t, err)
	defer cached.Close()

	_, err = cached.GetDestination(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cached.GetDestination(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, inner.GetDestinationCalls)
}
