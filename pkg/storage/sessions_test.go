package storage

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	store, err := NewMemorySessionStore(time.Minute)
	require.NoError(t, err)
	defer store.Close()

	session := &LoginSession{
		ID:             "session-1",
		AuthorityIndex: 1,
		PK:             "abcd",
		T:              []byte{1, 2, 3},
		C:              []byte{4, 5, 6},
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		require.NoError(t, store.CreateSession(session))

		got, err := store.GetSession("session-1")
		require.NoError(t, err)
		assert.Equal(t, 1, got.AuthorityIndex)
		assert.Equal(t, []byte{1, 2, 3}, got.T)
		assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Second)
		assert.Equal(t, 1, store.Count())
	})

	t.Run("CopiesAreIndependent", func(t *testing.T) {
		got, err := store.GetSession("session-1")
		require.NoError(t, err)
		got.Used = true

		again, err := store.GetSession("session-1")
		require.NoError(t, err)
		assert.False(t, again.Used)
	})

	t.Run("MarkUsedOnce", func(t *testing.T) {
		require.NoError(t, store.MarkSessionUsed("session-1"))
		assert.True(t, errors.Is(store.MarkSessionUsed("session-1"), ErrSessionUsed))

		got, err := store.GetSession("session-1")
		require.NoError(t, err)
		assert.True(t, got.Used)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.GetSession("nope")
		assert.True(t, errors.Is(err, ErrSessionNotFound))
		assert.True(t, errors.Is(store.MarkSessionUsed("nope"), ErrSessionNotFound))
	})

	t.Run("RequiresID", func(t *testing.T) {
		assert.Error(t, store.CreateSession(&LoginSession{}))
		assert.Error(t, store.CreateSession(nil))
	})
}

func TestMemorySessionStoreExpiry(t *testing.T) {
	store, err := NewMemorySessionStore(50 * time.Millisecond)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateSession(&LoginSession{ID: "short"}))

	assert.Eventually(t, func() bool {
		_, err := store.GetSession("short")
		return errors.Is(err, ErrSessionNotFound)
	}, 2*time.Second, 20*time.Millisecond)
}
