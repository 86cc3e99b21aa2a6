package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnidesk-triage/internal/core/domain"
)

func TestMemorySessionStore_GetUnknownSession(t *testing.T) {
	store := NewMemorySessionStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMemorySessionStore_MutateCreatesLazily(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	sess, err := store.Mutate(ctx, "sess-1", func(s *domain.Session) {
		s.InteractionCount++
	})
	require.NoError(t, err)

	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, 1, sess.InteractionCount)
	assert.True(t, sess.Active)
	assert.Equal(t, domain.AuthNone, sess.AuthStatus)
}

func TestMemorySessionStore_CopySemantics(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	first, err := store.Mutate(ctx, "sess-1", func(s *domain.Session) {
		s.TopicsDiscussed = append(s.TopicsDiscussed, "claim_inquiry")
	})
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the stored session.
	first.TopicsDiscussed[0] = "tampered"
	first.InteractionCount = 99

	stored, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"claim_inquiry"}, stored.TopicsDiscussed)
	assert.Zero(t, stored.InteractionCount)
}

func TestMemorySessionStore_ConcurrentMutationsSerialize(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, "sess-1", func(s *domain.Session) {
				s.InteractionCount++
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, workers, sess.InteractionCount)
}

func TestMemorySessionStore_Deactivate(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	_, err := store.Mutate(ctx, "sess-1", func(s *domain.Session) {})
	require.NoError(t, err)

	require.NoError(t, store.Deactivate(ctx, "sess-1"))

	sess, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, sess.Active)

	// Deactivation keeps the record around; it is never hard-deleted.
	_, err = store.Mutate(ctx, "sess-1", func(s *domain.Session) {})
	assert.NoError(t, err)

	assert.ErrorIs(t, store.Deactivate(ctx, "ghost"), domain.ErrSessionNotFound)
}
