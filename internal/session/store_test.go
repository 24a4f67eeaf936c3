package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mathbot/backend/internal/model/chat"
)

var tokenSeq atomic.Int64

// uniqueToken keeps tokens distinct across runs against shared backends.
func uniqueToken(t *testing.T) string {
	t.Helper()
	return chat.NewToken(fmt.Sprintf("test_%d@example.com", tokenSeq.Add(1)))
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("CreateThenFind", func(t *testing.T) {
		token := uniqueToken(t)
		created, err := store.Create(ctx, chat.State{Email: "a@example.com", Token: token})
		require.NoError(t, err)
		require.NotEmpty(t, created.Key)
		assert.True(t, created.ExpiresAt.After(created.CreatedAt))
		t.Cleanup(func() { _ = store.Delete(ctx, created.Key) })

		found, err := store.FindByToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, created.Key, found.Key)
		assert.Equal(t, "a@example.com", found.State.Email)
		assert.Equal(t, token, found.State.Token)
		assert.Empty(t, found.State.History)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		_, err := store.FindByToken(ctx, "nobody@example.com_deadbeef")
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("SavePersistsHistory", func(t *testing.T) {
		token := uniqueToken(t)
		sess, err := store.Create(ctx, chat.State{Email: "b@example.com", Token: token})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Delete(ctx, sess.Key) })

		sess.State.History = sess.State.History.Append("2+2?", "4")
		require.NoError(t, store.Save(ctx, sess))

		found, err := store.FindByToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, chat.History{chat.HumanTurn("2+2?"), chat.AITurn("4")}, found.State.History)
		assert.WithinDuration(t, sess.ExpiresAt, found.ExpiresAt, time.Second)
	})

	t.Run("SaveMissingSession", func(t *testing.T) {
		err := store.Save(ctx, chat.Session{Key: "missing", State: chat.State{Token: uniqueToken(t)}})
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("DeleteRemovesTokenIndex", func(t *testing.T) {
		token := uniqueToken(t)
		sess, err := store.Create(ctx, chat.State{Email: "c@example.com", Token: token})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, sess.Key))
		_, err = store.FindByToken(ctx, token)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("DuplicateTokenRejected", func(t *testing.T) {
		token := uniqueToken(t)
		sess, err := store.Create(ctx, chat.State{Email: "d@example.com", Token: token})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Delete(ctx, sess.Key) })

		_, err = store.Create(ctx, chat.State{Email: "d@example.com", Token: token})
		assert.Error(t, err)
	})
}
