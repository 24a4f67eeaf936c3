package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mathbot/backend/internal/model/chat"
)

// newTestSQLStore requires POSTGRES_TEST_DSN pointing at a disposable database.
func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	store, err := OpenPostgres(dsn, time.Minute)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStoreContract(t *testing.T) {
	runStoreContract(t, newTestSQLStore(t))
}

func TestSQLStorePurgeExpired(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()
	token := uniqueToken(t)

	_, err := store.Create(ctx, chat.State{Email: "purge@example.com", Token: token})
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))

	store.now = time.Now
	_, err = store.FindByToken(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}
