// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"mines-wager-bot/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL container, applies the schema and returns a pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, Migrate(ctx, pool))
	// Second run must be a no-op.
	require.NoError(t, Migrate(ctx, pool))

	t.Cleanup(func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	})

	return pool
}

func newAccount(id, balance int64) *model.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Account{
		ID:             id,
		Username:       "user",
		Balance:        balance,
		OwnedCosmetics: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPostgresStore_CommitAndLoad(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	a := newAccount(1, 100)
	b := newAccount(2, 250)
	claimed := time.Now().UTC().Truncate(time.Microsecond)
	b.LastDailyClaim = &claimed
	b.OwnedCosmetics = []string{"neon"}
	b.SelectedCosmetic = "neon"

	err := store.Commit(ctx, []*model.Account{a, b}, []model.Transaction{
		{AccountID: 1, Amount: 100, Type: model.TxTypeInitial, CreatedAt: a.CreatedAt},
		{AccountID: 2, Amount: 250, Type: model.TxTypeInitial, CreatedAt: b.CreatedAt},
	})
	require.NoError(t, err)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Accounts, 2)

	got := snap.Accounts["2"]
	require.NotNil(t, got)
	assert.Equal(t, int64(250), got.Balance)
	require.NotNil(t, got.LastDailyClaim)
	assert.True(t, claimed.Equal(*got.LastDailyClaim))
	assert.Nil(t, got.LastWeeklyClaim)
	assert.Equal(t, []string{"neon"}, got.OwnedCosmetics)
	assert.Equal(t, "neon", got.SelectedCosmetic)

	hist, err := store.History(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, int64(250), hist[0].Amount)
}

func TestPostgresStore_CommitIsAtomic(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, []*model.Account{newAccount(1, 100)}, nil))

	// The negative balance violates the CHECK constraint; account 3 must not be written either.
	bad := newAccount(1, -5)
	err := store.Commit(ctx, []*model.Account{newAccount(3, 10), bad}, nil)
	require.Error(t, err)

	_, err = store.GetByID(ctx, 3)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	acc, err := store.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)
}

func TestPostgresStore_AddChat(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, store.AddChat(ctx, -100))
	require.NoError(t, store.AddChat(ctx, -100))
	require.NoError(t, store.AddChat(ctx, -200))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{-100, -200}, snap.Chats)
}
