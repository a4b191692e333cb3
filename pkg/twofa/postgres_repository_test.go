package twofa

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithInitScripts(filepath.Join("../../migrations", "flux_auth_db.sql")),
		postgres.WithDatabase("flux_auth_db"),
		postgres.WithUsername("flux"),
		postgres.WithPassword("pwd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err)

	connString, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	poolConfig, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return pool
}

func TestPostgresRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	pool := setupTestDatabase(t)
	repo := NewPostgresTwoFARepository(pool)
	ctx := context.Background()

	t.Run("GetByUserID not found", func(t *testing.T) {
		_, err := repo.GetByUserID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("pending secret upsert", func(t *testing.T) {
		userID := uuid.New()

		require.NoError(t, repo.SetPendingSecret(ctx, SetPendingSecretParams{UserID: userID, Secret: "first"}))

		record, err := repo.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "first", record.TotpSecret)
		assert.True(t, record.SecretValid)
		assert.False(t, record.TotpEnabled)
		assert.False(t, record.EnabledAtValid)

		require.NoError(t, repo.SetPendingSecret(ctx, SetPendingSecretParams{UserID: userID, Secret: "second"}))

		record, err = repo.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "second", record.TotpSecret)
	})

	t.Run("enable and disable", func(t *testing.T) {
		userID := uuid.New()

		err := repo.Enable(ctx, EnableParams{UserID: userID, BackupCodes: []string{"a"}, EnabledAt: time.Now().UTC()})
		assert.ErrorIs(t, err, ErrRecordNotFound)

		require.NoError(t, repo.SetPendingSecret(ctx, SetPendingSecretParams{UserID: userID, Secret: "secret"}))

		enabledAt := time.Now().UTC()
		require.NoError(t, repo.Enable(ctx, EnableParams{UserID: userID, BackupCodes: []string{"a", "b"}, EnabledAt: enabledAt}))

		record, err := repo.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.True(t, record.TotpEnabled)
		assert.Equal(t, []string{"a", "b"}, record.BackupCodes)
		assert.True(t, record.EnabledAtValid)
		assert.WithinDuration(t, enabledAt, record.EnabledAt, time.Second)

		require.NoError(t, repo.Disable(ctx, userID))

		record, err = repo.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.False(t, record.TotpEnabled)
		assert.False(t, record.SecretValid)
		assert.Empty(t, record.BackupCodes)
		assert.False(t, record.EnabledAtValid)

		err = repo.Disable(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("consume backup code", func(t *testing.T) {
		userID := uuid.New()

		require.NoError(t, repo.SetPendingSecret(ctx, SetPendingSecretParams{UserID: userID, Secret: "secret"}))
		require.NoError(t, repo.Enable(ctx, EnableParams{UserID: userID, BackupCodes: []string{"a", "b", "c"}, EnabledAt: time.Now().UTC()}))

		consumed, err := repo.ConsumeBackupCode(ctx, userID, "b")
		require.NoError(t, err)
		assert.True(t, consumed)

		consumed, err = repo.ConsumeBackupCode(ctx, userID, "b")
		require.NoError(t, err)
		assert.False(t, consumed)

		record, err := repo.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "c"}, record.BackupCodes)
	})

	t.Run("consume backup code race", func(t *testing.T) {
		userID := uuid.New()

		require.NoError(t, repo.SetPendingSecret(ctx, SetPendingSecretParams{UserID: userID, Secret: "secret"}))
		require.NoError(t, repo.Enable(ctx, EnableParams{UserID: userID, BackupCodes: []string{"only"}, EnabledAt: time.Now().UTC()}))

		const attempts = 8
		results := make([]bool, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				consumed, err := repo.ConsumeBackupCode(ctx, userID, "only")
				assert.NoError(t, err)
				results[i] = consumed
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, consumed := range results {
			if consumed {
				wins++
			}
		}
		assert.Equal(t, 1, wins)
	})
}
