package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepository подключается к базе из TEST_DATABASE_URI и пропускает тест без неё.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRecentAccounts(t *testing.T) {
	repo := newTestRepository(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	operator := "op-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_, _ = repo.pool.Exec(context.Background(), `DELETE FROM recent_accounts WHERE operator = $1`, operator)
	})

	for i := 0; i < 12; i++ {
		require.NoError(t, repo.TouchRecentAccount(ctx, operator, fmt.Sprintf("acc-%02d", i)))
	}
	require.NoError(t, repo.TouchRecentAccount(ctx, operator, "acc-05"))

	got, err := repo.RecentAccounts(ctx, operator)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"acc-05", "acc-11", "acc-10", "acc-09", "acc-08",
		"acc-07", "acc-06", "acc-04", "acc-03", "acc-02",
	}, got)

	other, err := repo.RecentAccounts(ctx, operator+"-other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRecentAccounts_TrimsEvicted(t *testing.T) {
	repo := newTestRepository(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	operator := "op-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_, _ = repo.pool.Exec(context.Background(), `DELETE FROM recent_accounts WHERE operator = $1`, operator)
	})

	for i := 0; i < RecentAccountsLimit+3; i++ {
		require.NoError(t, repo.TouchRecentAccount(ctx, operator, fmt.Sprintf("acc-%02d", i)))
	}

	var stored int
	require.NoError(t, repo.pool.QueryRow(ctx,
		`SELECT count(*) FROM recent_accounts WHERE operator = $1`, operator,
	).Scan(&stored))
	assert.Equal(t, RecentAccountsLimit, stored)
}
