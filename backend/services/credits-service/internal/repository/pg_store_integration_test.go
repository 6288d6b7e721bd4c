//go:build integration

package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	libdb "storyforge/backend/libs/db"
	"storyforge/backend/services/credits-service/internal/migrations"
	"storyforge/backend/services/credits-service/internal/repository"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./...
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	runStoreSuite(t, func(t *testing.T) repository.Store {
		ctx := context.Background()
		sqlDB, err := libdb.NewPostgresDB(dsn)
		require.NoError(t, err)
		require.NoError(t, migrations.Up(sqlDB, migrations.DialectPostgres))
		_, err = sqlDB.ExecContext(ctx, `TRUNCATE credit_transactions, credit_accounts`)
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		pool, err := libdb.NewPostgresPool(ctx, dsn)
		require.NoError(t, err)
		store := repository.NewPostgresStore(pool)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
