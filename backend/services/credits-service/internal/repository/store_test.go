package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libdb "storyforge/backend/libs/db"
	"storyforge/backend/services/credits-service/internal/migrations"
	"storyforge/backend/services/credits-service/internal/models"
	"storyforge/backend/services/credits-service/internal/repository"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) repository.Store {
	t.Helper()
	db, err := libdb.NewSQLiteDB(filepath.Join(t.TempDir(), "credits.db"))
	require.NoError(t, err)
	require.NoError(t, migrations.Up(db, migrations.DialectSQLite))
	store := repository.NewSQLiteStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) repository.Store { return repository.NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func defaultAccount(userID string) models.CreditAccount {
	return models.CreditAccount{
		UserID:                 userID,
		Tier:                   models.TierFree,
		MonthlyCreditsPerCycle: 5,
		CycleStartAt:           base,
		CycleEndAt:             base.AddDate(0, 1, 0),
		CreatedAt:              base,
		UpdatedAt:              base,
	}
}

func entry(userID, requestID string, typ models.TransactionType, at time.Time) models.CreditTransaction {
	return models.CreditTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		RequestID:     requestID,
		Type:          typ,
		Pool:          models.PoolMonthly,
		Amount:        -1,
		MonthlyAmount: 1,
		Metadata:      models.Metadata{Kind: typ},
		CreatedAt:     at,
	}
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) repository.Store) {
	ctx := context.Background()

	t.Run("ensure is idempotent", func(t *testing.T) {
		store := newStore(t)
		acct, created, err := store.EnsureAccount(ctx, defaultAccount("u1"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(5), acct.MonthlyCreditsPerCycle)

		other := defaultAccount("u1")
		other.MonthlyCreditsPerCycle = 500
		acct, created, err = store.EnsureAccount(ctx, other)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(5), acct.MonthlyCreditsPerCycle)
		assert.True(t, acct.CycleStartAt.Equal(base))
	})

	t.Run("missing account", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetAccount(ctx, "nobody")
		assert.ErrorIs(t, err, repository.ErrNotFound)

		err = store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			_, err := tx.LockAccount(ctx, "nobody")
			return err
		})
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("unit commits account and log together", func(t *testing.T) {
		store := newStore(t)
		_, _, err := store.EnsureAccount(ctx, defaultAccount("u1"))
		require.NoError(t, err)
		req := uuid.NewString()

		err = store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			acct, err := tx.LockAccount(ctx, "u1")
			if err != nil {
				return err
			}
			acct.ReservedMonthly = 1
			if err := tx.SaveAccount(ctx, acct); err != nil {
				return err
			}
			return tx.AppendTransaction(ctx, entry("u1", req, models.TxReservation, base))
		})
		require.NoError(t, err)

		acct, err := store.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), acct.ReservedMonthly)

		history, err := store.RequestHistory(ctx, "u1", req)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, models.TxReservation, history[0].Type)
		assert.Equal(t, models.PoolMonthly, history[0].Pool)
		assert.Equal(t, models.TxReservation, history[0].Metadata.Kind)
	})

	t.Run("failed unit rolls back", func(t *testing.T) {
		store := newStore(t)
		_, _, err := store.EnsureAccount(ctx, defaultAccount("u1"))
		require.NoError(t, err)
		req := uuid.NewString()
		boom := errors.New("boom")

		err = store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			acct, err := tx.LockAccount(ctx, "u1")
			if err != nil {
				return err
			}
			acct.MonthlyCreditsUsed = 3
			if err := tx.SaveAccount(ctx, acct); err != nil {
				return err
			}
			if err := tx.AppendTransaction(ctx, entry("u1", req, models.TxReservation, base)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		acct, err := store.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, acct.MonthlyCreditsUsed)
		history, err := store.RequestHistory(ctx, "u1", req)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("terminal entries are unique per request", func(t *testing.T) {
		store := newStore(t)
		_, _, err := store.EnsureAccount(ctx, defaultAccount("u1"))
		require.NoError(t, err)
		req := uuid.NewString()

		insert := func(e models.CreditTransaction) error {
			return store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				return tx.AppendTransaction(ctx, e)
			})
		}
		require.NoError(t, insert(entry("u1", req, models.TxCommit, base)))
		assert.ErrorIs(t, insert(entry("u1", req, models.TxCommit, base)), repository.ErrDuplicate)

		forfeit := entry("u1", "", models.TxUsage, base)
		require.NoError(t, insert(forfeit))
		forfeit.ID = uuid.NewString()
		require.NoError(t, insert(forfeit))
	})

	t.Run("list is newest first and limited", func(t *testing.T) {
		store := newStore(t)
		_, _, err := store.EnsureAccount(ctx, defaultAccount("u1"))
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			e := entry("u1", uuid.NewString(), models.TxReservation, base.Add(time.Duration(i)*time.Minute))
			e.Description = string(rune('a' + i))
			require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				return tx.AppendTransaction(ctx, e)
			}))
		}

		txs, err := store.ListTransactions(ctx, "u1", 3)
		require.NoError(t, err)
		require.Len(t, txs, 3)
		assert.Equal(t, "e", txs[0].Description)
		assert.Equal(t, "c", txs[2].Description)

		txs, err = store.ListTransactions(ctx, "someone-else", 0)
		require.NoError(t, err)
		assert.Empty(t, txs)
	})

	t.Run("stale reservations skip closed requests", func(t *testing.T) {
		store := newStore(t)
		_, _, err := store.EnsureAccount(ctx, defaultAccount("u1"))
		require.NoError(t, err)
		open, closed, fresh := uuid.NewString(), uuid.NewString(), uuid.NewString()

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			for _, e := range []models.CreditTransaction{
				entry("u1", open, models.TxReservation, base),
				entry("u1", closed, models.TxReservation, base),
				entry("u1", closed, models.TxCommit, base.Add(time.Second)),
				entry("u1", fresh, models.TxReservation, base.Add(time.Hour)),
			} {
				if err := tx.AppendTransaction(ctx, e); err != nil {
					return err
				}
			}
			return nil
		}))

		stale, err := store.StaleReservations(ctx, base.Add(30*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, open, stale[0].RequestID)
	})

	t.Run("admin adjustment lookup", func(t *testing.T) {
		store := newStore(t)
		_, _, err := store.EnsureAccount(ctx, defaultAccount("u1"))
		require.NoError(t, err)
		req := uuid.NewString()

		var found *models.CreditTransaction
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			if found, err = tx.FindAdminAdjustment(ctx, "u1", req); err != nil {
				return err
			}
			adj := entry("u1", req, models.TxAdminAdjustment, base)
			adj.Metadata = models.Metadata{Kind: models.TxAdminAdjustment, Admin: &models.AdminMetadata{ActorID: "ops", Reason: "promo"}}
			return tx.AppendTransaction(ctx, adj)
		}))
		assert.Nil(t, found)

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			found, err = tx.FindAdminAdjustment(ctx, "u1", req)
			return err
		}))
		require.NotNil(t, found)
		require.NotNil(t, found.Metadata.Admin)
		assert.Equal(t, "ops", found.Metadata.Admin.ActorID)
	})
}
