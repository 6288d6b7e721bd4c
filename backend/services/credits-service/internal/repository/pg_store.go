package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyforge/backend/services/credits-service/internal/models"
)

const pgUniqueViolation = "23505"

const accountColumns = `user_id, tier, monthly_credits_per_cycle, monthly_credits_used, reserved_monthly,
	bonus_credits_total, bonus_credits_used, reserved_bonus, cycle_start_at, cycle_end_at, created_at, updated_at`

const pgTxColumns = `id::text, user_id, COALESCE(request_id::text, ''), transaction_type, COALESCE(pool, ''),
	amount, monthly_amount, bonus_amount, remaining_monthly_after, remaining_bonus_after,
	description, metadata, created_at`

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the ledger in Postgres. Account rows are locked with
// SELECT ... FOR UPDATE for the duration of a unit.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, def models.CreditAccount) (models.CreditAccount, bool, error) {
	const insert = `
		INSERT INTO credit_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, insert,
		def.UserID, string(def.Tier), def.MonthlyCreditsPerCycle, def.MonthlyCreditsUsed, def.ReservedMonthly,
		def.BonusCreditsTotal, def.BonusCreditsUsed, def.ReservedBonus,
		def.CycleStartAt, def.CycleEndAt, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return models.CreditAccount{}, false, fmt.Errorf("repository: ensure account: %w", err)
	}
	acct, err := pgGetAccount(ctx, s.pool, def.UserID, false)
	if err != nil {
		return models.CreditAccount{}, false, err
	}
	return acct, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (models.CreditAccount, error) {
	return pgGetAccount(ctx, s.pool, userID, false)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	query := `SELECT ` + pgTxColumns + ` FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	return pgQueryTransactions(ctx, s.pool, query, userID, clampLimit(limit, defaultListLimit, maxListLimit))
}

func (s *PostgresStore) RequestHistory(ctx context.Context, userID, requestID string) ([]models.CreditTransaction, error) {
	return pgRequestHistory(ctx, s.pool, userID, requestID)
}

func (s *PostgresStore) StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]models.CreditTransaction, error) {
	query := `SELECT ` + pgTxColumns + ` FROM credit_transactions r
		WHERE r.transaction_type = 'reservation'
		  AND r.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM credit_transactions t
			WHERE t.user_id = r.user_id
			  AND t.request_id = r.request_id
			  AND t.transaction_type IN ('commit', 'release')
		  )
		ORDER BY r.created_at
		LIMIT $2`
	return pgQueryTransactions(ctx, s.pool, query, cutoff, clampLimit(limit, defaultListLimit, maxListLimit))
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(ctx, &postgresTx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockAccount(ctx context.Context, userID string) (models.CreditAccount, error) {
	return pgGetAccount(ctx, t.tx, userID, true)
}

func (t *postgresTx) SaveAccount(ctx context.Context, acct models.CreditAccount) error {
	const update = `
		UPDATE credit_accounts SET
			tier = $2,
			monthly_credits_per_cycle = $3,
			monthly_credits_used = $4,
			reserved_monthly = $5,
			bonus_credits_total = $6,
			bonus_credits_used = $7,
			reserved_bonus = $8,
			cycle_start_at = $9,
			cycle_end_at = $10,
			updated_at = $11
		WHERE user_id = $1
	`
	tag, err := t.tx.Exec(ctx, update,
		acct.UserID, string(acct.Tier), acct.MonthlyCreditsPerCycle, acct.MonthlyCreditsUsed, acct.ReservedMonthly,
		acct.BonusCreditsTotal, acct.BonusCreditsUsed, acct.ReservedBonus,
		acct.CycleStartAt, acct.CycleEndAt, acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: save account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) RequestHistory(ctx context.Context, userID, requestID string) ([]models.CreditTransaction, error) {
	return pgRequestHistory(ctx, t.tx, userID, requestID)
}

func (t *postgresTx) FindAdminAdjustment(ctx context.Context, userID, requestID string) (*models.CreditTransaction, error) {
	query := `SELECT ` + pgTxColumns + ` FROM credit_transactions
		WHERE user_id = $1 AND request_id = $2::uuid AND transaction_type = 'admin_adjustment'
		ORDER BY created_at
		LIMIT 1`
	txs, err := pgQueryTransactions(ctx, t.tx, query, userID, requestID)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, entry models.CreditTransaction) error {
	meta, err := entry.Metadata.Marshal()
	if err != nil {
		return err
	}
	const insert = `
		INSERT INTO credit_transactions (
			id, user_id, request_id, transaction_type, pool, amount, monthly_amount, bonus_amount,
			remaining_monthly_after, remaining_bonus_after, description, metadata, created_at
		) VALUES ($1, $2, NULLIF($3, '')::uuid, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = t.tx.Exec(ctx, insert,
		entry.ID, entry.UserID, entry.RequestID, string(entry.Type), string(entry.Pool),
		entry.Amount, entry.MonthlyAmount, entry.BonusAmount,
		entry.RemainingMonthlyAfter, entry.RemainingBonusAfter,
		entry.Description, meta, entry.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("repository: append transaction: %w", err)
	}
	return nil
}

func pgGetAccount(ctx context.Context, q pgQuerier, userID string, forUpdate bool) (models.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		acct models.CreditAccount
		tier string
	)
	err := q.QueryRow(ctx, query, userID).Scan(
		&acct.UserID, &tier, &acct.MonthlyCreditsPerCycle, &acct.MonthlyCreditsUsed, &acct.ReservedMonthly,
		&acct.BonusCreditsTotal, &acct.BonusCreditsUsed, &acct.ReservedBonus,
		&acct.CycleStartAt, &acct.CycleEndAt, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CreditAccount{}, ErrNotFound
	}
	if err != nil {
		return models.CreditAccount{}, fmt.Errorf("repository: get account: %w", err)
	}
	acct.Tier = models.Tier(tier)
	return acct, nil
}

func pgRequestHistory(ctx context.Context, q pgQuerier, userID, requestID string) ([]models.CreditTransaction, error) {
	query := `SELECT ` + pgTxColumns + ` FROM credit_transactions
		WHERE user_id = $1 AND request_id = $2::uuid
		ORDER BY created_at, id`
	return pgQueryTransactions(ctx, q, query, userID, requestID)
}

func pgQueryTransactions(ctx context.Context, q pgQuerier, query string, args ...any) ([]models.CreditTransaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CreditTransaction
	for rows.Next() {
		var (
			tx       models.CreditTransaction
			txType   string
			pool     string
			metadata []byte
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.RequestID, &txType, &pool,
			&tx.Amount, &tx.MonthlyAmount, &tx.BonusAmount,
			&tx.RemainingMonthlyAfter, &tx.RemainingBonusAfter,
			&tx.Description, &metadata, &tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository: scan transaction: %w", err)
		}
		tx.Type = models.TransactionType(txType)
		tx.Pool = models.Pool(pool)
		if tx.Metadata, err = models.UnmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate transactions: %w", err)
	}
	return txs, nil
}
