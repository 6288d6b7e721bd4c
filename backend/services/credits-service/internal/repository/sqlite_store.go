package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"storyforge/backend/services/credits-service/internal/models"
)

const sqliteTxColumns = `id, user_id, COALESCE(request_id, ''), transaction_type, COALESCE(pool, ''),
	amount, monthly_amount, bonus_amount, remaining_monthly_after, remaining_bonus_after,
	description, metadata, created_at`

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore persists the ledger in a SQLite file. The handle is expected to
// allow a single open connection, which serializes every unit.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open handle created by libs/db.NewSQLiteDB.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) EnsureAccount(ctx context.Context, def models.CreditAccount) (models.CreditAccount, bool, error) {
	const insert = `
		INSERT INTO credit_accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, insert,
		def.UserID, string(def.Tier), def.MonthlyCreditsPerCycle, def.MonthlyCreditsUsed, def.ReservedMonthly,
		def.BonusCreditsTotal, def.BonusCreditsUsed, def.ReservedBonus,
		toMicros(def.CycleStartAt), toMicros(def.CycleEndAt), toMicros(def.CreatedAt), toMicros(def.UpdatedAt),
	)
	if err != nil {
		return models.CreditAccount{}, false, fmt.Errorf("repository: ensure account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.CreditAccount{}, false, fmt.Errorf("repository: ensure account: %w", err)
	}
	acct, err := sqliteGetAccount(ctx, s.db, def.UserID)
	if err != nil {
		return models.CreditAccount{}, false, err
	}
	return acct, affected == 1, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (models.CreditAccount, error) {
	return sqliteGetAccount(ctx, s.db, userID)
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	query := `SELECT ` + sqliteTxColumns + ` FROM credit_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`
	return sqliteQueryTransactions(ctx, s.db, query, userID, clampLimit(limit, defaultListLimit, maxListLimit))
}

func (s *SQLiteStore) RequestHistory(ctx context.Context, userID, requestID string) ([]models.CreditTransaction, error) {
	return sqliteRequestHistory(ctx, s.db, userID, requestID)
}

func (s *SQLiteStore) StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]models.CreditTransaction, error) {
	query := `SELECT ` + sqliteTxColumns + ` FROM credit_transactions r
		WHERE r.transaction_type = 'reservation'
		  AND r.created_at < ?
		  AND NOT EXISTS (
			SELECT 1 FROM credit_transactions t
			WHERE t.user_id = r.user_id
			  AND t.request_id = r.request_id
			  AND t.transaction_type IN ('commit', 'release')
		  )
		ORDER BY r.created_at, r.rowid
		LIMIT ?`
	return sqliteQueryTransactions(ctx, s.db, query, toMicros(cutoff), clampLimit(limit, defaultListLimit, maxListLimit))
}

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &sqliteTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

// LockAccount relies on the single connection for exclusivity.
func (t *sqliteTx) LockAccount(ctx context.Context, userID string) (models.CreditAccount, error) {
	return sqliteGetAccount(ctx, t.tx, userID)
}

func (t *sqliteTx) SaveAccount(ctx context.Context, acct models.CreditAccount) error {
	const update = `
		UPDATE credit_accounts SET
			tier = ?,
			monthly_credits_per_cycle = ?,
			monthly_credits_used = ?,
			reserved_monthly = ?,
			bonus_credits_total = ?,
			bonus_credits_used = ?,
			reserved_bonus = ?,
			cycle_start_at = ?,
			cycle_end_at = ?,
			updated_at = ?
		WHERE user_id = ?
	`
	res, err := t.tx.ExecContext(ctx, update,
		string(acct.Tier), acct.MonthlyCreditsPerCycle, acct.MonthlyCreditsUsed, acct.ReservedMonthly,
		acct.BonusCreditsTotal, acct.BonusCreditsUsed, acct.ReservedBonus,
		toMicros(acct.CycleStartAt), toMicros(acct.CycleEndAt), toMicros(acct.UpdatedAt),
		acct.UserID,
	)
	if err != nil {
		return fmt.Errorf("repository: save account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) RequestHistory(ctx context.Context, userID, requestID string) ([]models.CreditTransaction, error) {
	return sqliteRequestHistory(ctx, t.tx, userID, requestID)
}

func (t *sqliteTx) FindAdminAdjustment(ctx context.Context, userID, requestID string) (*models.CreditTransaction, error) {
	query := `SELECT ` + sqliteTxColumns + ` FROM credit_transactions
		WHERE user_id = ? AND request_id = ? AND transaction_type = 'admin_adjustment'
		ORDER BY created_at
		LIMIT 1`
	txs, err := sqliteQueryTransactions(ctx, t.tx, query, userID, requestID)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

func (t *sqliteTx) AppendTransaction(ctx context.Context, entry models.CreditTransaction) error {
	meta, err := entry.Metadata.Marshal()
	if err != nil {
		return err
	}
	const insert = `
		INSERT INTO credit_transactions (
			id, user_id, request_id, transaction_type, pool, amount, monthly_amount, bonus_amount,
			remaining_monthly_after, remaining_bonus_after, description, metadata, created_at
		) VALUES (?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = t.tx.ExecContext(ctx, insert,
		entry.ID, entry.UserID, entry.RequestID, string(entry.Type), string(entry.Pool),
		entry.Amount, entry.MonthlyAmount, entry.BonusAmount,
		entry.RemainingMonthlyAfter, entry.RemainingBonusAfter,
		entry.Description, string(meta), toMicros(entry.CreatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("repository: append transaction: %w", err)
	}
	return nil
}

func sqliteGetAccount(ctx context.Context, q sqlQuerier, userID string) (models.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE user_id = ?`
	var (
		acct                                       models.CreditAccount
		tier                                       string
		cycleStart, cycleEnd, createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, query, userID).Scan(
		&acct.UserID, &tier, &acct.MonthlyCreditsPerCycle, &acct.MonthlyCreditsUsed, &acct.ReservedMonthly,
		&acct.BonusCreditsTotal, &acct.BonusCreditsUsed, &acct.ReservedBonus,
		&cycleStart, &cycleEnd, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CreditAccount{}, ErrNotFound
	}
	if err != nil {
		return models.CreditAccount{}, fmt.Errorf("repository: get account: %w", err)
	}
	acct.Tier = models.Tier(tier)
	acct.CycleStartAt = fromMicros(cycleStart)
	acct.CycleEndAt = fromMicros(cycleEnd)
	acct.CreatedAt = fromMicros(createdAt)
	acct.UpdatedAt = fromMicros(updatedAt)
	return acct, nil
}

func sqliteRequestHistory(ctx context.Context, q sqlQuerier, userID, requestID string) ([]models.CreditTransaction, error) {
	query := `SELECT ` + sqliteTxColumns + ` FROM credit_transactions
		WHERE user_id = ? AND request_id = ?
		ORDER BY created_at, rowid`
	return sqliteQueryTransactions(ctx, q, query, userID, requestID)
}

func sqliteQueryTransactions(ctx context.Context, q sqlQuerier, query string, args ...any) ([]models.CreditTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CreditTransaction
	for rows.Next() {
		var (
			tx        models.CreditTransaction
			txType    string
			pool      string
			metadata  string
			createdAt int64
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.RequestID, &txType, &pool,
			&tx.Amount, &tx.MonthlyAmount, &tx.BonusAmount,
			&tx.RemainingMonthlyAfter, &tx.RemainingBonusAfter,
			&tx.Description, &metadata, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("repository: scan transaction: %w", err)
		}
		tx.Type = models.TransactionType(txType)
		tx.Pool = models.Pool(pool)
		tx.CreatedAt = fromMicros(createdAt)
		if tx.Metadata, err = models.UnmarshalMetadata([]byte(metadata)); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate transactions: %w", err)
	}
	return txs, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
