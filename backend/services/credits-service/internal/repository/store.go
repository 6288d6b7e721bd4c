package repository

import (
	"context"
	"errors"
	"time"

	"storyforge/backend/services/credits-service/internal/models"
)

var (
	// ErrNotFound is returned when an account row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate is returned when a transaction violates the
	// (user_id, request_id, transaction_type) uniqueness rule.
	ErrDuplicate = errors.New("repository: duplicate transaction")
)

// Store is the backing store of the credit ledger.
type Store interface {
	// EnsureAccount inserts def unless a row for def.UserID exists and returns
	// the stored row. created reports whether this call inserted it.
	EnsureAccount(ctx context.Context, def models.CreditAccount) (acct models.CreditAccount, created bool, err error)
	GetAccount(ctx context.Context, userID string) (models.CreditAccount, error)
	// ListTransactions returns the newest entries first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
	// RequestHistory returns every entry for the request, oldest first.
	RequestHistory(ctx context.Context, userID, requestID string) ([]models.CreditTransaction, error)
	// StaleReservations returns reservation entries created before cutoff that
	// have neither a commit nor a release, oldest first.
	StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]models.CreditTransaction, error)
	// WithinTx runs fn in one atomic unit. A non-nil error from fn rolls back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the view of the store inside WithinTx.
type Tx interface {
	// LockAccount reads the account and holds its row lock until the unit ends.
	LockAccount(ctx context.Context, userID string) (models.CreditAccount, error)
	SaveAccount(ctx context.Context, acct models.CreditAccount) error
	RequestHistory(ctx context.Context, userID, requestID string) ([]models.CreditTransaction, error)
	// FindAdminAdjustment returns nil when no adjustment uses requestID.
	FindAdminAdjustment(ctx context.Context, userID, requestID string) (*models.CreditTransaction, error)
	AppendTransaction(ctx context.Context, tx models.CreditTransaction) error
}

// uniqueTypes are the entry types limited to one per request.
var uniqueTypes = map[models.TransactionType]bool{
	models.TxReservation: true,
	models.TxCommit:      true,
	models.TxRelease:     true,
	models.TxRefund:      true,
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)
