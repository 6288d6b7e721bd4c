package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
	"storyforge/backend/services/credits-service/internal/repository"
)

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 500
)

// Notifier receives balance changes after they are durably stored.
type Notifier interface {
	Notify(ctx context.Context, ev models.BalanceEvent)
}

// Options configures a Ledger. Zero values fall back to defaults.
type Options struct {
	Tiers       Tiers
	DefaultTier models.Tier
	Period      Period
	Clock       func() time.Time
	Metrics     *Metrics
	Notifier    Notifier
}

// Ledger is the credit reservation ledger. Every mutating operation runs as
// one store unit holding the account row lock.
type Ledger struct {
	store       repository.Store
	tiers       Tiers
	defaultTier models.Tier
	period      Period
	now         func() time.Time
	metrics     *Metrics
	notifier    Notifier
	logger      *zap.Logger
}

// New builds a ledger over store.
func New(store repository.Store, logger *zap.Logger, opts Options) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Tiers == nil {
		opts.Tiers = DefaultTiers()
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = models.TierFree
	}
	if _, err := opts.Tiers.Allowance(opts.DefaultTier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if !opts.Period.valid() {
		opts.Period = MonthlyPeriod
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Ledger{
		store:       store,
		tiers:       opts.Tiers,
		defaultTier: opts.DefaultTier,
		period:      opts.Period,
		now:         opts.Clock,
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
		logger:      logger.Named("ledger"),
	}, nil
}

// Ensure creates the account with tier defaults if it does not exist and
// returns its current status.
func (l *Ledger) Ensure(ctx context.Context, userID string) (models.Status, error) {
	if err := validateUser(userID); err != nil {
		return models.Status{}, err
	}
	created, err := l.ensure(ctx, userID)
	if err != nil {
		return models.Status{}, err
	}
	if created {
		l.logger.Info("credit account created", zap.String("user_id", userID), zap.String("tier", string(l.defaultTier)))
	}
	return l.Status(ctx, userID)
}

// Status returns the balance snapshot, applying a due cycle reset first.
func (l *Ledger) Status(ctx context.Context, userID string) (models.Status, error) {
	if err := validateUser(userID); err != nil {
		return models.Status{}, err
	}
	if _, err := l.ensure(ctx, userID); err != nil {
		return models.Status{}, err
	}

	var status models.Status
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := l.applyCycle(ctx, tx, &acct); err != nil {
			return err
		}
		status = acct.Status()
		return nil
	})
	if err != nil {
		return models.Status{}, l.wrap("status", err)
	}
	return status, nil
}

// Transactions returns the newest log entries for the user.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTransactionsLimit
	}
	if limit > maxTransactionsLimit {
		limit = maxTransactionsLimit
	}
	txs, err := l.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, l.wrap("transactions", err)
	}
	if txs == nil {
		txs = []models.CreditTransaction{}
	}
	return txs, nil
}

// RequestState reconstructs where a request is in its lifecycle from the log.
func (l *Ledger) RequestState(ctx context.Context, userID, requestID string) (RequestState, error) {
	requestID, err := validateKeys(userID, requestID)
	if err != nil {
		return StateNone, err
	}
	history, err := l.store.RequestHistory(ctx, userID, requestID)
	if err != nil {
		return StateNone, l.wrap("request state", err)
	}
	return resolve(history).state, nil
}

// RequestHistory returns every entry written for requestID, oldest first.
func (l *Ledger) RequestHistory(ctx context.Context, userID, requestID string) ([]models.CreditTransaction, error) {
	requestID, err := validateKeys(userID, requestID)
	if err != nil {
		return nil, err
	}
	history, err := l.store.RequestHistory(ctx, userID, requestID)
	if err != nil {
		return nil, l.wrap("request history", err)
	}
	return history, nil
}

func (l *Ledger) ensure(ctx context.Context, userID string) (bool, error) {
	now := l.clock()
	allowance, err := l.tiers.Allowance(l.defaultTier)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	_, created, err := l.store.EnsureAccount(ctx, models.CreditAccount{
		UserID:                 userID,
		Tier:                   l.defaultTier,
		MonthlyCreditsPerCycle: allowance,
		CycleStartAt:           now,
		CycleEndAt:             l.period.Next(now),
		CreatedAt:              now,
		UpdatedAt:              now,
	})
	if err != nil {
		return false, l.wrap("ensure", err)
	}
	return created, nil
}

// clock returns the current time at the precision every store can keep.
func (l *Ledger) clock() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// wrap passes ledger sentinels through and marks everything else as a store
// failure.
func (l *Ledger) wrap(op string, err error) error {
	if err == nil || IsBusiness(err) {
		return err
	}
	l.logger.Error("credit store failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrConfiguration, op, err)
}

func (l *Ledger) notify(ctx context.Context, userID, requestID string, typ models.TransactionType, status models.Status) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, models.BalanceEvent{
		UserID:    userID,
		Type:      typ,
		RequestID: requestID,
		Status:    status,
		At:        l.clock(),
	})
}

func (l *Ledger) newEntry(acct *models.CreditAccount, requestID string, typ models.TransactionType, amount, monthly, bonus int64, meta models.Metadata) models.CreditTransaction {
	meta.Kind = typ
	return models.CreditTransaction{
		ID:                    uuid.NewString(),
		UserID:                acct.UserID,
		RequestID:             requestID,
		Type:                  typ,
		Pool:                  models.PoolFor(monthly, bonus),
		Amount:                amount,
		MonthlyAmount:         monthly,
		BonusAmount:           bonus,
		RemainingMonthlyAfter: acct.RemainingMonthly(),
		RemainingBonusAfter:   acct.RemainingBonus(),
		Metadata:              meta,
		CreatedAt:             l.clock(),
	}
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return invalid("user_id required")
	}
	return nil
}

// validateKeys returns the canonical form of requestID.
func validateKeys(userID, requestID string) (string, error) {
	if err := validateUser(userID); err != nil {
		return "", err
	}
	return canonicalRequestID(requestID)
}

func canonicalRequestID(requestID string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(requestID))
	if err != nil {
		return "", invalid("request_id must be a uuid")
	}
	return parsed.String(), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
