package creditsclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	settleTimeout  = 10 * time.Second
	commitAttempts = 3
)

// Guard runs paid work under a reservation for one user. Work that fails or
// is cancelled has its reservation released; a settlement whose outcome is
// unknown is reconciled.
type Guard struct {
	client  *Client
	userID  string
	feature string
	logger  *zap.Logger
	backoff time.Duration

	mu          sync.Mutex
	outstanding map[string]struct{}
}

// NewGuard returns a guard charging userID for feature.
func NewGuard(client *Client, userID, feature string, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		client:      client,
		userID:      userID,
		feature:     feature,
		logger:      logger.Named("credits_guard"),
		backoff:     200 * time.Millisecond,
		outstanding: make(map[string]struct{}),
	}
}

// Run reserves amount, runs work and commits on success. The returned
// Result is the commit result. If the reservation is refused, work is not
// run and the reserve error is returned.
func (g *Guard) Run(ctx context.Context, amount int64, work func(ctx context.Context, requestID string) error) (Result, error) {
	requestID := uuid.NewString()
	res, err := g.client.Reserve(ctx, g.userID, ReserveRequest{Amount: amount, RequestID: requestID, Feature: g.feature})
	if err != nil {
		if Ambiguous(err) {
			g.track(requestID)
			_ = g.reconcile(ctx, requestID, "reserve_unconfirmed")
		}
		return res, err
	}
	g.track(requestID)

	if err := work(ctx, requestID); err != nil {
		g.settleFailed(ctx, requestID, "work_failed", err)
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		g.settleFailed(ctx, requestID, "cancelled", err)
		return Result{}, err
	}

	res, err = g.commit(ctx, requestID)
	if err != nil {
		if !Ambiguous(err) {
			g.untrack(requestID)
		}
		return res, err
	}
	g.untrack(requestID)
	return res, nil
}

// commit retries ambiguous failures; Commit replays on the server so a
// repeated call never double-charges.
func (g *Guard) commit(ctx context.Context, requestID string) (Result, error) {
	sctx, cancel := detached(ctx)
	defer cancel()

	var res Result
	backoff := retry.WithMaxRetries(commitAttempts-1, retry.NewExponential(g.backoff))
	err := retry.Do(sctx, backoff, func(ctx context.Context) error {
		var err error
		res, err = g.client.Commit(ctx, g.userID, SettleRequest{RequestID: requestID})
		if Ambiguous(err) {
			g.logger.Warn("commit unconfirmed, retrying", zap.String("request_id", requestID), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	return res, err
}

func (g *Guard) settleFailed(ctx context.Context, requestID, reason string, cause error) {
	sctx, cancel := detached(ctx)
	defer cancel()

	_, err := g.client.Release(sctx, g.userID, SettleRequest{
		RequestID: requestID,
		Reason:    reason,
		Metadata:  map[string]interface{}{"failure_reason": cause.Error()},
	})
	switch {
	case err == nil, errors.Is(err, ErrMissingReservation):
		g.untrack(requestID)
	case Ambiguous(err):
		_ = g.reconcile(ctx, requestID, reason)
	default:
		g.logger.Error("release failed", zap.String("request_id", requestID), zap.Error(err))
	}
}

func (g *Guard) reconcile(ctx context.Context, requestID, reason string) error {
	sctx, cancel := detached(ctx)
	defer cancel()

	res, err := g.client.Reconcile(sctx, g.userID, SettleRequest{RequestID: requestID, Reason: reason})
	if err != nil {
		g.logger.Error("reconcile failed",
			zap.String("user_id", g.userID),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return err
	}
	g.untrack(requestID)
	g.logger.Info("reservation reconciled",
		zap.String("request_id", requestID),
		zap.String("action", res.Action),
		zap.String("status", res.Status),
	)
	return nil
}

// ReleaseAll reconciles every reservation this guard still holds. Safe to
// call repeatedly.
func (g *Guard) ReleaseAll(ctx context.Context, reason string) error {
	var errs []error
	for _, requestID := range g.Outstanding() {
		if err := g.reconcile(ctx, requestID, reason); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", requestID, err))
		}
	}
	return errors.Join(errs...)
}

// Outstanding returns request ids whose reservations are not yet settled.
func (g *Guard) Outstanding() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.outstanding))
	for id := range g.outstanding {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Guard) track(requestID string) {
	g.mu.Lock()
	g.outstanding[requestID] = struct{}{}
	g.mu.Unlock()
}

func (g *Guard) untrack(requestID string) {
	g.mu.Lock()
	delete(g.outstanding, requestID)
	g.mu.Unlock()
}

// detached keeps settlement running after the caller's context is done.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
