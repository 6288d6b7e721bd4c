package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/backend/services/credits-service/internal/ledger"
	"storyforge/backend/services/credits-service/internal/models"
)

var admin = ledger.Actor{ID: "ops-1", Admin: true}

func TestAdminAdjustBonusValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.AdminAdjustBonus(ctx, ledger.AdjustRequest{Actor: ledger.Actor{ID: "u"}, UserID: "yin", Amount: 5, Reason: "promo"})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = f.ledger.AdminAdjustBonus(ctx, ledger.AdjustRequest{Actor: admin, UserID: "yin", Amount: 0, Reason: "promo"})
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)

	_, err = f.ledger.AdminAdjustBonus(ctx, ledger.AdjustRequest{Actor: admin, UserID: "yin", Amount: 5, Reason: " "})
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)

	_, err = f.ledger.AdminAdjustBonus(ctx, ledger.AdjustRequest{Actor: admin, UserID: "yin", Amount: 5, Reason: "promo", RequestID: "x"})
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)
}

func TestAdminAdjustBonusClamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ledger.AdminAdjustBonus(ctx, ledger.AdjustRequest{Actor: admin, UserID: "zed", Amount: -3, Reason: "chargeback"})
	require.NoError(t, err)
	assert.Zero(t, res.NewBonusTotal)
	assert.Zero(t, res.Applied)

	res, err = f.ledger.AdminAdjustBonus(ctx, ledger.AdjustRequest{Actor: admin, UserID: "zed", Amount: 10, Reason: "promo"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.NewBonusTotal)

	f.reserve(t, "zed", 7, reqID())
	res, err = f.ledger.AdminAdjustBonus(ctx, ledger.AdjustRequest{Actor: admin, UserID: "zed", Amount: -20, Reason: "chargeback"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NewBonusTotal)
	assert.Equal(t, int64(-8), res.Applied)

	txs, err := f.ledger.Transactions(ctx, "zed", 1)
	require.NoError(t, err)
	adj := txs[0]
	assert.Equal(t, models.TxAdminAdjustment, adj.Type)
	assert.Equal(t, int64(-8), adj.Amount)
	require.NotNil(t, adj.Metadata.Admin)
	assert.Equal(t, "ops-1", adj.Metadata.Admin.ActorID)
	assert.Equal(t, "chargeback", adj.Metadata.Admin.Reason)
	assert.Equal(t, int64(-20), adj.Metadata.Admin.Requested)
}

func TestAdminAdjustBonusIdempotentWithRequestID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := reqID()
	req := ledger.AdjustRequest{Actor: admin, UserID: "abe", Amount: 5, Reason: "subscription_bonus", RequestID: id}

	first, err := f.ledger.AdminAdjustBonus(ctx, req)
	require.NoError(t, err)
	second, err := f.ledger.AdminAdjustBonus(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.NewBonusTotal, second.NewBonusTotal)
	assert.Equal(t, int64(5), f.status(t, "abe").BonusCreditsTotal)
}

func TestReleaseStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, settled := reqID(), reqID()
	f.reserve(t, "bea", 1, old)
	f.reserve(t, "bea", 1, settled)
	f.commit(t, "bea", settled)

	f.clock.Advance(2 * time.Hour)
	fresh := reqID()
	f.reserve(t, "bea", 1, fresh)

	res, err := f.ledger.ReleaseStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Released)

	state, err := f.ledger.RequestState(ctx, "bea", old)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateReleased, state)
	state, err = f.ledger.RequestState(ctx, "bea", fresh)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateReserved, state)

	history, err := f.ledger.RequestHistory(ctx, "bea", old)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonStaleSweep, history[1].Metadata.Settlement.Reason)

	_, err = f.ledger.ReleaseStale(ctx, 0, 10)
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)
}

func TestReasonMapping(t *testing.T) {
	assert.Equal(t, "", ledger.Reason(nil))
	assert.Equal(t, ledger.ReasonInsufficientCredits, ledger.Reason(ledger.ErrInsufficientCredits))
	assert.Equal(t, ledger.ReasonUnauthorized, ledger.Reason(ledger.ErrUnauthorized))
	assert.Equal(t, ledger.ReasonConfiguration, ledger.Reason(errStoreDown))
	assert.True(t, ledger.IsBusiness(ledger.ErrMissingReservation))
	assert.False(t, ledger.IsBusiness(errStoreDown))
}
