package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	libdb "storyforge/backend/libs/db"
	"storyforge/backend/services/credits-service/internal/ledger"
	"storyforge/backend/services/credits-service/internal/migrations"
	"storyforge/backend/services/credits-service/internal/models"
	"storyforge/backend/services/credits-service/internal/repository"
)

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ledger *ledger.Ledger
	clock  *fakeClock
	store  repository.Store
}

func newFixture(t *testing.T, mutate ...func(*ledger.Options)) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repository.NewMemoryStore(), mutate...)
}

func newFixtureWithStore(t *testing.T, store repository.Store, mutate ...func(*ledger.Options)) *fixture {
	t.Helper()
	clock := newClock()
	opts := ledger.Options{Clock: clock.Now}
	for _, m := range mutate {
		m(&opts)
	}
	l, err := ledger.New(store, nil, opts)
	require.NoError(t, err)
	return &fixture{ledger: l, clock: clock, store: store}
}

func newSQLiteStore(t *testing.T) repository.Store {
	t.Helper()
	db, err := libdb.NewSQLiteDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, migrations.Up(db, migrations.DialectSQLite))
	store := repository.NewSQLiteStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func reqID() string { return uuid.NewString() }

func (f *fixture) reserve(t *testing.T, user string, amount int64, id string) ledger.Result {
	t.Helper()
	res, err := f.ledger.Reserve(context.Background(), ledger.ReserveRequest{UserID: user, Amount: amount, RequestID: id, Feature: "scene_image"})
	require.NoError(t, err)
	return res
}

func (f *fixture) commit(t *testing.T, user, id string) ledger.Result {
	t.Helper()
	res, err := f.ledger.Commit(context.Background(), ledger.SettleRequest{UserID: user, RequestID: id})
	require.NoError(t, err)
	return res
}

func (f *fixture) release(t *testing.T, user, id string) ledger.Result {
	t.Helper()
	res, err := f.ledger.Release(context.Background(), ledger.SettleRequest{UserID: user, RequestID: id, Reason: "cancelled"})
	require.NoError(t, err)
	return res
}

func (f *fixture) refund(t *testing.T, user, id string) ledger.Result {
	t.Helper()
	res, err := f.ledger.Refund(context.Background(), ledger.SettleRequest{UserID: user, RequestID: id, Reason: "generation_failed"})
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T, user string) models.Status {
	t.Helper()
	st, err := f.ledger.Status(context.Background(), user)
	require.NoError(t, err)
	return st
}

func (f *fixture) grant(t *testing.T, user string, amount int64) {
	t.Helper()
	_, err := f.ledger.AdminAdjustBonus(context.Background(), ledger.AdjustRequest{
		Actor:  ledger.Actor{ID: "ops", Admin: true},
		UserID: user,
		Amount: amount,
		Reason: "test grant",
	})
	require.NoError(t, err)
}

// flakyStore fails selected calls to simulate an unreachable backend.
type flakyStore struct {
	repository.Store
	mu          sync.Mutex
	failHistory bool
	failTx      bool
}

func (s *flakyStore) set(history, tx bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHistory, s.failTx = history, tx
}

func (s *flakyStore) RequestHistory(ctx context.Context, userID, requestID string) ([]models.CreditTransaction, error) {
	s.mu.Lock()
	fail := s.failHistory
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.Store.RequestHistory(ctx, userID, requestID)
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	fail := s.failTx
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.Store.WithinTx(ctx, fn)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.BalanceEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev models.BalanceEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []models.TransactionType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.TransactionType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}
