package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"storyforge/backend/services/credits-service/internal/models"
)

// MemoryStore keeps the ledger in process memory. WithinTx serializes all
// units with one mutex and applies staged writes only when fn succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]models.CreditAccount
	txs      []models.CreditTransaction
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]models.CreditAccount)}
}

func (s *MemoryStore) EnsureAccount(_ context.Context, def models.CreditAccount) (models.CreditAccount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[def.UserID]; ok {
		return acct, false, nil
	}
	s.accounts[def.UserID] = def
	return def, true, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (models.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return models.CreditAccount{}, ErrNotFound
	}
	return acct, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CreditTransaction, 0, limit)
	for i := len(s.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.txs[i].UserID == userID {
			out = append(out, s.txs[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) RequestHistory(_ context.Context, userID, requestID string) ([]models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history(userID, requestID, nil), nil
}

func (s *MemoryStore) StaleReservations(_ context.Context, cutoff time.Time, limit int) ([]models.CreditTransaction, error) {
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct{ user, request string }
	closed := make(map[key]bool)
	for _, tx := range s.txs {
		if tx.Type == models.TxCommit || tx.Type == models.TxRelease {
			closed[key{tx.UserID, tx.RequestID}] = true
		}
	}

	var out []models.CreditTransaction
	for _, tx := range s.txs {
		if tx.Type != models.TxReservation || !tx.CreatedAt.Before(cutoff) || closed[key{tx.UserID, tx.RequestID}] {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unit := &memoryTx{store: s, accounts: make(map[string]models.CreditAccount)}
	if err := fn(ctx, unit); err != nil {
		return err
	}
	for id, acct := range unit.accounts {
		s.accounts[id] = acct
	}
	s.txs = append(s.txs, unit.txs...)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// history must be called with mu held.
func (s *MemoryStore) history(userID, requestID string, staged []models.CreditTransaction) []models.CreditTransaction {
	var out []models.CreditTransaction
	for _, list := range [][]models.CreditTransaction{s.txs, staged} {
		for _, tx := range list {
			if tx.UserID == userID && tx.RequestID == requestID {
				out = append(out, tx)
			}
		}
	}
	return out
}

type memoryTx struct {
	store    *MemoryStore
	accounts map[string]models.CreditAccount
	txs      []models.CreditTransaction
}

func (t *memoryTx) LockAccount(_ context.Context, userID string) (models.CreditAccount, error) {
	if acct, ok := t.accounts[userID]; ok {
		return acct, nil
	}
	acct, ok := t.store.accounts[userID]
	if !ok {
		return models.CreditAccount{}, ErrNotFound
	}
	return acct, nil
}

func (t *memoryTx) SaveAccount(_ context.Context, acct models.CreditAccount) error {
	if _, err := t.LockAccount(context.Background(), acct.UserID); err != nil {
		return err
	}
	t.accounts[acct.UserID] = acct
	return nil
}

func (t *memoryTx) RequestHistory(_ context.Context, userID, requestID string) ([]models.CreditTransaction, error) {
	return t.store.history(userID, requestID, t.txs), nil
}

func (t *memoryTx) FindAdminAdjustment(_ context.Context, userID, requestID string) (*models.CreditTransaction, error) {
	for _, tx := range t.store.history(userID, requestID, t.txs) {
		if tx.Type == models.TxAdminAdjustment {
			found := tx
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, tx models.CreditTransaction) error {
	if uniqueTypes[tx.Type] && tx.RequestID != "" {
		for _, existing := range t.store.history(tx.UserID, tx.RequestID, t.txs) {
			if existing.Type == tx.Type {
				return ErrDuplicate
			}
		}
	}
	t.txs = append(t.txs, tx)
	return nil
}
