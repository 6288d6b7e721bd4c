package creditsclient

import (
	"encoding/json"
	"net/http"
	"sync"
)

// fakeLedger is a single-user stand-in for credits-service.
type fakeLedger struct {
	mu        sync.Mutex
	balance   int64
	reserved  map[string]int64
	committed map[string]int64
	released  map[string]bool
	calls     map[string]int
	failures  map[string]int
	headers   http.Header
}

func newFakeLedger(balance int64) *fakeLedger {
	return &fakeLedger{
		balance:   balance,
		reserved:  map[string]int64{},
		committed: map[string]int64{},
		released:  map[string]bool{},
		calls:     map[string]int{},
		failures:  map[string]int{},
	}
}

func (f *fakeLedger) failNext(path string, n int) {
	f.mu.Lock()
	f.failures[path] = n
	f.mu.Unlock()
}

func (f *fakeLedger) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++
	f.headers = r.Header.Clone()

	reply := func(status int, v map[string]interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	if f.failures[r.URL.Path] > 0 {
		f.failures[r.URL.Path]--
		reply(http.StatusServiceUnavailable, map[string]interface{}{"ok": false, "reason": "configuration_error"})
		return
	}

	var body struct {
		RequestID string `json:"request_id"`
		Amount    int64  `json:"amount"`
		UserID    string `json:"user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	id := body.RequestID

	switch r.URL.Path {
	case "/credits/reserve":
		if body.Amount > f.balance {
			reply(http.StatusPaymentRequired, map[string]interface{}{"ok": false, "reason": "insufficient_credits", "remaining_monthly": f.balance})
			return
		}
		f.balance -= body.Amount
		f.reserved[id] = body.Amount
		reply(http.StatusOK, map[string]interface{}{"ok": true, "status": "reserved", "request_id": id, "reserved_monthly": body.Amount, "remaining_monthly": f.balance})
	case "/credits/commit":
		if amt, ok := f.committed[id]; ok {
			reply(http.StatusOK, map[string]interface{}{"ok": true, "status": "committed", "request_id": id, "reserved_monthly": amt, "replayed": true})
			return
		}
		amt, ok := f.reserved[id]
		if !ok {
			reply(http.StatusConflict, map[string]interface{}{"ok": false, "reason": "missing_reservation"})
			return
		}
		delete(f.reserved, id)
		f.committed[id] = amt
		reply(http.StatusOK, map[string]interface{}{"ok": true, "status": "committed", "request_id": id, "reserved_monthly": amt})
	case "/credits/release":
		f.releaseLocked(id, reply)
	case "/credits/reconcile":
		switch {
		case f.reserved[id] > 0:
			f.releaseLocked(id, func(status int, v map[string]interface{}) {
				v["action"] = "release"
				reply(status, v)
			})
		case f.committed[id] > 0:
			f.balance += f.committed[id]
			delete(f.committed, id)
			reply(http.StatusOK, map[string]interface{}{"ok": true, "status": "refunded", "action": "refund"})
		default:
			reply(http.StatusOK, map[string]interface{}{"ok": true, "status": "nothing_to_refund", "action": "none"})
		}
	case "/admin/credits/bonus":
		reply(http.StatusOK, map[string]interface{}{"ok": true, "new_bonus_total": body.Amount, "applied": body.Amount})
	case "/credits/status":
		reply(http.StatusOK, map[string]interface{}{"ok": true, "user_id": r.Header.Get("X-User-ID"), "remaining_monthly": f.balance})
	default:
		reply(http.StatusNotFound, map[string]interface{}{"ok": false, "reason": "not_found"})
	}
}

func (f *fakeLedger) releaseLocked(id string, reply func(int, map[string]interface{})) {
	if f.released[id] {
		reply(http.StatusOK, map[string]interface{}{"ok": true, "status": "already_released"})
		return
	}
	amt, ok := f.reserved[id]
	if !ok {
		reply(http.StatusConflict, map[string]interface{}{"ok": false, "reason": "missing_reservation"})
		return
	}
	delete(f.reserved, id)
	f.released[id] = true
	f.balance += amt
	reply(http.StatusOK, map[string]interface{}{"ok": true, "status": "released", "remaining_monthly": f.balance})
}

func (f *fakeLedger) currentBalance() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

func (f *fakeLedger) header(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers.Get(key)
}
