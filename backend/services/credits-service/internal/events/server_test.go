package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
)

type staticSource struct{ status models.Status }

func (s staticSource) Status(_ context.Context, userID string) (models.Status, error) {
	st := s.status
	st.UserID = userID
	return st, nil
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if userID != "" {
		header.Set(userIDHeader, userID)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.BalanceEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev models.BalanceEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestServerStreamsBalanceEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	server := NewServer(ctx, hub, staticSource{status: models.Status{RemainingMonthly: 5}}, time.Second, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(server.HandleWS))
	defer srv.Close()

	conn := dial(t, srv, "u1")
	snapshot := readEvent(t, conn)
	assert.Equal(t, models.TransactionType("snapshot"), snapshot.Type)
	assert.Equal(t, int64(5), snapshot.Status.RemainingMonthly)

	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 1 }, time.Second, 10*time.Millisecond)

	hub.Notify(ctx, models.BalanceEvent{UserID: "u2", Type: models.TxCommit})
	hub.Notify(ctx, models.BalanceEvent{UserID: "u1", Type: models.TxReservation, RequestID: "r1", Status: models.Status{RemainingMonthly: 4}})

	ev := readEvent(t, conn)
	assert.Equal(t, models.TxReservation, ev.Type)
	assert.Equal(t, "r1", ev.RequestID)
	assert.Equal(t, int64(4), ev.Status.RemainingMonthly)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerRequiresUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	server := NewServer(context.Background(), hub, nil, time.Second, zap.NewNop())

	rec := httptest.NewRecorder()
	server.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/credits/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHubDeliverWithoutSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	assert.Zero(t, hub.Deliver("ghost", []byte(`{}`)))
}
