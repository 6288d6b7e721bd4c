//go:build integration

package events

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
)

func TestRedisBusRelaysToHub(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })

	hub := NewHub(zap.NewNop())
	bus := NewRedisBus(client, "test:"+t.Name(), hub, zap.NewNop())
	go func() { _ = bus.Run(ctx) }()

	received := make(chan []byte, 1)
	conn := &Connection{userID: "u1", send: make(chan []byte, 1), done: make(chan struct{}), logger: zap.NewNop()}
	hub.Add(conn)

	require.Eventually(t, func() bool {
		bus.Notify(ctx, models.BalanceEvent{UserID: "u1", Type: models.TxCommit})
		select {
		case msg := <-conn.send:
			received <- msg
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 100*time.Millisecond)
	require.NotEmpty(t, <-received)
}
