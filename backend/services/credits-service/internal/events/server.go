package events

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
)

const userIDHeader = "X-User-ID"

// StatusSource supplies the snapshot sent when a socket opens.
type StatusSource interface {
	Status(ctx context.Context, userID string) (models.Status, error)
}

// Server upgrades /credits/ws requests and registers them with the hub.
type Server struct {
	hub          *Hub
	source       StatusSource
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	baseCtx      context.Context
}

// NewServer builds the websocket endpoint. Sockets close when ctx is done.
func NewServer(ctx context.Context, hub *Hub, source StatusSource, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		hub:          hub,
		source:       source,
		logger:       logger,
		writeTimeout: writeTimeout,
		baseCtx:      ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Requests arrive through the gateway, which terminates browser origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS serves GET /credits/ws.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		http.Error(w, "missing user id header", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	connection := NewConnection(userID, conn, s.writeTimeout, s.logger, func(c *Connection) {
		s.hub.Remove(c)
		cancel()
	})
	s.hub.Add(connection)

	if s.source != nil {
		if status, err := s.source.Status(r.Context(), userID); err == nil {
			payload, _ := json.Marshal(models.BalanceEvent{UserID: userID, Type: "snapshot", Status: status, At: time.Now().UTC()})
			connection.Send(payload)
		} else {
			s.logger.Warn("initial balance snapshot failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	go connection.Start(ctx)
	s.logger.Debug("balance subscriber connected", zap.String("user_id", userID))
}
