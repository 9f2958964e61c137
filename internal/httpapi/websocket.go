package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orderingest/core/internal/streambus"
)

// subscribeToBus attaches a Subscriber to both event kinds that pushes
// every payload onto the WebSocket broadcast channel — a read-only echo
// of the same stream the repository writers persist from, not a second
// source of truth.
func (s *Server) subscribeToBus() {
	if s.bus == nil {
		return
	}
	forward := func(kind streambus.Kind) streambus.Subscriber {
		return func(ctx context.Context, payload any) error {
			s.broadcast(kind, payload)
			return nil
		}
	}
	s.unsubscribe = append(s.unsubscribe,
		s.bus.Subscribe(streambus.KindValidOrder, forward(streambus.KindValidOrder)),
		s.bus.Subscribe(streambus.KindErrorOrder, forward(streambus.KindErrorOrder)),
	)
}

func (s *Server) broadcast(kind streambus.Kind, payload any) {
	data, err := json.Marshal(map[string]any{
		"type":      string(kind),
		"payload":   payload,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		if s.obs != nil {
			s.obs.Logger.Error(context.Background(), "httpapi: failed to marshal websocket message", err)
		}
		return
	}
	select {
	case s.wsBroadcast <- data:
	default:
		// Hub is backed up; drop rather than block the bus subscriber.
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.wsMu.Lock()
	s.wsClients[conn] = true
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) runWebSocketHub() {
	for message := range s.wsBroadcast {
		s.wsMu.Lock()
		for client := range s.wsClients {
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				client.Close()
				delete(s.wsClients, client)
			}
		}
		s.wsMu.Unlock()
	}
}
