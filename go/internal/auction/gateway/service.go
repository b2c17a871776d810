package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the auction gateway: WebSocket rooms, inbound event routing and state endpoints
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
}

// NewService wires the connection manager to the event handler and state provider
func NewService(cm *ConnectionManager, handler EventHandler, stateProvider StateProvider) *Service {
	cm.SetEventHandler(handler)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		stateHandler:      NewStateHandler(stateProvider),
	}
}

// Start runs the outbound dispatcher and blocks until ctx is done
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting auction gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("auction gateway service stopped")
}

// CloseConnections drops every WebSocket client so no further events reach the handler
func (s *Service) CloseConnections() {
	s.connectionManager.CloseAll()
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("auction gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]any {
	stats := s.connectionManager.GetConnectionStats()
	return map[string]any{
		"service":           "auction_gateway",
		"status":            "running",
		"total_connections": stats.TotalConnections,
		"active_rooms":      stats.ActiveRooms,
		"room_connections":  stats.RoomConnections,
	}
}
