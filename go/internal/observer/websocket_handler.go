package observer

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades observer clients and seeds them with the current view.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	controller        SessionController
}

func NewWebSocketHandler(cm *ConnectionManager, controller SessionController) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm, controller: controller}
}

// HandleSessionConnection handles GET /ws/session
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "anonymous"
	}

	initial, err := NewViewChangedEvent(h.controller.View())
	if err != nil {
		log.Error().Err(err).Msg("failed to build initial view event")
	}

	sessionID := h.controller.SessionID()
	if err := h.connectionManager.UpgradeConnection(w, r, clientID, sessionID, initial); err != nil {
		// The upgrader has already written an HTTP error.
		log.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("client_id", clientID).
			Msg("failed to upgrade websocket connection")
	}
}

// HandleConnectionStats handles GET /ws/stats
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

func (h *WebSocketHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/session", h.HandleSessionConnection)
	r.HandleFunc("/ws/stats", h.HandleConnectionStats).Methods(http.MethodGet)
}
