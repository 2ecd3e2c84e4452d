package observer

import (
	"context"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Service is the presentation boundary: REST for intents, WebSocket (and
// optionally NATS) for pushing the controller's view.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	controller        SessionController
	publisher         *NATSPublisher
}

type Config struct {
	ConnectionConfig ConnectionConfig
	CallTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		CallTimeout:      DefaultCallTimeout,
	}
}

// NewService wires the observer. publisher may be nil.
func NewService(config Config, controller SessionController, publisher *NATSPublisher) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, controller),
		stateHandler:      NewStateHandler(controller, config.CallTimeout),
		controller:        controller,
		publisher:         publisher,
	}
}

// Start pushes every controller change to clients until ctx is cancelled or
// the controller closes.
func (s *Service) Start(ctx context.Context) {
	log.Info().Str("session_id", s.controller.SessionID()).Msg("starting observer service")

	go s.connectionManager.Start(ctx)

	changes, unsubscribe := s.controller.Subscribe()
	defer unsubscribe()

	// Notices raised before Start are not replayed.
	lastSeq := s.controller.View().AnnouncementSeq
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("observer service shutting down")
			return
		case _, ok := <-changes:
			if !ok {
				log.Info().Msg("session controller closed, observer service stopping")
				return
			}
			view := s.controller.View()
			s.emit(NewViewChangedEvent(view))

			// Coalesced signals can cover several notices; each gets its own
			// event carrying the latest text.
			if view.Announcement != "" {
				for seq := lastSeq + 1; seq <= view.AnnouncementSeq; seq++ {
					s.emit(newEvent(view.SessionID, EventTypeAnnouncement, AnnouncementPayload{Message: view.Announcement, Seq: seq}))
				}
			}
			lastSeq = view.AnnouncementSeq
		}
	}
}

func (s *Service) emit(event *ObserverEvent, err error) {
	if err != nil {
		log.Error().Err(err).Msg("failed to build observer event")
		return
	}
	s.connectionManager.Broadcast(event)
	if s.publisher != nil {
		if err := s.publisher.Publish(event); err != nil {
			log.Warn().Err(err).Msg("failed to publish observer event")
		}
	}
}

// RegisterRoutes registers the REST and WebSocket routes.
func (s *Service) RegisterRoutes(r *mux.Router) {
	s.stateHandler.RegisterRoutes(r)
	s.wsHandler.RegisterRoutes(r)
	log.Info().Msg("observer routes registered")
}

func (s *Service) GetStats() map[string]any {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "mafia_observer"
	stats["session_id"] = s.controller.SessionID()
	return stats
}
