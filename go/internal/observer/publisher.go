package observer

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Publisher is the subset of *nats.Conn used for fan-out.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher mirrors observer events onto session.<id>.<kind> subjects so
// other processes (dashboards, recorders) can follow a session.
type NATSPublisher struct {
	nc     Publisher
	prefix string
}

func NewNATSPublisher(nc Publisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "session"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject events of the given type are published on.
func (p *NATSPublisher) Subject(sessionID string, eventType EventType) string {
	kind := "view"
	if eventType == EventTypeAnnouncement {
		kind = "announcement"
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, sessionID, kind)
}

func (p *NATSPublisher) Publish(event *ObserverEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(event.SessionID, event.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	log.Debug().Str("subject", subject).Int("size", len(data)).Msg("published observer event")
	return nil
}
