package observer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/mafia-observer/go/internal/session"
)

// ObserverEvent is the envelope pushed to WebSocket clients and NATS.
type ObserverEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type EventType string

const (
	// EventTypeViewChanged carries a full session.View.
	EventTypeViewChanged EventType = "ViewChanged"
	// EventTypeAnnouncement carries an AnnouncementPayload for screen readers.
	EventTypeAnnouncement EventType = "Announcement"
)

type AnnouncementPayload struct {
	Message string `json:"message"`
	Seq     uint64 `json:"seq"`
}

func newEvent(sessionID string, eventType EventType, payload any) (*ObserverEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &ObserverEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// NewViewChangedEvent wraps a view.
func NewViewChangedEvent(view session.View) (*ObserverEvent, error) {
	return newEvent(view.SessionID, EventTypeViewChanged, view)
}

// ParseEventPayload decodes the event data into its payload type.
func ParseEventPayload(event *ObserverEvent) (any, error) {
	switch event.Type {
	case EventTypeViewChanged:
		var view session.View
		if err := json.Unmarshal(event.Data, &view); err != nil {
			return nil, err
		}
		return view, nil

	case EventTypeAnnouncement:
		var payload AnnouncementPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil
	}
}
