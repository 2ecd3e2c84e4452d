package models

import (
	"errors"
	"fmt"
	"strings"
)

// ActionType defines the kind of human action accepted by the game service.
type ActionType string

const (
	ActionTypeDiscussion  ActionType = "discussion"
	ActionTypeVote        ActionType = "vote"
	ActionTypeNightAction ActionType = "night_action"
)

// Limits applied by the game service to human payloads.
const (
	MaxStatementLength  = 500
	MaxVoteReasonLength = 300
)

// ErrInvalidActionType is returned for an action type outside the closed set.
var ErrInvalidActionType = errors.New("invalid action type")

// ParseActionType validates a raw action type string.
func ParseActionType(raw string) (ActionType, error) {
	switch t := ActionType(strings.TrimSpace(raw)); t {
	case ActionTypeDiscussion, ActionTypeVote, ActionTypeNightAction:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidActionType, raw)
	}
}

// ActionRequest is the body of a human action submission.
// Payload is opaque here: discussion {statement}, vote {target_id, reason},
// night_action {target_id}.
type ActionRequest struct {
	PlayerID   string         `json:"player_id"`
	ActionType ActionType     `json:"action_type"`
	Payload    map[string]any `json:"payload"`
}

// Normalized returns a copy with string payload fields trimmed to the
// service's length caps. Unknown fields pass through untouched.
func (r ActionRequest) Normalized() ActionRequest {
	payload := make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		payload[k] = v
	}

	switch r.ActionType {
	case ActionTypeDiscussion:
		if s, ok := payload["statement"].(string); ok {
			payload["statement"] = truncate(strings.TrimSpace(s), MaxStatementLength)
		}
	case ActionTypeVote:
		if s, ok := payload["reason"].(string); ok {
			payload["reason"] = truncate(strings.TrimSpace(s), MaxVoteReasonLength)
		}
	}

	return ActionRequest{
		PlayerID:   r.PlayerID,
		ActionType: r.ActionType,
		Payload:    payload,
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
