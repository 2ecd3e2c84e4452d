package mafia_api_client

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/mcdev12/mafia-observer/go/clients"
)

// MafiaApiClient talks to the AI Mafia game service over JSON/HTTP.
type MafiaApiClient struct {
	*clients.BaseClient
}

func NewMafiaApiClient(baseURL, clientID string) *MafiaApiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &MafiaApiClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	if clientID != "" {
		client.SetHeader(ClientIDHeader, clientID)
	}

	return client
}

// gamePath validates the session id (the service issues UUIDv4 game ids)
// and returns the escaped per-game path.
func gamePath(sessionID, suffix string) (string, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	return GamesEndpoint + "/" + url.PathEscape(sessionID) + suffix, nil
}
