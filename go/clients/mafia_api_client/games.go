package mafia_api_client

import (
	"context"
	"fmt"

	"github.com/mcdev12/mafia-observer/go/internal/models"
)

type HealthResponse struct {
	Status string `json:"status"`
}

// FetchState returns the current public state of a game.
func (c *MafiaApiClient) FetchState(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	path, err := gamePath(sessionID, "")
	if err != nil {
		return nil, err
	}

	var snapshot models.Snapshot
	if err := c.GetJSON(ctx, path, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to fetch state: %w", err)
	}
	return &snapshot, nil
}

// RequestStep asks the service to run one step (night, discussion turn or vote).
func (c *MafiaApiClient) RequestStep(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	path, err := gamePath(sessionID, StepSuffix)
	if err != nil {
		return nil, err
	}

	var snapshot models.Snapshot
	if err := c.PostJSON(ctx, path, nil, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to request step: %w", err)
	}
	return &snapshot, nil
}

// SubmitAction submits a human player's action.
func (c *MafiaApiClient) SubmitAction(ctx context.Context, sessionID string, req models.ActionRequest) (*models.Snapshot, error) {
	if _, err := models.ParseActionType(string(req.ActionType)); err != nil {
		return nil, err
	}
	path, err := gamePath(sessionID, ActionSuffix)
	if err != nil {
		return nil, err
	}

	var snapshot models.Snapshot
	if err := c.PostJSON(ctx, path, req.Normalized(), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to submit action: %w", err)
	}
	return &snapshot, nil
}

// ListGames returns every game id known to the service, oldest first.
func (c *MafiaApiClient) ListGames(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.GetJSON(ctx, GamesEndpoint, &ids); err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	return ids, nil
}

// Health checks that the service is reachable.
func (c *MafiaApiClient) Health(ctx context.Context) error {
	var resp HealthResponse
	if err := c.GetJSON(ctx, HealthEndpoint, &resp); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("health check failed: status %q", resp.Status)
	}
	return nil
}
