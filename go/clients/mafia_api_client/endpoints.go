package mafia_api_client

const (
	// Base URL
	DefaultBaseURL = "http://localhost:8000"

	// API Endpoints
	GamesEndpoint  = "/games"
	HealthEndpoint = "/health"

	// Per-game suffixes, appended to GamesEndpoint + "/{game_id}"
	StepSuffix   = "/step"
	ActionSuffix = "/action"

	// Headers
	ClientIDHeader = "X-Observer-Client"
)
