package models

// Phase is the game phase reported by the game service.
// The controller treats it as an opaque discriminator.
type Phase string

const (
	PhaseNight         Phase = "night"
	PhaseDayDiscussion Phase = "day_discussion"
	PhaseDayVote       Phase = "day_vote"
	PhaseGameOver      Phase = "game_over"
)

// EventKind defines the type of narrated system event.
type EventKind string

const (
	EventKindNightKill    EventKind = "night_kill"
	EventKindNightProtect EventKind = "night_protect"
	EventKindNightCheck   EventKind = "night_check"
	EventKindDiscussion   EventKind = "discussion"
	EventKindVote         EventKind = "vote"
	EventKindEliminated   EventKind = "eliminated"
	EventKindGameStart    EventKind = "game_start"
	EventKindPhaseChange  EventKind = "phase_change"
)

// Player is a participant as shown to clients. Role is only set once revealed.
type Player struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Alive bool    `json:"alive"`
	Role  *string `json:"role,omitempty"`
}

// Event is one entry of the append-only event log.
type Event struct {
	Kind       EventKind `json:"kind"`
	RoundIndex int       `json:"round_index"`
	Phase      Phase     `json:"phase"`
	Message    string    `json:"message"`
	PlayerID   *string   `json:"player_id,omitempty"`
	TargetID   *string   `json:"target_id,omitempty"`
}

// DiscussionMessage is one statement of the append-only discussion log.
type DiscussionMessage struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Statement  string `json:"statement"`
	RoundIndex int    `json:"round_index"`
}

// Vote is one vote of the current (or last) round.
type Vote struct {
	VoterID    string `json:"voter_id"`
	VoterName  string `json:"voter_name"`
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`
	Reason     string `json:"reason"`
}

// NightReasoning is a night action reasoning record, only present when spectating.
type NightReasoning struct {
	Role       string `json:"role"`
	PlayerName string `json:"player_name"`
	TargetName string `json:"target_name"`
	Reason     string `json:"reason"`
}

// Snapshot is the full public state of a game session at one point in time.
// Snapshots are values: the controller never mutates one after receiving it.
type Snapshot struct {
	GameID               string              `json:"game_id"`
	Players              []Player            `json:"players"`
	RoundIndex           int                 `json:"round_index"`
	Phase                Phase               `json:"phase"`
	Events               []Event             `json:"events"`
	Discussion           []DiscussionMessage `json:"discussion"`
	Started              bool                `json:"started"`
	Winner               *string             `json:"winner,omitempty"`
	WaitingForHuman      bool                `json:"waiting_for_human"`
	CurrentActorID       *string             `json:"current_actor_id,omitempty"`
	PendingHumanVoteIDs  []string            `json:"pending_human_vote_ids"`
	PendingHumanNightIDs []string            `json:"pending_human_night_ids"`
	HumanPlayerIDs       []string            `json:"human_player_ids"`
	CurrentRoundVotes    []Vote              `json:"current_round_votes"`
	Spectate             bool                `json:"spectate"`

	SpectatorMafiaDiscussion []DiscussionMessage `json:"spectator_mafia_discussion"`
	SpectatorNightReasoning  []NightReasoning    `json:"spectator_night_reasoning"`
}

// HasWinner reports whether the session reached a terminal state.
func (s *Snapshot) HasWinner() bool {
	return s != nil && s.Winner != nil && *s.Winner != ""
}

// PendingActorIDs returns every participant that must act before the game can proceed.
func (s *Snapshot) PendingActorIDs() []string {
	if s == nil || !s.WaitingForHuman {
		return nil
	}

	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if s.CurrentActorID != nil {
		add(*s.CurrentActorID)
	}
	for _, id := range s.PendingHumanVoteIDs {
		add(id)
	}
	for _, id := range s.PendingHumanNightIDs {
		add(id)
	}
	return ids
}

// PlayerName resolves a player id to its display name, falling back to the id.
func (s *Snapshot) PlayerName(id string) string {
	if s != nil {
		for _, p := range s.Players {
			if p.ID == id {
				return p.Name
			}
		}
	}
	return id
}
