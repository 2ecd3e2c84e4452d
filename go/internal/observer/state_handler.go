package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/mafia-observer/go/internal/models"
	"github.com/mcdev12/mafia-observer/go/internal/session"
	"github.com/rs/zerolog/log"
)

// SessionController is what the HTTP layer needs from session.Controller.
type SessionController interface {
	SessionID() string
	View() session.View
	Refresh(ctx context.Context) error
	AdvanceStep(ctx context.Context) error
	SubmitHumanAction(ctx context.Context, actorID, actionType string, payload map[string]any) error
	SetAutoAdvance(enabled bool)
	SetAutoAdvanceInterval(seconds int) int
	SetNarrationEnabled(enabled bool)
	Subscribe() (<-chan struct{}, func())
}

// ActionBody is the body of POST /api/session/action.
type ActionBody struct {
	PlayerID   string         `json:"player_id"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload"`
}

type toggleBody struct {
	Enabled bool `json:"enabled"`
}

type intervalBody struct {
	Seconds int `json:"seconds"`
}

type errorBody struct {
	Error string `json:"error"`
}

// StateHandler serves the controller's view and forwards user intents.
type StateHandler struct {
	controller  SessionController
	callTimeout time.Duration
}

// NewStateHandler creates a handler. Controller calls outlive the request
// that triggered them and are bounded by callTimeout instead.
func NewStateHandler(controller SessionController, callTimeout time.Duration) *StateHandler {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &StateHandler{controller: controller, callTimeout: callTimeout}
}

// DefaultCallTimeout bounds a controller call started from a request.
const DefaultCallTimeout = 60 * time.Second

// detach keeps request values but drops the request's cancellation, so a
// client hanging up mid-step does not surface a cancelled step.
func (h *StateHandler) detach(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.callTimeout)
}

// HandleGetView handles GET /api/session
func (h *StateHandler) HandleGetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.View())
}

// HandleRefresh handles POST /api/session/refresh
func (h *StateHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.detach(r)
	defer cancel()
	h.respond(w, h.controller.Refresh(ctx))
}

// HandleStep handles POST /api/session/step
func (h *StateHandler) HandleStep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.detach(r)
	defer cancel()
	h.respond(w, h.controller.AdvanceStep(ctx))
}

// HandleAction handles POST /api/session/action
func (h *StateHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var body ActionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if body.PlayerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "player_id is required"})
		return
	}
	ctx, cancel := h.detach(r)
	defer cancel()
	h.respond(w, h.controller.SubmitHumanAction(ctx, body.PlayerID, body.ActionType, body.Payload))
}

// HandleSetPreference handles PUT /api/preferences/{name}
func (h *StateHandler) HandleSetPreference(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	switch name {
	case "auto_advance", "narration":
		var body toggleBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
		if name == "auto_advance" {
			h.controller.SetAutoAdvance(body.Enabled)
		} else {
			h.controller.SetNarrationEnabled(body.Enabled)
		}

	case "interval":
		var body intervalBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
		h.controller.SetAutoAdvanceInterval(body.Seconds)

	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown preference " + name})
		return
	}

	log.Debug().Str("preference", name).Msg("preference updated")
	writeJSON(w, http.StatusOK, h.controller.View())
}

// RegisterRoutes registers the REST routes on r.
func (h *StateHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/session", h.HandleGetView).Methods(http.MethodGet)
	r.HandleFunc("/api/session/refresh", h.HandleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/session/step", h.HandleStep).Methods(http.MethodPost)
	r.HandleFunc("/api/session/action", h.HandleAction).Methods(http.MethodPost)
	r.HandleFunc("/api/preferences/{name}", h.HandleSetPreference).Methods(http.MethodPut)
}

// respond writes the view on success. Session errors are already part of the
// view; the status code tells the client which kind it was.
func (h *StateHandler) respond(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, h.controller.View())
		return
	}

	var fetchErr *session.FetchError
	var stepErr *session.StepError
	switch {
	case errors.Is(err, models.ErrInvalidActionType):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.As(err, &fetchErr), errors.As(err, &stepErr):
		writeJSON(w, http.StatusBadGateway, h.controller.View())
	default:
		log.Error().Err(err).Msg("unexpected session error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
