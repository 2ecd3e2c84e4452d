// Package session keeps an observer in step with a remote Mafia game. The
// Controller owns the latest snapshot and decides when to ask for the next
// step, pauses while a human has to act, narrates new log entries one at a
// time and raises short accessibility notices.
//
// All controller state sits behind a single mutex. Gateway calls and speech
// run outside it. Each call is numbered when it is issued; its result is
// applied under the lock and dropped when the current snapshot came from a
// call issued after it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mafia-observer/go/internal/models"
	"github.com/mcdev12/mafia-observer/go/internal/narration"
	"github.com/mcdev12/mafia-observer/go/internal/prefs"
	"github.com/rs/zerolog/log"
)

// Gateway is the remote game service. Every call returns a full snapshot.
type Gateway interface {
	FetchState(ctx context.Context, sessionID string) (*models.Snapshot, error)
	RequestStep(ctx context.Context, sessionID string) (*models.Snapshot, error)
	SubmitAction(ctx context.Context, sessionID string, req models.ActionRequest) (*models.Snapshot, error)
}

// Config wires a Controller. Only SessionID and Gateway are required.
type Config struct {
	SessionID string
	Gateway   Gateway
	Narration narration.Channel
	Prefs     *prefs.Store
	Clock     clockwork.Clock

	// AnnounceTTL is how long a notification stays visible. Defaults to 2s.
	AnnounceTTL time.Duration
}

type Controller struct {
	id        string
	sessionID string
	gateway   Gateway
	prefs     *prefs.Store
	clock     clockwork.Clock

	tick        time.Duration
	announceTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	closed       bool
	snapshot     *models.Snapshot
	generation   uint64
	stepInFlight bool

	// lastIssued numbers gateway calls as they start; applied is the number
	// of the call that produced the current snapshot.
	lastIssued uint64
	applied    uint64

	lastErr      error
	errMsg       string

	sched     scheduler
	narrator  *narrator
	announcer announcer

	subscribers map[int]chan struct{}
	nextSubID   int
}

// NewController loads the persisted preferences and starts the narration
// worker. Call Refresh to load the first snapshot and Close when done.
func NewController(cfg Config) (*Controller, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Prefs == nil {
		cfg.Prefs = prefs.NewStore(nil)
	}
	if cfg.AnnounceTTL <= 0 {
		cfg.AnnounceTTL = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	loaded := cfg.Prefs.Load(ctx)

	c := &Controller{
		id:          uuid.NewString(),
		sessionID:   cfg.SessionID,
		gateway:     cfg.Gateway,
		prefs:       cfg.Prefs,
		clock:       cfg.Clock,
		tick:        tickInterval,
		announceTTL: cfg.AnnounceTTL,
		ctx:         ctx,
		cancel:      cancel,
		sched: scheduler{
			enabled:  loaded.AutoAdvance,
			interval: prefs.ClampInterval(loaded.AutoAdvanceInterval),
		},
		narrator:    newNarrator(ctx, cfg.Narration, loaded.NarrationEnabled),
		subscribers: make(map[int]chan struct{}),
	}
	go c.narrator.run()

	log.Info().
		Str("controller_id", c.id).
		Str("session_id", c.sessionID).
		Bool("auto_advance", loaded.AutoAdvance).
		Int("interval_sec", c.sched.interval).
		Bool("narration", loaded.NarrationEnabled).
		Msg("session controller started")

	return c, nil
}

func (c *Controller) SessionID() string { return c.sessionID }

// Refresh fetches the current state and replaces the snapshot. On failure the
// previous snapshot is kept and a *FetchError is surfaced and returned.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	seq := c.issueLocked()
	c.mu.Unlock()

	ctx, stop := c.bind(ctx)
	defer stop()

	snap, err := c.gateway.FetchState(ctx, c.sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.staleLocked(seq) {
		log.Debug().Str("session_id", c.sessionID).Uint64("seq", seq).Msg("discarding stale refresh result")
		return nil
	}
	if err != nil {
		ferr := &FetchError{SessionID: c.sessionID, Err: err}
		c.surfaceLocked(ferr)
		return ferr
	}
	c.replaceSnapshotLocked(snap, seq)
	return nil
}

// AdvanceStep asks the service for one step. It does nothing when no
// snapshot is loaded, the game is over, or a step is already in flight.
func (c *Controller) AdvanceStep(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.snapshot == nil || c.snapshot.HasWinner() || c.stepInFlight {
		c.mu.Unlock()
		return nil
	}
	seq := c.beginStepLocked()
	c.mu.Unlock()

	return c.runStep(ctx, seq)
}

// beginStepLocked claims the single step slot and returns the call number
// of the step.
func (c *Controller) beginStepLocked() uint64 {
	c.stepInFlight = true
	c.reevaluateLocked()
	c.notifyLocked()
	return c.issueLocked()
}

func (c *Controller) runStep(ctx context.Context, seq uint64) error {
	ctx, stop := c.bind(ctx)
	defer stop()

	snap, err := c.gateway.RequestStep(ctx, c.sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepInFlight = false
	if c.closed {
		return ErrClosed
	}
	if c.staleLocked(seq) {
		log.Debug().Str("session_id", c.sessionID).Uint64("seq", seq).Msg("discarding stale step result")
		c.reevaluateLocked()
		c.notifyLocked()
		return nil
	}
	if err != nil {
		serr := &StepError{SessionID: c.sessionID, Op: "step", Err: err}
		c.surfaceLocked(serr)
		return serr
	}
	c.replaceSnapshotLocked(snap, seq)
	return nil
}

// SubmitHumanAction sends a human player's action. The payload is passed
// through untouched apart from length trimming. On failure the snapshot is
// kept and a *StepError is surfaced and returned.
func (c *Controller) SubmitHumanAction(ctx context.Context, actorID, actionType string, payload map[string]any) error {
	at, err := models.ParseActionType(actionType)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	seq := c.issueLocked()
	c.mu.Unlock()

	ctx, stop := c.bind(ctx)
	defer stop()

	req := models.ActionRequest{PlayerID: actorID, ActionType: at, Payload: payload}
	snap, err := c.gateway.SubmitAction(ctx, c.sessionID, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.staleLocked(seq) {
		log.Debug().Str("session_id", c.sessionID).Uint64("seq", seq).Msg("discarding stale action result")
		return nil
	}
	if err != nil {
		serr := &StepError{SessionID: c.sessionID, Op: "submit action for", Err: err}
		c.surfaceLocked(serr)
		return serr
	}

	log.Info().
		Str("session_id", c.sessionID).
		Str("player_id", actorID).
		Str("action_type", string(at)).
		Msg("human action submitted")

	c.replaceSnapshotLocked(snap, seq)
	return nil
}

// SetNarrationEnabled switches narration and persists the choice.
func (c *Controller) SetNarrationEnabled(enabled bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.narrator.setEnabledLocked(enabled, c.snapshot)
	c.notifyLocked()
	c.mu.Unlock()

	c.prefs.SaveNarrationEnabled(c.ctx, enabled)
}

// Close stops timers, cancels speech and in-flight calls, closes every
// subscription and waits for queued preference saves. It is safe to call
// more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.clearCountdownLocked()
	c.stopAnnouncementLocked()
	c.narrator.cancelAll()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	c.cancel()
	<-c.narrator.done
	c.prefs.Flush()

	log.Info().Str("controller_id", c.id).Str("session_id", c.sessionID).Msg("session controller closed")
	return nil
}

func (c *Controller) issueLocked() uint64 {
	c.lastIssued++
	return c.lastIssued
}

// staleLocked reports whether the current snapshot came from a call issued
// after call seq.
func (c *Controller) staleLocked(seq uint64) bool {
	return seq < c.applied
}

// replaceSnapshotLocked installs the snapshot returned by call seq and fans
// the change out to the announcer, the narrator and the scheduler.
func (c *Controller) replaceSnapshotLocked(snap *models.Snapshot, seq uint64) {
	if snap == nil {
		return
	}
	c.snapshot = snap
	c.applied = seq
	c.generation++
	c.lastErr = nil
	c.errMsg = ""

	c.announceLocked(snap)
	c.narrator.observeLocked(snap)
	c.reseedLocked()
	c.notifyLocked()

	log.Debug().
		Str("session_id", c.sessionID).
		Uint64("generation", c.generation).
		Uint64("seq", seq).
		Int("round", snap.RoundIndex).
		Str("phase", string(snap.Phase)).
		Bool("waiting_for_human", snap.WaitingForHuman).
		Msg("snapshot replaced")
}

func (c *Controller) surfaceLocked(err error) {
	c.lastErr = err
	c.errMsg = displayMessage(err)
	c.reevaluateLocked()
	c.notifyLocked()

	log.Warn().Err(err).Str("session_id", c.sessionID).Msg("session error")
}

// bind derives a context that is also cancelled by Close.
func (c *Controller) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
