package session

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mafia-observer/go/internal/prefs"
	"github.com/rs/zerolog/log"
)

// scheduler is the auto-advance countdown. Idle when remaining is nil,
// counting otherwise. Every field is guarded by Controller.mu.
type scheduler struct {
	enabled   bool
	interval  int
	remaining *int

	// gen identifies the live countdown; ticks carrying an older gen are dropped.
	gen   uint64
	timer clockwork.Timer
}

// eligibleLocked is the single gate for the countdown and the fired step.
func (c *Controller) eligibleLocked() bool {
	return !c.closed &&
		c.sched.enabled &&
		c.snapshot != nil &&
		!c.snapshot.HasWinner() &&
		!c.snapshot.WaitingForHuman &&
		!c.stepInFlight &&
		c.lastErr == nil
}

// reseedLocked opens a fresh countdown window when eligible, and discards
// the countdown otherwise.
func (c *Controller) reseedLocked() {
	if !c.eligibleLocked() {
		c.clearCountdownLocked()
		return
	}
	c.startCountdownLocked()
}

// reevaluateLocked keeps a running countdown untouched, starts one if the
// controller just became eligible, and discards it if it no longer is.
func (c *Controller) reevaluateLocked() {
	switch {
	case !c.eligibleLocked():
		c.clearCountdownLocked()
	case c.sched.remaining == nil:
		c.startCountdownLocked()
	}
}

func (c *Controller) startCountdownLocked() {
	c.stopTickLocked()
	c.sched.gen++
	remaining := c.sched.interval
	c.sched.remaining = &remaining
	c.scheduleTickLocked()

	log.Debug().
		Str("session_id", c.sessionID).
		Int("interval_sec", remaining).
		Msg("auto-advance countdown started")
}

func (c *Controller) clearCountdownLocked() {
	if c.sched.remaining == nil && c.sched.timer == nil {
		return
	}
	c.stopTickLocked()
	c.sched.gen++
	c.sched.remaining = nil
}

func (c *Controller) scheduleTickLocked() {
	gen := c.sched.gen
	c.sched.timer = c.clock.AfterFunc(c.tick, func() { c.onTick(gen) })
}

func (c *Controller) stopTickLocked() {
	if c.sched.timer != nil {
		c.sched.timer.Stop()
		c.sched.timer = nil
	}
}

// onTick runs on the clock's goroutine once per second of an active countdown.
func (c *Controller) onTick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.sched.gen || c.sched.remaining == nil {
		return
	}
	c.sched.timer = nil

	if !c.eligibleLocked() {
		c.clearCountdownLocked()
		c.notifyLocked()
		return
	}

	next := *c.sched.remaining - 1
	if next > 0 {
		c.sched.remaining = &next
		c.scheduleTickLocked()
		c.notifyLocked()
		return
	}

	log.Debug().Str("session_id", c.sessionID).Msg("auto-advance countdown elapsed")

	seq := c.beginStepLocked()
	go func() {
		if err := c.runStep(c.ctx, seq); err != nil {
			log.Warn().Err(err).Str("session_id", c.sessionID).Msg("auto-advance step failed")
		}
	}()
}

// SetAutoAdvance turns the scheduler on or off and persists the choice.
func (c *Controller) SetAutoAdvance(enabled bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := c.sched.enabled != enabled
	c.sched.enabled = enabled
	if changed {
		c.reseedLocked()
		c.notifyLocked()
	}
	c.mu.Unlock()

	c.prefs.SaveAutoAdvance(c.ctx, enabled)
}

// SetAutoAdvanceInterval stores a new interval, clamped to the allowed range,
// and returns the value kept. A running countdown is not affected; the new
// interval applies from the next window.
func (c *Controller) SetAutoAdvanceInterval(seconds int) int {
	clamped := prefs.ClampInterval(seconds)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return clamped
	}
	c.sched.interval = clamped
	c.notifyLocked()
	c.mu.Unlock()

	c.prefs.SaveAutoAdvanceInterval(c.ctx, clamped)
	return clamped
}

// AutoAdvanceEligible reports whether the scheduler may count down right now.
func (c *Controller) AutoAdvanceEligible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eligibleLocked()
}

// tickInterval is one countdown second.
const tickInterval = time.Second
