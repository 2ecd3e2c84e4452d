package session

import (
	"github.com/mcdev12/mafia-observer/go/internal/models"
	"github.com/mcdev12/mafia-observer/go/internal/prefs"
)

// View is a consistent copy of everything the presentation layer renders.
type View struct {
	SessionID           string            `json:"session_id"`
	Snapshot            *models.Snapshot  `json:"snapshot"`
	Error               string            `json:"error,omitempty"`
	Countdown           *int              `json:"countdown_sec"`
	Preferences         prefs.Preferences `json:"preferences"`
	Announcement        string            `json:"announcement,omitempty"`
	AnnouncementSeq     uint64            `json:"announcement_seq"`
	StepInFlight        bool              `json:"step_in_flight"`
	AutoAdvanceEligible bool              `json:"auto_advance_eligible"`
	PendingActorIDs     []string          `json:"pending_actor_ids,omitempty"`
	NarrationSupported  bool              `json:"narration_supported"`
	Generation          uint64            `json:"generation"`
}

// View returns the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		SessionID: c.sessionID,
		Snapshot:  c.snapshot,
		Error:     c.errMsg,
		Preferences: prefs.Preferences{
			AutoAdvance:         c.sched.enabled,
			AutoAdvanceInterval: c.sched.interval,
			NarrationEnabled:    c.narrator.enabled,
		},
		Announcement:        c.announcer.message,
		AnnouncementSeq:     c.announcer.seq,
		StepInFlight:        c.stepInFlight,
		AutoAdvanceEligible: c.eligibleLocked(),
		PendingActorIDs:     c.snapshot.PendingActorIDs(),
		NarrationSupported:  c.narrator.channel.IsSupported(),
		Generation:          c.generation,
	}
	if c.sched.remaining != nil {
		remaining := *c.sched.remaining
		v.Countdown = &remaining
	}
	return v
}

// Subscribe returns a channel that receives a signal after every state
// change. Signals coalesce: a slow reader sees one pending signal and should
// re-read View. The channel is closed when the controller closes or the
// returned cancel func is called.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{}, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

func (c *Controller) notifyLocked() {
	for _, ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
