package session

import (
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mafia-observer/go/internal/models"
)

const (
	AnnounceDiscussion = "New discussion message."
	AnnounceEvent      = "New event."
)

// announcer keeps its own cursor pair, separate from the narrator's, and
// publishes one short notice per observed growth. Guarded by Controller.mu.
type announcer struct {
	seeded     bool
	discussion int
	events     int

	message string
	seq     uint64 // one per notice raised
	gen     uint64
	timer   clockwork.Timer
}

func (c *Controller) announceLocked(snap *models.Snapshot) {
	a := &c.announcer
	if snap == nil {
		return
	}
	if !a.seeded {
		a.seeded = true
		a.discussion = len(snap.Discussion)
		a.events = len(snap.Events)
		return
	}

	grewDiscussion := len(snap.Discussion) > a.discussion
	grewEvents := len(snap.Events) > a.events
	a.discussion = len(snap.Discussion)
	a.events = len(snap.Events)

	switch {
	case grewDiscussion:
		a.message = AnnounceDiscussion
	case grewEvents:
		a.message = AnnounceEvent
	default:
		return
	}
	a.seq++

	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = c.clock.AfterFunc(c.announceTTL, func() { c.clearAnnouncement(gen) })
}

func (c *Controller) clearAnnouncement(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.announcer.gen != gen {
		return
	}
	c.announcer.message = ""
	c.announcer.timer = nil
	c.notifyLocked()
}

func (c *Controller) stopAnnouncementLocked() {
	if c.announcer.timer != nil {
		c.announcer.timer.Stop()
		c.announcer.timer = nil
	}
	c.announcer.gen++
}
