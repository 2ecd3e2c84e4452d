package session

import (
	"context"
	"strings"
	"sync"

	"github.com/mcdev12/mafia-observer/go/internal/models"
	"github.com/mcdev12/mafia-observer/go/internal/narration"
	"github.com/rs/zerolog/log"
)

// narrator turns log growth into speech. Its cursor fields are guarded by
// Controller.mu; the queue has its own lock so the worker never needs the
// controller lock.
type narrator struct {
	channel narration.Channel

	enabled          bool
	seeded           bool
	spokenDiscussion int
	spokenEvents     int

	qmu    sync.Mutex
	queue  []utterance
	epoch  uint64
	ectx   context.Context
	cancel context.CancelFunc
	root   context.Context
	wake   chan struct{}
	done   chan struct{}
}

type utterance struct {
	text  string
	epoch uint64
}

func newNarrator(root context.Context, channel narration.Channel, enabled bool) *narrator {
	if channel == nil {
		channel = narration.NoopChannel{}
	}
	n := &narrator{
		channel: channel,
		enabled: enabled,
		root:    root,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	n.ectx, n.cancel = context.WithCancel(root)
	return n
}

func (n *narrator) active() bool {
	return n.enabled && n.channel.IsSupported()
}

// observeLocked queues speech for whatever the snapshot adds beyond the
// cursor. The first observation while active only seeds the cursor.
func (n *narrator) observeLocked(snap *models.Snapshot) {
	if snap == nil || !n.active() {
		return
	}

	if !n.seeded {
		n.seeded = true
		n.spokenDiscussion = len(snap.Discussion)
		n.spokenEvents = len(snap.Events)
		return
	}

	// A shorter log starts a new segment; nothing is spoken for the reset.
	if len(snap.Discussion) < n.spokenDiscussion {
		n.spokenDiscussion = len(snap.Discussion)
	}
	if len(snap.Events) < n.spokenEvents {
		n.spokenEvents = len(snap.Events)
	}

	newDiscussion := snap.Discussion[n.spokenDiscussion:]
	newEvents := snap.Events[n.spokenEvents:]
	if len(newDiscussion) == 0 && len(newEvents) == 0 {
		return
	}
	n.spokenDiscussion = len(snap.Discussion)
	n.spokenEvents = len(snap.Events)

	texts := make([]string, 0, len(newDiscussion)+len(newEvents))
	for _, msg := range newDiscussion {
		texts = append(texts, discussionText(msg))
	}
	for _, ev := range newEvents {
		texts = append(texts, ev.Message)
	}
	n.enqueue(texts)
}

// setEnabledLocked switches narration. Disabling drops the queue and stops
// the current utterance; enabling picks up everything past the cursor.
func (n *narrator) setEnabledLocked(enabled bool, snap *models.Snapshot) {
	if n.enabled == enabled {
		return
	}
	n.enabled = enabled
	if enabled {
		n.observeLocked(snap)
		return
	}
	n.cancelAll()
}

func (n *narrator) enqueue(texts []string) {
	n.qmu.Lock()
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		n.queue = append(n.queue, utterance{text: text, epoch: n.epoch})
	}
	n.qmu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// cancelAll empties the queue and interrupts the playing utterance.
func (n *narrator) cancelAll() {
	n.qmu.Lock()
	n.queue = nil
	n.epoch++
	n.cancel()
	n.ectx, n.cancel = context.WithCancel(n.root)
	n.qmu.Unlock()

	n.channel.CancelAll()
}

func (n *narrator) next() (utterance, context.Context, bool) {
	n.qmu.Lock()
	defer n.qmu.Unlock()
	for len(n.queue) > 0 {
		u := n.queue[0]
		n.queue = n.queue[1:]
		if u.epoch == n.epoch {
			return u, n.ectx, true
		}
	}
	return utterance{}, nil, false
}

// run is the single speech worker: one utterance at a time, in queue order.
func (n *narrator) run() {
	defer close(n.done)
	for {
		if n.root.Err() != nil {
			return
		}
		u, ctx, ok := n.next()
		if !ok {
			select {
			case <-n.root.Done():
				return
			case <-n.wake:
				continue
			}
		}

		if err := n.channel.Speak(ctx, u.text); err != nil && ctx.Err() == nil {
			nerr := &NarrationError{Text: u.text, Err: err}
			log.Debug().Err(nerr).Msg("narration failed")
		}
	}
}

func discussionText(msg models.DiscussionMessage) string {
	if strings.TrimSpace(msg.Statement) == "" {
		return ""
	}
	return msg.PlayerName + " says: " + msg.Statement
}
