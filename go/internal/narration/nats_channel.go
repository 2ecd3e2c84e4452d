package narration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const DefaultSubjectPrefix = "narration"

// Requester defines what NATSChannel needs from the NATS connection.
// *nats.Conn satisfies it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	Publish(subj string, data []byte) error
}

type connectedChecker interface {
	IsConnected() bool
}

// SpeakRequest is sent on <prefix>.speak; a speaker service replies once the
// utterance has finished playing.
type SpeakRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SpeakReply is the speaker service's answer. A non-empty Error means the
// utterance failed.
type SpeakReply struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// NATSChannel delegates speech to a remote speaker service over NATS
// request/reply, so the observer can run headless next to a kiosk that owns
// the audio device.
type NATSChannel struct {
	nc      Requester
	prefix  string
	timeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewNATSChannel(nc Requester, prefix string, timeout time.Duration) *NATSChannel {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NATSChannel{nc: nc, prefix: prefix, timeout: timeout}
}

func (n *NATSChannel) speakSubject() string  { return n.prefix + ".speak" }
func (n *NATSChannel) cancelSubject() string { return n.prefix + ".cancel" }

func (n *NATSChannel) IsSupported() bool {
	if n.nc == nil {
		return false
	}
	if c, ok := n.nc.(connectedChecker); ok {
		return c.IsConnected()
	}
	return true
}

func (n *NATSChannel) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.cancel = nil
		n.mu.Unlock()
	}()

	req := SpeakRequest{ID: uuid.NewString(), Text: text}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal speak request: %w", err)
	}

	msg, err := n.nc.RequestWithContext(ctx, n.speakSubject(), data)
	if err != nil {
		return fmt.Errorf("failed to request speech: %w", err)
	}

	var reply SpeakReply
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			return fmt.Errorf("failed to parse speak reply: %w", err)
		}
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}
	return nil
}

// CancelAll abandons the pending request and tells the speaker to stop.
func (n *NATSChannel) CancelAll() {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	n.mu.Unlock()

	if n.nc == nil {
		return
	}
	if err := n.nc.Publish(n.cancelSubject(), nil); err != nil {
		log.Debug().Err(err).Str("subject", n.cancelSubject()).Msg("failed to publish speech cancel")
	}
}
