package narration

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by channels that cannot produce speech on this host.
var ErrUnsupported = errors.New("speech is not supported")

// Channel is a single-utterance speech primitive. Speak blocks until the
// utterance finishes, fails, or is cancelled. Callers must not overlap Speak
// calls; CancelAll may be called concurrently and stops anything playing.
type Channel interface {
	Speak(ctx context.Context, text string) error
	CancelAll()
	IsSupported() bool
}

// NoopChannel is used when no speech backend is configured.
type NoopChannel struct{}

func (NoopChannel) Speak(ctx context.Context, text string) error { return ErrUnsupported }

func (NoopChannel) CancelAll() {}

func (NoopChannel) IsSupported() bool { return false }
