package narration

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ExecChannel speaks by running a local text-to-speech command (espeak, say,
// piper...) with the utterance appended as the last argument.
type ExecChannel struct {
	command string
	args    []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewExecChannel(command string, args ...string) *ExecChannel {
	return &ExecChannel{command: command, args: args}
}

func (e *ExecChannel) IsSupported() bool {
	if e.command == "" {
		return false
	}
	_, err := exec.LookPath(e.command)
	return err == nil
}

func (e *ExecChannel) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	args := append(append([]string{}, e.args...), text)
	cmd := exec.CommandContext(ctx, e.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Orphaned children of a killed shell can hold the stderr pipe open.
	cmd.WaitDelay = time.Second

	log.Debug().Str("command", e.command).Int("chars", len(text)).Msg("speaking")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("failed to run %s: %w: %s", e.command, err, msg)
		}
		return fmt.Errorf("failed to run %s: %w", e.command, err)
	}
	return nil
}

// CancelAll kills the running speech process, if any.
func (e *ExecChannel) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}
