package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	applog "aquavoice/internal/log"
	"aquavoice/internal/ports"
)

// ErrPlaybackStopped is returned by Wait after Stop.
var ErrPlaybackStopped = errors.New("playback stopped")

// FFPlayBackend plays remote audio URLs through a headless ffplay process.
type FFPlayBackend struct {
	command string
	logger  *slog.Logger
}

func NewFFPlayBackend(command string, logger *slog.Logger) *FFPlayBackend {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlayBackend{command: command, logger: applog.OrDiscard(logger).With("component", "audio.playback")}
}

// Available reports whether the playback binary can be found.
func (b *FFPlayBackend) Available() error {
	if _, err := exec.LookPath(b.command); err != nil {
		return fmt.Errorf("audio playback unavailable: %w", err)
	}
	return nil
}

func (b *FFPlayBackend) Load(ctx context.Context, url string) (ports.MediaSession, error) {
	if url == "" {
		return nil, errors.New("empty media url")
	}

	cmd := exec.CommandContext(ctx, b.command,
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		url,
	)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}
	b.logger.Debug("playback started", "url", url, "pid", cmd.Process.Pid)

	return &ffplaySession{proc: startProcess(cmd, stderr)}, nil
}

type ffplaySession struct {
	proc *process

	mu      sync.Mutex
	stopped bool
}

func (s *ffplaySession) Pause() error {
	if s.proc.done() {
		return nil
	}
	return suspendProcess(s.proc.proc)
}

func (s *ffplaySession) Resume() error {
	if s.proc.done() {
		return nil
	}
	return resumeProcess(s.proc.proc)
}

func (s *ffplaySession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	// A suspended process ignores everything but SIGKILL.
	return s.proc.terminate(os.Kill)
}

func (s *ffplaySession) Wait() error {
	err := s.proc.wait()

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrPlaybackStopped
	}

	if err != nil {
		if detail := s.proc.stderr.Trimmed(); detail != "" {
			return fmt.Errorf("ffplay failed: %w: %s", err, detail)
		}
		return fmt.Errorf("ffplay failed: %w", err)
	}
	return nil
}
