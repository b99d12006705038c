// Package audio drives the ffmpeg tool family for microphone capture and playback.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	applog "aquavoice/internal/log"
	"aquavoice/internal/ports"
)

const (
	captureStartupGrace = 250 * time.Millisecond
	stopGrace           = 1200 * time.Millisecond
)

// FFMPEGCapture streams microphone PCM audio using ffmpeg.
type FFMPEGCapture struct {
	command string
	logger  *slog.Logger
}

func NewFFMPEGCapture(command string, logger *slog.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, logger: applog.OrDiscard(logger).With("component", "audio.capture")}
}

// Available reports whether the capture binary can be found.
func (c *FFMPEGCapture) Available() error {
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("microphone capture unavailable: %w", err)
	}
	return nil
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	proc := startProcess(cmd, stderr)

	select {
	case <-proc.exited:
		if err := proc.result; err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stderr.Trimmed())
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(captureStartupGrace):
	}

	c.logger.Debug("microphone capture started",
		"device", cfg.InputDevice, "format", cfg.InputFormat, "sample_rate", cfg.SampleRate)

	return &ffmpegSession{
		stdout: stdout,
		proc:   proc,
	}, nil
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

type ffmpegSession struct {
	stdout io.ReadCloser
	proc   *process

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.proc.terminate(os.Interrupt)

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}
	})

	return s.stopErr
}

// process wraps a started subprocess with a single Wait result.
type process struct {
	proc   *os.Process
	exited chan struct{}
	result error
	stderr *syncBuffer
}

func startProcess(cmd *exec.Cmd, stderr *syncBuffer) *process {
	p := &process{proc: cmd.Process, exited: make(chan struct{}), stderr: stderr}
	go func() {
		p.result = cmd.Wait()
		close(p.exited)
	}()
	return p
}

// wait blocks until the process exits and returns its raw exit error.
func (p *process) wait() error {
	<-p.exited
	return p.result
}

func (p *process) done() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// terminate asks the process to exit with sig and kills it after stopGrace.
func (p *process) terminate(sig os.Signal) error {
	if p.proc != nil && !p.done() {
		_ = p.proc.Signal(sig)
	}

	select {
	case <-p.exited:
	case <-time.After(stopGrace):
		if p.proc != nil {
			_ = p.proc.Kill()
		}
	}

	err := normalizeStopErr(p.wait())
	if err != nil && p.stderr != nil {
		if detail := p.stderr.Trimmed(); detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
	}
	return err
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer collects subprocess stderr; exec writes to it from its own goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
