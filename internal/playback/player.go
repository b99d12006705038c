// Package playback is the audio playback sink: a small state machine over a media backend.
package playback

import (
	"context"
	"log/slog"
	"sync"

	"aquavoice/internal/domain"
	applog "aquavoice/internal/log"
	"aquavoice/internal/ports"
	"aquavoice/internal/stream"
)

// Player plays one remote audio resource at a time.
type Player struct {
	backend ports.MediaBackend
	logger  *slog.Logger
	states  *stream.Latest[domain.PlaybackState]

	mu          sync.Mutex
	initialized bool
	gen         uint64
	session     ports.MediaSession
	cancel      context.CancelFunc
}

func NewPlayer(backend ports.MediaBackend, logger *slog.Logger) *Player {
	return &Player{
		backend: backend,
		logger:  applog.OrDiscard(logger).With("component", "playback"),
		states:  stream.NewLatest(domain.PlaybackState{Kind: domain.PlaybackIdle}),
	}
}

// Initialize makes the player usable. Calling it again is a no-op.
func (p *Player) Initialize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return
	}
	p.initialized = true
	p.logger.Debug("player initialized")
}

// PlayURL replaces whatever is playing with url. Progress is reported on States.
func (p *Player) PlayURL(ctx context.Context, url string) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		p.logger.Debug("ignoring play request before initialize")
		return
	}
	previous := p.detachLocked()
	p.gen++
	gen := p.gen
	playCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.states.Publish(domain.PlaybackState{Kind: domain.PlaybackBuffering})
	p.mu.Unlock()

	stopSession(previous, p.logger)
	go p.play(playCtx, gen, url)
}

func (p *Player) play(ctx context.Context, gen uint64, url string) {
	session, err := p.backend.Load(ctx, url)
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen == gen {
			p.logger.Warn("failed to load audio", "url", url, "error", err)
			p.states.Publish(domain.PlaybackState{Kind: domain.PlaybackError, Message: err.Error()})
		}
		return
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		stopSession(session, p.logger)
		return
	}
	p.session = session
	p.states.Publish(domain.PlaybackState{Kind: domain.PlaybackPlaying})
	p.mu.Unlock()

	err = session.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.session = nil
	if err != nil {
		p.logger.Warn("playback failed", "url", url, "error", err)
		p.states.Publish(domain.PlaybackState{Kind: domain.PlaybackError, Message: err.Error()})
		return
	}
	p.states.Publish(domain.PlaybackState{Kind: domain.PlaybackCompleted})
}

func (p *Player) Pause() {
	p.control(domain.PlaybackPaused, ports.MediaSession.Pause)
}

func (p *Player) Resume() {
	p.control(domain.PlaybackPlaying, ports.MediaSession.Resume)
}

func (p *Player) control(next domain.PlaybackKind, op func(ports.MediaSession) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized || p.session == nil {
		return
	}
	if err := op(p.session); err != nil {
		p.logger.Warn("playback control failed", "state", next, "error", err)
		p.states.Publish(domain.PlaybackState{Kind: domain.PlaybackError, Message: err.Error()})
		return
	}
	p.states.Publish(domain.PlaybackState{Kind: next})
}

// Stop ends playback and returns to Idle.
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return
	}
	session := p.detachLocked()
	p.gen++
	p.states.Publish(domain.PlaybackState{Kind: domain.PlaybackIdle})
	p.mu.Unlock()

	stopSession(session, p.logger)
}

// Release stops playback and tears the player down until the next Initialize.
func (p *Player) Release() {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
}

func (p *Player) States() <-chan domain.PlaybackState {
	return p.states.C()
}

func (p *Player) State() domain.PlaybackState {
	return p.states.Value()
}

func (p *Player) detachLocked() ports.MediaSession {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	session := p.session
	p.session = nil
	return session
}

func stopSession(session ports.MediaSession, logger *slog.Logger) {
	if session == nil {
		return
	}
	if err := session.Stop(); err != nil {
		logger.Warn("failed to stop media session", "error", err)
	}
}
