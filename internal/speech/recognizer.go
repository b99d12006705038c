// Package speech turns microphone audio into transcript events.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aquavoice/internal/domain"
	applog "aquavoice/internal/log"
	"aquavoice/internal/ports"
	"aquavoice/internal/stream"
)

// ReasonNoSpeech is reported when a pass ends without any recognized text.
const ReasonNoSpeech = "No speech detected"

// Config controls recognition passes.
type Config struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	ChunkSize int
	// MaxUtterance ends a pass that never reaches a speech-final result. Zero disables it.
	MaxUtterance time.Duration
	// DrainTimeout bounds how long a finished pass waits for the provider to flush.
	DrainTimeout time.Duration
}

// Recognizer is the speech capture source: one pass per StartListening call.
type Recognizer struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	checks   []ports.Availability
	cfg      Config
	logger   *slog.Logger

	transcripts *stream.Queue[domain.TranscriptResult]
	states      *stream.Latest[domain.RecognitionState]

	mu          sync.Mutex
	initialized bool
	available   bool
	destroyed   bool
	passes      uint64
	current     *recognitionPass
}

type recognitionPass struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecognizer builds a recognizer. checks are consulted by Initialize to decide availability.
func NewRecognizer(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	cfg Config,
	logger *slog.Logger,
	checks ...ports.Availability,
) *Recognizer {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 4 * time.Second
	}
	return &Recognizer{
		audio:       audio,
		provider:    provider,
		checks:      checks,
		cfg:         cfg,
		logger:      applog.OrDiscard(logger).With("component", "speech"),
		transcripts: stream.NewQueue[domain.TranscriptResult](),
		states:      stream.NewLatest(domain.RecognitionState{Kind: domain.RecognitionIdle}),
	}
}

// Initialize binds the recognizer. When a check fails the state becomes
// NotAvailable and every later call is a no-op.
func (r *Recognizer) Initialize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized || r.destroyed {
		return
	}
	r.initialized = true

	for _, check := range r.checks {
		if err := check.Available(); err != nil {
			r.logger.Warn("speech recognition not available", "error", err)
			r.states.Publish(domain.RecognitionState{Kind: domain.RecognitionNotAvailable, Reason: err.Error()})
			return
		}
	}
	r.available = true
	r.states.Publish(domain.RecognitionState{Kind: domain.RecognitionIdle})
}

// StartListening begins a recognition pass and returns its id, or 0 when unavailable.
// Any pass still running is abandoned.
func (r *Recognizer) StartListening() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.available || r.destroyed {
		return 0
	}

	if r.current != nil {
		r.current.cancel()
	}

	r.passes++
	ctx, cancel := context.WithCancel(context.Background())
	pass := &recognitionPass{id: r.passes, cancel: cancel, done: make(chan struct{})}
	r.current = pass

	r.states.Publish(domain.RecognitionState{Kind: domain.RecognitionListening, Pass: pass.id})
	go r.runPass(ctx, pass)
	return pass.id
}

// StopListening ends the current pass early without producing a final result.
func (r *Recognizer) StopListening() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.available || r.destroyed {
		return
	}
	if r.current != nil {
		r.current.cancel()
		r.current = nil
	}
	r.states.Publish(domain.RecognitionState{Kind: domain.RecognitionIdle, Pass: r.passes})
}

// Destroy releases the recognizer and ends both streams.
func (r *Recognizer) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	pass := r.current
	r.current = nil
	r.mu.Unlock()

	if pass != nil {
		pass.cancel()
		select {
		case <-pass.done:
		case <-time.After(r.cfg.DrainTimeout):
			r.logger.Warn("recognition pass did not stop in time", "pass", pass.id)
		}
	}
	r.transcripts.Close()
	r.states.Close()
}

func (r *Recognizer) Transcripts() <-chan domain.TranscriptResult {
	return r.transcripts.C()
}

func (r *Recognizer) States() <-chan domain.RecognitionState {
	return r.states.C()
}

// State returns the current recognizer state.
func (r *Recognizer) State() domain.RecognitionState {
	return r.states.Value()
}

func (r *Recognizer) runPass(ctx context.Context, pass *recognitionPass) {
	defer close(pass.done)
	defer pass.cancel()

	session, err := r.provider.StartStreaming(ctx, r.cfg.Streaming)
	if err != nil {
		r.failPass(pass, fmt.Sprintf("recognizer unavailable: %v", err))
		return
	}

	capture, err := r.audio.Start(ctx, r.cfg.Audio)
	if err != nil {
		_ = session.Close()
		r.failPass(pass, fmt.Sprintf("microphone unavailable: %v", err))
		return
	}

	r.emitState(pass, domain.RecognitionState{Kind: domain.RecognitionReady})

	var (
		pumpMu  sync.Mutex
		pumpErr error
	)
	pumpDone := make(chan struct{})
	go pumpAudioChunks(capture, session, r.cfg.ChunkSize, func(err error) {
		pumpMu.Lock()
		pumpErr = err
		pumpMu.Unlock()
	}, pumpDone)

	var limit <-chan time.Time
	if r.cfg.MaxUtterance > 0 {
		timer := time.NewTimer(r.cfg.MaxUtterance)
		defer timer.Stop()
		limit = timer.C
	}

	aggregator := newTranscriptAggregator()
	speaking := false
	finishing := false
	finish := func() {
		if finishing {
			return
		}
		finishing = true
		if err := capture.Stop(); err != nil {
			r.logger.Warn("failed to stop audio capture cleanly", "error", err)
		}
		_ = session.CloseSend()
	}

	segments := session.Segments()
consume:
	for {
		select {
		case segment, ok := <-segments:
			if !ok {
				break consume
			}
			text := strings.TrimSpace(segment.Text)
			if text == "" {
				if segment.SpeechFinal && speaking {
					finish()
				}
				continue
			}
			if !speaking {
				speaking = true
				r.emitState(pass, domain.RecognitionState{Kind: domain.RecognitionSpeaking})
			}
			aggregator.Add(segment)
			if segment.IsFinal || segment.SpeechFinal {
				r.emitTranscript(pass, domain.Partial(aggregator.Preview("")))
			} else {
				r.emitTranscript(pass, domain.Partial(aggregator.Preview(text)))
			}
			if segment.SpeechFinal {
				finish()
			}
		case <-limit:
			limit = nil
			finish()
		case <-ctx.Done():
			_ = capture.Stop()
			_ = session.Close()
			<-pumpDone
			return
		}
	}

	finish()
	streamErr := waitForStream(session, r.cfg.DrainTimeout)
	<-pumpDone

	if ctx.Err() != nil {
		return
	}

	raw := aggregator.Raw()
	if raw == "" {
		pumpMu.Lock()
		captureErr := pumpErr
		pumpMu.Unlock()

		reason := ReasonNoSpeech
		switch {
		case streamErr != nil:
			reason = streamErr.Error()
		case captureErr != nil:
			reason = captureErr.Error()
		}
		r.failPass(pass, reason)
		return
	}
	if streamErr != nil {
		r.logger.Warn("transcription stream ended with error", "error", streamErr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != pass || r.destroyed {
		return
	}
	r.current = nil
	r.transcripts.Push(domain.Final(raw))
	r.states.Publish(domain.RecognitionState{Kind: domain.RecognitionIdle, Pass: pass.id})
}

func (r *Recognizer) failPass(pass *recognitionPass, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != pass || r.destroyed {
		return
	}
	r.current = nil
	r.logger.Info("recognition pass failed", "pass", pass.id, "reason", reason)
	r.states.Publish(domain.RecognitionState{Kind: domain.RecognitionError, Reason: reason, Pass: pass.id})
}

// emitState publishes state for pass only while it is still the current pass.
func (r *Recognizer) emitState(pass *recognitionPass, state domain.RecognitionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != pass || r.destroyed {
		return
	}
	state.Pass = pass.id
	r.states.Publish(state)
}

func (r *Recognizer) emitTranscript(pass *recognitionPass, result domain.TranscriptResult) {
	if result.Text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != pass || r.destroyed {
		return
	}
	r.transcripts.Push(result)
}
