package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aquavoice/internal/domain"
	applog "aquavoice/internal/log"
	"aquavoice/internal/ports"
	"aquavoice/internal/stream"
)

// MessageConnectionFailed is shown once the channel gives up reconnecting.
const MessageConnectionFailed = "Connection failed after multiple attempts"

var (
	ErrNotStarted     = errors.New("voice session not started")
	ErrSessionClosed  = errors.New("voice session closed")
	ErrAlreadyStarted = errors.New("voice session already started")
)

// Config controls a voice session.
type Config struct {
	// PrimaryTankID is sent as tank_id with every message when set.
	PrimaryTankID string
	// SessionID overrides the generated session id.
	SessionID        string
	TankFetchTimeout time.Duration
}

// Dependencies are the collaborators a SessionController coordinates.
// Tanks, Corrections and Sink are optional.
type Dependencies struct {
	Channel     ports.VoiceChannel
	Speech      ports.SpeechSource
	Playback    ports.PlaybackSink
	Tanks       ports.TankSource
	Corrections ports.TextCorrector
	Sink        ports.StateSink
	Logger      *slog.Logger
}

// SessionController is the single owner of one voice session: its id, its
// transcript, and the merged UI state. All state changes happen on one loop.
type SessionController struct {
	deps      Dependencies
	cfg       Config
	sessionID string
	logger    *slog.Logger
	now       func() time.Time

	states   *stream.Latest[domain.UIState]
	actions  chan func(*loopState)
	outbound *stream.Queue[outboundText]

	mu       sync.Mutex
	started  bool
	closed   bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	sendDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

type outboundText struct {
	content  string
	metadata map[string]string
}

// loopState is owned by the event loop goroutine.
type loopState struct {
	ui    domain.UIState
	tanks []domain.Tank
	pass  uint64

	// finalPass is the latest pass whose Final has been handled.
	finalPass uint64
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.TankFetchTimeout <= 0 {
		cfg.TankFetchTimeout = 15 * time.Second
	}
	logger := applog.OrDiscard(deps.Logger).With("component", "session", "session_id", cfg.SessionID)
	return &SessionController{
		deps:      deps,
		cfg:       cfg,
		sessionID: cfg.SessionID,
		logger:    logger,
		now:       time.Now,
		states:    stream.NewLatest(initialUIState()),
		actions:   make(chan func(*loopState)),
		outbound:  stream.NewQueue[outboundText](),
		loopDone:  make(chan struct{}),
		sendDone:  make(chan struct{}),
	}
}

func initialUIState() domain.UIState {
	return domain.UIState{Status: domain.SessionStatusDisconnected, Transcript: []domain.VoiceMessage{}}
}

// SessionID returns the id generated for this session.
func (c *SessionController) SessionID() string {
	return c.sessionID
}

// Start runs the startup sequence and the event loop. It does not block on I/O.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.deps.Tanks != nil {
		go c.fetchTanks(loopCtx)
	}
	c.deps.Speech.Initialize()
	c.deps.Playback.Initialize()
	c.deps.Channel.Connect(c.sessionID)

	go c.loop(loopCtx)
	go c.sendLoop(loopCtx)

	c.logger.Info("voice session started", "primary_tank", c.cfg.PrimaryTankID)
	return nil
}

// StartListening begins a recognition pass. isListening flips immediately.
func (c *SessionController) StartListening() error {
	return c.do(func(st *loopState) {
		st.ui.IsListening = true
		pass := c.deps.Speech.StartListening()
		if pass == 0 {
			c.logger.Info("speech recognition unavailable, ignoring listen request")
			st.ui.IsListening = false
			return
		}
		st.pass = pass
	})
}

// StopListening ends the current recognition pass without sending anything.
func (c *SessionController) StopListening() error {
	return c.do(func(st *loopState) {
		st.ui.IsListening = false
		c.deps.Speech.StopListening()
	})
}

// SendTextMessage appends a typed message to the transcript and transmits it.
func (c *SessionController) SendTextMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.do(func(st *loopState) {
		c.submitUserText(st, text)
	})
}

// Retry reconnects with the same session id and a fresh retry budget.
func (c *SessionController) Retry() error {
	return c.do(func(st *loopState) {
		c.logger.Info("retrying voice connection")
		st.ui.Error = ""
		c.deps.Channel.Disconnect()
		c.deps.Channel.Connect(c.sessionID)
	})
}

// State returns the latest merged UI state.
func (c *SessionController) State() domain.UIState {
	return c.states.Value()
}

// States is a coalescing stream of merged UI states.
func (c *SessionController) States() <-chan domain.UIState {
	return c.states.C()
}

// Close stops the loop, then disconnects the channel, destroys speech capture
// and releases playback. Each step runs even if another fails.
func (c *SessionController) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		cancel := c.cancel
		c.mu.Unlock()

		if started {
			cancel()
			<-c.loopDone
			c.outbound.Close()
			<-c.sendDone
		} else {
			c.outbound.Close()
		}

		c.closeErr = errors.Join(
			isolate("channel", func() error {
				c.deps.Channel.Disconnect()
				return c.deps.Channel.Close()
			}),
			isolate("speech", func() error {
				c.deps.Speech.Destroy()
				return nil
			}),
			isolate("playback", func() error {
				c.deps.Playback.Release()
				return nil
			}),
		)
		if c.closeErr != nil {
			c.logger.Warn("voice session teardown incomplete", "error", c.closeErr)
		}
		c.states.Close()
		c.logger.Info("voice session closed")
	})
	return c.closeErr
}

func isolate(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s teardown panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s teardown: %w", name, err)
	}
	return nil
}

// do hands fn to the event loop and waits until it has run.
func (c *SessionController) do(fn func(*loopState)) error {
	c.mu.Lock()
	started, closed := c.started, c.closed
	c.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if !started {
		return ErrNotStarted
	}

	ran := make(chan struct{})
	select {
	case c.actions <- func(st *loopState) {
		defer close(ran)
		fn(st)
		c.publish(st)
	}:
	case <-c.loopDone:
		return ErrSessionClosed
	}
	<-ran
	return nil
}

func (c *SessionController) fetchTanks(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.TankFetchTimeout)
	defer cancel()

	tanks, err := c.deps.Tanks.FetchAllTanks(fetchCtx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("tank context unavailable, continuing without it", "error", err)
		}
		return
	}
	c.logger.Debug("tank context loaded", "count", len(tanks))

	select {
	case c.actions <- func(st *loopState) { st.tanks = tanks }:
	case <-ctx.Done():
	}
}

func (c *SessionController) loop(ctx context.Context) {
	defer close(c.loopDone)

	st := &loopState{ui: initialUIState()}

	connStates := c.deps.Channel.States()
	messages := c.deps.Channel.Messages()
	transcripts := c.deps.Speech.Transcripts()
	recognition := c.deps.Speech.States()
	playback := c.deps.Playback.States()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.actions:
			fn(st)
			continue
		case cs, ok := <-connStates:
			if !ok {
				connStates = nil
				continue
			}
			c.onConnectionState(st, cs)
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			c.onMessage(ctx, st, msg)
		case tr, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			c.onTranscript(st, tr)
		case rs, ok := <-recognition:
			if !ok {
				recognition = nil
				continue
			}
			c.onRecognitionState(st, rs)
		case ps, ok := <-playback:
			if !ok {
				playback = nil
				continue
			}
			c.onPlaybackState(st, ps)
		}
		c.publish(st)
	}
}

func (c *SessionController) onConnectionState(st *loopState, cs domain.ConnectionState) {
	switch cs.Kind {
	case domain.ConnectionConnecting:
		st.ui.Status = domain.SessionStatusConnecting
	case domain.ConnectionConnected:
		st.ui.Status = domain.SessionStatusConnected
		st.ui.Error = ""
	case domain.ConnectionDisconnected:
		st.ui.Status = domain.SessionStatusDisconnected
	case domain.ConnectionError:
		st.ui.Status = domain.SessionStatusError
		st.ui.Error = cs.Message
	case domain.ConnectionFailed:
		st.ui.Status = domain.SessionStatusError
		st.ui.Error = MessageConnectionFailed
	}
}

func (c *SessionController) onMessage(ctx context.Context, st *loopState, msg domain.VoiceMessage) {
	st.ui.Transcript = append(st.ui.Transcript, msg)
	st.ui.IsThinking = false

	if msg.Kind != domain.MessageKindAudio {
		return
	}
	url := msg.Data["url"]
	if url == "" {
		url = strings.TrimSpace(msg.Content)
	}
	if url == "" {
		c.logger.Warn("audio message without a url")
		return
	}
	c.deps.Playback.PlayURL(ctx, url)
}

func (c *SessionController) onTranscript(st *loopState, tr domain.TranscriptResult) {
	text := tr.Text
	if c.deps.Corrections != nil {
		text = c.deps.Corrections.Apply(text)
	}
	if !tr.Final {
		st.ui.CurrentPartialText = text
		return
	}
	st.finalPass = st.pass
	if strings.TrimSpace(text) == "" {
		st.ui.CurrentPartialText = ""
		return
	}
	c.submitUserText(st, text)
}

// onRecognitionState ignores states from passes older than the latest one so a
// late Idle cannot undo the optimistic isListening flip of a newer pass. A pass
// that already delivered its Final can only lower isListening.
func (c *SessionController) onRecognitionState(st *loopState, rs domain.RecognitionState) {
	if rs.Pass < st.pass {
		return
	}
	rising := rs.Kind == domain.RecognitionListening ||
		rs.Kind == domain.RecognitionReady ||
		rs.Kind == domain.RecognitionSpeaking
	if rising && rs.Pass <= st.finalPass {
		return
	}
	switch rs.Kind {
	case domain.RecognitionIdle, domain.RecognitionNotAvailable:
		st.ui.IsListening = false
	case domain.RecognitionError:
		st.ui.IsListening = false
		c.logger.Info("speech recognition ended with error", "reason", rs.Reason, "pass", rs.Pass)
	case domain.RecognitionListening, domain.RecognitionReady, domain.RecognitionSpeaking:
		st.ui.IsListening = true
	}
}

func (c *SessionController) onPlaybackState(st *loopState, ps domain.PlaybackState) {
	switch ps.Kind {
	case domain.PlaybackPlaying:
		st.ui.IsSpeaking = true
	case domain.PlaybackCompleted, domain.PlaybackIdle, domain.PlaybackError:
		st.ui.IsSpeaking = false
		if ps.Kind == domain.PlaybackError {
			c.logger.Warn("audio playback failed", "error", ps.Message)
		}
	}
}

func (c *SessionController) submitUserText(st *loopState, text string) {
	st.ui.Transcript = append(st.ui.Transcript, domain.VoiceMessage{
		Kind:      domain.MessageKindText,
		Content:   text,
		Timestamp: c.now(),
		FromUser:  true,
	})
	st.ui.CurrentPartialText = ""
	st.ui.IsListening = false
	st.ui.IsThinking = true

	c.outbound.Push(outboundText{
		content:  text,
		metadata: BuildMetadata(c.cfg.PrimaryTankID, st.tanks),
	})
}

func (c *SessionController) publish(st *loopState) {
	snapshot := st.ui
	snapshot.Transcript = slices.Clone(st.ui.Transcript)
	c.states.Publish(snapshot)
	if c.deps.Sink != nil {
		c.deps.Sink.VoiceStateChanged(snapshot)
	}
}

// sendLoop transmits outbound text in order without blocking the event loop.
func (c *SessionController) sendLoop(ctx context.Context) {
	defer close(c.sendDone)
	for msg := range c.outbound.C() {
		c.deps.Channel.Send(ctx, msg.content, msg.metadata)
	}
}
