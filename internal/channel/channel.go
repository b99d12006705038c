// Package channel maintains the persistent websocket link to the voice backend.
//
// A single actor goroutine owns the socket, the session id and the retry
// counter. Everything else talks to it through its inbox and observes it
// through the Messages and States streams.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aquavoice/internal/domain"
	applog "aquavoice/internal/log"
	"aquavoice/internal/stream"
)

const (
	DefaultMaxRetries   = 5
	DefaultRetryStep    = 2 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock schedules on the runtime timer.
type SystemClock struct{}

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config controls the voice channel.
type Config struct {
	// BaseURL is the websocket base; the session id is appended as the last path segment.
	BaseURL string
	// MaxRetries bounds automatic reconnects after consecutive transport failures.
	// Zero selects the default; negative disables reconnects.
	MaxRetries int
	// RetryStep is multiplied by the attempt number to get the reconnect delay.
	RetryStep time.Duration
	// PingInterval enables keep-alive pings. Negative disables them.
	PingInterval time.Duration
	WriteTimeout time.Duration

	Dialer *websocket.Dialer
	Header http.Header
	Clock  Clock
}

// Channel is the voice backend connection. It is safe for concurrent use.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	inbox    chan event
	messages *stream.Queue[domain.VoiceMessage]
	states   *stream.Latest[domain.ConnectionState]

	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, logger *slog.Logger) *Channel {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = DefaultRetryStep
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:      cfg,
		logger:   applog.OrDiscard(logger).With("component", "voice.channel"),
		inbox:    make(chan event),
		messages: stream.NewQueue[domain.VoiceMessage](),
		states:   stream.NewLatest(domain.ConnectionState{Kind: domain.ConnectionDisconnected}),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Connect opens the link for sessionID, replacing any existing socket.
// A caller-initiated connect starts with a fresh retry budget.
func (c *Channel) Connect(sessionID string) {
	c.post(connectCmd{sessionID: sessionID})
}

// Send transmits a text message. It never fails: without an active session
// the message is logged and dropped.
func (c *Channel) Send(ctx context.Context, content string, metadata map[string]string) {
	ack := make(chan struct{})
	if !c.post(sendCmd{content: content, metadata: metadata, ack: ack}) {
		c.logger.Warn("dropping message, channel closed")
		return
	}
	select {
	case <-ack:
	case <-ctx.Done():
	case <-c.stopped:
	}
}

// Disconnect closes the link with a normal closure and forgets the session.
func (c *Channel) Disconnect() {
	ack := make(chan struct{})
	if !c.post(disconnectCmd{ack: ack}) {
		return
	}
	select {
	case <-ack:
	case <-c.stopped:
	}
}

// Messages delivers every inbound message in arrival order.
func (c *Channel) Messages() <-chan domain.VoiceMessage {
	return c.messages.C()
}

// States delivers connection states; a lagging reader sees only the latest.
func (c *Channel) States() <-chan domain.ConnectionState {
	return c.states.C()
}

// State returns the current connection state.
func (c *Channel) State() domain.ConnectionState {
	return c.states.Value()
}

// Close stops the actor, cancels any scheduled reconnect and ends both streams.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.stopped
		c.messages.Close()
		c.states.Close()
	})
	return nil
}

type event interface{}

type connectCmd struct {
	sessionID string
}

type sendCmd struct {
	content  string
	metadata map[string]string
	ack      chan struct{}
}

type disconnectCmd struct {
	ack chan struct{}
}

type dialResult struct {
	gen  uint64
	conn *websocket.Conn
	err  error
}

type readFailed struct {
	gen uint64
	err error
}

type retryFired struct {
	gen uint64
}

// actorState is touched only by the run goroutine.
type actorState struct {
	sessionID string
	retries   int
	gen       uint64
	conn      *websocket.Conn
	timer     Timer
}

func (c *Channel) post(ev event) bool {
	select {
	case c.inbox <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Channel) run() {
	defer close(c.stopped)

	var st actorState
	for {
		select {
		case <-c.ctx.Done():
			c.stopTimer(&st)
			c.closeConn(&st, true)
			return
		case ev := <-c.inbox:
			c.handle(&st, ev)
		}
	}
}

func (c *Channel) handle(st *actorState, ev event) {
	switch ev := ev.(type) {
	case connectCmd:
		st.retries = 0
		c.startConnect(st, ev.sessionID)

	case retryFired:
		if ev.gen != st.gen || st.sessionID == "" {
			return
		}
		c.logger.Info("reconnecting", "session_id", st.sessionID, "attempt", st.retries)
		c.startConnect(st, st.sessionID)

	case dialResult:
		if ev.gen != st.gen {
			if ev.conn != nil {
				_ = ev.conn.Close()
			}
			return
		}
		if ev.err != nil {
			c.fail(st, ev.err)
			return
		}
		st.conn = ev.conn
		st.retries = 0
		c.logger.Info("connected", "session_id", st.sessionID)
		c.states.Publish(domain.ConnectionState{Kind: domain.ConnectionConnected})
		go c.readLoop(ev.gen, ev.conn)
		if c.cfg.PingInterval > 0 {
			go c.pingLoop(ev.conn)
		}

	case readFailed:
		if ev.gen != st.gen || st.conn == nil {
			return
		}
		// 1006 is synthesized locally when the socket drops without a close frame.
		var closeErr *websocket.CloseError
		if errors.As(ev.err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
			c.logger.Info("peer closed connection", "code", closeErr.Code, "reason", closeErr.Text)
			c.closeConn(st, true)
			c.states.Publish(domain.ConnectionState{Kind: domain.ConnectionDisconnected})
			return
		}
		c.fail(st, ev.err)

	case sendCmd:
		c.send(st, ev)
		close(ev.ack)

	case disconnectCmd:
		c.stopTimer(st)
		c.closeConn(st, true)
		st.gen++
		st.sessionID = ""
		st.retries = 0
		c.states.Publish(domain.ConnectionState{Kind: domain.ConnectionDisconnected})
		close(ev.ack)
	}
}

func (c *Channel) startConnect(st *actorState, sessionID string) {
	c.stopTimer(st)
	c.closeConn(st, true)

	st.gen++
	st.sessionID = sessionID
	gen := st.gen

	endpoint, err := endpointURL(c.cfg.BaseURL, sessionID)
	if err != nil {
		c.fail(st, err)
		return
	}

	c.states.Publish(domain.ConnectionState{Kind: domain.ConnectionConnecting})
	go func() {
		conn, resp, err := c.cfg.Dialer.DialContext(c.ctx, endpoint, c.cfg.Header)
		if err != nil && resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		if !c.post(dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

// fail reports a transport failure and schedules the next attempt, if any remain.
func (c *Channel) fail(st *actorState, err error) {
	c.closeConn(st, false)

	message := err.Error()
	c.logger.Warn("voice channel failure", "error", message, "retries", st.retries)
	c.states.Publish(domain.ConnectionState{Kind: domain.ConnectionError, Message: message})

	if st.retries >= c.cfg.MaxRetries {
		c.logger.Error("giving up on voice channel", "attempts", st.retries)
		c.states.Publish(domain.ConnectionState{Kind: domain.ConnectionFailed})
		return
	}

	st.retries++
	delay := c.cfg.RetryStep * time.Duration(st.retries)
	gen := st.gen
	st.timer = c.cfg.Clock.AfterFunc(delay, func() {
		c.post(retryFired{gen: gen})
	})
}

func (c *Channel) send(st *actorState, cmd sendCmd) {
	if st.conn == nil || st.sessionID == "" {
		c.logger.Warn("dropping message, no active session")
		return
	}

	payload, err := encodeText(st.sessionID, cmd.content, cmd.metadata)
	if err != nil {
		c.logger.Error("failed to encode message", "error", err)
		return
	}

	_ = st.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := st.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// The read loop observes the broken socket and drives the failure path.
		c.logger.Warn("failed to send message", "error", err)
		_ = st.conn.Close()
	}
}

func (c *Channel) stopTimer(st *actorState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (c *Channel) closeConn(st *actorState, graceful bool) {
	if st.conn == nil {
		return
	}
	if graceful {
		_ = st.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	_ = st.conn.Close()
	st.conn = nil
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	if c.cfg.PingInterval > 0 {
		wait := 2 * c.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.post(readFailed{gen: gen, err: err})
			return
		}

		msg, err := decodeFrame(payload, time.Now)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.messages.Push(msg)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func endpointURL(base string, sessionID string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("voice channel base url is not configured")
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	endpoint := base + "/" + url.PathEscape(sessionID)
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("invalid voice channel url: %w", err)
	}
	return endpoint, nil
}
