package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aquavoice/internal/ports"
)

const (
	segmentBuffer = 64
	audioBuffer   = 32
)

var (
	errSendClosed    = errors.New("audio stream is already closed")
	errSessionClosed = errors.New("transcription session closed")

	closeStreamMessage = []byte(`{"type":"CloseStream"}`)
	keepAliveMessage   = []byte(`{"type":"KeepAlive"}`)
)

// streamingSession is one open /listen socket. writeLoop owns all writes,
// readLoop all reads; done closes when both have returned.
type streamingSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	keepAlive time.Duration

	segments     chan ports.Segment
	audio        chan []byte
	writerExited chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup

	errMu sync.Mutex
	err   error

	sendMu     sync.Mutex
	sendClosed bool
	closeOnce  sync.Once
}

func newStreamingSession(conn *websocket.Conn, logger *slog.Logger, keepAlive time.Duration) *streamingSession {
	return &streamingSession{
		conn:         conn,
		logger:       logger,
		keepAlive:    keepAlive,
		segments:     make(chan ports.Segment, segmentBuffer),
		audio:        make(chan []byte, audioBuffer),
		writerExited: make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (s *streamingSession) start(ctx context.Context) {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.segments)
		close(s.done)
		_ = s.conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
}

// SendAudio queues one PCM chunk. It fails once CloseSend was called or the
// writer has stopped.
func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return errSendClosed
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.writerExited:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errSessionClosed
	}
}

// CloseSend finishes the audio stream; Deepgram flushes the remaining results.
func (s *streamingSession) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.audio)
	}
	return nil
}

func (s *streamingSession) Segments() <-chan ports.Segment {
	return s.segments
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		// Closing the socket first unblocks a writer stuck on the network,
		// which in turn releases a SendAudio waiting for buffer space.
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// setErr records the first real failure. Orderly closes are not failures.
func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	if isOrderlyClose(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// isOrderlyClose looks through wrapping for a close frame the server sent on purpose.
func isOrderlyClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()
	defer close(s.writerExited)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, closeStreamMessage); err != nil {
					s.setErr(fmt.Errorf("close audio stream: %w", err))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("send audio: %w", err))
				return
			}
			ticker.Reset(s.keepAlive)
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, keepAliveMessage); err != nil {
				s.setErr(fmt.Errorf("send keep-alive: %w", err))
				return
			}
		}
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()

	heard := false
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("read provider event: %w", err))
			return
		}

		ev, kind, err := decodeEvent(payload)
		if err != nil {
			s.logger.Debug("ignoring undecodable provider frame", "error", err)
			continue
		}

		switch kind {
		case eventResults:
			segment := ev.segment()
			if segment.Text == "" {
				continue
			}
			heard = true
			s.emit(segment)
		case eventUtteranceEnd:
			// Ends the utterance when speech_final never arrived, e.g. over background noise.
			if heard {
				s.emit(ports.Segment{SpeechFinal: true})
			}
		case eventSpeechStarted:
			s.logger.Debug("speech started")
		case eventMetadata:
			s.logger.Debug("transcription stream metadata", "request_id", ev.RequestID)
		case eventError:
			s.setErr(errors.New(ev.errorMessage()))
			return
		}
	}
}

// emit never blocks the read loop; a consumer that falls segmentBuffer behind loses text.
func (s *streamingSession) emit(segment ports.Segment) {
	select {
	case s.segments <- segment:
	default:
		s.logger.Warn("dropping transcript segment, consumer is behind", "final", segment.IsFinal)
	}
}
