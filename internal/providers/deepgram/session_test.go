package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applog "aquavoice/internal/log"
	"aquavoice/internal/ports"
)

func TestSendAudioAfterCloseSendFails(t *testing.T) {
	t.Parallel()

	s := newStreamingSession(nil, applog.Discard(), time.Second)
	require.NoError(t, s.CloseSend())
	require.NoError(t, s.CloseSend())

	assert.ErrorIs(t, s.SendAudio([]byte("x")), errSendClosed)
	assert.NoError(t, s.SendAudio(nil))
}

func TestSetErrIgnoresOrderlyCloseAndKeepsFirst(t *testing.T) {
	t.Parallel()

	s := newStreamingSession(nil, applog.Discard(), time.Second)
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	assert.NoError(t, s.waitErr())

	s.setErr(fmt.Errorf("read provider event: %w",
		&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.NoError(t, s.waitErr())

	s.setErr(fmt.Errorf("read provider event: %w",
		&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	require.Error(t, s.waitErr())
	assert.Contains(t, s.waitErr().Error(), "1006")
}

func TestSetErrKeepsFirstFailure(t *testing.T) {
	t.Parallel()

	s := newStreamingSession(nil, applog.Discard(), time.Second)
	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	assert.EqualError(t, s.waitErr(), "first")
}

func TestStreamingSessionDeliversSegments(t *testing.T) {
	t.Parallel()

	auth := make(chan string, 1)
	query := make(chan string, 1)
	srv := newDeepgramServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		query <- r.URL.RawQuery

		writeFrames(conn,
			`not json`,
			`{"type":"Metadata","request_id":"req-1"}`,
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"feed"}]}}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
			`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"feed tank one"}]}}`,
		)
		closeOnCloseStream(conn)
	})

	p := NewProvider(Config{APIKey: "secret", APIBaseURL: srv.URL, Keywords: []string{"tilapia"}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := p.StartStreaming(ctx, ports.StreamingConfig{InterimResults: true})
	require.NoError(t, err)
	require.NoError(t, session.SendAudio([]byte{0, 1, 2, 3}))

	assert.Equal(t, ports.Segment{Text: "feed"}, nextSegment(t, session))
	assert.Equal(t, ports.Segment{Text: "feed tank one", IsFinal: true, SpeechFinal: true}, nextSegment(t, session))

	require.NoError(t, session.CloseSend())
	assert.NoError(t, session.Wait())
	assert.Equal(t, "Token secret", <-auth)
	assert.Contains(t, <-query, "keywords=tilapia")

	_, open := <-session.Segments()
	assert.False(t, open)
}

func TestStreamingSessionUtteranceEndAfterSpeech(t *testing.T) {
	t.Parallel()

	srv := newDeepgramServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeFrames(conn,
			`{"type":"UtteranceEnd"}`,
			`{"type":"SpeechStarted"}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"check pond two"}]}}`,
			`{"type":"UtteranceEnd"}`,
		)
		closeOnCloseStream(conn)
	})

	p := NewProvider(Config{APIKey: "secret", APIBaseURL: srv.URL}, nil)
	session, err := p.StartStreaming(context.Background(), ports.StreamingConfig{InterimResults: true})
	require.NoError(t, err)

	assert.Equal(t, ports.Segment{Text: "check pond two", IsFinal: true}, nextSegment(t, session))
	assert.Equal(t, ports.Segment{SpeechFinal: true}, nextSegment(t, session))

	require.NoError(t, session.CloseSend())
	assert.NoError(t, session.Wait())
}

func TestStreamingSessionSendsKeepAliveWhileSilent(t *testing.T) {
	t.Parallel()

	keepAlive := make(chan struct{}, 1)
	srv := newDeepgramServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(payload), "KeepAlive") {
				select {
				case keepAlive <- struct{}{}:
				default:
				}
			}
		}
	})

	p := NewProvider(Config{APIKey: "secret", APIBaseURL: srv.URL, KeepAlive: 20 * time.Millisecond}, nil)
	session, err := p.StartStreaming(context.Background(), ports.StreamingConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	select {
	case <-keepAlive:
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive sent")
	}
}

func TestStreamingSessionProviderErrorIsReported(t *testing.T) {
	t.Parallel()

	srv := newDeepgramServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeFrames(conn, `{"type":"Error","message":"quota exceeded"}`)
		_, _, _ = conn.ReadMessage()
	})

	p := NewProvider(Config{APIKey: "secret", APIBaseURL: srv.URL}, nil)
	session, err := p.StartStreaming(context.Background(), ports.StreamingConfig{})
	require.NoError(t, err)

	_ = session.CloseSend()
	assert.EqualError(t, session.Wait(), "quota exceeded")
}

func TestStreamingSessionClosesWithContext(t *testing.T) {
	t.Parallel()

	srv := newDeepgramServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	p := NewProvider(Config{APIKey: "secret", APIBaseURL: srv.URL}, nil)
	session, err := p.StartStreaming(ctx, ports.StreamingConfig{})
	require.NoError(t, err)

	cancel()
	done := make(chan struct{})
	go func() {
		_ = session.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after cancel")
	}
}

func TestStartStreamingReportsHandshakeStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(Config{APIKey: "wrong", APIBaseURL: srv.URL}, nil)
	_, err := p.StartStreaming(context.Background(), ports.StreamingConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func newDeepgramServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFrames(conn *websocket.Conn, frames ...string) {
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
}

// closeOnCloseStream answers CloseStream with a normal close frame, like Deepgram does.
func closeOnCloseStream(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if strings.Contains(string(payload), "CloseStream") {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func nextSegment(t *testing.T, session ports.StreamingSession) ports.Segment {
	t.Helper()
	select {
	case segment, ok := <-session.Segments():
		require.True(t, ok, "segments closed")
		return segment
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for segment")
		return ports.Segment{}
	}
}
