package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquavoice/internal/domain"
	"aquavoice/internal/version"
)

func TestVersionPrintsBuildVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "", "version")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", stdout)
}

func TestTanksPrintsTable(t *testing.T) {
	home := t.TempDir()
	setTanksFixture(t, home)

	stdout, _, err := executeCLI(t, home, "", "tanks")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Nursery A")
	assert.Contains(t, stdout, "tilapia,catfish")
	assert.Contains(t, stdout, "North shed")
	assert.Contains(t, stdout, "tanks: 2")
}

func TestTanksJSONOutput(t *testing.T) {
	home := t.TempDir()
	setTanksFixture(t, home)

	stdout, _, err := executeCLI(t, home, "", "tanks", "--json")
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(stdout)))

	var got []tankView
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "Maintenance", got[0].Status)
	assert.Equal(t, []string{}, got[1].Species)
	assert.Nil(t, got[1].Location)
}

func TestTanksMetadataUsesPrimaryTank(t *testing.T) {
	home := t.TempDir()
	setTanksFixture(t, home)

	stdout, _, err := executeCLI(t, home, "", "tanks", "--metadata", "--tank", "t2")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "t2", got["tank_id"])
	assert.Contains(t, got["all_tanks_data"], `"location":"Not specified"`)
}

func TestTanksReportsSourceFailure(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AQUAVOICE_TANKS_FILE", filepath.Join(home, "missing.toml"))

	_, _, err := executeCLI(t, home, "", "tanks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load tanks")
}

func TestChatSendsLinesAndPrintsReplies(t *testing.T) {
	home := t.TempDir()
	setTanksFixture(t, home)

	received := make(chan map[string]any, 4)
	srv := newEchoVoiceServer(t, received)
	t.Setenv("AQUAVOICE_VOICE_WS_BASE", "ws"+strings.TrimPrefix(srv.URL, "http")+"/voice")

	stdout, _, err := executeCLI(t, home, "hello\n\n/quit\nignored\n", "chat", "--tank", "t1", "--reply-timeout", "5s")
	require.NoError(t, err)

	assert.Contains(t, stdout, "-- connected")
	assert.Contains(t, stdout, "you> hello")
	assert.Contains(t, stdout, "agent> ack: hello")
	assert.NotContains(t, stdout, "ignored")

	frame := <-received
	assert.Equal(t, "text", frame["type"])
	assert.Equal(t, "hello", frame["content"])
	assert.NotEmpty(t, frame["session_id"])
}

func TestListenWithoutSpeechRecognitionFails(t *testing.T) {
	home := t.TempDir()
	setTanksFixture(t, home)

	srv := newEchoVoiceServer(t, make(chan map[string]any, 1))
	t.Setenv("AQUAVOICE_VOICE_WS_BASE", "ws"+strings.TrimPrefix(srv.URL, "http")+"/voice")

	_, _, err := executeCLI(t, home, "", "listen")
	require.ErrorIs(t, err, errSpeechUnavailable)
}

func TestChatFailsWhenChannelNeverConnects(t *testing.T) {
	home := t.TempDir()
	setTanksFixture(t, home)
	t.Setenv("AQUAVOICE_VOICE_WS_BASE", "ws://127.0.0.1:1/voice")
	t.Setenv("AQUAVOICE_MAX_RETRIES", "0")

	_, _, err := executeCLI(t, home, "", "chat", "--connect-timeout", "300ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to ws://127.0.0.1:1/voice")
}

func TestFormatEntry(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   domain.VoiceMessage
		want string
	}{
		"user": {
			in:   domain.VoiceMessage{Kind: domain.MessageKindText, Content: "hi", FromUser: true},
			want: "you> hi",
		},
		"text": {
			in:   domain.VoiceMessage{Kind: domain.MessageKindText, Content: "hello"},
			want: "agent> hello",
		},
		"audio url": {
			in:   domain.VoiceMessage{Kind: domain.MessageKindAudio, Content: "x", Data: map[string]string{"url": "http://a/b.mp3"}},
			want: "agent> [audio] http://a/b.mp3",
		},
		"audio inline": {
			in:   domain.VoiceMessage{Kind: domain.MessageKindAudio, Content: "http://a/c.mp3"},
			want: "agent> [audio] http://a/c.mp3",
		},
		"action": {
			in:   domain.VoiceMessage{Kind: domain.MessageKindAction, Action: "feed", Content: "ok"},
			want: "agent> [feed] ok",
		},
		"error": {
			in:   domain.VoiceMessage{Kind: domain.MessageKindError, Content: "boom"},
			want: "agent! boom",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatEntry(tc.in))
		})
	}
}

func TestConsolePrintsOnlyNewEntries(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	con := newConsole(out)
	st := domain.UIState{
		Status:     domain.SessionStatusConnected,
		Transcript: []domain.VoiceMessage{{Kind: domain.MessageKindText, Content: "one", FromUser: true}},
	}
	con.render(st)
	con.render(st)
	st.Transcript = append(st.Transcript, domain.VoiceMessage{Kind: domain.MessageKindText, Content: "two"})
	con.render(st)

	assert.Equal(t, "-- connected\nyou> one\nagent> two\n", out.String())
}

func executeCLI(t *testing.T, home string, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("AQUAVOICE_CONFIG", "")
	t.Setenv("AQUAVOICE_LOG_LEVEL", "error")
	t.Setenv("DEEPGRAM_API_KEY", "")

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func setTanksFixture(t *testing.T, home string) {
	t.Helper()

	path := filepath.Join(home, "tanks.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[tanks]]
id = "t1"
name = "Nursery A"
species = ["tilapia", "catfish"]
capacity = 1200.0
current_stock = 340
location = "North shed"
status = "Maintenance"

[[tanks]]
id = "t2"
name = "Grow-out"
capacity = 5000.0
status = "Inactive"
`), 0o600))
	t.Setenv("AQUAVOICE_TANKS_FILE", path)
}

// newEchoVoiceServer answers every text frame with "ack: <content>".
func newEchoVoiceServer(t *testing.T, received chan<- map[string]any) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if json.Unmarshal(payload, &frame) != nil {
				continue
			}
			select {
			case received <- frame:
			default:
			}
			content, _ := frame["content"].(string)
			reply, _ := json.Marshal(map[string]string{"type": "text", "content": "ack: " + content})
			if conn.WriteMessage(websocket.TextMessage, reply) != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
