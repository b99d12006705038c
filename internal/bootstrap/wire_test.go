package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquavoice/internal/config"
	"aquavoice/internal/domain"
	"aquavoice/internal/tanks"
)

func TestBuildSuccess(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AQUAVOICE_CONFIG", "")
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("AQUAVOICE_PRIMARY_TANK", "t1")

	services, err := Build(noopSink{})
	require.NoError(t, err)
	require.NotNil(t, services.Controller)

	assert.NotEmpty(t, services.Controller.SessionID())
	assert.Equal(t, "t1", services.Config.Voice.PrimaryTankID)
	assert.IsType(t, &tanks.HTTPSource{}, services.Tanks)
	assert.NoError(t, services.Controller.Close())
}

func TestBuildIgnoresBrokenCorrectionsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("AQUAVOICE_CONFIG", "")
	path := filepath.Join(dir, "corrections.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[rule]]\npattern = \"(unclosed\"\n"), 0o600))
	t.Setenv("AQUAVOICE_CORRECTIONS_FILE", path)

	services, err := Build(nil)
	require.NoError(t, err)

	assert.Equal(t, path, services.Config.Session.CorrectionsFile)
	assert.NoError(t, services.Controller.Close())
}

func TestBuildFailsOnBrokenConfigFile(t *testing.T) {
	t.Setenv("AQUAVOICE_CONFIG", t.TempDir()+"/missing.toml")

	_, err := Build(noopSink{})
	assert.Error(t, err)
}

func TestTankSourcePrefersFixtureFile(t *testing.T) {
	t.Parallel()

	source := TankSource(config.Config{Tanks: config.TanksConfig{File: "tanks.toml", APIBase: "http://x"}})
	fs, ok := source.(tanks.FileSource)
	require.True(t, ok, "expected file source, got %#v", source)
	assert.Equal(t, "tanks.toml", fs.Path)
}

func TestChannelConfigMapping(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Voice: config.VoiceConfig{
		WSBase:       "wss://voice.example.com/ws",
		MaxRetries:   0,
		RetryStep:    time.Second,
		PingInterval: 0,
	}}
	got := ChannelConfig(cfg)
	assert.Equal(t, "wss://voice.example.com/ws", got.BaseURL)
	assert.Equal(t, time.Second, got.RetryStep)
	assert.Negative(t, got.MaxRetries, "zero retries disables reconnects")
	assert.Negative(t, got.PingInterval, "zero ping interval disables pings")

	cfg.Voice.MaxRetries = 5
	assert.Equal(t, 5, ChannelConfig(cfg).MaxRetries)
}

type noopSink struct{}

func (noopSink) VoiceStateChanged(_ domain.UIState) {}
