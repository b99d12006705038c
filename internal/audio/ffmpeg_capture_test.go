package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquavoice/internal/ports"
)

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	capture := NewFFMPEGCapture(script, nil)

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	require.Positive(t, n, "read error: %v", readErr)
	assert.Contains(t, string(buf[:n]), "hello")

	assert.NoError(t, session.Stop())
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	capture := NewFFMPEGCapture(script, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited before capture started")
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	require.Error(t, err)
	assert.NoError(t, normalizeStopErr(err))
}

func TestSyncBufferTrimmed(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	_, _ = buf.Write([]byte("  hi\n"))
	assert.Equal(t, "hi", buf.Trimmed())
}

func TestCaptureDefaults(t *testing.T) {
	t.Parallel()

	want := ports.AudioConfig{SampleRate: 16000, Channels: 1, InputFormat: "pulse", InputDevice: "default"}
	assert.Equal(t, want, withCaptureDefaults(ports.AudioConfig{}))
}

func TestFFMPEGCaptureAvailable(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "ok.sh", "#!/usr/bin/env bash\nexit 0\n")
	assert.NoError(t, NewFFMPEGCapture(script, nil).Available())
	assert.Error(t, NewFFMPEGCapture(filepath.Join(t.TempDir(), "missing-ffmpeg"), nil).Available())
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o700))
	return path
}
