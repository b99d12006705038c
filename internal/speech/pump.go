package speech

import (
	"errors"
	"fmt"
	"io"
	"time"

	"aquavoice/internal/ports"
)

// pumpAudioChunks copies capture output into the provider until capture ends.
// EOF is the normal end of a pass and is not reported.
func pumpAudioChunks(
	audio ports.AudioSession,
	stream ports.StreamingSession,
	chunkSize int,
	onErr func(error),
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := audio.Read(buf)
		if n > 0 {
			if err := stream.SendAudio(buf[:n]); err != nil {
				onErr(fmt.Errorf("failed to stream audio: %w", err))
				return
			}
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF):
			return
		default:
			onErr(fmt.Errorf("audio capture error: %w", readErr))
			return
		}
	}
}

// waitForStream gives the provider timeout to flush its last results, then
// forces the session closed and still collects its error.
func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	result := make(chan error, 1)
	go func() { result <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
	}
	_ = session.Close()
	return <-result
}
