//go:build windows

package audio

import (
	"errors"
	"os"
)

var errPauseUnsupported = errors.New("pausing playback is not supported on windows")

func suspendProcess(_ *os.Process) error { return errPauseUnsupported }

func resumeProcess(_ *os.Process) error { return errPauseUnsupported }
