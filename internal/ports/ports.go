package ports

import (
	"context"
	"io"

	"aquavoice/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// Segment is one recognition result from a streaming provider.
// IsFinal marks a stable segment, SpeechFinal the end of an utterance.
type Segment struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Segments() <-chan Segment
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Availability reports whether a platform collaborator can be used at all.
type Availability interface {
	Available() error
}

// MediaSession is one loaded media resource on the platform player.
type MediaSession interface {
	Pause() error
	Resume() error
	Stop() error
	// Wait blocks until playback ends. A nil error means the media completed.
	Wait() error
}

// MediaBackend loads remote media for playback.
type MediaBackend interface {
	Load(ctx context.Context, url string) (MediaSession, error)
}

// TankSource provides the tank list used as conversation context.
type TankSource interface {
	FetchAllTanks(ctx context.Context) ([]domain.Tank, error)
}

// VoiceChannel is the persistent link to the voice backend.
type VoiceChannel interface {
	Connect(sessionID string)
	Send(ctx context.Context, content string, metadata map[string]string)
	Disconnect()
	Messages() <-chan domain.VoiceMessage
	States() <-chan domain.ConnectionState
	Close() error
}

// SpeechSource turns microphone audio into transcript events.
type SpeechSource interface {
	Initialize()
	StartListening() uint64
	StopListening()
	Destroy()
	Transcripts() <-chan domain.TranscriptResult
	States() <-chan domain.RecognitionState
}

// PlaybackSink plays streamed audio responses.
type PlaybackSink interface {
	Initialize()
	PlayURL(ctx context.Context, url string)
	Pause()
	Resume()
	Stop()
	Release()
	States() <-chan domain.PlaybackState
}

// TextCorrector rewrites recognized speech before it is shown or sent.
type TextCorrector interface {
	Apply(text string) string
}

// StateSink receives merged voice state for rendering.
type StateSink interface {
	VoiceStateChanged(state domain.UIState)
}
