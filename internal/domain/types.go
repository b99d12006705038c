package domain

import "time"

// MessageKind identifies the kind of a transcript entry exchanged with the voice backend.
type MessageKind string

const (
	MessageKindConnected MessageKind = "connected"
	MessageKindText      MessageKind = "text"
	MessageKindAudio     MessageKind = "audio"
	MessageKindAction    MessageKind = "action"
	MessageKindError     MessageKind = "error"
)

// ParseMessageKind maps a wire string onto a MessageKind. Unknown values decode as text.
func ParseMessageKind(value string) MessageKind {
	switch MessageKind(value) {
	case MessageKindConnected, MessageKindText, MessageKindAudio, MessageKindAction, MessageKindError:
		return MessageKind(value)
	default:
		return MessageKindText
	}
}

// VoiceMessage is one immutable turn in the conversation transcript.
type VoiceMessage struct {
	Kind      MessageKind       `json:"kind"`
	Content   string            `json:"content"`
	Action    string            `json:"action,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	FromUser  bool              `json:"fromUser"`
}

// ConnectionKind models the lifecycle of the voice channel.
type ConnectionKind string

const (
	ConnectionConnecting   ConnectionKind = "connecting"
	ConnectionConnected    ConnectionKind = "connected"
	ConnectionDisconnected ConnectionKind = "disconnected"
	ConnectionError        ConnectionKind = "error"
	ConnectionFailed       ConnectionKind = "failed"
)

// ConnectionState is the live state of the voice channel. Message is set for errors.
type ConnectionState struct {
	Kind    ConnectionKind `json:"kind"`
	Message string         `json:"message,omitempty"`
}

// TranscriptResult is a transient recognition event, either partial or final text.
type TranscriptResult struct {
	Final bool   `json:"final"`
	Text  string `json:"text"`
}

func Partial(text string) TranscriptResult { return TranscriptResult{Text: text} }
func Final(text string) TranscriptResult   { return TranscriptResult{Final: true, Text: text} }

// RecognitionKind models the speech recognizer lifecycle.
type RecognitionKind string

const (
	RecognitionNotAvailable RecognitionKind = "not_available"
	RecognitionIdle         RecognitionKind = "idle"
	RecognitionListening    RecognitionKind = "listening"
	RecognitionReady        RecognitionKind = "ready"
	RecognitionSpeaking     RecognitionKind = "speaking"
	RecognitionError        RecognitionKind = "error"
)

// RecognitionState is a recognizer state tagged with the pass that produced it.
type RecognitionState struct {
	Kind   RecognitionKind `json:"kind"`
	Reason string          `json:"reason,omitempty"`
	Pass   uint64          `json:"pass"`
}

// PlaybackKind models the audio player lifecycle.
type PlaybackKind string

const (
	PlaybackIdle      PlaybackKind = "idle"
	PlaybackBuffering PlaybackKind = "buffering"
	PlaybackPlaying   PlaybackKind = "playing"
	PlaybackPaused    PlaybackKind = "paused"
	PlaybackCompleted PlaybackKind = "completed"
	PlaybackError     PlaybackKind = "error"
)

// PlaybackState is the current player state. Message is set for errors.
type PlaybackState struct {
	Kind    PlaybackKind `json:"kind"`
	Message string       `json:"message,omitempty"`
}

// TankStatus is the operational status of a tank.
type TankStatus string

const (
	TankStatusActive      TankStatus = "Active"
	TankStatusMaintenance TankStatus = "Maintenance"
	TankStatusInactive    TankStatus = "Inactive"
)

// ParseTankStatus is permissive: unknown values fall back to Active.
func ParseTankStatus(value string) TankStatus {
	switch TankStatus(value) {
	case TankStatusActive, TankStatusMaintenance, TankStatusInactive:
		return TankStatus(value)
	default:
		return TankStatusActive
	}
}

// Tank is the subset of tank data the voice backend receives as context.
type Tank struct {
	ID           string
	Name         string
	Species      []string
	Capacity     float64
	CurrentStock int
	Location     *string
	Status       TankStatus
}

// SessionStatus is the coarse status of the screen-facing voice state.
type SessionStatus string

const (
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusConnecting   SessionStatus = "connecting"
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusError        SessionStatus = "error"
)

// UIState is the merged voice state rendered by a screen.
type UIState struct {
	Status             SessionStatus  `json:"status"`
	Transcript         []VoiceMessage `json:"transcript"`
	CurrentPartialText string         `json:"currentPartialText"`
	IsListening        bool           `json:"isListening"`
	IsSpeaking         bool           `json:"isSpeaking"`
	IsThinking         bool           `json:"isThinking"`
	Error              string         `json:"error,omitempty"`
}
