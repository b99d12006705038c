package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aquavoice/internal/domain"
)

var errMissingType = errors.New("frame has no type")

type outboundFrame struct {
	Type      string            `json:"type"`
	Content   string            `json:"content"`
	SessionID string            `json:"session_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type inboundFrame struct {
	Type      string            `json:"type"`
	Content   string            `json:"content"`
	Action    string            `json:"action,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func encodeText(sessionID string, content string, metadata map[string]string) ([]byte, error) {
	frame := outboundFrame{
		Type:      string(domain.MessageKindText),
		Content:   content,
		SessionID: sessionID,
	}
	if len(metadata) > 0 {
		frame.Metadata = metadata
	}
	return json.Marshal(frame)
}

func decodeFrame(payload []byte, now func() time.Time) (domain.VoiceMessage, error) {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return domain.VoiceMessage{}, fmt.Errorf("decode frame: %w", err)
	}
	if strings.TrimSpace(frame.Type) == "" {
		return domain.VoiceMessage{}, errMissingType
	}

	msg := domain.VoiceMessage{
		Kind:      domain.ParseMessageKind(frame.Type),
		Content:   frame.Content,
		Action:    frame.Action,
		Data:      frame.Data,
		Timestamp: now(),
	}
	if frame.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, frame.Timestamp); err == nil {
			msg.Timestamp = ts
		}
	}
	if msg.Kind == domain.MessageKindError && msg.Content == "" {
		msg.Content = frame.Error
	}
	return msg, nil
}
