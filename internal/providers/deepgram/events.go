package deepgram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"aquavoice/internal/ports"
)

const minUtteranceEndMillis = 1000

type eventKind int

const (
	eventUnknown eventKind = iota
	eventResults
	eventUtteranceEnd
	eventSpeechStarted
	eventMetadata
	eventError
)

type wireEvent struct {
	Type        string      `json:"type"`
	Message     string      `json:"message"`
	Description string      `json:"description"`
	RequestID   string      `json:"request_id"`
	IsFinal     bool        `json:"is_final"`
	SpeechFinal bool        `json:"speech_final"`
	Channel     wireChannel `json:"channel"`
}

type wireChannel struct {
	Alternatives []wireAlternative `json:"alternatives"`
}

type wireAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

func decodeEvent(payload []byte) (wireEvent, eventKind, error) {
	var ev wireEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return wireEvent{}, eventUnknown, fmt.Errorf("decode event: %w", err)
	}

	switch strings.ToLower(ev.Type) {
	case "results":
		return ev, eventResults, nil
	case "utteranceend":
		return ev, eventUtteranceEnd, nil
	case "speechstarted":
		return ev, eventSpeechStarted, nil
	case "metadata":
		return ev, eventMetadata, nil
	case "error":
		return ev, eventError, nil
	case "":
		if len(ev.Channel.Alternatives) > 0 {
			return ev, eventResults, nil
		}
	}
	return ev, eventUnknown, nil
}

// transcript returns the best alternative's text.
func (ev wireEvent) transcript() string {
	if len(ev.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(ev.Channel.Alternatives[0].Transcript)
}

func (ev wireEvent) segment() ports.Segment {
	return ports.Segment{
		Text:        ev.transcript(),
		IsFinal:     ev.IsFinal || ev.SpeechFinal,
		SpeechFinal: ev.SpeechFinal,
	}
}

func (ev wireEvent) errorMessage() string {
	for _, candidate := range []string{ev.Message, ev.Description} {
		if msg := strings.TrimSpace(candidate); msg != "" {
			return msg
		}
	}
	return "deepgram returned an unknown error"
}

// listenURL builds the /listen websocket URL for the given provider and stream settings.
func listenURL(cfg Config, stream ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultAPIBase
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	endpoint, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if stream.Encoding == "" {
		stream.Encoding = "linear16"
	}
	if stream.SampleRate <= 0 {
		stream.SampleRate = 16000
	}
	if stream.Channels <= 0 {
		stream.Channels = 1
	}

	query := endpoint.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", stream.Encoding)
	query.Set("sample_rate", strconv.Itoa(stream.SampleRate))
	query.Set("channels", strconv.Itoa(stream.Channels))
	query.Set("interim_results", strconv.FormatBool(stream.InterimResults))
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	for _, keyword := range cfg.Keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			query.Add("keywords", keyword)
		}
	}
	if cfg.Endpointing > 0 {
		query.Set("endpointing", strconv.FormatInt(cfg.Endpointing.Milliseconds(), 10))
	}
	// UtteranceEnd only works with interim results.
	if cfg.UtteranceEnd > 0 && stream.InterimResults {
		millis := max(cfg.UtteranceEnd.Milliseconds(), minUtteranceEndMillis)
		query.Set("utterance_end_ms", strconv.FormatInt(millis, 10))
		query.Set("vad_events", "true")
	}

	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}
