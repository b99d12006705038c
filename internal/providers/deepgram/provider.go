// Package deepgram streams microphone PCM to Deepgram live transcription.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	applog "aquavoice/internal/log"
	"aquavoice/internal/ports"
)

const (
	defaultAPIBase   = "https://api.deepgram.com/v1"
	defaultModel     = "nova-2"
	defaultKeepAlive = 5 * time.Second

	handshakeTimeout = 10 * time.Second
)

// Config controls Deepgram live transcription.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// Keywords boosts farm vocabulary such as species names. An entry may
	// carry an intensifier, for example "tilapia:2".
	Keywords []string
	// Endpointing is the trailing silence that marks speech_final. Zero keeps the server default.
	Endpointing time.Duration
	// UtteranceEnd requests UtteranceEnd events after this gap between words. Zero disables them.
	UtteranceEnd time.Duration
	// KeepAlive is how often a KeepAlive message is sent while no audio flows.
	KeepAlive time.Duration

	Dialer *websocket.Dialer
}

var ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")

// Provider implements ports.TranscriptionProvider.
type Provider struct {
	cfg    Config
	logger *slog.Logger
}

func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	return &Provider{cfg: cfg, logger: applog.OrDiscard(logger).With("component", "stt.deepgram")}
}

// Available reports whether the provider has credentials to open a stream.
func (p *Provider) Available() error {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// StartStreaming opens one live transcription stream. The stream is closed
// when ctx is cancelled.
func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if err := p.Available(); err != nil {
		return nil, err
	}

	endpoint, err := listenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.cfg.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to Deepgram: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("connect to Deepgram: %w", err)
	}

	session := newStreamingSession(conn, p.logger, p.cfg.KeepAlive)
	session.start(ctx)
	p.logger.Debug("transcription stream opened", "model", p.cfg.Model, "keywords", len(p.cfg.Keywords))
	return session, nil
}
