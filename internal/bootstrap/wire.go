package bootstrap

import (
	"log/slog"

	"aquavoice/internal/audio"
	"aquavoice/internal/channel"
	"aquavoice/internal/config"
	"aquavoice/internal/corrections"
	applog "aquavoice/internal/log"
	"aquavoice/internal/playback"
	"aquavoice/internal/ports"
	"aquavoice/internal/providers/deepgram"
	"aquavoice/internal/speech"
	"aquavoice/internal/tanks"
	"aquavoice/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Tanks      ports.TankSource
	Config     config.Config
	Logger     *slog.Logger
}

// Build loads configuration and wires one voice session.
func Build(sink ports.StateSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, sink), nil
}

// BuildWith wires one voice session from an already loaded config. sink may be nil.
func BuildWith(cfg config.Config, sink ports.StateSink) Services {
	logger := applog.Init(cfg.Log.Level, cfg.Log.Format)
	tankSource := TankSource(cfg)

	capture := audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logger)
	provider := deepgram.NewProvider(deepgram.Config{
		APIKey:       cfg.Deepgram.APIKey,
		APIBaseURL:   cfg.Deepgram.APIBaseURL,
		Model:        cfg.Deepgram.Model,
		Language:     cfg.Deepgram.Language,
		SmartFormat:  cfg.Deepgram.SmartFormat,
		Keywords:     cfg.Deepgram.Keywords,
		Endpointing:  cfg.Deepgram.Endpointing,
		UtteranceEnd: cfg.Deepgram.UtteranceEnd,
	}, logger)

	recognizer := speech.NewRecognizer(capture, provider, speech.Config{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			InterimResults: true,
		},
		ChunkSize:    cfg.Session.ChunkSize,
		MaxUtterance: cfg.Session.MaxUtterance,
	}, logger, capture, provider)

	player := playback.NewPlayer(audio.NewFFPlayBackend(cfg.Audio.PlayerCommand, logger), logger)

	voice := channel.New(ChannelConfig(cfg), logger)

	var fixes ports.TextCorrector
	if set, err := corrections.Load(cfg.Session.CorrectionsFile); err != nil {
		logger.Warn("ignoring speech corrections", "error", err)
	} else if set.Len() > 0 {
		fixes = set
	}

	controller := usecase.NewSessionController(usecase.Dependencies{
		Channel:     voice,
		Speech:      recognizer,
		Playback:    player,
		Tanks:       tankSource,
		Corrections: fixes,
		Sink:        sink,
		Logger:      logger,
	}, usecase.Config{PrimaryTankID: cfg.Voice.PrimaryTankID})

	return Services{Controller: controller, Tanks: tankSource, Config: cfg, Logger: logger}
}

// ChannelConfig maps voice settings onto the channel. A configured retry
// limit of zero means no automatic reconnects.
func ChannelConfig(cfg config.Config) channel.Config {
	maxRetries := cfg.Voice.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	pingInterval := cfg.Voice.PingInterval
	if pingInterval <= 0 {
		pingInterval = -1
	}
	return channel.Config{
		BaseURL:      cfg.Voice.WSBase,
		MaxRetries:   maxRetries,
		RetryStep:    cfg.Voice.RetryStep,
		PingInterval: pingInterval,
	}
}

// TankSource picks the fixture file when configured, the REST API otherwise.
func TankSource(cfg config.Config) ports.TankSource {
	if cfg.Tanks.File != "" {
		return tanks.FileSource{Path: cfg.Tanks.File}
	}
	return tanks.NewHTTPSource(cfg.Tanks.APIBase, cfg.Tanks.APIToken)
}
