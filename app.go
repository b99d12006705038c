package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"aquavoice/internal/bootstrap"
	"aquavoice/internal/config"
	"aquavoice/internal/domain"
	"aquavoice/internal/usecase"
)

const (
	eventState = "aquavoice:state"
	eventError = "aquavoice:error"
)

// App is the Wails application root. One App hosts one voice session.
type App struct {
	ctx context.Context

	controller *usecase.SessionController
	cfg        config.Config
	logger     *slog.Logger
	bootErr    error

	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.fail(err)
		return
	}

	a.cfg = services.Config
	a.logger = services.Logger
	a.controller = services.Controller
	if err := a.controller.Start(ctx); err != nil {
		a.fail(err)
	}
}

func (a *App) shutdown(_ context.Context) {
	if a.controller == nil {
		return
	}
	if err := a.controller.Close(); err != nil {
		a.logger.Warn("voice session did not shut down cleanly", "error", err)
	}
}

// StartListening begins a speech capture pass.
func (a *App) StartListening() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.StartListening()
}

// StopListening ends the current speech capture pass.
func (a *App) StopListening() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.StopListening()
}

// SendTextMessage sends typed text through the same path as spoken text.
func (a *App) SendTextMessage(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SendTextMessage(text)
}

// Retry reconnects after the channel gave up.
func (a *App) Retry() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Retry()
}

// GetState returns the current voice state for the first render.
func (a *App) GetState() domain.UIState {
	if a.controller == nil {
		state := domain.UIState{Status: domain.SessionStatusDisconnected, Transcript: []domain.VoiceMessage{}}
		if a.bootErr != nil {
			state.Status = domain.SessionStatusError
			state.Error = a.bootErr.Error()
		}
		return state
	}
	return a.controller.State()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"provider":    "Deepgram",
		"model":       a.cfg.Deepgram.Model,
		"language":    a.cfg.Deepgram.Language,
		"voiceServer": a.cfg.Voice.WSBase,
		"primaryTank": a.cfg.Voice.PrimaryTankID,
		"audioInput":  a.cfg.Audio.InputDevice,
		"configFile":  a.cfg.File,
	}
	if a.controller != nil {
		info["sessionId"] = a.controller.SessionID()
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// VoiceStateChanged forwards merged voice state to the frontend.
func (a *App) VoiceStateChanged(state domain.UIState) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, eventState, map[string]any{
		"state":  state,
		"banner": statusBanner(state),
	})
}

func (a *App) fail(err error) {
	a.bootErr = err
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"message": "Startup failed",
		"detail":  err.Error(),
	})
}

func statusBanner(state domain.UIState) string {
	switch state.Status {
	case domain.SessionStatusConnecting:
		return "Connecting..."
	case domain.SessionStatusDisconnected:
		return "Disconnected"
	case domain.SessionStatusError:
		if state.Error == "" {
			return "Connection error"
		}
		return state.Error
	}

	switch {
	case state.IsListening:
		return "Listening..."
	case state.IsThinking:
		return "Thinking..."
	case state.IsSpeaking:
		return "Speaking"
	default:
		return "Connected"
	}
}
