package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"aquavoice/internal/bootstrap"
	"aquavoice/internal/domain"
	"aquavoice/internal/usecase"
)

var errWaitTimeout = errors.New("timed out")

// sessionOptions are the flags shared by commands that open a voice session.
type sessionOptions struct {
	tank           string
	connectTimeout time.Duration
	replyTimeout   time.Duration
}

// openSession wires and starts a controller, then waits for the channel to connect.
func openSession(ctx context.Context, load configLoader, opts sessionOptions, con *console) (*usecase.SessionController, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if opts.tank != "" {
		cfg.Voice.PrimaryTankID = opts.tank
	}

	ctrl := bootstrap.BuildWith(cfg, nil).Controller
	if err := ctrl.Start(ctx); err != nil {
		return nil, err
	}

	err = waitUntil(ctx, ctrl, con, opts.connectTimeout, func(st domain.UIState) bool {
		return st.Status == domain.SessionStatusConnected
	})
	if err != nil {
		_ = ctrl.Close()
		return nil, fmt.Errorf("connect to %s: %w", cfg.Voice.WSBase, err)
	}
	return ctrl, nil
}

func defaultSessionOptions() sessionOptions {
	return sessionOptions{
		connectTimeout: 15 * time.Second,
		replyTimeout:   60 * time.Second,
	}
}

// waitUntil renders states until cond holds, the timeout fires or the session closes.
func waitUntil(
	ctx context.Context,
	ctrl *usecase.SessionController,
	con *console,
	timeout time.Duration,
	cond func(domain.UIState) bool,
) error {
	current := ctrl.State()
	con.render(current)
	if cond(current) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	states := ctrl.States()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return usecase.ErrSessionClosed
			}
			con.render(st)
			if cond(st) {
				return nil
			}
		case <-timer.C:
			return errWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// replied reports whether the agent answered everything sent before index from.
func replied(from int) func(domain.UIState) bool {
	return func(st domain.UIState) bool {
		return len(st.Transcript) > from && !st.IsThinking
	}
}

// console prints transcript entries and status changes as they appear.
type console struct {
	out     io.Writer
	printed int
	status  domain.SessionStatus
	partial string
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) render(st domain.UIState) {
	if st.Status != c.status {
		c.status = st.Status
		if st.Error != "" {
			fmt.Fprintf(c.out, "-- %s: %s\n", st.Status, st.Error)
		} else {
			fmt.Fprintf(c.out, "-- %s\n", st.Status)
		}
	}

	if st.CurrentPartialText != c.partial {
		c.partial = st.CurrentPartialText
		if c.partial != "" {
			fmt.Fprintf(c.out, "   ... %s\n", c.partial)
		}
	}

	for ; c.printed < len(st.Transcript); c.printed++ {
		fmt.Fprintln(c.out, formatEntry(st.Transcript[c.printed]))
	}
}

func formatEntry(msg domain.VoiceMessage) string {
	if msg.FromUser {
		return "you> " + msg.Content
	}
	switch msg.Kind {
	case domain.MessageKindAudio:
		url := msg.Data["url"]
		if url == "" {
			url = msg.Content
		}
		return "agent> [audio] " + url
	case domain.MessageKindAction:
		return fmt.Sprintf("agent> [%s] %s", msg.Action, msg.Content)
	case domain.MessageKindError:
		return "agent! " + msg.Content
	default:
		return "agent> " + msg.Content
	}
}
