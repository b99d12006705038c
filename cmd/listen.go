package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"aquavoice/internal/domain"
)

var errSpeechUnavailable = errors.New("speech recognition is not available; check DEEPGRAM_API_KEY and the ffmpeg install")

func newListenCmd(load configLoader) *cobra.Command {
	opts := defaultSessionOptions()

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Speak one request and print the answer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			con := newConsole(cmd.OutOrStdout())
			ctrl, err := openSession(cmd.Context(), load, opts, con)
			if err != nil {
				return err
			}
			defer func() { _ = ctrl.Close() }()

			before := len(ctrl.State().Transcript)
			if err := ctrl.StartListening(); err != nil {
				return err
			}
			if !ctrl.State().IsListening {
				return errSpeechUnavailable
			}
			fmt.Fprintln(cmd.OutOrStdout(), "-- listening")

			err = waitUntil(cmd.Context(), ctrl, con, opts.replyTimeout, func(st domain.UIState) bool {
				return !st.IsListening && !st.IsThinking
			})
			if errors.Is(err, errWaitTimeout) {
				return fmt.Errorf("no answer within %s", opts.replyTimeout)
			}
			if err != nil {
				return err
			}

			if len(ctrl.State().Transcript) == before {
				fmt.Fprintln(cmd.OutOrStdout(), "-- nothing heard")
			}
			return nil
		},
	}

	bindSessionFlags(listenCmd, &opts)
	return listenCmd
}
