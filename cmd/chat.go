package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newChatCmd(load configLoader) *cobra.Command {
	opts := defaultSessionOptions()

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Type messages to the voice assistant",
		Long:  "chat opens a voice session and sends each line read from stdin as a text message. An empty input or /quit ends the session.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			con := newConsole(cmd.OutOrStdout())
			ctrl, err := openSession(cmd.Context(), load, opts, con)
			if err != nil {
				return err
			}
			defer func() { _ = ctrl.Close() }()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" {
					break
				}

				if err := ctrl.SendTextMessage(line); err != nil {
					return err
				}
				sent := len(ctrl.State().Transcript)

				err := waitUntil(cmd.Context(), ctrl, con, opts.replyTimeout, replied(sent))
				switch {
				case errors.Is(err, errWaitTimeout):
					fmt.Fprintf(cmd.ErrOrStderr(), "no reply within %s\n", opts.replyTimeout)
				case err != nil:
					return err
				}
			}
			return scanner.Err()
		},
	}

	bindSessionFlags(chatCmd, &opts)
	return chatCmd
}

func bindSessionFlags(cmd *cobra.Command, opts *sessionOptions) {
	cmd.Flags().StringVar(&opts.tank, "tank", "", "primary tank id sent with each message")
	cmd.Flags().DurationVar(&opts.connectTimeout, "connect-timeout", opts.connectTimeout, "how long to wait for the voice channel")
	cmd.Flags().DurationVar(&opts.replyTimeout, "reply-timeout", opts.replyTimeout, "how long to wait for an answer")
}

