package cmd

import (
	"github.com/spf13/cobra"

	"aquavoice/internal/config"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "voicectl",
		Short:        "Headless client for the aquaculture voice assistant",
		Long:         "voicectl talks to the voice assistant backend from the terminal. It can run a typed chat or a single spoken turn, and it shows the tank context sent with every message.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newTanksCmd(config.Load),
		newChatCmd(config.Load),
		newListenCmd(config.Load),
	)

	return rootCmd
}

type configLoader func() (config.Config, error)
