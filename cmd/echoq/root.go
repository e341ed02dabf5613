package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "echoq",
		Short: "echoq schedules text messages for delayed echo across a replica fleet",
		Long: `echoq accepts (time, text) pairs and echoes each message's text to
stdout at its due time, coordinating across any number of replicas sharing
one Redis instance so exactly one replica emits each message.`,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newEnqueueCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}
