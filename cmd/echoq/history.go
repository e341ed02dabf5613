package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marabbate/echoq/internal/config"
	"github.com/marabbate/echoq/internal/ledger"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "history",
		Short:         "Show recently emitted messages from this replica's local ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(root, limit, cmd)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records to show")

	return cmd
}

func runHistory(root *rootOptions, limit int, cmd *cobra.Command) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Ledger.Enabled {
		return fmt.Errorf("ledger is disabled in config")
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	records, err := l.Recent(limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, r := range records {
		ts := time.UnixMilli(r.EmittedMs).UTC().Format(time.RFC3339)
		fmt.Fprintf(out, "%s\t%s\t%s\n", ts, r.ID, r.Text)
	}
	return nil
}
