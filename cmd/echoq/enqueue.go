package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/marabbate/echoq/internal/config"
	"github.com/marabbate/echoq/internal/msgid"
	"github.com/marabbate/echoq/internal/store"
)

func newEnqueueCommand(root *rootOptions) *cobra.Command {
	var after time.Duration
	var atMs int64

	cmd := &cobra.Command{
		Use:           "enqueue <text>...",
		Short:         "Submit a message to the shared store without running a full replica",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			dueMs := atMs
			if after > 0 {
				dueMs = time.Now().Add(after).UnixMilli()
			}
			if dueMs == 0 {
				dueMs = time.Now().UnixMilli()
			}

			return runEnqueue(root, dueMs, text, cmd)
		},
	}

	cmd.Flags().DurationVar(&after, "after", 0, "delay from now before the message is due, e.g. 5s")
	cmd.Flags().Int64Var(&atMs, "at", 0, "absolute due time in Unix milliseconds")

	return cmd
}

func runEnqueue(root *rootOptions, dueMs int64, text string, cmd *cobra.Command) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	gw := store.NewRedisGateway(rdb)

	id := msgid.Compute(dueMs, text)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The enqueue CLI has no live view of the fleet's current minimum
	// due-time, so it always publishes. Replicas adopt the published
	// due-time as their next wakeup as is; when an earlier message is
	// already pending, that message can be emitted as late as this one's
	// due-time.
	if _, err := gw.WriteMessage(ctx, id, dueMs, text, true); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
