package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"
	"github.com/spf13/cobra"

	"github.com/crashvault/crashvault/internal/bootstrap"
	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/reaper"
)

var (
	name    = "crashvault-reaper"
	version = "v0.0.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var watch bool

var rootCmd = &cobra.Command{
	Use:     name,
	Short:   "Reconcile orphaned crashvault blobs against metadata",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		runOnce := !watch

		into.Init(func(ctx context.Context) error {
			return run(ctx, runOnce)
		},
			into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
			into.WithMsgf("%s [%s]", name, version),
		)

		return nil
	},
}

func init() {
	rootCmd.Flags().BoolVar(&watch, "watch", false, "run on the configured cron schedule instead of exiting after one pass")
}

func run(ctx context.Context, once bool) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	res, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open resources: %w", err)
	}
	defer res.Close()

	retention, err := cfg.Reaper.FailedRetentionDuration()
	if err != nil {
		return err
	}

	r := &reaper.Reaper{Objects: res.Objects, Store: res.Store, FailedRetention: retention}

	if once {
		return r.Run(ctx)
	}

	scheduler, err := reaper.NewScheduler(r, cfg.Reaper.Schedule)
	if err != nil {
		return fmt.Errorf("failed to create reaper schedule: %w", err)
	}

	return scheduler.Start(ctx)
}
