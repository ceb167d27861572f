package main

import (
	"context"
	"fmt"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/crashvault/crashvault/internal/bootstrap"
	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/signature"
	"github.com/crashvault/crashvault/internal/worker"
)

var (
	name    = "crashvault-worker"
	version = "v0.0.0"
)

func main() {
	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	res, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open resources: %w", err)
	}
	defer res.Close()

	generator, err := signature.NewGenerator(signature.Config{
		SkipPatterns:      cfg.Signature.SkipPatterns,
		EndPatterns:       cfg.Signature.EndPatterns,
		Delimiter:         cfg.Signature.Delimiter,
		MaximumFrameCount: cfg.Signature.MaximumFrameCount,
	})
	if err != nil {
		return fmt.Errorf("failed to build signature generator: %w", err)
	}

	w := &worker.Worker{
		Queue:      res.Queue,
		Objects:    res.Objects,
		Store:      res.Store,
		Generator:  generator,
		MaxRetries: uint(cfg.Worker.MaxRetries),
	}

	errs := make(chan error, cfg.Worker.Concurrency)
	for range cfg.Worker.Concurrency {
		go func() {
			errs <- w.Run(ctx)
		}()
	}

	for range cfg.Worker.Concurrency {
		if err := <-errs; err != nil {
			return err
		}
	}

	return nil
}
