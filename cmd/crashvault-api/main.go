package main

import (
	"context"
	"fmt"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/crashvault/crashvault/internal/api"
	"github.com/crashvault/crashvault/internal/bootstrap"
	"github.com/crashvault/crashvault/internal/config"
)

var (
	name    = "crashvault-api"
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

	server := api.New(cfg.Server, cfg.Auth, res.Store, res.Objects, res.Queue)

	return server.Start(ctx)
}
