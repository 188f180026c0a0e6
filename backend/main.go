package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shaka-fleet/backend/global"
	"shaka-fleet/backend/initialize"
	"shaka-fleet/backend/server"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the YAML config file (empty: defaults and FLEET_* env)")
	flag.Parse()

	app, err := initialize.Build(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return server.RunHTTPServer(ctx, app.Cfg.HTTP, app.Router)
	})

	global.Logger.Info().Str("db", app.Cfg.DB.Driver).Bool("redis", app.Redis != nil).Msg("fleet backend started")
	if err := g.Wait(); err != nil {
		global.Logger.Error().Err(err).Msg("fleet backend stopped")
		app.Close()
		os.Exit(1)
	}
	global.Logger.Info().Msg("fleet backend stopped")
}
