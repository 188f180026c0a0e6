package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shaka-fleet/agent/internal/command"
	"shaka-fleet/agent/internal/config"
	"shaka-fleet/agent/internal/connection"
	"shaka-fleet/agent/internal/db"
	"shaka-fleet/agent/internal/device"
	"shaka-fleet/agent/internal/localhttp"
	"shaka-fleet/agent/internal/logger"
	"shaka-fleet/agent/internal/state"

	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		cfgPath = flag.String("config", "config/agent.yaml", "Path to configuration file")
		machine = flag.String("machine", "", "Override the machine id")
		poll    = flag.Bool("poll", false, "Use HTTP heartbeats instead of the live channel")
	)
	flag.Parse()

	cfg, err := config.Init(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *machine != "" {
		cfg.MachineID = *machine
	}
	if *poll {
		cfg.Live = false
	}
	if err := logger.Init(cfg.LogPath); err != nil {
		fmt.Fprintln(os.Stderr, "cannot open log file:", err)
		os.Exit(1)
	}

	store, err := db.Init(cfg.DBPath)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("cannot open local store")
	}
	m, err := state.Load(store)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("cannot restore machine state")
	}
	cmds := command.NewMachineManager(m)
	local := &localhttp.Handler{Machine: m, Commands: cmds}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.L.Info().Str("machine", cfg.MachineID).Bool("live", cfg.Live).Msg("agent starting")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return localhttp.Serve(gctx, cfg.VendPort, local.VendMux()) })
	g.Go(func() error { return localhttp.Serve(gctx, cfg.ProductsPort, local.ProductsMux()) })
	if cfg.Live {
		g.Go(func() error { return connection.New(cfg, m, cmds).Run(gctx) })
	} else {
		g.Go(func() error {
			connection.Poll(gctx, cfg, device.NewClient(cfg.BackendURL), m, cmds)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.L.Error().Err(err).Msg("agent stopped")
		os.Exit(1)
	}
	logger.L.Info().Msg("agent stopped")
}
