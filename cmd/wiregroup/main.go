package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/engine"
	"github.com/tarungka/wiregroup/internal/config"
	"github.com/tarungka/wiregroup/internal/logger"
	"github.com/tarungka/wiregroup/server"
	"golang.org/x/sync/errgroup"
)

var buildString = "unknown"

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.Version {
		fmt.Println(buildString)
		return nil
	}

	lg, err := logger.Setup("wiregroup", logger.Options{Development: cfg.Dev, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	lg.Info().Str("build", buildString).Str("worker_id", cfg.WorkerID).Msg("Starting the application")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			lg.Error().Err(err).Msg("Error when closing the engine")
		}
	}()
	if err := e.Start(); err != nil {
		return err
	}
	if err := e.SubmitQueries(ctx); err != nil {
		lg.Error().Err(err).Msg("Some configured queries were not admitted")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(ctx) })
	g.Go(func() error { return server.New(cfg.Server.Port, e).Run(ctx) })

	err = g.Wait()
	lg.Info().Msg("Received interrupt signal; shutting down")
	return err
}
