package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bilal/dashline-agent/internal/communicator"
	"github.com/bilal/dashline-agent/internal/config"
	"github.com/bilal/dashline-agent/internal/health"
	"github.com/bilal/dashline-agent/internal/logger"
	"github.com/bilal/dashline-agent/internal/metrics"
	"github.com/bilal/dashline-agent/internal/monitor"
	"github.com/bilal/dashline-agent/internal/script"
	"github.com/bilal/dashline-agent/internal/source"
)

var runConfigPath string

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "config.yaml", "path to agent configuration file")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll telemetry and stream dash lines until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd.Context(), runConfigPath)
	},
}

func runAgent(parent context.Context, cfgPath string) error {
	// Load config
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Init logger
	logger.Init(cfg.Logging)
	log.Info().Str("agent", cfg.Agent.Name).Str("version", Version).Msg("starting dashline agent")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	rec := metrics.NewProm(reg)

	src, err := source.New(cfg.Source, cfg.Agent.Timeout())
	if err != nil {
		return err
	}

	sink, err := communicator.NewSink(cfg)
	if err != nil {
		return err
	}

	opts := []monitor.Option{monitor.WithRecorder(rec)}
	if cfg.Agent.ScriptPath != "" {
		f, err := script.Load(cfg.Agent.ScriptPath)
		if err != nil {
			sink.Close()
			return err
		}
		defer f.Close()
		opts = append(opts, monitor.WithScript(f))
		log.Info().Str("script", cfg.Agent.ScriptPath).Msg("custom line script loaded")
	}

	//------------------------------------------
	// START HEALTH SERVER
	//------------------------------------------
	healthSrv := health.New(cfg.Health.Addr, reg)
	healthSrv.SetRunning(true)
	opts = append(opts, monitor.WithStatus(healthSrv))

	//------------------------------------------
	// START COMMUNICATOR
	//------------------------------------------
	comm := communicator.New(cfg, sink, rec)
	comm.Start()

	//------------------------------------------
	// START MONITOR
	//------------------------------------------
	mon := monitor.New(cfg, src, comm, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Health.Addr).Msg("health endpoint running")
		return healthSrv.Serve()
	})
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Warn().Msg("shutdown signal received")

		//------------------------------------------
		// SHUTDOWN SEQUENCE
		//------------------------------------------
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		log.Info().Msg("stopping communicator...")
		comm.Shutdown(shutdownCtx)

		healthSrv.SetRunning(false)
		return healthSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("agent stopped cleanly")
	return nil
}
