package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/loykin/rankvisor/internal/config"
	"github.com/loykin/rankvisor/internal/env"
	"github.com/loykin/rankvisor/internal/history/factory"
	"github.com/loykin/rankvisor/internal/logger"
	"github.com/loykin/rankvisor/internal/metrics"
	"github.com/loykin/rankvisor/internal/process"
	"github.com/loykin/rankvisor/internal/server"
	"github.com/loykin/rankvisor/internal/supervisor"
)

var errMissingEnv = errors.New("required environment variables are missing")

// createSuperviseCommand creates the supervise subcommand
func createSuperviseCommand(global *GlobalFlags, flags *SuperviseFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the bot worker and restart it whenever it exits",
		Long: `Check the required environment, register slash commands once and then
keep the bot worker running. The worker is restarted after every exit.

Examples:
  rankvisor supervise
  rankvisor supervise --config=rankvisor.toml --metrics-listen=:9090
  rankvisor supervise --no-sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return runSupervise(cmd.Context(), *flags, os.LookupEnv)
		},
	}

	cmd.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "address for /healthz, /status and /metrics (overrides metrics.listen)")
	cmd.Flags().BoolVar(&flags.NoSync, "no-sync", false, "skip slash command registration at startup")

	return cmd
}

func runSupervise(ctx context.Context, f SuperviseFlags, lookup func(string) (string, bool)) error {
	cfg, log, closer, err := loadRuntime(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if !config.CheckEnvironment(cfg.Supervisor.RequiredEnv, lookup, logger.Component(log, "config")) {
		return errMissingEnv
	}

	spec, err := workerSpec(cfg.Supervisor, f.ConfigPath)
	if err != nil {
		return err
	}

	recorder, err := factory.NewRecorder(ctx, logger.Component(log, "history"), cfg.History.Sinks)
	if err != nil {
		return err
	}
	defer func() { _ = recorder.Close() }()

	reg := metrics.NewRegistry()
	supMetrics := metrics.NewSupervisor()
	sampler := metrics.NewChildSampler(cfg.Metrics.SampleInterval, logger.Component(log, "sampler"))
	if err := metrics.Register(reg, supMetrics, sampler); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var syncFn supervisor.SyncFunc
	if cfg.Supervisor.SyncCommands && !f.NoSync {
		r, err := newRegistrar(cfg.Discord)
		if err != nil {
			log.Error("command synchronization unavailable", "error", err)
		} else {
			syncFn = r.Sync
		}
	}

	sup := supervisor.New(supervisor.Options{
		Spec:              spec,
		Sync:              syncFn,
		RestartDelay:      cfg.Supervisor.RestartDelay,
		RestartMaxDelay:   cfg.Supervisor.RestartMaxDelay,
		PollInterval:      cfg.Supervisor.PollInterval,
		HeartbeatInterval: cfg.Supervisor.HeartbeatInterval,
		ShutdownGrace:     cfg.Supervisor.ShutdownGrace,
		Log:               logger.Component(log, "supervisor"),
		Metrics:           supMetrics,
		History:           recorder,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sampler.Run(runCtx, sup.PID)
	}()

	if listen := valOr(f.MetricsListen, cfg.Metrics.Listen); listen != "" {
		h := server.NewRouter(sup, metrics.Handler(reg), sampler, "").Handler()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(runCtx, listen, h, logger.Component(log, "http")); err != nil {
				log.Error("http server stopped", "addr", listen, "error", err)
			}
		}()
	}

	err = sup.Run(runCtx)
	cancel()
	wg.Wait()
	if ctx.Err() != nil {
		log.Info("terminated by signal")
	}
	return err
}

// workerSpec builds the child command. Without a configured command the
// supervisor re-executes its own binary as "worker".
func workerSpec(sc config.SupervisorConfig, configPath string) (process.Spec, error) {
	args := sc.Command
	if len(args) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return process.Spec{}, fmt.Errorf("resolve executable: %w", err)
		}
		args = []string{exe, "worker"}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
	}
	e := env.New()
	e.Set(env.SupervisedVar, "1")
	return process.Spec{
		Name:         "bot",
		Args:         args,
		WorkDir:      sc.WorkDir,
		Env:          e.Merge(sc.Env),
		DrainTimeout: sc.DrainTimeout,
	}, nil
}
