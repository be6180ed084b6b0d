package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/rankvisor/internal/discord"
	"github.com/loykin/rankvisor/internal/env"
	"github.com/loykin/rankvisor/internal/logger"
	"github.com/loykin/rankvisor/internal/metrics"
	"github.com/loykin/rankvisor/internal/server"
	"github.com/loykin/rankvisor/internal/store"
	"github.com/loykin/rankvisor/internal/verify"
)

// createWorkerCommand creates the worker subcommand
func createWorkerCommand(global *GlobalFlags, flags *WorkerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the Discord bot in the foreground",
		Long: `Connect to Discord and serve the verification commands until interrupted.
This is the process the supervise command keeps alive. Any startup failure
exits non-zero so the supervisor restarts it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return runWorker(cmd.Context(), *flags)
		},
	}

	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "time limit for one interaction (default 30s)")
	cmd.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "address serving the bot's Prometheus metrics")

	return cmd
}

func runWorker(ctx context.Context, f WorkerFlags) error {
	cfg, log, closer, err := loadRuntime(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	log.Info("worker starting", "supervised", os.Getenv(env.SupervisedVar) == "1")

	groupID, err := verify.ParseGroupID(cfg.Roblox.GroupID)
	if err != nil {
		return fmt.Errorf("roblox group id: %w", err)
	}

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	log.Info("connected to database", "dialect", db.Dialect())

	rc := newRobloxClient(cfg.Roblox)
	me, err := rc.AuthenticatedUser(ctx)
	if err != nil {
		return fmt.Errorf("roblox login: %w", err)
	}
	log.Info("logged in to roblox", "user", me.Name, "id", me.ID)

	reg := metrics.NewRegistry()
	botMetrics := metrics.NewBot()
	if err := metrics.Register(reg, botMetrics); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if f.MetricsListen != "" {
		go func() {
			if err := server.Serve(ctx, f.MetricsListen, metrics.Handler(reg), logger.Component(log, "http")); err != nil {
				log.Error("metrics server stopped", "addr", f.MetricsListen, "error", err)
			}
		}()
	}

	svc := verify.New(verify.Options{
		Store:    db,
		Roblox:   rc,
		GroupID:  groupID,
		Observer: botMetrics,
		Log:      logger.Component(log, "verify"),
	})

	session, err := newSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	bot := discord.NewBot(discord.Options{
		Service: svc,
		Purger:  db,
		Log:     logger.Component(log, "discord"),
		Timeout: f.Timeout,
	})
	if err := bot.Run(ctx, session, session); err != nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
