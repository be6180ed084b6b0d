package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/loykin/rankvisor/internal/store"
	"github.com/loykin/rankvisor/internal/verify"
)

// createSyncCommandsCommand creates the sync-commands subcommand
func createSyncCommandsCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-commands",
		Short: "Register the bot's slash commands with Discord",
		Long: `Overwrite the application's slash commands once and exit. Commands are
registered in discord.guild_id when set, globally otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncCommands(cmd.Context(), global.ConfigPath, cmd.OutOrStdout())
		},
	}
}

func runSyncCommands(ctx context.Context, configPath string, out io.Writer) error {
	cfg, _, closer, err := loadRuntime(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	r, err := newRegistrar(cfg.Discord)
	if err != nil {
		return err
	}
	n, err := r.Sync(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "registered %d commands\n", n)
	return nil
}

// createMigrateCommand creates the migrate subcommand
func createMigrateCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the verification tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), global.ConfigPath, cmd.OutOrStdout())
		},
	}
}

func runMigrate(ctx context.Context, configPath string, out io.Writer) error {
	db, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, _ = fmt.Fprintf(out, "schema ready (%s)\n", db.Dialect())
	return nil
}

// createBlacklistCommand creates the blacklist command group
func createBlacklistCommand(global *GlobalFlags, flags *BlacklistFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage blacklisted Roblox groups",
		Long: `Members of a blacklisted group cannot complete verification.

Examples:
  rankvisor blacklist add --group-id=1234
  rankvisor blacklist remove --group-id=1234
  rankvisor blacklist list`,
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Blacklist a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return runBlacklistAdd(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a group from the blacklist",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return runBlacklistRemove(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	for _, c := range []*cobra.Command{add, remove} {
		c.Flags().StringVar(&flags.GroupID, "group-id", "", "Roblox group id")
		if err := c.MarkFlagRequired("group-id"); err != nil {
			panic(fmt.Sprintf("failed to mark group-id flag as required: %v", err))
		}
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List blacklisted groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return runBlacklistList(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func runBlacklistAdd(ctx context.Context, f BlacklistFlags, out io.Writer) error {
	return withBlacklist(ctx, f.ConfigPath, func(svc *verify.Service) error {
		id, err := verify.ParseGroupID(f.GroupID)
		if err != nil {
			return err
		}
		total, err := svc.AddBlacklist(ctx, id)
		if err != nil {
			return err
		}
		printJSON(out, map[string]any{"group_id": id, "blacklisted": true, "total": total})
		return nil
	})
}

func runBlacklistRemove(ctx context.Context, f BlacklistFlags, out io.Writer) error {
	return withBlacklist(ctx, f.ConfigPath, func(svc *verify.Service) error {
		id, err := verify.ParseGroupID(f.GroupID)
		if err != nil {
			return err
		}
		removed, err := svc.RemoveBlacklist(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("group %d is not blacklisted", id)
		}
		printJSON(out, map[string]any{"group_id": id, "blacklisted": false})
		return nil
	})
}

func runBlacklistList(ctx context.Context, f BlacklistFlags, out io.Writer) error {
	return withBlacklist(ctx, f.ConfigPath, func(svc *verify.Service) error {
		ids, err := svc.ListBlacklist(ctx)
		if err != nil {
			return err
		}
		printJSON(out, map[string]any{"groups": ids})
		return nil
	})
}

// withBlacklist runs fn against a store-only service; blacklist edits never
// reach Roblox.
func withBlacklist(ctx context.Context, configPath string, fn func(*verify.Service) error) error {
	db, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(verify.New(verify.Options{Store: db}))
}

func openStore(ctx context.Context, configPath string) (*store.DB, error) {
	cfg, _, closer, err := loadRuntime(configPath)
	if err != nil {
		return nil, err
	}
	_ = closer.Close()
	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
