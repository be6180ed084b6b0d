package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every subcommand
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command and wires the subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	superviseFlags := &SuperviseFlags{}
	workerFlags := &WorkerFlags{}
	blacklistFlags := &BlacklistFlags{}
	statusFlags := &StatusFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createSuperviseCommand(globalFlags, superviseFlags),
		createWorkerCommand(globalFlags, workerFlags),
		createSyncCommandsCommand(globalFlags),
		createBlacklistCommand(globalFlags, blacklistFlags),
		createMigrateCommand(globalFlags),
		createStatusCommand(globalFlags, statusFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "rankvisor",
		Short: "Roblox verification bot for Discord with a restart supervisor",
		Long: `Rankvisor links Discord members to Roblox accounts, checks their groups
against a blacklist and manages ranks in a Roblox group.

The supervise command keeps the bot worker alive: it checks the required
environment, registers slash commands once, then restarts the worker
whenever it exits.

Examples:
  rankvisor supervise --config=rankvisor.toml
  rankvisor worker
  rankvisor blacklist add --group-id=1234
  rankvisor migrate
  rankvisor status --url=http://127.0.0.1:9090`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}
