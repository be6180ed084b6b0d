package main

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/loykin/rankvisor/internal/server"
)

var errUnhealthy = errors.New("supervisor is not healthy")

// createStatusCommand creates the status subcommand
func createStatusCommand(global *GlobalFlags, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running supervisor",
		Long: `Query the supervisor's /status endpoint and print it as JSON. Exits
non-zero when /healthz does not report the restart loop as running.

Examples:
  rankvisor status
  rankvisor status --url=http://10.0.0.5:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return runStatus(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.URL, "url", "", "supervisor base URL (default from metrics.listen)")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "request timeout")
	cmd.Flags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for an https endpoint")
	cmd.Flags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")

	return cmd
}

func runStatus(ctx context.Context, f StatusFlags, out io.Writer) error {
	url := f.URL
	if url == "" {
		cfg, _, closer, err := loadRuntime(f.ConfigPath)
		if err != nil {
			return err
		}
		_ = closer.Close()
		url = listenURL(cfg.Metrics.Listen)
	}
	c, err := server.NewClient(server.ClientConfig{BaseURL: url, Timeout: f.Timeout, CACert: f.CACert, Insecure: f.Insecure})
	if err != nil {
		return err
	}
	if !c.IsHealthy(ctx) {
		return errUnhealthy
	}
	r, err := c.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(out, r)
	return nil
}

// listenURL turns a listen address such as ":9090" into a local URL.
func listenURL(listen string) string {
	if listen == "" {
		return ""
	}
	if listen[0] == ':' {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}
