// Command agent serves the customer agent API. It exchanges each caller's
// token for a delegated session token and calls MCP tool servers with it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Customer agent API",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addConfigFlag(root.PersistentFlags())
	root.AddCommand(serveCommand())
	return root
}

func addConfigFlag(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "YAML configuration file; environment variables override it")
}

// configPath returns the --config value, or "" for environment-only
// configuration.
func configPath(flags *pflag.FlagSet) string {
	path, err := flags.GetString("config")
	if err != nil {
		return ""
	}
	return path
}
