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
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "myrcat",
		Short:         "Now-playing publisher for radio automation",
		Long:          "myrcat listens for playout events and publishes now-playing updates to social platforms, tracking credentials and engagement along the way.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "Path to the config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newTokenCommand(&configPath),
		newReportCommand(&configPath),
	)
	return root
}
