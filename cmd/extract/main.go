package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/farxc/spm-results/internal/env"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := env.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: failed to load .env:", err)
	}

	rootCmd := &cobra.Command{
		Use:           "spm-extract",
		Short:         "Extract incentive results for one payee and month",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(historyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
