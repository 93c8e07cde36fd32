package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"borderwatch/internal/config"
)

var version = "dev"

var (
	cfgPath string
	cfgMgr  *config.Manager
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "borderwatch",
		Short: "Border surveillance daemon: roster-matched face detection with unknown-presence alerting",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env file is optional, don't fail if not found
			_ = godotenv.Load()
			var err error
			cfgMgr, err = config.NewManager(config.ResolvePath(cfgPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "borderwatch.yaml", "Path to the configuration file")

	rootCmd.AddCommand(
		runCmd(),
		recordsCmd(),
		enrollCmd(),
		versionCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
