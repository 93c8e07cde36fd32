package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"borderwatch/internal/logging"
	"borderwatch/internal/session"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the detection loop and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.NewLogger(cfgMgr.Get().LogLevel)

			sess, err := session.New(ctx, cfgMgr, logger, version)
			if err != nil {
				return err
			}
			defer sess.Close()

			err = sess.Run(ctx)
			if errors.Is(err, context.Canceled) {
				logger.Info("shutting down")
				return nil
			}
			return err
		},
	}
}
