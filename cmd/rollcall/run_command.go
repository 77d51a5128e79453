package main

import (
	"github.com/spf13/cobra"

	"rollcall/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var dev bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground (blocks until SIGINT/SIGTERM)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = cfg.Logging.Level
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    level,
				Development: dev,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Development mode logging")
	return cmd
}
