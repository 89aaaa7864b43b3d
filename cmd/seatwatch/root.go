package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/pkg/config"
	"github.com/noah-isme/seatwatch/pkg/logger"
)

// cli carries state shared by every subcommand once PersistentPreRunE ran.
type cli struct {
	cfg    *config.Config
	logger *zap.Logger
	debug  bool
}

func rootCommand() *cobra.Command {
	state := &cli{}

	root := &cobra.Command{
		Use:           "seatwatch",
		Short:         "Course seat availability monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if state.debug {
				cfg.Log.Level = "debug"
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			state.cfg = cfg
			state.logger = logr
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVar(&state.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		serveCommand(state),
		checkCommand(state),
		migrateCommand(state),
		subscribeCommand(state),
		verifyCommand(state),
		tokenCommand(state),
	)
	return root
}
