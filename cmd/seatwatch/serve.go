package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/pkg/config"
	"github.com/noah-isme/seatwatch/pkg/database"
)

const shutdownTimeout = 15 * time.Second

func serveCommand(state *cli) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops API and the scheduled availability checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := state.cfg
			if cfg.Ops.JWTSecret == "" {
				return errors.New("OPS_JWT_SECRET is required")
			}
			if cfg.Env == config.EnvProduction {
				gin.SetMode(gin.ReleaseMode)
			}

			a, err := newApp(ctx, cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := database.Migrate(ctx, a.db); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			router := newRouter(routerDeps{
				baseCtx:       ctx,
				prefix:        cfg.APIPrefix,
				origins:       cfg.Ops.AllowedOrigins,
				logger:        a.logger,
				metrics:       a.metrics,
				db:            a.db,
				tokens:        a.tokens,
				monitor:       a.monitor,
				subscriptions: a.subscriptions,
				courses:       a.courses,
			})

			if cfg.Monitor.Enabled {
				a.monitor.Start(ctx)
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "monitor", cfg.Monitor.Enabled)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			a.monitor.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("server shutdown", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}
