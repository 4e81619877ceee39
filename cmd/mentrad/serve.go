package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/interact"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/core/providers/gemini"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/config"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/live/session"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/metrics"
	"github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/persist"
	gatewayserver "github.com/Mentra-Community/Mentra-AI-sub000/pkg/gateway/server"
)

func newServeCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			return runServe(cmd.Context(), logger)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "environment file to load before reading config")
	return cmd
}

func runServe(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	model, err := gemini.New(ctx, gemini.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("init gemini: %w", err)
	}

	var newRecorder func(userID, sessionID string) interact.Recorder
	if cfg.DatabaseURL != "" {
		store, err := persist.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		newRecorder = func(userID, sessionID string) interact.Recorder {
			return store.Recorder(userID, sessionID)
		}
		logger.Info("turn persistence enabled")
	}

	gw := gatewayserver.New(cfg, gatewayserver.Deps{
		Logger:  logger,
		Metrics: metrics.New("mentra"),
		Collab: session.Collaborators{
			Memory:    model,
			Tools:     model,
			Vision:    model,
			Text:      model.TextResponder(),
			Visual:    model.VisionResponder(),
			FollowUps: model,
		},
		NewRecorder: newRecorder,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	logger.Info("starting gateway", "addr", cfg.Addr, "auth_mode", cfg.AuthMode)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.NotifyLiveSessionsDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		gw.CancelLiveSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}
