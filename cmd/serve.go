package main

import (
	"context"
	"errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"net/http"
	"openline/internal/router"
	"openline/internal/router/handlers"
	"os/signal"
	"syscall"
	"time"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the feed operations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		feed, err := newFeed()
		if err != nil {
			return err
		}
		defer feed.Close()

		rout := router.NewRouter(cfg.GinMode, handlers.NewFeedHandler(feed), log)
		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           rout.GetEngine(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info("Starting server", zap.String("addr", srv.Addr), zap.String("backend", cfg.Gateway.BaseURL))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				log.Error("Failed to listen and serve", zap.Error(err))
				return err
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shut down server", zap.Error(err))
			return err
		}
		return nil
	},
}
