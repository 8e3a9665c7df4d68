package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/follow-reconciler/internal/httpapi"
	"github.com/Sternrassler/follow-reconciler/pkg/session"
)

func newServeCmd(getApp func() *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			if addr == "" {
				addr = a.cfg.Server.Addr()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.host and server.port)")
	return cmd
}

// serve runs the API until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, a *app, addr string) error {
	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := session.NewRegistry(a.sessionConfig())
	router := httpapi.NewRouter(httpapi.NewHandler(registry, a.recorder))

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go pruneSessions(ctx, a, registry)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", addr).
			Str("user_agent", a.cfg.GitHub.UserAgent).
			Bool("redis", a.cfg.Redis.Enabled()).
			Msg("Starting HTTP API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func pruneSessions(ctx context.Context, a *app, registry *session.Registry) {
	idle := a.cfg.Session.IdleTimeout
	if idle <= 0 {
		return
	}

	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := registry.Prune(idle); removed > 0 {
				a.logger.Debug().Int("removed", removed).Msg("Pruned idle sessions")
			}
		}
	}
}
