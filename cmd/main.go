package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-screening-service/internal/app"
	"voice-screening-service/internal/config"
	internalhttp "voice-screening-service/internal/http"
	"voice-screening-service/internal/observability"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		application.Logger.Fatal().Err(err).Msg("Startup failed")
	}
	defer application.Shutdown()

	// Metrics and probe endpoints on a separate port.
	obsServer := observability.NewServer(":" + cfg.Service.MetricsPort)
	obsServer.Start()

	server := &http.Server{
		Addr:    ":" + cfg.Service.HTTPPort,
		Handler: internalhttp.NewRouter(application),
		// No global write timeout: WebSocket sessions outlive any
		// sensible request deadline.
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		application.Logger.Info().Str("addr", server.Addr).Msg("Voice screening service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			application.Logger.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	application.Logger.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		application.Logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		application.Logger.Warn().Err(err).Msg("Observability shutdown incomplete")
	}
}
