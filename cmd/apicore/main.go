package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"apicore/internal/api"
	"apicore/internal/config"
	"apicore/internal/logger"
	"apicore/internal/models"
	"apicore/internal/observability"
	"apicore/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	writeExample := flag.String("write-example-config", "", "write an example configuration to this path and exit")
	flag.Parse()

	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			bootLog.Fatal().Err(err).Msg("Failed to write example configuration")
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ver := version.GetInfo()
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to set up logging")
	}
	if closer != nil {
		defer closer.Close()
	}
	zerolog.DefaultContextLogger = &log

	log.Info().
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Type).
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Str("rate_limit_store", cfg.RateLimit.Store).
		Msg("Starting apicore")

	if err := run(cfg, log, ver); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server shutdown complete")
}

func run(cfg *models.Config, log zerolog.Logger, ver version.Info) error {
	ctx := context.Background()

	otelProvider, err := observability.Setup(ctx, cfg.Metrics, cfg.Observability, ver, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to setup observability: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := otelProvider.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown observability")
		}
	}()

	instrument := cfg.Metrics.Enabled || otelProvider.TracingEnabled()

	a, err := buildApp(ctx, cfg, log, ver, prometheus.DefaultRegisterer, instrument)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close resources")
		}
	}()

	router := api.SetupRoutes(a.handlers, a.routes...)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, prometheus.DefaultGatherer, log)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Bool("tls", cfg.Server.TLSEnabled).Msg("HTTP server listening")
		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server forced to shutdown")
		}
	}
	return runErr
}
