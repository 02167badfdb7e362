package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"showtime-api/api"
	"showtime-api/config"
	"showtime-api/scraper/bookmyshow"
	"showtime-api/services"
	"showtime-api/storage"
	"showtime-api/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLogger(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Showtime API starting ===")
	logger.Info("Config | driver: %s | window: %v | extract timeout: %v | dedupe: %v",
		cfg.DBDriver, cfg.FreshnessWindow, cfg.ExtractTimeout, cfg.DedupeRefresh)

	dialect, err := storage.DialectFor(cfg.DBDriver)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	store, err := storage.Open(ctx, dialect, cfg.DSN(), &utils.RetryConfig{
		MaxAttempts: cfg.DBConnectRetries,
		BaseDelay:   time.Second,
		Logger:      logger,
	}, logger)
	if err != nil {
		logger.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("Connected to %s database", dialect.Name)

	extractor := bookmyshow.New(bookmyshow.Options{
		BaseURL:     cfg.ListingsBaseURL,
		ChromeBin:   cfg.ChromeBin,
		Timeout:     cfg.ExtractTimeout,
		SettleDelay: cfg.SettleDelay,
	}, logger)

	refresher := services.NewRefresher(store, extractor, cfg.FreshnessWindow, logger,
		services.WithDedupe(cfg.DedupeRefresh))

	services.NewWarmup(refresher, store, cfg.WarmupConcurrency, logger).Run(ctx, cfg.WarmupCities)

	handler := api.NewHandler(refresher, services.NewMatcher(logger), store, cfg.DefaultCity, logger)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown: %v", err)
		}
	}()

	logger.Info("Server starting on %s...", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Failed to start server: %v", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
