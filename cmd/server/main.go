package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lumastack/campaign-insights/internal/config"
	"github.com/lumastack/campaign-insights/internal/httpx"
	"github.com/lumastack/campaign-insights/internal/klaviyo"
	"github.com/lumastack/campaign-insights/internal/report"
)

func main() {
	cfg := config.FromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.APIKey == "" {
		logger.Error("KLAVIYO_API_KEY is required")
		os.Exit(1)
	}

	client := klaviyo.NewClient(klaviyo.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Revision:    cfg.APIRevision,
		ReportDelay: cfg.ReportCallDelay,
		HTTPTimeout: cfg.HTTPTimeout,
	})
	svc := report.NewService(client, cfg, logger)

	r := httpx.NewRouter(logger, svc, cfg.WindowDays)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Report builds block for minutes under the upstream quota.
		WriteTimeout: 30 * time.Minute,
	}

	logger.Info("starting server", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
