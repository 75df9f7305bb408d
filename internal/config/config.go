package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// RevenueMode controls whether revenue carried on open/click events is added
// on top of conversion revenue. Upstream event schemas are ambiguous about
// whether those values describe the same transaction, so the additive mode is
// opt-in.
type RevenueMode string

const (
	RevenueConversionOnly RevenueMode = "conversion_only"
	RevenueAdditive       RevenueMode = "additive"
)

type Config struct {
	APIKey      string
	BaseURL     string
	APIRevision string

	Port        string
	HTTPTimeout time.Duration
	LogLevel    slog.Level

	// Delay enforced between successive calls to the rate-limited report
	// endpoints (~2 requests/minute upstream).
	ReportCallDelay time.Duration

	// Trailing reporting window, in days.
	WindowDays int

	// Canonical metric names, overridable per account.
	ConversionMetric string
	OpenMetric       string
	ClickMetric      string
	ReceivedMetric   string

	RevenueMode RevenueMode
}

func FromEnv() Config {
	to := 60 * time.Second
	if v := os.Getenv("HTTP_TIMEOUT_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			to = d
		}
	}
	delay := 30 * time.Second
	if v := os.Getenv("REPORT_CALL_DELAY_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			delay = d
		}
	}
	lvl := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		lvl = slog.LevelDebug
	}
	mode := RevenueConversionOnly
	if os.Getenv("REVENUE_MODE") == string(RevenueAdditive) {
		mode = RevenueAdditive
	}
	return Config{
		APIKey:           os.Getenv("KLAVIYO_API_KEY"),
		BaseURL:          envOr("KLAVIYO_API_URL", "https://a.klaviyo.com"),
		APIRevision:      envOr("KLAVIYO_API_REVISION", "2024-02-15"),
		Port:             envOr("PORT", "8080"),
		HTTPTimeout:      to,
		LogLevel:         lvl,
		ReportCallDelay:  delay,
		WindowDays:       intOr("WINDOW_DAYS", 30),
		ConversionMetric: envOr("CONVERSION_METRIC", "Placed Order"),
		OpenMetric:       envOr("OPEN_METRIC", "Opened Email"),
		ClickMetric:      envOr("CLICK_METRIC", "Clicked Email"),
		ReceivedMetric:   envOr("RECEIVED_METRIC", "Received Email"),
		RevenueMode:      mode,
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func intOr(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
