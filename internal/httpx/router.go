package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumastack/campaign-insights/internal/klaviyo"
	"github.com/lumastack/campaign-insights/internal/models"
	"github.com/lumastack/campaign-insights/internal/report"
	"github.com/lumastack/campaign-insights/internal/utils"
)

func NewRouter(log *slog.Logger, svc *report.Service, defaultWindowDays int) http.Handler {
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(log))
	mux.Use(utils.Metrics)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ready")) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.Get("/report/summary", func(w http.ResponseWriter, r *http.Request) {
		days := defaultWindowDays
		if q := r.URL.Query().Get("window_days"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n < 1 || n > 90 {
				writeJSON(w, 400, models.ErrorEnvelope{Error: "window_days must be in [1,90]"})
				return
			}
			days = n
		}

		// Report builds are paced against the upstream quota and routinely
		// take minutes; clients that give up just abandon the response.
		summary, err := svc.BuildSummary(r.Context(), days)
		if err != nil {
			log.Error("report build failed",
				slog.String("rid", utils.RID(r.Context())),
				slog.String("err", err.Error()))
			writeJSON(w, 502, models.ErrorEnvelope{Error: upstreamMessage(err)})
			return
		}
		writeJSON(w, 200, summary)
	})

	return mux
}

// upstreamMessage surfaces the raw upstream payload when the failure came
// from the provider API.
func upstreamMessage(err error) string {
	var apiErr *klaviyo.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}
