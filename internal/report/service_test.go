package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumastack/campaign-insights/internal/config"
	"github.com/lumastack/campaign-insights/internal/klaviyo"
	"github.com/lumastack/campaign-insights/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resource(typ, id string, attrs map[string]any, rels map[string]any) map[string]any {
	r := map[string]any{"type": typ, "id": id, "attributes": attrs}
	if rels != nil {
		r["relationships"] = rels
	}
	return r
}

func toMany(typ string, ids ...string) map[string]any {
	refs := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, map[string]any{"type": typ, "id": id})
	}
	return map[string]any{"data": refs}
}

func page(w http.ResponseWriter, data ...map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func event(id string, props map[string]any) map[string]any {
	return resource("event", id, map[string]any{
		"datetime":         "2026-08-15T10:00:00Z",
		"event_properties": props,
	}, nil)
}

// fixture is a fake upstream covering every endpoint one report build hits.
type fixture struct {
	srv            *httptest.Server
	aggregateCalls atomic.Int64
	withConversion bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{withConversion: true}
	inWindow := time.Now().UTC().AddDate(0, 0, -5).Format(time.RFC3339)
	stale := time.Now().UTC().AddDate(0, 0, -60).Format(time.RFC3339)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/metrics"):
			metrics := []map[string]any{
				resource("metric", "M-OE", map[string]any{"name": "Opened Email"}, nil),
				resource("metric", "M-CE", map[string]any{"name": "Clicked Email"}, nil),
				resource("metric", "M-RE", map[string]any{"name": "Received Email"}, nil),
			}
			if f.withConversion {
				metrics = append(metrics, resource("metric", "M-PO", map[string]any{"name": "Placed Order"}, nil))
			}
			page(w, metrics...)

		case strings.HasPrefix(r.URL.Path, "/api/campaigns"):
			if strings.Contains(r.URL.Query().Get("filter"), "'sms'") {
				http.Error(w, `{"errors":[{"detail":"sms not enabled"}]}`, http.StatusForbidden)
				return
			}
			page(w,
				resource("campaign", "C1", map[string]any{
					"name": "Spring Sale", "status": "Sent", "send_time": "2026-08-10T09:00:00Z",
					"created_at": inWindow, "updated_at": inWindow,
				}, map[string]any{"campaign-messages": toMany("campaign-message", "M1", "M2")}),
				resource("campaign", "C2", map[string]any{
					"name": "Quiet Launch", "status": "Sent", "send_time": "2026-08-12T09:00:00Z",
					"created_at": inWindow, "updated_at": inWindow,
				}, nil),
				resource("campaign", "C3", map[string]any{
					"name": "Old Promo", "status": "Sent", "send_time": "2026-06-01T09:00:00Z",
					"created_at": stale, "updated_at": stale,
				}, map[string]any{"campaign-messages": toMany("campaign-message", "M9")}),
			)

		case strings.HasPrefix(r.URL.Path, "/api/flows"):
			page(w,
				resource("flow", "F1", map[string]any{
					"name": "Welcome Series", "status": "live", "updated_at": inWindow,
				}, nil),
				resource("flow", "F2", map[string]any{
					"name": "Abandoned Cart", "status": "Draft", "updated_at": inWindow,
				}, nil),
			)

		case strings.HasPrefix(r.URL.Path, "/api/metric-aggregates"):
			f.aggregateCalls.Add(1)
			w.Write([]byte(`{"data":{"attributes":{"data":[{"dimensions":[],"measurements":{"sum_value":[400,600]}}]}}}`))

		case strings.HasPrefix(r.URL.Path, "/api/events"):
			filter := r.URL.Query().Get("filter")
			switch {
			case strings.Contains(filter, "M-PO"):
				page(w,
					event("e1", map[string]any{"$attributed_campaign": "C1", "$value": 150.0}),
					event("e2", map[string]any{"$flow": "F1", "$value": 100.0}),
					event("e3", map[string]any{"$value": 50.0}),
				)
			case strings.Contains(filter, "M-OE"):
				page(w,
					event("o1", map[string]any{"$message": "M1"}),
					event("o2", map[string]any{"$message": "M1"}),
					event("o3", map[string]any{"$message": "M2"}),
					event("o4", map[string]any{"$flow": "F1"}),
				)
			case strings.Contains(filter, "M-CE"):
				page(w,
					event("k1", map[string]any{"$message": "M1", "$value": 20.0}),
				)
			case strings.Contains(filter, "M-RE"):
				page(w,
					event("r1", map[string]any{"$message": "M1"}),
					event("r2", map[string]any{"$message": "M1"}),
					event("r3", map[string]any{"$message": "M2"}),
					event("r4", map[string]any{"$flow": "F1"}),
				)
			default:
				page(w)
			}

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) service(mode config.RevenueMode) *Service {
	cfg := config.Config{
		ConversionMetric: "Placed Order",
		OpenMetric:       "Opened Email",
		ClickMetric:      "Clicked Email",
		ReceivedMetric:   "Received Email",
		RevenueMode:      mode,
	}
	client := klaviyo.NewClient(klaviyo.Config{BaseURL: f.srv.URL, APIKey: "pk_test", Revision: "2024-02-15"})
	return NewService(client, cfg, discardLogger())
}

func campaignByID(t *testing.T, rows []models.CampaignRow, id string) models.CampaignRow {
	t.Helper()
	for _, row := range rows {
		if row.ID == id {
			return row
		}
	}
	t.Fatalf("campaign %s not in rows", id)
	return models.CampaignRow{}
}

func TestBuildSummary(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.RevenueConversionOnly)

	summary, err := svc.BuildSummary(context.Background(), 30)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.Equal(t, 1000.0, summary.TotalRevenue)
	assert.Equal(t, "last_30_days", summary.Timeframe)
	assert.Equal(t, 2, summary.TotalCampaigns, "stale campaign must be excluded")
	assert.Equal(t, 1, summary.TotalFlows, "draft flow must be excluded")

	c1 := campaignByID(t, summary.Campaigns, "C1")
	assert.Equal(t, 3, c1.Opens, "opens roll up across message variants")
	assert.Equal(t, 1, c1.Clicks)
	assert.Equal(t, 3, c1.Recipients)
	assert.Equal(t, 150.0, c1.Revenue)
	assert.Equal(t, 1, c1.Conversions)
	assert.Equal(t, 100.0, c1.OpenRate)
	assert.Equal(t, 33.33, c1.ClickRate)
	assert.Equal(t, "15.0", c1.RevenueShare)
	assert.Equal(t, "email", c1.MessageType)

	c2 := campaignByID(t, summary.Campaigns, "C2")
	assert.Equal(t, 0, c2.Recipients)
	assert.Equal(t, 0.0, c2.OpenRate)
	assert.Equal(t, 0.0, c2.ClickRate)
	assert.Equal(t, "0.0", c2.RevenueShare)

	require.Len(t, summary.Flows, 1)
	f1 := summary.Flows[0]
	assert.Equal(t, "F1", f1.ID)
	assert.Equal(t, 100.0, f1.Revenue)
	assert.Equal(t, 1, f1.Conversions)
	assert.Equal(t, 1, f1.Opens)
	assert.Equal(t, 1, f1.Recipients)
	assert.Equal(t, "10.0", f1.RevenueShare)

	assert.Equal(t, 1, summary.UnattributedConversions)
	assert.Equal(t, 50.0, summary.UnattributedRevenue)

	var attributed float64
	for _, row := range summary.Campaigns {
		attributed += row.Revenue
	}
	for _, row := range summary.Flows {
		attributed += row.Revenue
	}
	assert.LessOrEqual(t, attributed, summary.TotalRevenue+1e-9)
}

func TestBuildSummaryAdditiveRevenue(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.RevenueAdditive)

	summary, err := svc.BuildSummary(context.Background(), 30)
	require.NoError(t, err)

	// Click-borne value is added on top of conversion revenue in this mode.
	c1 := campaignByID(t, summary.Campaigns, "C1")
	assert.Equal(t, 170.0, c1.Revenue)
}

func TestBuildSummaryWithoutConversionMetric(t *testing.T) {
	f := newFixture(t)
	f.withConversion = false
	svc := f.service(config.RevenueConversionOnly)

	summary, err := svc.BuildSummary(context.Background(), 30)
	require.NoError(t, err)

	assert.Equal(t, 0.0, summary.TotalRevenue)
	assert.Equal(t, int64(0), f.aggregateCalls.Load(), "no aggregate call without a conversion metric")

	// Engagement figures survive a revenue-less account.
	assert.Equal(t, 2, summary.TotalCampaigns)
	c1 := campaignByID(t, summary.Campaigns, "C1")
	assert.Equal(t, 3, c1.Opens)
	assert.Equal(t, 0.0, c1.Revenue)
	assert.Equal(t, "0.0", c1.RevenueShare)
}

func TestBuildSummarySMSFailureIsAbsorbed(t *testing.T) {
	// The fixture always rejects the sms channel listing; the report must
	// still come back with the email campaigns.
	f := newFixture(t)
	svc := f.service(config.RevenueConversionOnly)

	summary, err := svc.BuildSummary(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalCampaigns)
}

func TestBuildSummaryMandatoryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"detail":"invalid api key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.Config{ConversionMetric: "Placed Order"}
	client := klaviyo.NewClient(klaviyo.Config{BaseURL: srv.URL})
	svc := NewService(client, cfg, discardLogger())

	_, err := svc.BuildSummary(context.Background(), 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestListFlowsExcludesDrafts(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.RevenueConversionOnly)

	flows, err := svc.ListFlows(context.Background())
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "Welcome Series", flows[0].Name)
}

func TestBuildMessageMap(t *testing.T) {
	m := BuildMessageMap([]Campaign{
		{ID: "C1", MessageIDs: []string{"M1", "M2"}},
		{ID: "C2"},
	})
	assert.Equal(t, []string{"M1", "M2"}, m["C1"])
	assert.Empty(t, m["C2"])
	assert.NotContains(t, m, "C3")
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, rate(5, 0))
	assert.Equal(t, 50.0, rate(1, 2))
	assert.Equal(t, 100.0, rate(7, 3), "multiple events per recipient clamp at 100")
}

func TestShareString(t *testing.T) {
	assert.Equal(t, "0.0", shareString(10, 0))
	assert.Equal(t, "12.5", shareString(125, 1000))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 12.35, round2(12.346))
	// Refund events carry negative values; they round toward the nearest
	// cent, not upward.
	assert.Equal(t, -2.35, round2(-2.347))
	assert.Equal(t, 1e17, round2(1e17))
}
