// Package report implements the attribution aggregation engine: it reconciles
// independently fetched campaigns, flows, metric definitions and event drains
// into one consistent per-campaign and per-flow metrics row. Everything is
// recomputed per request; nothing is cached between invocations.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/lumastack/campaign-insights/internal/config"
	"github.com/lumastack/campaign-insights/internal/klaviyo"
	"github.com/lumastack/campaign-insights/internal/models"
)

type Service struct {
	client *klaviyo.Client
	cfg    config.Config
	log    *slog.Logger
}

func NewService(client *klaviyo.Client, cfg config.Config, log *slog.Logger) *Service {
	return &Service{client: client, cfg: cfg, log: log}
}

// engagement holds one event kind grouped both ways: by message id for the
// campaign side and by flow id for the flow side.
type engagement struct {
	byMessage Grouped
	byFlow    Grouped
}

// BuildSummary computes the full report for a trailing window of windowDays.
// Under the upstream report-endpoint quota this routinely takes minutes; the
// elapsed time is carried in the response rather than hidden.
func (s *Service) BuildSummary(ctx context.Context, windowDays int) (models.Summary, error) {
	started := time.Now()
	windowEnd := time.Now().UTC()
	windowStart := windowEnd.AddDate(0, 0, -windowDays)

	metrics, err := s.client.ListMetrics(ctx)
	if err != nil {
		return models.Summary{}, fmt.Errorf("list metrics: %w", err)
	}
	index := klaviyo.NewMetricIndex(metrics)
	conversionID := index.Resolve(s.cfg.ConversionMetric)
	if conversionID == "" {
		s.log.Warn("conversion metric not found, revenue will be zero",
			slog.String("metric", s.cfg.ConversionMetric))
	}

	campaigns, err := s.ListCampaigns(ctx, windowStart)
	if err != nil {
		return models.Summary{}, err
	}
	flows, err := s.ListFlows(ctx)
	if err != nil {
		return models.Summary{}, err
	}
	messageMap := BuildMessageMap(campaigns)
	s.log.Info("entities fetched",
		slog.Int("campaigns", len(campaigns)),
		slog.Int("flows", len(flows)))

	var (
		totalRevenue float64
		convByCamp   Grouped
		convByFlow   Grouped
		unattributed Bucket
	)
	if conversionID != "" {
		totalRevenue, err = s.windowRevenue(ctx, conversionID, windowStart, windowEnd)
		if err != nil {
			return models.Summary{}, fmt.Errorf("window revenue aggregate: %w", err)
		}

		events, resolver, err := s.FetchEvents(ctx, conversionID, windowStart, windowEnd)
		if err != nil {
			return models.Summary{}, fmt.Errorf("fetch conversion events: %w", err)
		}
		convByCamp = GroupBySum(events, resolver.CampaignID, eventValue)
		convByFlow = GroupBySum(events, resolver.FlowID, eventValue)
		for _, ev := range events {
			if resolver.CampaignID(ev) == "" && resolver.FlowID(ev) == "" {
				unattributed.Count++
				unattributed.Sum += eventValue(ev)
			}
		}
		s.log.Info("conversion events aggregated",
			slog.Int("events", len(events)),
			slog.Int("unattributed", unattributed.Count))
	}

	opens := s.fetchEngagement(ctx, s.cfg.OpenMetric, index, windowStart, windowEnd)
	clicks := s.fetchEngagement(ctx, s.cfg.ClickMetric, index, windowStart, windowEnd)
	received := s.fetchEngagement(ctx, s.cfg.ReceivedMetric, index, windowStart, windowEnd)

	summary := models.Summary{
		Success:                 true,
		TotalRevenue:            round2(totalRevenue),
		TotalCampaigns:          len(campaigns),
		TotalFlows:              len(flows),
		Campaigns:               make([]models.CampaignRow, 0, len(campaigns)),
		Flows:                   make([]models.FlowRow, 0, len(flows)),
		Timeframe:               fmt.Sprintf("last_%d_days", windowDays),
		UnattributedRevenue:     round2(unattributed.Sum),
		UnattributedConversions: unattributed.Count,
	}

	for _, c := range campaigns {
		messageIDs := messageMap[c.ID]
		if len(messageIDs) == 0 {
			// Engagement fallback only; revenue stays keyed by campaign id.
			messageIDs = []string{c.ID}
		}
		var openCount, clickCount, recipients int
		var openRevenue, clickRevenue float64
		for _, mid := range messageIDs {
			openCount += opens.byMessage.Get(mid).Count
			openRevenue += opens.byMessage.Get(mid).Sum
			clickCount += clicks.byMessage.Get(mid).Count
			clickRevenue += clicks.byMessage.Get(mid).Sum
			recipients += received.byMessage.Get(mid).Count
		}
		conv := convByCamp.Get(c.ID)
		revenue := conv.Sum
		if s.cfg.RevenueMode == config.RevenueAdditive {
			revenue += openRevenue + clickRevenue
		}
		summary.Campaigns = append(summary.Campaigns, models.CampaignRow{
			ID:           c.ID,
			Name:         c.Name,
			Status:       c.Status,
			SendDate:     c.SendDate,
			MessageType:  c.Channel,
			Recipients:   recipients,
			Opens:        openCount,
			Clicks:       clickCount,
			Revenue:      round2(revenue),
			Conversions:  conv.Count,
			OpenRate:     rate(openCount, recipients),
			ClickRate:    rate(clickCount, recipients),
			RevenueShare: shareString(revenue, totalRevenue),
		})
	}

	for _, f := range flows {
		conv := convByFlow.Get(f.ID)
		revenue := conv.Sum
		if s.cfg.RevenueMode == config.RevenueAdditive {
			revenue += opens.byFlow.Get(f.ID).Sum + clicks.byFlow.Get(f.ID).Sum
		}
		openCount := opens.byFlow.Get(f.ID).Count
		clickCount := clicks.byFlow.Get(f.ID).Count
		recipients := received.byFlow.Get(f.ID).Count
		summary.Flows = append(summary.Flows, models.FlowRow{
			ID:           f.ID,
			Name:         f.Name,
			Status:       f.Status,
			UpdatedAt:    f.UpdatedAt,
			Recipients:   recipients,
			Opens:        openCount,
			Clicks:       clickCount,
			Revenue:      round2(revenue),
			Conversions:  conv.Count,
			OpenRate:     rate(openCount, recipients),
			ClickRate:    rate(clickCount, recipients),
			RevenueShare: shareString(revenue, totalRevenue),
		})
	}

	sort.Slice(summary.Campaigns, func(i, j int) bool {
		if summary.Campaigns[i].Revenue != summary.Campaigns[j].Revenue {
			return summary.Campaigns[i].Revenue > summary.Campaigns[j].Revenue
		}
		return summary.Campaigns[i].Name < summary.Campaigns[j].Name
	})
	sort.Slice(summary.Flows, func(i, j int) bool {
		if summary.Flows[i].Revenue != summary.Flows[j].Revenue {
			return summary.Flows[i].Revenue > summary.Flows[j].Revenue
		}
		return summary.Flows[i].Name < summary.Flows[j].Name
	})

	summary.GeneratedInMs = time.Since(started).Milliseconds()
	s.log.Info("summary built",
		slog.Int64("elapsed_ms", summary.GeneratedInMs),
		slog.Float64("total_revenue", summary.TotalRevenue))
	return summary, nil
}

// windowRevenue fetches the single authoritative sum of all conversions in
// the window. Local per-entity sums reconcile against this figure; they may
// fall short when attribution is partial but must never exceed it.
func (s *Service) windowRevenue(ctx context.Context, metricID string, windowStart, windowEnd time.Time) (float64, error) {
	resp, err := s.client.Aggregate(ctx, klaviyo.AggregateRequest{
		Data: klaviyo.AggregateRequestData{
			Type: "metric-aggregate",
			Attributes: klaviyo.AggregateAttributes{
				MetricID:     metricID,
				Measurements: []string{"sum_value"},
				Interval:     "month",
				Timeframe: klaviyo.AggregateTimeframe{
					Start: windowStart.Format(time.RFC3339),
					End:   windowEnd.Format(time.RFC3339),
				},
			},
		},
	})
	if err != nil {
		return 0, err
	}
	var total float64
	for _, row := range resp.Data.Attributes.Data {
		total += row.MeasurementSum("sum_value")
	}
	return total, nil
}

// fetchEngagement drains one engagement metric and groups it by message and
// by flow. Engagement is optional everywhere: a missing metric or a failed
// drain degrades to zero-valued figures, never to a failed report.
func (s *Service) fetchEngagement(ctx context.Context, name string, index *klaviyo.MetricIndex, windowStart, windowEnd time.Time) engagement {
	id := index.Resolve(name)
	if id == "" {
		s.log.Debug("engagement metric not configured", slog.String("metric", name))
		return engagement{}
	}
	events, resolver, err := s.FetchEvents(ctx, id, windowStart, windowEnd)
	if err != nil {
		s.log.Warn("engagement fetch failed, treating as empty",
			slog.String("metric", name), slog.String("err", err.Error()))
		return engagement{}
	}
	return engagement{
		byMessage: GroupBySum(events, resolver.MessageID, eventValue),
		byFlow:    GroupBySum(events, resolver.FlowID, eventValue),
	}
}

// rate converts a count pair to a percentage in [0, 100], exactly 0 when the
// denominator is 0.
func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	r := float64(n) / float64(total) * 100
	if r > 100 {
		return 100
	}
	return round2(r)
}

func shareString(part, total float64) string {
	if total <= 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", part/total*100)
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
