package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/lumastack/campaign-insights/internal/klaviyo"
)

// Bucket is one group of a local aggregation.
type Bucket struct {
	Count int
	Sum   float64
}

// Grouped is the result of one GroupBySum pass. Events whose key extractor
// returned "" land in Unattributed instead of Buckets, so per-entity sums and
// window totals need not reconcile exactly; the gap stays visible.
type Grouped struct {
	Buckets      map[string]Bucket
	Unattributed Bucket
	TotalCount   int
	TotalSum     float64
}

// Get returns the bucket for key, zero-valued when the key never appeared.
func (g Grouped) Get(key string) Bucket {
	return g.Buckets[key]
}

// GroupBySum groups events by keyFn and sums valFn in one pass. The upstream
// API cannot reliably group by these dimensions server-side, so every
// per-entity figure in the report comes through here.
func GroupBySum(events []Event, keyFn func(Event) string, valFn func(Event) float64) Grouped {
	g := Grouped{Buckets: make(map[string]Bucket)}
	for _, ev := range events {
		v := valFn(ev)
		g.TotalCount++
		g.TotalSum += v
		key := keyFn(ev)
		if key == "" {
			g.Unattributed.Count++
			g.Unattributed.Sum += v
			continue
		}
		b := g.Buckets[key]
		b.Count++
		b.Sum += v
		g.Buckets[key] = b
	}
	return g
}

// FetchEvents drains every event page for one metric inside the window and
// returns the events together with a Resolver over the side-loaded
// attribution resources. Page size is an implementation detail of the drain.
func (s *Service) FetchEvents(ctx context.Context, metricID string, windowStart, windowEnd time.Time) ([]Event, *Resolver, error) {
	filter := fmt.Sprintf(
		"and(equals(metric_id,%q),greater-or-equal(datetime,%s),less-than(datetime,%s))",
		metricID, windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339),
	)
	params := url.Values{
		"filter":     {filter},
		"include":    {"attributions"},
		"sort":       {"datetime"},
		"page[size]": {"200"},
	}

	data, included, err := s.client.FetchAll(ctx, "/api/events/", params)
	if err != nil {
		return nil, nil, err
	}

	events := make([]Event, 0, len(data))
	for _, res := range data {
		var attrs klaviyo.EventAttributes
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			continue
		}
		dt, _ := time.Parse(time.RFC3339, attrs.Datetime)
		events = append(events, Event{
			ID:            res.ID,
			Datetime:      dt,
			Properties:    attrs.EventProperties,
			Relationships: res.Relationships,
		})
	}
	return events, NewResolver(included), nil
}
