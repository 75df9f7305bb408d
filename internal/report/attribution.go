package report

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/lumastack/campaign-insights/internal/klaviyo"
)

// Event is the read-only projection of one upstream event used for grouping.
// The metric it belongs to is implicit in the drain that fetched it.
type Event struct {
	ID            string
	Datetime      time.Time
	Properties    map[string]any
	Relationships map[string]klaviyo.Relationship
}

// eventValue reads the revenue carried by an event, zero when absent.
func eventValue(ev Event) float64 {
	switch v := ev.Properties["$value"].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// extractor pulls a candidate owner id from an event, "" when it does not
// apply. Attribution chains are ordered extractor lists; the first non-empty
// result wins, which keeps each fallback independently testable.
type extractor func(Event) string

// attributionTarget is one row of the attributions side-table shipped in a
// page's included resources.
type attributionTarget struct {
	CampaignID string
	FlowID     string
	MessageID  string
}

// Resolver determines the campaign, flow or message an event belongs to.
// The same event is tested against both the campaign and the flow chain; when
// ambiguous upstream data satisfies both, both entities receive independent
// credit. That ambiguity is inherited from the upstream schema, not
// deduplicated here.
type Resolver struct {
	attributions map[string]attributionTarget
	campaign     []extractor
	flow         []extractor
	message      []extractor
}

// NewResolver builds a Resolver over the attribution resources side-loaded
// with an event drain.
func NewResolver(included []klaviyo.Resource) *Resolver {
	table := make(map[string]attributionTarget)
	for _, res := range included {
		if res.Type != "attribution" {
			continue
		}
		table[res.ID] = attributionTarget{
			CampaignID: res.Relationships["campaign"].First(),
			FlowID:     res.Relationships["flow"].First(),
			MessageID:  res.Relationships["campaign-message"].First(),
		}
	}
	r := &Resolver{attributions: table}
	r.campaign = []extractor{
		propString("$message_interaction"),
		propString("$attributed_campaign"),
		propString("$attributed_message"),
		propString("$campaign", "campaign_id", "Campaign ID", "CampaignID"),
		r.attributionField(func(t attributionTarget) string { return t.CampaignID }),
		relationship("campaign"),
	}
	r.flow = []extractor{
		propString("$flow_interaction"),
		propString("$attributed_flow"),
		propString("$attributed_flow_message"),
		propString("$flow", "flow_id", "Flow ID", "FlowID"),
		r.attributionField(func(t attributionTarget) string { return t.FlowID }),
		relationship("flow"),
	}
	r.message = []extractor{
		propString("$message_interaction"),
		propString("$attributed_message"),
		propString("$message", "message_id", "Message ID"),
		r.attributionField(func(t attributionTarget) string { return t.MessageID }),
		relationship("campaign-message"),
	}
	return r
}

// CampaignID resolves the owning campaign, "" when no fallback applies. An
// unresolved event still counts toward window totals, just not toward any row.
func (r *Resolver) CampaignID(ev Event) string { return firstMatch(r.campaign, ev) }

// FlowID resolves the owning flow, "" when no fallback applies.
func (r *Resolver) FlowID(ev Event) string { return firstMatch(r.flow, ev) }

// MessageID resolves the message variant an engagement event keys to.
func (r *Resolver) MessageID(ev Event) string { return firstMatch(r.message, ev) }

func firstMatch(chain []extractor, ev Event) string {
	for _, ex := range chain {
		if id := ex(ev); id != "" {
			return id
		}
	}
	return ""
}

// propString matches the first present property among keys, tolerating the
// historical spellings and the string/number typing drift in older events.
func propString(keys ...string) extractor {
	return func(ev Event) string {
		for _, k := range keys {
			if s := asString(ev.Properties[k]); s != "" {
				return s
			}
		}
		return ""
	}
}

func (r *Resolver) attributionField(pick func(attributionTarget) string) extractor {
	return func(ev Event) string {
		for _, ref := range ev.Relationships["attributions"].Data.Refs {
			if target, ok := r.attributions[ref.ID]; ok {
				if id := pick(target); id != "" {
					return id
				}
			}
		}
		return ""
	}
}

func relationship(name string) extractor {
	return func(ev Event) string {
		return ev.Relationships[name].First()
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
