package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lumastack/campaign-insights/internal/klaviyo"
)

// Campaign is the in-window projection of an upstream campaign. Engagement
// events key to its message variants, not to the campaign id itself;
// conversion revenue keys to the campaign id directly.
type Campaign struct {
	ID         string
	Name       string
	Status     string
	Channel    string
	SendDate   string
	UpdatedAt  time.Time
	MessageIDs []string
}

// Flow is the projection of an upstream automated flow.
type Flow struct {
	ID        string
	Name      string
	Status    string
	UpdatedAt string
}

// ListCampaigns fetches campaigns per channel (the upstream listing requires
// a channel filter) and keeps those updated inside the window. The email
// fetch is mandatory; an sms failure degrades to zero sms campaigns.
func (s *Service) ListCampaigns(ctx context.Context, windowStart time.Time) ([]Campaign, error) {
	email, err := s.fetchChannelCampaigns(ctx, "email", windowStart)
	if err != nil {
		return nil, fmt.Errorf("list email campaigns: %w", err)
	}
	sms, err := s.fetchChannelCampaigns(ctx, "sms", windowStart)
	if err != nil {
		s.log.Warn("sms campaign fetch failed, continuing without", slog.String("err", err.Error()))
		sms = nil
	}
	return append(email, sms...), nil
}

func (s *Service) fetchChannelCampaigns(ctx context.Context, channel string, windowStart time.Time) ([]Campaign, error) {
	filter := fmt.Sprintf(
		"and(equals(messages.channel,'%s'),greater-than(updated_at,%s))",
		channel, windowStart.Format(time.RFC3339),
	)
	params := url.Values{
		"filter":  {filter},
		"include": {"campaign-messages"},
	}
	data, _, err := s.client.FetchAll(ctx, "/api/campaigns/", params)
	if err != nil {
		return nil, err
	}

	out := make([]Campaign, 0, len(data))
	for _, res := range data {
		var attrs klaviyo.CampaignAttributes
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			continue
		}
		updated, _ := time.Parse(time.RFC3339, attrs.UpdatedAt)
		if updated.Before(windowStart) {
			continue
		}
		c := Campaign{
			ID:        res.ID,
			Name:      attrs.Name,
			Status:    attrs.Status,
			Channel:   channel,
			SendDate:  attrs.SendTime,
			UpdatedAt: updated,
		}
		for _, ref := range res.Relationships["campaign-messages"].Data.Refs {
			c.MessageIDs = append(c.MessageIDs, ref.ID)
		}
		out = append(out, c)
	}
	return out, nil
}

// ListFlows fetches all flows and drops drafts. A draft flow is excluded
// entirely, including from any revenue attributed to it.
func (s *Service) ListFlows(ctx context.Context) ([]Flow, error) {
	data, _, err := s.client.FetchAll(ctx, "/api/flows/", nil)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	out := make([]Flow, 0, len(data))
	for _, res := range data {
		var attrs klaviyo.FlowAttributes
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			continue
		}
		if strings.EqualFold(attrs.Status, "draft") {
			continue
		}
		out = append(out, Flow{
			ID:        res.ID,
			Name:      attrs.Name,
			Status:    attrs.Status,
			UpdatedAt: attrs.UpdatedAt,
		})
	}
	return out, nil
}

// BuildMessageMap maps each campaign to its ordered message ids. Only
// in-window campaigns feed this map, so stale message ids cannot leak into
// current aggregates. A campaign with no discoverable messages gets an empty
// entry; the assembler falls back to the campaign id for engagement lookups
// only, never for revenue.
func BuildMessageMap(campaigns []Campaign) map[string][]string {
	m := make(map[string][]string, len(campaigns))
	for _, c := range campaigns {
		m[c.ID] = c.MessageIDs
	}
	return m
}
