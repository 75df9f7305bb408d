// Package klaviyo is a thin client for the Klaviyo reporting and event APIs.
// Responses follow the JSON:API convention: a data array of typed resources,
// an optional included array of side-loaded resources, and cursor pagination
// via links.next.
package klaviyo

import (
	"bytes"
	"encoding/json"
)

// Resource is a generic JSON:API resource. Attributes stay raw so each
// endpoint can decode them into its own shape.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships"`
}

// Relationship links a resource to one or more related resources.
type Relationship struct {
	Data RelationshipData `json:"data"`
}

// RelationshipData accepts both to-one (object) and to-many (array) forms.
type RelationshipData struct {
	Refs []ResourceRef
}

type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (d *RelationshipData) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		d.Refs = nil
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, &d.Refs)
	}
	var one ResourceRef
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	d.Refs = []ResourceRef{one}
	return nil
}

// First returns the first related resource id, or "".
func (r Relationship) First() string {
	if len(r.Data.Refs) == 0 {
		return ""
	}
	return r.Data.Refs[0].ID
}

// Page is one page of a paginated listing.
type Page struct {
	Data     []Resource `json:"data"`
	Included []Resource `json:"included"`
	Links    PageLinks  `json:"links"`
}

type PageLinks struct {
	Next string `json:"next"`
}

// MetricAttributes is the attribute shape of a metric resource.
type MetricAttributes struct {
	Name string `json:"name"`
}

// Metric is a resolved business metric: opaque id plus canonical name.
type Metric struct {
	ID   string
	Name string
}

// CampaignAttributes is the attribute shape of a campaign resource.
type CampaignAttributes struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Channel   string `json:"channel"`
	SendTime  string `json:"send_time"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// MessageAttributes is the attribute shape of a campaign-message resource.
type MessageAttributes struct {
	Label   string `json:"label"`
	Channel string `json:"channel"`
}

// FlowAttributes is the attribute shape of a flow resource.
type FlowAttributes struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// EventAttributes is the attribute shape of an event resource.
type EventAttributes struct {
	Datetime        string         `json:"datetime"`
	EventProperties map[string]any `json:"event_properties"`
}

// AggregateRequest is the body of a metric-aggregate query. The aggregate
// endpoints sit behind the low per-minute quota; the client paces them.
type AggregateRequest struct {
	Data AggregateRequestData `json:"data"`
}

type AggregateRequestData struct {
	Type       string              `json:"type"`
	Attributes AggregateAttributes `json:"attributes"`
}

type AggregateAttributes struct {
	MetricID     string             `json:"metric_id"`
	Measurements []string           `json:"measurements"`
	By           []string           `json:"by,omitempty"`
	Filter       []string           `json:"filter,omitempty"`
	Interval     string             `json:"interval,omitempty"`
	Timeframe    AggregateTimeframe `json:"timeframe"`
}

type AggregateTimeframe struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// AggregateResponse holds grouped measurement rows.
type AggregateResponse struct {
	Data struct {
		Attributes struct {
			Data []AggregateRow `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

// AggregateRow is one grouped row: the dimension values plus one value (or
// one value per interval bucket) per requested measurement.
type AggregateRow struct {
	Dimensions   []string                   `json:"dimensions"`
	Measurements map[string]json.RawMessage `json:"measurements"`
}

// MeasurementSum decodes a measurement that may be a scalar or a series of
// interval buckets, returning its total.
func (r AggregateRow) MeasurementSum(name string) float64 {
	raw, ok := r.Measurements[name]
	if !ok {
		return 0
	}
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return scalar
	}
	var series []float64
	if err := json.Unmarshal(raw, &series); err != nil {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum
}
