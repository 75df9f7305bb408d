package klaviyo

import "strings"

// MetricIndex resolves canonical metric names to ids for the duration of one
// report computation. It is rebuilt per report, never cached across requests.
type MetricIndex struct {
	metrics []Metric
}

func NewMetricIndex(metrics []Metric) *MetricIndex {
	return &MetricIndex{metrics: metrics}
}

// Resolve returns the id of the metric matching name. Matching order: exact,
// then case-insensitive exact, then case-insensitive substring. An empty
// result means the account has no such metric; callers treat missing optional
// metrics as zero-valued, not as failures.
func (ix *MetricIndex) Resolve(name string) string {
	for _, m := range ix.metrics {
		if m.Name == name {
			return m.ID
		}
	}
	lower := strings.ToLower(name)
	for _, m := range ix.metrics {
		if strings.ToLower(m.Name) == lower {
			return m.ID
		}
	}
	for _, m := range ix.metrics {
		if strings.Contains(strings.ToLower(m.Name), lower) {
			return m.ID
		}
	}
	return ""
}
