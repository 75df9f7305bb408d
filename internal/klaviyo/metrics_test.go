package klaviyo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricIndexResolve(t *testing.T) {
	index := NewMetricIndex([]Metric{
		{ID: "m1", Name: "Placed Order"},
		{ID: "m2", Name: "Opened Email"},
		{ID: "m3", Name: "Clicked Email"},
	})

	t.Run("exact match", func(t *testing.T) {
		assert.Equal(t, "m1", index.Resolve("Placed Order"))
	})

	t.Run("case insensitive", func(t *testing.T) {
		assert.Equal(t, "m1", index.Resolve("placed order"))
		assert.Equal(t, index.Resolve("Placed Order"), index.Resolve("PLACED ORDER"))
	})

	t.Run("substring fallback", func(t *testing.T) {
		assert.Equal(t, "m3", index.Resolve("clicked"))
	})

	t.Run("missing metric is empty, not an error", func(t *testing.T) {
		assert.Equal(t, "", index.Resolve("Received SMS"))
	})

	t.Run("exact beats substring", func(t *testing.T) {
		ix := NewMetricIndex([]Metric{
			{ID: "broad", Name: "Opened Email Digest"},
			{ID: "narrow", Name: "Opened Email"},
		})
		assert.Equal(t, "narrow", ix.Resolve("Opened Email"))
	})
}
