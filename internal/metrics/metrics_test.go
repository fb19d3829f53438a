package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBuildMetrics(t *testing.T) {
	t.Run("VariantBuilds", func(t *testing.T) {
		before := testutil.ToFloat64(VariantBuilds.WithLabelValues("cuda", "ok"))
		VariantBuilds.WithLabelValues("cuda", "ok").Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(VariantBuilds.WithLabelValues("cuda", "ok")))
	})

	t.Run("BuildsInFlight", func(t *testing.T) {
		BuildsInFlight.Set(3)
		assert.Equal(t, float64(3), testutil.ToFloat64(BuildsInFlight))
		BuildsInFlight.Set(0)
	})

	t.Run("VariantBuildDuration", func(t *testing.T) {
		assert.NotPanics(t, func() {
			VariantBuildDuration.Observe(12.5)
		})
	})
}
