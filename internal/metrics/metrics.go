package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VariantBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_variant_builds_total",
		Help: "The total number of per-variant builds by backend and status",
	}, []string{"backend", "status"})

	VariantBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forge_variant_build_duration_seconds",
		Help:    "Duration of per-variant builds in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
	})

	BuildsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forge_builds_in_flight",
		Help: "Number of variant builds currently running",
	})

	ToolchainResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_toolchain_resolutions_total",
		Help: "Total number of toolchain resolutions by compatibility mode",
	}, []string{"mode"})

	AbiCheckFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_abi_check_failures_total",
		Help: "Total number of artifacts rejected by the ABI compliance gate",
	})
)
