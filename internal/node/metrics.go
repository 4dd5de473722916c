package node

import "github.com/prometheus/client_golang/prometheus"

var (
	nodeReadyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "h2otest_node_ready_seconds",
			Help:    "Duration from node launch to its ready marker, in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
	)

	nodesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "h2otest_nodes_active",
			Help: "Number of worker processes currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(nodeReadyDuration)
	prometheus.MustRegister(nodesActive)
}
