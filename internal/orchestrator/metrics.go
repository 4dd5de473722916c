package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/h2oai/h2o-3-sub001/internal/model"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2otest_jobs_total",
			Help: "Total number of jobs by terminal outcome.",
		},
		[]string{"outcome"},
	)

	cloudsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "h2otest_clouds",
			Help: "Number of clouds in each pool.",
		},
		[]string{"pool"},
	)

	healthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2otest_health_checks_total",
			Help: "Total number of cloud health checks by result.",
		},
		[]string{"result"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "h2otest_job_duration_seconds",
			Help:    "Wall time of completed jobs, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(cloudsGauge)
	prometheus.MustRegister(healthChecksTotal)
	prometheus.MustRegister(jobDuration)

	for _, o := range []model.Outcome{
		model.OutcomePassed, model.OutcomeFailed, model.OutcomeSkipped,
		model.OutcomeDidNotComplete, model.OutcomeCancelled, model.OutcomeTerminated,
	} {
		jobsTotal.WithLabelValues(string(o))
	}
	for _, p := range allPools {
		cloudsGauge.WithLabelValues(string(p))
	}
	for _, r := range []string{"healthy", "unhealthy", "error"} {
		healthChecksTotal.WithLabelValues(r)
	}
}
