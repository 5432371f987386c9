// Package metrics exposes pipeline health as Prometheus gauges, collected
// on demand at scrape time rather than incremented inline by handlers — a
// single query against the jobs table is cheaper and always consistent
// with the database, which is the only source of truth for job status.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

var jobsTotalDesc = prometheus.NewDesc(
	"docrefinery_jobs_total",
	"Number of ingestion jobs currently in each status.",
	[]string{"status"},
	nil,
)

// knownStatuses is reported even when a status currently has zero jobs, so
// a dashboard panel doesn't have to special-case a missing series.
var knownStatuses = []string{
	db.JobStatusQueued,
	db.JobStatusRunning,
	db.JobStatusSucceeded,
	db.JobStatusFailed,
	db.JobStatusCanceled,
	db.JobStatusQuarantined,
}

// JobsCollector implements prometheus.Collector, querying JobRepository for
// a fresh status breakdown on every scrape.
type JobsCollector struct {
	jobs         repositories.JobRepository
	queryTimeout time.Duration
	logger       *zap.Logger
}

// NewJobsCollector builds a JobsCollector.
func NewJobsCollector(jobs repositories.JobRepository, logger *zap.Logger) *JobsCollector {
	return &JobsCollector{jobs: jobs, queryTimeout: 5 * time.Second, logger: logger.Named("metrics")}
}

// Describe implements prometheus.Collector.
func (c *JobsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobsTotalDesc
}

// Collect implements prometheus.Collector.
func (c *JobsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.queryTimeout)
	defer cancel()

	counts, err := c.jobs.CountByStatus(ctx)
	if err != nil {
		c.logger.Error("failed to collect job status counts", zap.Error(err))
		return
	}

	for _, status := range knownStatuses {
		ch <- prometheus.MustNewConstMetric(jobsTotalDesc, prometheus.GaugeValue, float64(counts[status]), status)
	}
}

// Register registers a JobsCollector with the default Prometheus registry.
func Register(jobs repositories.JobRepository, logger *zap.Logger) error {
	return prometheus.Register(NewJobsCollector(jobs, logger))
}
