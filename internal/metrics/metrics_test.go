package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

type fakeJobRepository struct {
	repositories.JobRepository
	counts map[string]int64
	err    error
}

func (f *fakeJobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

func collect(t *testing.T, c *JobsCollector) []*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	var metrics []*dto.Metric
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		metrics = append(metrics, &pb)
	}
	return metrics
}

func TestJobsCollectorReportsEveryKnownStatus(t *testing.T) {
	repo := &fakeJobRepository{counts: map[string]int64{
		db.JobStatusQueued:    3,
		db.JobStatusSucceeded: 7,
	}}
	c := NewJobsCollector(repo, zap.NewNop())

	metrics := collect(t, c)
	assert.Len(t, metrics, len(knownStatuses))

	byStatus := make(map[string]float64)
	for _, m := range metrics {
		var status string
		for _, label := range m.GetLabel() {
			if label.GetName() == "status" {
				status = label.GetValue()
			}
		}
		byStatus[status] = m.GetGauge().GetValue()
	}

	assert.Equal(t, float64(3), byStatus[db.JobStatusQueued])
	assert.Equal(t, float64(7), byStatus[db.JobStatusSucceeded])
	assert.Equal(t, float64(0), byStatus[db.JobStatusFailed])
}

func TestJobsCollectorEmitsNothingOnQueryError(t *testing.T) {
	repo := &fakeJobRepository{err: assertErr("boom")}
	c := NewJobsCollector(repo, zap.NewNop())

	assert.Empty(t, collect(t, c))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
