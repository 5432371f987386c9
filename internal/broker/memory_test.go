package broker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEnqueueClaimAck(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(8)
	jobID := uuid.New()

	taskID, err := m.Enqueue(ctx, jobID, "SCANNING")
	require.NoError(t, err)

	task, err := m.Claim(ctx, "worker-1", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, jobID, task.JobID)
	assert.Equal(t, "SCANNING", task.Stage)
	assert.Equal(t, taskID, task.ID)

	require.NoError(t, m.Ack(ctx, taskID))
}

func TestMemoryClaimTimesOutWhenEmpty(t *testing.T) {
	m := NewMemory(8)
	task, err := m.Claim(context.Background(), "worker-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemoryTerminatedTaskNotClaimed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(8)
	jobID := uuid.New()

	taskID, err := m.Enqueue(ctx, jobID, "SCANNING")
	require.NoError(t, err)
	require.NoError(t, m.Terminate(ctx, taskID))

	task, err := m.Claim(ctx, "worker-1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
}
