package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a channel-backed Broker used by tests and the all-in-one CLI
// mode, where HTTP admission and the orchestrator share one process.
type Memory struct {
	mu          sync.Mutex
	tasks       map[string]Task
	terminated  map[string]bool
	queue       chan string
}

// NewMemory returns a Memory broker with the given queue capacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		tasks:      make(map[string]Task),
		terminated: make(map[string]bool),
		queue:      make(chan string, capacity),
	}
}

func (m *Memory) Enqueue(ctx context.Context, jobID uuid.UUID, stage string) (string, error) {
	taskID := uuid.NewString()

	m.mu.Lock()
	m.tasks[taskID] = Task{ID: taskID, JobID: jobID, Stage: stage}
	m.mu.Unlock()

	select {
	case m.queue <- taskID:
		return taskID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Memory) Claim(ctx context.Context, workerID string, timeout time.Duration) (*Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case taskID := <-m.queue:
		m.mu.Lock()
		task, ok := m.tasks[taskID]
		terminated := m.terminated[taskID]
		m.mu.Unlock()
		if !ok || terminated {
			return nil, nil
		}
		return &task, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) Ack(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *Memory) Nack(ctx context.Context, taskID string) error {
	m.mu.Lock()
	_, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case m.queue <- taskID:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *Memory) Terminate(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated[taskID] = true
	return nil
}
