// Package broker models an external FIFO task-delivery contract this service
// treats as out of scope to implement: "an external FIFO task delivery
// system offering at-least-once single-delivery semantics and task-id
// revocation." Two implementations exist — Memory for tests and single-
// process deployments, and a GORM-backed one for the documented
// multi-process deployment — both satisfying the same interface so the
// orchestrator never depends on either concretely.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is one (job id, stage) unit of work. Stage is the stage the worker
// should execute; the orchestrator enqueues the next stage's Task itself
// once the current one completes successfully — this is the "stage chain"
// re-architected as an ordered FIFO of (job_id, stage) pairs (see
// the pipeline orchestrator's design).
type Task struct {
	ID    string
	JobID uuid.UUID
	Stage string
}

// Broker is the contract the orchestrator's worker pool depends on.
type Broker interface {
	// Enqueue publishes a task id onto the FIFO.
	Enqueue(ctx context.Context, jobID uuid.UUID, stage string) (taskID string, err error)
	// Claim blocks (up to the given timeout) for the next unclaimed task and
	// marks it claimed by workerID. Returns (nil, nil) on timeout with no
	// work available.
	Claim(ctx context.Context, workerID string, timeout time.Duration) (*Task, error)
	// Ack marks a task as completed. The stage adapter has already advanced
	// (or terminated) the job by the time this is called.
	Ack(ctx context.Context, taskID string) error
	// Nack returns a claimed task to the FIFO, undoing Claim. Used when a
	// worker dies mid-stage and a supervisor wants to redeliver the task —
	// the orchestrator itself does not call this; stage adapters either Ack
	// or let the job row's FAILED/QUARANTINED status prevent rescheduling.
	Nack(ctx context.Context, taskID string) error
	// Terminate marks a task id as terminated for best-effort cancellation;
	// a worker that later claims or is executing that task id should treat
	// it as already canceled. Used by the cancel API action.
	Terminate(ctx context.Context, taskID string) error
}
