package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docrefinery/server/internal/db"
)

// DBBroker implements Broker atop the broker_tasks table, giving the
// at-most-one-claimant guarantee via a conditional UPDATE ... WHERE
// claimed_at IS NULL — the row only becomes visibly claimed if exactly one
// writer's update affected it. This is the multi-process deployment's
// Broker: every HTTP and worker process in the fleet shares the same
// database, so this is the only implementation that actually needs to work
// across process boundaries.
type DBBroker struct {
	db       *gorm.DB
	pollStep time.Duration
}

// NewDBBroker returns a Broker backed by the provided *gorm.DB.
func NewDBBroker(gdb *gorm.DB) *DBBroker {
	return &DBBroker{db: gdb, pollStep: 250 * time.Millisecond}
}

func (b *DBBroker) Enqueue(ctx context.Context, jobID uuid.UUID, stage string) (string, error) {
	task := db.BrokerTask{JobID: jobID, Stage: stage}
	if err := b.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", fmt.Errorf("broker: enqueue: %w", err)
	}
	return task.ID.String(), nil
}

// Claim polls for an unclaimed, undone task up to timeout, attempting a
// conditional claim on each candidate it finds. Polling rather than LISTEN/
// NOTIFY keeps this portable across the sqlite and postgres drivers the
// server supports.
func (b *DBBroker) Claim(ctx context.Context, workerID string, timeout time.Duration) (*Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		task, err := b.tryClaimOne(ctx, workerID)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-time.After(b.pollStep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *DBBroker) tryClaimOne(ctx context.Context, workerID string) (*Task, error) {
	var candidates []db.BrokerTask
	err := b.db.WithContext(ctx).
		Where("claimed_at IS NULL AND done = ? AND terminated = ?", false, false).
		Order("created_at ASC").
		Limit(10).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("broker: find candidates: %w", err)
	}

	now := time.Now().UTC()
	for _, candidate := range candidates {
		result := b.db.WithContext(ctx).
			Model(&db.BrokerTask{}).
			Where("id = ? AND claimed_at IS NULL", candidate.ID).
			Updates(map[string]interface{}{"claimed_at": now, "claimed_by": workerID})
		if result.Error != nil {
			return nil, fmt.Errorf("broker: claim: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			return &Task{ID: candidate.ID.String(), JobID: candidate.JobID, Stage: candidate.Stage}, nil
		}
		// Another worker claimed it first; try the next candidate.
	}
	return nil, nil
}

func (b *DBBroker) Ack(ctx context.Context, taskID string) error {
	id, err := uuid.Parse(taskID)
	if err != nil {
		return fmt.Errorf("broker: ack: invalid task id: %w", err)
	}
	return b.db.WithContext(ctx).
		Model(&db.BrokerTask{}).
		Where("id = ?", id).
		Update("done", true).Error
}

func (b *DBBroker) Nack(ctx context.Context, taskID string) error {
	id, err := uuid.Parse(taskID)
	if err != nil {
		return fmt.Errorf("broker: nack: invalid task id: %w", err)
	}
	return b.db.WithContext(ctx).
		Model(&db.BrokerTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"claimed_at": nil, "claimed_by": ""}).Error
}

func (b *DBBroker) Terminate(ctx context.Context, taskID string) error {
	id, err := uuid.Parse(taskID)
	if err != nil {
		return fmt.Errorf("broker: terminate: invalid task id: %w", err)
	}
	return b.db.WithContext(ctx).
		Model(&db.BrokerTask{}).
		Where("id = ?", id).
		Update("terminated", true).Error
}
