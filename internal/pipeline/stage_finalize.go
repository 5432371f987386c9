package pipeline

import (
	"context"

	"github.com/docrefinery/server/internal/broker"
	"github.com/docrefinery/server/internal/db"
)

// runFinalize sets the job SUCCEEDED. A cancellation racing with
// finalization wins — loadForStage's CANCELED check makes this a no-op if
// the job was canceled after Export completed but before this task ran.
func (o *Orchestrator) runFinalize(ctx context.Context, task broker.Task) error {
	job, proceed, err := o.loadForStage(ctx, task.JobID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	if err := o.enterStage(ctx, job, db.StageFinalizing, task.ID); err != nil {
		return err
	}

	var unused int64 // Finalize has no per-stage timing column of its own
	return o.finishStage(ctx, job, db.JobStatusSucceeded, db.StageFinalizing, "", "", 0, &unused)
}
