package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/broker"
)

// PoolConfig controls worker count and broker claim cadence.
type PoolConfig struct {
	Workers      int
	ClaimTimeout time.Duration
}

// DefaultPoolConfig returns sane production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 4, ClaimTimeout: 5 * time.Second}
}

// Pool runs any number of stateless workers draining the broker. Each
// worker claims one task at a time, runs its stage, and acks — at-most-one
// worker ever executes a given stage of a given job simultaneously, a
// guarantee the broker's single-delivery semantics provide, not this pool.
type Pool struct {
	orchestrator *Orchestrator
	brk          broker.Broker
	cfg          PoolConfig
	logger       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds a Pool.
func NewPool(orchestrator *Orchestrator, brk broker.Broker, cfg PoolConfig, logger *zap.Logger) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}
	return &Pool{orchestrator: orchestrator, brk: brk, cfg: cfg, logger: logger}
}

// Start launches cfg.Workers goroutines claiming from the broker until ctx
// is canceled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.run(ctx, workerID)
	}
}

// Stop cancels every worker and waits for in-flight stage executions to
// return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.brk.Claim(ctx, workerID, p.cfg.ClaimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("broker claim failed", zap.String("worker_id", workerID), zap.Error(err))
			continue
		}
		if task == nil {
			continue
		}

		if err := p.orchestrator.RunStage(ctx, *task); err != nil {
			p.logger.Error("stage execution failed",
				zap.String("worker_id", workerID),
				zap.String("job_id", task.JobID.String()),
				zap.String("stage", task.Stage),
				zap.Error(err),
			)
		}
		if err := p.brk.Ack(ctx, task.ID); err != nil {
			p.logger.Error("failed to ack broker task", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}
