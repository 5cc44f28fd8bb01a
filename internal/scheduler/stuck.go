package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskwright/taskwright/internal/types"
)

// ListStuck returns active-queue items that have been executing longer
// than the configured stuck threshold. They are candidates for
// operator-forced retry, never for automatic cancellation.
func (e *Engine) ListStuck(ctx context.Context) ([]*types.QueueItem, error) {
	queue, err := e.store.GetActiveQueue(ctx)
	if err != nil {
		return nil, err
	}
	if queue == nil {
		return nil, nil
	}

	threshold := e.Config().StuckThreshold()
	cutoff := time.Now().Add(-threshold)

	var stuck []*types.QueueItem
	for _, item := range queue.Items {
		if item.Status != types.ItemStatusExecuting {
			continue
		}
		if item.StartedAt != nil && item.StartedAt.Before(cutoff) {
			stuck = append(stuck, item)
		}
	}
	return stuck, nil
}

// Janitor periodically evicts expired session bindings from the pool.
type Janitor struct {
	cron   *cron.Cron
	engine *Engine
}

// NewJanitor creates a janitor sweeping the engine's pool every minute.
func NewJanitor(engine *Engine) *Janitor {
	j := &Janitor{cron: cron.New(), engine: engine}
	j.cron.AddFunc("@every 1m", j.sweep)
	return j
}

func (j *Janitor) sweep() {
	cfg := j.engine.Config()
	j.engine.Pool().EvictExpired(context.Background(),
		cfg.SessionIdleTimeout(), cfg.ResumeKeyBindingTimeout())
}

// Start begins the sweep schedule.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule, waiting for an in-progress sweep.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
