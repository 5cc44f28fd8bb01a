// Package scheduler drives queue items through CLI tool sessions. The
// engine owns the dispatch loop: it asks the resolver which items are
// ready, respects the concurrency cap, and records outcomes back to the
// store. All externally visible state changes flow through the publisher.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/taskwright/taskwright/internal/events"
	"github.com/taskwright/taskwright/internal/resolver"
	"github.com/taskwright/taskwright/internal/session"
	"github.com/taskwright/taskwright/internal/storage"
	"github.com/taskwright/taskwright/internal/types"
)

// Actor is the audit-trail identity the engine writes under.
const Actor = "scheduler"

// Engine schedules ready queue items into tool sessions, at most
// MaxConcurrentSessions at a time.
type Engine struct {
	store       storage.Store
	pool        *session.Pool
	manager     session.Manager
	publisher   *events.Publisher
	defaultTool string

	mu           sync.Mutex
	status       types.SchedulerStatus
	cfg          types.SchedulerConfig
	inFlight     map[string]struct{}
	lastActivity time.Time
	lastErr      string

	stopCh chan struct{}
	doneCh chan struct{}
	wakeCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures a new engine.
type Options struct {
	Store       storage.Store
	Manager     session.Manager
	Publisher   *events.Publisher
	Config      types.SchedulerConfig
	DefaultTool string
}

// New creates an engine in idle status. Start begins dispatching.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("scheduler: store is required")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("scheduler: session manager is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: invalid config: %w", err)
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.NewPublisher()
	}
	tool := opts.DefaultTool
	if tool == "" {
		tool = "claude"
	}
	return &Engine{
		store:       opts.Store,
		pool:        session.NewPool(opts.Manager),
		manager:     opts.Manager,
		publisher:   pub,
		defaultTool: tool,
		status:      types.SchedulerIdle,
		cfg:         opts.Config,
		inFlight:    make(map[string]struct{}),
		wakeCh:      make(chan struct{}, 1),
	}, nil
}

// Publisher returns the event publisher observers subscribe on.
func (e *Engine) Publisher() *events.Publisher { return e.publisher }

// Pool returns the session pool, exposed for the eviction janitor.
func (e *Engine) Pool() *session.Pool { return e.pool }

// Status returns the current scheduler status.
func (e *Engine) Status() types.SchedulerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Config returns a copy of the current config.
func (e *Engine) Config() types.SchedulerConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// transition moves the status machine, rejecting invalid transitions.
// Callers hold e.mu.
func (e *Engine) transition(target types.SchedulerStatus) error {
	if e.status == target {
		return nil
	}
	if !e.status.CanTransitionTo(target) {
		return fmt.Errorf("scheduler: invalid transition %s -> %s", e.status, target)
	}
	e.status = target
	e.lastActivity = time.Now()
	e.publisher.StatusChanged(target)
	return nil
}

// Start transitions to running and launches the dispatch loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == types.SchedulerRunning {
		return fmt.Errorf("scheduler: already running")
	}
	if e.status == types.SchedulerPaused {
		// The loop is still alive while paused; just flip the status.
		if err := e.transition(types.SchedulerRunning); err != nil {
			return err
		}
		e.wake()
		return nil
	}
	if err := e.transition(types.SchedulerRunning); err != nil {
		return err
	}

	// A previous loop may still be on its way out after settling into a
	// terminal status; wait for it so two dispatch loops never overlap.
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	if e.doneCh != nil {
		old := e.doneCh
		e.mu.Unlock()
		<-old
		e.mu.Lock()
	}

	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	// The loop must outlive the caller: Start is reachable from HTTP
	// handlers whose request context dies as soon as the handler returns.
	go e.loop(context.WithoutCancel(ctx))
	e.wake()
	return nil
}

// Pause halts dispatch of new items. In-flight executions keep running.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(types.SchedulerPaused)
}

// Resume returns a paused engine to running.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != types.SchedulerPaused {
		return fmt.Errorf("scheduler: not paused")
	}
	if err := e.transition(types.SchedulerRunning); err != nil {
		return err
	}
	e.wake()
	return nil
}

// Stop transitions to stopping and blocks until in-flight executions
// drain. Once drained the engine settles into completed, failed or idle
// depending on what the queue looks like.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if err := e.transition(types.SchedulerStopping); err != nil {
		e.mu.Unlock()
		return err
	}
	doneCh := e.doneCh
	e.mu.Unlock()

	e.wake()

	if doneCh == nil {
		// Loop was never started; finalize directly.
		e.finalize(ctx)
		return nil
	}

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset forces the engine to idle from any status. It does not touch the
// store; operators pair it with retry when the queue needs repair.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = ""
	if err := e.transition(types.SchedulerIdle); err != nil {
		return err
	}
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	return nil
}

// Submit enqueues the tasks of an issue's bound solution and wakes the
// dispatch loop. With AutoStart set, an idle engine starts itself.
func (e *Engine) Submit(ctx context.Context, issueID string) ([]*types.QueueItem, error) {
	_, items, err := e.store.Enqueue(ctx, issueID, Actor)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		e.publisher.ItemAdded(item)
	}

	e.mu.Lock()
	autoStart := e.cfg.AutoStart && e.status == types.SchedulerIdle
	restart := (e.status == types.SchedulerCompleted || e.status == types.SchedulerFailed) && len(items) > 0
	e.mu.Unlock()

	if autoStart || restart {
		if err := e.Start(ctx); err != nil {
			return items, err
		}
	}
	e.wake()
	return items, nil
}

// UpdateConfig validates and applies a new config, broadcasting it to
// subscribers. Concurrency changes take effect on the next dispatch pass.
func (e *Engine) UpdateConfig(ctx context.Context, cfg types.SchedulerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.publisher.ConfigUpdated(cfg)

	ev := &types.AuditEvent{
		Type:  types.AuditConfigUpdated,
		Actor: Actor,
		Detail: fmt.Sprintf("max_concurrent_sessions=%d poll_interval_ms=%d",
			cfg.MaxConcurrentSessions, cfg.PollIntervalMs),
	}
	if err := e.store.RecordEvent(ctx, ev); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: record config update: %v\n", err)
	}

	e.wake()
	return nil
}

// State assembles the externally visible snapshot from the active queue,
// the session pool and the engine's own fields.
func (e *Engine) State(ctx context.Context) (*types.SchedulerState, error) {
	queue, err := e.store.GetActiveQueue(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	state := &types.SchedulerState{
		Status:             e.status,
		Config:             e.cfg,
		CurrentConcurrency: len(e.inFlight),
		LastActivityAt:     e.lastActivity,
		Error:              e.lastErr,
	}
	e.mu.Unlock()

	if queue != nil {
		state.Items = queue.Items
	}
	state.SessionPool = e.pool.Snapshot()
	return state, nil
}

// wake nudges the dispatch loop without waiting for the next tick.
func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) {
	e.mu.Lock()
	doneCh := e.doneCh
	stopCh := e.stopCh
	interval := e.cfg.PollInterval()
	e.mu.Unlock()
	defer close(doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		case <-e.wakeCh:
		}

		// A closed stopCh wins over a tick that was ready at the same time.
		select {
		case <-stopCh:
			return
		default:
		}

		e.mu.Lock()
		status := e.status
		e.mu.Unlock()

		switch status {
		case types.SchedulerRunning:
			if err := e.dispatch(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "scheduler: dispatch error: %v\n", err)
			}
		case types.SchedulerStopping:
			e.mu.Lock()
			drained := len(e.inFlight) == 0
			e.mu.Unlock()
			if drained {
				e.finalize(ctx)
				return
			}
		case types.SchedulerCompleted, types.SchedulerFailed, types.SchedulerIdle:
			return
		}
	}
}

// dispatch runs one scheduling pass: mark unresolvable items blocked,
// launch ready items up to the concurrency cap, and settle the terminal
// status once everything is done.
func (e *Engine) dispatch(ctx context.Context) error {
	queue, err := e.store.GetActiveQueue(ctx)
	if err != nil {
		return err
	}
	if queue == nil || len(queue.Items) == 0 {
		return nil
	}

	if stuck := resolver.Unresolvable(queue.Items); len(stuck) > 0 {
		if err := e.store.MarkItemsBlocked(ctx, stuck, Actor); err != nil {
			return err
		}
		for _, id := range stuck {
			if item, err := e.store.GetQueueItem(ctx, id); err == nil && item != nil {
				e.publisher.ItemUpdated(item)
			}
		}
		queue, err = e.store.GetActiveQueue(ctx)
		if err != nil {
			return err
		}
	}

	ready := resolver.Ready(queue.Items)
	for _, r := range ready {
		e.mu.Lock()
		if e.status != types.SchedulerRunning || len(e.inFlight) >= e.cfg.MaxConcurrentSessions {
			e.mu.Unlock()
			break
		}
		if _, busy := e.inFlight[r.Item.ID]; busy {
			e.mu.Unlock()
			continue
		}
		e.inFlight[r.Item.ID] = struct{}{}
		e.lastActivity = time.Now()
		e.mu.Unlock()

		e.wg.Add(1)
		go e.run(ctx, r.Item)
	}

	e.mu.Lock()
	idle := len(e.inFlight) == 0
	e.mu.Unlock()
	if idle {
		if done, anyFailed := resolver.AllTerminal(queue.Items); done {
			e.settle(anyFailed)
		}
	}

	if state, err := e.State(ctx); err == nil {
		e.publisher.PublishSnapshot(state, false)
	}
	return nil
}

// settle moves a running engine to its terminal status once the queue has
// no more work.
func (e *Engine) settle(anyFailed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != types.SchedulerRunning {
		return
	}
	target := types.SchedulerCompleted
	if anyFailed {
		target = types.SchedulerFailed
	}
	if err := e.transition(target); err == nil && anyFailed {
		e.lastErr = "one or more queue items failed"
	}
}

// finalize resolves a stopping engine to completed, failed or idle based
// on the remaining queue contents.
func (e *Engine) finalize(ctx context.Context) {
	target := types.SchedulerIdle
	var failMsg string
	if queue, err := e.store.GetActiveQueue(ctx); err == nil && queue != nil && len(queue.Items) > 0 {
		if done, anyFailed := resolver.AllTerminal(queue.Items); done {
			if anyFailed {
				target = types.SchedulerFailed
				failMsg = "one or more queue items failed"
			} else {
				target = types.SchedulerCompleted
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transition(target); err == nil {
		e.lastErr = failMsg
	}
}

// run executes one item in its bound session and records the outcome.
func (e *Engine) run(ctx context.Context, item *types.QueueItem) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, item.ID)
		e.lastActivity = time.Now()
		e.mu.Unlock()
		e.wake()
	}()

	tool := item.AssignedExecutor
	if tool == "" || tool == types.ExecutorAuto {
		tool = e.defaultTool
	}

	sessionKey, err := e.pool.Acquire(ctx, item.ResumeKey, tool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: acquire session for %s: %v\n", item.ID, err)
		return
	}
	defer e.pool.Release(item.ResumeKey)

	started, _, err := e.store.MarkItemExecuting(ctx, item.ID, tool, Actor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: mark %s executing: %v\n", item.ID, err)
		return
	}
	e.publisher.ItemUpdated(started)

	prompt, err := e.buildPrompt(ctx, started)
	if err != nil {
		e.recordOutcome(ctx, started.ID, types.ItemOutcome{
			Success:       false,
			FailureReason: fmt.Sprintf("prompt construction failed: %v", err),
		})
		return
	}

	res, err := e.manager.Execute(ctx, sessionKey, prompt)
	if err != nil {
		// The session itself broke; drop the binding so the retry path
		// gets a fresh one.
		_ = e.pool.Drop(ctx, item.ResumeKey)
		e.recordOutcome(ctx, started.ID, types.ItemOutcome{
			Success:       false,
			FailureReason: fmt.Sprintf("session error: %v", err),
		})
		return
	}

	outcome := types.ItemOutcome{Success: res.ExitCode == 0, Result: truncate(res.Output, 4096)}
	if !outcome.Success {
		outcome.Result = ""
		outcome.FailureReason = fmt.Sprintf("tool exited %d: %s", res.ExitCode, truncate(res.Output, 1024))
	}
	e.recordOutcome(ctx, started.ID, outcome)
}

func (e *Engine) recordOutcome(ctx context.Context, itemID string, outcome types.ItemOutcome) {
	if err := e.store.RecordOutcome(ctx, itemID, outcome, Actor); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: record outcome for %s: %v\n", itemID, err)
		return
	}
	if item, err := e.store.GetQueueItem(ctx, itemID); err == nil && item != nil {
		e.publisher.ItemUpdated(item)
	}
}

// buildPrompt renders the task brief handed to the tool session.
func (e *Engine) buildPrompt(ctx context.Context, item *types.QueueItem) (string, error) {
	sol, err := e.store.GetSolution(ctx, item.IssueID, item.SolutionID)
	if err != nil {
		return "", err
	}
	if sol == nil {
		return "", fmt.Errorf("solution %s not found for issue %s", item.SolutionID, item.IssueID)
	}
	for _, task := range sol.Tasks {
		if task.ID == item.TaskID {
			prompt := fmt.Sprintf("Issue %s, task %s: %s\n", item.IssueID, task.ID, task.Title)
			if task.Scope != "" {
				prompt += fmt.Sprintf("Scope: %s\n", task.Scope)
			}
			if task.Action != "" {
				prompt += fmt.Sprintf("Action: %s\n", task.Action)
			}
			return prompt, nil
		}
	}
	return "", fmt.Errorf("task %s not found in solution %s", item.TaskID, item.SolutionID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
