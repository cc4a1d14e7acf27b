// Package collab glues the bus, balancer and registry into the worker-facing
// orchestration API: worker registration with heartbeats, task assignment and
// completion, the retry policy, and collaboration sessions with shared data.
package collab

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"patlas/internal/balance"
	"patlas/internal/bus"
	"patlas/internal/clock"
	"patlas/internal/logging"
	"patlas/internal/registry"
	"patlas/internal/types"
)

// ManagerID is the sender ID the manager uses on the bus.
const ManagerID = "manager"

// QualityHook receives per-task outcomes for workflow monitoring. A nil hook
// disables observation.
type QualityHook interface {
	ObserveTask(taskType string, duration time.Duration, success bool)
}

// Config controls manager behavior.
type Config struct {
	// HeartbeatTimeout marks workers offline when exceeded.
	HeartbeatTimeout time.Duration
	// SweepInterval is the cadence of the liveness/deadline sweep.
	SweepInterval time.Duration
	// MaxRetries bounds retries for retryable failures.
	MaxRetries int
	// Deadlines maps task types to execution deadlines.
	Deadlines map[string]time.Duration
	// DefaultDeadline applies to unmapped task types.
	DefaultDeadline time.Duration
	Logger          *zap.Logger
	Clock           clock.Clock
	Hook            QualityHook
}

// DefaultConfig returns the standard manager configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 5 * time.Minute,
		SweepInterval:    30 * time.Second,
		MaxRetries:       2,
		Deadlines: map[string]time.Duration{
			types.TaskTypeSearch:   45 * time.Second,
			types.TaskTypeAnalysis: 60 * time.Second,
			types.TaskTypeReport:   90 * time.Second,
			types.TaskTypeCollect:  45 * time.Second,
		},
		DefaultDeadline: 60 * time.Second,
	}
}

// TaskSpec describes a task to assign.
type TaskSpec struct {
	TaskType        string
	TaskData        map[string]interface{}
	PreferredWorker string
	Priority        int
	DependsOn       []string
	Requester       string
}

// Manager coordinates workers over the bus, balancer and registry.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	logger   *zap.Logger
	clk      clock.Clock
	bus      *bus.Bus
	registry *registry.Registry
	balancer *balance.Balancer
	workers  map[string]*types.WorkerRecord
	sessions map[string]*Session
}

// New creates a Manager wired to the given bus, registry and balancer.
func New(cfg Config, b *bus.Bus, reg *registry.Registry, bal *balance.Balancer) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 5 * time.Minute
	}
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = 60 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		logger:   logging.Named(cfg.Logger, "collab"),
		clk:      cfg.Clock,
		bus:      b,
		registry: reg,
		balancer: bal,
		workers:  make(map[string]*types.WorkerRecord),
		sessions: make(map[string]*Session),
	}
}

// deadlineFor returns the execution budget for a task type.
func (m *Manager) deadlineFor(taskType string) time.Duration {
	if d, ok := m.cfg.Deadlines[taskType]; ok {
		return d
	}
	return m.cfg.DefaultDeadline
}

// =============================================================================
// WORKER LIFECYCLE
// =============================================================================

// RegisterWorker adds (or refreshes) a worker, opening its bus queue and
// tracking it in the balancer.
func (m *Manager) RegisterWorker(rec *types.WorkerRecord) error {
	if rec == nil || rec.WorkerID == "" {
		return types.NewError(types.ErrValidation, "collab: worker id required")
	}
	if rec.Capacity < 1 {
		rec.Capacity = 1
	}
	if len(rec.Specialties) == 0 {
		rec.Specialties = []string{types.SpecialtyGeneral}
	}

	now := m.clk.Now()
	rec.Status = types.WorkerOnline
	rec.RegisteredAt = now
	rec.LastHeartbeat = now

	m.mu.Lock()
	m.workers[rec.WorkerID] = rec
	m.mu.Unlock()

	m.bus.Register(rec.WorkerID)
	m.balancer.Track(rec)
	m.logger.Info("worker registered",
		zap.String("worker", rec.WorkerID),
		zap.String("type", rec.WorkerType),
		zap.Strings("specialties", rec.Specialties))
	return nil
}

// UnregisterWorker removes a worker. Its active tasks are reassigned through
// the normal assignment path, preserving priority; tasks no other worker can
// take fail with worker_lost.
func (m *Manager) UnregisterWorker(workerID string) error {
	m.mu.Lock()
	rec, ok := m.workers[workerID]
	if !ok {
		m.mu.Unlock()
		return types.Errorf(types.ErrValidation, "collab: unknown worker %q", workerID)
	}
	rec.Status = types.WorkerOffline
	delete(m.workers, workerID)
	m.mu.Unlock()

	m.evacuateWorker(workerID)
	m.bus.Unregister(workerID)
	m.balancer.Remove(workerID)
	m.logger.Info("worker unregistered", zap.String("worker", workerID))
	return nil
}

// Heartbeat refreshes a worker's liveness and revives offline workers.
func (m *Manager) Heartbeat(workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.workers[workerID]
	if !ok {
		return types.Errorf(types.ErrValidation, "collab: unknown worker %q", workerID)
	}
	rec.LastHeartbeat = m.clk.Now()
	if rec.Status == types.WorkerOffline {
		rec.Status = types.WorkerOnline
		m.logger.Info("worker back online", zap.String("worker", workerID))
	}
	return nil
}

// Workers returns a snapshot of every registered worker.
func (m *Manager) Workers() []*types.WorkerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.WorkerRecord, 0, len(m.workers))
	for _, rec := range m.workers {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// onlineWorkers snapshots workers currently accepting assignments.
func (m *Manager) onlineWorkers() []*types.WorkerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.WorkerRecord, 0, len(m.workers))
	for _, rec := range m.workers {
		if rec.Status == types.WorkerOnline {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// =============================================================================
// TASK ASSIGNMENT
// =============================================================================

// AssignTask creates and assigns a task. A set PreferredWorker wins when it
// is online; otherwise the balancer selects among online workers. When no
// worker can take the task, AssignTask returns (nil, nil) and the caller may
// retry later. Tasks with dependencies park until those complete; the
// assignment message is deferred to resolution time.
func (m *Manager) AssignTask(spec TaskSpec) (*types.TaskAssignment, error) {
	if spec.TaskType == "" {
		return nil, types.NewError(types.ErrValidation, "collab: task type required")
	}

	workerID, ok := m.pickWorker(spec)
	if !ok {
		m.logger.Warn("no worker available", zap.String("type", spec.TaskType))
		return nil, nil
	}

	now := m.clk.Now()
	task := &types.TaskAssignment{
		WorkerID:  workerID,
		TaskType:  spec.TaskType,
		TaskData:  spec.TaskData,
		Priority:  spec.Priority,
		Deadline:  now.Add(m.deadlineFor(spec.TaskType)),
		DependsOn: spec.DependsOn,
		Requester: spec.Requester,
	}
	if err := m.registry.Create(task); err != nil {
		return nil, err
	}
	m.balancer.AddLoad(workerID)

	if len(spec.DependsOn) > 0 {
		if err := m.registry.AwaitDependency(task.TaskID, spec.DependsOn...); err != nil {
			return nil, err
		}
		parked, _ := m.registry.Get(task.TaskID)
		if parked.Status == types.TaskFailed {
			// A dependency had already failed; the load reserved above must go back.
			m.balancer.ReleaseLoad(workerID)
			m.notifyTaskFailed(parked)
			return parked, nil
		}
		if parked.Status == types.TaskWaitingForDependency {
			m.logger.Debug("task parked on dependencies",
				zap.String("task", task.TaskID),
				zap.Strings("depends_on", spec.DependsOn))
			return parked, nil
		}
	}

	m.sendAssignment(task)
	m.logger.Info("task assigned",
		zap.String("task", task.TaskID),
		zap.String("type", task.TaskType),
		zap.String("worker", workerID),
		zap.Int("priority", task.Priority))
	return task.Clone(), nil
}

// pickWorker applies the preferred-worker shortcut, then balancer selection.
func (m *Manager) pickWorker(spec TaskSpec) (string, bool) {
	if spec.PreferredWorker != "" {
		m.mu.RLock()
		rec, ok := m.workers[spec.PreferredWorker]
		online := ok && rec.Status == types.WorkerOnline
		m.mu.RUnlock()
		if online {
			return spec.PreferredWorker, true
		}
	}
	return m.balancer.SelectWorker(spec.TaskType, m.onlineWorkers())
}

// sendAssignment emits the task_assignment message at the task's priority.
func (m *Manager) sendAssignment(task *types.TaskAssignment) {
	err := m.bus.Send(&types.Message{
		SenderID:   ManagerID,
		ReceiverID: task.WorkerID,
		Type:       types.MsgTaskAssignment,
		Priority:   task.Priority,
		Content: map[string]interface{}{
			"task_id":   task.TaskID,
			"task_type": task.TaskType,
			"task_data": task.TaskData,
			"deadline":  task.Deadline,
		},
	})
	if err != nil {
		m.logger.Warn("assignment message undeliverable",
			zap.String("task", task.TaskID),
			zap.String("worker", task.WorkerID),
			zap.Error(err))
	}
}

// StartTask marks a task running on behalf of its assignee.
func (m *Manager) StartTask(taskID, workerID string) error {
	if err := m.checkAssignee(taskID, workerID); err != nil {
		return err
	}
	return m.registry.Start(taskID)
}

// CompleteTask finishes a task: the registry flips it to completed, the
// balancer folds in the execution outcome, dependents are unblocked with
// dependency_resolved messages ahead of their assignments, and the requester
// hears task_result.
func (m *Manager) CompleteTask(taskID string, result map[string]interface{}, workerID string) error {
	if err := m.checkAssignee(taskID, workerID); err != nil {
		return err
	}

	task, _ := m.registry.Get(taskID)
	if task.Status == types.TaskAssigned {
		if err := m.registry.Start(taskID); err != nil {
			return err
		}
	}

	ready, err := m.registry.Complete(taskID, result)
	if err != nil {
		return err
	}

	done, _ := m.registry.Get(taskID)
	execTime := done.CompletedAt.Sub(done.StartedAt)
	m.balancer.RecordCompletion(workerID, execTime, true)
	if m.cfg.Hook != nil {
		m.cfg.Hook.ObserveTask(done.TaskType, execTime, true)
	}

	m.notifyTaskResult(done)
	for _, readyID := range ready {
		m.dispatchResolved(readyID, taskID)
	}
	return nil
}

// FailTask records a task failure. Retryable errors (timeout / network, by
// typed kind or legacy substring) reassign the task with a priority boost and
// a fresh deadline while retries remain; everything else is terminal and
// cascades to dependents.
func (m *Manager) FailTask(taskID, errMsg, workerID string) error {
	if err := m.checkAssignee(taskID, workerID); err != nil {
		return err
	}

	task, _ := m.registry.Get(taskID)
	execTime := time.Duration(0)
	if !task.StartedAt.IsZero() {
		execTime = m.clk.Now().Sub(task.StartedAt)
	}
	m.balancer.RecordCompletion(workerID, execTime, false)
	if m.cfg.Hook != nil {
		m.cfg.Hook.ObserveTask(task.TaskType, execTime, false)
	}

	return m.failOrRetry(task, errMsg)
}

// failOrRetry applies the retry policy to a task whose worker-side load has
// already been released.
func (m *Manager) failOrRetry(task *types.TaskAssignment, errMsg string) error {
	if types.RetryableMessage(errMsg) && task.RetryCount < m.cfg.MaxRetries {
		spec := TaskSpec{TaskType: task.TaskType, Priority: task.Priority + 1}
		if workerID, ok := m.pickWorker(spec); ok {
			deadline := m.clk.Now().Add(m.deadlineFor(task.TaskType))
			if err := m.registry.Reassign(task.TaskID, workerID, true, deadline); err != nil {
				return err
			}
			m.balancer.AddLoad(workerID)
			retried, _ := m.registry.Get(task.TaskID)
			m.sendAssignment(retried)
			m.logger.Info("task retried",
				zap.String("task", task.TaskID),
				zap.String("worker", workerID),
				zap.Int("retry", retried.RetryCount),
				zap.String("cause", errMsg))
			return nil
		}
	}

	cascaded, err := m.registry.Fail(task.TaskID, errMsg)
	if err != nil {
		return err
	}
	failed, _ := m.registry.Get(task.TaskID)
	m.notifyTaskFailed(failed)
	for _, depID := range cascaded {
		dep, ok := m.registry.Get(depID)
		if !ok {
			continue
		}
		m.balancer.ReleaseLoad(dep.WorkerID)
		m.notifyTaskFailed(dep)
	}
	m.logger.Warn("task failed",
		zap.String("task", task.TaskID),
		zap.String("error", errMsg),
		zap.Int("cascaded", len(cascaded)))
	return nil
}

// checkAssignee rejects completion reports from workers that do not own the
// task.
func (m *Manager) checkAssignee(taskID, workerID string) error {
	task, ok := m.registry.Get(taskID)
	if !ok {
		return types.Errorf(types.ErrValidation, "collab: unknown task %q", taskID)
	}
	if task.Status.Terminal() {
		return types.Errorf(types.ErrValidation, "collab: task %q already %s", taskID, task.Status)
	}
	if task.WorkerID != workerID {
		return types.Errorf(types.ErrValidation,
			"collab: worker %q is not the assignee of task %q", workerID, taskID)
	}
	return nil
}

// dispatchResolved notifies a freshly unblocked task's worker: first the
// dependency_resolved event, then the assignment, both at the task's priority
// so per-sender FIFO keeps them ordered.
func (m *Manager) dispatchResolved(taskID, completedDep string) {
	task, ok := m.registry.Get(taskID)
	if !ok {
		return
	}
	_ = m.bus.Send(&types.Message{
		SenderID:   ManagerID,
		ReceiverID: task.WorkerID,
		Type:       types.MsgDependencyResolved,
		Priority:   task.Priority,
		Content: map[string]interface{}{
			"task_id":      task.TaskID,
			"completed":    completedDep,
			"dependencies": task.DependsOn,
		},
	})
	m.sendAssignment(task)
}

// notifyTaskResult reports success to the requester, if any.
func (m *Manager) notifyTaskResult(task *types.TaskAssignment) {
	if task.Requester == "" {
		return
	}
	_ = m.bus.Send(&types.Message{
		SenderID:   ManagerID,
		ReceiverID: task.Requester,
		Type:       types.MsgTaskResult,
		Priority:   task.Priority,
		Content: map[string]interface{}{
			"task_id":   task.TaskID,
			"task_type": task.TaskType,
			"worker_id": task.WorkerID,
			"result":    task.Result,
		},
	})
}

// notifyTaskFailed reports a terminal failure to the requester, if any.
func (m *Manager) notifyTaskFailed(task *types.TaskAssignment) {
	if task.Requester == "" {
		return
	}
	_ = m.bus.Send(&types.Message{
		SenderID:   ManagerID,
		ReceiverID: task.Requester,
		Type:       types.MsgTaskFailed,
		Priority:   task.Priority,
		Content: map[string]interface{}{
			"task_id":   task.TaskID,
			"task_type": task.TaskType,
			"worker_id": task.WorkerID,
			"error":     task.Error,
		},
	})
}

// Task returns a snapshot of the given task.
func (m *Manager) Task(taskID string) (*types.TaskAssignment, bool) {
	return m.registry.Get(taskID)
}

// =============================================================================
// LIVENESS SWEEP
// =============================================================================

// Run executes the liveness and deadline sweep until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("sweep loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sweep loop stopped")
			return
		case <-ticker.C:
			m.SweepOnce()
		}
	}
}

// SweepOnce performs one pass: stale workers go offline and shed their tasks,
// and tasks past their deadline fail with timeout (which feeds the retry
// policy).
func (m *Manager) SweepOnce() {
	now := m.clk.Now()

	m.mu.Lock()
	var stale []string
	for workerID, rec := range m.workers {
		if rec.Status == types.WorkerOnline && now.Sub(rec.LastHeartbeat) > m.cfg.HeartbeatTimeout {
			rec.Status = types.WorkerOffline
			stale = append(stale, workerID)
		}
	}
	m.mu.Unlock()

	for _, workerID := range stale {
		m.logger.Warn("worker heartbeat expired", zap.String("worker", workerID))
		m.evacuateWorker(workerID)
	}

	m.expireDeadlines(now)
}

// evacuateWorker reassigns every active task of a dead or departing worker.
// Tasks nobody can take fail with worker_lost.
func (m *Manager) evacuateWorker(workerID string) {
	for _, task := range m.registry.ActiveByWorker(workerID) {
		m.balancer.ReleaseLoad(workerID)

		spec := TaskSpec{TaskType: task.TaskType, Priority: task.Priority}
		newWorker, ok := m.pickWorker(spec)
		if !ok || newWorker == workerID {
			lostErr := types.Errorf(types.ErrWorkerLost, "worker %s lost with task in flight", workerID)
			if _, err := m.registry.Fail(task.TaskID, lostErr.Error()); err == nil {
				failed, _ := m.registry.Get(task.TaskID)
				m.notifyTaskFailed(failed)
			}
			continue
		}

		deadline := m.clk.Now().Add(m.deadlineFor(task.TaskType))
		if err := m.registry.Reassign(task.TaskID, newWorker, false, deadline); err != nil {
			continue
		}
		m.balancer.AddLoad(newWorker)
		moved, _ := m.registry.Get(task.TaskID)
		if moved.Status == types.TaskAssigned {
			m.sendAssignment(moved)
		}
		m.logger.Info("task reassigned from lost worker",
			zap.String("task", task.TaskID),
			zap.String("from", workerID),
			zap.String("to", newWorker))
	}
}

// expireDeadlines fails running or assigned tasks whose deadline passed.
func (m *Manager) expireDeadlines(now time.Time) {
	for _, rec := range m.Workers() {
		for _, task := range m.registry.ActiveByWorker(rec.WorkerID) {
			if task.Deadline.IsZero() || !now.After(task.Deadline) {
				continue
			}
			if task.Status == types.TaskWaitingForDependency {
				continue
			}
			timeoutErr := types.Errorf(types.ErrTimeout,
				"task exceeded deadline %s", task.Deadline.Format(time.RFC3339))
			m.balancer.RecordCompletion(task.WorkerID, m.deadlineFor(task.TaskType), false)
			if m.cfg.Hook != nil {
				m.cfg.Hook.ObserveTask(task.TaskType, m.deadlineFor(task.TaskType), false)
			}
			_ = m.failOrRetry(task, timeoutErr.Error())
		}
	}
}
