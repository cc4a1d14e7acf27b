// Package registry is the ground truth of task state: active and completed
// maps, the dependency graph, and validated lifecycle transitions. Completing
// or failing a task reports which dependents became ready or were dragged
// down, so the collaboration layer can notify before dependents start.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"patlas/internal/clock"
	"patlas/internal/logging"
	"patlas/internal/types"
)

// Config controls registry behavior.
type Config struct {
	Logger  *zap.Logger
	Clock   clock.Clock
	Journal *Journal // optional transition log
}

// Registry stores every task the platform has seen this run.
type Registry struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	clk        clock.Clock
	journal    *Journal
	active     map[string]*types.TaskAssignment
	completed  map[string]*types.TaskAssignment
	dependents map[string][]string // dependency task -> tasks waiting on it
}

// New creates a Registry from cfg.
func New(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &Registry{
		logger:     logging.Named(cfg.Logger, "registry"),
		clk:        cfg.Clock,
		journal:    cfg.Journal,
		active:     make(map[string]*types.TaskAssignment),
		completed:  make(map[string]*types.TaskAssignment),
		dependents: make(map[string][]string),
	}
}

// Create registers a new task in the active map with status assigned. A
// missing TaskID is generated; AssignedAt is stamped by the registry clock.
func (r *Registry) Create(task *types.TaskAssignment) error {
	if task == nil {
		return types.NewError(types.ErrValidation, "registry: nil task")
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.TaskType == "" {
		return types.NewError(types.ErrValidation, "registry: task type required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[task.TaskID]; ok {
		return types.Errorf(types.ErrValidation, "registry: duplicate task %q", task.TaskID)
	}
	if _, ok := r.completed[task.TaskID]; ok {
		return types.Errorf(types.ErrValidation, "registry: task %q already finished", task.TaskID)
	}

	task.Status = types.TaskAssigned
	task.AssignedAt = r.clk.Now()
	r.active[task.TaskID] = task
	r.journal.Append(TaskEvent{
		TaskID: task.TaskID, From: "", To: types.TaskAssigned,
		WorkerID: task.WorkerID, RetryCount: task.RetryCount, At: task.AssignedAt,
	})
	r.logger.Debug("task created",
		zap.String("task", task.TaskID),
		zap.String("type", task.TaskType),
		zap.String("worker", task.WorkerID))
	return nil
}

// Start moves a task from assigned to running and stamps StartedAt.
func (r *Registry) Start(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.active[taskID]
	if !ok {
		return types.Errorf(types.ErrValidation, "registry: unknown active task %q", taskID)
	}
	if task.Status != types.TaskAssigned {
		return types.Errorf(types.ErrValidation,
			"registry: cannot start task %q from status %s", taskID, task.Status)
	}
	task.Status = types.TaskRunning
	task.StartedAt = r.clk.Now()
	r.journal.Append(TaskEvent{
		TaskID: taskID, From: types.TaskAssigned, To: types.TaskRunning,
		WorkerID: task.WorkerID, RetryCount: task.RetryCount, At: task.StartedAt,
	})
	return nil
}

// Complete moves a running task to completed and resolves its dependents.
// The returned slice lists tasks that left waiting_for_dependency because
// this was their last outstanding dependency.
func (r *Registry) Complete(taskID string, result map[string]interface{}) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.active[taskID]
	if !ok {
		return nil, types.Errorf(types.ErrValidation, "registry: unknown active task %q", taskID)
	}
	if task.Status != types.TaskRunning {
		return nil, types.Errorf(types.ErrValidation,
			"registry: cannot complete task %q from status %s", taskID, task.Status)
	}

	from := task.Status
	task.Status = types.TaskCompleted
	task.CompletedAt = r.clk.Now()
	task.Result = result
	delete(r.active, taskID)
	r.completed[taskID] = task
	r.journal.Append(TaskEvent{
		TaskID: taskID, From: from, To: types.TaskCompleted,
		WorkerID: task.WorkerID, RetryCount: task.RetryCount, At: task.CompletedAt,
	})

	ready := r.resolveDependentsLocked(taskID)
	r.logger.Debug("task completed",
		zap.String("task", taskID),
		zap.Int("ready_dependents", len(ready)))
	return ready, nil
}

// Fail moves a task to failed from any non-terminal state and cascades a
// dependency_failed error to tasks waiting on it. The returned slice lists
// the cascaded task IDs.
func (r *Registry) Fail(taskID string, errMsg string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failLocked(taskID, errMsg)
}

func (r *Registry) failLocked(taskID string, errMsg string) ([]string, error) {
	task, ok := r.active[taskID]
	if !ok {
		return nil, types.Errorf(types.ErrValidation, "registry: unknown active task %q", taskID)
	}

	from := task.Status
	task.Status = types.TaskFailed
	task.CompletedAt = r.clk.Now()
	task.Error = errMsg
	delete(r.active, taskID)
	r.completed[taskID] = task
	r.journal.Append(TaskEvent{
		TaskID: taskID, From: from, To: types.TaskFailed,
		WorkerID: task.WorkerID, Error: errMsg, RetryCount: task.RetryCount, At: task.CompletedAt,
	})

	var cascaded []string
	for _, depID := range r.dependents[taskID] {
		dep, ok := r.active[depID]
		if !ok || dep.Status != types.TaskWaitingForDependency {
			continue
		}
		depErr := types.Errorf(types.ErrDependencyFailed,
			"dependency %s failed: %s", taskID, errMsg)
		more, err := r.failLocked(depID, depErr.Error())
		if err != nil {
			continue
		}
		cascaded = append(cascaded, depID)
		cascaded = append(cascaded, more...)
	}
	delete(r.dependents, taskID)

	r.logger.Debug("task failed",
		zap.String("task", taskID),
		zap.String("error", errMsg),
		zap.Int("cascaded", len(cascaded)))
	return cascaded, nil
}

// AwaitDependency parks taskID until every task in dependsOn completes. If
// all are already complete the task stays assigned; if any already failed,
// the task fails immediately with dependency_failed.
func (r *Registry) AwaitDependency(taskID string, dependsOn ...string) error {
	if len(dependsOn) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.active[taskID]
	if !ok {
		return types.Errorf(types.ErrValidation, "registry: unknown active task %q", taskID)
	}
	if task.Status != types.TaskAssigned {
		return types.Errorf(types.ErrValidation,
			"registry: cannot add dependencies to task %q in status %s", taskID, task.Status)
	}

	pending := make([]string, 0, len(dependsOn))
	for _, depID := range dependsOn {
		if depID == taskID {
			return types.Errorf(types.ErrValidation, "registry: task %q cannot depend on itself", taskID)
		}
		if done, ok := r.completed[depID]; ok {
			if done.Status == types.TaskFailed {
				_, err := r.failLocked(taskID, types.Errorf(types.ErrDependencyFailed,
					"dependency %s already failed", depID).Error())
				return err
			}
			continue // already completed
		}
		if _, ok := r.active[depID]; !ok {
			return types.Errorf(types.ErrValidation, "registry: unknown dependency %q", depID)
		}
		pending = append(pending, depID)
	}

	task.DependsOn = dependsOn
	if len(pending) == 0 {
		return nil
	}

	from := task.Status
	task.Status = types.TaskWaitingForDependency
	for _, depID := range pending {
		r.dependents[depID] = append(r.dependents[depID], taskID)
	}
	r.journal.Append(TaskEvent{
		TaskID: taskID, From: from, To: types.TaskWaitingForDependency,
		WorkerID: task.WorkerID, RetryCount: task.RetryCount, At: r.clk.Now(),
	})
	return nil
}

// resolveDependentsLocked promotes waiting tasks whose dependencies are all
// complete. Caller holds r.mu.
func (r *Registry) resolveDependentsLocked(completedID string) []string {
	var ready []string
	for _, depID := range r.dependents[completedID] {
		task, ok := r.active[depID]
		if !ok || task.Status != types.TaskWaitingForDependency {
			continue
		}
		allDone := true
		for _, want := range task.DependsOn {
			done, ok := r.completed[want]
			if !ok || done.Status != types.TaskCompleted {
				allDone = false
				break
			}
		}
		if !allDone {
			continue
		}
		task.Status = types.TaskAssigned
		r.journal.Append(TaskEvent{
			TaskID: depID, From: types.TaskWaitingForDependency, To: types.TaskAssigned,
			WorkerID: task.WorkerID, RetryCount: task.RetryCount, At: r.clk.Now(),
		})
		ready = append(ready, depID)
	}
	delete(r.dependents, completedID)
	return ready
}

// Reassign hands an active task to a new worker and restarts its lifecycle
// at assigned. When asRetry is set, the retry counter and priority both rise,
// matching the retry policy's priority boost. A non-zero deadline replaces
// the task's deadline (re-evaluated before re-queueing). Tasks waiting on
// dependencies only change owner; they stay parked.
func (r *Registry) Reassign(taskID, newWorker string, asRetry bool, deadline time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.active[taskID]
	if !ok {
		return types.Errorf(types.ErrValidation, "registry: unknown active task %q", taskID)
	}

	if task.Status == types.TaskWaitingForDependency {
		if asRetry {
			return types.Errorf(types.ErrValidation,
				"registry: cannot retry task %q while waiting on dependencies", taskID)
		}
		task.WorkerID = newWorker
		if !deadline.IsZero() {
			task.Deadline = deadline
		}
		r.journal.Append(TaskEvent{
			TaskID: taskID, From: task.Status, To: task.Status,
			WorkerID: newWorker, RetryCount: task.RetryCount, At: r.clk.Now(),
		})
		return nil
	}

	from := task.Status
	task.WorkerID = newWorker
	task.Status = types.TaskAssigned
	task.AssignedAt = r.clk.Now()
	task.StartedAt = time.Time{}
	if !deadline.IsZero() {
		task.Deadline = deadline
	}
	if asRetry {
		task.RetryCount++
		task.Priority++
	}
	r.journal.Append(TaskEvent{
		TaskID: taskID, From: from, To: types.TaskAssigned,
		WorkerID: newWorker, RetryCount: task.RetryCount, At: task.AssignedAt,
	})
	return nil
}

// Get returns a snapshot of the task, looked up in both maps.
func (r *Registry) Get(taskID string) (*types.TaskAssignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if task, ok := r.active[taskID]; ok {
		return task.Clone(), true
	}
	if task, ok := r.completed[taskID]; ok {
		return task.Clone(), true
	}
	return nil, false
}

// ActiveByWorker returns snapshots of every active task assigned to workerID.
func (r *Registry) ActiveByWorker(workerID string) []*types.TaskAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.TaskAssignment
	for _, task := range r.active {
		if task.WorkerID == workerID {
			out = append(out, task.Clone())
		}
	}
	return out
}

// Counts reports the sizes of the active and completed maps.
func (r *Registry) Counts() (active, completed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active), len(r.completed)
}

// Dependents returns the IDs of tasks currently parked on taskID.
func (r *Registry) Dependents(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.dependents[taskID]...)
}

// ActiveLoad reports how many active tasks workerID holds, the registry-side
// view of the load-conservation invariant.
func (r *Registry) ActiveLoad(workerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, task := range r.active {
		if task.WorkerID == workerID {
			n++
		}
	}
	return n
}
