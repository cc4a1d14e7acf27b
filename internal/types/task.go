package types

import "time"

// =============================================================================
// TASKS
// =============================================================================

// TaskStatus tracks a task through its lifecycle. Transitions move strictly
// forward: assigned -> running -> (completed | failed), with
// waiting_for_dependency as an entry state that resolves back to assigned.
type TaskStatus string

const (
	TaskAssigned             TaskStatus = "assigned"
	TaskRunning              TaskStatus = "running"
	TaskWaitingForDependency TaskStatus = "waiting_for_dependency"
	TaskCompleted            TaskStatus = "completed"
	TaskFailed               TaskStatus = "failed"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task type categories used for deadline selection.
const (
	TaskTypeSearch   = "search"
	TaskTypeAnalysis = "analysis"
	TaskTypeReport   = "report"
	TaskTypeCollect  = "data_collection"
)

// TaskAssignment records a task and its assignment to a worker. StartedAt and
// CompletedAt stay zero until the corresponding transition happens; when set,
// CompletedAt >= StartedAt >= AssignedAt.
type TaskAssignment struct {
	TaskID      string                 `json:"task_id"`
	WorkerID    string                 `json:"worker_id"`
	TaskType    string                 `json:"task_type"`
	TaskData    map[string]interface{} `json:"task_data"`
	Priority    int                    `json:"priority"`
	Status      TaskStatus             `json:"status"`
	AssignedAt  time.Time              `json:"assigned_at"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
	Deadline    time.Time              `json:"deadline,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	DependsOn   []string               `json:"depends_on,omitempty"`
	Requester   string                 `json:"requester,omitempty"`
}

// Clone returns a deep-enough copy for handing out snapshots: maps and slices
// are copied one level down, which covers every mutation the registry does.
func (t *TaskAssignment) Clone() *TaskAssignment {
	cp := *t
	if t.TaskData != nil {
		cp.TaskData = make(map[string]interface{}, len(t.TaskData))
		for k, v := range t.TaskData {
			cp.TaskData[k] = v
		}
	}
	if t.Result != nil {
		cp.Result = make(map[string]interface{}, len(t.Result))
		for k, v := range t.Result {
			cp.Result[k] = v
		}
	}
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return &cp
}

// TaskResult is what a worker reports back when a task finishes. Failed tasks
// carry Confidence 0 and CollaborationNeeded true so the requester can react.
type TaskResult struct {
	TaskID              string                 `json:"task_id"`
	WorkerID            string                 `json:"worker_id"`
	Success             bool                   `json:"success"`
	Data                map[string]interface{} `json:"data,omitempty"`
	Error               string                 `json:"error,omitempty"`
	Confidence          float64                `json:"confidence"`
	CollaborationNeeded bool                   `json:"collaboration_needed"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	Duration            time.Duration          `json:"duration"`
}
