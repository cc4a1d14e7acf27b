package agents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"patlas/internal/balance"
	"patlas/internal/bus"
	"patlas/internal/clock"
	"patlas/internal/collab"
	"patlas/internal/registry"
	"patlas/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

// newTestStack builds the bus, registry, balancer and manager an agent talks
// to, all on one fake clock.
func newTestStack(t *testing.T, cfg collab.Config) (*collab.Manager, *bus.Bus, *clock.Fake) {
	t.Helper()
	clk := testClock()
	if cfg.Clock == nil {
		cfg.Clock = clk
	}
	b := bus.New(bus.Config{Clock: cfg.Clock})
	reg := registry.New(registry.Config{Clock: cfg.Clock})
	bal := balance.New(balance.DefaultConfig())
	return collab.New(cfg, b, reg, bal), b, clk
}

// startAgent runs the agent in the background, waits for its registration
// and stops it when the test ends.
func startAgent(t *testing.T, mgr *collab.Manager, a *Agent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, func() bool {
		for _, w := range mgr.Workers() {
			if w.WorkerID == a.ID() {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "agent never registered")
}

// receive awaits one message on the given inbox.
func receive(t *testing.T, b *bus.Bus, workerID string) *types.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := b.Receive(ctx, workerID)
	require.NoError(t, err)
	return msg
}

// stubHandler serves one task type with a canned function.
type stubHandler struct {
	mu       sync.Mutex
	taskType string
	fn       func(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error)
	calls    int
}

func (s *stubHandler) TaskType() string { return s.taskType }

func (s *stubHandler) Execute(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn == nil {
		return map[string]interface{}{"ok": true}, nil
	}
	return s.fn(ctx, data)
}

func (s *stubHandler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestAgentExecutesAssignment(t *testing.T) {
	t.Parallel()

	mgr, b, clk := newTestStack(t, collab.DefaultConfig())
	b.Register("driver")

	handler := &stubHandler{
		taskType: types.TaskTypeSearch,
		fn: func(_ context.Context, data map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echo": data["payload"]}, nil
		},
	}
	agent := New(Config{WorkerID: "w-search", HeartbeatInterval: time.Hour, Clock: clk}, mgr, b, handler)
	startAgent(t, mgr, agent)

	task, err := mgr.AssignTask(collab.TaskSpec{
		TaskType:  types.TaskTypeSearch,
		TaskData:  map[string]interface{}{"payload": "hello"},
		Requester: "driver",
	})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "w-search", task.WorkerID)

	msg := receive(t, b, "driver")
	require.Equal(t, types.MsgTaskResult, msg.Type)
	assert.Equal(t, task.TaskID, msg.Content["task_id"])
	assert.Equal(t, "w-search", msg.Content["worker_id"])

	result, ok := msg.Content["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello", result["echo"])

	stored, ok := mgr.Task(task.TaskID)
	require.True(t, ok)
	assert.Equal(t, types.TaskCompleted, stored.Status)
	assert.Equal(t, 1, handler.Calls())
}

func TestAgentFailsUnknownTaskType(t *testing.T) {
	t.Parallel()

	mgr, b, _ := newTestStack(t, collab.DefaultConfig())
	b.Register("driver")

	// A generalist that only installed a search handler: analysis
	// assignments route to it and must fail cleanly.
	handler := &stubHandler{taskType: types.TaskTypeSearch}
	agent := New(Config{
		WorkerID:          "w-general",
		Specialties:       []string{types.SpecialtyGeneral},
		HeartbeatInterval: time.Hour,
	}, mgr, b, handler)
	startAgent(t, mgr, agent)

	task, err := mgr.AssignTask(collab.TaskSpec{
		TaskType:  types.TaskTypeAnalysis,
		TaskData:  map[string]interface{}{"patents": []interface{}{}},
		Requester: "driver",
	})
	require.NoError(t, err)
	require.NotNil(t, task)

	msg := receive(t, b, "driver")
	require.Equal(t, types.MsgTaskFailed, msg.Type)
	errMsg, _ := msg.Content["error"].(string)
	assert.Contains(t, errMsg, "no handler")
	assert.Contains(t, errMsg, types.TaskTypeAnalysis)

	stored, ok := mgr.Task(task.TaskID)
	require.True(t, ok)
	assert.Equal(t, types.TaskFailed, stored.Status)
	assert.Equal(t, 0, handler.Calls(), "the handler table rejects before execution")
}

func TestAgentHeartbeats(t *testing.T) {
	t.Parallel()

	mgr, b, clk := newTestStack(t, collab.DefaultConfig())

	agent := New(Config{
		WorkerID:          "w-hb",
		HeartbeatInterval: 5 * time.Millisecond,
	}, mgr, b, &stubHandler{taskType: types.TaskTypeSearch})
	startAgent(t, mgr, agent)

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool {
		for _, w := range mgr.Workers() {
			if w.WorkerID == "w-hb" {
				return w.LastHeartbeat.Equal(clk.Now())
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "heartbeat never refreshed liveness")
}

func TestAgentRetriesTimedOutTask(t *testing.T) {
	t.Parallel()

	cfg := collab.DefaultConfig()
	cfg.MaxRetries = 1
	cfg.Deadlines = map[string]time.Duration{types.TaskTypeSearch: 30 * time.Millisecond}
	mgr, b, clk := newTestStack(t, cfg)
	b.Register("driver")

	handler := &stubHandler{
		taskType: types.TaskTypeSearch,
		fn: func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	agent := New(Config{WorkerID: "w-slow", HeartbeatInterval: time.Hour, Clock: clk}, mgr, b, handler)
	startAgent(t, mgr, agent)

	task, err := mgr.AssignTask(collab.TaskSpec{
		TaskType:  types.TaskTypeSearch,
		Requester: "driver",
	})
	require.NoError(t, err)
	require.NotNil(t, task)

	msg := receive(t, b, "driver")
	require.Equal(t, types.MsgTaskFailed, msg.Type, "retries exhausted before the requester hears anything")
	errMsg, _ := msg.Content["error"].(string)
	assert.Contains(t, errMsg, "timeout")

	stored, ok := mgr.Task(task.TaskID)
	require.True(t, ok)
	assert.Equal(t, types.TaskFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, 2, handler.Calls(), "one original attempt plus one retry")
}

func TestAgentDerivesSpecialtiesFromHandlers(t *testing.T) {
	t.Parallel()

	mgr, b, _ := newTestStack(t, collab.DefaultConfig())

	agent := New(Config{WorkerID: "w-multi", HeartbeatInterval: time.Hour}, mgr, b,
		&stubHandler{taskType: types.TaskTypeSearch},
		&stubHandler{taskType: types.TaskTypeCollect},
	)
	require.NoError(t, agent.Register())
	t.Cleanup(func() { require.NoError(t, agent.Deregister()) })

	workers := mgr.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, []string{types.TaskTypeCollect, types.TaskTypeSearch}, workers[0].Specialties)
	assert.Equal(t, DefaultConfig().Capacity, workers[0].Capacity)
}
