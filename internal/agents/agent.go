// Package agents implements the worker side of the platform. An Agent owns a
// bus inbox, announces itself to the collaboration manager, and serves a
// receive/dispatch loop that executes task assignments through per-task-type
// handlers, reporting completion or failure back to the manager. A heartbeat
// ticker keeps a healthy agent out of the liveness sweeper's reach.
package agents

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"patlas/internal/bus"
	"patlas/internal/clock"
	"patlas/internal/collab"
	"patlas/internal/logging"
	"patlas/internal/types"
)

// Handler executes one task type on behalf of an agent.
type Handler interface {
	// TaskType names the assignment type this handler accepts.
	TaskType() string
	// Execute runs the task payload and returns the result data. The context
	// carries the assignment deadline when the manager set one.
	Execute(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error)
}

// Config controls agent identity and pacing.
type Config struct {
	// WorkerID is the bus address and registry key. Empty draws a fresh id.
	WorkerID string
	// WorkerType describes the agent in worker listings.
	WorkerType string
	// Capacity is the parallel task budget advertised to the balancer.
	Capacity int
	// Specialties advertised to the manager. Empty derives them from the
	// installed handlers.
	Specialties []string
	// Capabilities are free-form registration facts.
	Capabilities []string
	// HeartbeatInterval paces liveness pings to the manager.
	HeartbeatInterval time.Duration
	// Logger may be nil.
	Logger *zap.Logger
	// Clock may be nil, selecting the system clock.
	Clock clock.Clock
}

// DefaultConfig returns the standard agent configuration.
func DefaultConfig() Config {
	return Config{
		WorkerType:        "worker",
		Capacity:          3,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Agent is one worker process: an inbox, a handler table and a manager link.
type Agent struct {
	cfg      Config
	logger   *zap.Logger
	clk      clock.Clock
	mgr      *collab.Manager
	bus      *bus.Bus
	handlers map[string]Handler
}

// New assembles an agent around its handlers. The agent stays unknown to the
// manager until Run (or Register) is called.
func New(cfg Config, mgr *collab.Manager, b *bus.Bus, handlers ...Handler) *Agent {
	def := DefaultConfig()
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	if cfg.WorkerType == "" {
		cfg.WorkerType = def.WorkerType
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	a := &Agent{
		cfg:      cfg,
		logger:   logging.Named(cfg.Logger, "agent."+cfg.WorkerType),
		clk:      cfg.Clock,
		mgr:      mgr,
		bus:      b,
		handlers: make(map[string]Handler, len(handlers)),
	}
	for _, h := range handlers {
		a.handlers[h.TaskType()] = h
	}
	return a
}

// ID returns the agent's worker id.
func (a *Agent) ID() string { return a.cfg.WorkerID }

// Register announces the agent to the collaboration manager, opening its bus
// inbox. Specialties default to the installed handler task types.
func (a *Agent) Register() error {
	specialties := a.cfg.Specialties
	if len(specialties) == 0 {
		specialties = make([]string, 0, len(a.handlers))
		for taskType := range a.handlers {
			specialties = append(specialties, taskType)
		}
		sort.Strings(specialties)
	}
	return a.mgr.RegisterWorker(&types.WorkerRecord{
		WorkerID:     a.cfg.WorkerID,
		WorkerType:   a.cfg.WorkerType,
		Capacity:     a.cfg.Capacity,
		Specialties:  specialties,
		Capabilities: a.cfg.Capabilities,
	})
}

// Deregister withdraws the agent from the manager. Tasks it still holds are
// evacuated to surviving workers.
func (a *Agent) Deregister() error {
	return a.mgr.UnregisterWorker(a.cfg.WorkerID)
}

// Run registers the agent and serves its inbox until ctx ends. The receive
// loop and the heartbeat ticker share the context; a context-driven shutdown
// returns nil.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Register(); err != nil {
		return err
	}
	a.logger.Info("agent online",
		zap.String("worker_id", a.cfg.WorkerID),
		zap.Int("handlers", len(a.handlers)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.receiveLoop(gctx) })
	g.Go(func() error {
		a.heartbeatLoop(gctx)
		return nil
	})
	err := g.Wait()
	a.logger.Info("agent stopped", zap.String("worker_id", a.cfg.WorkerID))
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// receiveLoop blocks on the bus inbox and dispatches every delivery.
func (a *Agent) receiveLoop(ctx context.Context) error {
	for {
		msg, err := a.bus.Receive(ctx, a.cfg.WorkerID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		a.dispatch(ctx, msg)
	}
}

// heartbeatLoop pings the manager until ctx ends.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.mgr.Heartbeat(a.cfg.WorkerID); err != nil {
				a.logger.Warn("heartbeat rejected", zap.Error(err))
			}
		}
	}
}

// dispatch routes one message. Only assignments carry work; collaboration
// traffic is logged so session activity shows up in worker logs.
func (a *Agent) dispatch(ctx context.Context, msg *types.Message) {
	switch msg.Type {
	case types.MsgTaskAssignment:
		a.runAssignment(ctx, msg)
	case types.MsgCollaborationStart:
		a.logger.Info("collaboration started",
			zap.Any("collaboration_id", msg.Content["collaboration_id"]),
			zap.Any("type", msg.Content["type"]))
	case types.MsgCollaborationEnd:
		a.logger.Info("collaboration ended",
			zap.Any("collaboration_id", msg.Content["collaboration_id"]))
	case types.MsgDataShare:
		a.logger.Debug("data shared", zap.String("from", msg.SenderID))
	case types.MsgDependencyResolved:
		// Informational only; the follow-up assignment arrives separately.
		a.logger.Debug("dependency resolved", zap.Any("task_id", msg.Content["task_id"]))
	default:
		a.logger.Debug("unhandled message",
			zap.String("type", string(msg.Type)),
			zap.String("from", msg.SenderID))
	}
}

// runAssignment executes one task assignment end to end: start, run with the
// manager's deadline, then report the outcome. Deadline errors are surfaced
// as timeout failures so the manager's retry policy can see them.
func (a *Agent) runAssignment(ctx context.Context, msg *types.Message) {
	taskID, _ := msg.Content["task_id"].(string)
	taskType, _ := msg.Content["task_type"].(string)
	data, _ := msg.Content["task_data"].(map[string]interface{})

	log := a.logger.With(zap.String("task_id", taskID), zap.String("task_type", taskType))

	handler, ok := a.handlers[taskType]
	if !ok {
		log.Error("no handler for task type")
		a.report(log, taskID, nil, types.Errorf(types.ErrValidation,
			"worker %s has no handler for task type %q", a.cfg.WorkerID, taskType))
		return
	}
	if err := a.mgr.StartTask(taskID, a.cfg.WorkerID); err != nil {
		log.Warn("task start rejected", zap.Error(err))
		return
	}

	runCtx := ctx
	if deadline, ok := msg.Content["deadline"].(time.Time); ok && !deadline.IsZero() {
		remaining := deadline.Sub(a.clk.Now())
		if remaining <= 0 {
			a.report(log, taskID, nil, types.NewError(types.ErrTimeout, "assignment deadline already passed"))
			return
		}
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, remaining)
		defer cancel()
	}

	started := a.clk.Now()
	result, err := handler.Execute(runCtx, data)
	elapsed := a.clk.Now().Sub(started)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !types.IsKind(err, types.ErrTimeout) {
			err = types.WrapError(types.ErrTimeout, "task ran past its deadline", err)
		}
		log.Warn("task failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		a.report(log, taskID, nil, err)
		return
	}
	log.Info("task completed", zap.Duration("elapsed", elapsed))
	a.report(log, taskID, result, nil)
}

// report relays the outcome to the manager. Rejections (task evacuated or
// expired while we worked) are logged, not escalated.
func (a *Agent) report(log *zap.Logger, taskID string, result map[string]interface{}, err error) {
	if err != nil {
		if ferr := a.mgr.FailTask(taskID, err.Error(), a.cfg.WorkerID); ferr != nil {
			log.Warn("failure report rejected", zap.Error(ferr))
		}
		return
	}
	if cerr := a.mgr.CompleteTask(taskID, result, a.cfg.WorkerID); cerr != nil {
		log.Warn("completion report rejected", zap.Error(cerr))
	}
}
