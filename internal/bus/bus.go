// Package bus implements the inter-worker message bus: per-recipient priority
// queues with FIFO ordering among equal priorities, broadcast fan-out, and a
// bounded history ring for introspection. Delivery is at-most-once and
// in-memory only; a restart discards all queues.
package bus

import (
	"container/heap"
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"patlas/internal/clock"
	"patlas/internal/logging"
	"patlas/internal/types"
)

// Config controls bus behavior.
type Config struct {
	// HistorySize bounds the introspection ring. 0 disables history.
	HistorySize int
	// QueueCapacity bounds each worker queue. 0 means unbounded.
	QueueCapacity int
	Logger        *zap.Logger
	Clock         clock.Clock
}

// DefaultConfig returns the standard bus configuration.
func DefaultConfig() Config {
	return Config{HistorySize: 500, QueueCapacity: 0}
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Sent      int64
	Delivered int64
	Dropped   int64
	Queued    map[string]int
}

// queued pairs a message with its global sequence number; the sequence
// preserves FIFO among equal priorities.
type queued struct {
	msg *types.Message
	seq int64
}

// msgHeap orders by priority descending, then sequence ascending.
type msgHeap []*queued

func (h msgHeap) Len() int { return len(h) }
func (h msgHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}
func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *msgHeap) Push(x interface{}) { *h = append(*h, x.(*queued)) }
func (h *msgHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// workerQueue is one recipient's mailbox. notify wakes at most one blocked
// receiver per send; receivers re-check the heap on every wake.
type workerQueue struct {
	heap   msgHeap
	notify chan struct{}
}

// Bus routes messages between registered workers.
type Bus struct {
	mu      sync.RWMutex
	cfg     Config
	logger  *zap.Logger
	clk     clock.Clock
	queues  map[string]*workerQueue
	subs    map[string]map[types.MessageType]bool
	history []*types.Message
	histPos int
	seq     int64

	sent      int64
	delivered int64
	dropped   int64
}

// New creates a Bus from cfg. A nil Logger logs nowhere; a nil Clock uses the
// system clock.
func New(cfg Config) *Bus {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	b := &Bus{
		cfg:    cfg,
		logger: logging.Named(cfg.Logger, "bus"),
		clk:    cfg.Clock,
		queues: make(map[string]*workerQueue),
		subs:   make(map[string]map[types.MessageType]bool),
	}
	if cfg.HistorySize > 0 {
		b.history = make([]*types.Message, 0, cfg.HistorySize)
	}
	return b
}

// Register creates a queue for workerID. Registering twice is a no-op.
func (b *Bus) Register(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[workerID]; ok {
		return
	}
	b.queues[workerID] = &workerQueue{notify: make(chan struct{}, 1)}
	b.logger.Debug("worker registered", zap.String("worker", workerID))
}

// Unregister removes workerID's queue, dropping any pending messages and
// waking blocked receivers with an unknown-worker error.
func (b *Bus) Unregister(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[workerID]
	if !ok {
		return
	}
	b.dropped += int64(len(q.heap))
	close(q.notify)
	delete(b.queues, workerID)
	delete(b.subs, workerID)
	b.logger.Debug("worker unregistered", zap.String("worker", workerID), zap.Int("dropped", len(q.heap)))
}

// Subscribe records workerID's interest in the given message types. Broadcast
// currently reaches every worker regardless; subscriptions feed typed fan-out
// and introspection.
func (b *Bus) Subscribe(workerID string, msgTypes ...types.MessageType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[workerID]
	if !ok {
		set = make(map[types.MessageType]bool)
		b.subs[workerID] = set
	}
	for _, mt := range msgTypes {
		set[mt] = true
	}
}

// Subscribers returns the workers that declared interest in msgType.
func (b *Bus) Subscribers(msgType types.MessageType) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for workerID, set := range b.subs {
		if set[msgType] {
			out = append(out, workerID)
		}
	}
	return out
}

// Send enqueues msg for its receiver, or fans a copy out to every registered
// worker except the sender when the receiver is the broadcast sentinel. The
// bus fills in ID and Timestamp when unset.
func (b *Bus) Send(msg *types.Message) error {
	if msg == nil {
		return types.NewError(types.ErrValidation, "bus: nil message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.clk.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.ReceiverID == types.BroadcastID {
		for workerID := range b.queues {
			if workerID == msg.SenderID {
				continue
			}
			cp := *msg
			cp.ReceiverID = workerID
			b.enqueueLocked(&cp)
		}
		return nil
	}

	if _, ok := b.queues[msg.ReceiverID]; !ok {
		return types.Errorf(types.ErrValidation, "bus: unknown receiver %q", msg.ReceiverID)
	}
	b.enqueueLocked(msg)
	return nil
}

// enqueueLocked pushes msg onto its receiver's heap. Caller holds b.mu.
func (b *Bus) enqueueLocked(msg *types.Message) {
	q, ok := b.queues[msg.ReceiverID]
	if !ok {
		b.dropped++
		return
	}
	if b.cfg.QueueCapacity > 0 && len(q.heap) >= b.cfg.QueueCapacity {
		b.dropped++
		b.logger.Warn("queue full, dropping message",
			zap.String("receiver", msg.ReceiverID),
			zap.String("type", string(msg.Type)))
		return
	}

	b.seq++
	heap.Push(&q.heap, &queued{msg: msg, seq: b.seq})
	b.sent++
	b.recordLocked(msg)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Receive pops the highest-priority, FIFO-oldest message for workerID,
// blocking until one arrives or ctx is done. The returned message is marked
// processed and removed from the queue.
func (b *Bus) Receive(ctx context.Context, workerID string) (*types.Message, error) {
	for {
		b.mu.Lock()
		q, ok := b.queues[workerID]
		if !ok {
			b.mu.Unlock()
			return nil, types.Errorf(types.ErrValidation, "bus: unknown worker %q", workerID)
		}
		if len(q.heap) > 0 {
			item := heap.Pop(&q.heap).(*queued)
			b.delivered++
			b.mu.Unlock()
			item.msg.Processed = true
			return item.msg, nil
		}
		notify := q.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

// TryReceive pops the next message for workerID without blocking.
func (b *Bus) TryReceive(workerID string) (*types.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[workerID]
	if !ok || len(q.heap) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.heap).(*queued)
	b.delivered++
	item.msg.Processed = true
	return item.msg, true
}

// Pending reports the queue depth for workerID.
func (b *Bus) Pending(workerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.queues[workerID]; ok {
		return len(q.heap)
	}
	return 0
}

// recordLocked appends msg to the history ring. Caller holds b.mu.
func (b *Bus) recordLocked(msg *types.Message) {
	if b.cfg.HistorySize <= 0 {
		return
	}
	cp := *msg
	if len(b.history) < b.cfg.HistorySize {
		b.history = append(b.history, &cp)
		return
	}
	b.history[b.histPos] = &cp
	b.histPos = (b.histPos + 1) % b.cfg.HistorySize
}

// History returns up to n of the most recent messages, oldest first.
func (b *Bus) History(n int) []*types.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := len(b.history)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]*types.Message, 0, n)
	// Ring order: histPos is the oldest entry once the ring has wrapped.
	start := 0
	if size == b.cfg.HistorySize {
		start = b.histPos
	}
	for i := size - n; i < size; i++ {
		idx := (start + i) % size
		cp := *b.history[idx]
		out = append(out, &cp)
	}
	return out
}

// Stats returns a snapshot of bus counters and queue depths.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Stats{
		Sent:      b.sent,
		Delivered: b.delivered,
		Dropped:   b.dropped,
		Queued:    make(map[string]int, len(b.queues)),
	}
	for workerID, q := range b.queues {
		s.Queued[workerID] = len(q.heap)
	}
	return s
}

// Workers lists the currently registered worker IDs.
func (b *Bus) Workers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.queues))
	for workerID := range b.queues {
		out = append(out, workerID)
	}
	return out
}
