// Package balance implements specialty-aware worker selection with per-worker
// load accounting and a rolling performance window. Scores favor idle workers
// and reward a history of fast, successful completions.
package balance

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"patlas/internal/logging"
	"patlas/internal/types"
)

// Config controls balancer behavior.
type Config struct {
	// PerformanceWindow bounds the per-worker sample ring.
	PerformanceWindow int
	// DefaultCapacity applies to workers registered without one.
	DefaultCapacity int
	Logger          *zap.Logger
}

// DefaultConfig returns the standard balancer configuration.
func DefaultConfig() Config {
	return Config{PerformanceWindow: 100, DefaultCapacity: 5}
}

// WorkerLoad is a point-in-time view of one worker's balancer state.
type WorkerLoad struct {
	WorkerID        string
	Capacity        int
	Load            int
	LoadRatio       float64
	MeanPerformance float64
	Samples         int
}

// workerState holds the mutable balancer state for one worker. samples is a
// ring: once full, next wraps and overwrites the oldest entry.
type workerState struct {
	capacity int
	load     int
	samples  []float64
	next     int
	full     bool
}

func (s *workerState) appendSample(v float64, window int) {
	if len(s.samples) < window {
		s.samples = append(s.samples, v)
		return
	}
	s.samples[s.next] = v
	s.next = (s.next + 1) % window
	s.full = true
}

func (s *workerState) meanPerformance() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range s.samples {
		sum += v
	}
	return sum / float64(len(s.samples))
}

// Balancer tracks load and performance per worker and selects assignees.
type Balancer struct {
	mu      sync.RWMutex
	cfg     Config
	logger  *zap.Logger
	workers map[string]*workerState
}

// New creates a Balancer from cfg.
func New(cfg Config) *Balancer {
	if cfg.PerformanceWindow < 1 {
		cfg.PerformanceWindow = 100
	}
	if cfg.DefaultCapacity < 1 {
		cfg.DefaultCapacity = 5
	}
	return &Balancer{
		cfg:     cfg,
		logger:  logging.Named(cfg.Logger, "balance"),
		workers: make(map[string]*workerState),
	}
}

// Track registers rec with the balancer, creating or updating its capacity.
// Load and samples survive capacity updates.
func (b *Balancer) Track(rec *types.WorkerRecord) {
	capacity := rec.Capacity
	if capacity < 1 {
		capacity = b.cfg.DefaultCapacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.workers[rec.WorkerID]; ok {
		st.capacity = capacity
		return
	}
	b.workers[rec.WorkerID] = &workerState{capacity: capacity}
}

// Remove forgets a worker entirely.
func (b *Balancer) Remove(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.workers, workerID)
}

// SelectWorker picks the best assignee for taskType among candidates.
// Specialty filter first (generalists always qualify; no specialist matches
// means everyone qualifies), then lowest load_ratio minus performance bonus.
// Ties break on lexicographic worker ID. Returns false when every candidate
// is at capacity or the list is empty.
func (b *Balancer) SelectWorker(taskType string, candidates []*types.WorkerRecord) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	matched := make([]*types.WorkerRecord, 0, len(candidates))
	for _, rec := range candidates {
		if rec.HasSpecialty(taskType) {
			matched = append(matched, rec)
		}
	}
	if len(matched) == 0 {
		matched = candidates
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].WorkerID < matched[j].WorkerID })

	b.mu.Lock()
	defer b.mu.Unlock()

	bestID := ""
	bestScore := 0.0
	for _, rec := range matched {
		st := b.stateLocked(rec)
		if st.load >= st.capacity {
			continue
		}
		loadRatio := float64(st.load) / float64(st.capacity)
		bonus := st.meanPerformance() * 0.1
		score := loadRatio - bonus
		if bestID == "" || score < bestScore {
			bestID = rec.WorkerID
			bestScore = score
		}
	}
	if bestID == "" {
		return "", false
	}
	return bestID, true
}

// stateLocked returns the state for rec, creating it on first sight. Caller
// holds b.mu.
func (b *Balancer) stateLocked(rec *types.WorkerRecord) *workerState {
	if st, ok := b.workers[rec.WorkerID]; ok {
		return st
	}
	capacity := rec.Capacity
	if capacity < 1 {
		capacity = b.cfg.DefaultCapacity
	}
	st := &workerState{capacity: capacity}
	b.workers[rec.WorkerID] = st
	return st
}

// AddLoad increments workerID's load by one, clamped at capacity.
func (b *Balancer) AddLoad(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.workers[workerID]
	if !ok {
		return
	}
	if st.load >= st.capacity {
		b.logger.Warn("load increment beyond capacity ignored",
			zap.String("worker", workerID), zap.Int("capacity", st.capacity))
		return
	}
	st.load++
}

// ReleaseLoad decrements workerID's load by one, floored at zero. Used when a
// task leaves a worker without completing (reassignment, worker loss).
func (b *Balancer) ReleaseLoad(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.workers[workerID]; ok && st.load > 0 {
		st.load--
	}
}

// RecordCompletion folds one finished task into the worker's state: the load
// drops and a performance sample in [0,1] joins the ring. Fast successful
// tasks score 1.0; the score decays once execution exceeds 30 seconds;
// failures score 0 regardless of speed.
func (b *Balancer) RecordCompletion(workerID string, execTime time.Duration, success bool) {
	secs := execTime.Seconds()
	if secs < 1e-9 {
		secs = 1e-9
	}
	speed := 30.0 / secs
	if speed > 1.0 {
		speed = 1.0
	}
	sample := 0.0
	if success {
		sample = speed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.workers[workerID]
	if !ok {
		return
	}
	if st.load > 0 {
		st.load--
	}
	st.appendSample(sample, b.cfg.PerformanceWindow)
}

// LoadOf reports the current load for workerID.
func (b *Balancer) LoadOf(workerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.workers[workerID]; ok {
		return st.load
	}
	return 0
}

// MeanPerformance reports the average sample for workerID (0 when empty).
func (b *Balancer) MeanPerformance(workerID string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.workers[workerID]; ok {
		return st.meanPerformance()
	}
	return 0
}

// Snapshot returns the balancer view of every tracked worker.
func (b *Balancer) Snapshot() map[string]WorkerLoad {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]WorkerLoad, len(b.workers))
	for workerID, st := range b.workers {
		out[workerID] = WorkerLoad{
			WorkerID:        workerID,
			Capacity:        st.capacity,
			Load:            st.load,
			LoadRatio:       float64(st.load) / float64(st.capacity),
			MeanPerformance: st.meanPerformance(),
			Samples:         len(st.samples),
		}
	}
	return out
}
