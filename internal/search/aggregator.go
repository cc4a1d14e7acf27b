package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"patlas/internal/clock"
	"patlas/internal/logging"
	"patlas/internal/types"
)

// Config controls the aggregation pipeline.
type Config struct {
	// SourceTimeout bounds each source call.
	SourceTimeout time.Duration
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// RetryBackoff is the first retry delay; it doubles per retry.
	RetryBackoff time.Duration
	// PaceInterval is the minimum spacing between calls to one source.
	// Zero disables pacing.
	PaceInterval time.Duration
	// FailoverCap bounds failover records per failed source.
	FailoverCap int
	// EmergencyCap bounds emergency placeholder records.
	EmergencyCap int
	// DedupThreshold is the signature similarity above which two records
	// collapse into one.
	DedupThreshold float64
	// DiversityCap bounds the diversity pass output regardless of limit.
	DiversityCap int
	// BreakerMaxFailures consecutive failures open a source's breaker.
	BreakerMaxFailures int
	// BreakerCooldown is how long an open breaker stays open.
	BreakerCooldown time.Duration
	Logger          *zap.Logger
	Clock           clock.Clock
}

// DefaultConfig returns the standard aggregator configuration.
func DefaultConfig() Config {
	return Config{
		SourceTimeout:      30 * time.Second,
		RetryMax:           2,
		RetryBackoff:       time.Second,
		PaceInterval:       200 * time.Millisecond,
		FailoverCap:        5,
		EmergencyCap:       5,
		DedupThreshold:     0.8,
		DiversityCap:       20,
		BreakerMaxFailures: 3,
		BreakerCooldown:    30 * time.Second,
	}
}

// managedSource wraps a Source with its circuit breaker and pacing state.
type managedSource struct {
	src     Source
	breaker *gobreaker.CircuitBreaker

	paceMu   sync.Mutex
	nextSlot time.Time
}

// pace reserves the next call slot for this source and sleeps until it is
// due. The reservation happens under the pace lock; the sleep does not.
func (ms *managedSource) pace(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ms.paceMu.Lock()
	now := time.Now()
	slot := ms.nextSlot
	if slot.Before(now) {
		slot = now
	}
	ms.nextSlot = slot.Add(interval)
	ms.paceMu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		return sleep(ctx, wait)
	}
	return nil
}

// Aggregator fans a query out over healthy sources and refines the merged
// results into a ranked, diversity-adjusted list.
type Aggregator struct {
	mu      sync.RWMutex
	cfg     Config
	logger  *zap.Logger
	clk     clock.Clock
	scorer  *Scorer
	sources map[string]*managedSource
	order   []string
}

// New creates an Aggregator from cfg.
func New(cfg Config) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 30 * time.Second
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 0.8
	}
	if cfg.DiversityCap <= 0 {
		cfg.DiversityCap = 20
	}
	if cfg.EmergencyCap <= 0 {
		cfg.EmergencyCap = 5
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 3
	}
	return &Aggregator{
		cfg:     cfg,
		logger:  logging.Named(cfg.Logger, "search"),
		clk:     cfg.Clock,
		scorer:  NewScorer(cfg.Clock),
		sources: make(map[string]*managedSource),
	}
}

// AddSource registers a source under its own name. Sources are consulted in
// registration order when a query does not restrict them.
func (a *Aggregator) AddSource(src Source) {
	name := src.Name()
	maxFailures := uint32(a.cfg.BreakerMaxFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: a.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("source breaker state change",
				zap.String("source", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sources[name]; !ok {
		a.order = append(a.order, name)
	}
	a.sources[name] = &managedSource{src: src, breaker: breaker}
}

// Close closes every registered source.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, ms := range a.sources {
		if err := ms.src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resolveSources maps the query's source names onto managed sources,
// preserving the canonical order and skipping unknown names.
func (a *Aggregator) resolveSources(requested []string) []*managedSource {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := requested
	if len(names) == 0 {
		names = a.order
	}
	out := make([]*managedSource, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if ms, ok := a.sources[name]; ok {
			out = append(out, ms)
		}
	}
	return out
}

// sourceResult carries one source's outcome through the parallel fan-out.
type sourceResult struct {
	name    string
	records []Record
	err     error
}

// Search runs the full pipeline: health gate, parallel fan-out with retry and
// degraded search, failover for failed sources, then dedup, scoring, ranking
// and the diversity pass. It never fails outright on source trouble; with
// every source down it returns emergency placeholder records.
func (a *Aggregator) Search(ctx context.Context, q Query) ([]Record, []SourceReport, error) {
	if len(q.Keywords) == 0 {
		return nil, nil, types.NewError(types.ErrValidation, "search: at least one keyword required")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.SearchType == "" {
		q.SearchType = TypeGeneral
	}

	candidates := a.resolveSources(q.Sources)
	if len(candidates) == 0 {
		return nil, nil, types.NewError(types.ErrValidation, "search: no registered sources match the query")
	}

	// Stage 1: health gate.
	healthy, unhealthy := a.healthGate(ctx, candidates)
	reports := make(map[string]*SourceReport, len(candidates))
	for _, ms := range healthy {
		reports[ms.src.Name()] = &SourceReport{Source: ms.src.Name(), Healthy: true}
	}
	for _, ms := range unhealthy {
		reports[ms.src.Name()] = &SourceReport{Source: ms.src.Name(), Failed: true,
			Error: string(types.ErrSourceUnavailable)}
	}

	if len(healthy) == 0 {
		a.logger.Warn("all sources unhealthy, emergency fallback engaged",
			zap.Strings("keywords", q.Keywords))
		return a.emergencyFallback(q), flattenReports(reports), nil
	}

	// Stage 2: parallel search with retry and degraded fallback.
	results := make([]sourceResult, len(healthy))
	g, gctx := errgroup.WithContext(ctx)
	for i, ms := range healthy {
		i, ms := i, ms
		g.Go(func() error {
			started := time.Now()
			records, degraded, err := a.searchWithDegradation(gctx, ms, q)
			results[i] = sourceResult{name: ms.src.Name(), records: records, err: err}
			if rep := reports[ms.src.Name()]; rep != nil {
				rep.Elapsed = time.Since(started)
				rep.Records = len(records)
				rep.Degraded = degraded
				if err != nil {
					rep.Failed = true
					rep.Error = err.Error()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var merged []Record
	var failed []string
	for _, ms := range unhealthy {
		failed = append(failed, ms.src.Name())
	}
	for _, res := range results {
		if res.err != nil {
			a.logger.Warn("source search failed",
				zap.String("source", res.name), zap.Error(res.err))
			failed = append(failed, res.name)
			continue
		}
		merged = append(merged, res.records...)
	}

	// Stage 3: failover for failed sources.
	sort.Strings(failed)
	healthySet := make(map[string]*managedSource, len(healthy))
	for _, ms := range healthy {
		healthySet[ms.src.Name()] = ms
	}
	for _, name := range failed {
		recovered := a.failover(ctx, name, healthySet, merged, q)
		if len(recovered) > 0 {
			merged = append(merged, recovered...)
			if rep := reports[name]; rep != nil {
				rep.Records += len(recovered)
			}
		}
	}

	if len(merged) == 0 {
		a.logger.Warn("no source produced records, emergency fallback engaged",
			zap.Strings("keywords", q.Keywords))
		return a.emergencyFallback(q), flattenReports(reports), nil
	}

	// Stages 4-7: score, dedup, rank, diversity.
	for i := range merged {
		if merged[i].Source == SourceWeb {
			merged[i].Content = StripHTML(merged[i].Content)
		}
		a.scorer.Score(&merged[i], q.Keywords)
	}
	deduped := dedup(merged, a.cfg.DedupThreshold)
	rank(deduped)

	limit := q.Limit
	if limit > a.cfg.DiversityCap {
		limit = a.cfg.DiversityCap
	}
	final := diversify(deduped, limit)

	a.logger.Info("search complete",
		zap.Strings("keywords", q.Keywords),
		zap.Int("merged", len(merged)),
		zap.Int("deduped", len(deduped)),
		zap.Int("returned", len(final)))
	return final, flattenReports(reports), nil
}

// healthGate pings every candidate, treating an open breaker as unhealthy
// without a network call.
func (a *Aggregator) healthGate(ctx context.Context, candidates []*managedSource) (healthy, unhealthy []*managedSource) {
	type verdict struct {
		ms *managedSource
		ok bool
	}
	verdicts := make([]verdict, len(candidates))
	var wg sync.WaitGroup
	for i, ms := range candidates {
		if ms.breaker.State() == gobreaker.StateOpen {
			verdicts[i] = verdict{ms: ms, ok: false}
			continue
		}
		wg.Add(1)
		go func(i int, ms *managedSource) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
			defer cancel()
			verdicts[i] = verdict{ms: ms, ok: ms.src.Health(pingCtx)}
		}(i, ms)
	}
	wg.Wait()

	for _, v := range verdicts {
		if v.ok {
			healthy = append(healthy, v.ms)
		} else {
			unhealthy = append(unhealthy, v.ms)
		}
	}
	return healthy, unhealthy
}

// searchWithDegradation runs the retry loop and, on an empty result, retries
// once with a degraded query (half the keywords, half the limit).
func (a *Aggregator) searchWithDegradation(ctx context.Context, ms *managedSource, q Query) ([]Record, bool, error) {
	records, err := a.searchWithRetry(ctx, ms, q.Keywords, q.SearchType, q.Limit)
	if err != nil {
		return nil, false, err
	}
	if len(records) > 0 {
		return records, false, nil
	}

	keywords, limit := degradedQuery(q.Keywords, q.Limit)
	a.logger.Debug("degraded search",
		zap.String("source", ms.src.Name()),
		zap.Strings("keywords", keywords),
		zap.Int("limit", limit))
	records, err = a.searchWithRetry(ctx, ms, keywords, q.SearchType, limit)
	if err != nil {
		return nil, false, err
	}
	for i := range records {
		records[i].IsDegraded = true
	}
	return records, true, nil
}

// searchWithRetry calls one source through its breaker with pacing, timeout
// and exponential backoff. An open breaker aborts the retry loop immediately.
func (a *Aggregator) searchWithRetry(ctx context.Context, ms *managedSource, keywords []string, st SearchType, limit int) ([]Record, error) {
	backoff := a.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= a.cfg.RetryMax; attempt++ {
		if attempt > 0 && backoff > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
		if err := ms.pace(ctx, a.cfg.PaceInterval); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
		res, err := ms.breaker.Execute(func() (interface{}, error) {
			return ms.src.Search(callCtx, keywords, st, limit)
		})
		cancel()
		if err == nil {
			return res.([]Record), nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// failover reroutes a failed source's budget down its chain: the first
// healthy chain member is searched once, and records not already collected
// are tagged and capped.
func (a *Aggregator) failover(ctx context.Context, failedName string, healthy map[string]*managedSource, collected []Record, q Query) []Record {
	chain := failoverChains[failedName]
	if len(chain) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(collected))
	for i := range collected {
		seen[collected[i].URL] = true
	}

	for _, name := range chain {
		ms, ok := healthy[name]
		if !ok {
			continue
		}
		records, err := a.searchWithRetry(ctx, ms, q.Keywords, q.SearchType, a.cfg.FailoverCap*2)
		if err != nil {
			a.logger.Debug("failover attempt failed",
				zap.String("for", failedName), zap.String("via", name), zap.Error(err))
			continue
		}

		out := make([]Record, 0, a.cfg.FailoverCap)
		for _, rec := range records {
			if len(out) >= a.cfg.FailoverCap {
				break
			}
			if seen[rec.URL] {
				continue
			}
			rec.IsFailover = true
			rec.setMeta("failover_for", failedName)
			out = append(out, rec)
		}
		if len(out) > 0 {
			a.logger.Info("failover recovered records",
				zap.String("for", failedName),
				zap.String("via", name),
				zap.Int("records", len(out)))
			return out
		}
	}
	return nil
}

// emergencyFallback fabricates low-quality placeholder records so callers
// always receive something actionable when every source is down.
func (a *Aggregator) emergencyFallback(q Query) []Record {
	n := a.cfg.EmergencyCap
	if q.Limit < n {
		n = q.Limit
	}
	topic := strings.Join(q.Keywords, " ")
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		rec := Record{
			Title:               fmt.Sprintf("%s 相关基础资料 %d", topic, i+1),
			URL:                 fmt.Sprintf("internal://emergency/%d", i+1),
			Content:             "搜索服务暂时不可用，本条目为应急占位结果，建议稍后重试以获取实时数据。",
			Source:              SourceEmergency,
			SearchType:          q.SearchType,
			IsEmergencyFallback: true,
		}
		a.scorer.Score(&rec, q.Keywords)
		out = append(out, rec)
	}
	return out
}

// degradedQuery halves the keyword list and the limit, keeping at least one
// of each.
func degradedQuery(keywords []string, limit int) ([]string, int) {
	kw := keywords
	if len(kw) > 1 {
		kw = kw[:(len(kw)+1)/2]
	}
	dl := limit / 2
	if dl < 1 {
		dl = 1
	}
	return kw, dl
}

// flattenReports orders source reports by name for stable output.
func flattenReports(reports map[string]*SourceReport) []SourceReport {
	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]SourceReport, 0, len(names))
	for _, name := range names {
		out = append(out, *reports[name])
	}
	return out
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
