package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"patlas/internal/types"
)

// Source is a pluggable search backend. Implementations live outside the
// core (browser scrapers, patent-office clients); the aggregator depends only
// on this interface. Search must honor ctx cancellation.
type Source interface {
	Name() string
	Search(ctx context.Context, keywords []string, searchType SearchType, limit int) ([]Record, error)
	Health(ctx context.Context) bool
	Close() error
}

// failoverChains routes a failed source's budget to its next preferences, in
// order.
var failoverChains = map[string][]string{
	SourceCNKI:  {SourceBocha, SourceWeb},
	SourceBocha: {SourceCNKI, SourceWeb},
	SourceWeb:   {SourceBocha, SourceCNKI},
}

// authorityTable maps a source name to its base authority score.
var authorityTable = map[string]float64{
	SourceCNKI:  0.9,
	SourceBocha: 0.7,
	SourceWeb:   0.5,
}

// baseAuthority returns the table entry for a source, defaulting to 0.3 for
// unknown sources.
func baseAuthority(source string) float64 {
	if a, ok := authorityTable[source]; ok {
		return a
	}
	return 0.3
}

// =============================================================================
// STATIC SOURCE
// =============================================================================

// StaticSource is a deterministic in-memory Source for tests and offline
// runs: a fixed corpus filtered by keyword, with optional latency, failure
// injection and a health switch.
type StaticSource struct {
	mu          sync.Mutex
	name        string
	corpus      []Record
	healthy     bool
	failNext    int
	latency     time.Duration
	closed      bool
	searchCalls int
}

// NewStaticSource creates a healthy static source over the given corpus.
func NewStaticSource(name string, corpus []Record) *StaticSource {
	return &StaticSource{name: name, corpus: corpus, healthy: true}
}

// Name returns the source name.
func (s *StaticSource) Name() string { return s.name }

// SetHealthy flips the health switch.
func (s *StaticSource) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// FailNext makes the next n Search calls fail with a network error.
func (s *StaticSource) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// SetLatency adds an artificial delay to every Search call.
func (s *StaticSource) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SearchCalls reports how many Search calls the source has served.
func (s *StaticSource) SearchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchCalls
}

// Search filters the corpus conjunctively: a record matches when every
// keyword occurs in its title or content, so fewer keywords widen the result
// set. With no keywords the corpus head is returned. Matching is
// case-insensitive.
func (s *StaticSource) Search(ctx context.Context, keywords []string, searchType SearchType, limit int) ([]Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, types.Errorf(types.ErrSourceUnavailable, "source %s is closed", s.name)
	}
	s.searchCalls++
	latency := s.latency
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return nil, types.Errorf(types.ErrNetwork, "source %s: injected failure", s.name)
	}
	corpus := s.corpus
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, types.WrapError(types.ErrTimeout, "source "+s.name, ctx.Err())
		case <-time.After(latency):
		}
	}

	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}

	out := make([]Record, 0, limit)
	for _, rec := range corpus {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !matchesAll(&rec, lowered) {
			continue
		}
		cp := rec
		cp.Source = s.name
		cp.SearchType = searchType
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// matchesAll reports whether every keyword occurs in the record's title or
// content. No keywords means everything matches.
func matchesAll(rec *Record, loweredKeywords []string) bool {
	title := strings.ToLower(rec.Title)
	content := strings.ToLower(rec.Content)
	for _, kw := range loweredKeywords {
		if kw == "" {
			continue
		}
		if !strings.Contains(title, kw) && !strings.Contains(content, kw) {
			return false
		}
	}
	return true
}

// Health reports the health switch.
func (s *StaticSource) Health(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

// Close marks the source unusable.
func (s *StaticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
