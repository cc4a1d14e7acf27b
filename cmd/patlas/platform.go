package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"patlas/internal/agents"
	"patlas/internal/analysis"
	"patlas/internal/balance"
	"patlas/internal/bus"
	"patlas/internal/collab"
	"patlas/internal/config"
	"patlas/internal/driver"
	"patlas/internal/monitoring"
	"patlas/internal/quality"
	"patlas/internal/registry"
	"patlas/internal/report"
	"patlas/internal/search"
	"patlas/internal/types"
)

// platform is one in-process deployment: shared infrastructure, the worker
// team and the driver, wired from configuration. The demo build registers
// static search sources so every run works offline.
type platform struct {
	bus      *bus.Bus
	registry *registry.Registry
	balancer *balance.Balancer
	manager  *collab.Manager
	monitor  *quality.WorkflowMonitor
	driver   *driver.Driver
	agents   []*agents.Agent

	journal *registry.Journal
	store   *quality.SQLVersionStore
	metrics *http.Server

	cancel context.CancelFunc
	group  *errgroup.Group
	logger *zap.Logger
}

// buildPlatform wires every component from cfg. The fallible pieces (journal,
// version store, report layout) come first so error paths have little to
// unwind.
func buildPlatform(cfg *config.Config, logger *zap.Logger) (*platform, error) {
	p := &platform{logger: logger}

	if path := cfg.Registry.JournalPath; path != "" {
		journal, err := registry.OpenJournal(path, logger)
		if err != nil {
			return nil, err
		}
		p.journal = journal
	}

	var store quality.VersionStore
	if path := cfg.Quality.VersionsDBPath; path != "" {
		s, err := quality.NewSQLVersionStore(path, logger)
		if err != nil {
			_ = p.journal.Close()
			return nil, err
		}
		p.store = s
		store = s
	}

	pipeline, err := report.NewPipeline(report.Config{
		OutputDir:      cfg.Report.OutputDir,
		MaxVersions:    cfg.Report.MaxVersions,
		DefaultFormats: cfg.Report.DefaultFormats,
		Logger:         logger,
	})
	if err != nil {
		if p.store != nil {
			_ = p.store.Close()
		}
		_ = p.journal.Close()
		return nil, err
	}

	p.bus = bus.New(bus.Config{
		HistorySize:   cfg.Bus.HistorySize,
		QueueCapacity: cfg.Bus.QueueCapacity,
		Logger:        logger,
	})
	p.registry = registry.New(registry.Config{Logger: logger, Journal: p.journal})
	p.balancer = balance.New(balance.Config{
		PerformanceWindow: cfg.Balancer.PerformanceWindow,
		DefaultCapacity:   cfg.Balancer.DefaultCapacity,
		Logger:            logger,
	})

	sink := monitoring.Sink(monitoring.Noop{})
	if metricsAddr != "" {
		prom := monitoring.NewPrometheus()
		sink = prom
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		p.metrics = &http.Server{Addr: metricsAddr, Handler: mux}
	}
	p.monitor = quality.NewWorkflowMonitor(quality.MonitorConfig{
		PassThreshold: cfg.Quality.WorkflowPassThreshold,
		AlertCapacity: cfg.Quality.AlertCapacity,
		Sink:          sink,
		Logger:        logger,
	})

	deadlines := make(map[string]time.Duration, len(cfg.Collab.Deadlines))
	for taskType := range cfg.Collab.Deadlines {
		deadlines[taskType] = cfg.DeadlineFor(taskType)
	}
	p.manager = collab.New(collab.Config{
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		SweepInterval:    cfg.SweepInterval(),
		MaxRetries:       cfg.Collab.MaxRetries,
		Deadlines:        deadlines,
		DefaultDeadline:  cfg.DefaultDeadline(),
		Logger:           logger,
		Hook:             p.monitor,
	}, p.bus, p.registry, p.balancer)

	agg := search.New(search.Config{
		SourceTimeout:      cfg.SourceTimeout(),
		RetryMax:           cfg.Search.RetryMax,
		RetryBackoff:       cfg.RetryBackoff(),
		PaceInterval:       cfg.PaceInterval(),
		FailoverCap:        cfg.Search.FailoverCap,
		EmergencyCap:       cfg.Search.EmergencyCap,
		DedupThreshold:     cfg.Search.DedupThreshold,
		DiversityCap:       cfg.Search.DiversityCap,
		BreakerMaxFailures: cfg.Search.BreakerMaxFailures,
		BreakerCooldown:    cfg.BreakerCooldown(),
		Logger:             logger,
	})
	for name, corpus := range demoSources() {
		agg.AddSource(search.NewStaticSource(name, corpus))
	}

	engine := analysis.NewEngine(cfg.Analysis, logger, nil)
	validator := quality.NewAnalysisValidator(quality.ValidatorConfig{
		PassThreshold: cfg.Quality.PassThreshold,
		CacheTTL:      cfg.CacheTTL(),
		CacheCapacity: cfg.Quality.CacheCapacity,
		RetentionDays: cfg.Quality.VersionRetentionDays,
		Store:         store,
		Logger:        logger,
	})

	// Capacity 4 on the analyst covers deep-depth runs, which assign the
	// analysis task twice.
	p.agents = []*agents.Agent{
		agents.New(agents.Config{WorkerID: "searcher", WorkerType: "searcher", Capacity: 4, Logger: logger},
			p.manager, p.bus,
			agents.NewSearchHandler(agg, logger),
			agents.NewCollectHandler(0, logger)),
		agents.New(agents.Config{WorkerID: "analyst", WorkerType: "analyst", Capacity: 4, Logger: logger},
			p.manager, p.bus,
			agents.NewAnalysisHandler(engine, validator, logger)),
		agents.New(agents.Config{WorkerID: "reporter", WorkerType: "reporter", Capacity: 2, Logger: logger},
			p.manager, p.bus,
			agents.NewReportHandler(pipeline, logger)),
	}

	p.driver = driver.New(driver.Config{
		Formats: cfg.Report.DefaultFormats,
		Logger:  logger,
	}, p.manager, p.bus, p.monitor)

	return p, nil
}

// start launches the manager sweep, the worker agents and, when requested,
// the metrics endpoint.
func (p *platform) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	p.group = g
	g.Go(func() error {
		p.manager.Run(gctx)
		return nil
	})
	for _, a := range p.agents {
		a := a
		g.Go(func() error { return a.Run(gctx) })
	}

	if p.metrics != nil {
		// Outside the group: a busy port must not tear the workers down.
		go func() {
			p.logger.Info("metrics endpoint up", zap.String("addr", p.metrics.Addr))
			if err := p.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
	}
}

// waitForWorkers blocks until every agent is registered and online.
func (p *platform) waitForWorkers(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		online := 0
		for _, w := range p.manager.Workers() {
			if w.Status == types.WorkerOnline {
				online++
			}
		}
		if online >= len(p.agents) {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("only %d of %d workers came online: %w", online, len(p.agents), waitCtx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// close stops the workers and releases every owned resource.
func (p *platform) close() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		if err := p.group.Wait(); err != nil {
			p.logger.Warn("worker shutdown reported an error", zap.Error(err))
		}
	}
	if p.driver != nil {
		p.driver.Close()
	}
	if p.metrics != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = p.metrics.Shutdown(shutCtx)
		cancel()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
	_ = p.journal.Close()
}
