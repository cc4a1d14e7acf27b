package analysis

import (
	"context"

	"go.uber.org/zap"

	"patlas/internal/clock"
	"patlas/internal/config"
	"patlas/internal/logging"
	"patlas/internal/types"
)

// Engine runs the analyzers over one record set and assembles the bundle.
// Individual analyzer failures degrade the bundle instead of failing the run;
// only a fully empty bundle is an error.
type Engine struct {
	trend       *TrendAnalyzer
	competition *CompetitionAnalyzer
	technology  *TechnologyAnalyzer
	clk         clock.Clock
	logger      *zap.Logger
}

// NewEngine builds an Engine from the analysis configuration section.
func NewEngine(cfg config.AnalysisConfig, logger *zap.Logger, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{
		trend: NewTrendAnalyzer(TrendConfig{
			MinDataPoints:    cfg.MinDataPoints,
			MinSpanDays:      cfg.MinSpanDays,
			MinDistinctYears: cfg.MinDistinctYears,
			MAWindow:         cfg.MAWindow,
			PredictionYears:  cfg.PredictionYears,
			SmoothingAlpha:   cfg.SmoothingAlpha,
			Logger:           logger,
		}),
		competition: NewCompetitionAnalyzer(CompetitionConfig{Logger: logger}),
		technology:  NewTechnologyAnalyzer(TechnologyConfig{Logger: logger}),
		clk:         clk,
		logger:      logging.Named(logger, "analysis"),
	}
}

// Run executes the requested analysis kinds (all four when kinds is empty)
// and returns the bundle. ctx is consulted between modules so a cancelled
// analysis task stops early.
func (e *Engine) Run(ctx context.Context, records []types.PatentRecord, kinds ...types.AnalysisKind) (*types.AnalysisBundle, error) {
	if len(kinds) == 0 {
		kinds = []types.AnalysisKind{
			types.AnalysisTrend,
			types.AnalysisCompetition,
			types.AnalysisTechnology,
			types.AnalysisGeographic,
		}
	}

	bundle := &types.AnalysisBundle{
		PatentCount: len(records),
		GeneratedAt: e.clk.Now(),
	}
	var firstErr error
	note := func(kind types.AnalysisKind, err error) {
		e.logger.Warn("analysis module failed",
			zap.String("kind", string(kind)), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return nil, types.WrapError(types.ErrTimeout, "analysis interrupted", err)
		}
		switch kind {
		case types.AnalysisTrend:
			res, err := e.trend.Analyze(records)
			if err != nil {
				note(kind, err)
				continue
			}
			bundle.Trend = res
		case types.AnalysisCompetition:
			res, err := e.competition.Analyze(records)
			if err != nil {
				note(kind, err)
				continue
			}
			bundle.Competition = res
		case types.AnalysisTechnology:
			res, err := e.technology.Analyze(records)
			if err != nil {
				note(kind, err)
				continue
			}
			bundle.Technology = res
		case types.AnalysisGeographic:
			res, err := AnalyzeGeographic(records)
			if err != nil {
				note(kind, err)
				continue
			}
			bundle.Geographic = res
		}
	}

	if len(bundle.Modules()) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, types.NewError(types.ErrInsufficientData, "analysis: no module produced a result")
	}
	return bundle, nil
}
