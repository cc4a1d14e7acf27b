// Package driver turns a typed analysis request into a finished report by
// running the search, collection, analysis and report stages as tasks over
// the collaboration manager. Stage failures degrade the response rather than
// abort the caller; only input validation is fatal.
package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"patlas/internal/bus"
	"patlas/internal/clock"
	"patlas/internal/collab"
	"patlas/internal/logging"
	"patlas/internal/quality"
	"patlas/internal/report"
	"patlas/internal/search"
	"patlas/internal/types"
)

// DefaultID is the driver's bus identity.
const DefaultID = "driver"

// stagePriority is the base priority for driver tasks; manager-side retries
// boost it per attempt.
const stagePriority = 5

// Config tunes a Driver.
type Config struct {
	// ID is the bus identity results are addressed to.
	ID string
	// ResultTimeout bounds the wait for one stage's task results, retries
	// included.
	ResultTimeout time.Duration
	// Formats is the report format set used when a request names none.
	Formats []string
	// Logger may be nil.
	Logger *zap.Logger
	// Clock may be nil, selecting the system clock.
	Clock clock.Clock
}

// DefaultConfig returns the standard driver configuration.
func DefaultConfig() Config {
	return Config{
		ID:            DefaultID,
		ResultTimeout: 2 * time.Minute,
		Formats:       []string{report.FormatHTML, report.FormatJSON},
	}
}

// Response carries everything a workflow produced, including the partial
// output of stages that ran before a failure.
type Response struct {
	WorkflowID  string
	Request     Request
	Records     []search.Record
	Patents     []types.PatentRecord
	Analysis    *types.AnalysisBundle
	Quality     *types.QualityReport
	Consistency *types.QualityReport
	Report      *ReportInfo
	Degraded    bool
	Notes       []string
	Elapsed     time.Duration
}

// ReportInfo summarizes the generated report version.
type ReportInfo struct {
	ReportID string
	Version  int
	Title    string
	Files    map[string]string
	Charts   int
}

// Driver owns one bus inbox and runs workflows over it.
type Driver struct {
	mu      sync.Mutex
	cfg     Config
	logger  *zap.Logger
	clk     clock.Clock
	mgr     *collab.Manager
	bus     *bus.Bus
	monitor *quality.WorkflowMonitor
}

// New builds a driver and registers its inbox on the bus; Close releases it.
// The monitor may be nil, disabling input validation and consistency checks.
func New(cfg Config, mgr *collab.Manager, b *bus.Bus, monitor *quality.WorkflowMonitor) *Driver {
	def := DefaultConfig()
	if cfg.ID == "" {
		cfg.ID = def.ID
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = def.ResultTimeout
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = def.Formats
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	d := &Driver{
		cfg:     cfg,
		logger:  logging.Named(cfg.Logger, "driver"),
		clk:     cfg.Clock,
		mgr:     mgr,
		bus:     b,
		monitor: monitor,
	}
	b.Register(cfg.ID)
	return d
}

// Close unregisters the driver's inbox.
func (d *Driver) Close() {
	d.bus.Unregister(d.cfg.ID)
}

// Execute runs the full workflow for req. The response is always non-nil
// once the request validates: when the search, collection or analysis stage
// fails, Execute returns the partial response together with the error; a
// report-stage failure only degrades the response. Executions serialize on
// the driver's single inbox.
func (d *Driver) Execute(ctx context.Context, req Request) (*Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	started := d.clk.Now()
	resp := &Response{
		WorkflowID: uuid.NewString(),
		Request:    req,
	}
	log := d.logger.With(zap.String("workflow", resp.WorkflowID))
	log.Info("workflow started",
		zap.Strings("keywords", req.Keywords),
		zap.String("depth", req.Depth))

	if err := d.runSearch(ctx, resp, log); err != nil {
		return d.abort(resp, log, started, types.TaskTypeSearch, err)
	}
	if err := d.runCollect(ctx, resp, log); err != nil {
		return d.abort(resp, log, started, types.TaskTypeCollect, err)
	}
	if err := d.runAnalysis(ctx, resp, log); err != nil {
		return d.abort(resp, log, started, types.TaskTypeAnalysis, err)
	}
	d.runReport(ctx, resp, log)

	resp.Elapsed = d.clk.Now().Sub(started)
	log.Info("workflow complete",
		zap.Bool("degraded", resp.Degraded),
		zap.Duration("elapsed", resp.Elapsed))
	return resp, nil
}

// =============================================================================
// STAGES
// =============================================================================

func (d *Driver) runSearch(ctx context.Context, resp *Response, log *zap.Logger) error {
	payload := map[string]interface{}{"keywords": resp.Request.Keywords}
	if resp.Request.SearchType != "" {
		payload["search_type"] = resp.Request.SearchType
	}
	if resp.Request.Limit > 0 {
		payload["limit"] = resp.Request.Limit
	}
	if resp.Request.TimeRange != "" {
		payload["time_range"] = resp.Request.TimeRange
	}

	result, err := d.runTask(ctx, resp, types.TaskTypeSearch, payload)
	if err != nil {
		return err
	}
	if recs, ok := result["records"].([]search.Record); ok {
		resp.Records = recs
	}
	if degraded, _ := result["degraded"].(bool); degraded {
		d.degrade(resp, log, "search ran degraded; results may be incomplete")
	}
	if len(resp.Records) == 0 {
		return types.NewError(types.ErrInsufficientData, "search produced no records")
	}
	return nil
}

func (d *Driver) runCollect(ctx context.Context, resp *Response, log *zap.Logger) error {
	result, err := d.runTask(ctx, resp, types.TaskTypeCollect,
		map[string]interface{}{"records": resp.Records})
	if err != nil {
		return err
	}
	if patents, ok := result["patents"].([]types.PatentRecord); ok {
		resp.Patents = patents
	}
	if dropped, ok := result["dropped"].(int); ok && dropped > 0 {
		resp.Notes = append(resp.Notes,
			fmt.Sprintf("%d search records dropped during normalization", dropped))
	}
	if len(resp.Patents) == 0 {
		return types.NewError(types.ErrInsufficientData, "no patents survived collection")
	}
	return nil
}

func (d *Driver) runAnalysis(ctx context.Context, resp *Response, log *zap.Logger) error {
	kinds := resp.Request.AnalysisKinds()
	kindStrings := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrings[i] = string(k)
	}
	payload := map[string]interface{}{
		"patents":   resp.Patents,
		"kinds":     kindStrings,
		"series_id": resp.Request.SeriesID(),
	}

	passes := 1
	if resp.Request.Depth == DepthDeep {
		passes = 2
	}
	results, err := d.runTasks(ctx, resp, types.TaskTypeAnalysis, payload, passes)
	if err != nil {
		return err
	}

	first := results[0]
	if bundle, ok := first["analysis"].(*types.AnalysisBundle); ok {
		resp.Analysis = bundle
	}
	if resp.Analysis == nil {
		return types.NewError(types.ErrInsufficientData, "analysis returned no bundle")
	}
	if verdict, ok := first["quality"].(*types.QualityReport); ok {
		resp.Quality = verdict
		if d.monitor != nil {
			d.monitor.RecordCheck(resp.WorkflowID, "analysis_quality", verdict.OverallQuality)
		}
		if !verdict.Passed {
			d.degrade(resp, log, fmt.Sprintf(
				"analysis quality %.2f below gate (grade %s)",
				verdict.OverallQuality, verdict.Grade))
		}
	}

	if passes == 2 {
		d.checkConsistency(resp, log, results)
	}
	return nil
}

// checkConsistency cross-checks the deep-depth analysis passes. A lost
// second pass skips the check; disagreement degrades the response.
func (d *Driver) checkConsistency(resp *Response, log *zap.Logger, results []map[string]interface{}) {
	if len(results) < 2 {
		d.degrade(resp, log, "deep analysis ran a single pass; consistency unchecked")
		return
	}
	if d.monitor == nil {
		return
	}
	summaries := make([]map[string]interface{}, 0, len(results))
	for _, res := range results {
		if bundle, ok := res["analysis"].(*types.AnalysisBundle); ok {
			summaries = append(summaries, analysisSummary(bundle))
		}
	}
	if len(summaries) < 2 {
		d.degrade(resp, log, "deep analysis ran a single pass; consistency unchecked")
		return
	}
	resp.Consistency = d.monitor.CheckConsistency(resp.WorkflowID, types.TaskTypeAnalysis, summaries)
	if !resp.Consistency.Passed {
		d.degrade(resp, log, fmt.Sprintf(
			"analysis passes disagree (consistency %.2f)", resp.Consistency.OverallQuality))
	}
}

// runReport generates the report. Failures here degrade the response instead
// of erroring: the analysis already succeeded and remains useful.
func (d *Driver) runReport(ctx context.Context, resp *Response, log *zap.Logger) {
	formats := resp.Request.Formats
	if len(formats) == 0 {
		formats = d.cfg.Formats
	}
	payload := map[string]interface{}{
		"analysis": resp.Analysis,
		"title":    reportTitle(resp.Request),
		"formats":  formats,
		"parameters": map[string]interface{}{
			"workflow_id": resp.WorkflowID,
			"keywords":    resp.Request.Keywords,
			"depth":       resp.Request.Depth,
			"time_range":  resp.Request.TimeRange,
		},
	}

	result, err := d.runTask(ctx, resp, types.TaskTypeReport, payload)
	if err != nil {
		d.degrade(resp, log, fmt.Sprintf("report generation failed: %v", err))
		return
	}

	info := &ReportInfo{
		ReportID: stringAt(result, "report_id"),
		Title:    stringAt(result, "title"),
	}
	if v, ok := result["version"].(int); ok {
		info.Version = v
	}
	if files, ok := result["files"].(map[string]string); ok {
		info.Files = files
	}
	if charts, ok := result["charts"].(int); ok {
		info.Charts = charts
	}
	resp.Report = info
}

// =============================================================================
// TASK PLUMBING
// =============================================================================

// runTask assigns one task and waits for its terminal result.
func (d *Driver) runTask(ctx context.Context, resp *Response, taskType string, payload map[string]interface{}) (map[string]interface{}, error) {
	results, err := d.runTasks(ctx, resp, taskType, payload, 1)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// runTasks assigns up to n copies of a task and waits for all of them. At
// least one assignment and one successful result is required; extra copies
// are best-effort.
func (d *Driver) runTasks(ctx context.Context, resp *Response, taskType string, payload map[string]interface{}, n int) ([]map[string]interface{}, error) {
	if d.monitor != nil {
		if err := d.monitor.ValidateInput(taskType, payload); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		task, err := d.mgr.AssignTask(collab.TaskSpec{
			TaskType:  taskType,
			TaskData:  payload,
			Priority:  stagePriority,
			Requester: d.cfg.ID,
		})
		if err != nil {
			if i == 0 {
				return nil, err
			}
			d.logger.Warn("extra task assignment failed",
				zap.String("type", taskType), zap.Error(err))
			break
		}
		if task == nil {
			if i == 0 {
				return nil, types.Errorf(types.ErrWorkerLost,
					"no worker available for %s tasks", taskType)
			}
			break
		}
		ids = append(ids, task.TaskID)
	}

	results, failures, err := d.await(ctx, taskType, ids)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, types.Errorf(types.ErrDependencyFailed,
			"%s task failed: %s", taskType, strings.Join(failures, "; "))
	}
	for _, failure := range failures {
		resp.Notes = append(resp.Notes,
			fmt.Sprintf("one %s task failed: %s", taskType, failure))
	}
	return results, nil
}

// await drains the driver inbox until every task in ids reached a terminal
// notification or the result timeout fires. Results and failure messages are
// returned in completion order; stale notifications for unknown tasks are
// dropped.
func (d *Driver) await(ctx context.Context, taskType string, ids []string) ([]map[string]interface{}, []string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.ResultTimeout)
	defer cancel()

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	var results []map[string]interface{}
	var failures []string

	for len(pending) > 0 {
		msg, err := d.bus.Receive(waitCtx, d.cfg.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if waitCtx.Err() != nil {
				return nil, nil, types.WrapError(types.ErrTimeout,
					fmt.Sprintf("%s stage: no result within %s", taskType, d.cfg.ResultTimeout),
					waitCtx.Err())
			}
			return nil, nil, err
		}

		taskID, _ := msg.Content["task_id"].(string)
		if !pending[taskID] {
			d.logger.Debug("dropping unexpected message",
				zap.String("type", string(msg.Type)),
				zap.String("task", taskID))
			continue
		}
		switch msg.Type {
		case types.MsgTaskResult:
			result, _ := msg.Content["result"].(map[string]interface{})
			results = append(results, result)
			delete(pending, taskID)
		case types.MsgTaskFailed:
			errMsg, _ := msg.Content["error"].(string)
			if errMsg == "" {
				errMsg = "unknown error"
			}
			failures = append(failures, errMsg)
			delete(pending, taskID)
		}
	}
	return results, failures, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// abort finalizes a response after a fatal stage failure.
func (d *Driver) abort(resp *Response, log *zap.Logger, started time.Time, taskType string, err error) (*Response, error) {
	d.degrade(resp, log, fmt.Sprintf("%s stage failed: %v", taskType, err))
	resp.Elapsed = d.clk.Now().Sub(started)
	log.Error("workflow aborted", zap.String("stage", taskType), zap.Error(err))
	return resp, err
}

func (d *Driver) degrade(resp *Response, log *zap.Logger, note string) {
	resp.Degraded = true
	resp.Notes = append(resp.Notes, note)
	log.Warn("workflow degraded", zap.String("note", note))
}

// reportTitle falls back to a keyword-derived title, capped at the first
// three keywords.
func reportTitle(req Request) string {
	if req.Title != "" {
		return req.Title
	}
	kws := req.Keywords
	if len(kws) > 3 {
		kws = kws[:3]
	}
	return strings.Join(kws, "、") + "专利分析报告"
}

// analysisSummary flattens a bundle into the scalar fields the consistency
// checker can compare across passes.
func analysisSummary(bundle *types.AnalysisBundle) map[string]interface{} {
	s := map[string]interface{}{
		"patent_count": bundle.PatentCount,
		"modules":      len(bundle.Modules()),
	}
	if t := bundle.Trend; t != nil {
		s["trend_direction"] = string(t.Direction.Direction)
		s["trend_pattern"] = t.Pattern
		s["mean_growth_rate"] = t.MeanGrowthRate
	}
	if c := bundle.Competition; c != nil {
		s["hhi"] = c.HHI
		s["cr4"] = c.CR4
		s["applicants"] = c.TotalApplicants
		s["concentration"] = c.ConcentrationLevel
	}
	if tech := bundle.Technology; tech != nil {
		s["keyword_count"] = len(tech.Keywords)
	}
	if g := bundle.Geographic; g != nil {
		s["top_country"] = g.TopCountry
	}
	return s
}

func stringAt(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
