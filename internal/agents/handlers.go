package agents

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"patlas/internal/analysis"
	"patlas/internal/logging"
	"patlas/internal/quality"
	"patlas/internal/report"
	"patlas/internal/search"
	"patlas/internal/types"
)

// =============================================================================
// SEARCH
// =============================================================================

// SearchHandler serves search tasks over the multi-source aggregator.
// Payload: keywords (required), search_type, limit, sources, time_range
// ("YYYY-YYYY", drops hits published outside the range).
type SearchHandler struct {
	agg    *search.Aggregator
	logger *zap.Logger
}

// NewSearchHandler wraps an aggregator for assignment dispatch.
func NewSearchHandler(agg *search.Aggregator, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{agg: agg, logger: logging.Named(logger, "handler.search")}
}

func (h *SearchHandler) TaskType() string { return types.TaskTypeSearch }

func (h *SearchHandler) Execute(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	keywords := stringsFrom(data["keywords"])
	if len(keywords) == 0 {
		return nil, types.NewError(types.ErrValidation, "search task carries no keywords")
	}
	q := search.Query{
		Keywords:   keywords,
		SearchType: search.SearchType(stringFrom(data["search_type"])),
		Sources:    stringsFrom(data["sources"]),
	}
	if q.SearchType == "" {
		q.SearchType = search.TypePatent
	}
	if limit, ok := intFrom(data["limit"]); ok {
		q.Limit = limit
	}

	records, reports, err := h.agg.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if tr := stringFrom(data["time_range"]); tr != "" {
		records = filterByYears(records, tr)
	}

	degraded := false
	for _, rep := range reports {
		if rep.Degraded || rep.Failed {
			degraded = true
			break
		}
	}
	h.logger.Info("search served",
		zap.Strings("keywords", keywords),
		zap.Int("records", len(records)),
		zap.Bool("degraded", degraded))
	return map[string]interface{}{
		"records":        records,
		"source_reports": reports,
		"total":          len(records),
		"degraded":       degraded,
	}, nil
}

// filterByYears drops records whose published year falls outside "from-to".
// Records without a year survive. A malformed range filters nothing.
func filterByYears(records []search.Record, timeRange string) []search.Record {
	parts := strings.SplitN(timeRange, "-", 2)
	if len(parts) != 2 {
		return records
	}
	from, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	to, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || from > to {
		return records
	}
	out := make([]search.Record, 0, len(records))
	for _, rec := range records {
		if rec.PublishedYear == 0 || (rec.PublishedYear >= from && rec.PublishedYear <= to) {
			out = append(out, rec)
		}
	}
	return out
}

// =============================================================================
// DATA COLLECTION
// =============================================================================

// CollectHandler turns raw search hits into normalized patent records:
// metadata extraction, an application-number dedup pass and a required-field
// completeness gate. Payload: records (required).
type CollectHandler struct {
	minCompleteness float64
	logger          *zap.Logger
}

// NewCollectHandler builds a collector. minCompleteness outside (0,1]
// selects the default gate of 0.5.
func NewCollectHandler(minCompleteness float64, logger *zap.Logger) *CollectHandler {
	if minCompleteness <= 0 || minCompleteness > 1 {
		minCompleteness = 0.5
	}
	return &CollectHandler{
		minCompleteness: minCompleteness,
		logger:          logging.Named(logger, "handler.collect"),
	}
}

func (h *CollectHandler) TaskType() string { return types.TaskTypeCollect }

func (h *CollectHandler) Execute(_ context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	records, ok := recordsFrom(data["records"])
	if !ok || len(records) == 0 {
		return nil, types.NewError(types.ErrValidation, "collection task carries no search records")
	}

	seen := make(map[string]bool, len(records))
	patents := make([]types.PatentRecord, 0, len(records))
	dropped := 0
	for i := range records {
		p := patentFromRecord(&records[i])
		key := p.ApplicationNumber
		if key == "" {
			key = p.Title
		}
		if key == "" || seen[key] {
			dropped++
			continue
		}
		if p.RequiredFieldRatio() < h.minCompleteness {
			dropped++
			continue
		}
		seen[key] = true
		patents = append(patents, p)
	}
	if len(patents) == 0 {
		return nil, types.NewError(types.ErrInsufficientData, "no usable patent records after normalization")
	}
	h.logger.Info("records collected", zap.Int("patents", len(patents)), zap.Int("dropped", dropped))
	return map[string]interface{}{
		"patents": patents,
		"count":   len(patents),
		"dropped": dropped,
	}, nil
}

// patentFromRecord maps one search hit onto the normalized record, reading
// patent fields from hit metadata with fallbacks to the hit itself.
func patentFromRecord(rec *search.Record) types.PatentRecord {
	p := types.PatentRecord{
		ApplicationNumber: rec.MetaString("application_number"),
		Title:             rec.Title,
		Abstract:          rec.MetaString("abstract"),
		Applicants:        stringsFrom(rec.Metadata["applicants"]),
		Inventors:         stringsFrom(rec.Metadata["inventors"]),
		ApplicationDate:   rec.MetaString("application_date"),
		PublicationDate:   rec.MetaString("publication_date"),
		IPCClasses:        stringsFrom(rec.Metadata["ipc_classes"]),
		Country:           rec.MetaString("country"),
		Status:            rec.MetaString("status"),
	}
	if p.Abstract == "" {
		p.Abstract = rec.Content
	}
	if p.ApplicationDate == "" && rec.PublishedYear > 0 {
		p.ApplicationDate = strconv.Itoa(rec.PublishedYear)
	}
	return p
}

// =============================================================================
// ANALYSIS
// =============================================================================

// AnalysisHandler runs the analysis engine over collected patents and, when a
// validator is installed, attaches a quality verdict to the result. Payload:
// patents (required), kinds, series_id.
type AnalysisHandler struct {
	engine    *analysis.Engine
	validator *quality.AnalysisValidator
	logger    *zap.Logger
}

// NewAnalysisHandler wraps an engine. validator may be nil to skip quality
// checks.
func NewAnalysisHandler(engine *analysis.Engine, validator *quality.AnalysisValidator, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		engine:    engine,
		validator: validator,
		logger:    logging.Named(logger, "handler.analysis"),
	}
}

func (h *AnalysisHandler) TaskType() string { return types.TaskTypeAnalysis }

func (h *AnalysisHandler) Execute(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	patents, ok := patentsFrom(data["patents"])
	if !ok || len(patents) == 0 {
		return nil, types.NewError(types.ErrValidation, "analysis task carries no patents")
	}
	kinds := analysisKinds(stringsFrom(data["kinds"]))

	bundle, err := h.engine.Run(ctx, patents, kinds...)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"analysis":     bundle,
		"modules":      bundle.Modules(),
		"patent_count": bundle.PatentCount,
	}
	if h.validator != nil {
		seriesID := stringFrom(data["series_id"])
		if seriesID == "" {
			if id, rerr := quality.ResultID(bundle); rerr == nil {
				seriesID = id
			}
		}
		verdict, verr := h.validator.Validate(seriesID, bundle)
		if verr != nil {
			h.logger.Warn("quality validation unavailable", zap.Error(verr))
		} else {
			result["quality"] = verdict
			result["degraded"] = !verdict.Passed
		}
	}
	return result, nil
}

// analysisKinds maps payload strings onto engine module kinds, dropping
// unknown names.
func analysisKinds(names []string) []types.AnalysisKind {
	var kinds []types.AnalysisKind
	for _, name := range names {
		switch k := types.AnalysisKind(strings.ToLower(strings.TrimSpace(name))); k {
		case types.AnalysisTrend, types.AnalysisCompetition, types.AnalysisTechnology, types.AnalysisGeographic:
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// =============================================================================
// REPORT
// =============================================================================

// ReportHandler drives the report pipeline. Payload: analysis (required),
// report_id, title, formats, parameters.
type ReportHandler struct {
	pipeline *report.Pipeline
	logger   *zap.Logger
}

// NewReportHandler wraps a report pipeline for assignment dispatch.
func NewReportHandler(p *report.Pipeline, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{pipeline: p, logger: logging.Named(logger, "handler.report")}
}

func (h *ReportHandler) TaskType() string { return types.TaskTypeReport }

func (h *ReportHandler) Execute(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	bundle, _ := data["analysis"].(*types.AnalysisBundle)
	if bundle == nil {
		return nil, types.NewError(types.ErrValidation, "report task carries no analysis bundle")
	}
	params, _ := data["parameters"].(map[string]interface{})

	res, err := h.pipeline.Generate(ctx, report.Request{
		ReportID:   stringFrom(data["report_id"]),
		Title:      stringFrom(data["title"]),
		Formats:    stringsFrom(data["formats"]),
		Bundle:     bundle,
		Parameters: params,
	})
	if err != nil {
		return nil, err
	}

	files := make(map[string]string, len(res.Files))
	for format, f := range res.Files {
		files[format] = f.Path
	}
	h.logger.Info("report generated",
		zap.String("report_id", res.ReportID),
		zap.Int("version", res.Version.VersionNumber),
		zap.Int("files", len(files)))
	return map[string]interface{}{
		"report_id": res.ReportID,
		"version":   res.Version.VersionNumber,
		"title":     res.Content.Title,
		"files":     files,
		"charts":    len(res.Charts),
	}, nil
}

// =============================================================================
// PAYLOAD HELPERS
// =============================================================================

// stringFrom reads a string payload field.
func stringFrom(v interface{}) string {
	s, _ := v.(string)
	return s
}

// stringsFrom coerces a payload field to a string slice. Accepts []string,
// []interface{} of strings and a single bare string.
func stringsFrom(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	default:
		return nil
	}
}

// intFrom coerces a numeric payload field. JSON round-trips deliver float64.
func intFrom(v interface{}) (int, bool) {
	switch vv := v.(type) {
	case int:
		return vv, true
	case int64:
		return int(vv), true
	case float64:
		return int(vv), true
	default:
		return 0, false
	}
}

// recordsFrom coerces the search-hit payload produced by SearchHandler.
func recordsFrom(v interface{}) ([]search.Record, bool) {
	switch vv := v.(type) {
	case []search.Record:
		return vv, true
	case []interface{}:
		out := make([]search.Record, 0, len(vv))
		for _, item := range vv {
			rec, ok := item.(search.Record)
			if !ok {
				return nil, false
			}
			out = append(out, rec)
		}
		return out, true
	default:
		return nil, false
	}
}

// patentsFrom coerces the patent payload produced by CollectHandler.
func patentsFrom(v interface{}) ([]types.PatentRecord, bool) {
	switch vv := v.(type) {
	case []types.PatentRecord:
		return vv, true
	case []interface{}:
		out := make([]types.PatentRecord, 0, len(vv))
		for _, item := range vv {
			p, ok := item.(types.PatentRecord)
			if !ok {
				return nil, false
			}
			out = append(out, p)
		}
		return out, true
	default:
		return nil, false
	}
}
