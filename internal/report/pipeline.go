package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"patlas/internal/clock"
	"patlas/internal/logging"
	"patlas/internal/types"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config wires the report pipeline. Nil collaborators select the
// deterministic built-ins; a nil Text skips content enhancement entirely.
type Config struct {
	// OutputDir is the root of the report layout (reports/, versions/,
	// temp/, assets/).
	OutputDir string
	// MaxVersions bounds retained versions per report id.
	MaxVersions int
	// DefaultFormats applies when a request names no formats.
	DefaultFormats []string

	Text      TextGenerator
	Charts    ChartRenderer
	Templates TemplateRenderer
	Exporter  DocumentExporter

	// Logger may be nil.
	Logger *zap.Logger
	// Clock may be nil, selecting the system clock.
	Clock clock.Clock
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		OutputDir:      "data/reports",
		MaxVersions:    5,
		DefaultFormats: []string{FormatHTML, FormatJSON},
	}
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request asks for one report over an analysis bundle.
type Request struct {
	// ReportID keys versioning and storage. Empty assigns a fresh id.
	ReportID string
	// Title heads the document. Empty selects a generic title.
	Title string
	// Formats to export. Empty selects the configured defaults.
	Formats []string
	// Bundle carries the analysis results the report is built from.
	Bundle *types.AnalysisBundle
	// Parameters are recorded verbatim on the version for traceability.
	Parameters map[string]interface{}
}

// Result is the outcome of one pipeline run.
type Result struct {
	ReportID string
	Version  types.ReportVersion
	Files    map[string]ExportedFile
	Content  *Content
	Charts   []ChartArtifact
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline runs parse, content, charts, render and export for report
// requests, and maintains the version and storage indices under its output
// directory.
type Pipeline struct {
	cfg       Config
	logger    *zap.Logger
	clk       clock.Clock
	text      TextGenerator
	charts    ChartRenderer
	templates TemplateRenderer
	exporter  DocumentExporter

	versions *VersionIndex
	storage  *Storage

	reportsDir string
	tempDir    string
}

// NewPipeline prepares the output layout and loads existing indices.
func NewPipeline(cfg Config) (*Pipeline, error) {
	def := DefaultConfig()
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = def.MaxVersions
	}
	if len(cfg.DefaultFormats) == 0 {
		cfg.DefaultFormats = def.DefaultFormats
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	reportsDir := filepath.Join(cfg.OutputDir, "reports")
	versionsDir := filepath.Join(cfg.OutputDir, "versions")
	tempDir := filepath.Join(cfg.OutputDir, "temp")
	assetsDir := filepath.Join(cfg.OutputDir, "assets")
	for _, dir := range []string{reportsDir, versionsDir, tempDir, assetsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create report directory %s: %w", dir, err)
		}
	}

	if cfg.Charts == nil {
		cfg.Charts = NewSpecChartRenderer(assetsDir)
	}
	if cfg.Templates == nil {
		cfg.Templates = NewHTMLTemplateRenderer()
	}
	if cfg.Exporter == nil {
		cfg.Exporter = UnsupportedExporter{}
	}

	versions, err := NewVersionIndex(versionsDir, cfg.MaxVersions, cfg.Logger, cfg.Clock)
	if err != nil {
		return nil, err
	}
	storage, err := NewStorage(reportsDir, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		logger:     logging.Named(cfg.Logger, "report"),
		clk:        cfg.Clock,
		text:       cfg.Text,
		charts:     cfg.Charts,
		templates:  cfg.Templates,
		exporter:   cfg.Exporter,
		versions:   versions,
		storage:    storage,
		reportsDir: reportsDir,
		tempDir:    tempDir,
	}, nil
}

// Generate runs the full pipeline for one request and returns the exported
// artifacts together with the completed version record.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Bundle == nil {
		return nil, types.NewError(types.ErrValidation, "report request carries no analysis results")
	}
	formats, err := p.resolveFormats(req.Formats)
	if err != nil {
		return nil, err
	}

	reportID := strings.TrimSpace(req.ReportID)
	if reportID == "" {
		reportID = uuid.NewString()
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "专利分析报告"
	}

	ver, err := p.versions.Begin(reportID, req.Parameters)
	if err != nil {
		return nil, err
	}
	defer p.cleanTemp()

	now := p.clk.Now()
	content, err := BuildContent(title, req.Bundle, now)
	if err != nil {
		p.versions.Fail(ver)
		return nil, err
	}
	p.enhance(ctx, content)

	charts := p.renderCharts(reportID, ver.VersionNumber, req.Bundle)

	doc := &Document{
		ReportID:    reportID,
		Version:     ver.VersionNumber,
		Title:       title,
		GeneratedAt: now,
		Content:     content,
		Charts:      charts,
		Analysis:    req.Bundle,
	}
	htmlText, err := p.templates.Render("report.html", doc)
	if err != nil {
		p.versions.Fail(ver)
		return nil, fmt.Errorf("failed to render report template: %w", err)
	}

	files, err := p.exportAll(doc, htmlText, formats)
	if err != nil {
		p.versions.Fail(ver)
		return nil, err
	}

	verFiles := make(map[string]types.VersionFile, len(files))
	paths := make(map[string]string, len(files))
	for key, f := range files {
		verFiles[key] = types.VersionFile{Path: f.Path, Size: f.Size, Hash: f.Hash}
		paths[key] = f.Path
	}
	completed, err := p.versions.Complete(ver, verFiles)
	if err != nil {
		return nil, err
	}

	if err := p.storage.Put(StoredReport{
		ReportID:      reportID,
		Title:         title,
		LatestVersion: completed.VersionNumber,
		Formats:       formats,
		Files:         paths,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		return nil, err
	}

	p.logger.Info("report generated",
		zap.String("report_id", reportID),
		zap.Int("version", completed.VersionNumber),
		zap.Strings("formats", formats),
		zap.Int("charts", len(charts)))

	return &Result{
		ReportID: reportID,
		Version:  completed,
		Files:    files,
		Content:  content,
		Charts:   charts,
	}, nil
}

// resolveFormats normalizes and validates the requested formats.
func (p *Pipeline) resolveFormats(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = p.cfg.DefaultFormats
	}
	seen := make(map[string]bool, len(requested))
	formats := make([]string, 0, len(requested))
	for _, f := range requested {
		f = strings.ToLower(strings.TrimSpace(f))
		if !knownFormats[f] {
			return nil, types.Errorf(types.ErrValidation, "unsupported report format %q", f)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		formats = append(formats, f)
	}
	return formats, nil
}

// renderCharts builds and renders the chart specs. A failed chart degrades
// the report rather than failing it.
func (p *Pipeline) renderCharts(reportID string, version int, bundle *types.AnalysisBundle) []ChartArtifact {
	specs := BuildCharts(bundle)
	artifacts := make([]ChartArtifact, 0, len(specs))
	for _, spec := range specs {
		spec.ID = fmt.Sprintf("%s_v%d_%s", reportID, version, spec.ID)
		rendered, err := p.charts.Render(spec)
		if err != nil {
			p.logger.Warn("chart rendering failed",
				zap.String("chart", spec.ID), zap.Error(err))
			continue
		}
		artifacts = append(artifacts, ChartArtifact{Spec: spec, Rendered: rendered})
	}
	return artifacts
}

// enhance appends generated commentary when a text backend is configured.
// Enhancement failures degrade to the template prose.
func (p *Pipeline) enhance(ctx context.Context, content *Content) {
	if p.text == nil {
		return
	}
	prompt := fmt.Sprintf("请以资深专利分析师的身份,为以下报告摘要撰写一段不超过两百字的点评:\n%s", content.Summary)
	text, err := p.text.Generate(ctx, prompt)
	if err != nil {
		p.logger.Warn("content enhancement failed", zap.Error(err))
		return
	}
	content.Commentary = strings.TrimSpace(text)
}

// =============================================================================
// CATALOG OPERATIONS
// =============================================================================

// Versions returns the retained versions of a report, oldest first.
func (p *Pipeline) Versions(reportID string) []types.ReportVersion {
	return p.versions.History(reportID)
}

// Latest returns the newest retained version of a report.
func (p *Pipeline) Latest(reportID string) (types.ReportVersion, bool) {
	return p.versions.Latest(reportID)
}

// List returns the storage catalog, most recently updated first.
func (p *Pipeline) List() []StoredReport {
	return p.storage.List()
}

// Get looks up one report in the storage catalog.
func (p *Pipeline) Get(reportID string) (StoredReport, bool) {
	return p.storage.Get(reportID)
}

// Delete removes a report: its catalog entry, every retained version, and
// all exported artifacts.
func (p *Pipeline) Delete(reportID string) error {
	removed, err := p.versions.DeleteReport(reportID)
	if err != nil {
		return err
	}
	if _, err := p.storage.Remove(reportID); err != nil {
		return err
	}
	p.logger.Info("report deleted",
		zap.String("report_id", reportID),
		zap.Int("versions_removed", removed))
	return nil
}
