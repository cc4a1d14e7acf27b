// Package report composes analysis results into patent reports: prose content,
// chart specifications, a rendered document, and exported artifacts with a
// versioned storage layout.
//
// Rendering and export backends are pluggable. The package ships deterministic
// built-ins (template rendering, chart specs as JSON, no PDF backend) so the
// pipeline runs complete without external services.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"os"
	"path/filepath"

	"patlas/internal/types"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// TextGenerator produces free-form prose for optional content enhancement.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RenderedChart describes one chart artifact produced by a ChartRenderer.
type RenderedChart struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
}

// ChartRenderer turns a chart spec into an artifact on disk.
type ChartRenderer interface {
	Render(spec ChartSpec) (RenderedChart, error)
}

// TemplateRenderer renders a named document template with the given data.
type TemplateRenderer interface {
	Render(templateName string, data interface{}) (string, error)
}

// DocumentExporter converts rendered HTML into a PDF document. Backends
// without PDF support return an export_unsupported error.
type DocumentExporter interface {
	HTMLToPDF(html string, options map[string]interface{}) ([]byte, error)
}

// =============================================================================
// BUILT-IN IMPLEMENTATIONS
// =============================================================================

// NoopTextGenerator produces no text; content enhancement is skipped.
type NoopTextGenerator struct{}

// Generate returns an empty string.
func (NoopTextGenerator) Generate(context.Context, string) (string, error) {
	return "", nil
}

// UnsupportedExporter is the default PDF backend: it refuses every conversion,
// which drives the documented HTML fallback path.
type UnsupportedExporter struct{}

// HTMLToPDF always fails with export_unsupported.
func (UnsupportedExporter) HTMLToPDF(string, map[string]interface{}) ([]byte, error) {
	return nil, types.NewError(types.ErrExportUnsupported, "no PDF backend configured")
}

// SpecChartRenderer materializes chart specs as pretty-printed JSON files so
// a charting frontend (or a human) can render them later.
type SpecChartRenderer struct {
	dir string
}

// NewSpecChartRenderer returns a renderer writing into dir.
func NewSpecChartRenderer(dir string) *SpecChartRenderer {
	return &SpecChartRenderer{dir: dir}
}

// Render writes the spec to <dir>/<spec id>.json.
func (r *SpecChartRenderer) Render(spec ChartSpec) (RenderedChart, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return RenderedChart{}, err
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return RenderedChart{}, err
	}
	path := filepath.Join(r.dir, spec.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return RenderedChart{}, err
	}
	return RenderedChart{Path: path, Size: int64(len(data)), Format: "json"}, nil
}

// reportTemplate is the built-in HTML document. html/template escapes the
// interpolated content, so request-supplied titles cannot inject markup.
const reportTemplate = `<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: "Noto Sans SC", "PingFang SC", sans-serif; max-width: 960px; margin: 2em auto; color: #222; }
h1 { border-bottom: 2px solid #2c5f8a; padding-bottom: 0.3em; }
h2 { color: #2c5f8a; margin-top: 1.5em; }
p.meta { color: #777; font-size: 0.9em; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="meta">生成时间:{{.GeneratedAt.Format "2006-01-02 15:04"}} | 版本 v{{.Version}} | 报告编号 {{.ReportID}}</p>
<h2>摘要</h2>
<p>{{.Content.Summary}}</p>
{{range .Content.Sections}}<h2>{{.Heading}}</h2>
<p>{{.Body}}</p>
{{end}}{{if .Content.Commentary}}<h2>专家点评</h2>
<p>{{.Content.Commentary}}</p>
{{end}}{{if .Charts}}<h2>图表</h2>
<ul>
{{range .Charts}}<li>{{.Spec.Title}}({{.Spec.Type}}):{{.Rendered.Path}}</li>
{{end}}</ul>
{{end}}</body>
</html>
`

// HTMLTemplateRenderer renders documents from its built-in template set.
type HTMLTemplateRenderer struct {
	templates *template.Template
}

// NewHTMLTemplateRenderer parses the built-in templates.
func NewHTMLTemplateRenderer() *HTMLTemplateRenderer {
	return &HTMLTemplateRenderer{
		templates: template.Must(template.New("report.html").Parse(reportTemplate)),
	}
}

// Render executes the named template.
func (r *HTMLTemplateRenderer) Render(templateName string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, templateName, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
