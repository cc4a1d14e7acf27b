package report

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"patlas/internal/types"
)

// Export formats accepted by the pipeline.
const (
	FormatHTML = "html"
	FormatPDF  = "pdf"
	FormatJSON = "json"
	FormatZip  = "zip"

	// FormatPDFError marks the html stand-in returned when no PDF backend
	// is available.
	FormatPDFError = "pdf_error"
)

var knownFormats = map[string]bool{
	FormatHTML: true,
	FormatPDF:  true,
	FormatJSON: true,
	FormatZip:  true,
}

// ExportedFile is one exported artifact, keyed in result maps by the
// requested format. Format records what was actually produced; it differs
// from the key only on the pdf fallback path, where Format is pdf_error and
// Path points at the HTML stand-in.
type ExportedFile struct {
	Format string `json:"format"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Hash   string `json:"hash"`
}

// ChartArtifact pairs a chart spec with its rendered artifact.
type ChartArtifact struct {
	Spec     ChartSpec     `json:"spec"`
	Rendered RenderedChart `json:"rendered"`
}

// Document is the full report payload handed to the template renderer and
// serialized by the json export.
type Document struct {
	ReportID    string                `json:"report_id"`
	Version     int                   `json:"version"`
	Title       string                `json:"title"`
	GeneratedAt time.Time             `json:"generated_at"`
	Content     *Content              `json:"content"`
	Charts      []ChartArtifact       `json:"charts,omitempty"`
	Analysis    *types.AnalysisBundle `json:"analysis,omitempty"`
}

// zipMetadata is the manifest bundled into zip exports.
type zipMetadata struct {
	ReportID  string    `json:"report_id"`
	Version   int       `json:"version"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Members   []string  `json:"members"`
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func exported(format string, vf types.VersionFile) ExportedFile {
	return ExportedFile{Format: format, Path: vf.Path, Size: vf.Size, Hash: vf.Hash}
}

// publish stages data in the temp directory and moves it into the reports
// directory, so readers never observe partially written artifacts.
func (p *Pipeline) publish(name string, data []byte) (types.VersionFile, error) {
	tmp := filepath.Join(p.tempDir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return types.VersionFile{}, fmt.Errorf("failed to stage %s: %w", name, err)
	}
	final := filepath.Join(p.reportsDir, name)
	if err := os.Rename(tmp, final); err != nil {
		return types.VersionFile{}, fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return types.VersionFile{Path: final, Size: int64(len(data)), Hash: hashOf(data)}, nil
}

// cleanTemp clears the staging directory after an export run.
func (p *Pipeline) cleanTemp() {
	entries, err := os.ReadDir(p.tempDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(p.tempDir, e.Name())); err != nil {
			p.logger.Warn("failed to clean temp entry",
				zap.String("name", e.Name()), zap.Error(err))
		}
	}
}

// exportAll writes the requested formats. The html and json payloads are
// prepared up front because zip bundles both regardless of whether they were
// requested standalone.
func (p *Pipeline) exportAll(doc *Document, htmlText string, formats []string) (map[string]ExportedFile, error) {
	base := fmt.Sprintf("%s_v%d", doc.ReportID, doc.Version)
	htmlBytes := []byte(htmlText)
	jsonBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report document: %w", err)
	}

	want := make(map[string]bool, len(formats))
	for _, f := range formats {
		want[f] = true
	}

	out := make(map[string]ExportedFile, len(formats))
	var pdfBytes []byte

	if want[FormatHTML] {
		vf, err := p.publish(base+".html", htmlBytes)
		if err != nil {
			return nil, err
		}
		out[FormatHTML] = exported(FormatHTML, vf)
	}
	if want[FormatJSON] {
		vf, err := p.publish(base+".json", jsonBytes)
		if err != nil {
			return nil, err
		}
		out[FormatJSON] = exported(FormatJSON, vf)
	}
	if want[FormatPDF] {
		entry, produced, err := p.exportPDF(doc, base, htmlBytes, out)
		if err != nil {
			return nil, err
		}
		out[FormatPDF] = entry
		pdfBytes = produced
	}
	if want[FormatZip] {
		entry, err := p.exportZip(doc, base, htmlBytes, jsonBytes, pdfBytes)
		if err != nil {
			return nil, err
		}
		out[FormatZip] = entry
	}
	return out, nil
}

// exportPDF converts the rendered HTML. When the backend fails, the export
// falls back to the HTML artifact plus a .pdf_error.txt explainer; the
// returned entry carries format pdf_error and no pdf bytes.
func (p *Pipeline) exportPDF(doc *Document, base string, htmlBytes []byte, out map[string]ExportedFile) (ExportedFile, []byte, error) {
	data, err := p.exporter.HTMLToPDF(string(htmlBytes), map[string]interface{}{"title": doc.Title})
	if err == nil {
		vf, werr := p.publish(base+".pdf", data)
		if werr != nil {
			return ExportedFile{}, nil, werr
		}
		return exported(FormatPDF, vf), data, nil
	}

	p.logger.Warn("pdf export unavailable, falling back to html",
		zap.String("report_id", doc.ReportID), zap.Error(err))

	htmlEntry, ok := out[FormatHTML]
	if !ok {
		vf, werr := p.publish(base+".html", htmlBytes)
		if werr != nil {
			return ExportedFile{}, nil, werr
		}
		htmlEntry = exported(FormatHTML, vf)
	}
	explainer := fmt.Sprintf("PDF 导出不可用:%v\n已使用 HTML 版本替代:%s\n", err, htmlEntry.Path)
	if _, werr := p.publish(base+".pdf_error.txt", []byte(explainer)); werr != nil {
		return ExportedFile{}, nil, werr
	}
	entry := htmlEntry
	entry.Format = FormatPDFError
	return entry, nil, nil
}

// exportZip bundles the document artifacts plus a manifest. The archive is
// assembled in memory and published like any other artifact.
func (p *Pipeline) exportZip(doc *Document, base string, htmlBytes, jsonBytes, pdfBytes []byte) (ExportedFile, error) {
	members := []zipMember{
		{"report.html", htmlBytes},
		{"report.json", jsonBytes},
	}
	if len(pdfBytes) > 0 {
		members = append(members, zipMember{"report.pdf", pdfBytes})
	}

	names := make([]string, 0, len(members)+1)
	for _, m := range members {
		names = append(names, m.name)
	}
	names = append(names, "metadata.json")
	meta, err := json.MarshalIndent(zipMetadata{
		ReportID:  doc.ReportID,
		Version:   doc.Version,
		Title:     doc.Title,
		CreatedAt: doc.GeneratedAt,
		Members:   names,
	}, "", "  ")
	if err != nil {
		return ExportedFile{}, fmt.Errorf("failed to encode zip metadata: %w", err)
	}
	members = append(members, zipMember{"metadata.json", meta})

	archive, err := buildZip(members)
	if err != nil {
		return ExportedFile{}, err
	}
	vf, err := p.publish(base+".zip", archive)
	if err != nil {
		return ExportedFile{}, err
	}
	return exported(FormatZip, vf), nil
}

type zipMember struct {
	name string
	data []byte
}

func buildZip(members []zipMember) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", m.name, err)
		}
		if _, err := w.Write(m.data); err != nil {
			return nil, fmt.Errorf("failed to write %s into archive: %w", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
