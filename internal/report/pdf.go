// internal/report/pdf.go
// Package report renders analysis results as PDF reports.
package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/locale"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

const (
	coreFont    = "Helvetica"
	unicodeFont = "EvidenceUnicode"

	maxEventRunes = 70
)

// Input is everything a report shows.
type Input struct {
	ID        string
	Filename  string
	Language  string
	Narrative string
	Advanced  *model.AdvancedFeatures
}

// Renderer renders reports. It is safe for concurrent use.
type Renderer struct {
	catalog  *locale.Catalog
	font     []byte // UTF-8 TTF; nil renders Latin-1 only
	now      func() time.Time
	metrics  *metrics.Metrics
	compress bool
}

// Option configures a Renderer.
type Option func(*Renderer) error

// WithFont loads a UTF-8 TrueType font so Tamil and Hindi text renders.
func WithFont(path string) Option {
	return func(r *Renderer) error {
		if path == "" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read report font: %w", err)
		}
		r.font = b
		return nil
	}
}

// WithClock sets the clock used for the generation date.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) error { r.now = now; return nil }
}

// WithMetrics records render durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Renderer) error { r.metrics = m; return nil }
}

// NewRenderer builds a Renderer using catalog for headings.
func NewRenderer(catalog *locale.Catalog, opts ...Option) (*Renderer, error) {
	r := &Renderer{catalog: catalog, now: time.Now, compress: true}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// UnicodeCapable reports whether non-Latin scripts render as text.
func (r *Renderer) UnicodeCapable() bool { return r.font != nil }

// Render returns the PDF bytes for in.
func (r *Renderer) Render(ctx context.Context, in Input) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ReportRenderDuration.Observe(time.Since(start).Seconds())
		}
	}()

	lang := in.Language
	if lang == "" {
		lang = r.catalog.Default()
	}
	headingLang := lang
	if !r.UnicodeCapable() {
		// core fonts cannot show Tamil or Devanagari headings
		headingLang = "en"
	}
	d := &doc{
		pdf: fpdf.New("P", "mm", "A4", ""),
		l:   r.catalog.Localizer(headingLang),
	}
	d.pdf.SetCompression(r.compress)
	d.pdf.SetCreationDate(r.now())
	d.pdf.SetCreator("evidence-analyzer", false)
	if r.font != nil {
		d.pdf.AddUTF8FontFromBytes(unicodeFont, "", r.font)
		d.family = unicodeFont
		d.text = func(s string) string { return s }
	} else {
		d.family = coreFont
		tr := d.pdf.UnicodeTranslatorFromDescriptor("")
		d.text = func(s string) string { return tr(Latin1(s)) }
	}
	d.pdf.SetTitle(in.ID, true)
	d.pdf.SetFooterFunc(d.footer)
	d.pdf.AddPage()

	d.header(in, lang, r.now())
	d.narrative(in.Narrative)
	if in.Advanced != nil {
		d.summary(in.Advanced)
		if in.Advanced.HasTimeline() && len(*in.Advanced.Timeline) > 0 {
			d.timeline(*in.Advanced.Timeline)
		}
	}

	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report %s: %w", in.ID, err)
	}
	return buf.Bytes(), nil
}

type doc struct {
	pdf    *fpdf.Fpdf
	l      *locale.Localizer
	family string
	text   func(string) string
}

func (d *doc) font(style string, size float64) {
	if d.family == unicodeFont {
		// the UTF-8 font is registered in the regular style only
		style = ""
	}
	d.pdf.SetFont(d.family, style, size)
}

func (d *doc) width() float64 {
	w, _ := d.pdf.GetPageSize()
	left, _, right, _ := d.pdf.GetMargins()
	return w - left - right
}

func (d *doc) header(in Input, lang string, at time.Time) {
	d.font("B", 18)
	d.pdf.CellFormat(0, 12, d.text(d.l.T("ReportTitle")), "", 1, "C", false, 0, "")
	d.pdf.Ln(2)

	d.font("", 10)
	for _, row := range [][2]string{
		{d.l.T("ReportID"), in.ID},
		{d.l.T("Filename"), in.Filename},
		{d.l.T("GeneratedAt"), at.UTC().Format("2006-01-02 15:04:05 MST")},
		{d.l.T("Language"), lang},
	} {
		d.pdf.CellFormat(40, 6, d.text(row[0]+":"), "", 0, "L", false, 0, "")
		d.pdf.CellFormat(0, 6, d.text(row[1]), "", 1, "L", false, 0, "")
	}
	d.pdf.Ln(4)
}

func (d *doc) section(title string) {
	d.font("B", 13)
	d.pdf.SetFillColor(230, 230, 230)
	d.pdf.CellFormat(0, 8, d.text(title), "", 1, "L", true, 0, "")
	d.pdf.Ln(2)
}

func (d *doc) narrative(text string) {
	d.section(d.l.T("Narrative"))
	d.font("", 10)
	d.pdf.MultiCell(0, 5, d.text(strings.TrimSpace(text)), "", "L", false)
	d.pdf.Ln(4)
}

func (d *doc) summary(adv *model.AdvancedFeatures) {
	if adv.Summary == nil {
		return
	}
	var rows [][2]string
	if v := adv.Summary.VideoSummary; v != nil {
		objects := strconv.Itoa(v.TotalObjectsDetected)
		if len(v.ObjectsList) > 0 {
			objects += " (" + strings.Join(v.ObjectsList, ", ") + ")"
		}
		rows = append(rows,
			[2]string{d.l.T("ObjectsDetected"), objects},
			[2]string{d.l.T("ScenesDetected"), strconv.Itoa(v.ScenesDetected)},
			[2]string{d.l.T("TextPresent"), d.yesNo(v.HasText)},
			[2]string{d.l.T("AnalysisConfidence"), v.AnalysisConfidence},
		)
	}
	if s := adv.Summary.ImageSummary; s != nil {
		rows = append(rows,
			[2]string{d.l.T("FacesDetected"), strconv.Itoa(s.FacesDetected)},
			[2]string{d.l.T("ObjectsDetected"), strconv.Itoa(s.ObjectsDetected)},
			[2]string{d.l.T("TextPresent"), d.yesNo(s.TextFound)},
			[2]string{d.l.T("LabelsIdentified"), strconv.Itoa(s.LabelsIdentified)},
		)
	}
	if len(rows) == 0 {
		return
	}

	d.section(d.l.T("Summary"))
	d.font("", 10)
	for _, row := range rows {
		d.pdf.CellFormat(60, 6, d.text(row[0]+":"), "", 0, "L", false, 0, "")
		d.pdf.MultiCell(0, 6, d.text(row[1]), "", "L", false)
	}
	d.pdf.Ln(4)
}

func (d *doc) yesNo(b bool) string {
	if b {
		return d.l.T("Yes")
	}
	return d.l.T("No")
}

func (d *doc) timeline(tl model.Timeline) {
	d.section(d.l.T("Timeline"))

	total := d.width()
	cols := []float64{25, total - 55, 30}

	d.font("B", 10)
	for i, h := range []string{d.l.T("TimestampColumn"), d.l.T("EventColumn"), d.l.T("ConfidenceColumn")} {
		d.pdf.CellFormat(cols[i], 7, d.text(h), "1", 0, "C", true, 0, "")
	}
	d.pdf.Ln(-1)

	d.font("", 9)
	for _, ev := range tl {
		d.pdf.CellFormat(cols[0], 6, d.text(ev.Formatted), "1", 0, "C", false, 0, "")
		d.pdf.CellFormat(cols[1], 6, d.text(truncate(ev.Description, maxEventRunes)), "1", 0, "L", false, 0, "")
		d.pdf.CellFormat(cols[2], 6, strconv.FormatFloat(ev.Confidence, 'f', 2, 64), "1", 0, "C", false, 0, "")
		d.pdf.Ln(-1)
	}
}

func (d *doc) footer() {
	d.pdf.SetY(-15)
	d.font("I", 8)
	d.pdf.CellFormat(0, 10, d.text(fmt.Sprintf("%s  %d", d.l.T("Footer"), d.pdf.PageNo())), "", 0, "C", false, 0, "")
}

// Latin1 replaces every rune the core PDF fonts cannot show with '?'.
func Latin1(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFF {
			return '?'
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
