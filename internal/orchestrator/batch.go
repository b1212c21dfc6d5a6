// internal/orchestrator/batch.go
package orchestrator

import (
	"context"
	"strings"

	errordefs "github.com/RegistryAccord/registryaccord-evidence-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

// Batch item statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// BatchItem is the outcome for one file of a batch.
type BatchItem struct {
	Filename string               `json:"file"`
	Status   string               `json:"status"`
	Analysis string               `json:"analysis"`
	Result   *model.AnalysisResult `json:"-"`
}

// BatchResult is every item plus the combined plain-text report.
type BatchResult struct {
	Items    []BatchItem `json:"items"`
	Combined string      `json:"combined_report"`
	Degraded bool        `json:"degraded"`
}

// BatchAnalyze analyses each file in basic mode, in order. A file that fails
// validation is reported as an error item; the batch itself never fails.
func (o *Orchestrator) BatchAnalyze(ctx context.Context, files []model.EvidenceFile) BatchResult {
	items := make([]BatchItem, 0, len(files))
	var degraded bool
	for _, file := range files {
		o.logger.Info("analyzing batch item", "file", file.Name)
		res, err := o.Analyze(ctx, file, model.ModeBasic)
		if err != nil {
			msg := err.Error()
			if e, ok := errordefs.As(err); ok {
				msg = e.Message
			}
			items = append(items, BatchItem{
				Filename: file.Name,
				Status:   StatusError,
				Analysis: "Analysis failed: " + msg,
			})
			continue
		}
		degraded = degraded || res.Degraded
		items = append(items, BatchItem{
			Filename: res.Filename,
			Status:   StatusSuccess,
			Analysis: res.Narrative,
			Result:   &res,
		})
	}
	return BatchResult{Items: items, Combined: CombinedReport(items), Degraded: degraded}
}

// CombinedReport renders items as one plain-text report.
func CombinedReport(items []BatchItem) string {
	var b strings.Builder
	b.WriteString("COMBINED EVIDENCE ANALYSIS REPORT\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	for _, it := range items {
		b.WriteString("FILE: " + it.Filename + "\n")
		b.WriteString("STATUS: " + strings.ToUpper(it.Status) + "\n")
		b.WriteString("ANALYSIS:\n" + it.Analysis + "\n")
		b.WriteString(strings.Repeat("-", 50) + "\n\n")
	}
	return b.String()
}
