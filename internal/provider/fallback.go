// internal/provider/fallback.go
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

// FallbackName identifies narratives produced by the Fallback.
const FallbackName = "fallback"

const fallbackTemplate = `
EVIDENCE ANALYSIS REPORT (FALLBACK MODE)
========================================

File Information:
- Filename: %s
- File Size: %d bytes
- Analysis Date: %s

Status: Vertex AI service temporarily unavailable due to network issues.

Basic File Analysis:
- File has been successfully uploaded and stored
- Basic metadata extracted
- Ready for manual review by investigators

Recommended Actions:
1. Check internet connection
2. Verify Google Cloud credentials
3. Try uploading the file again
4. Contact system administrator if issue persists

Note: This is a fallback analysis. For full AI-powered analysis, ensure:
- Stable internet connection
- Valid Google Cloud credentials
- Proper SSL configuration
`

// Fallback writes a fixed-format report from file metadata alone. It never fails.
type Fallback struct {
	now func() time.Time
}

// NewFallback returns a Fallback using the wall clock.
func NewFallback() *Fallback { return &Fallback{now: time.Now} }

// WithClock replaces the clock used for the analysis date.
func (f *Fallback) WithClock(now func() time.Time) *Fallback {
	return &Fallback{now: now}
}

func (f *Fallback) Name() string { return FallbackName }

// Report renders the fallback report for file.
func (f *Fallback) Report(file model.EvidenceFile) string {
	return fmt.Sprintf(fallbackTemplate, file.Name, file.Size(), f.now().Format("2006-01-02 15:04:05"))
}

// Narrate implements Narrator; the instruction is ignored.
func (f *Fallback) Narrate(_ context.Context, _ string, file model.EvidenceFile) (string, error) {
	return f.Report(file), nil
}
