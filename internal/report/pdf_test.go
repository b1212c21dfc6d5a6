package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/locale"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	catalog, err := locale.New("en")
	require.NoError(t, err)
	r, err := NewRenderer(catalog, WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }))
	require.NoError(t, err)
	r.compress = false
	return r
}

func TestRenderBasicReport(t *testing.T) {
	r := newTestRenderer(t)

	out, err := r.Render(context.Background(), Input{
		ID: "01HZX", Filename: "scene.jpg", Language: "en", Narrative: "A red car near the gate.",
	})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Contains(t, string(out), "Evidence Analysis Report")
	assert.Contains(t, string(out), "A red car near the gate.")
	assert.NotContains(t, string(out), "Event Timeline")
}

func TestRenderAdvancedVideoReport(t *testing.T) {
	r := newTestRenderer(t)
	tl := model.Timeline{
		{TimestampS: 0, Formatted: "00:00", Description: "person detected", Confidence: 0.91},
		{TimestampS: 65, Formatted: "01:05", Description: "Scene change: street", Confidence: 0.7},
	}

	out, err := r.Render(context.Background(), Input{
		ID: "ev-1", Filename: "cctv.mp4", Language: "en", Narrative: "Two people walk past.",
		Advanced: &model.AdvancedFeatures{
			Category: model.CategoryVideo,
			Timeline: &tl,
			Summary: &model.MediaSummary{VideoSummary: &model.VideoSummary{
				TotalObjectsDetected: 1, ObjectsList: []string{"person"}, AnalysisConfidence: "medium",
			}},
		},
	})
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "Analysis Summary")
	assert.Contains(t, s, "person")
	assert.Contains(t, s, "Event Timeline")
	assert.Contains(t, s, "01:05")
	assert.Contains(t, s, "0.91")
}

func TestRenderNonLatinWithoutFont(t *testing.T) {
	r := newTestRenderer(t)
	require.False(t, r.UnicodeCapable())

	out, err := r.Render(context.Background(), Input{
		ID: "r", Filename: "a.jpg", Language: "ta", Narrative: "சான்று analysis",
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "Evidence Analysis Report", "headings fall back to English")
	assert.Contains(t, string(out), "analysis")
}

func TestRenderHonoursContext(t *testing.T) {
	r := newTestRenderer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, Input{ID: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithFontMissingFile(t *testing.T) {
	catalog, err := locale.New("en")
	require.NoError(t, err)
	_, err = NewRenderer(catalog, WithFont("/does/not/exist.ttf"))
	assert.Error(t, err)
}

func TestLatin1AndTruncate(t *testing.T) {
	assert.Equal(t, "café ??", Latin1("café हि"))
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
