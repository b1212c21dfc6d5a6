package keyframe

import (
	"context"
	"encoding/base64"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

func TestParseFrameRate(t *testing.T) {
	tests := map[string]float64{
		"25":           25,
		"30000/1001\n": 30000.0 / 1001.0,
		"0/0":          DefaultFPS,
		"":             DefaultFPS,
		"N/A":          DefaultFPS,
		"-5":           DefaultFPS,
		"24/1\n24/1\n": 24,
	}
	for raw, want := range tests {
		assert.InDelta(t, want, ParseFrameRate(raw), 1e-9, "ParseFrameRate(%q)", raw)
	}
}

func TestFrameNumber(t *testing.T) {
	assert.Equal(t, int64(0), FrameNumber(0, 30))
	assert.Equal(t, int64(45), FrameNumber(1.5, 30))
	assert.Equal(t, int64(74), FrameNumber(2.49, 29.97))
	assert.Equal(t, int64(0), FrameNumber(-3, 30))
}

func TestNewMissingBinary(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "no-ffmpeg-here"), nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestExtractNoTimestamps(t *testing.T) {
	e := &Extractor{ffmpeg: "unused"}
	frames, err := e.Extract(context.Background(), model.EvidenceFile{Name: "a.mp4"}, nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

// TestExtractWithFFmpeg runs only where ffmpeg is installed.
func TestExtractWithFFmpeg(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	video := filepath.Join(t.TempDir(), "clip.mp4")
	gen := exec.Command(ffmpeg, "-v", "error", "-f", "lavfi", "-i", "testsrc=duration=3:size=64x64:rate=25",
		"-c:v", "mpeg4", "-y", video)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot synthesize test video: %v: %s", err, out)
	}
	content, err := os.ReadFile(video)
	require.NoError(t, err)

	e, err := New(ffmpeg, nil)
	require.NoError(t, err)

	frames, err := e.Extract(context.Background(), model.NewEvidenceFile("clip.mp4", content, ""), []float64{0.5, 2.0})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, "00:02", frames[1].Formatted)
	jpeg, err := base64.StdEncoding.DecodeString(frames[0].ImageData)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, jpeg[:2])
	if e.ffprobe != "" {
		assert.Equal(t, int64(50), frames[1].FrameNumber)
	}
}
