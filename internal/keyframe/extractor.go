// internal/keyframe/extractor.go
// Package keyframe pulls still frames out of a video at given timestamps
// using the ffmpeg and ffprobe binaries.
package keyframe

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/timeline"
)

// DefaultFPS is assumed when ffprobe cannot report a frame rate.
const DefaultFPS = 30.0

// ErrUnavailable is returned by New when ffmpeg cannot be found.
var ErrUnavailable = errors.New("ffmpeg not available")

// Extractor runs ffmpeg once per requested frame.
type Extractor struct {
	ffmpeg  string
	ffprobe string // optional
	logger  *slog.Logger
}

// New resolves ffmpegPath, or ffmpeg on PATH when empty. ffprobe is looked up
// next to ffmpeg, then on PATH; without it frame numbers assume DefaultFPS.
func New(ffmpegPath string, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffmpeg, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ffprobe, err := exec.LookPath(filepath.Join(filepath.Dir(ffmpeg), "ffprobe"))
	if err != nil {
		ffprobe, _ = exec.LookPath("ffprobe")
	}
	return &Extractor{ffmpeg: ffmpeg, ffprobe: ffprobe, logger: logger}, nil
}

// Extract returns one key frame per timestamp that could be decoded, in
// order. Individual frame failures are logged and skipped.
func (e *Extractor) Extract(ctx context.Context, file model.EvidenceFile, timestamps []float64) ([]model.KeyFrame, error) {
	if len(timestamps) == 0 {
		return []model.KeyFrame{}, nil
	}

	tmp, err := os.CreateTemp("", "evidence-*"+filepath.Ext(file.Name))
	if err != nil {
		return nil, fmt.Errorf("create temp video: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(file.Content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp video: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp video: %w", err)
	}

	fps := e.frameRate(ctx, tmp.Name())
	frames := make([]model.KeyFrame, 0, len(timestamps))
	for _, ts := range timestamps {
		jpeg, err := e.frameAt(ctx, tmp.Name(), ts)
		if err != nil {
			e.logger.Warn("key frame extraction failed", "file", file.Name, "timestamp", ts, "error", err)
			if ctx.Err() != nil {
				return frames, ctx.Err()
			}
			continue
		}
		frames = append(frames, model.KeyFrame{
			FrameNumber: FrameNumber(ts, fps),
			TimestampS:  ts,
			Formatted:   timeline.FormatClock(ts),
			ImageData:   base64.StdEncoding.EncodeToString(jpeg),
		})
	}
	return frames, nil
}

func (e *Extractor) frameAt(ctx context.Context, path string, ts float64) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(math.Max(ts, 0), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg at %.3fs: %w: %s", ts, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at %.3fs", ts)
	}
	return stdout.Bytes(), nil
}

// frameRate asks ffprobe for the first video stream's frame rate.
func (e *Extractor) frameRate(ctx context.Context, path string) float64 {
	if e.ffprobe == "" {
		return DefaultFPS
	}
	cmd := exec.CommandContext(ctx, e.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		e.logger.Debug("ffprobe frame rate failed", "error", err)
		return DefaultFPS
	}
	return ParseFrameRate(string(out))
}

// ParseFrameRate parses ffprobe rates such as "30000/1001" or "25".
// Unparseable or non-positive rates yield DefaultFPS.
func ParseFrameRate(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	num, den, found := strings.Cut(raw, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return DefaultFPS
	}
	d := 1.0
	if found {
		if d, err = strconv.ParseFloat(den, 64); err != nil || d == 0 {
			return DefaultFPS
		}
	}
	fps := n / d
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return DefaultFPS
	}
	return fps
}

// FrameNumber is floor(ts * fps).
func FrameNumber(ts, fps float64) int64 {
	if ts < 0 {
		ts = 0
	}
	return int64(math.Floor(ts * fps))
}
