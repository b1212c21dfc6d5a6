// internal/features/aggregator.go
// Package features normalizes provider-native video and image annotations
// into the MediaAnalysis shape used by the rest of the service.
//
// Every section of a payload is parsed by its own sub-parser. A section that
// fails to parse yields an empty slice and is logged; the remaining sections
// are still parsed.
package features

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	errordefs "github.com/RegistryAccord/registryaccord-evidence-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

const (
	// Both floors apply to the clamped score before rounding, so a kept
	// segment or label may be reported at exactly the floor (0.5004 -> 0.5).

	// SceneConfidenceFloor: scene segments must score strictly above it.
	SceneConfidenceFloor = 0.5
	// LabelConfidenceFloor: image labels must score strictly above it.
	LabelConfidenceFloor = 0.7
	// highConfidenceTracks: more object tracks than this rate the analysis "high".
	highConfidenceTracks = 5
	// maxListedObjects bounds the object names repeated in a video summary.
	maxListedObjects = 10
)

// Aggregator turns raw provider payloads into MediaAnalysis values.
// It holds no state between calls.
type Aggregator struct {
	logger *slog.Logger
}

// New returns an Aggregator that logs sub-parser failures to logger.
// A nil logger uses slog.Default().
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Aggregate parses raw for the given category. It fails only when the payload
// is not a JSON object or the category has no structured analysis; both are
// EVD_ADVANCED_FAILURE errors.
func (a *Aggregator) Aggregate(raw json.RawMessage, category model.Category) (model.MediaAnalysis, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return model.MediaAnalysis{}, errordefs.Wrap(errordefs.EVD_ADVANCED_FAILURE, "provider payload is not an object", err)
	}
	p := &parser{sections: sections, logger: a.logger.With("category", string(category))}

	switch category {
	case model.CategoryVideo:
		video := p.video()
		return model.MediaAnalysis{
			Category: category,
			Video:    video,
			Summary:  model.MediaSummary{VideoSummary: summarizeVideo(video)},
		}, nil
	case model.CategoryImage:
		image := p.image()
		return model.MediaAnalysis{
			Category: category,
			Image:    image,
			Summary:  model.MediaSummary{ImageSummary: summarizeImage(image)},
		}, nil
	default:
		return model.MediaAnalysis{}, errordefs.New(errordefs.EVD_ADVANCED_FAILURE,
			fmt.Sprintf("no structured analysis for %s evidence", category), "")
	}
}

type parser struct {
	sections map[string]json.RawMessage
	logger   *slog.Logger
}

// section decodes one named section into dst. Missing or null sections leave
// dst untouched and are not failures.
func (p *parser) section(name string, dst any) bool {
	raw, ok := p.sections[name]
	if !ok || string(raw) == "null" {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		p.logger.Warn("sub-parser failed, continuing without it", "section", name, "error", err)
		return false
	}
	return true
}

// guard runs one sub-parser, turning a panic into a logged empty result.
func (p *parser) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("sub-parser panicked, continuing without it", "section", name, "panic", r)
		}
	}()
	fn()
}

func summarizeVideo(v *model.VideoAnalysis) *model.VideoSummary {
	objects := distinct(len(v.ObjectTracks), func(i int) string { return v.ObjectTracks[i].Entity })
	scenes := distinct(len(v.SceneSegments), func(i int) string { return v.SceneSegments[i].Label })

	listed := objects
	if len(listed) > maxListedObjects {
		listed = listed[:maxListedObjects]
	}
	confidence := "medium"
	if len(v.ObjectTracks) > highConfidenceTracks {
		confidence = "high"
	}
	return &model.VideoSummary{
		TotalObjectsDetected: len(objects),
		ObjectsList:          listed,
		ScenesDetected:       len(scenes),
		SceneTypes:           scenes,
		HasText:              len(v.TextDetections) > 0,
		KeyEventsCount:       0,
		AnalysisConfidence:   confidence,
	}
}

func summarizeImage(img *model.ImageAnalysis) *model.ImageSummary {
	return &model.ImageSummary{
		FacesDetected:    len(img.Faces),
		ObjectsDetected:  len(img.Objects),
		TextFound:        len(img.Texts) > 0,
		LabelsIdentified: len(img.Labels),
		ContentSafety:    img.SafeSearch,
	}
}

// distinct returns the distinct values in first-seen order.
func distinct(n int, at func(int) string) []string {
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v := at(i)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// clamp01 bounds a confidence to [0,1]; NaN becomes 0.
func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// round3 rounds to three decimals.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// seconds bounds a timestamp to be non-negative.
func seconds(o offset) float64 {
	v := float64(o)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func vertices(in []vertex) []model.Vertex {
	out := make([]model.Vertex, len(in))
	for i, v := range in {
		out[i] = model.Vertex{X: v.X, Y: v.Y}
	}
	return out
}
