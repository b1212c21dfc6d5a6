// internal/features/video.go
package features

import (
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

// video runs the four video sub-parsers over an annotationResults entry.
func (p *parser) video() *model.VideoAnalysis {
	v := &model.VideoAnalysis{
		SceneSegments:  []model.SceneSegment{},
		ObjectTracks:   []model.ObjectTrack{},
		TextDetections: []model.TextDetection{},
		ExplicitFrames: []model.ExplicitFrame{},
	}
	p.guard("segmentLabelAnnotations", func() { v.SceneSegments = p.sceneSegments() })
	p.guard("objectAnnotations", func() { v.ObjectTracks = p.objectTracks() })
	p.guard("textAnnotations", func() { v.TextDetections = p.videoTexts() })
	p.guard("explicitAnnotation", func() { v.ExplicitFrames = p.explicitFrames() })
	return v
}

func (p *parser) sceneSegments() []model.SceneSegment {
	out := []model.SceneSegment{}
	var anns []segmentLabelAnnotation
	if !p.section("segmentLabelAnnotations", &anns) {
		return out
	}
	for _, ann := range anns {
		for _, seg := range ann.Segments {
			conf := clamp01(seg.Confidence)
			if conf <= SceneConfidenceFloor {
				continue
			}
			out = append(out, model.SceneSegment{
				Label:      ann.Entity.Description,
				Confidence: round3(conf),
				StartS:     seconds(seg.Segment.StartTimeOffset),
				EndS:       seconds(seg.Segment.EndTimeOffset),
			})
		}
	}
	return out
}

func (p *parser) objectTracks() []model.ObjectTrack {
	out := []model.ObjectTrack{}
	var anns []objectAnnotation
	if !p.section("objectAnnotations", &anns) {
		return out
	}
	for _, ann := range anns {
		out = append(out, model.ObjectTrack{
			Entity:     ann.Entity.Description,
			Confidence: round3(clamp01(ann.Confidence)),
			TrackID:    int64(ann.TrackID),
			StartS:     seconds(ann.Segment.StartTimeOffset),
		})
	}
	return out
}

// videoTexts emits one detection per segment of each text annotation.
func (p *parser) videoTexts() []model.TextDetection {
	out := []model.TextDetection{}
	var anns []videoTextAnnotation
	if !p.section("textAnnotations", &anns) {
		return out
	}
	for _, ann := range anns {
		for _, seg := range ann.Segments {
			out = append(out, model.TextDetection{
				Text:       ann.Text,
				Confidence: round3(clamp01(seg.Confidence)),
				TimestampS: seconds(seg.Segment.StartTimeOffset),
			})
		}
	}
	return out
}

func (p *parser) explicitFrames() []model.ExplicitFrame {
	out := []model.ExplicitFrame{}
	var ann explicitAnnotation
	if !p.section("explicitAnnotation", &ann) {
		return out
	}
	for _, f := range ann.Frames {
		out = append(out, model.ExplicitFrame{
			TimestampS: seconds(f.TimeOffset),
			Likelihood: f.PornographyLikelihood.name(),
		})
	}
	return out
}
