// internal/features/image.go
package features

import (
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

// image runs the five image sub-parsers over an images:annotate response entry.
func (p *parser) image() *model.ImageAnalysis {
	img := &model.ImageAnalysis{
		Faces:   []model.Face{},
		Objects: []model.DetectedObject{},
		Texts:   []model.TextBlock{},
		Labels:  []model.Label{},
	}
	p.guard("faceAnnotations", func() { img.Faces = p.faces() })
	p.guard("localizedObjectAnnotations", func() { img.Objects = p.objects() })
	p.guard("textAnnotations", func() { img.Texts = p.imageTexts() })
	p.guard("labelAnnotations", func() { img.Labels = p.labels() })
	p.guard("safeSearchAnnotation", func() { img.SafeSearch = p.safeSearch() })
	return img
}

func (p *parser) faces() []model.Face {
	out := []model.Face{}
	var anns []faceAnnotation
	if !p.section("faceAnnotations", &anns) {
		return out
	}
	for _, f := range anns {
		out = append(out, model.Face{
			Joy:                 f.JoyLikelihood.name(),
			Sorrow:              f.SorrowLikelihood.name(),
			Anger:               f.AngerLikelihood.name(),
			Surprise:            f.SurpriseLikelihood.name(),
			Headwear:            f.HeadwearLikelihood.name(),
			DetectionConfidence: round3(clamp01(f.DetectionConfidence)),
			BoundingBox:         vertices(f.BoundingPoly.Vertices),
		})
	}
	return out
}

func (p *parser) objects() []model.DetectedObject {
	out := []model.DetectedObject{}
	var anns []localizedObjectAnnotation
	if !p.section("localizedObjectAnnotations", &anns) {
		return out
	}
	for _, o := range anns {
		out = append(out, model.DetectedObject{
			Name:        o.Name,
			Confidence:  round3(clamp01(o.Score)),
			BoundingBox: vertices(o.BoundingPoly.NormalizedVertices),
		})
	}
	return out
}

func (p *parser) imageTexts() []model.TextBlock {
	out := []model.TextBlock{}
	var anns []imageTextAnnotation
	if !p.section("textAnnotations", &anns) {
		return out
	}
	for _, t := range anns {
		out = append(out, model.TextBlock{
			Text:        t.Description,
			Confidence:  round3(clamp01(t.Confidence)),
			BoundingBox: vertices(t.BoundingPoly.Vertices),
		})
	}
	return out
}

func (p *parser) labels() []model.Label {
	out := []model.Label{}
	var anns []labelAnnotation
	if !p.section("labelAnnotations", &anns) {
		return out
	}
	for _, l := range anns {
		conf := clamp01(l.Score)
		if conf <= LabelConfidenceFloor {
			continue
		}
		out = append(out, model.Label{
			Description: l.Description,
			Confidence:  round3(conf),
			Topicality:  round3(clamp01(l.Topicality)),
		})
	}
	return out
}

func (p *parser) safeSearch() model.SafeSearch {
	var ann safeSearchAnnotation
	if !p.section("safeSearchAnnotation", &ann) {
		return model.SafeSearch{}
	}
	return model.SafeSearch{
		Adult:    ann.Adult.name(),
		Spoof:    ann.Spoof.name(),
		Medical:  ann.Medical.name(),
		Violence: ann.Violence.name(),
		Racy:     ann.Racy.name(),
	}
}
