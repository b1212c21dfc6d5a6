// internal/qa/responder.go
// Package qa answers free-text investigator questions against a stored
// analysis. Answers point the reader at the report section that covers the
// question; they are keyword-driven and deterministic.
package qa

import (
	"fmt"
	"strings"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

// Confidence is reported with every answer regardless of the branch taken.
const Confidence = 0.85

var (
	timelineWords = []string{"timeline", "when", "time", "sequence"}
	objectWords   = []string{"object", "item", "thing", "track"}
	sceneWords    = []string{"scene", "location", "setting", "background"}
	vehicleWords  = []string{"vehicle", "car", "plate"}
	timeWords     = []string{"time", "when"}
	personWords   = []string{"person", "people", "face"}
	placeWords    = []string{"location", "where"}
)

const (
	vehicleRegional = "Vehicle information detected in the analysis. Tamil Nadu license plates and vehicle descriptions are available in the detailed report."
	vehicleGeneric  = "Vehicle-related information may be present in the evidence. Check the detailed analysis for specific vehicle observations."
	timeAnswer      = "Timestamps and temporal analysis are included in the evidence report. Refer to the chronological timeline section."
	personAnswer    = "Person and facial analysis details are available in the evidence report. Check the face analysis and object tracking sections."
	placeRegional   = "Location information specific to Tamil Nadu is mentioned in the analysis. Refer to the location details in the report."
	placeGeneric    = "Geographic and location analysis is part of the evidence examination. Check the detailed report for specific location information."
	genericAnswer   = "The evidence analysis contains detailed observations relevant to your investigation. For specific details, please refer to the comprehensive report sections covering scene analysis, object tracking, and key findings."
)

// Answer maps question onto the first matching branch, in order: timeline,
// tracked objects, scene changes, question keywords (with regional checks
// against the narrative), then a generic pointer to the report.
func Answer(question, narrative string, features *model.AdvancedFeatures) model.Answer {
	return model.Answer{Text: answerText(strings.ToLower(question), strings.ToLower(narrative), features), Confidence: Confidence}
}

func answerText(q, narrative string, f *model.AdvancedFeatures) string {
	if f.HasTimeline() && containsAny(q, timelineWords) {
		tl := *f.Timeline
		text := fmt.Sprintf("Advanced timeline analysis detected %d key events. ", len(tl))
		if len(tl) > 0 {
			formatted := tl[0].Formatted
			if formatted == "" {
				formatted = "unknown"
			}
			text += fmt.Sprintf("First event at %s: %s", formatted, tl[0].Description)
		}
		return text + " Full timeline available in the detailed report."
	}
	if f != nil && f.ObjectsTracked > 0 && containsAny(q, objectWords) {
		return fmt.Sprintf("Object tracking detected %d objects. Detailed object analysis available in the report.", f.ObjectsTracked)
	}
	if f != nil && f.SceneChanges > 0 && containsAny(q, sceneWords) {
		return fmt.Sprintf("Scene analysis identified %d scene changes. Environmental context available in detailed analysis.", f.SceneChanges)
	}

	switch {
	case containsAny(q, vehicleWords):
		if strings.Contains(narrative, "tn") {
			return vehicleRegional
		}
		return vehicleGeneric
	case containsAny(q, timeWords):
		return timeAnswer
	case containsAny(q, personWords):
		return personAnswer
	case containsAny(q, placeWords):
		if strings.Contains(narrative, "chennai") || strings.Contains(narrative, "tamil nadu") {
			return placeRegional
		}
		return placeGeneric
	default:
		return genericAnswer
	}
}

// containsAny matches substrings, so "sometimes" counts as "time".
func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
