package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

func timelineOf(events ...model.TimelineEvent) *model.Timeline {
	tl := model.Timeline(events)
	return &tl
}

func TestAnswerPriority(t *testing.T) {
	video := &model.AdvancedFeatures{
		Category:       model.CategoryVideo,
		ObjectsTracked: 3,
		SceneChanges:   2,
		Timeline: timelineOf(
			model.TimelineEvent{TimestampS: 4, Formatted: "00:04", Description: "car detected", Kind: model.EventObject},
			model.TimelineEvent{TimestampS: 9, Formatted: "00:09", Description: "Scene change: street", Kind: model.EventScene},
		),
	}

	tests := []struct {
		name      string
		question  string
		narrative string
		features  *model.AdvancedFeatures
		want      string
	}{
		{
			name:      "objects beat narrative keywords",
			question:  "what objects were tracked?",
			narrative: "A white vehicle with TN plates is visible.",
			features:  video,
			want:      "Object tracking detected 3 objects. Detailed object analysis available in the report.",
		},
		{
			name:     "timeline first",
			question: "When did it happen?",
			features: video,
			want:     "Advanced timeline analysis detected 2 key events. First event at 00:04: car detected Full timeline available in the detailed report.",
		},
		{
			name:     "empty timeline still answers",
			question: "show me the sequence",
			features: &model.AdvancedFeatures{Timeline: timelineOf()},
			want:     "Advanced timeline analysis detected 0 key events.  Full timeline available in the detailed report.",
		},
		{
			name:     "scenes",
			question: "What is in the background?",
			features: video,
			want:     "Scene analysis identified 2 scene changes. Environmental context available in detailed analysis.",
		},
		{
			name:     "zero tracked objects falls through",
			question: "which items are shown?",
			features: &model.AdvancedFeatures{Category: model.CategoryImage},
			want:     genericAnswer,
		},
		{
			name:      "vehicle with regional plate",
			question:  "Is there a car?",
			narrative: "Plate reads TN 09 AB 1234",
			want:      vehicleRegional,
		},
		{
			name:      "vehicle without regional plate",
			question:  "Any vehicle?",
			narrative: "a bicycle near a wall",
			want:      vehicleGeneric,
		},
		{
			name:     "time without timeline",
			question: "what time was it recorded",
			want:     timeAnswer,
		},
		{
			name:     "people",
			question: "How many people?",
			want:     personAnswer,
		},
		{
			name:      "location with named city",
			question:  "Where was this?",
			narrative: "Recorded near Chennai Central.",
			want:      placeRegional,
		},
		{
			name:     "location generic",
			question: "where was this?",
			want:     placeGeneric,
		},
		{
			name:     "generic",
			question: "summarize",
			want:     genericAnswer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Answer(tt.question, tt.narrative, tt.features)
			assert.Equal(t, tt.want, got.Text)
			assert.Equal(t, Confidence, got.Confidence)
		})
	}
}

func TestAnswerMissingFormattedTimestamp(t *testing.T) {
	f := &model.AdvancedFeatures{Timeline: timelineOf(model.TimelineEvent{Description: "person detected"})}

	got := Answer("timeline?", "", f)

	assert.Contains(t, got.Text, "First event at unknown: person detected")
}
