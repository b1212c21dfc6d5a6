// internal/timeline/timeline.go
// Package timeline merges the object, scene and text streams of a video
// analysis into one ordered, deduplicated list of notable events.
package timeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

const (
	// DedupWindow is the minimum gap in seconds between two kept events.
	DedupWindow = 1.0
	// MaxEvents caps the synthesized timeline.
	MaxEvents = 15
	// textPreviewRunes is how much of a text detection is quoted.
	textPreviewRunes = 50
	// noEventYet sits below any real timestamp so the first event is always kept.
	noEventYet = -10.0
)

// Build synthesizes the timeline of a video analysis. A nil analysis
// yields an empty, non-nil timeline.
func Build(video *model.VideoAnalysis) model.Timeline {
	if video == nil {
		return model.Timeline{}
	}
	return Collapse(Events(video))
}

// Events emits one event per object track, scene segment and text detection,
// in that source order, without sorting or deduplication.
func Events(video *model.VideoAnalysis) []model.TimelineEvent {
	events := make([]model.TimelineEvent, 0,
		len(video.ObjectTracks)+len(video.SceneSegments)+len(video.TextDetections))

	for _, obj := range video.ObjectTracks {
		events = append(events, newEvent(obj.StartS, obj.Entity+" detected", obj.Confidence, model.EventObject))
	}
	for _, scene := range video.SceneSegments {
		events = append(events, newEvent(scene.StartS, "Scene change: "+scene.Label, scene.Confidence, model.EventScene))
	}
	for _, text := range video.TextDetections {
		events = append(events, newEvent(text.TimestampS, "Text detected: "+preview(text.Text)+"...", text.Confidence, model.EventText))
	}
	return events
}

// Collapse sorts events by time, keeps an event only when it is more than
// DedupWindow after the last kept one, and truncates to MaxEvents.
// The input slice is not modified.
func Collapse(events []model.TimelineEvent) model.Timeline {
	sorted := make([]model.TimelineEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampS < sorted[j].TimestampS
	})

	out := make(model.Timeline, 0, min(len(sorted), MaxEvents))
	lastKept := noEventYet
	for _, ev := range sorted {
		if len(out) == MaxEvents {
			break
		}
		if ev.TimestampS-lastKept > DedupWindow {
			out = append(out, ev)
			lastKept = ev.TimestampS
		}
	}
	return out
}

// FormatClock renders seconds as zero-padded mm:ss. Minutes are not wrapped
// at an hour, so 3725 seconds renders as "62:05".
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	minutes := int64(math.Floor(seconds / 60))
	secs := int64(math.Floor(math.Mod(seconds, 60)))
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

func newEvent(at float64, description string, confidence float64, kind model.EventKind) model.TimelineEvent {
	return model.TimelineEvent{
		TimestampS:  at,
		Formatted:   FormatClock(at),
		Description: description,
		Confidence:  confidence,
		Kind:        kind,
	}
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= textPreviewRunes {
		return text
	}
	return string(runes[:textPreviewRunes])
}
