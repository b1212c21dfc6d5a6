// internal/model/media.go
package model

// MediaAnalysis is the normalized output of one provider run over one file.
// Exactly one of Video or Image is set, matching Category.
type MediaAnalysis struct {
	Category Category       `json:"category"`
	Video    *VideoAnalysis `json:"video,omitempty"`
	Image    *ImageAnalysis `json:"image,omitempty"`
	Summary  MediaSummary   `json:"summary"`
}

// VideoAnalysis holds the normalized slices of a video annotation.
// An empty slice means nothing was detected.
type VideoAnalysis struct {
	SceneSegments  []SceneSegment  `json:"scene_segments"`
	ObjectTracks   []ObjectTrack   `json:"object_tracks"`
	TextDetections []TextDetection `json:"text_detections"`
	ExplicitFrames []ExplicitFrame `json:"explicit_frames"`
}

// SceneSegment is a labelled stretch of video.
type SceneSegment struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	StartS     float64 `json:"start_s"`
	EndS       float64 `json:"end_s"`
}

// ObjectTrack is one tracked entity, anchored at its first appearance.
type ObjectTrack struct {
	Entity     string  `json:"entity"`
	Confidence float64 `json:"confidence"`
	TrackID    int64   `json:"track_id"`
	StartS     float64 `json:"start_s"`
}

// TextDetection is on-screen text seen at a point in time.
type TextDetection struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	TimestampS float64 `json:"timestamp_s"`
}

// ExplicitFrame is an explicit-content verdict for one frame.
type ExplicitFrame struct {
	TimestampS float64 `json:"timestamp_s"`
	Likelihood string  `json:"pornography_likelihood"`
}

// ImageAnalysis holds the normalized slices of an image annotation.
type ImageAnalysis struct {
	Faces      []Face           `json:"faces"`
	Objects    []DetectedObject `json:"objects"`
	Texts      []TextBlock      `json:"texts"`
	Labels     []Label          `json:"labels"`
	SafeSearch SafeSearch       `json:"safe_search"`
}

// Vertex is a bounding polygon corner. Object vertices are normalized to [0,1],
// face and text vertices are pixels.
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Face carries emotion likelihood names and the detection box.
type Face struct {
	Joy                 string   `json:"joy_likelihood"`
	Sorrow              string   `json:"sorrow_likelihood"`
	Anger               string   `json:"anger_likelihood"`
	Surprise            string   `json:"surprise_likelihood"`
	Headwear            string   `json:"headwear_likelihood"`
	DetectionConfidence float64  `json:"detection_confidence"`
	BoundingBox         []Vertex `json:"bounding_poly"`
}

// DetectedObject is a localized object.
type DetectedObject struct {
	Name        string   `json:"name"`
	Confidence  float64  `json:"confidence"`
	BoundingBox []Vertex `json:"bounding_poly"`
}

// TextBlock is a block of text found in an image.
type TextBlock struct {
	Text        string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	BoundingBox []Vertex `json:"bounding_poly"`
}

// Label is a whole-image classification.
type Label struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Topicality  float64 `json:"topicality"`
}

// SafeSearch carries the five content-safety likelihood names.
// A zero value means the annotation was missing or unreadable.
type SafeSearch struct {
	Adult    string `json:"adult,omitempty"`
	Spoof    string `json:"spoof,omitempty"`
	Medical  string `json:"medical,omitempty"`
	Violence string `json:"violence,omitempty"`
	Racy     string `json:"racy,omitempty"`
}

// MediaSummary flattens to the summary of whichever category produced it.
type MediaSummary struct {
	*VideoSummary
	*ImageSummary
}

// VideoSummary condenses a VideoAnalysis.
type VideoSummary struct {
	TotalObjectsDetected int      `json:"total_objects_detected"`
	ObjectsList          []string `json:"objects_list"`
	ScenesDetected       int      `json:"scenes_detected"`
	SceneTypes           []string `json:"scene_types"`
	HasText              bool     `json:"has_text"`
	KeyEventsCount       int      `json:"key_events_count"`
	AnalysisConfidence   string   `json:"analysis_confidence"`
}

// ImageSummary condenses an ImageAnalysis.
type ImageSummary struct {
	FacesDetected    int        `json:"faces_detected"`
	ObjectsDetected  int        `json:"objects_detected"`
	TextFound        bool       `json:"text_found"`
	LabelsIdentified int        `json:"labels_identified"`
	ContentSafety    SafeSearch `json:"content_safety"`
}

// TimelineEvent is one entry of a synthesized timeline. It is derived from a
// MediaAnalysis and never stored on its own.
type TimelineEvent struct {
	TimestampS  float64   `json:"timestamp"`
	Formatted   string    `json:"timestamp_formatted"`
	Description string    `json:"event"`
	Confidence  float64   `json:"confidence"`
	Kind        EventKind `json:"type"`
}

// EventKind names the source stream of a timeline event.
type EventKind string

const (
	EventObject EventKind = "object"
	EventScene  EventKind = "scene"
	EventText   EventKind = "text"
)

// Timeline is ordered ascending by timestamp with near-duplicates removed.
type Timeline []TimelineEvent
