// internal/features/wire.go
package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire shapes of the Video Intelligence and Vision REST responses. Only the
// fields the aggregator reads are declared.

type entity struct {
	Description string `json:"description"`
}

type segment struct {
	StartTimeOffset offset `json:"startTimeOffset"`
	EndTimeOffset   offset `json:"endTimeOffset"`
}

type labelSegment struct {
	Segment    segment `json:"segment"`
	Confidence float64 `json:"confidence"`
}

type segmentLabelAnnotation struct {
	Entity   entity         `json:"entity"`
	Segments []labelSegment `json:"segments"`
}

type objectAnnotation struct {
	Entity     entity    `json:"entity"`
	Confidence float64   `json:"confidence"`
	TrackID    flexInt64 `json:"trackId"`
	Segment    segment   `json:"segment"`
}

type textSegment struct {
	Segment    segment `json:"segment"`
	Confidence float64 `json:"confidence"`
}

type videoTextAnnotation struct {
	Text     string        `json:"text"`
	Segments []textSegment `json:"segments"`
}

type explicitFrame struct {
	TimeOffset            offset     `json:"timeOffset"`
	PornographyLikelihood likelihood `json:"pornographyLikelihood"`
}

type explicitAnnotation struct {
	Frames []explicitFrame `json:"frames"`
}

type vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type boundingPoly struct {
	Vertices           []vertex `json:"vertices"`
	NormalizedVertices []vertex `json:"normalizedVertices"`
}

type faceAnnotation struct {
	BoundingPoly        boundingPoly `json:"boundingPoly"`
	DetectionConfidence float64      `json:"detectionConfidence"`
	JoyLikelihood       likelihood   `json:"joyLikelihood"`
	SorrowLikelihood    likelihood   `json:"sorrowLikelihood"`
	AngerLikelihood     likelihood   `json:"angerLikelihood"`
	SurpriseLikelihood  likelihood   `json:"surpriseLikelihood"`
	HeadwearLikelihood  likelihood   `json:"headwearLikelihood"`
}

type localizedObjectAnnotation struct {
	Name         string       `json:"name"`
	Score        float64      `json:"score"`
	BoundingPoly boundingPoly `json:"boundingPoly"`
}

type imageTextAnnotation struct {
	Description  string       `json:"description"`
	Confidence   float64      `json:"confidence"`
	BoundingPoly boundingPoly `json:"boundingPoly"`
}

type labelAnnotation struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Topicality  float64 `json:"topicality"`
}

type safeSearchAnnotation struct {
	Adult    likelihood `json:"adult"`
	Spoof    likelihood `json:"spoof"`
	Medical  likelihood `json:"medical"`
	Violence likelihood `json:"violence"`
	Racy     likelihood `json:"racy"`
}

// offset is a protobuf Duration in seconds. It accepts the JSON string form
// ("1.500s") and the object form ({"seconds":"1","nanos":500000000}).
type offset float64

func (o *offset) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*o = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*o = 0
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("time offset %q: %w", s, err)
		}
		*o = offset(d.Seconds())
		return nil
	}
	var obj struct {
		Seconds flexInt64 `json:"seconds"`
		Nanos   int64     `json:"nanos"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("time offset: %w", err)
	}
	*o = offset(float64(obj.Seconds) + float64(obj.Nanos)/1e9)
	return nil
}

// flexInt64 accepts int64 values encoded as JSON numbers or strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("integer %q: %w", s, err)
	}
	*f = flexInt64(n)
	return nil
}

// likelihood is a Vision/Video Intelligence Likelihood enum, carried as its name.
type likelihood string

var likelihoodNames = []string{"UNKNOWN", "VERY_UNLIKELY", "UNLIKELY", "POSSIBLE", "LIKELY", "VERY_LIKELY"}

func (l *likelihood) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = likelihood(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("likelihood: %w", err)
	}
	if n < 0 || n >= len(likelihoodNames) {
		return fmt.Errorf("likelihood %d out of range", n)
	}
	*l = likelihood(likelihoodNames[n])
	return nil
}

// name returns the enum name, UNKNOWN when absent.
func (l likelihood) name() string {
	if l == "" || l == "LIKELIHOOD_UNSPECIFIED" {
		return "UNKNOWN"
	}
	return string(l)
}
