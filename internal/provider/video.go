// internal/provider/video.go
package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

const videoIntelligenceBase = "https://videointelligence.googleapis.com"

// VideoFeatures are requested on every annotation.
var VideoFeatures = []string{
	"LABEL_DETECTION",
	"OBJECT_TRACKING",
	"SHOT_CHANGE_DETECTION",
	"EXPLICIT_CONTENT_DETECTION",
	"TEXT_DETECTION",
}

// VideoClient runs Video Intelligence annotation as a long-running operation
// and waits for it to finish.
type VideoClient struct {
	rest         restClient
	pollInterval time.Duration
}

// NewVideoClient returns a client using token, or apiKey when token is empty.
func NewVideoClient(token, apiKey string, opts ...Option) *VideoClient {
	return &VideoClient{
		rest:         newRESTClient(videoIntelligenceBase, token, apiKey, opts...),
		pollInterval: 2 * time.Second,
	}
}

// WithPollInterval changes how often the operation is polled.
func (v *VideoClient) WithPollInterval(d time.Duration) *VideoClient {
	v.pollInterval = d
	return v
}

func (v *VideoClient) Name() string { return "video-intelligence" }

type annotateVideoRequest struct {
	InputContent string   `json:"inputContent"`
	Features     []string `json:"features"`
}

type operation struct {
	Name     string       `json:"name"`
	Done     bool         `json:"done"`
	Error    *googleError `json:"error"`
	Response *struct {
		AnnotationResults []json.RawMessage `json:"annotationResults"`
	} `json:"response"`
}

// Annotate returns annotationResults[0] of the finished operation. It polls
// until the operation is done or ctx expires.
func (v *VideoClient) Annotate(ctx context.Context, file model.EvidenceFile) (json.RawMessage, error) {
	req := annotateVideoRequest{
		InputContent: base64.StdEncoding.EncodeToString(file.Content),
		Features:     VideoFeatures,
	}
	var op operation
	if err := v.rest.postJSON(ctx, "/v1/videos:annotate", req, &op); err != nil {
		return nil, fmt.Errorf("start video annotation: %w", err)
	}

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()
	for !op.Done {
		if op.Name == "" {
			return nil, errors.New("video annotation returned no operation name")
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video annotation %s: %w", op.Name, ctx.Err())
		case <-ticker.C:
		}
		name := op.Name
		op = operation{}
		if err := v.rest.getJSON(ctx, "/v1/"+name, &op); err != nil {
			return nil, fmt.Errorf("poll video annotation: %w", err)
		}
		if op.Name == "" {
			op.Name = name
		}
	}

	if op.Error != nil {
		return nil, op.Error.asAPIError()
	}
	if op.Response == nil || len(op.Response.AnnotationResults) == 0 {
		return nil, errors.New("video annotation finished without results")
	}
	return op.Response.AnnotationResults[0], nil
}
