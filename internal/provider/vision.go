// internal/provider/vision.go
package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

const visionBase = "https://vision.googleapis.com"

// VisionFeatures are requested on every annotation.
var VisionFeatures = []string{
	"FACE_DETECTION",
	"LABEL_DETECTION",
	"TEXT_DETECTION",
	"OBJECT_LOCALIZATION",
	"SAFE_SEARCH_DETECTION",
}

// VisionClient calls the Cloud Vision images:annotate method.
type VisionClient struct {
	rest restClient
}

// NewVisionClient returns a client using token, or apiKey when token is empty.
func NewVisionClient(token, apiKey string, opts ...Option) *VisionClient {
	return &VisionClient{rest: newRESTClient(visionBase, token, apiKey, opts...)}
}

func (v *VisionClient) Name() string { return "cloud-vision" }

type visionFeature struct {
	Type string `json:"type"`
}

type visionImage struct {
	Content string `json:"content"`
}

type imageRequest struct {
	Image    visionImage     `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionRequest struct {
	Requests []imageRequest `json:"requests"`
}

type visionResponse struct {
	Responses []json.RawMessage `json:"responses"`
}

// Annotate returns responses[0]. A per-image error object fails the call.
func (v *VisionClient) Annotate(ctx context.Context, file model.EvidenceFile) (json.RawMessage, error) {
	image := imageRequest{Image: visionImage{Content: base64.StdEncoding.EncodeToString(file.Content)}}
	for _, f := range VisionFeatures {
		image.Features = append(image.Features, visionFeature{Type: f})
	}
	req := visionRequest{Requests: []imageRequest{image}}

	var resp visionResponse
	if err := v.rest.postJSON(ctx, "/v1/images:annotate", req, &resp); err != nil {
		return nil, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, errors.New("vision annotate returned no responses")
	}

	first := resp.Responses[0]
	var probe struct {
		Error *googleError `json:"error"`
	}
	if err := json.Unmarshal(first, &probe); err == nil && probe.Error != nil {
		return nil, probe.Error.asAPIError()
	}
	return first, nil
}
