// internal/provider/generative.go
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

const (
	generativeLanguageBase = "https://generativelanguage.googleapis.com"

	// BinaryPlaceholder replaces document content that is not valid UTF-8.
	BinaryPlaceholder = "[Binary file - content not readable as text]"
)

// GenerationConfig holds the sampling settings sent with every request.
var GenerationConfig = generationConfig{
	Temperature:     0.2,
	TopP:            0.8,
	TopK:            40,
	MaxOutputTokens: 2048,
}

// GenerativeClient calls the generateContent REST method of a Gemini model,
// either on Vertex AI or on the Generative Language API.
type GenerativeClient struct {
	name string
	path string
	rest restClient
}

// NewVertex returns a client for a Vertex AI publisher model, authenticated
// with an OAuth access token.
func NewVertex(projectID, location, model, accessToken string, opts ...Option) *GenerativeClient {
	base := fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
	path := fmt.Sprintf("/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		url.PathEscape(projectID), url.PathEscape(location), url.PathEscape(model))
	return &GenerativeClient{
		name: "vertex-ai",
		path: path,
		rest: newRESTClient(base, accessToken, "", opts...),
	}
}

// NewGenerativeLanguage returns a client for the Generative Language API,
// authenticated with an API key.
func NewGenerativeLanguage(model, apiKey string, opts ...Option) *GenerativeClient {
	return &GenerativeClient{
		name: "generative-language",
		path: fmt.Sprintf("/v1beta/models/%s:generateContent", url.PathEscape(model)),
		rest: newRESTClient(generativeLanguageBase, "", apiKey, opts...),
	}
}

func (g *GenerativeClient) Name() string { return g.name }

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *googleError `json:"error"`
}

// Narrate sends the instruction and the file as one user turn and returns
// the text of the first candidate.
func (g *GenerativeClient) Narrate(ctx context.Context, instruction string, file model.EvidenceFile) (string, error) {
	req := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: instruction}, mediaPart(file)},
		}},
		GenerationConfig: GenerationConfig,
	}

	var resp generateResponse
	if err := g.rest.postJSON(ctx, g.path, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error.asAPIError()
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("no candidates in response")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty candidate (finish reason %q)", resp.Candidates[0].FinishReason)
	}
	return b.String(), nil
}

// mediaPart sends image, video and audio inline; anything else as text.
func mediaPart(file model.EvidenceFile) part {
	switch file.Category {
	case model.CategoryImage, model.CategoryVideo, model.CategoryAudio:
		return part{InlineData: &inlineData{
			MimeType: file.MimeType,
			Data:     base64.StdEncoding.EncodeToString(file.Content),
		}}
	default:
		return part{Text: DocumentText(file.Content)}
	}
}

// DocumentText decodes content as UTF-8, or returns BinaryPlaceholder.
func DocumentText(content []byte) string {
	if !utf8.Valid(content) {
		return BinaryPlaceholder
	}
	return string(content)
}
