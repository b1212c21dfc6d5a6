// internal/provider/provider.go
// Package provider wraps the analysis backends behind two capabilities:
// narrative text generation (Narrator) and structured media annotation
// (Annotator). Candidates are chosen once at start-up by Select and tried in
// order by a Chain; the deterministic Fallback report covers the case where
// none of them answer.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/config"
	errordefs "github.com/RegistryAccord/registryaccord-evidence-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

// Narrator produces narrative analysis text for one file.
type Narrator interface {
	Name() string
	Narrate(ctx context.Context, instruction string, file model.EvidenceFile) (string, error)
}

// Annotator returns the provider-native structured annotation of one file.
type Annotator interface {
	Name() string
	Annotate(ctx context.Context, file model.EvidenceFile) (json.RawMessage, error)
}

// Narration is the text returned by the first narrator that answered.
type Narration struct {
	Text     string
	Provider string
}

// Chain tries its narrators in order, each under its own timeout.
type Chain struct {
	candidates []Narrator
	timeout    time.Duration
	logger     *slog.Logger
	onFailure  func(provider string)
}

// NewChain builds a Chain over candidates. A nil logger uses slog.Default().
func NewChain(timeout time.Duration, logger *slog.Logger, candidates ...Narrator) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{candidates: candidates, timeout: timeout, logger: logger}
}

// OnFailure registers fn to be called with the name of every candidate that fails.
func (c *Chain) OnFailure(fn func(provider string)) { c.onFailure = fn }

// Names lists the candidates in the order they are tried.
func (c *Chain) Names() []string {
	names := make([]string, len(c.candidates))
	for i, n := range c.candidates {
		names[i] = n.Name()
	}
	return names
}

// Narrate returns the first successful narration. When every candidate fails,
// or none is configured, it returns an EVD_PROVIDER_UNAVAILABLE error.
func (c *Chain) Narrate(ctx context.Context, instruction string, file model.EvidenceFile) (Narration, error) {
	if len(c.candidates) == 0 {
		return Narration{}, errordefs.New(errordefs.EVD_PROVIDER_UNAVAILABLE, "no narrative provider configured", "")
	}
	var errs []error
	for _, n := range c.candidates {
		text, err := c.call(ctx, n, instruction, file)
		if err == nil {
			return Narration{Text: text, Provider: n.Name()}, nil
		}
		c.logger.Warn("narrative provider failed", "provider", n.Name(), "file", file.Name, "error", err)
		if c.onFailure != nil {
			c.onFailure(n.Name())
		}
		errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return Narration{}, errordefs.Wrap(errordefs.EVD_PROVIDER_UNAVAILABLE, "all narrative providers failed", errors.Join(errs...))
}

// call runs one candidate under the chain timeout. A candidate that ignores
// its context is abandoned when the timeout fires; its late result is dropped.
// A panicking candidate counts as a failure.
func (c *Chain) call(ctx context.Context, n Narrator, instruction string, file model.EvidenceFile) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s panicked: %v", n.Name(), r)}
			}
		}()
		text, err := n.Narrate(ctx, instruction, file)
		if err == nil && text == "" {
			err = errors.New("empty narrative")
		}
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Annotators holds the structured-analysis capability per category. Either
// field may be nil when the backend is not configured.
type Annotators struct {
	Video Annotator
	Image Annotator
}

// For returns the annotator serving category, or nil.
func (a Annotators) For(category model.Category) Annotator {
	switch category {
	case model.CategoryVideo:
		if a.Video != nil {
			return a.Video
		}
	case model.CategoryImage:
		if a.Image != nil {
			return a.Image
		}
	}
	return nil
}

// Select builds the narrative chain and the annotators from cfg. Vertex AI is
// preferred when a project and access token are set; the Generative Language
// API is added when an API key is set. Selection happens once.
func Select(cfg config.Config, logger *slog.Logger) (*Chain, Annotators) {
	var narrators []Narrator
	if cfg.VertexProjectID != "" && cfg.VertexAccessToken != "" {
		narrators = append(narrators, NewVertex(cfg.VertexProjectID, cfg.VertexLocation, cfg.VertexModel, cfg.VertexAccessToken))
	}
	if cfg.GoogleAPIKey != "" {
		narrators = append(narrators, NewGenerativeLanguage(cfg.VertexModel, cfg.GoogleAPIKey))
	}

	var annotators Annotators
	if cfg.VertexAccessToken != "" || cfg.GoogleAPIKey != "" {
		annotators.Video = NewVideoClient(cfg.VertexAccessToken, cfg.GoogleAPIKey)
		annotators.Image = NewVisionClient(cfg.VertexAccessToken, cfg.GoogleAPIKey)
	}
	return NewChain(cfg.ProviderTimeout, logger, narrators...), annotators
}
