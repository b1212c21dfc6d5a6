// internal/orchestrator/orchestrator.go
// Package orchestrator runs one evidence file through the analysis pipeline:
// validation, narrative generation with fallback, and for advanced mode the
// structured annotation, aggregation, timeline and key-frame steps.
//
// A failing narrative provider never fails a request; the result is marked
// degraded and carries the fallback report. A failing advanced step only
// drops the advanced features.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/custody"
	errordefs "github.com/RegistryAccord/registryaccord-evidence-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/features"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/prompt"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/provider"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/telemetry"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/timeline"
)

const (
	// DefaultMaxFileSize is the upload ceiling when Options leaves it unset.
	DefaultMaxFileSize = 100 * 1024 * 1024
	// DefaultTimeout bounds each annotation call when Options leaves it unset.
	DefaultTimeout = 300 * time.Second
	// KeyFrameCount is how many timeline events get a still frame.
	KeyFrameCount = 5
)

// Narrator produces the narrative for a file, or fails.
type Narrator interface {
	Narrate(ctx context.Context, instruction string, file model.EvidenceFile) (provider.Narration, error)
}

// FrameExtractor pulls stills out of a video.
type FrameExtractor interface {
	Extract(ctx context.Context, file model.EvidenceFile, timestamps []float64) ([]model.KeyFrame, error)
}

// Options wires an Orchestrator. Only Narrator is usually set; every other
// field has a working default.
type Options struct {
	Narrator    Narrator
	Fallback    *provider.Fallback
	Annotators  provider.Annotators
	Frames      FrameExtractor // nil disables key frames
	Timeout     time.Duration  // per annotation call
	MaxFileSize int64
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Clock       func() time.Time
}

// Orchestrator is safe for concurrent use; it holds no per-request state.
type Orchestrator struct {
	narrator   Narrator
	fallback   *provider.Fallback
	annotators provider.Annotators
	aggregator *features.Aggregator
	frames     FrameExtractor
	timeout    time.Duration
	maxSize    int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	tracer     trace.Tracer
}

// New builds an Orchestrator from opts.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		narrator:   opts.Narrator,
		fallback:   opts.Fallback,
		annotators: opts.Annotators,
		frames:     opts.Frames,
		timeout:    opts.Timeout,
		maxSize:    opts.MaxFileSize,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Clock,
		tracer:     telemetry.Tracer("evidence/orchestrator"),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.fallback == nil {
		o.fallback = provider.NewFallback().WithClock(o.now)
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.maxSize <= 0 {
		o.maxSize = DefaultMaxFileSize
	}
	o.aggregator = features.New(o.logger)
	return o
}

// Validate rejects files that cannot be analysed with an EVD_INVALID_INPUT error.
func (o *Orchestrator) Validate(file model.EvidenceFile) error {
	switch {
	case file.Name == "":
		return errordefs.New(errordefs.EVD_INVALID_INPUT, "File not found: no evidence file provided", "")
	case len(file.Content) == 0:
		return errordefs.New(errordefs.EVD_INVALID_INPUT, "File is empty", "")
	case file.Size() > o.maxSize:
		return errordefs.New(errordefs.EVD_INVALID_INPUT,
			fmt.Sprintf("File too large: %d bytes (max: %d bytes)", file.Size(), o.maxSize), "")
	}
	return nil
}

// Analyze runs the pipeline for mode. The only error it returns is an
// EVD_INVALID_INPUT rejection from Validate.
func (o *Orchestrator) Analyze(ctx context.Context, file model.EvidenceFile, mode model.Mode) (model.AnalysisResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Analyze", trace.WithAttributes(
		attribute.String("evidence.filename", file.Name),
		attribute.String("evidence.mode", string(mode)),
	))
	defer span.End()
	start := time.Now()

	if err := o.Validate(file); err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.metrics.ObserveAnalysis(string(mode), string(file.Category), "invalid", time.Since(start))
		return model.AnalysisResult{}, err
	}
	file = normalize(file)
	span.SetAttributes(attribute.String("evidence.mime_type", file.MimeType))

	narrative, providerName, degraded := o.narrate(ctx, file)
	result := model.AnalysisResult{
		Filename:          file.Name,
		OriginalMediaType: file.MimeType,
		Category:          file.Category,
		Narrative:         narrative,
		Provider:          providerName,
		Degraded:          degraded,
		FileHash:          custody.Hash(file.Content),
		Size:              file.Size(),
		CreatedAt:         o.now().UTC(),
	}

	if mode == model.ModeAdvanced {
		advanced, err := o.advanced(ctx, file)
		switch {
		case err != nil:
			o.logger.Warn("advanced analysis failed, returning basic result",
				"file", file.Name, "category", file.Category, "error", err)
			o.metrics.AdvancedFailed(string(file.Category))
			span.AddEvent("advanced analysis dropped")
		case advanced != nil:
			result.AdvancedFeatures = advanced
		}
	}

	outcome := "success"
	if degraded {
		outcome = "degraded"
	}
	o.metrics.ObserveAnalysis(string(mode), string(file.Category), outcome, time.Since(start))
	return result, nil
}

// normalize fills a missing MIME type and re-derives the category from it.
func normalize(file model.EvidenceFile) model.EvidenceFile {
	if file.MimeType == "" {
		file.MimeType = model.DefaultMimeType
	}
	file.Category = model.CategoryForMIME(file.MimeType)
	return file
}

// narrate returns the provider narrative with its header, or the fallback report.
func (o *Orchestrator) narrate(ctx context.Context, file model.EvidenceFile) (text, providerName string, degraded bool) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.narrative")
	defer span.End()

	if o.narrator == nil {
		span.SetAttributes(attribute.Bool("evidence.degraded", true))
		return o.fallback.Report(file), provider.FallbackName, true
	}

	narration, err := o.narrator.Narrate(ctx, prompt.Build(file), file)
	if err != nil {
		o.logger.Error("narrative analysis failed, using fallback report", "file", file.Name, "error", err)
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("evidence.degraded", true))
		return o.fallback.Report(file), provider.FallbackName, true
	}
	span.SetAttributes(attribute.String("evidence.provider", narration.Provider))
	return Header(file) + narration.Text, narration.Provider, false
}

// Header precedes every provider narrative.
func Header(file model.EvidenceFile) string {
	return fmt.Sprintf("\n\n--- Analysis of %s file: %s ---\n", strings.ToUpper(file.MimeType), file.Name)
}

// advanced returns nil features and no error for categories without a
// structured analysis. A panic in any step is returned as EVD_ADVANCED_FAILURE.
func (o *Orchestrator) advanced(ctx context.Context, file model.EvidenceFile) (adv *model.AdvancedFeatures, err error) {
	if file.Category != model.CategoryVideo && file.Category != model.CategoryImage {
		return nil, nil
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.advanced")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			adv = nil
			err = panicError("advanced analysis", r)
			span.RecordError(err)
		}
	}()

	annotator := o.annotators.For(file.Category)
	if annotator == nil {
		return nil, errordefs.New(errordefs.EVD_ADVANCED_FAILURE,
			fmt.Sprintf("no %s annotator configured", file.Category), "")
	}

	raw, err := guarded(ctx, o.timeout, annotator.Name()+" annotation",
		func(ctx context.Context) (json.RawMessage, error) { return annotator.Annotate(ctx, file) })
	if err != nil {
		span.RecordError(err)
		return nil, errordefs.Wrap(errordefs.EVD_ADVANCED_FAILURE, annotator.Name()+" annotation failed", err)
	}

	_, aggSpan := o.tracer.Start(ctx, "orchestrator.aggregate")
	analysis, err := o.aggregator.Aggregate(raw, file.Category)
	aggSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if file.Category == model.CategoryImage {
		return imageFeatures(analysis), nil
	}

	_, tlSpan := o.tracer.Start(ctx, "orchestrator.timeline")
	tl := timeline.Build(analysis.Video)
	tlSpan.SetAttributes(attribute.Int("evidence.timeline_events", len(tl)))
	tlSpan.End()

	adv = videoFeatures(analysis, tl)
	adv.KeyFrames = o.keyFrames(ctx, file, tl)
	return adv, nil
}

func videoFeatures(analysis model.MediaAnalysis, tl model.Timeline) *model.AdvancedFeatures {
	summary := analysis.Summary
	return &model.AdvancedFeatures{
		Category:       model.CategoryVideo,
		SceneChanges:   len(analysis.Video.SceneSegments),
		ObjectsTracked: len(analysis.Video.ObjectTracks),
		TextDetections: len(analysis.Video.TextDetections),
		Timeline:       &tl,
		Summary:        &summary,
		KeyFrames:      []model.KeyFrame{},
		Analysis:       &analysis,
	}
}

func imageFeatures(analysis model.MediaAnalysis) *model.AdvancedFeatures {
	summary := analysis.Summary
	safety := analysis.Image.SafeSearch
	return &model.AdvancedFeatures{
		Category:        model.CategoryImage,
		FacesDetected:   len(analysis.Image.Faces),
		ObjectsDetected: len(analysis.Image.Objects),
		TextFound:       len(analysis.Image.Texts) > 0,
		ContentSafety:   &safety,
		Summary:         &summary,
		Analysis:        &analysis,
	}
}

// keyFrames extracts stills for the first KeyFrameCount timeline events.
// Failures leave the list empty.
func (o *Orchestrator) keyFrames(ctx context.Context, file model.EvidenceFile, tl model.Timeline) []model.KeyFrame {
	if o.frames == nil || len(tl) == 0 {
		return []model.KeyFrame{}
	}
	n := min(len(tl), KeyFrameCount)
	timestamps := make([]float64, n)
	for i := range timestamps {
		timestamps[i] = tl[i].TimestampS
	}

	frames, err := guarded(ctx, o.timeout, "key frame extraction",
		func(ctx context.Context) ([]model.KeyFrame, error) { return o.frames.Extract(ctx, file, timestamps) })
	if err != nil {
		o.logger.Warn("key frame extraction failed", "file", file.Name, "error", err)
		return []model.KeyFrame{}
	}
	return frames
}

// guarded runs fn on its own goroutine under timeout. A call still running at
// the deadline is abandoned and its late result dropped; a panic in fn is
// returned as EVD_ADVANCED_FAILURE.
func guarded[T any](ctx context.Context, timeout time.Duration, step string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: panicError(step, r)}
			}
		}()
		val, err := fn(ctx)
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, errordefs.Wrap(errordefs.EVD_ADVANCED_FAILURE, step+" abandoned", ctx.Err())
	}
}

func panicError(step string, r any) *errordefs.Error {
	return errordefs.New(errordefs.EVD_ADVANCED_FAILURE, fmt.Sprintf("%s panicked: %v", step, r), "")
}
