// internal/event/nats.go
// Package event publishes case and evidence events to NATS JetStream so other
// services can follow investigations without polling the document store.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

// Subjects and event types.
const (
	SubjectCaseCreated      = "evidence.cases.created"
	SubjectEvidenceAnalyzed = "evidence.analysis.completed"

	// DedupWindow suppresses a repeated event for the same id.
	DedupWindow = 2 * time.Minute

	envelopeVersion = "1.0.0"
)

// Publisher publishes domain events. Implementations never block a request
// on a broken broker for longer than the caller's context allows.
type Publisher interface {
	PublishCaseCreated(ctx context.Context, c model.Case) error
	PublishEvidenceAnalyzed(ctx context.Context, ev model.Evidence) error
	Close() error
}

// EventEnvelope represents the standard event envelope structure.
type EventEnvelope struct {
	Type          string    `json:"type"`
	Version       string    `json:"version"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId"`
	Payload       any       `json:"payload"`
}

// EvidenceAnalyzed is the payload of SubjectEvidenceAnalyzed. The narrative
// itself stays in the document store.
type EvidenceAnalyzed struct {
	EvidenceID   string     `json:"evidenceId"`
	CaseID       string     `json:"caseId"`
	Filename     string     `json:"filename"`
	FileType     string     `json:"fileType"`
	FileHash     string     `json:"fileHash"`
	AnalysisType model.Mode `json:"analysisType"`
	Degraded     bool       `json:"degraded"`
}

type correlationKey struct{}

// WithCorrelationID attaches the request correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id attached by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// noop is used when NATS is not configured or unreachable.
type noop struct{}

// NewNoop returns a Publisher that discards every event.
func NewNoop() Publisher { return noop{} }

func (noop) PublishCaseCreated(context.Context, model.Case) error          { return nil }
func (noop) PublishEvidenceAnalyzed(context.Context, model.Evidence) error { return nil }
func (noop) Close() error                                                  { return nil }

// jetStream is the part of nats.JetStreamContext the publisher uses.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn
	js      jetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	dedup map[string]time.Time // subject+id -> last publish
}

// NewPublisher connects to url and ensures the streams exist. An empty url,
// a failed connection or a failed stream setup yields the noop publisher.
func NewPublisher(url string, logger *slog.Logger, m *metrics.Metrics) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return NewNoop()
	}

	nc, err := nats.Connect(url, nats.Name("evidence-analyzer"), nats.Timeout(5*time.Second))
	if err != nil {
		logger.Warn("NATS connect failed, using noop publisher", "error", err)
		return NewNoop()
	}
	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return NewNoop()
	}
	if err := initStreams(js); err != nil {
		logger.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return NewNoop()
	}
	return newNATSPublisher(nc, js, logger, m)
}

func newNATSPublisher(nc *nats.Conn, js jetStream, logger *slog.Logger, m *metrics.Metrics) *natsPub {
	return &natsPub{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		dedup:   make(map[string]time.Time),
	}
}

func initStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{Name: "EVD_CASES", Subjects: []string{"evidence.cases.*"}},
		{Name: "EVD_EVIDENCE", Subjects: []string{"evidence.analysis.*"}},
	}
	for _, cfg := range streams {
		cfg.Retention = nats.LimitsPolicy
		cfg.MaxAge = 7 * 24 * time.Hour
		cfg.Discard = nats.DiscardOld
		cfg.Storage = nats.FileStorage
		cfg.Duplicates = DedupWindow
		if _, err := js.AddStream(&cfg); err != nil {
			return fmt.Errorf("failed to create %s stream: %w", cfg.Name, err)
		}
	}
	return nil
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) PublishCaseCreated(ctx context.Context, c model.Case) error {
	return p.publish(ctx, SubjectCaseCreated, c.ID, c)
}

func (p *natsPub) PublishEvidenceAnalyzed(ctx context.Context, ev model.Evidence) error {
	return p.publish(ctx, SubjectEvidenceAnalyzed, ev.ID, EvidenceAnalyzed{
		EvidenceID:   ev.ID,
		CaseID:       ev.CaseID,
		Filename:     ev.Filename,
		FileType:     ev.FileType,
		FileHash:     ev.FileHash,
		AnalysisType: ev.AnalysisType,
		Degraded:     ev.Degraded,
	})
}

func (p *natsPub) publish(ctx context.Context, subject, id string, payload any) error {
	key := subject + "/" + id
	if p.seen(key) {
		p.logger.Debug("suppressing duplicate event", "subject", subject, "id", id)
		return nil
	}

	correlationID := CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	b, err := json.Marshal(EventEnvelope{
		Type:          subject,
		Version:       envelopeVersion,
		OccurredAt:    p.now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", subject, err)
	}

	start := time.Now()
	_, err = p.js.Publish(subject, b, nats.Context(ctx), nats.MsgId(key))
	p.metrics.ObserveEvent(subject, err, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	p.remember(key)
	return nil
}

// seen reports whether key was published within DedupWindow.
func (p *natsPub) seen(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.dedup[key]
	return ok && p.now().Sub(last) < DedupWindow
}

func (p *natsPub) remember(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for k, t := range p.dedup {
		if now.Sub(t) >= DedupWindow {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = now
}
