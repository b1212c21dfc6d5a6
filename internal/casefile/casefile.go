// internal/casefile/casefile.go
// Package casefile keeps investigations, their evidence and generated
// reports in the document store.
//
// Layout:
//
//	cases/<caseId>                                     case
//	cases/<caseId>/evidence/<evidenceId>               evidence
//	cases/<caseId>/evidence/<evidenceId>/embeddings/analysis
//	reports/<reportId>                                 report
package casefile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/custody"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/event"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/storage"
)

const (
	casesCollection   = "cases"
	reportsCollection = "reports"
	embeddingsID      = "analysis"

	// EmbeddingStatusPending marks an embeddings document nobody has processed yet.
	EmbeddingStatusPending = "pending"
)

// ErrCaseNotFound is returned when a case id does not resolve.
var ErrCaseNotFound = fmt.Errorf("case %w", storage.ErrNotFound)

func evidenceCollection(caseID string) string {
	return casesCollection + "/" + caseID + "/evidence"
}

func embeddingsCollection(caseID, evidenceID string) string {
	return evidenceCollection(caseID) + "/" + evidenceID + "/embeddings"
}

// Service is the case file API.
type Service struct {
	docs   storage.Documents
	events event.Publisher
	logger *slog.Logger
}

// New builds a Service. A nil publisher discards events.
func New(docs storage.Documents, events event.Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = event.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, events: events, logger: logger}
}

// caseDoc overrides the timestamps of model.Case with server-assigned values.
type caseDoc struct {
	model.Case
	CreatedAt any `json:"createdAt"`
	UpdatedAt any `json:"updatedAt"`
}

// CreateCase stores a new active case and returns it with its id.
func (s *Service) CreateCase(ctx context.Context, req model.CreateCaseRequest) (model.Case, error) {
	c := model.Case{
		Title:        req.Title,
		Description:  req.Description,
		OfficerID:    req.OfficerID,
		EvidenceType: req.EvidenceType,
		Language:     req.Language,
		Status:       model.CaseStatusActive,
	}
	id, err := s.docs.PutDocument(ctx, casesCollection, "", caseDoc{
		Case:      c,
		CreatedAt: storage.ServerTimestamp,
		UpdatedAt: storage.ServerTimestamp,
	})
	if err != nil {
		return model.Case{}, fmt.Errorf("failed to create case: %w", err)
	}
	created, err := s.GetCase(ctx, id)
	if err != nil {
		return model.Case{}, err
	}
	s.logger.Info("case created", "case_id", id, "officer_id", c.OfficerID)
	if err := s.events.PublishCaseCreated(ctx, created); err != nil {
		s.logger.Warn("case event not published", "case_id", id, "error", err)
	}
	return created, nil
}

// GetCase returns ErrCaseNotFound for an unknown id.
func (s *Service) GetCase(ctx context.Context, id string) (model.Case, error) {
	doc, err := s.docs.GetDocument(ctx, casesCollection, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Case{}, ErrCaseNotFound
		}
		return model.Case{}, fmt.Errorf("failed to load case %s: %w", id, err)
	}
	var c model.Case
	if err := doc.Decode(&c); err != nil {
		return model.Case{}, err
	}
	c.ID = doc.ID
	return c, nil
}

// ListCases returns the cases matching filter, oldest first.
func (s *Service) ListCases(ctx context.Context, filter model.CaseFilter) ([]model.Case, error) {
	eq := map[string]any{}
	if filter.Status != "" {
		eq["status"] = filter.Status
	}
	if filter.OfficerID != "" {
		eq["officerId"] = filter.OfficerID
	}
	docs, err := s.docs.ListDocuments(ctx, casesCollection, eq)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	cases := make([]model.Case, 0, len(docs))
	for _, doc := range docs {
		var c model.Case
		if err := doc.Decode(&c); err != nil {
			return nil, err
		}
		c.ID = doc.ID
		cases = append(cases, c)
	}
	return cases, nil
}

type evidenceDoc struct {
	model.Evidence
	AddedAt any `json:"addedAt"`
}

// AddEvidence attaches ev to an existing case. The evidence id, hash, status
// and timestamp are assigned here; the case counter is incremented atomically.
func (s *Service) AddEvidence(ctx context.Context, caseID string, ev model.Evidence, content []byte) (model.Evidence, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return model.Evidence{}, err
	}

	ev.ID = uuid.NewString()
	ev.CaseID = caseID
	ev.FileHash = custody.Hash(content)
	ev.AnalysisStatus = model.AnalysisStatusCompleted

	coll := evidenceCollection(caseID)
	if _, err := s.docs.PutDocument(ctx, coll, ev.ID, evidenceDoc{Evidence: ev, AddedAt: storage.ServerTimestamp}); err != nil {
		return model.Evidence{}, fmt.Errorf("failed to store evidence: %w", err)
	}
	if err := s.docs.UpdateDocument(ctx, casesCollection, caseID, map[string]any{"updatedAt": storage.ServerTimestamp}); err != nil {
		return model.Evidence{}, fmt.Errorf("failed to touch case %s: %w", caseID, err)
	}
	if err := s.docs.IncrementCounter(ctx, casesCollection, caseID, "evidenceCount", 1); err != nil {
		return model.Evidence{}, fmt.Errorf("failed to count evidence on case %s: %w", caseID, err)
	}

	doc, err := s.docs.GetDocument(ctx, coll, ev.ID)
	if err != nil {
		return model.Evidence{}, fmt.Errorf("failed to reload evidence: %w", err)
	}
	var stored model.Evidence
	if err := doc.Decode(&stored); err != nil {
		return model.Evidence{}, err
	}

	s.logger.Info("evidence added", "case_id", caseID, "evidence_id", ev.ID, "file_hash", ev.FileHash)
	if err := s.events.PublishEvidenceAnalyzed(ctx, stored); err != nil {
		s.logger.Warn("evidence event not published", "evidence_id", ev.ID, "error", err)
	}
	return stored, nil
}

// CaseEvidence lists the evidence of a case in the order it was added.
func (s *Service) CaseEvidence(ctx context.Context, caseID string) ([]model.Evidence, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	docs, err := s.docs.ListDocuments(ctx, evidenceCollection(caseID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	out := make([]model.Evidence, 0, len(docs))
	for _, doc := range docs {
		var ev model.Evidence
		if err := doc.Decode(&ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// StoreEmbeddings records the narrative for later embedding.
func (s *Service) StoreEmbeddings(ctx context.Context, caseID, evidenceID, text string) error {
	_, err := s.docs.PutDocument(ctx, embeddingsCollection(caseID, evidenceID), embeddingsID, map[string]any{
		"rawText":         text,
		"processedAt":     storage.ServerTimestamp,
		"embeddingStatus": EmbeddingStatusPending,
	})
	if err != nil {
		return fmt.Errorf("failed to store embeddings: %w", err)
	}
	return nil
}

type reportDoc struct {
	model.Report
	Timestamp any `json:"timestamp"`
}

// NewReportID returns a lexically sortable report id.
func NewReportID() string {
	return ulid.Make().String()
}

// SaveReport stores r under r.ID, or under a new ULID when r.ID is empty,
// and returns the id.
func (s *Service) SaveReport(ctx context.Context, r model.Report) (string, error) {
	if r.ID == "" {
		r.ID = NewReportID()
	}
	id := r.ID
	r.ID = ""
	if _, err := s.docs.PutDocument(ctx, reportsCollection, id, reportDoc{Report: r, Timestamp: storage.ServerTimestamp}); err != nil {
		return "", fmt.Errorf("failed to save report %s: %w", id, err)
	}
	return id, nil
}

// GetReport returns storage.ErrNotFound (wrapped) for an unknown id.
func (s *Service) GetReport(ctx context.Context, id string) (model.Report, error) {
	doc, err := s.docs.GetDocument(ctx, reportsCollection, id)
	if err != nil {
		return model.Report{}, fmt.Errorf("report %s: %w", id, err)
	}
	var r model.Report
	if err := doc.Decode(&r); err != nil {
		return model.Report{}, err
	}
	r.ID = doc.ID
	return r, nil
}
