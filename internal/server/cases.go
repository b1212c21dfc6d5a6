package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errordefs "github.com/RegistryAccord/registryaccord-evidence-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/qa"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/schema"
)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	EvidenceID string  `json:"evidence_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// readJSON reads a bounded JSON body and validates it against the named schema.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, schemaName string, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return errordefs.New(errordefs.EVD_VALIDATION, "request body too large or unreadable", "")
	}
	if err := s.Validator.Validate(schemaName, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errordefs.New(errordefs.EVD_VALIDATION, "invalid JSON", "")
	}
	return nil
}

// handleListCases handles GET /api/cases with optional status and officerId filters.
func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "handleListCases")
	defer span.End()

	filter := model.CaseFilter{
		Status:    r.URL.Query().Get("status"),
		OfficerID: r.URL.Query().Get("officerId"),
	}
	cases, err := s.Cases.ListCases(ctx, filter)
	if err != nil {
		span.SetStatus(codes.Error, "list failed")
		s.fail(w, r, errordefs.Wrap(errordefs.EVD_STORAGE, "failed to list cases", err))
		return
	}
	span.SetAttributes(attribute.Int("cases.count", len(cases)))
	s.writeSuccess(w, http.StatusOK, map[string]any{"cases": cases})
}

// handleCreateCase handles POST /api/cases/create. An authenticated officer
// replaces the officerId in the body.
func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "handleCreateCase")
	defer span.End()

	var req model.CreateCaseRequest
	if err := s.readJSON(w, r, schema.CaseCreate, &req); err != nil {
		span.SetStatus(codes.Error, "invalid case")
		s.fail(w, r, err)
		return
	}
	if officer := officerID(ctx); officer != "" {
		req.OfficerID = officer
	}

	c, err := s.Cases.CreateCase(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, "case not created")
		s.fail(w, r, storageFailure("case", err))
		return
	}
	span.SetAttributes(attribute.String("case.id", c.ID))
	s.writeSuccess(w, http.StatusCreated, map[string]any{
		"case_id": c.ID,
		"message": "Case created successfully",
		"case":    c,
	})
}

// handleCaseEvidence handles GET /api/cases/{caseID}/evidence.
func (s *Server) handleCaseEvidence(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "handleCaseEvidence")
	defer span.End()

	caseID := chi.URLParam(r, "caseID")
	span.SetAttributes(attribute.String("case.id", caseID))
	evidence, err := s.Cases.CaseEvidence(ctx, caseID)
	if err != nil {
		span.SetStatus(codes.Error, "evidence lookup failed")
		s.fail(w, r, storageFailure("case", err))
		return
	}
	s.writeSuccess(w, http.StatusOK, map[string]any{"case_id": caseID, "evidence": evidence})
}

// handleAsk handles POST /api/evidence/{evidenceID}/ask against the stored report.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "handleAsk")
	defer span.End()

	evidenceID := chi.URLParam(r, "evidenceID")
	span.SetAttributes(attribute.String("evidence.id", evidenceID))

	var req askRequest
	if err := s.readJSON(w, r, schema.EvidenceAsk, &req); err != nil {
		span.SetStatus(codes.Error, "invalid question")
		s.fail(w, r, err)
		return
	}

	rep, err := s.Cases.GetReport(ctx, evidenceID)
	if err != nil {
		span.SetStatus(codes.Error, "report lookup failed")
		s.fail(w, r, storageFailure("evidence", err))
		return
	}

	answer := qa.Answer(req.Question, rep.Narrative, rep.AdvancedFeatures)
	if s.Metrics != nil {
		s.Metrics.QuestionsAnsweredTotal.Inc()
	}
	s.writeSuccess(w, http.StatusOK, askResponse{
		EvidenceID: evidenceID,
		Question:   req.Question,
		Answer:     answer.Text,
		Confidence: answer.Confidence,
	})
}

// handleGetReport handles GET /reports/{reportID}, serving the stored PDF inline.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "handleGetReport")
	defer span.End()

	id := chi.URLParam(r, "reportID")
	span.SetAttributes(attribute.String("report.id", id))
	rep, err := s.Cases.GetReport(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "report lookup failed")
		s.fail(w, r, storageFailure("report", err))
		return
	}
	if len(rep.PDF) == 0 {
		s.writeErrorDef(w, r, errordefs.New(errordefs.EVD_NOT_FOUND, "report not found", ""))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename=report_"+id+".pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(rep.PDF)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rep.PDF)
}
