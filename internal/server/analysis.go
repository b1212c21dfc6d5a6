package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/casefile"
	errordefs "github.com/RegistryAccord/registryaccord-evidence-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/media"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/report"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/storage"
)

// Response messages.
const (
	MessageReportGenerated  = "Report generated successfully"
	MessageAdvancedComplete = "Advanced analysis completed"
	MessageBatchComplete    = "Batch analysis completed"
	MessageDegraded         = "analysis degraded, report still generated"
)

// multipartMemory is how much of a multipart form is kept in memory before spilling to disk.
const multipartMemory = 32 << 20

type uploadResponse struct {
	Message  string `json:"message"`
	ReportID string `json:"report_id"`
	PDFURL   string `json:"pdf_url"`
	Analysis string `json:"analysis"`
	Degraded bool   `json:"degraded"`
	FileHash string `json:"file_hash"`
	Language string `json:"language"`
	Provider string `json:"provider"`
}

type advancedResponse struct {
	Message          string                  `json:"message"`
	CaseID           string                  `json:"case_id"`
	EvidenceID       string                  `json:"evidence_id"`
	Analysis         string                  `json:"analysis"`
	AdvancedFeatures *model.AdvancedFeatures `json:"advanced_features"`
	PDFURL           string                  `json:"pdf_url"`
	Degraded         bool                    `json:"degraded"`
	FileHash         string                  `json:"file_hash"`
	Language         string                  `json:"language"`
}

type batchItem struct {
	File     string `json:"file"`
	Status   string `json:"status"`
	Analysis string `json:"analysis"`
	FileHash string `json:"file_hash,omitempty"`
}

type batchResponse struct {
	Message        string      `json:"message"`
	ReportID       string      `json:"report_id"`
	PDFURL         string      `json:"pdf_url"`
	Results        []batchItem `json:"results"`
	CombinedReport string      `json:"combined_report"`
	Degraded       bool        `json:"degraded"`
	Language       string      `json:"language"`
}

func reportURL(id string) string { return "/reports/" + id }

func outcomeMessage(degraded bool, ok string) string {
	if degraded {
		return MessageDegraded
	}
	return ok
}

// invalidInput is the single user-facing rejection for unreadable uploads.
func invalidInput(reason string) *errordefs.Error {
	return errordefs.NewWithDetails(errordefs.EVD_INVALID_INPUT, "could not read your file", "",
		map[string]string{"reason": reason})
}

// storageFailure classifies a persistence error, keeping not-found distinct.
func storageFailure(what string, err error) *errordefs.Error {
	if errors.Is(err, storage.ErrNotFound) {
		return errordefs.Wrap(errordefs.EVD_NOT_FOUND, what+" not found", err)
	}
	return errordefs.Wrap(errordefs.EVD_STORAGE, "failed to access "+what, err)
}

// readEvidence parses the multipart body and returns every "evidence" part.
// The caller must call cleanup once the files are no longer needed.
func (s *Server) readEvidence(w http.ResponseWriter, r *http.Request) (files []model.EvidenceFile, cleanup func(), err error) {
	cleanup = func() {}
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, cleanup, invalidInput(fmt.Sprintf("File too large (max: %d bytes)", s.MaxUploadSize))
		}
		return nil, cleanup, invalidInput("No file part")
	}
	cleanup = func() { _ = r.MultipartForm.RemoveAll() }

	headers := r.MultipartForm.File["evidence"]
	if len(headers) == 0 {
		return nil, cleanup, invalidInput("No file part")
	}
	for _, fh := range headers {
		if fh.Filename == "" {
			return nil, cleanup, invalidInput("No selected file")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, cleanup, invalidInput("failed to open " + fh.Filename)
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, cleanup, invalidInput("failed to read " + fh.Filename)
		}
		files = append(files, model.NewEvidenceFile(fh.Filename, content, fh.Header.Get("Content-Type")))
	}
	return files, cleanup, nil
}

// analyze runs one file and maps a validation rejection onto invalidInput.
func (s *Server) analyze(ctx context.Context, file model.EvidenceFile, mode model.Mode) (model.AnalysisResult, error) {
	res, err := s.Analyzer.Analyze(ctx, file, mode)
	if err != nil {
		if e, ok := errordefs.As(err); ok && e.Code == errordefs.EVD_INVALID_INPUT {
			return res, invalidInput(e.Message)
		}
		return res, err
	}
	return res, nil
}

func (s *Server) render(ctx context.Context, in report.Input) ([]byte, error) {
	pdf, err := s.Reports.Render(ctx, in)
	if err != nil {
		return nil, errordefs.Wrap(errordefs.EVD_INTERNAL, "failed to render report", err)
	}
	return pdf, nil
}

// handleUpload handles POST /upload: basic analysis with a stored PDF report.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "handleUpload")
	defer span.End()

	files, cleanup, err := s.readEvidence(w, r)
	defer cleanup()
	if err != nil {
		span.SetStatus(codes.Error, "invalid upload")
		s.fail(w, r, err)
		return
	}
	file := files[0]
	lang := s.language(r)
	span.SetAttributes(attribute.String("evidence.filename", file.Name), attribute.String("report.language", lang))

	res, err := s.analyze(ctx, file, model.ModeBasic)
	if err != nil {
		span.SetStatus(codes.Error, "analysis rejected")
		s.fail(w, r, err)
		return
	}

	blobURL, err := s.Blobs.PutBlob(ctx, media.BlobKey(file.Name), file.Content, file.MimeType)
	if err != nil {
		span.SetStatus(codes.Error, "blob upload failed")
		s.fail(w, r, storageFailure("evidence file", err))
		return
	}

	reportID := casefile.NewReportID()
	pdf, err := s.render(ctx, report.Input{ID: reportID, Filename: file.Name, Language: lang, Narrative: res.Narrative})
	if err != nil {
		span.SetStatus(codes.Error, "render failed")
		s.fail(w, r, err)
		return
	}

	reportID, err = s.Cases.SaveReport(ctx, model.Report{
		ID:                reportID,
		Filename:          file.Name,
		EvidenceURL:       blobURL,
		OriginalMediaType: res.OriginalMediaType,
		Narrative:         res.Narrative,
		PDF:               pdf,
		FileHash:          res.FileHash,
		Language:          lang,
	})
	if err != nil {
		span.SetStatus(codes.Error, "report not saved")
		s.fail(w, r, storageFailure("report", err))
		return
	}

	s.Logger.InfoContext(ctx, "report generated", "report_id", reportID, "file", file.Name,
		"degraded", res.Degraded, "correlation_id", correlationID(r))
	s.writeSuccess(w, http.StatusOK, uploadResponse{
		Message:  outcomeMessage(res.Degraded, MessageReportGenerated),
		ReportID: reportID,
		PDFURL:   reportURL(reportID),
		Analysis: res.Narrative,
		Degraded: res.Degraded,
		FileHash: res.FileHash,
		Language: lang,
		Provider: res.Provider,
	})
}

// handleAnalyzeAdvanced handles POST /api/analyze-advanced. The evidence is
// attached to caseId when given, otherwise to a new case named after the file.
func (s *Server) handleAnalyzeAdvanced(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "handleAnalyzeAdvanced")
	defer span.End()

	files, cleanup, err := s.readEvidence(w, r)
	defer cleanup()
	if err != nil {
		span.SetStatus(codes.Error, "invalid upload")
		s.fail(w, r, err)
		return
	}
	file := files[0]
	lang := s.language(r)
	officer := officerID(ctx)
	if officer == "" {
		officer = r.PostFormValue("officerId")
	}
	if officer == "" {
		officer = DefaultOfficerID
	}
	caseID := r.PostFormValue("caseId")
	span.SetAttributes(
		attribute.String("evidence.filename", file.Name),
		attribute.String("report.language", lang),
		attribute.String("case.id", caseID),
	)

	res, err := s.analyze(ctx, file, model.ModeAdvanced)
	if err != nil {
		span.SetStatus(codes.Error, "analysis rejected")
		s.fail(w, r, err)
		return
	}

	if caseID != "" {
		if _, err := s.Cases.GetCase(ctx, caseID); err != nil {
			span.SetStatus(codes.Error, "case lookup failed")
			s.fail(w, r, storageFailure("case", err))
			return
		}
	}

	blobURL, err := s.Blobs.PutBlob(ctx, media.BlobKey(file.Name), file.Content, file.MimeType)
	if err != nil {
		span.SetStatus(codes.Error, "blob upload failed")
		s.fail(w, r, storageFailure("evidence file", err))
		return
	}

	if caseID == "" {
		c, err := s.Cases.CreateCase(ctx, model.CreateCaseRequest{
			Title:        "Case Analysis - " + file.Name,
			Description:  r.PostFormValue("description"),
			OfficerID:    officer,
			EvidenceType: file.MimeType,
			Language:     lang,
		})
		if err != nil {
			span.SetStatus(codes.Error, "case not created")
			s.fail(w, r, storageFailure("case", err))
			return
		}
		caseID = c.ID
	}

	ev, err := s.Cases.AddEvidence(ctx, caseID, model.Evidence{
		Filename:         file.Name,
		BlobURL:          blobURL,
		Narrative:        res.Narrative,
		AdvancedFeatures: res.AdvancedFeatures,
		AnalysisType:     model.ModeAdvanced,
		FileType:         file.MimeType,
		Language:         lang,
		Degraded:         res.Degraded,
	}, file.Content)
	if err != nil {
		span.SetStatus(codes.Error, "evidence not stored")
		s.fail(w, r, storageFailure("evidence", err))
		return
	}
	span.SetAttributes(attribute.String("evidence.id", ev.ID))

	if err := s.Cases.StoreEmbeddings(ctx, caseID, ev.ID, res.Narrative); err != nil {
		s.Logger.WarnContext(ctx, "embedding stub not stored", "evidence_id", ev.ID, "error", err)
	}

	pdf, err := s.render(ctx, report.Input{
		ID: ev.ID, Filename: file.Name, Language: lang, Narrative: res.Narrative, Advanced: res.AdvancedFeatures,
	})
	if err != nil {
		span.SetStatus(codes.Error, "render failed")
		s.fail(w, r, err)
		return
	}

	if _, err := s.Cases.SaveReport(ctx, model.Report{
		ID:                ev.ID,
		Filename:          file.Name,
		EvidenceURL:       blobURL,
		OriginalMediaType: res.OriginalMediaType,
		Narrative:         res.Narrative,
		AdvancedFeatures:  res.AdvancedFeatures,
		PDF:               pdf,
		FileHash:          ev.FileHash,
		CaseID:            caseID,
		EvidenceID:        ev.ID,
		Language:          lang,
	}); err != nil {
		span.SetStatus(codes.Error, "report not saved")
		s.fail(w, r, storageFailure("report", err))
		return
	}

	s.Logger.InfoContext(ctx, "advanced analysis stored", "case_id", caseID, "evidence_id", ev.ID,
		"degraded", res.Degraded, "advanced", res.AdvancedFeatures != nil, "correlation_id", correlationID(r))
	s.writeSuccess(w, http.StatusOK, advancedResponse{
		Message:          outcomeMessage(res.Degraded, MessageAdvancedComplete),
		CaseID:           caseID,
		EvidenceID:       ev.ID,
		Analysis:         res.Narrative,
		AdvancedFeatures: res.AdvancedFeatures,
		PDFURL:           reportURL(ev.ID),
		Degraded:         res.Degraded,
		FileHash:         ev.FileHash,
		Language:         lang,
	})
}

// handleAnalyzeBatch handles POST /api/analyze-batch. Files that fail
// validation are reported per item; the batch still produces one report.
func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "handleAnalyzeBatch")
	defer span.End()

	files, cleanup, err := s.readEvidence(w, r)
	defer cleanup()
	if err != nil {
		span.SetStatus(codes.Error, "invalid upload")
		s.fail(w, r, err)
		return
	}
	lang := s.language(r)
	span.SetAttributes(attribute.Int("batch.size", len(files)), attribute.String("report.language", lang))

	batch := s.Analyzer.BatchAnalyze(ctx, files)
	items := make([]batchItem, 0, len(batch.Items))
	for _, it := range batch.Items {
		item := batchItem{File: it.Filename, Status: it.Status, Analysis: it.Analysis}
		if it.Result != nil {
			item.FileHash = it.Result.FileHash
		}
		items = append(items, item)
	}

	reportID := casefile.NewReportID()
	filename := fmt.Sprintf("batch_%d_files", len(files))
	pdf, err := s.render(ctx, report.Input{ID: reportID, Filename: filename, Language: lang, Narrative: batch.Combined})
	if err != nil {
		span.SetStatus(codes.Error, "render failed")
		s.fail(w, r, err)
		return
	}
	if _, err := s.Cases.SaveReport(ctx, model.Report{
		ID:                reportID,
		Filename:          filename,
		OriginalMediaType: "text/plain",
		Narrative:         batch.Combined,
		PDF:               pdf,
		Language:          lang,
	}); err != nil {
		span.SetStatus(codes.Error, "report not saved")
		s.fail(w, r, storageFailure("report", err))
		return
	}

	s.writeSuccess(w, http.StatusOK, batchResponse{
		Message:        outcomeMessage(batch.Degraded, MessageBatchComplete),
		ReportID:       reportID,
		PDFURL:         reportURL(reportID),
		Results:        items,
		CombinedReport: batch.Combined,
		Degraded:       batch.Degraded,
		Language:       lang,
	})
}
