// internal/server/server.go
// Package server implements the HTTP routing for the evidence service.
// It exposes the analysis, case management, Q&A and report endpoints with
// optional officer authentication, schema validation and request logging.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/casefile"
	errordefs "github.com/RegistryAccord/registryaccord-evidence-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/event"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/locale"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/media"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/orchestrator"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/report"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/telemetry"
)

// Service identity reported by /api/health.
const (
	ServiceName    = "Alfa Labs Evidence Analyzer"
	ServiceVersion = "2.1.0"
)

// Features lists the capabilities reported by /api/health.
var Features = []string{"basic_analysis", "advanced_analysis", "case_management", "qa_system", "multilingual_reports"}

const (
	// maxJSONBody bounds JSON request bodies.
	maxJSONBody = 1 << 20
	// multipartOverhead is allowed on top of the upload limit for form fields and boundaries.
	multipartOverhead = 1 << 20
	// DefaultOfficerID is recorded on cases created without an officer.
	DefaultOfficerID = "default_officer"
)

type contextKey int

const (
	officerKey contextKey = iota
	requestInfoKey
)

// requestInfo is filled in by inner middleware for the request log line.
type requestInfo struct {
	officerID string
}

// Authenticator resolves an Authorization header to an officer id.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (string, error)
}

// Deps wires a Server. Auth may be nil, which leaves every route open.
type Deps struct {
	Analyzer  *orchestrator.Orchestrator
	Cases     *casefile.Service
	Docs      storage.Documents
	Blobs     media.BlobStore
	Reports   *report.Renderer
	Locales   *locale.Catalog
	Validator *schema.Validator
	Auth      Authenticator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	MaxUploadSize      int64
	CORSAllowedOrigins []string
}

// Server holds the handler dependencies.
type Server struct {
	Deps
	tracer trace.Tracer
}

// New returns the routed handler for the service.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxUploadSize <= 0 {
		d.MaxUploadSize = orchestrator.DefaultMaxFileSize
	}
	s := &Server{Deps: d, tracer: telemetry.Tracer("evidence/server")}
	return s.routes()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	r.Use(s.correlation)
	r.Use(s.observe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeErrorDef(w, r, errordefs.New(errordefs.EVD_NOT_FOUND, "route not found", ""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, string(errordefs.EVD_BAD_REQUEST), "method not allowed", correlationID(r), nil)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/health", s.handleHealth)

	r.Get("/api/cases", s.handleListCases)
	r.Get("/api/cases/{caseID}/evidence", s.handleCaseEvidence)
	r.Get("/reports/{reportID}", s.handleGetReport)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/upload", s.handleUpload)
		r.Post("/api/analyze-advanced", s.handleAnalyzeAdvanced)
		r.Post("/api/analyze-batch", s.handleAnalyzeBatch)
		r.Post("/api/cases/create", s.handleCreateCase)
		r.Post("/api/evidence/{evidenceID}/ask", s.handleAsk)
	})
	return r
}

// cors answers preflight requests and stamps allowed origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && s.originAllowed(origin)
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept-Language, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.CORSAllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// correlation propagates X-Correlation-Id, minting one when absent.
func (s *Server) correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(event.WithCorrelationID(r.Context(), id)))
	})
}

// observe logs every request and feeds the HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey, info))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		if s.Metrics != nil {
			code := strconv.Itoa(status)
			s.Metrics.HTTPRequestTotal.WithLabelValues(r.Method, route, code).Inc()
			s.Metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(elapsed.Seconds())
		}
		s.logRequest(r, info, status, elapsed)
	})
}

// authenticate requires a valid bearer token when an Authenticator is configured.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		officer, err := s.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			s.Logger.Warn("bearer token rejected", "path", r.URL.Path, "error", err)
			s.writeErrorDef(w, r, errordefs.New(errordefs.EVD_AUTHN, "invalid or missing bearer token", ""))
			return
		}
		if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
			info.officerID = officer
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), officerKey, officer)))
	})
}

// officerID returns the authenticated officer, if any.
func officerID(ctx context.Context) string {
	id, _ := ctx.Value(officerKey).(string)
	return id
}

func correlationID(r *http.Request) string {
	return event.CorrelationID(r.Context())
}

// writeSuccess writes a successful response
func (s *Server) writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

// writeError writes an error response following the evidence error taxonomy
func (s *Server) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	}
	if details != nil {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// writeErrorDef writes an error response using the error definitions package
func (s *Server) writeErrorDef(w http.ResponseWriter, r *http.Request, err *errordefs.Error) {
	if err.CorrelationID == "" {
		err = err.WithCorrelationID(correlationID(r))
	}
	s.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// fail maps err onto the error taxonomy and writes it. Unclassified errors
// are reported as EVD_INTERNAL without their text.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		s.writeErrorDef(w, r, errordefs.NewWithDetails(errordefs.EVD_VALIDATION, "request failed validation", "", verr.Problems))
		return
	}

	e, ok := errordefs.As(err)
	if !ok {
		e = errordefs.Wrap(errordefs.EVD_INTERNAL, "internal error", err)
	}
	if e.HTTPStatus >= http.StatusInternalServerError {
		s.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", e.Code, "error", err)
	}
	s.writeErrorDef(w, r, e)
}

// logRequest logs request details
func (s *Server) logRequest(r *http.Request, info *requestInfo, status int, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if id := correlationID(r); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	if info.officerID != "" {
		attrs = append(attrs, slog.String("officer_id", info.officerID))
	}

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.Logger.LogAttrs(r.Context(), level, "request completed", attrs...)
}

// language picks the report language: form field, query, then Accept-Language.
func (s *Server) language(r *http.Request) string {
	q := r.URL.Query()
	return s.Locales.Select(
		r.PostFormValue("language"),
		q.Get("language"),
		q.Get("lang"),
		r.Header.Get("Accept-Language"),
	)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready once the document store answers.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.Docs.Ping(ctx); err != nil {
		s.Logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  ServiceName,
		"version":  ServiceVersion,
		"features": Features,
	})
}
