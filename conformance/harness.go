// Package conformance provides a test harness for verifying the evidence
// service HTTP contract. The harness runs the real service stack against fake
// Generative Language, Cloud Vision and JWKS endpoints.
package conformance

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/auth"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/casefile"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/locale"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/media"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/orchestrator"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/provider"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/report"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/server"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/storage"
)

const (
	testModel  = "gemini-test"
	testAPIKey = "test-key"
	signingKID = "harness-key"
)

// Config holds configuration for the conformance test harness.
type Config struct {
	// NarrativeText is returned by the fake model. Empty makes every model call fail with 503.
	NarrativeText string

	// VisionResponse is returned as responses[0] by the fake Vision endpoint.
	VisionResponse string

	// JWTIssuer and JWTAudience enable bearer authentication when both are set.
	JWTIssuer   string
	JWTAudience string

	// DatabaseDSN selects PostgreSQL storage; the in-memory store is used when empty.
	DatabaseDSN string

	// BlobDir receives uploaded evidence; a temporary directory is created when empty.
	BlobDir string
}

// Harness provides a running evidence service for conformance testing.
type Harness struct {
	cfg    Config
	server *httptest.Server
	google *httptest.Server
	keys   *httptest.Server
	signer ed25519.PrivateKey
	docs   storage.Documents
	closer func()

	// Events records everything the service published.
	Events *RecordingPublisher

	modelCalls  atomic.Int32
	visionCalls atomic.Int32
}

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{cfg: cfg, Events: &RecordingPublisher{}, closer: func() {}}

	h.google = httptest.NewServer(http.HandlerFunc(h.serveGoogle))

	docs := storage.NewMemory()
	if cfg.DatabaseDSN != "" {
		pg, err := storage.NewPostgres(context.Background(), cfg.DatabaseDSN)
		if err != nil {
			h.google.Close()
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		docs = pg
		h.closer = pg.Close
	}
	h.docs = docs

	blobDir := cfg.BlobDir
	if blobDir == "" {
		dir, err := os.MkdirTemp("", "evidence-harness-*")
		if err != nil {
			h.Close()
			return nil, err
		}
		blobDir = dir
		prev := h.closer
		h.closer = func() { prev(); _ = os.RemoveAll(dir) }
	}
	blobs, err := media.NewLocalStore(blobDir)
	if err != nil {
		h.Close()
		return nil, err
	}

	chain := provider.NewChain(5*time.Second, logger,
		provider.NewGenerativeLanguage(testModel, testAPIKey,
			provider.WithBaseURL(h.google.URL), provider.WithHTTPClient(h.google.Client())))
	analyzer := orchestrator.New(orchestrator.Options{
		Narrator: chain,
		Annotators: provider.Annotators{
			Image: provider.NewVisionClient("", testAPIKey, provider.WithBaseURL(h.google.URL)),
		},
		Timeout: 5 * time.Second,
		Logger:  logger,
	})

	catalog, err := locale.New("en")
	if err != nil {
		h.Close()
		return nil, err
	}
	renderer, err := report.NewRenderer(catalog)
	if err != nil {
		h.Close()
		return nil, err
	}
	validator, err := schema.NewValidator(nil)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	deps := server.Deps{
		Analyzer:  analyzer,
		Cases:     casefile.New(docs, h.Events, logger),
		Docs:      docs,
		Blobs:     blobs,
		Reports:   renderer,
		Locales:   catalog,
		Validator: validator,
		Logger:    logger,
	}
	if cfg.JWTIssuer != "" && cfg.JWTAudience != "" {
		if err := h.startKeyServer(); err != nil {
			h.Close()
			return nil, err
		}
		deps.Auth = auth.NewVerifier(h.keys.URL, cfg.JWTIssuer, cfg.JWTAudience)
	}

	h.server = httptest.NewServer(server.New(deps))
	return h, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Docs exposes the document store behind the service.
func (h *Harness) Docs() storage.Documents {
	return h.docs
}

// ModelCalls is the number of generateContent requests received.
func (h *Harness) ModelCalls() int { return int(h.modelCalls.Load()) }

// VisionCalls is the number of images:annotate requests received.
func (h *Harness) VisionCalls() int { return int(h.visionCalls.Load()) }

// Close shuts down the test servers and cleans up resources.
func (h *Harness) Close() {
	for _, s := range []*httptest.Server{h.server, h.google, h.keys} {
		if s != nil {
			s.Close()
		}
	}
	h.closer()
}

// Token signs a bearer token for subject, valid for an hour.
func (h *Harness) Token(subject string) (string, error) {
	if h.signer == nil {
		return "", fmt.Errorf("harness started without authentication")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{
		Issuer:    h.cfg.JWTIssuer,
		Audience:  jwt.ClaimStrings{h.cfg.JWTAudience},
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tok.Header["kid"] = signingKID
	return tok.SignedString(h.signer)
}

func (h *Harness) startKeyServer() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}
	h.signer = priv
	set := auth.JWKS{Keys: []auth.JWK{{
		Kty: "OKP", Crv: "Ed25519", Alg: "EdDSA", Use: "sig", Kid: signingKID,
		X: base64.RawURLEncoding.EncodeToString(pub),
	}}}
	h.keys = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	return nil
}

// serveGoogle fakes the two Google REST methods the service calls.
func (h *Harness) serveGoogle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("key") != testAPIKey {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"status":"PERMISSION_DENIED","message":"bad key"}}`)
		return
	}

	switch {
	case r.URL.Path == "/v1beta/models/"+testModel+":generateContent":
		h.modelCalls.Add(1)
		if h.cfg.NarrativeText == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"code":503,"status":"UNAVAILABLE","message":"model overloaded"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": h.cfg.NarrativeText}}},
				"finishReason": "STOP",
			}},
		})
	case r.URL.Path == "/v1/images:annotate":
		h.visionCalls.Add(1)
		resp := h.cfg.VisionResponse
		if resp == "" {
			resp = "{}"
		}
		_, _ = io.WriteString(w, `{"responses":[`+resp+`]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"status":"NOT_FOUND","message":"unknown method"}}`)
	}
}

// RecordingPublisher implements event.Publisher by keeping every event.
type RecordingPublisher struct {
	mu       sync.Mutex
	cases    []model.Case
	evidence []model.Evidence
}

func (p *RecordingPublisher) PublishCaseCreated(_ context.Context, c model.Case) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cases = append(p.cases, c)
	return nil
}

func (p *RecordingPublisher) PublishEvidenceAnalyzed(_ context.Context, ev model.Evidence) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evidence = append(p.evidence, ev)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Cases returns the published case events.
func (p *RecordingPublisher) Cases() []model.Case {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Case(nil), p.cases...)
}

// Evidence returns the published evidence events.
func (p *RecordingPublisher) Evidence() []model.Evidence {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Evidence(nil), p.evidence...)
}

// File is one multipart evidence upload.
type File struct {
	Name    string
	Content []byte
}

// Upload posts files as repeated "evidence" parts together with fields.
func (h *Harness) Upload(path, token string, fields map[string]string, files ...File) (*http.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("evidence", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return h.Do(http.MethodPost, path, token, mw.FormDataContentType(), &body)
}

// PostJSON posts a JSON body.
func (h *Harness) PostJSON(path, token, body string) (*http.Response, error) {
	return h.Do(http.MethodPost, path, token, "application/json", strings.NewReader(body))
}

// Do sends a request to the service.
func (h *Harness) Do(method, path, token, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, h.URL()+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

// Envelope is the decoded success or error envelope.
type Envelope struct {
	Data  map[string]any `json:"data"`
	Error *struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
		Details       any    `json:"details"`
	} `json:"error"`
}

// Decode reads and closes resp.Body.
func Decode(resp *http.Response) (Envelope, error) {
	defer resp.Body.Close()
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return env, fmt.Errorf("decode %s response: %w", resp.Request.URL.Path, err)
	}
	return env, nil
}

// RunConformanceTests runs the HTTP contract checks against the harness.
// The harness must have been started without authentication.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("ErrorEnvelope", h.testErrorEnvelope)
	t.Run("UploadReport", h.testUploadReport)
	t.Run("CaseOperations", h.testCaseOperations)
	t.Run("SchemaValidation", h.testSchemaValidation)
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("failed to GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(h.URL() + "/api/health")
	if err != nil {
		t.Fatalf("failed to GET /api/health: %v", err)
	}
	env, err := Decode(resp)
	if err != nil {
		t.Fatal(err)
	}
	if env.Data["status"] != "healthy" || env.Data["version"] != server.ServiceVersion {
		t.Errorf("unexpected health payload: %v", env.Data)
	}
}

// testErrorEnvelope checks that errors carry code, message and correlation id.
func (h *Harness) testErrorEnvelope(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, h.URL()+"/reports/does-not-exist", nil)
	req.Header.Set("X-Correlation-Id", "conformance-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Correlation-Id"); got != "conformance-1" {
		t.Errorf("correlation id not echoed: %q", got)
	}
	env, err := Decode(resp)
	if err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != "EVD_NOT_FOUND" || env.Error.CorrelationID != "conformance-1" {
		t.Errorf("unexpected error envelope: %+v", env.Error)
	}
}

// testUploadReport uploads one file and fetches the generated PDF.
func (h *Harness) testUploadReport(t *testing.T) {
	resp, err := h.Upload("/upload", "", nil, File{Name: "note.txt", Content: []byte("Suspect left at 21:40.")})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /upload, got %d", resp.StatusCode)
	}
	env, err := Decode(resp)
	if err != nil {
		t.Fatal(err)
	}
	pdfURL, _ := env.Data["pdf_url"].(string)
	if pdfURL == "" {
		t.Fatalf("no pdf_url in %v", env.Data)
	}

	pdf, err := http.Get(h.URL() + pdfURL)
	if err != nil {
		t.Fatal(err)
	}
	defer pdf.Body.Close()
	if pdf.StatusCode != http.StatusOK || pdf.Header.Get("Content-Type") != "application/pdf" {
		t.Errorf("unexpected report response: %d %s", pdf.StatusCode, pdf.Header.Get("Content-Type"))
	}

	resp, err = h.Upload("/upload", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	env, err = Decode(resp)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest || env.Error == nil || env.Error.Code != "EVD_INVALID_INPUT" {
		t.Errorf("expected EVD_INVALID_INPUT for a missing file, got %d %+v", resp.StatusCode, env.Error)
	}
}

// testCaseOperations creates a case and lists it.
func (h *Harness) testCaseOperations(t *testing.T) {
	officer := fmt.Sprintf("conf-officer-%d", time.Now().UnixNano())
	resp, err := h.PostJSON("/api/cases/create", "", `{"title":"Conformance","description":"d","officerId":"`+officer+`"}`)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from case creation, got %d", resp.StatusCode)
	}
	env, err := Decode(resp)
	if err != nil {
		t.Fatal(err)
	}
	caseID, _ := env.Data["case_id"].(string)

	resp, err = http.Get(h.URL() + "/api/cases?officerId=" + officer)
	if err != nil {
		t.Fatal(err)
	}
	env, err = Decode(resp)
	if err != nil {
		t.Fatal(err)
	}
	cases, _ := env.Data["cases"].([]any)
	if len(cases) != 1 || cases[0].(map[string]any)["id"] != caseID {
		t.Errorf("expected exactly case %s, got %v", caseID, cases)
	}

	resp, err = http.Get(h.URL() + "/api/cases/" + caseID + "/evidence")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for case evidence, got %d", resp.StatusCode)
	}
}

// testSchemaValidation checks that malformed payloads are rejected.
func (h *Harness) testSchemaValidation(t *testing.T) {
	for _, body := range []string{`{}`, `{"title":1}`, `not json`} {
		resp, err := h.PostJSON("/api/cases/create", "", body)
		if err != nil {
			t.Fatal(err)
		}
		env, err := Decode(resp)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest || env.Error == nil || env.Error.Code != "EVD_VALIDATION" {
			t.Errorf("body %q: expected EVD_VALIDATION, got %d %+v", body, resp.StatusCode, env.Error)
		}
	}
}
