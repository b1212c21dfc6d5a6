package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/casefile"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/event"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/locale"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/media"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/orchestrator"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/provider"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/report"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/storage"
)

const imagePayload = `{
  "localizedObjectAnnotations": [{"name": "Car", "score": 0.93}],
  "labelAnnotations": [{"description": "Vehicle", "score": 0.95}]
}`

type stubNarrator struct {
	text string
	err  error
}

func (n stubNarrator) Narrate(context.Context, string, model.EvidenceFile) (provider.Narration, error) {
	if n.err != nil {
		return provider.Narration{}, n.err
	}
	return provider.Narration{Text: n.text, Provider: "stub"}, nil
}

type stubAnnotator struct{ raw string }

func (a stubAnnotator) Name() string { return "stub-vision" }

func (a stubAnnotator) Annotate(context.Context, model.EvidenceFile) (json.RawMessage, error) {
	return json.RawMessage(a.raw), nil
}

type stubAuth struct{}

func (stubAuth) Authenticate(_ context.Context, header string) (string, error) {
	if header == "Bearer good" {
		return "officer-7", nil
	}
	return "", errors.New("unauthenticated")
}

type testServer struct {
	handler http.Handler
	docs    storage.Documents
}

type serverOption func(*Deps, *orchestrator.Options)

func withNarrator(n orchestrator.Narrator) serverOption {
	return func(_ *Deps, o *orchestrator.Options) { o.Narrator = n }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orchOpts := orchestrator.Options{
		Narrator:   stubNarrator{text: "A white car with plate TN 09 AB 1234 parked near a gate."},
		Annotators: provider.Annotators{Image: stubAnnotator{raw: imagePayload}},
		Logger:     logger,
	}
	docs := storage.NewMemory()
	blobs, err := media.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	catalog, err := locale.New("en")
	require.NoError(t, err)
	renderer, err := report.NewRenderer(catalog)
	require.NoError(t, err)
	validator, err := schema.NewValidator(nil)
	require.NoError(t, err)

	deps := Deps{
		Docs:          docs,
		Blobs:         blobs,
		Reports:       renderer,
		Locales:       catalog,
		Validator:     validator,
		Logger:        logger,
		MaxUploadSize: 1 << 20,
	}
	for _, opt := range opts {
		opt(&deps, &orchOpts)
	}
	deps.Cases = casefile.New(deps.Docs, event.NewNoop(), logger)
	orchOpts.MaxFileSize = deps.MaxUploadSize
	deps.Analyzer = orchestrator.New(orchOpts)
	return &testServer{handler: New(deps), docs: deps.Docs}
}

func withDocs(docs storage.Documents) serverOption {
	return func(d *Deps, _ *orchestrator.Options) { d.Docs = docs }
}

func withBlobs(blobs media.BlobStore) serverOption {
	return func(d *Deps, _ *orchestrator.Options) { d.Blobs = blobs }
}

func withAuth(a Authenticator) serverOption {
	return func(d *Deps, _ *orchestrator.Options) { d.Auth = a }
}

func withLogger(l *slog.Logger) serverOption {
	return func(d *Deps, _ *orchestrator.Options) { d.Logger = l }
}

// failingDocs rejects every write.
type failingDocs struct{ storage.Documents }

func (failingDocs) PutDocument(context.Context, string, string, any) (string, error) {
	return "", errors.New("connection reset by peer")
}

type failingBlobs struct{}

func (failingBlobs) PutBlob(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

type upload struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("evidence", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func data(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	require.NotNil(t, env.Data, rr.Body.String())
	return env.Data
}

type errorBody struct {
	Code          string          `json:"code"`
	Message       string          `json:"message"`
	CorrelationID string          `json:"correlationId"`
	Details       json.RawMessage `json:"details"`
}

func apiError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env.Error
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	d := data(t, rr)
	assert.Equal(t, "healthy", d["status"])
	assert.Equal(t, "Alfa Labs Evidence Analyzer", d["service"])
	assert.Equal(t, "2.1.0", d["version"])
	assert.Len(t, d["features"], 5)
}

func TestUploadGeneratesReport(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(multipartRequest(t, "/upload", nil, upload{"scene.jpg", "jpeg-bytes"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	d := data(t, rr)
	assert.Equal(t, MessageReportGenerated, d["message"])
	assert.Equal(t, false, d["degraded"])
	assert.Equal(t, "en", d["language"])
	assert.Equal(t, "stub", d["provider"])
	assert.Contains(t, d["analysis"], "--- Analysis of IMAGE/JPEG file: scene.jpg ---")
	assert.Len(t, d["file_hash"], 64)

	id, _ := d["report_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/reports/"+id, d["pdf_url"])

	pdf := ts.do(httptest.NewRequest(http.MethodGet, "/reports/"+id, nil))
	require.Equal(t, http.StatusOK, pdf.Code)
	assert.Equal(t, "application/pdf", pdf.Header().Get("Content-Type"))
	assert.Equal(t, "inline; filename=report_"+id+".pdf", pdf.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(pdf.Body.Bytes(), []byte("%PDF-")))
}

func TestUploadDegradedStillReports(t *testing.T) {
	ts := newTestServer(t, withNarrator(stubNarrator{err: errors.New("quota exceeded")}))

	rr := ts.do(multipartRequest(t, "/upload", nil, upload{"scene.jpg", "jpeg-bytes"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	d := data(t, rr)
	assert.Equal(t, true, d["degraded"])
	assert.Equal(t, MessageDegraded, d["message"])
	assert.Equal(t, provider.FallbackName, d["provider"])
	assert.NotEmpty(t, d["report_id"])
}

func TestUploadRejectsUnreadableFiles(t *testing.T) {
	ts := newTestServer(t)

	tests := map[string]*http.Request{
		"no file part": multipartRequest(t, "/upload", map[string]string{"language": "en"}),
		"empty file":   multipartRequest(t, "/upload", nil, upload{"scene.jpg", ""}),
		"too large":    multipartRequest(t, "/upload", nil, upload{"big.jpg", strings.Repeat("x", 1<<20+1)}),
		"not multipart": func() *http.Request {
			return jsonRequest(http.MethodPost, "/upload", `{}`)
		}(),
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rr := ts.do(req)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			e := apiError(t, rr)
			assert.Equal(t, "EVD_INVALID_INPUT", e.Code)
			assert.Equal(t, "could not read your file", e.Message)
			assert.NotEmpty(t, e.Details)
		})
	}
}

func TestUploadLanguageSelection(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(multipartRequest(t, "/upload", map[string]string{"language": "ta"}, upload{"a.jpg", "x"}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ta", data(t, rr)["language"])

	req := multipartRequest(t, "/upload?lang=fr", nil, upload{"a.jpg", "x"})
	req.Header.Set("Accept-Language", "hi-IN,hi;q=0.9")
	rr = ts.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hi", data(t, rr)["language"], "unsupported query language is skipped")

	rr = ts.do(multipartRequest(t, "/upload", map[string]string{"language": "de"}, upload{"a.jpg", "x"}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "en", data(t, rr)["language"])
}

func TestAnalyzeAdvancedCreatesCase(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(multipartRequest(t, "/api/analyze-advanced",
		map[string]string{"officerId": "TN-42", "description": "parking lot", "language": "en"},
		upload{"scene.jpg", "jpeg-bytes"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	d := data(t, rr)
	assert.Equal(t, MessageAdvancedComplete, d["message"])
	caseID, _ := d["case_id"].(string)
	evidenceID, _ := d["evidence_id"].(string)
	require.NotEmpty(t, caseID)
	require.NotEmpty(t, evidenceID)
	assert.Equal(t, "/reports/"+evidenceID, d["pdf_url"])

	adv, ok := d["advanced_features"].(map[string]any)
	require.True(t, ok, "advanced features present: %v", d["advanced_features"])
	assert.Equal(t, "image", adv["category"])
	assert.Equal(t, float64(1), adv["objects_detected"])

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/cases?officerId=TN-42", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	cases := data(t, rr)["cases"].([]any)
	require.Len(t, cases, 1)
	c := cases[0].(map[string]any)
	assert.Equal(t, "Case Analysis - scene.jpg", c["title"])
	assert.Equal(t, "parking lot", c["description"])
	assert.Equal(t, float64(1), c["evidenceCount"])

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/cases/"+caseID+"/evidence", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	evidence := data(t, rr)["evidence"].([]any)
	require.Len(t, evidence, 1)
	ev := evidence[0].(map[string]any)
	assert.Equal(t, evidenceID, ev["evidenceId"])
	assert.Equal(t, "advanced", ev["analysisType"])
	assert.Equal(t, "completed", ev["analysisStatus"])
	assert.True(t, strings.HasPrefix(ev["fileUrl"].(string), "file://"))

	emb, err := ts.docs.GetDocument(context.Background(), "cases/"+caseID+"/evidence/"+evidenceID+"/embeddings", "analysis")
	require.NoError(t, err)
	assert.Equal(t, "pending", emb.Fields["embeddingStatus"])

	pdf := ts.do(httptest.NewRequest(http.MethodGet, "/reports/"+evidenceID, nil))
	assert.Equal(t, http.StatusOK, pdf.Code)
}

func TestAnalyzeAdvancedIntoExistingCase(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(jsonRequest(http.MethodPost, "/api/cases/create",
		`{"title":"Theft","description":"Bike stolen","officerId":"TN-7"}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	caseID := data(t, rr)["case_id"].(string)

	for i := 0; i < 2; i++ {
		rr = ts.do(multipartRequest(t, "/api/analyze-advanced", map[string]string{"caseId": caseID}, upload{"cam.jpg", "img"}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, caseID, data(t, rr)["case_id"])
	}

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/cases", nil))
	cases := data(t, rr)["cases"].([]any)
	require.Len(t, cases, 1)
	assert.Equal(t, float64(2), cases[0].(map[string]any)["evidenceCount"])

	rr = ts.do(multipartRequest(t, "/api/analyze-advanced", map[string]string{"caseId": "missing"}, upload{"cam.jpg", "img"}))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "EVD_NOT_FOUND", apiError(t, rr).Code)
}

func TestAnalyzeBatch(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(multipartRequest(t, "/api/analyze-batch", nil,
		upload{"a.jpg", "first"}, upload{"b.jpg", ""}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	d := data(t, rr)

	results := d["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	second := results[1].(map[string]any)
	assert.Equal(t, "success", first["status"])
	assert.Equal(t, "error", second["status"])
	assert.Equal(t, "Analysis failed: File is empty", second["analysis"])

	combined := d["combined_report"].(string)
	assert.True(t, strings.HasPrefix(combined, "COMBINED EVIDENCE ANALYSIS REPORT\n"))
	assert.Contains(t, combined, "FILE: b.jpg\nSTATUS: ERROR\n")

	id := d["report_id"].(string)
	pdf := ts.do(httptest.NewRequest(http.MethodGet, "/reports/"+id, nil))
	assert.Equal(t, http.StatusOK, pdf.Code)
}

func TestCreateCaseValidation(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(jsonRequest(http.MethodPost, "/api/cases/create", `{"title":"Theft"}`))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	e := apiError(t, rr)
	assert.Equal(t, "EVD_VALIDATION", e.Code)
	assert.NotEmpty(t, e.Details)

	rr = ts.do(jsonRequest(http.MethodPost, "/api/cases/create", `{"title":`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCaseEvidenceUnknownCase(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/cases/nope/evidence", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "EVD_NOT_FOUND", apiError(t, rr).Code)
}

func TestAskEvidence(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(multipartRequest(t, "/api/analyze-advanced", nil, upload{"scene.jpg", "jpeg"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	evidenceID := data(t, rr)["evidence_id"].(string)

	rr = ts.do(jsonRequest(http.MethodPost, "/api/evidence/"+evidenceID+"/ask", `{"question":"Which vehicle is visible?"}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	d := data(t, rr)
	assert.Equal(t, evidenceID, d["evidence_id"])
	assert.Equal(t, "Which vehicle is visible?", d["question"])
	assert.Contains(t, d["answer"], "Tamil Nadu license plates")
	assert.Equal(t, 0.85, d["confidence"])

	rr = ts.do(jsonRequest(http.MethodPost, "/api/evidence/unknown/ask", `{"question":"when?"}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(jsonRequest(http.MethodPost, "/api/evidence/"+evidenceID+"/ask", `{"question":""}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "EVD_VALIDATION", apiError(t, rr).Code)
}

func TestGetReportNotFound(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/reports/missing", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rr := ts.do(req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "corr-123", rr.Header().Get("X-Correlation-Id"))
	e := apiError(t, rr)
	assert.Equal(t, "EVD_NOT_FOUND", e.Code)
	assert.Equal(t, "corr-123", e.CorrelationID)
}

func TestCorrelationIDMinted(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, rr.Header().Get("X-Correlation-Id"), 36)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "EVD_BAD_REQUEST", apiError(t, rr).Code)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t, withAuth(stubAuth{}))
	body := `{"title":"Theft","description":"Bike stolen","officerId":"someone-else"}`

	rr := ts.do(jsonRequest(http.MethodPost, "/api/cases/create", body))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "EVD_AUTHN", apiError(t, rr).Code)

	req := jsonRequest(http.MethodPost, "/api/cases/create", body)
	req.Header.Set("Authorization", "Bearer bad")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	req = jsonRequest(http.MethodPost, "/api/cases/create", body)
	req.Header.Set("Authorization", "Bearer good")
	rr = ts.do(req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	c := data(t, rr)["case"].(map[string]any)
	assert.Equal(t, "officer-7", c["officerId"], "token subject wins over the body")

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/cases", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "reads stay open")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, func(d *Deps, _ *orchestrator.Options) {
		d.CORSAllowedOrigins = []string{"https://console.example"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "https://console.example")
	rr := ts.do(req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://console.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = ts.do(req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, func(d *Deps, _ *orchestrator.Options) { d.Metrics = metrics.NewMetrics() })

	ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestStorageFailuresReturn500(t *testing.T) {
	tests := []struct {
		name    string
		opt     serverOption
		path    string
		message string
	}{
		{"report not saved", withDocs(failingDocs{storage.NewMemory()}), "/upload", "failed to access report"},
		{"blob not stored", withBlobs(failingBlobs{}), "/api/analyze-advanced", "failed to access evidence file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.opt)

			rr := ts.do(multipartRequest(t, tt.path, nil, upload{"scene.jpg", "jpeg-bytes"}))
			assert.Equal(t, http.StatusInternalServerError, rr.Code, rr.Body.String())
			e := apiError(t, rr)
			assert.Equal(t, "EVD_STORAGE", e.Code)
			assert.Equal(t, tt.message, e.Message)
			assert.NotEmpty(t, e.CorrelationID)
			assert.NotContains(t, rr.Body.String(), "connection reset")
		})
	}
}

func TestRequestLogCarriesOfficer(t *testing.T) {
	var logs bytes.Buffer
	ts := newTestServer(t, withAuth(stubAuth{}), withLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	req := jsonRequest(http.MethodPost, "/api/cases/create", `{"title":"Theft","description":"Bike stolen","officerId":"ignored"}`)
	req.Header.Set("Authorization", "Bearer good")
	rr := ts.do(req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		if entry["msg"] == "request completed" {
			found = true
			assert.Equal(t, "officer-7", entry["officer_id"])
			assert.Equal(t, "/api/cases/create", entry["path"])
		}
	}
	assert.True(t, found, "no request log line in %s", logs.String())
}
