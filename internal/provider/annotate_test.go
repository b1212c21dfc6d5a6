package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

func TestVideoClientPollsUntilDone(t *testing.T) {
	var polls atomic.Int32
	var started annotateVideoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/videos:annotate":
			_ = json.NewDecoder(r.Body).Decode(&started)
			_, _ = w.Write([]byte(`{"name":"projects/1/locations/us-east1/operations/42"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/projects/1/locations/us-east1/operations/42":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"name":"projects/1/locations/us-east1/operations/42","done":false}`))
				return
			}
			_, _ = w.Write([]byte(`{"name":"projects/1/locations/us-east1/operations/42","done":true,
				"response":{"@type":"type.googleapis.com/google.cloud.videointelligence.v1.AnnotateVideoResponse",
				"annotationResults":[{"objectAnnotations":[{"entity":{"description":"car"}}]},{"ignored":true}]}}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewVideoClient("", "k", WithBaseURL(srv.URL)).WithPollInterval(time.Millisecond)
	raw, err := client.Annotate(context.Background(), model.NewEvidenceFile("cctv.mp4", []byte("v"), ""))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if !strings.Contains(string(raw), `"car"`) || strings.Contains(string(raw), "ignored") {
		t.Errorf("Annotate() = %s, want annotationResults[0]", raw)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
	if strings.Join(started.Features, ",") != strings.Join(VideoFeatures, ",") {
		t.Errorf("features = %v", started.Features)
	}
	if started.InputContent != "dg==" {
		t.Errorf("inputContent = %q", started.InputContent)
	}
}

func TestVideoClientOperationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"op","done":true,"error":{"code":3,"message":"unsupported codec"}}`))
	}))
	defer srv.Close()

	_, err := NewVideoClient("t", "", WithBaseURL(srv.URL)).Annotate(context.Background(), model.NewEvidenceFile("a.mp4", []byte("v"), ""))
	if err == nil || !strings.Contains(err.Error(), "unsupported codec") {
		t.Fatalf("Annotate() error = %v", err)
	}
}

func TestVideoClientRespectsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"op","done":false}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	client := NewVideoClient("t", "", WithBaseURL(srv.URL)).WithPollInterval(5 * time.Millisecond)
	if _, err := client.Annotate(ctx, model.NewEvidenceFile("a.mp4", []byte("v"), "")); err == nil {
		t.Fatal("Annotate() error = nil, want deadline error")
	}
}

func TestVisionClient(t *testing.T) {
	var got visionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images:annotate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"responses":[{"labelAnnotations":[{"description":"Car","score":0.9}]}]}`))
	}))
	defer srv.Close()

	raw, err := NewVisionClient("tok", "", WithBaseURL(srv.URL)).Annotate(context.Background(), model.NewEvidenceFile("a.jpg", []byte("img"), ""))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if !strings.Contains(string(raw), "labelAnnotations") {
		t.Errorf("Annotate() = %s", raw)
	}
	if len(got.Requests) != 1 || len(got.Requests[0].Features) != len(VisionFeatures) {
		t.Fatalf("request = %+v", got)
	}
	if got.Requests[0].Features[4].Type != "SAFE_SEARCH_DETECTION" {
		t.Errorf("features = %+v", got.Requests[0].Features)
	}
}

func TestVisionClientPerImageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"Bad image data."}}]}`))
	}))
	defer srv.Close()

	_, err := NewVisionClient("", "k", WithBaseURL(srv.URL)).Annotate(context.Background(), model.NewEvidenceFile("a.jpg", []byte("img"), ""))
	if err == nil || !strings.Contains(err.Error(), "Bad image data.") {
		t.Fatalf("Annotate() error = %v", err)
	}
}
