package casefile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/custody"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
	"github.com/RegistryAccord/registryaccord-evidence-go/internal/storage"
)

var clock = time.Date(2024, 7, 4, 9, 15, 0, 0, time.UTC)

type recordingPublisher struct {
	cases    []model.Case
	evidence []model.Evidence
	err      error
}

func (r *recordingPublisher) PublishCaseCreated(_ context.Context, c model.Case) error {
	r.cases = append(r.cases, c)
	return r.err
}

func (r *recordingPublisher) PublishEvidenceAnalyzed(_ context.Context, ev model.Evidence) error {
	r.evidence = append(r.evidence, ev)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func newService(t *testing.T) (*Service, storage.Documents, *recordingPublisher) {
	t.Helper()
	docs := storage.NewMemoryWithClock(func() time.Time { return clock })
	pub := &recordingPublisher{}
	return New(docs, pub, slog.New(slog.NewTextHandler(io.Discard, nil))), docs, pub
}

func TestCreateCase(t *testing.T) {
	svc, _, pub := newService(t)

	c, err := svc.CreateCase(context.Background(), model.CreateCaseRequest{
		Title: "Chain snatching", Description: "Anna Nagar", OfficerID: "TN-1042", EvidenceType: "video", Language: "ta",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Chain snatching", c.Title)
	assert.Equal(t, model.CaseStatusActive, c.Status)
	assert.Zero(t, c.EvidenceCount)
	assert.Equal(t, clock, c.CreatedAt)
	assert.Equal(t, clock, c.UpdatedAt)
	require.Len(t, pub.cases, 1)
	assert.Equal(t, c.ID, pub.cases[0].ID)
}

func TestCreateCaseIgnoresPublishFailure(t *testing.T) {
	svc, _, pub := newService(t)
	pub.err = errors.New("nats down")

	_, err := svc.CreateCase(context.Background(), model.CreateCaseRequest{Title: "x", OfficerID: "o"})
	assert.NoError(t, err)
}

func TestAddEvidence(t *testing.T) {
	svc, _, pub := newService(t)
	ctx := context.Background()
	c, err := svc.CreateCase(ctx, model.CreateCaseRequest{Title: "t", OfficerID: "o"})
	require.NoError(t, err)

	content := []byte("video-bytes")
	first, err := svc.AddEvidence(ctx, c.ID, model.Evidence{
		Filename: "cam1.mp4", Narrative: "two people", AnalysisType: model.ModeAdvanced, FileType: "video/mp4", Language: "en",
	}, content)
	require.NoError(t, err)
	_, err = svc.AddEvidence(ctx, c.ID, model.Evidence{Filename: "cam2.mp4"}, []byte("other"))
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, c.ID, first.CaseID)
	assert.Equal(t, custody.Hash(content), first.FileHash)
	assert.Equal(t, model.AnalysisStatusCompleted, first.AnalysisStatus)
	assert.Equal(t, clock, first.AddedAt)
	assert.Equal(t, "two people", first.Narrative)

	updated, err := svc.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.EvidenceCount)

	list, err := svc.CaseEvidence(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cam1.mp4", list[0].Filename)
	assert.Equal(t, "cam2.mp4", list[1].Filename)

	assert.Len(t, pub.evidence, 2)
}

func TestAddEvidenceUnknownCase(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.AddEvidence(context.Background(), "nope", model.Evidence{Filename: "a.jpg"}, []byte("x"))
	assert.ErrorIs(t, err, ErrCaseNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.CaseEvidence(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListCasesFilters(t *testing.T) {
	svc, docs, _ := newService(t)
	ctx := context.Background()

	a, err := svc.CreateCase(ctx, model.CreateCaseRequest{Title: "a", OfficerID: "o1"})
	require.NoError(t, err)
	b, err := svc.CreateCase(ctx, model.CreateCaseRequest{Title: "b", OfficerID: "o2"})
	require.NoError(t, err)
	require.NoError(t, docs.UpdateDocument(ctx, "cases", b.ID, map[string]any{"status": "closed"}))

	all, err := svc.ListCases(ctx, model.CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := svc.ListCases(ctx, model.CaseFilter{Status: model.CaseStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	byOfficer, err := svc.ListCases(ctx, model.CaseFilter{OfficerID: "o2"})
	require.NoError(t, err)
	require.Len(t, byOfficer, 1)
	assert.Equal(t, "closed", byOfficer[0].Status)

	none, err := svc.ListCases(ctx, model.CaseFilter{OfficerID: "o3"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreEmbeddings(t *testing.T) {
	svc, docs, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.StoreEmbeddings(ctx, "c1", "e1", "narrative"))

	doc, err := docs.GetDocument(ctx, "cases/c1/evidence/e1/embeddings", "analysis")
	require.NoError(t, err)
	assert.Equal(t, "narrative", doc.Fields["rawText"])
	assert.Equal(t, EmbeddingStatusPending, doc.Fields["embeddingStatus"])
	assert.Equal(t, clock.Format(time.RFC3339Nano), doc.Fields["processedAt"])
}

func TestReports(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	id, err := svc.SaveReport(ctx, model.Report{
		Filename: "a.jpg", Narrative: "text", PDF: []byte("%PDF-1.3"), Language: "hi", FileHash: "h",
	})
	require.NoError(t, err)
	assert.Len(t, id, 26, "ULID")

	r, err := svc.GetReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
	assert.Equal(t, []byte("%PDF-1.3"), r.PDF)
	assert.Equal(t, "hi", r.Language)
	assert.Equal(t, clock, r.Timestamp)

	sameID, err := svc.SaveReport(ctx, model.Report{ID: "evidence-1", Filename: "b.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "evidence-1", sameID)

	_, err = svc.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReportIDsSort(t *testing.T) {
	first := NewReportID()
	time.Sleep(2 * time.Millisecond)
	second := NewReportID()
	assert.Less(t, first, second)
}
