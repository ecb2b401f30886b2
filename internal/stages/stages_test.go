package stages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"go.uber.org/zap"
)

// memArtifacts — хранилище артефактов в памяти для тестов
type memArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{objects: make(map[string][]byte)}
}

func (s *memArtifacts) key(ref domain.ArtifactRef) string { return ref.Bucket + "/" + ref.Key }

func (s *memArtifacts) Put(ctx context.Context, ref domain.ArtifactRef, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[s.key(ref)] = data
	s.puts++
	return nil
}

func (s *memArtifacts) Get(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[s.key(ref)]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func baseReport(raw *domain.ArtifactRef) domain.ReportContext {
	return domain.ReportContext{
		ReportID:    "r-1",
		SubmittedAt: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
		Status:      domain.StateCreated,
		Filename:    "photo.jpg",
		ContentType: "image/jpeg",
		Raw:         raw,
	}
}

func TestRedactionIsContentAddressedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	artifacts := newMemArtifacts()

	raw := domain.ArtifactRef{Bucket: "raw", Key: "2026/08/27/r-1/photo.jpg"}
	require.NoError(t, artifacts.Put(ctx, raw, []byte("jpeg-bytes"), "image/jpeg"))

	stage := NewRedactionStage(artifacts, &MockRedactor{}, "evidence", zap.NewNop())

	first, err := stage.Execute(ctx, baseReport(&raw))
	require.NoError(t, err)
	require.NotNil(t, first.Redacted)

	// Ретрай с тем же входом пишет те же байты по тому же адресу
	second, err := stage.Execute(ctx, baseReport(&raw))
	require.NoError(t, err)
	require.NotNil(t, second.Redacted)

	assert.Equal(t, first.Redacted.Key, second.Redacted.Key)
	assert.Equal(t, "evidence", first.Redacted.Bucket)

	data, err := artifacts.Get(ctx, *first.Redacted)
	require.NoError(t, err)
	assert.Contains(t, string(data), "REDACTED::")
}

func TestRedactionSkipsReportWithoutPhoto(t *testing.T) {
	ctx := context.Background()
	stage := NewRedactionStage(newMemArtifacts(), &MockRedactor{}, "evidence", zap.NewNop())

	out, err := stage.Execute(ctx, baseReport(nil))
	require.NoError(t, err)
	assert.Nil(t, out.Redacted)
}

func TestRedactionPermanentOnUnsupportedContentType(t *testing.T) {
	ctx := context.Background()
	artifacts := newMemArtifacts()
	raw := domain.ArtifactRef{Bucket: "raw", Key: "r-1/file.pdf"}
	require.NoError(t, artifacts.Put(ctx, raw, []byte("%PDF"), "application/pdf"))

	stage := NewRedactionStage(artifacts, &MockRedactor{}, "evidence", zap.NewNop())
	rc := baseReport(&raw)
	rc.ContentType = "application/pdf"

	_, err := stage.Execute(ctx, rc)
	require.Error(t, err)
	var perm *domain.PermanentStageError
	assert.ErrorAs(t, err, &perm)
	assert.False(t, domain.IsRetryable(err))
}

func TestInferenceThresholdResolution(t *testing.T) {
	ctx := context.Background()
	artifacts := newMemArtifacts()
	raw := domain.ArtifactRef{Bucket: "raw", Key: "r-1/photo.jpg"}
	require.NoError(t, artifacts.Put(ctx, raw, []byte("jpeg"), "image/jpeg"))

	stage := NewInferenceStage(artifacts, &MockDetector{}, 0.5, zap.NewNop())

	// Дефолтный порог
	out, err := stage.Execute(ctx, baseReport(&raw))
	require.NoError(t, err)
	require.NotNil(t, out.Inference)
	assert.Equal(t, 0.5, out.Inference.ConfidenceThreshold)
	assert.True(t, out.Inference.VapeDetected)

	// Переопределение клампится в [0,1]
	rc := baseReport(&raw)
	over := 7.5
	rc.ConfidenceOverride = &over
	out, err = stage.Execute(ctx, rc)
	require.NoError(t, err)
	require.NotNil(t, out.Inference)
	assert.Equal(t, 1.0, out.Inference.ConfidenceThreshold)
}

func TestInferenceWithoutPhotoRecordsEmptySummary(t *testing.T) {
	ctx := context.Background()
	stage := NewInferenceStage(newMemArtifacts(), &MockDetector{}, 0.5, zap.NewNop())

	out, err := stage.Execute(ctx, baseReport(nil))
	require.NoError(t, err)
	require.NotNil(t, out.Inference)
	assert.Equal(t, 0, out.Inference.TotalDetections)
	assert.Equal(t, "mock://detector", out.Inference.Endpoint)
}

func TestEnrichmentSkipsWithoutLocation(t *testing.T) {
	ctx := context.Background()
	stage := NewEnrichmentStage(&MockZoneLocator{}, zap.NewNop())

	out, err := stage.Execute(ctx, baseReport(nil))
	require.NoError(t, err)
	assert.Nil(t, out.Enrichment)

	rc := baseReport(nil)
	rc.Location = &domain.Location{Latitude: 55.75, Longitude: 37.61}
	out, err = stage.Execute(ctx, rc)
	require.NoError(t, err)
	require.NotNil(t, out.Enrichment)
	assert.Equal(t, "zone-001", out.Enrichment.ZoneID)
}

// fakeReportStore запоминает все upsert-ы
type fakeReportStore struct {
	mu       sync.Mutex
	upserts  []domain.ReportContext
	failNext bool
}

func (s *fakeReportStore) Upsert(ctx context.Context, rc domain.ReportContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("db unavailable")
	}
	s.upserts = append(s.upserts, rc)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	events   []domain.MutationEvent
	failNext bool
}

func (p *fakePublisher) Publish(ctx context.Context, ev domain.MutationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return errors.New("stream unavailable")
	}
	p.events = append(p.events, ev)
	return nil
}

func TestPersistIncrementsVersionAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := &fakeReportStore{}
	pub := &fakePublisher{}
	at := time.Date(2026, 8, 27, 12, 0, 5, 0, time.UTC)

	stage := NewPersistStage(store, pub, &MockNotifier{}, zap.NewNop()).
		WithClock(func() time.Time { return at })

	rc := baseReport(nil)
	rc.Status = domain.StatePersisting

	out, err := stage.Execute(ctx, rc)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), out.Version)
	assert.Equal(t, domain.ReviewStatusPending, out.ReviewStatus)

	require.Len(t, store.upserts, 1)
	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, rc.ReportID, ev.ReportID)
	assert.Equal(t, uint64(1), ev.Version)
	assert.Equal(t, at, ev.ObservedAt)
	assert.Equal(t, uint64(1), ev.Payload.Version)
}

func TestPersistRetryRepeatsSameVersion(t *testing.T) {
	ctx := context.Background()
	store := &fakeReportStore{}
	pub := &fakePublisher{failNext: true}
	stage := NewPersistStage(store, pub, &MockNotifier{}, zap.NewNop())

	rc := baseReport(nil)
	rc.Status = domain.StatePersisting

	// Первая попытка: upsert прошел, публикация упала
	_, err := stage.Execute(ctx, rc)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	// Ретрай от того же входа: та же версия, дубликат не создается
	out, err := stage.Execute(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.Version)

	require.Len(t, store.upserts, 2)
	assert.Equal(t, store.upserts[0].Version, store.upserts[1].Version)
	require.Len(t, pub.events, 1)
}

func TestPersistKeepsExistingReviewStatus(t *testing.T) {
	ctx := context.Background()
	store := &fakeReportStore{}
	stage := NewPersistStage(store, &fakePublisher{}, &MockNotifier{}, zap.NewNop())

	rc := baseReport(nil)
	rc.ReviewStatus = "REVIEWED"

	out, err := stage.Execute(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, "REVIEWED", out.ReviewStatus)
}
