package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tariffdesk-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDiscoverer struct {
	links []models.SourceLink
	err   error
}

func (f *fakeDiscoverer) DiscoverLinks(context.Context, string) ([]models.SourceLink, error) {
	return f.links, f.err
}

type fakeFilter struct {
	pending []models.PendingDocument
	err     error
}

func (f *fakeFilter) FilterUnseen(context.Context, []models.SourceLink) ([]models.PendingDocument, error) {
	return f.pending, f.err
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type fakeRowParser struct {
	rows []models.TariffRow
	err  error
}

func (f *fakeRowParser) Parse(_ context.Context, _, version string) ([]models.TariffRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows := make([]models.TariffRow, len(f.rows))
	copy(rows, f.rows)
	for i := range rows {
		rows[i].Version = version
	}
	return rows, nil
}

type fakeCommitter struct {
	mu      sync.Mutex
	commits []models.DocumentVersionRecord
	err     error
	failN   int // fail the first N commits
	block   chan struct{}
}

func (f *fakeCommitter) Commit(_ context.Context, _ []models.TariffChunk, _ []models.TariffRow, rec *models.DocumentVersionRecord) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("transient commit failure")
	}
	if f.err != nil {
		return f.err
	}
	f.commits = append(f.commits, *rec)
	return nil
}

func rateTablePending() models.PendingDocument {
	return models.PendingDocument{
		Kind:    models.KindRateTable,
		Version: "2024-2025",
		URL:     "https://example.org/schedule.pdf",
		Hash:    "abc123",
		Data:    []byte("%PDF"),
	}
}

func newTestIngestion(opts ...IngestionOption) *IngestionService {
	base := []IngestionOption{
		IngestWithDiscoverer(&fakeDiscoverer{links: []models.SourceLink{{URL: "x"}}}),
		IngestWithExtractor(&fakeExtractor{text: strings.Repeat("extracted tariff text ", 10)}),
		IngestWithParser(&fakeRowParser{rows: makeRows(3)}),
		IngestWithChunker(NewChunker(50, 30000, 10)),
		IngestWithListingURL("https://example.org/listing"),
	}
	return NewIngestionService(append(base, opts...)...)
}

func TestRunOnceProcessesRateTable(t *testing.T) {
	committer := &fakeCommitter{}
	svc := newTestIngestion(
		IngestWithFilter(&fakeFilter{pending: []models.PendingDocument{rateTablePending()}}),
		IngestWithCommitter(committer),
	)

	require.NoError(t, svc.RunOnce(context.Background()))

	require.Len(t, committer.commits, 1)
	rec := committer.commits[0]
	assert.Equal(t, models.KindRateTable, rec.DocumentKind)
	assert.Equal(t, "2024-2025", rec.Version)
	assert.Equal(t, "abc123", rec.ContentHash)

	status := svc.Status()
	assert.Equal(t, models.RunStatusCompleted, status.Status)
	assert.Equal(t, 1, status.DocumentsProcessed)
	assert.Equal(t, 0, status.DocumentsFailed)
	assert.NotNil(t, status.FinishedAt)
}

func TestRunOnceProcessesLegalChapterWithoutParser(t *testing.T) {
	committer := &fakeCommitter{}
	parser := &fakeRowParser{err: errors.New("parser must not run for chapters")}
	svc := newTestIngestion(
		IngestWithFilter(&fakeFilter{pending: []models.PendingDocument{{
			Kind:    models.KindLegalChapter,
			Version: "2024-2025",
			Data:    []byte("%PDF"),
		}}}),
		IngestWithParser(parser),
		IngestWithCommitter(committer),
	)

	require.NoError(t, svc.RunOnce(context.Background()))
	require.Len(t, committer.commits, 1)
	assert.Equal(t, models.KindLegalChapter, committer.commits[0].DocumentKind)
}

func TestRunOnceSingleFlight(t *testing.T) {
	committer := &fakeCommitter{block: make(chan struct{})}
	svc := newTestIngestion(
		IngestWithFilter(&fakeFilter{pending: []models.PendingDocument{rateTablePending()}}),
		IngestWithCommitter(committer),
	)

	done := make(chan error, 1)
	go func() {
		done <- svc.RunOnce(context.Background())
	}()

	// Wait for the first run to reach the committer.
	require.Eventually(t, func() bool {
		return svc.Status().Status == models.RunStatusInProgress
	}, time.Second, 5*time.Millisecond)

	err := svc.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrIngestionInFlight)

	close(committer.block)
	require.NoError(t, <-done)
}

func TestRunOnceRetriesTransientFailures(t *testing.T) {
	committer := &fakeCommitter{failN: 1}
	svc := newTestIngestion(
		IngestWithFilter(&fakeFilter{pending: []models.PendingDocument{rateTablePending()}}),
		IngestWithCommitter(committer),
		IngestWithDocumentRetries(2),
	)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Len(t, committer.commits, 1)
	assert.Equal(t, 1, svc.Status().DocumentsProcessed)
}

func TestRunOnceDoesNotRetryTerminalFailures(t *testing.T) {
	extractor := &fakeExtractor{err: ErrExtractionExhausted}
	committer := &fakeCommitter{}
	svc := newTestIngestion(
		IngestWithFilter(&fakeFilter{pending: []models.PendingDocument{rateTablePending()}}),
		IngestWithExtractor(extractor),
		IngestWithCommitter(committer),
		IngestWithDocumentRetries(3),
	)

	err := svc.RunOnce(context.Background())
	require.Error(t, err, "a pass where every document fails is itself a failure")
	assert.Empty(t, committer.commits)
	assert.Equal(t, models.RunStatusFailed, svc.Status().Status)
	assert.Equal(t, 1, svc.Status().DocumentsFailed)
}

func TestRunOnceIsolatesPerDocumentFailures(t *testing.T) {
	committer := &fakeCommitter{}
	broken := rateTablePending()
	broken.Kind = models.KindOther // not ingestable, fails in processing
	svc := newTestIngestion(
		IngestWithFilter(&fakeFilter{pending: []models.PendingDocument{broken, rateTablePending()}}),
		IngestWithCommitter(committer),
	)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Len(t, committer.commits, 1)

	status := svc.Status()
	assert.Equal(t, models.RunStatusCompleted, status.Status)
	assert.Equal(t, 1, status.DocumentsProcessed)
	assert.Equal(t, 1, status.DocumentsFailed)
}

func TestRunOnceNothingPending(t *testing.T) {
	committer := &fakeCommitter{}
	svc := newTestIngestion(
		IngestWithFilter(&fakeFilter{}),
		IngestWithCommitter(committer),
	)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Empty(t, committer.commits)
	assert.Equal(t, models.RunStatusCompleted, svc.Status().Status)
}

func TestEnsureIndexedRunsOnlyWhenEmpty(t *testing.T) {
	store := newFakeChunkStore()
	committer := &fakeCommitter{}
	svc := newTestIngestion(
		IngestWithFilter(&fakeFilter{pending: []models.PendingDocument{rateTablePending()}}),
		IngestWithCommitter(committer),
		IngestWithChunkStore(store),
	)

	require.NoError(t, svc.EnsureIndexed(context.Background()))
	assert.Len(t, committer.commits, 1, "empty index triggers a run")

	store.chunks = makeChunks(1, models.KindRateTable, "v1")
	require.NoError(t, svc.EnsureIndexed(context.Background()))
	assert.Len(t, committer.commits, 1, "populated index must not trigger another run")
}
