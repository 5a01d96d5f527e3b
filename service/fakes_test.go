package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"tariffdesk-backend/models"
	"tariffdesk-backend/repository"

	"github.com/google/uuid"
)

// fakeChunkStore is an in-memory ChunkStore for pipeline tests
type fakeChunkStore struct {
	mu     sync.Mutex
	chunks []models.TariffChunk

	insertErr error
	searchErr error

	searchResults map[models.DocumentKind][]models.ScoredChunk
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{searchResults: make(map[models.DocumentKind][]models.ScoredChunk)}
}

func (f *fakeChunkStore) InsertMany(_ context.Context, chunks []models.TariffChunk) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeChunkStore) DeleteByID(_ context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []models.TariffChunk
	for _, c := range f.chunks {
		if drop[c.ID] {
			continue
		}
		kept = append(kept, c)
	}
	f.chunks = kept
	return nil
}

func (f *fakeChunkStore) DeleteSuperseded(_ context.Context, kind models.DocumentKind, keepVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.TariffChunk
	for _, c := range f.chunks {
		if c.SourceKind == kind && c.Version != keepVersion {
			continue
		}
		kept = append(kept, c)
	}
	f.chunks = kept
	return nil
}

func (f *fakeChunkStore) Search(_ context.Context, _ []float64, kind models.DocumentKind, limit int) ([]models.ScoredChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	results := f.searchResults[kind]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *fakeChunkStore) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks), nil
}

// fakeRateStore is an in-memory RateStore keyed by HS code
type fakeRateStore struct {
	mu        sync.Mutex
	rows      map[string]models.TariffRow
	upsertErr error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{rows: make(map[string]models.TariffRow)}
}

func (f *fakeRateStore) UpsertMany(_ context.Context, rows []models.TariffRow) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		f.rows[row.HSCode] = row
	}
	return nil
}

func (f *fakeRateStore) GetRates(_ context.Context, hsCode string) (*models.TariffRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[hsCode]
	if !ok {
		return nil, repository.ErrRateNotFound
	}
	return &row, nil
}

func (f *fakeRateStore) DeleteByCodes(_ context.Context, version string, codes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range codes {
		if row, ok := f.rows[code]; ok && row.Version == version {
			delete(f.rows, code)
		}
	}
	return nil
}

func (f *fakeRateStore) DeleteSuperseded(_ context.Context, keepVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for code, row := range f.rows {
		if row.Version != keepVersion {
			delete(f.rows, code)
		}
	}
	return nil
}

// fakeVersionStore tracks processed versions in memory
type fakeVersionStore struct {
	mu        sync.Mutex
	processed map[string]*models.DocumentVersionRecord
	hashes    map[string]bool
	markErr   error
	latest    *time.Time
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{
		processed: make(map[string]*models.DocumentVersionRecord),
		hashes:    make(map[string]bool),
	}
}

func versionKey(kind models.DocumentKind, version, sourceURL string) string {
	return string(kind) + "/" + version + "/" + sourceURL
}

func (f *fakeVersionStore) Exists(_ context.Context, kind models.DocumentKind, version, sourceURL string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.processed[versionKey(kind, version, sourceURL)]
	return ok, nil
}

func (f *fakeVersionStore) ExistsHash(_ context.Context, kind models.DocumentKind, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[string(kind)+"/"+hash], nil
}

func (f *fakeVersionStore) MarkProcessed(_ context.Context, rec *models.DocumentVersionRecord) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ProcessedAt = time.Now()
	rec.IsActive = true
	f.processed[versionKey(rec.DocumentKind, rec.Version, rec.SourceURL)] = rec
	f.hashes[string(rec.DocumentKind)+"/"+rec.ContentHash] = true
	return nil
}

func (f *fakeVersionStore) DeactivateOthers(_ context.Context, kind models.DocumentKind, keepVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.processed {
		if rec.DocumentKind == kind && rec.Version != keepVersion {
			rec.IsActive = false
		}
	}
	return nil
}

func (f *fakeVersionStore) LatestProcessedAt(_ context.Context) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

// fakeEmbedder returns deterministic vectors
type fakeEmbedder struct {
	dims     int
	embedErr error
	calls    int
}

func (f *fakeEmbedder) vector() []float64 {
	dims := f.dims
	if dims == 0 {
		dims = 4
	}
	v := make([]float64, dims)
	v[0] = 1
	return v
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float64, error) {
	f.calls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.vector(), nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = f.vector()
	}
	return vectors, nil
}

// fakeGenerator returns a canned response or error
type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ float64) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

var errFakeStore = errors.New("fake store failure")
