package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tariffdesk-backend/models"

	"github.com/google/uuid"
)

// ErrIngestionInFlight is returned when a run is requested while another is
// still executing. Runs never overlap.
var ErrIngestionInFlight = errors.New("an ingestion run is already in progress")

// LinkDiscoverer finds candidate documents on the source listing page.
// Implemented by SourceLinkResolver.
type LinkDiscoverer interface {
	DiscoverLinks(ctx context.Context, listingURL string) ([]models.SourceLink, error)
}

// UnseenFilter reduces discovered links to documents not yet ingested.
// Implemented by ChangeTracker.
type UnseenFilter interface {
	FilterUnseen(ctx context.Context, links []models.SourceLink) ([]models.PendingDocument, error)
}

// Extractor converts a PDF into plain text. Implemented by TextExtractor.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// RowParser converts rate-table text into typed rows.
// Implemented by TariffTableParser.
type RowParser interface {
	Parse(ctx context.Context, text, version string) ([]models.TariffRow, error)
}

// Committer performs the transactional index write.
// Implemented by IndexWriter.
type Committer interface {
	Commit(ctx context.Context, chunks []models.TariffChunk, rows []models.TariffRow, rec *models.DocumentVersionRecord) error
}

// IngestionService drives the full pipeline: discover, filter, extract,
// parse, chunk, commit. One run at a time; per-document failures are
// isolated so one broken PDF never blocks the rest of a pass.
type IngestionService struct {
	discoverer LinkDiscoverer
	filter     UnseenFilter
	extractor  Extractor
	parser     RowParser
	chunker    *Chunker
	committer  Committer
	chunks     ChunkStore

	listingURL      string
	documentRetries int

	mu      sync.Mutex
	running bool
	run     models.IngestionRun
}

// IngestionOption is a functional option for IngestionService
type IngestionOption func(*IngestionService)

// IngestWithDiscoverer sets the link discoverer
func IngestWithDiscoverer(d LinkDiscoverer) IngestionOption {
	return func(s *IngestionService) { s.discoverer = d }
}

// IngestWithFilter sets the unseen-document filter
func IngestWithFilter(f UnseenFilter) IngestionOption {
	return func(s *IngestionService) { s.filter = f }
}

// IngestWithExtractor sets the text extractor
func IngestWithExtractor(e Extractor) IngestionOption {
	return func(s *IngestionService) { s.extractor = e }
}

// IngestWithParser sets the rate-table parser
func IngestWithParser(p RowParser) IngestionOption {
	return func(s *IngestionService) { s.parser = p }
}

// IngestWithChunker sets the chunker
func IngestWithChunker(c *Chunker) IngestionOption {
	return func(s *IngestionService) { s.chunker = c }
}

// IngestWithCommitter sets the index committer
func IngestWithCommitter(c Committer) IngestionOption {
	return func(s *IngestionService) { s.committer = c }
}

// IngestWithChunkStore sets the chunk store used for the index-empty check
func IngestWithChunkStore(chunks ChunkStore) IngestionOption {
	return func(s *IngestionService) { s.chunks = chunks }
}

// IngestWithListingURL sets the source listing page
func IngestWithListingURL(listingURL string) IngestionOption {
	return func(s *IngestionService) { s.listingURL = listingURL }
}

// IngestWithDocumentRetries sets per-document attempt count
func IngestWithDocumentRetries(retries int) IngestionOption {
	return func(s *IngestionService) {
		if retries > 0 {
			s.documentRetries = retries
		}
	}
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(opts ...IngestionOption) *IngestionService {
	s := &IngestionService{
		chunker:         NewChunker(0, 0, 0),
		documentRetries: 2,
		run:             models.IngestionRun{Status: models.RunStatusIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns a snapshot of the current or last run
func (s *IngestionService) Status() models.IngestionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// EnsureIndexed runs a full pass if and only if the chunk index is empty.
// Called lazily on the first classification request after a cold start.
func (s *IngestionService) EnsureIndexed(ctx context.Context) error {
	if s.chunks == nil {
		return nil
	}
	count, err := s.chunks.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to check index state: %w", err)
	}
	if count > 0 {
		return nil
	}

	log.Printf("Chunk index is empty, running initial ingestion")
	if err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrIngestionInFlight) {
			// Someone else is already populating the index.
			return nil
		}
		return err
	}
	return nil
}

// RunOnce executes one complete ingestion pass. Concurrent calls beyond the
// first return ErrIngestionInFlight immediately.
func (s *IngestionService) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrIngestionInFlight
	}
	s.running = true
	s.run = models.IngestionRun{
		Status:    models.RunStatusInProgress,
		StartedAt: time.Now(),
	}
	s.mu.Unlock()

	err := s.runPass(ctx)

	s.mu.Lock()
	now := time.Now()
	s.run.FinishedAt = &now
	if err != nil {
		s.run.Status = models.RunStatusFailed
		s.run.ErrorMessage = err.Error()
	} else {
		s.run.Status = models.RunStatusCompleted
	}
	s.running = false
	s.mu.Unlock()

	return err
}

func (s *IngestionService) runPass(ctx context.Context) error {
	links, err := s.discoverer.DiscoverLinks(ctx, s.listingURL)
	if err != nil {
		return fmt.Errorf("link discovery failed: %w", err)
	}
	s.updateRun(func(r *models.IngestionRun) { r.LinksDiscovered = len(links) })
	log.Printf("Discovered %d source links", len(links))

	pending, err := s.filter.FilterUnseen(ctx, links)
	if err != nil {
		return fmt.Errorf("change detection failed: %w", err)
	}
	s.updateRun(func(r *models.IngestionRun) { r.DocumentsPending = len(pending) })
	if len(pending) == 0 {
		log.Printf("No unseen documents, index is current")
		return nil
	}
	log.Printf("Processing %d unseen documents", len(pending))

	failed := 0
	for _, doc := range pending {
		if err := s.processWithRetry(ctx, doc); err != nil {
			log.Printf("Failed to ingest %s/%s: %v", doc.Kind, doc.Version, err)
			failed++
			s.updateRun(func(r *models.IngestionRun) { r.DocumentsFailed = failed })
			continue
		}
		s.updateRun(func(r *models.IngestionRun) { r.DocumentsProcessed++ })
	}

	if failed == len(pending) {
		return fmt.Errorf("all %d pending documents failed", failed)
	}
	return nil
}

// processWithRetry runs processDocument up to documentRetries times.
// Terminal extraction and parse outcomes are not retried.
func (s *IngestionService) processWithRetry(ctx context.Context, doc models.PendingDocument) error {
	var lastErr error
	for attempt := 1; attempt <= s.documentRetries; attempt++ {
		lastErr = s.processDocument(ctx, doc)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrExtractionExhausted) || errors.Is(lastErr, ErrNoValidTariffData) {
			return lastErr
		}
		if attempt < s.documentRetries {
			log.Printf("Attempt %d for %s/%s failed: %v, retrying", attempt, doc.Kind, doc.Version, lastErr)
		}
	}
	return lastErr
}

// processDocument takes one pending document through extract, parse, chunk
// and commit
func (s *IngestionService) processDocument(ctx context.Context, doc models.PendingDocument) error {
	text, err := s.extractor.Extract(ctx, doc.Data)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	var chunks []models.TariffChunk
	var rows []models.TariffRow

	switch doc.Kind {
	case models.KindRateTable:
		rows, err = s.parser.Parse(ctx, text, doc.Version)
		if err != nil {
			return fmt.Errorf("parse failed: %w", err)
		}
		chunks = s.chunker.ChunkRows(rows, doc.Version)
	case models.KindLegalChapter:
		chunks = s.chunker.ChunkText(text, doc.Version, doc.Kind)
	default:
		return fmt.Errorf("document kind %s is not ingestable", doc.Kind)
	}

	if len(chunks) == 0 {
		return fmt.Errorf("document %s/%s produced no chunks", doc.Kind, doc.Version)
	}

	rec := &models.DocumentVersionRecord{
		ID:           uuid.New(),
		DocumentKind: doc.Kind,
		Version:      doc.Version,
		SourceURL:    doc.URL,
		ContentHash:  doc.Hash,
	}

	if err := s.committer.Commit(ctx, chunks, rows, rec); err != nil {
		return err
	}

	log.Printf("Ingested %s/%s: %d chunks, %d rows", doc.Kind, doc.Version, len(chunks), len(rows))
	return nil
}

func (s *IngestionService) updateRun(apply func(*models.IngestionRun)) {
	s.mu.Lock()
	apply(&s.run)
	s.mu.Unlock()
}
