package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tariffdesk-backend/models"

	"github.com/google/uuid"
)

// IndexWriter owns all writes to the chunk index, the rate store, and the
// version records. New data is inserted before old data is deleted, and
// deletion is gated on the version record landing, so readers always
// observe a usable active version for every kind, even under a crash
// between steps.
type IndexWriter struct {
	chunks    ChunkStore
	rates     RateStore
	versions  VersionStore
	embedder  Embedder
	batchSize int
}

// IndexWriterOption is a functional option for IndexWriter
type IndexWriterOption func(*IndexWriter)

// IndexWithChunkStore sets the chunk store
func IndexWithChunkStore(chunks ChunkStore) IndexWriterOption {
	return func(w *IndexWriter) {
		w.chunks = chunks
	}
}

// IndexWithRateStore sets the rate store
func IndexWithRateStore(rates RateStore) IndexWriterOption {
	return func(w *IndexWriter) {
		w.rates = rates
	}
}

// IndexWithVersionStore sets the version store
func IndexWithVersionStore(versions VersionStore) IndexWriterOption {
	return func(w *IndexWriter) {
		w.versions = versions
	}
}

// IndexWithEmbedder sets the embedding client
func IndexWithEmbedder(embedder Embedder) IndexWriterOption {
	return func(w *IndexWriter) {
		w.embedder = embedder
	}
}

// IndexWithBatchSize sets the embedding batch size
func IndexWithBatchSize(size int) IndexWriterOption {
	return func(w *IndexWriter) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// NewIndexWriter creates a new index writer
func NewIndexWriter(opts ...IndexWriterOption) *IndexWriter {
	w := &IndexWriter{batchSize: 10}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Commit performs the all-or-nothing-per-version write:
//  1. embed all chunks in bounded batches,
//  2. insert all chunk rows (and rate rows for tabular documents),
//  3. mark the version record processed and active,
//  4. garbage-collect superseded data of the same kind.
//
// Failure before step 3 rolls back this document's own writes, leaving the
// prior active version and any co-versioned sibling documents untouched.
func (w *IndexWriter) Commit(
	ctx context.Context,
	chunks []models.TariffChunk,
	rows []models.TariffRow,
	rec *models.DocumentVersionRecord,
) error {
	if w.chunks == nil {
		return errors.New("chunk store not set")
	}
	if w.versions == nil {
		return errors.New("version store not set")
	}
	if w.embedder == nil {
		return errors.New("embedder not set")
	}
	if len(chunks) == 0 {
		return fmt.Errorf("nothing to commit for %s/%s", rec.DocumentKind, rec.Version)
	}

	// Step 1: embed. Batches run strictly sequentially to respect
	// upstream rate limits. Nothing has been written yet, so failure
	// needs no rollback.
	if err := w.embedChunks(ctx, chunks); err != nil {
		return fmt.Errorf("embedding failed for %s/%s: %w", rec.DocumentKind, rec.Version, err)
	}

	// Step 2: insert chunks, then rate rows for tabular documents.
	if err := w.chunks.InsertMany(ctx, chunks); err != nil {
		w.rollback(ctx, rec, chunks, nil)
		return fmt.Errorf("chunk insert failed for %s/%s: %w", rec.DocumentKind, rec.Version, err)
	}

	if len(rows) > 0 {
		if w.rates == nil {
			w.rollback(ctx, rec, chunks, nil)
			return errors.New("rate store not set")
		}
		if err := w.rates.UpsertMany(ctx, rows); err != nil {
			w.rollback(ctx, rec, chunks, rows)
			return fmt.Errorf("rate upsert failed for %s/%s: %w", rec.DocumentKind, rec.Version, err)
		}
	}

	// Step 3: only after insertion succeeds, record the version.
	if err := w.versions.MarkProcessed(ctx, rec); err != nil {
		w.rollback(ctx, rec, chunks, rows)
		return fmt.Errorf("version record write failed for %s/%s: %w", rec.DocumentKind, rec.Version, err)
	}

	// Step 4: garbage collection of superseded data, strictly gated on
	// the version-record commit. GC failures leave stale rows behind,
	// which is harmless; the next successful commit retries them.
	if err := w.versions.DeactivateOthers(ctx, rec.DocumentKind, rec.Version); err != nil {
		log.Printf("Warning: failed to deactivate superseded versions for %s: %v", rec.DocumentKind, err)
		return nil
	}
	if err := w.chunks.DeleteSuperseded(ctx, rec.DocumentKind, rec.Version); err != nil {
		log.Printf("Warning: failed to delete superseded chunks for %s: %v", rec.DocumentKind, err)
	}
	if len(rows) > 0 && w.rates != nil {
		if err := w.rates.DeleteSuperseded(ctx, rec.Version); err != nil {
			log.Printf("Warning: failed to delete superseded rates: %v", err)
		}
	}

	return nil
}

// embedChunks fills in embeddings batch by batch
func (w *IndexWriter) embedChunks(ctx context.Context, chunks []models.TariffChunk) error {
	for start := 0; start < len(chunks); start += w.batchSize {
		end := start + w.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = buildEmbeddingInput(chunk)
		}

		vectors, err := w.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("mismatch: got %d embeddings for %d chunks", len(vectors), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		// Brief pause between batches to stay under rate limits.
		if end < len(chunks) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	return nil
}

// buildEmbeddingInput prefixes chunk content with positional context so
// similar rows from different chapters stay distinguishable in vector space
func buildEmbeddingInput(chunk models.TariffChunk) string {
	switch chunk.SourceKind {
	case models.KindRateTable:
		return fmt.Sprintf("[TARIFF_RATES: %s-%s]\n\n%s", chunk.StartCode, chunk.EndCode, chunk.Content)
	case models.KindLegalChapter:
		header := ""
		if chunk.Section != "" {
			header += fmt.Sprintf("[SECTION: %s]\n", chunk.Section)
		}
		if chunk.Chapter != "" {
			header += fmt.Sprintf("[CHAPTER: %s]\n", chunk.Chapter)
		}
		if header == "" {
			return chunk.Content
		}
		return header + "\n" + chunk.Content
	default:
		return chunk.Content
	}
}

// rollback deletes exactly what this commit wrote: the inserted chunk IDs
// and this document's rate codes. Several documents of one kind can share a
// version token (per-chapter legal PDFs of a fiscal year), so a
// partition-wide delete here would gut siblings committed earlier. Prior
// versions and co-versioned documents are never touched.
func (w *IndexWriter) rollback(ctx context.Context, rec *models.DocumentVersionRecord, chunks []models.TariffChunk, rows []models.TariffRow) {
	ids := make([]uuid.UUID, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}
	if err := w.chunks.DeleteByID(ctx, ids); err != nil {
		log.Printf("Warning: rollback failed to delete chunks for %s/%s: %v", rec.DocumentKind, rec.Version, err)
	}
	if len(rows) > 0 && w.rates != nil {
		codes := make([]string, len(rows))
		for i := range rows {
			codes[i] = rows[i].HSCode
		}
		if err := w.rates.DeleteByCodes(ctx, rec.Version, codes); err != nil {
			log.Printf("Warning: rollback failed to delete rates for %s: %v", rec.Version, err)
		}
	}
}
