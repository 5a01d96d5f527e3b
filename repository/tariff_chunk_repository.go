package repository

import (
	"context"
	"fmt"
	"strings"

	"tariffdesk-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TariffChunkRepository handles database operations for indexed tariff chunks
type TariffChunkRepository struct {
	db         *pgxpool.Pool
	dimensions int
}

// NewTariffChunkRepository creates a new tariff chunk repository
func NewTariffChunkRepository(db *pgxpool.Pool, dimensions int) *TariffChunkRepository {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &TariffChunkRepository{db: db, dimensions: dimensions}
}

// formatVector formats an embedding vector as a string for pgx
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var parts []string
	for _, v := range embedding {
		parts = append(parts, fmt.Sprintf("%.6f", v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// InsertMany inserts all chunks in a single transaction
func (r *TariffChunkRepository) InsertMany(ctx context.Context, chunks []models.TariffChunk) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO tariff_chunks (
			id, source_kind, version, ordinal, content,
			start_code, end_code, chapter, section, embedding
		) VALUES (
			$1, $2, $3, $4, $5,
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10::vector
		)`

	for _, chunk := range chunks {
		if len(chunk.Embedding) != r.dimensions {
			return fmt.Errorf("chunk %d embedding must be %d dimensions, got %d",
				chunk.Ordinal, r.dimensions, len(chunk.Embedding))
		}
		_, err = tx.Exec(ctx, query,
			chunk.ID, string(chunk.SourceKind), chunk.Version, chunk.Ordinal, chunk.Content,
			chunk.StartCode, chunk.EndCode, chunk.Chapter, chunk.Section,
			formatVector(chunk.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.Ordinal, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteByID removes exactly the listed chunks. Used by the index writer to
// roll back its own inserts; several documents can share a (kind, version)
// pair, so rollback must never sweep the whole partition.
func (r *TariffChunkRepository) DeleteByID(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, "DELETE FROM tariff_chunks WHERE id = ANY($1)", ids)
	if err != nil {
		return fmt.Errorf("failed to delete chunks by id: %w", err)
	}
	return nil
}

// DeleteSuperseded removes chunks of the same kind belonging to any version
// other than keepVersion
func (r *TariffChunkRepository) DeleteSuperseded(ctx context.Context, kind models.DocumentKind, keepVersion string) error {
	_, err := r.db.Exec(ctx,
		"DELETE FROM tariff_chunks WHERE source_kind = $1 AND version != $2",
		string(kind), keepVersion)
	if err != nil {
		return fmt.Errorf("failed to delete superseded chunks for %s: %w", kind, err)
	}
	return nil
}

// Search performs a nearest-neighbor search over the chunk index.
// kind filters to a single corpus; an empty kind searches all corpora.
// Only chunks belonging to an active document version are returned.
func (r *TariffChunkRepository) Search(
	ctx context.Context,
	embedding []float64,
	kind models.DocumentKind,
	limit int,
) ([]models.ScoredChunk, error) {
	if len(embedding) != r.dimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", r.dimensions, len(embedding))
	}

	vectorStr := formatVector(embedding)

	var kindFilter string
	var args []interface{}
	if kind == "" {
		kindFilter = "TRUE"
		args = []interface{}{vectorStr, limit}
	} else {
		kindFilter = "c.source_kind = $2"
		args = []interface{}{vectorStr, string(kind), limit}
	}

	// An EXISTS check rather than a join: a (kind, version) pair can have
	// several active records (one per source document), and a join would
	// multiply each chunk by that count.
	query := fmt.Sprintf(`
		SELECT
			c.id,
			c.source_kind,
			c.version,
			c.ordinal,
			c.content,
			COALESCE(c.start_code, ''),
			COALESCE(c.end_code, ''),
			COALESCE(c.chapter, ''),
			COALESCE(c.section, ''),
			c.embedding <=> $1::vector AS distance
		FROM tariff_chunks c
		WHERE EXISTS (
			SELECT 1 FROM document_versions v
			WHERE v.document_kind = c.source_kind
				AND v.version = c.version
				AND v.is_active
		)
		AND %s
		ORDER BY c.embedding <=> $1::vector
		LIMIT $%d`, kindFilter, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tariff chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ScoredChunk
	for rows.Next() {
		var chunk models.ScoredChunk
		var sourceKind string
		err := rows.Scan(
			&chunk.ID,
			&sourceKind,
			&chunk.Version,
			&chunk.Ordinal,
			&chunk.Content,
			&chunk.StartCode,
			&chunk.EndCode,
			&chunk.Chapter,
			&chunk.Section,
			&chunk.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tariff chunk: %w", err)
		}
		chunk.SourceKind = models.DocumentKind(sourceKind)
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tariff chunks: %w", err)
	}

	return chunks, nil
}

// Count returns the total number of indexed chunks
func (r *TariffChunkRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM tariff_chunks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tariff chunks: %w", err)
	}
	return count, nil
}
