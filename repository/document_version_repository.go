package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tariffdesk-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentVersionRepository handles database operations for document version records
type DocumentVersionRepository struct {
	db *pgxpool.Pool
}

// NewDocumentVersionRepository creates a new document version repository
func NewDocumentVersionRepository(db *pgxpool.Pool) *DocumentVersionRepository {
	return &DocumentVersionRepository{db: db}
}

// Exists reports whether this exact source document has already been
// processed. Records are keyed by URL as well as (kind, version) because
// per-chapter legal PDFs of one fiscal year all carry the same version token.
func (r *DocumentVersionRepository) Exists(ctx context.Context, kind models.DocumentKind, version, sourceURL string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM document_versions WHERE document_kind = $1 AND version = $2 AND source_url = $3)",
		string(kind), version, sourceURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check document version: %w", err)
	}
	return exists, nil
}

// ExistsHash reports whether a document with the same content hash has
// already been processed for this kind. A hash match means the content is
// identical regardless of the declared version token.
func (r *DocumentVersionRepository) ExistsHash(ctx context.Context, kind models.DocumentKind, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM document_versions WHERE document_kind = $1 AND content_hash = $2)",
		string(kind), hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check document hash: %w", err)
	}
	return exists, nil
}

// MarkProcessed upserts a version record as processed and active
func (r *DocumentVersionRepository) MarkProcessed(ctx context.Context, rec *models.DocumentVersionRecord) error {
	query := `
		INSERT INTO document_versions (
			id, document_kind, version, source_url, content_hash, processed_at, is_active
		) VALUES ($1, $2, $3, $4, $5, NOW(), TRUE)
		ON CONFLICT (document_kind, version, source_url) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			processed_at = NOW(),
			is_active = TRUE
		RETURNING processed_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, string(rec.DocumentKind), rec.Version, rec.SourceURL, rec.ContentHash,
	).Scan(&rec.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to mark version processed: %w", err)
	}
	rec.IsActive = true
	return nil
}

// DeactivateOthers marks every version of a kind other than keepVersion inactive
func (r *DocumentVersionRepository) DeactivateOthers(ctx context.Context, kind models.DocumentKind, keepVersion string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE document_versions SET is_active = FALSE WHERE document_kind = $1 AND version != $2",
		string(kind), keepVersion)
	if err != nil {
		return fmt.Errorf("failed to deactivate superseded versions: %w", err)
	}
	return nil
}

// LatestProcessedAt returns the most recent processed_at across all kinds,
// or nil when nothing has been ingested yet
func (r *DocumentVersionRepository) LatestProcessedAt(ctx context.Context) (*time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(ctx,
		"SELECT processed_at FROM document_versions ORDER BY processed_at DESC LIMIT 1").Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest processed_at: %w", err)
	}
	return &ts, nil
}
