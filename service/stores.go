package service

import (
	"context"
	"time"

	"tariffdesk-backend/models"

	"github.com/google/uuid"
)

// ChunkStore is the vector-index surface the services depend on.
// Implemented by repository.TariffChunkRepository.
type ChunkStore interface {
	InsertMany(ctx context.Context, chunks []models.TariffChunk) error
	DeleteByID(ctx context.Context, ids []uuid.UUID) error
	DeleteSuperseded(ctx context.Context, kind models.DocumentKind, keepVersion string) error
	Search(ctx context.Context, embedding []float64, kind models.DocumentKind, limit int) ([]models.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
}

// RateStore is the authoritative tariff-rate surface.
// Implemented by repository.TariffRateRepository.
type RateStore interface {
	UpsertMany(ctx context.Context, rows []models.TariffRow) error
	GetRates(ctx context.Context, hsCode string) (*models.TariffRow, error)
	DeleteByCodes(ctx context.Context, version string, codes []string) error
	DeleteSuperseded(ctx context.Context, keepVersion string) error
}

// VersionStore tracks processed document versions.
// Implemented by repository.DocumentVersionRepository.
type VersionStore interface {
	Exists(ctx context.Context, kind models.DocumentKind, version, sourceURL string) (bool, error)
	ExistsHash(ctx context.Context, kind models.DocumentKind, hash string) (bool, error)
	MarkProcessed(ctx context.Context, rec *models.DocumentVersionRecord) error
	DeactivateOthers(ctx context.Context, kind models.DocumentKind, keepVersion string) error
	LatestProcessedAt(ctx context.Context) (*time.Time, error)
}

// Embedder produces fixed-dimension vectors for index and query text.
// Implemented by GeminiClient.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
}

// Generator produces text from a prompt. Implemented by GeminiClient.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}
