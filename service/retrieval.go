package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tariffdesk-backend/models"

	"github.com/google/uuid"
)

const (
	// primaryLimit is how many chunks a single vector search requests
	primaryLimit = 15

	// primaryFloor is the context size below which the rate-table corpus
	// is merged in
	primaryFloor = 5

	// variantFloor is the context size below which reformulated query
	// variants are issued
	variantFloor = 8

	// broadFloor is the context size below which the kind filter is
	// dropped entirely
	broadFloor = 5
)

// ErrNoRelevantContext means every retrieval stage came back empty. The
// caller cannot classify without grounding context.
var ErrNoRelevantContext = errors.New("no relevant context found for product description")

// RetrievalEngine assembles classification context through a cascade of
// progressively broader vector searches. Each stage only runs when the
// previous stages left the context below its floor.
type RetrievalEngine struct {
	chunks   ChunkStore
	embedder Embedder
}

// NewRetrievalEngine creates a new retrieval engine
func NewRetrievalEngine(chunks ChunkStore, embedder Embedder) *RetrievalEngine {
	return &RetrievalEngine{chunks: chunks, embedder: embedder}
}

// Retrieve runs the cascade for one product description. Individual stage
// failures are logged and tolerated; only a fully empty result is an error.
func (r *RetrievalEngine) Retrieve(ctx context.Context, product models.ProductDescription) ([]models.ScoredChunk, error) {
	query := buildRetrievalQuery(product)

	seen := make(map[uuid.UUID]bool)
	var gathered []models.ScoredChunk

	// Stage 1: the legal chapter corpus carries the classification notes
	// and heading language, so it is always searched first.
	primary := r.search(ctx, query, models.KindLegalChapter, primaryLimit)
	gathered = mergeChunks(gathered, primary, seen)

	// Stage 2: thin legal context pulls in the rate-table rows, whose
	// descriptions are terser but code-exact.
	if len(gathered) < primaryFloor {
		secondary := r.search(ctx, query, models.KindRateTable, primaryLimit)
		gathered = mergeChunks(gathered, secondary, seen)
	}

	// Stage 3: reformulated variants widen recall for products described
	// in trade vernacular rather than tariff language.
	if len(gathered) < variantFloor {
		for _, variant := range buildQueryVariants(product) {
			gathered = mergeChunks(gathered, r.search(ctx, variant, models.KindLegalChapter, primaryLimit), seen)
			if len(gathered) >= variantFloor {
				break
			}
			gathered = mergeChunks(gathered, r.search(ctx, variant, models.KindRateTable, primaryLimit), seen)
			if len(gathered) >= variantFloor {
				break
			}
		}
	}

	// Stage 4: last resort, search every corpus with no kind filter.
	if len(gathered) < broadFloor {
		broad := r.search(ctx, query, "", primaryLimit)
		gathered = mergeChunks(gathered, broad, seen)
	}

	if len(gathered) == 0 {
		return nil, ErrNoRelevantContext
	}
	return gathered, nil
}

// search embeds one query and runs one vector search. Failures degrade to an
// empty stage result so later stages still run.
func (r *RetrievalEngine) search(ctx context.Context, query string, kind models.DocumentKind, limit int) []models.ScoredChunk {
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		log.Printf("Warning: failed to embed retrieval query: %v", err)
		return nil
	}

	results, err := r.chunks.Search(ctx, embedding, kind, limit)
	if err != nil {
		log.Printf("Warning: vector search failed (kind=%s): %v", kind, err)
		return nil
	}
	return results
}

// mergeChunks appends results not already in the context, preserving the
// arrival order across stages
func mergeChunks(existing, incoming []models.ScoredChunk, seen map[uuid.UUID]bool) []models.ScoredChunk {
	for _, chunk := range incoming {
		if seen[chunk.ID] {
			continue
		}
		seen[chunk.ID] = true
		existing = append(existing, chunk)
	}
	return existing
}

// buildRetrievalQuery renders the product description as a single query
// string including material and composition when present
func buildRetrievalQuery(product models.ProductDescription) string {
	var parts []string
	parts = append(parts, product.Description)

	if product.Material != "" {
		parts = append(parts, fmt.Sprintf("made of %s", product.Material))
	}
	for component, share := range product.Composition {
		parts = append(parts, fmt.Sprintf("%.0f%% %s", share, component))
	}

	return strings.Join(parts, ", ")
}

// buildQueryVariants produces reformulations that surface different index
// neighborhoods: material-led, keyword-windowed, and the bare description
func buildQueryVariants(product models.ProductDescription) []string {
	var variants []string

	if product.Material != "" {
		variants = append(variants, fmt.Sprintf("%s articles, %s", product.Material, product.Description))
	}

	words := strings.Fields(product.Description)
	if len(words) > 3 {
		// Leading keyword window: tariff headings usually lead with the
		// governing noun.
		variants = append(variants, strings.Join(words[:3], " "))
	}

	if product.Material != "" || len(product.Composition) > 0 {
		variants = append(variants, product.Description)
	}

	return variants
}
