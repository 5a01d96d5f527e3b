package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"tariffdesk-backend/config"
	"tariffdesk-backend/repository"
	"tariffdesk-backend/service"
	"tariffdesk-backend/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Runs one full ingestion pass and exits. Intended for cron-style
// deployments and for backfilling a fresh database without starting the
// API server.
func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	cfg := config.FromEnv()
	ctx := context.Background()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to Postgres:", err)
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		log.Fatal("Failed to ping Postgres:", err)
	}

	archive, err := storage.NewArchiveFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize source archive: %v", err)
	}

	chunkRepo := repository.NewTariffChunkRepository(db, cfg.EmbeddingDimensions)
	rateRepo := repository.NewTariffRateRepository(db)
	versionRepo := repository.NewDocumentVersionRepository(db)

	gemini, err := service.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.EmbeddingDimensions)
	if err != nil {
		log.Fatal("Failed to initialize Gemini:", err)
	}
	defer gemini.Close()

	resolver := service.NewSourceLinkResolver(cfg.FetchTimeout, cfg.UserAgent)
	tracker := service.NewChangeTracker(
		service.TrackerWithVersionStore(versionRepo),
		service.TrackerWithArchive(archive),
		service.TrackerWithHTTPClient(&http.Client{Timeout: cfg.DownloadTimeout}),
		service.TrackerWithUserAgent(cfg.UserAgent),
	)
	indexer := service.NewIndexWriter(
		service.IndexWithChunkStore(chunkRepo),
		service.IndexWithRateStore(rateRepo),
		service.IndexWithVersionStore(versionRepo),
		service.IndexWithEmbedder(gemini),
		service.IndexWithBatchSize(cfg.EmbedBatchSize),
	)

	ingestion := service.NewIngestionService(
		service.IngestWithDiscoverer(resolver),
		service.IngestWithFilter(tracker),
		service.IngestWithExtractor(service.NewTextExtractor(nil)),
		service.IngestWithParser(service.NewTariffTableParser(gemini)),
		service.IngestWithChunker(service.NewChunker(cfg.RowsPerChunk, cfg.ChunkMaxChars, cfg.ChunkMinChars)),
		service.IngestWithCommitter(indexer),
		service.IngestWithChunkStore(chunkRepo),
		service.IngestWithListingURL(cfg.ListingURL),
		service.IngestWithDocumentRetries(cfg.DocumentRetries),
	)

	if err := ingestion.RunOnce(ctx); err != nil {
		log.Printf("Ingestion run failed: %v", err)
		os.Exit(1)
	}

	run := ingestion.Status()
	log.Printf("Ingestion completed: %d links, %d pending, %d processed, %d failed",
		run.LinksDiscovered, run.DocumentsPending, run.DocumentsProcessed, run.DocumentsFailed)
}
