package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"tariffdesk-backend/config"
	"tariffdesk-backend/handlers"
	"tariffdesk-backend/repository"
	"tariffdesk-backend/service"
	"tariffdesk-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from project root (relative to cmd/server/)
	// Try current directory first, then project root
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	cfg := config.FromEnv()

	db, err := initPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize Postgres:", err)
	}
	defer db.Close()

	archive, err := storage.NewArchiveFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize source archive: %v", err)
	}
	log.Println("Source archive initialized")

	// Repositories
	chunkRepo := repository.NewTariffChunkRepository(db, cfg.EmbeddingDimensions)
	rateRepo := repository.NewTariffRateRepository(db)
	versionRepo := repository.NewDocumentVersionRepository(db)

	// Gemini client backs both embedding and generation
	gemini, err := service.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, cfg.EmbeddingDimensions)
	if err != nil {
		log.Fatal("Failed to initialize Gemini:", err)
	}
	defer gemini.Close()

	// Ingestion pipeline
	resolver := service.NewSourceLinkResolver(cfg.FetchTimeout, cfg.UserAgent)
	tracker := service.NewChangeTracker(
		service.TrackerWithVersionStore(versionRepo),
		service.TrackerWithArchive(archive),
		service.TrackerWithHTTPClient(&http.Client{Timeout: cfg.DownloadTimeout}),
		service.TrackerWithUserAgent(cfg.UserAgent),
	)
	extractor := service.NewTextExtractor(nil)
	parser := service.NewTariffTableParser(gemini)
	chunker := service.NewChunker(cfg.RowsPerChunk, cfg.ChunkMaxChars, cfg.ChunkMinChars)
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
		service.IngestWithExtractor(extractor),
		service.IngestWithParser(parser),
		service.IngestWithChunker(chunker),
		service.IngestWithCommitter(indexer),
		service.IngestWithChunkStore(chunkRepo),
		service.IngestWithListingURL(cfg.ListingURL),
		service.IngestWithDocumentRetries(cfg.DocumentRetries),
	)

	// Classification pipeline
	retrieval := service.NewRetrievalEngine(chunkRepo, gemini)
	ranker := service.NewClassificationRanker(gemini, rateRepo)
	fallback := service.NewRuleBasedFallback(rateRepo)

	// Handlers
	classifyHandler := handlers.NewClassifyHandler(ingestion, retrieval, ranker, fallback)
	ingestionHandler := handlers.NewIngestionHandler(ingestion)

	// Background scheduler keeps the index current without manual triggers
	scheduler := service.NewIngestionScheduler(ingestion,
		service.ScheduleWithInterval(cfg.ScheduleInterval),
		service.ScheduleWithRetries(cfg.MaxRetries, cfg.InitialBackoff),
		service.ScheduleWithVersionStore(versionRepo),
	)
	go scheduler.Start(context.Background())

	// Setup Gin router
	r := gin.Default()

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		api.POST("/classify", classifyHandler.Classify)
		api.POST("/ingestion/run", ingestionHandler.TriggerRun)
		api.GET("/ingestion/status", ingestionHandler.Status)
	}

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func initPostgres(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, err
	}
	log.Println("Connected to Postgres")
	return pool, nil
}
