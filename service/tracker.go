package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"sync"
	"time"

	"tariffdesk-backend/models"
	"tariffdesk-backend/storage"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// downloadConcurrency bounds parallel document downloads within one pass
const downloadConcurrency = 4

// ChangeTracker decides which discovered links represent unseen source
// documents. It is read-only against the version store; actual
// version writes happen in the index writer's post-commit step.
type ChangeTracker struct {
	versions   VersionStore
	archive    storage.Archive
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// ChangeTrackerOption is a functional option for ChangeTracker
type ChangeTrackerOption func(*ChangeTracker)

// TrackerWithVersionStore sets the version store
func TrackerWithVersionStore(versions VersionStore) ChangeTrackerOption {
	return func(t *ChangeTracker) {
		t.versions = versions
	}
}

// TrackerWithArchive sets the optional source-document archive
func TrackerWithArchive(archive storage.Archive) ChangeTrackerOption {
	return func(t *ChangeTracker) {
		t.archive = archive
	}
}

// TrackerWithHTTPClient sets the download client
func TrackerWithHTTPClient(client *http.Client) ChangeTrackerOption {
	return func(t *ChangeTracker) {
		t.httpClient = client
	}
}

// TrackerWithUserAgent sets the download user agent
func TrackerWithUserAgent(userAgent string) ChangeTrackerOption {
	return func(t *ChangeTracker) {
		t.userAgent = userAgent
	}
}

// TrackerWithRateLimit sets the sustained download rate
func TrackerWithRateLimit(requestsPerSecond float64, burst int) ChangeTrackerOption {
	return func(t *ChangeTracker) {
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// NewChangeTracker creates a new change tracker
func NewChangeTracker(opts ...ChangeTrackerOption) *ChangeTracker {
	t := &ChangeTracker{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 2),
		userAgent:  "tariffdesk-ingest/1.0",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FilterUnseen returns a PendingDocument for every link whose
// (kind, version, url) has not been processed. Hashing requires a full
// download, which is the dominant cost; downloads are rate-limited and
// bounded.
func (t *ChangeTracker) FilterUnseen(ctx context.Context, links []models.SourceLink) ([]models.PendingDocument, error) {
	if t.versions == nil {
		return nil, fmt.Errorf("version store not set")
	}

	var candidates []models.SourceLink
	for _, link := range links {
		if !link.Kind.Ingestable() {
			log.Printf("Skipping non-ingestable link (kind=%s): %s", link.Kind, link.URL)
			continue
		}
		if link.Version == "" {
			log.Printf("Skipping link without version token: %s", link.URL)
			continue
		}

		// The check includes the source URL: per-chapter legal PDFs of one
		// fiscal year share a version token, and one processed chapter must
		// not hide its siblings.
		seen, err := t.versions.Exists(ctx, link.Kind, link.Version, link.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to check version %s/%s: %w", link.Kind, link.Version, err)
		}
		if seen {
			continue
		}
		candidates = append(candidates, link)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	var pending []models.PendingDocument

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrency)

	for _, link := range candidates {
		link := link
		g.Go(func() error {
			data, err := t.download(gctx, link.URL)
			if err != nil {
				// A single failed download doesn't abort the pass; the
				// document will be picked up on the next scheduled run.
				log.Printf("Warning: failed to download %s: %v", link.URL, err)
				return nil
			}

			sum := sha256.Sum256(data)
			hash := hex.EncodeToString(sum[:])

			// Identical content under a new version token counts as
			// already processed.
			dup, err := t.versions.ExistsHash(gctx, link.Kind, hash)
			if err != nil {
				return fmt.Errorf("failed to check content hash for %s: %w", link.URL, err)
			}
			if dup {
				log.Printf("Skipping %s/%s: content hash already recorded", link.Kind, link.Version)
				return nil
			}

			t.archiveDocument(gctx, link, data)

			mu.Lock()
			pending = append(pending, models.PendingDocument{
				Kind:    link.Kind,
				Version: link.Version,
				URL:     link.URL,
				Hash:    hash,
				Data:    data,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pending, nil
}

func (t *ChangeTracker) download(ctx context.Context, docURL string) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return data, nil
}

// archiveDocument stores the raw download for offline diagnosis.
// Archive failures are logged, never fatal.
func (t *ChangeTracker) archiveDocument(ctx context.Context, link models.SourceLink, data []byte) {
	if t.archive == nil {
		return
	}
	filename := path.Base(link.URL)
	if _, err := t.archive.Store(ctx, link.Kind, link.Version, filename, bytes.NewReader(data)); err != nil {
		log.Printf("Warning: failed to archive %s: %v", link.URL, err)
	}
}
