package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tariffdesk-backend/models"

	"golang.org/x/net/html"
)

// ErrLinkExtraction is returned when the listing page is unreachable or
// yields no document links. Callers treat it as retryable.
var ErrLinkExtraction = errors.New("failed to extract source links")

// SourceLinkResolver discovers downloadable tariff documents on the source
// listing page and classifies each by document kind
type SourceLinkResolver struct {
	httpClient *http.Client
	userAgent  string
}

// NewSourceLinkResolver creates a new source link resolver
func NewSourceLinkResolver(timeout time.Duration, userAgent string) *SourceLinkResolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SourceLinkResolver{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// DiscoverLinks fetches the listing page and returns every PDF link found,
// classified by kind. One finite pass per invocation; callers re-invoke for
// a fresh pass.
func (r *SourceLinkResolver) DiscoverLinks(ctx context.Context, listingURL string) ([]models.SourceLink, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return r.discover(req, listingURL)
}

// DiscoverLinksForm posts a form-encoded body to a parameterized listing
// endpoint and parses the response the same way as DiscoverLinks
func (r *SourceLinkResolver) DiscoverLinksForm(ctx context.Context, listingURL string, form url.Values) ([]models.SourceLink, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", listingURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r.discover(req, listingURL)
}

func (r *SourceLinkResolver) discover(req *http.Request, listingURL string) ([]models.SourceLink, error) {
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLinkExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: listing page returned %d", ErrLinkExtraction, resp.StatusCode)
	}

	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing URL: %w", err)
	}

	links := parseListing(resp.Body, base)
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: no document links found on %s", ErrLinkExtraction, listingURL)
	}
	return links, nil
}

// parseListing scans the page for anchors pointing at PDF documents
func parseListing(body io.Reader, base *url.URL) []models.SourceLink {
	var links []models.SourceLink

	tokenizer := html.NewTokenizer(body)
	var pendingHref string
	var titleParts []string

	flush := func() {
		if pendingHref == "" {
			return
		}
		title := strings.TrimSpace(strings.Join(titleParts, " "))
		resolved := pendingHref
		if u, err := url.Parse(pendingHref); err == nil {
			resolved = base.ResolveReference(u).String()
		}
		kind, confidence := classifyKind(title, resolved)
		links = append(links, models.SourceLink{
			URL:        resolved,
			Title:      title,
			Version:    extractVersion(title, resolved),
			Kind:       kind,
			Confidence: confidence,
		})
		pendingHref = ""
		titleParts = nil
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			flush()
			return links
		case html.StartTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			flush()
			for _, attr := range token.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if strings.HasSuffix(strings.ToLower(strings.SplitN(href, "?", 2)[0]), ".pdf") {
					pendingHref = href
				}
			}
		case html.TextToken:
			if pendingHref != "" {
				if text := strings.TrimSpace(tokenizer.Token().Data); text != "" {
					titleParts = append(titleParts, text)
				}
			}
		case html.EndTagToken:
			if tokenizer.Token().Data == "a" {
				flush()
			}
		}
	}
}

var chapterPattern = regexp.MustCompile(`(?i)chapter[\s_-]*\d{1,2}`)

// classifyKind assigns a document kind from filename/title keywords.
// Rate-table identification is load-bearing (misclassification skips
// ingestion, which is the safe failure mode); other kinds are advisory.
func classifyKind(title, href string) (models.DocumentKind, float64) {
	haystack := strings.ToLower(title + " " + href)

	rateMarkers := 0
	for _, marker := range []string{"tariff", "rate", "schedule", "duty", "sro"} {
		if strings.Contains(haystack, marker) {
			rateMarkers++
		}
	}

	chapterHit := chapterPattern.MatchString(haystack) || strings.Contains(haystack, "section")

	switch {
	case chapterHit:
		confidence := 0.6
		if chapterPattern.MatchString(haystack) {
			confidence = 0.8
		}
		return models.KindLegalChapter, confidence
	case rateMarkers >= 2:
		return models.KindRateTable, 0.9
	case rateMarkers == 1:
		return models.KindRateTable, 0.6
	default:
		return models.KindOther, 0.3
	}
}

var (
	fiscalYearPattern = regexp.MustCompile(`(20\d{2})\s*[-–]\s*(20\d{2}|\d{2})`)
	bareYearPattern   = regexp.MustCompile(`20\d{2}`)
)

// extractVersion pulls a version token (usually a fiscal year range) from
// the link title or URL
func extractVersion(title, href string) string {
	haystack := title + " " + href

	if m := fiscalYearPattern.FindStringSubmatch(haystack); m != nil {
		start := m[1]
		end := m[2]
		if len(end) == 2 {
			end = start[:2] + end
		}
		return start + "-" + end
	}
	if m := bareYearPattern.FindString(haystack); m != "" {
		return m
	}
	return ""
}
