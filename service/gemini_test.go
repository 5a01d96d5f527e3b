package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// newFailingGeminiClient returns a client whose every HTTP call answers 500,
// forcing the retry path.
func newFailingGeminiClient() *GeminiClient {
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(strings.NewReader("upstream unavailable")),
			Header:     make(http.Header),
		}, nil
	})
	return &GeminiClient{
		apiKey:     "test-key",
		dimensions: 4,
		httpClient: &http.Client{Transport: transport},
	}
}

func TestEmbedQueryStopsBackoffOnContextDeadline(t *testing.T) {
	client := newFailingGeminiClient()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.EmbedQuery(ctx, "cotton t-shirts")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), initialBackoff,
		"an expired context must cut the retry backoff short")
}

func TestEmbedDocumentsStopsBackoffOnContextDeadline(t *testing.T) {
	client := newFailingGeminiClient()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.EmbedDocuments(ctx, []string{"chapter text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), initialBackoff,
		"an expired context must cut the retry backoff short")
}
