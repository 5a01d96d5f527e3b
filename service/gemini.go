package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	embeddingAPI      = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent"
	batchEmbeddingAPI = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:batchEmbedContents"
	generationModel   = "gemini-2.5-flash"
	maxRetries        = 3
	initialBackoff    = time.Second
)

var (
	ErrEmbeddingFailed  = errors.New("failed to generate embedding")
	ErrGenerationFailed = errors.New("failed to generate content")
)

// GeminiClient wraps the Gemini generation and embedding services.
// Generation goes through the genai SDK; embeddings use the HTTP batch
// endpoint directly because the SDK does not expose output dimensionality.
type GeminiClient struct {
	apiKey     string
	dimensions int
	genai      *genai.Client
	httpClient *http.Client
}

// NewGeminiClient creates a Gemini client for generation and embeddings
func NewGeminiClient(ctx context.Context, apiKey string, dimensions int) (*GeminiClient, error) {
	if apiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set")
	}
	if dimensions <= 0 {
		dimensions = 768
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		apiKey:     apiKey,
		dimensions: dimensions,
		genai:      client,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Close releases the underlying genai client
func (c *GeminiClient) Close() error {
	return c.genai.Close()
}

// EmbeddingRequest represents an embedding API request
type EmbeddingRequest struct {
	Model                string       `json:"model"`
	Content              ContentInput `json:"content"`
	TaskType             string       `json:"task_type,omitempty"`
	OutputDimensionality int          `json:"output_dimensionality,omitempty"`
}

// ContentInput represents content for embedding
type ContentInput struct {
	Parts []PartInput `json:"parts"`
}

// PartInput represents a part of content
type PartInput struct {
	Text string `json:"text"`
}

// EmbeddingResponse represents an embedding API response
type EmbeddingResponse struct {
	Embedding EmbeddingData `json:"embedding"`
}

// EmbeddingData contains the embedding values
type EmbeddingData struct {
	Values []float64 `json:"values"`
}

// BatchEmbeddingItem is the structure returned by the batch API (no nested
// "embedding" key)
type BatchEmbeddingItem struct {
	Values []float64 `json:"values"`
}

// BatchEmbeddingRequest wraps multiple embedding requests
type BatchEmbeddingRequest struct {
	Requests []EmbeddingRequest `json:"requests"`
}

// BatchEmbeddingResponse holds the batch API results
type BatchEmbeddingResponse struct {
	Embeddings []BatchEmbeddingItem `json:"embeddings"`
}

// EmbedQuery generates a normalized embedding for a retrieval query
func (c *GeminiClient) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return c.embed(ctx, text, "RETRIEVAL_QUERY")
}

func (c *GeminiClient) embed(ctx context.Context, text, taskType string) ([]float64, error) {
	if c.apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}

	reqBody := EmbeddingRequest{
		Model: "models/gemini-embedding-001",
		Content: ContentInput{
			Parts: []PartInput{{Text: text}},
		},
		TaskType:             taskType,
		OutputDimensionality: c.dimensions,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, "POST", embeddingAPI, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var apiResp EmbeddingResponse
			if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
				resp.Body.Close()
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to decode response: %w", err)
				}
				continue
			}
			resp.Body.Close()

			embedding := apiResp.Embedding.Values
			normalizeEmbedding(embedding)
			return embedding, nil
		}

		resp.Body.Close()

		// Don't retry on 400 or 401 errors
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("API error: %d", resp.StatusCode)
		}

		if attempt == maxRetries-1 {
			return nil, fmt.Errorf("API error after %d attempts: %d", maxRetries, resp.StatusCode)
		}
	}

	return nil, ErrEmbeddingFailed
}

// EmbedDocuments generates normalized embeddings for a batch of index texts.
// The caller controls batch sizing; this issues a single batch request.
func (c *GeminiClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if c.apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	requests := make([]EmbeddingRequest, len(texts))
	for i, text := range texts {
		requests[i] = EmbeddingRequest{
			Model: "models/gemini-embedding-001",
			Content: ContentInput{
				Parts: []PartInput{{Text: text}},
			},
			TaskType:             "RETRIEVAL_DOCUMENT",
			OutputDimensionality: c.dimensions,
		}
	}

	jsonData, err := json.Marshal(BatchEmbeddingRequest{Requests: requests})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, "POST", batchEmbeddingAPI, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
				return nil, fmt.Errorf("API error: %d - %s", resp.StatusCode, string(body))
			}
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("API error after %d attempts: %d - %s", maxRetries, resp.StatusCode, string(body))
			}
			continue
		}

		var apiResp BatchEmbeddingResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		resp.Body.Close()

		if len(apiResp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("mismatch: got %d embeddings for %d texts", len(apiResp.Embeddings), len(texts))
		}

		vectors := make([][]float64, len(texts))
		for i := range apiResp.Embeddings {
			if len(apiResp.Embeddings[i].Values) == 0 {
				return nil, fmt.Errorf("text %d has empty embedding", i)
			}
			normalizeEmbedding(apiResp.Embeddings[i].Values)
			vectors[i] = apiResp.Embeddings[i].Values
		}
		return vectors, nil
	}

	return nil, ErrEmbeddingFailed
}

// Generate produces text from a prompt with bounded retry
func (c *GeminiClient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	model := c.genai.GenerativeModel(generationModel)
	model.SetTemperature(float32(temperature))

	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = err
			continue
		}

		var out bytes.Buffer
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					out.WriteString(string(text))
				}
			}
		}

		if out.Len() > 0 {
			return out.String(), nil
		}
		lastErr = ErrGenerationFailed
	}

	if lastErr != nil {
		return "", fmt.Errorf("generation failed after %d attempts: %w", maxRetries, lastErr)
	}
	return "", ErrGenerationFailed
}

// normalizeEmbedding scales an embedding to unit length in place.
// Required for dimensions < 3072.
func normalizeEmbedding(embedding []float64) {
	var sumSq float64
	for _, v := range embedding {
		sumSq += v * v
	}
	if sumSq == 0 {
		return
	}

	norm := math.Sqrt(sumSq)
	for i := range embedding {
		embedding[i] /= norm
	}
}
