package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"tariffdesk-backend/models"
	"tariffdesk-backend/repository"
)

const (
	// maxCandidates caps how many ranked suggestions a classification
	// returns
	maxCandidates = 5

	// minConfidence filters out candidates the model itself considers
	// noise. Below this a suggestion misleads more than it helps.
	minConfidence = 0.15

	// classifyTemperature keeps the ranking deterministic-ish; creative
	// variance is a liability when the output is a legal code
	classifyTemperature = 0.2
)

// ErrGenerationParse means the model response could not be decoded into
// candidates. Callers may fall back to rule-based suggestion.
var ErrGenerationParse = errors.New("failed to parse classification response")

// ClassificationRanker turns retrieved context plus a product description
// into ranked HS-code candidates, with authoritative rates attached from the
// tariff store
type ClassificationRanker struct {
	generator Generator
	rates     RateStore
}

// NewClassificationRanker creates a new classification ranker
func NewClassificationRanker(generator Generator, rates RateStore) *ClassificationRanker {
	return &ClassificationRanker{generator: generator, rates: rates}
}

// candidateResponse is the JSON shape the model must return
type candidateResponse struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Rationale   []string `json:"rationale"`
}

// Classify ranks HS-code candidates for one product against the retrieved
// context. Candidates below the confidence floor are dropped; the rest are
// sorted by confidence, deduplicated by code, capped, and enriched with
// authoritative rates.
func (r *ClassificationRanker) Classify(
	ctx context.Context,
	product models.ProductDescription,
	chunks []models.ScoredChunk,
) ([]models.ClassificationCandidate, error) {
	if len(chunks) == 0 {
		return nil, ErrNoRelevantContext
	}

	want := maxCandidates
	if len(chunks) < want {
		want = len(chunks)
	}

	prompt := buildClassificationPrompt(product, chunks, want)

	response, err := r.generator.Generate(ctx, prompt, classifyTemperature)
	if err != nil {
		return nil, fmt.Errorf("classification generation failed: %w", err)
	}

	parsed, err := parseCandidates(response)
	if err != nil {
		return nil, err
	}

	candidates := r.rankAndEnrich(ctx, parsed, chunks)
	return candidates, nil
}

// parseCandidates decodes the model response strictly: invalid JSON or a
// non-array shape is ErrGenerationParse, never a silent empty result
func parseCandidates(response string) ([]candidateResponse, error) {
	jsonStr, err := extractJSONArray(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationParse, err)
	}

	var parsed []candidateResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationParse, err)
	}
	return parsed, nil
}

// rankAndEnrich applies the confidence floor, orders by confidence,
// deduplicates by code, caps the list, and attaches store rates and
// provenance
func (r *ClassificationRanker) rankAndEnrich(
	ctx context.Context,
	parsed []candidateResponse,
	chunks []models.ScoredChunk,
) []models.ClassificationCandidate {
	var kept []candidateResponse
	for _, c := range parsed {
		if !models.ValidHSCode(c.Code) {
			log.Printf("Dropping candidate with invalid code %q", c.Code)
			continue
		}
		if c.Confidence < minConfidence {
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	var candidates []models.ClassificationCandidate
	seen := make(map[string]bool)
	for _, c := range kept {
		if seen[c.Code] {
			continue
		}
		seen[c.Code] = true

		candidate := models.ClassificationCandidate{
			Code:        c.Code,
			Description: strings.TrimSpace(c.Description),
			Confidence:  c.Confidence,
			Rationale:   c.Rationale,
			Provenance:  provenanceForCode(c.Code, chunks),
		}

		r.attachRates(ctx, &candidate)

		candidates = append(candidates, candidate)
		if len(candidates) >= maxCandidates {
			break
		}
	}

	return candidates
}

// attachRates looks up authoritative rates for a candidate code. A missing
// code still yields the candidate, with explicitly zero-valued rates, so the
// caller can tell "no rates on file" from "never looked up".
func (r *ClassificationRanker) attachRates(ctx context.Context, candidate *models.ClassificationCandidate) {
	if r.rates == nil {
		return
	}

	row, err := r.rates.GetRates(ctx, candidate.Code)
	if err != nil {
		if !errors.Is(err, repository.ErrRateNotFound) {
			log.Printf("Warning: rate lookup failed for %s: %v", candidate.Code, err)
		}
		candidate.Rates = &models.TariffRow{HSCode: candidate.Code}
		return
	}
	candidate.Rates = row
	if candidate.Description == "" {
		candidate.Description = row.Description
	}
}

// provenanceForCode finds the context chunk that covers a candidate code,
// preferring tabular chunks whose code range contains it
func provenanceForCode(code string, chunks []models.ScoredChunk) models.Provenance {
	for i := range chunks {
		chunk := &chunks[i]
		if chunk.SourceKind != models.KindRateTable {
			continue
		}
		if chunk.StartCode != "" && chunk.StartCode <= code && code <= chunk.EndCode {
			return models.Provenance{
				SourceKind: chunk.SourceKind,
				Version:    chunk.Version,
				Locator:    chunk.Locator(),
			}
		}
	}

	// No tabular coverage; attribute to the best-ranked chunk.
	best := &chunks[0]
	return models.Provenance{
		SourceKind: best.SourceKind,
		Version:    best.Version,
		Locator:    best.Locator(),
	}
}

func buildClassificationPrompt(product models.ProductDescription, chunks []models.ScoredChunk, want int) string {
	var contextBlock strings.Builder
	for i, chunk := range chunks {
		contextBlock.WriteString(fmt.Sprintf("--- Context %d (%s", i+1, chunk.SourceKind))
		if loc := chunk.Locator(); loc != "" {
			contextBlock.WriteString(", " + loc)
		}
		contextBlock.WriteString(") ---\n")
		contextBlock.WriteString(chunk.Content)
		contextBlock.WriteString("\n\n")
	}

	var productDesc strings.Builder
	productDesc.WriteString(product.Description)
	if product.Material != "" {
		productDesc.WriteString(fmt.Sprintf("; material: %s", product.Material))
	}
	for component, share := range product.Composition {
		productDesc.WriteString(fmt.Sprintf("; %.0f%% %s", share, component))
	}

	return fmt.Sprintf(`You are a customs classification officer. Using ONLY the tariff context below, suggest the most likely 8-digit HS codes for the product.

PRODUCT:
%s

TARIFF CONTEXT:
%s
TASK: Return up to %d candidate codes as a JSON array, best first.

OUTPUT JSON SCHEMA:
[
  {
    "code": "61091000",
    "description": "T-shirts, singlets and other vests, knitted, of cotton",
    "confidence": 0.85,
    "rationale": ["knitted cotton garment", "heading 6109 covers T-shirts and vests"]
  }
]

RULES:
- code MUST be an 8-digit code that appears in or follows from the context.
- confidence is your probability estimate in [0, 1]; be honest, not optimistic.
- rationale cites the context language that supports the code.
- Never invent rates or codes not supported by the context.

Return ONLY valid JSON, no markdown, no explanations.`, productDesc.String(), contextBlock.String(), want)
}
