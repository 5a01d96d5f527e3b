package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"tariffdesk-backend/models"
)

const (
	// maxRowFailureRatio is the heuristic-parse abandonment threshold.
	// A moderate per-row miss rate is tolerable (OCR noise, minor format
	// quirks); above this the table structure itself has likely changed
	// and continuing to trust the heuristic would corrupt the index.
	maxRowFailureRatio = 0.3

	// maxFallbackChars bounds the raw text sent to the model fallback
	maxFallbackChars = 30000

	// rateFieldCount is the number of trailing rate columns:
	// CD, SD, VAT, AIT, RD, AT, TTI
	rateFieldCount = 7
)

var (
	// ErrHeaderNotFound means no header line was found in the document.
	// Routes to the model-assisted fallback, not immediate failure.
	ErrHeaderNotFound = errors.New("tariff table header not found")

	// ErrStructuralDrift means the heuristic row failure rate exceeded the
	// threshold, signalling the table layout changed
	ErrStructuralDrift = errors.New("tariff table structure drifted beyond heuristic tolerance")

	// ErrNoValidTariffData means neither the heuristic nor the model
	// fallback produced any valid rows. Terminal for the version.
	ErrNoValidTariffData = errors.New("no valid tariff data extracted")
)

// TariffTableParser converts extracted rate-table text into typed rows,
// falling back to model-assisted extraction when the heuristic failure rate
// exceeds the threshold
type TariffTableParser struct {
	generator Generator
}

// NewTariffTableParser creates a new tariff table parser. The generator
// backs the model-assisted fallback path.
func NewTariffTableParser(generator Generator) *TariffTableParser {
	return &TariffTableParser{generator: generator}
}

// Parse extracts tariff rows from rate-table text. The heuristic parser
// runs first; header absence, structural drift, or an empty heuristic
// result invokes the model fallback. Zero valid rows after both paths is
// ErrNoValidTariffData.
func (p *TariffTableParser) Parse(ctx context.Context, text, version string) ([]models.TariffRow, error) {
	rows, err := p.parseHeuristic(text, version)
	if err == nil && len(rows) > 0 {
		return rows, nil
	}
	if err != nil && !errors.Is(err, ErrHeaderNotFound) && !errors.Is(err, ErrStructuralDrift) {
		return nil, err
	}

	// A found header with zero candidate rows is as suspect as a missing
	// one; the terminal verdict belongs to the fallback.
	if err == nil {
		log.Printf("Heuristic parse matched a header but yielded no rows, invoking model-assisted extraction")
	} else {
		log.Printf("Heuristic parse failed (%v), invoking model-assisted extraction", err)
	}
	return p.parseWithModel(ctx, text, version)
}

// parseHeuristic scans for the header line, then parses each subsequent
// non-empty line as a candidate row
func (p *TariffTableParser) parseHeuristic(text, version string) ([]models.TariffRow, error) {
	lines := strings.Split(text, "\n")

	headerIdx := -1
	for i, line := range lines {
		if isHeaderLine(line) {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		return nil, ErrHeaderNotFound
	}

	var rows []models.TariffRow
	totalRows := 0
	failedRows := 0

	for _, line := range lines[headerIdx+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		totalRows++

		row, ok := parseRowLine(line, version)
		if !ok {
			failedRows++
			continue
		}
		rows = append(rows, row)
	}

	if totalRows > 0 && float64(failedRows)/float64(totalRows) > maxRowFailureRatio {
		log.Printf("Row failure rate %d/%d exceeds threshold", failedRows, totalRows)
		return nil, ErrStructuralDrift
	}

	return rows, nil
}

// isHeaderLine matches the header signature: a code-column marker and a
// description-column marker, case-insensitive, tolerant of concatenated or
// spaced headers ("HS Code", "HSCode", "H.S. Code")
func isHeaderLine(line string) bool {
	normalized := strings.ToLower(line)
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, ".", "")
	return strings.Contains(normalized, "hscode") && strings.Contains(normalized, "description")
}

// parseRowLine splits a candidate line into code, description and trailing
// rate tokens. Returns false when the code is invalid or no rate boundary
// can be located.
func parseRowLine(line, version string) (models.TariffRow, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return models.TariffRow{}, false
	}

	code := tokens[0]
	if !models.ValidHSCode(code) {
		return models.TariffRow{}, false
	}

	// Description is the span between the code and the first rate-like
	// numeric token.
	rateStart := -1
	for i := 1; i < len(tokens); i++ {
		if _, ok := parseRateToken(tokens[i]); ok {
			rateStart = i
			break
		}
	}
	if rateStart == -1 {
		return models.TariffRow{}, false
	}

	description := strings.Join(tokens[1:rateStart], " ")

	rateTokens := tokens[rateStart:]
	if len(rateTokens) > rateFieldCount {
		rateTokens = rateTokens[len(rateTokens)-rateFieldCount:]
	}

	rates := make([]float64, rateFieldCount)
	for i, token := range rateTokens {
		// Individual rate parse failures default to 0.
		if v, ok := parseRateToken(token); ok {
			rates[i] = models.ClampRate(v)
		}
	}

	row := models.TariffRow{
		HSCode:            code,
		Description:       description,
		CustomsDuty:       rates[0],
		SupplementaryDuty: rates[1],
		VAT:               rates[2],
		AdvanceIncomeTax:  rates[3],
		RegulatoryDuty:    rates[4],
		AdvanceTax:        rates[5],
		TotalTaxIncidence: rates[6],
		Version:           version,
	}
	return row, true
}

// parseRateToken parses a numeric rate token, tolerating percent signs and
// thousands separators
func parseRateToken(token string) (float64, bool) {
	cleaned := strings.TrimSuffix(token, "%")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// fallbackRow is the JSON shape the model fallback must return
type fallbackRow struct {
	HSCode            string  `json:"hs_code"`
	Description       string  `json:"description"`
	CustomsDuty       float64 `json:"customs_duty"`
	SupplementaryDuty float64 `json:"supplementary_duty"`
	VAT               float64 `json:"vat"`
	AdvanceIncomeTax  float64 `json:"advance_income_tax"`
	RegulatoryDuty    float64 `json:"regulatory_duty"`
	AdvanceTax        float64 `json:"advance_tax"`
	TotalTaxIncidence float64 `json:"total_tax_incidence"`
}

// parseWithModel sends the raw text to the generation model with a
// JSON-shaped extraction instruction and re-validates every candidate row
// against the same rules as the heuristic path
func (p *TariffTableParser) parseWithModel(ctx context.Context, text, version string) ([]models.TariffRow, error) {
	if p.generator == nil {
		return nil, fmt.Errorf("%w: no generator configured for fallback", ErrNoValidTariffData)
	}

	truncated := text
	if len(truncated) > maxFallbackChars {
		truncated = truncated[:maxFallbackChars]
		log.Printf("Warning: fallback input truncated to %d chars", maxFallbackChars)
	}

	prompt := buildFallbackPrompt(truncated)

	response, err := p.generator.Generate(ctx, prompt, 0.1)
	if err != nil {
		return nil, fmt.Errorf("model-assisted extraction failed: %w", err)
	}

	jsonStr, err := extractJSONArray(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValidTariffData, err)
	}

	var candidates []fallbackRow
	if err := json.Unmarshal([]byte(jsonStr), &candidates); err != nil {
		return nil, fmt.Errorf("%w: failed to parse fallback JSON: %v", ErrNoValidTariffData, err)
	}

	var rows []models.TariffRow
	for _, c := range candidates {
		if !models.ValidHSCode(c.HSCode) {
			continue
		}
		if strings.TrimSpace(c.Description) == "" {
			continue
		}
		row := models.TariffRow{
			HSCode:            c.HSCode,
			Description:       strings.TrimSpace(c.Description),
			CustomsDuty:       c.CustomsDuty,
			SupplementaryDuty: c.SupplementaryDuty,
			VAT:               c.VAT,
			AdvanceIncomeTax:  c.AdvanceIncomeTax,
			RegulatoryDuty:    c.RegulatoryDuty,
			AdvanceTax:        c.AdvanceTax,
			TotalTaxIncidence: c.TotalTaxIncidence,
			Version:           version,
		}
		row.ClampRates()
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrNoValidTariffData
	}
	return rows, nil
}

func buildFallbackPrompt(text string) string {
	return fmt.Sprintf(`You are a customs tariff data processor. The following text was extracted from a national tariff rate-table PDF whose layout could not be parsed mechanically.

TASK: Extract every tariff line item as JSON.

OUTPUT JSON SCHEMA (array of objects):
[
  {
    "hs_code": "61091000",
    "description": "T-shirts, singlets and other vests, knitted, of cotton",
    "customs_duty": 25.0,
    "supplementary_duty": 45.0,
    "vat": 15.0,
    "advance_income_tax": 5.0,
    "regulatory_duty": 3.0,
    "advance_tax": 5.0,
    "total_tax_incidence": 127.84
  }
]

RULES:
- hs_code MUST be exactly 8 digits. Skip entries without a full 8-digit code.
- All rate fields are numbers (not strings). Use 0 when a rate is absent or unreadable.
- Do NOT invent rows; extract only what appears in the text.

DOCUMENT TEXT:
%s

Return ONLY valid JSON, no markdown, no explanations.`, text)
}

// extractJSONArray strips markdown code fences and locates the outermost
// JSON array in a model response
func extractJSONArray(response string) (string, error) {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		lines := strings.Split(response, "\n")
		var jsonLines []string
		inCodeBlock := false
		for _, line := range lines {
			if strings.HasPrefix(line, "```") {
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		response = strings.Join(jsonLines, "\n")
	}

	startIdx := strings.Index(response, "[")
	endIdx := strings.LastIndex(response, "]")
	if startIdx == -1 || endIdx == -1 || startIdx >= endIdx {
		return "", errors.New("could not find JSON array in response")
	}
	return response[startIdx : endIdx+1], nil
}
