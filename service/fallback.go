package service

import (
	"context"
	"strings"

	"tariffdesk-backend/models"
)

// fallbackRule maps description keywords (optionally gated on material) to a
// chapter-level HS code guess. Confidences are deliberately low: these are
// coarse keyword matches, not classifications.
type fallbackRule struct {
	keywords   []string
	material   string
	code       string
	confidence float64
	rationale  string
}

var fallbackRules = []fallbackRule{
	{[]string{"t-shirt", "tshirt", "singlet", "vest"}, "cotton", "61091000", 0.45, "knitted cotton T-shirts fall under heading 6109"},
	{[]string{"t-shirt", "tshirt", "singlet", "vest"}, "", "61099000", 0.35, "knitted T-shirts of other materials fall under heading 6109"},
	{[]string{"shirt"}, "cotton", "61051000", 0.35, "knitted cotton shirts fall under heading 6105"},
	{[]string{"trouser", "pant", "jeans"}, "cotton", "62034200", 0.35, "cotton trousers fall under heading 6203"},
	{[]string{"jersey", "pullover", "sweater", "cardigan"}, "", "61101900", 0.3, "knitted jerseys and pullovers fall under heading 6110"},
	{[]string{"footwear", "shoe", "sneaker"}, "", "64041900", 0.3, "footwear with textile uppers falls under heading 6404"},
	{[]string{"mobile", "smartphone", "cellular"}, "", "85171200", 0.4, "cellular telephones fall under heading 8517"},
	{[]string{"laptop", "notebook computer"}, "", "84713000", 0.4, "portable computers fall under heading 8471"},
	{[]string{"rice"}, "", "10063000", 0.4, "semi-milled or wholly milled rice falls under heading 1006"},
	{[]string{"sugar"}, "", "17019900", 0.35, "refined cane or beet sugar falls under heading 1701"},
	{[]string{"cement"}, "", "25232900", 0.4, "portland cement falls under heading 2523"},
	{[]string{"fabric", "woven"}, "cotton", "52081200", 0.25, "plain-weave cotton fabrics fall under heading 5208"},
	{[]string{"yarn"}, "cotton", "52051200", 0.25, "cotton yarn falls under heading 5205"},
}

// RuleBasedFallback suggests codes from a fixed keyword table. Used when the
// model path is unavailable or unparseable, so classification degrades to a
// coarse answer instead of an error.
type RuleBasedFallback struct {
	rates RateStore
}

// NewRuleBasedFallback creates a new rule-based fallback classifier
func NewRuleBasedFallback(rates RateStore) *RuleBasedFallback {
	return &RuleBasedFallback{rates: rates}
}

// Classify matches the product description against the rule table. An empty
// result means no rule matched; the caller decides whether that is an error.
func (f *RuleBasedFallback) Classify(ctx context.Context, product models.ProductDescription) []models.ClassificationCandidate {
	description := strings.ToLower(product.Description)
	material := strings.ToLower(product.Material)
	for component := range product.Composition {
		material += " " + strings.ToLower(component)
	}

	var candidates []models.ClassificationCandidate
	seen := make(map[string]bool)

	for _, rule := range fallbackRules {
		if rule.material != "" && !strings.Contains(material, rule.material) && !strings.Contains(description, rule.material) {
			continue
		}
		matched := false
		for _, keyword := range rule.keywords {
			if strings.Contains(description, keyword) {
				matched = true
				break
			}
		}
		if !matched || seen[rule.code] {
			continue
		}
		seen[rule.code] = true

		candidate := models.ClassificationCandidate{
			Code:       rule.code,
			Confidence: rule.confidence,
			Rationale:  []string{rule.rationale, "suggested by keyword rules; verify against the tariff schedule"},
		}
		if f.rates != nil {
			if row, err := f.rates.GetRates(ctx, rule.code); err == nil {
				candidate.Rates = row
				candidate.Description = row.Description
				candidate.Provenance = models.Provenance{
					SourceKind: models.KindRateTable,
					Version:    row.Version,
					Locator:    row.HSCode,
				}
			}
		}

		candidates = append(candidates, candidate)
		if len(candidates) >= maxCandidates {
			break
		}
	}

	return candidates
}
