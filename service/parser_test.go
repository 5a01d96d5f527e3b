package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `National Tariff Schedule 2024-2025
HS Code    Description                                      CD    SD    VAT   AIT   RD    AT    TTI
61091000   T-shirts singlets and vests knitted of cotton    25.0  45.0  15.0  5.0   3.0   5.0   127.84
61099000   T-shirts of other textile materials              25.0  45.0  15.0  5.0   3.0   5.0   127.84
85171200   Telephones for cellular networks                 10.0  0.0   15.0  5.0   0.0   5.0   37.07
`

func TestParseHeuristicTable(t *testing.T) {
	parser := NewTariffTableParser(nil)

	rows, err := parser.Parse(context.Background(), sampleTable, "2024-2025")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	first := rows[0]
	assert.Equal(t, "61091000", first.HSCode)
	assert.Equal(t, "T-shirts singlets and vests knitted of cotton", first.Description)
	assert.Equal(t, 25.0, first.CustomsDuty)
	assert.Equal(t, 45.0, first.SupplementaryDuty)
	assert.Equal(t, 15.0, first.VAT)
	assert.Equal(t, 127.84, first.TotalTaxIncidence)
	assert.Equal(t, "2024-2025", first.Version)

	assert.Equal(t, "85171200", rows[2].HSCode)
	assert.Equal(t, 10.0, rows[2].CustomsDuty)
}

func TestParseToleratesPercentSignsAndSeparators(t *testing.T) {
	table := "HS Code  Description  CD  SD  VAT\n" +
		"10063000  Semi-milled rice  25%  0  1,500\n"
	parser := NewTariffTableParser(nil)

	rows, err := parser.Parse(context.Background(), table, "2024-2025")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 25.0, rows[0].CustomsDuty)
	assert.Equal(t, 1500.0, rows[0].VAT)
}

func TestParseFailureRateWithinThreshold(t *testing.T) {
	// 3 of 10 rows malformed: exactly at the boundary, which is tolerated.
	var b strings.Builder
	b.WriteString("HS Code  Description  CD\n")
	for i := 0; i < 7; i++ {
		b.WriteString("61091000  cotton shirts  25.0\n")
	}
	for i := 0; i < 3; i++ {
		b.WriteString("garbage line without a code\n")
	}

	parser := NewTariffTableParser(nil)
	rows, err := parser.Parse(context.Background(), b.String(), "v1")
	require.NoError(t, err)
	assert.Len(t, rows, 7)
}

func TestParseStructuralDriftInvokesFallback(t *testing.T) {
	// 4 of 10 rows malformed: strictly above the threshold.
	var b strings.Builder
	b.WriteString("HS Code  Description  CD\n")
	for i := 0; i < 6; i++ {
		b.WriteString("61091000  cotton shirts  25.0\n")
	}
	for i := 0; i < 4; i++ {
		b.WriteString("garbage line without a code\n")
	}

	gen := &fakeGenerator{response: `[
		{"hs_code": "61091000", "description": "T-shirts of cotton", "customs_duty": 25.0, "vat": 15.0}
	]`}
	parser := NewTariffTableParser(gen)

	rows, err := parser.Parse(context.Background(), b.String(), "v1")
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1, "fallback should have been invoked once")
	require.Len(t, rows, 1)
	assert.Equal(t, "61091000", rows[0].HSCode)
	assert.Equal(t, "v1", rows[0].Version)
}

func TestParseMissingHeaderInvokesFallback(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n[{\"hs_code\": \"25232900\", \"description\": \"Portland cement\", \"customs_duty\": 10}]\n```"}
	parser := NewTariffTableParser(gen)

	rows, err := parser.Parse(context.Background(), "no table here at all", "v1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "25232900", rows[0].HSCode)
}

func TestParseHeaderWithoutRowsInvokesFallback(t *testing.T) {
	// A header with zero candidate lines beneath it goes to the fallback
	// rather than straight to a terminal verdict.
	text := "HS Code    Description    CD    SD    VAT\n"

	gen := &fakeGenerator{response: `[
		{"hs_code": "61091000", "description": "T-shirts of cotton", "customs_duty": 25.0}
	]`}
	parser := NewTariffTableParser(gen)

	rows, err := parser.Parse(context.Background(), text, "2024-2025")
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1, "fallback should have been invoked once")
	require.Len(t, rows, 1)
	assert.Equal(t, "61091000", rows[0].HSCode)
}

func TestParseHeaderWithoutRowsAndNoGenerator(t *testing.T) {
	parser := NewTariffTableParser(nil)

	_, err := parser.Parse(context.Background(), "HS Code  Description  CD\n", "v1")
	assert.ErrorIs(t, err, ErrNoValidTariffData)
}

func TestParseFallbackRejectsInvalidCodes(t *testing.T) {
	gen := &fakeGenerator{response: `[
		{"hs_code": "1234", "description": "too short"},
		{"hs_code": "61091000", "description": ""},
		{"hs_code": "61099000", "description": "valid row", "customs_duty": 25}
	]`}
	parser := NewTariffTableParser(gen)

	rows, err := parser.Parse(context.Background(), "unparseable", "v1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "61099000", rows[0].HSCode)
}

func TestParseNoValidDataAnywhere(t *testing.T) {
	gen := &fakeGenerator{response: `[]`}
	parser := NewTariffTableParser(gen)

	_, err := parser.Parse(context.Background(), "unparseable", "v1")
	assert.ErrorIs(t, err, ErrNoValidTariffData)
}

func TestParseNoGeneratorConfigured(t *testing.T) {
	parser := NewTariffTableParser(nil)

	_, err := parser.Parse(context.Background(), "unparseable", "v1")
	assert.ErrorIs(t, err, ErrNoValidTariffData)
}

func TestParseRowLineRateBoundary(t *testing.T) {
	row, ok := parseRowLine("52081200 Plain weave cotton fabric weighing more than 100 g 25.0 0 15.0", "v1")
	require.True(t, ok)
	assert.Equal(t, "Plain weave cotton fabric weighing more than 100 g", row.Description)
	assert.Equal(t, 25.0, row.CustomsDuty)
	assert.Equal(t, 0.0, row.SupplementaryDuty)
	assert.Equal(t, 15.0, row.VAT)
}

func TestParseRowLineRejectsBadCode(t *testing.T) {
	_, ok := parseRowLine("610910 Short code 25.0", "v1")
	assert.False(t, ok)

	_, ok = parseRowLine("6109100A Not numeric 25.0", "v1")
	assert.False(t, ok)
}

func TestExtractJSONArrayFenced(t *testing.T) {
	out, err := extractJSONArray("Here you go:\n```json\n[{\"a\": 1}]\n```\nDone.")
	require.NoError(t, err)
	assert.Equal(t, `[{"a": 1}]`, out)
}
