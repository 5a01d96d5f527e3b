package service

import (
	"fmt"
	"regexp"
	"strings"

	"tariffdesk-backend/models"

	"github.com/google/uuid"
)

// Chunker groups parsed rows or long chapter text into bounded-size
// retrieval units, preserving structural boundaries when splitting
type Chunker struct {
	rowsPerChunk int
	maxChars     int
	minChars     int
}

// NewChunker creates a chunker with the given bounds. Zero values fall back
// to the defaults (50 rows, 30000 max chars, 100 min chars).
func NewChunker(rowsPerChunk, maxChars, minChars int) *Chunker {
	if rowsPerChunk <= 0 {
		rowsPerChunk = 50
	}
	if maxChars <= 0 {
		maxChars = 30000
	}
	if minChars <= 0 {
		minChars = 100
	}
	return &Chunker{
		rowsPerChunk: rowsPerChunk,
		maxChars:     maxChars,
		minChars:     minChars,
	}
}

// ChunkRows groups consecutive tariff rows into fixed-size batches,
// recording the first and last HS code of each batch for provenance and
// narrow re-querying
func (c *Chunker) ChunkRows(rows []models.TariffRow, version string) []models.TariffChunk {
	var chunks []models.TariffChunk

	for start := 0; start < len(rows); start += c.rowsPerChunk {
		end := start + c.rowsPerChunk
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var builder strings.Builder
		for _, row := range batch {
			builder.WriteString(formatRowLine(row))
			builder.WriteString("\n")
		}

		chunks = append(chunks, models.TariffChunk{
			ID:         uuid.New(),
			SourceKind: models.KindRateTable,
			Version:    version,
			Ordinal:    len(chunks),
			Content:    builder.String(),
			StartCode:  batch[0].HSCode,
			EndCode:    batch[len(batch)-1].HSCode,
		})
	}

	return chunks
}

// formatRowLine renders one tariff row as a single index line
func formatRowLine(row models.TariffRow) string {
	return fmt.Sprintf("%s | %s | CD %.2f SD %.2f VAT %.2f AIT %.2f RD %.2f AT %.2f TTI %.2f",
		row.HSCode, row.Description,
		row.CustomsDuty, row.SupplementaryDuty, row.VAT,
		row.AdvanceIncomeTax, row.RegulatoryDuty, row.AdvanceTax,
		row.TotalTaxIncidence)
}

var (
	sectionBreakPattern = regexp.MustCompile(`(?m)^\s*SECTION\b`)
	chapterBreakPattern = regexp.MustCompile(`(?m)^\s*CHAPTER\b`)
	headingBreakPattern = regexp.MustCompile(`(?m)^\s*\d+(?:\.\d+)*[.)]?\s+\S`)

	chapterLabelPattern = regexp.MustCompile(`(?i)CHAPTER\s+(\d{1,2})`)
	sectionLabelPattern = regexp.MustCompile(`(?i)SECTION\s+([IVXLCDM]+|\d+)`)
)

// ChunkText splits chapter or legal text into size-bounded chunks,
// preferring structural boundaries (section, chapter, sub-heading,
// paragraph, word, in that priority order). Chunks below the minimum
// content length are discarded as noise.
func (c *Chunker) ChunkText(text, version string, kind models.DocumentKind) []models.TariffChunk {
	var chunks []models.TariffChunk

	for _, piece := range c.splitBounded(text) {
		if len(strings.TrimSpace(piece)) < c.minChars {
			continue
		}
		chunk := models.TariffChunk{
			ID:         uuid.New(),
			SourceKind: kind,
			Version:    version,
			Ordinal:    len(chunks),
			Content:    piece,
		}
		if m := chapterLabelPattern.FindStringSubmatch(piece); m != nil {
			chunk.Chapter = m[1]
		}
		if m := sectionLabelPattern.FindStringSubmatch(piece); m != nil {
			chunk.Section = m[1]
		}
		chunks = append(chunks, chunk)
	}

	return chunks
}

// splitBounded cuts text into pieces no longer than maxChars. Every cut is
// an exact slice boundary so concatenating the pieces reproduces the input.
func (c *Chunker) splitBounded(text string) []string {
	var pieces []string

	rest := text
	for len(rest) > c.maxChars {
		window := rest[:c.maxChars]
		cut := findBreak(window, c.minChars)
		if cut <= 0 {
			cut = c.maxChars
		}
		pieces = append(pieces, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		pieces = append(pieces, rest)
	}
	return pieces
}

// findBreak locates the best cut position inside a window, trying
// structural boundaries in priority order and falling back to a word
// boundary. A boundary too close to the window start is ignored to avoid
// degenerate slivers.
func findBreak(window string, minCut int) int {
	for _, pattern := range []*regexp.Regexp{sectionBreakPattern, chapterBreakPattern, headingBreakPattern} {
		if cut := lastMatchStart(pattern, window); cut > minCut {
			return cut
		}
	}
	// Paragraph boundary
	if cut := strings.LastIndex(window, "\n\n"); cut > minCut {
		return cut
	}
	// Word boundary as a last resort
	if cut := strings.LastIndexAny(window, " \n\t"); cut > minCut {
		return cut
	}
	return -1
}

// lastMatchStart returns the start offset of the last pattern match in the
// window, or -1
func lastMatchStart(pattern *regexp.Regexp, window string) int {
	matches := pattern.FindAllStringIndex(window, -1)
	if len(matches) == 0 {
		return -1
	}
	return matches[len(matches)-1][0]
}
