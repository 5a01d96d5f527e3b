package service

import (
	"fmt"
	"strings"
	"testing"

	"tariffdesk-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRows(n int) []models.TariffRow {
	rows := make([]models.TariffRow, n)
	for i := range rows {
		rows[i] = models.TariffRow{
			HSCode:      fmt.Sprintf("610910%02d", i),
			Description: fmt.Sprintf("test article %d", i),
			CustomsDuty: 25,
			Version:     "2024-2025",
		}
	}
	return rows
}

func TestChunkRowsBatching(t *testing.T) {
	chunker := NewChunker(50, 0, 0)

	chunks := chunker.ChunkRows(makeRows(120), "2024-2025")
	require.Len(t, chunks, 3)

	assert.Equal(t, "61091000", chunks[0].StartCode)
	assert.Equal(t, "61091049", chunks[0].EndCode)
	assert.Equal(t, "61091050", chunks[1].StartCode)
	assert.Equal(t, 2, chunks[2].Ordinal)
	assert.Equal(t, models.KindRateTable, chunks[0].SourceKind)

	for _, chunk := range chunks {
		assert.NotEmpty(t, chunk.ID)
		assert.Equal(t, "2024-2025", chunk.Version)
	}
}

func TestChunkRowsSmallTableSingleChunk(t *testing.T) {
	chunker := NewChunker(50, 0, 0)

	chunks := chunker.ChunkRows(makeRows(5), "v1")
	require.Len(t, chunks, 1)
	assert.Equal(t, "61091000", chunks[0].StartCode)
	assert.Equal(t, "61091004", chunks[0].EndCode)
	assert.Equal(t, 5, strings.Count(chunks[0].Content, "\n"))
}

func TestChunkRowsContentCarriesRates(t *testing.T) {
	chunker := NewChunker(50, 0, 0)
	rows := []models.TariffRow{{
		HSCode: "61091000", Description: "T-shirts of cotton",
		CustomsDuty: 25, VAT: 15, TotalTaxIncidence: 127.84, Version: "v1",
	}}

	chunks := chunker.ChunkRows(rows, "v1")
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "61091000 | T-shirts of cotton")
	assert.Contains(t, chunks[0].Content, "CD 25.00")
	assert.Contains(t, chunks[0].Content, "TTI 127.84")
}

func TestChunkTextBoundsAndReassembly(t *testing.T) {
	chunker := NewChunker(0, 500, 10)

	var b strings.Builder
	for i := 1; i <= 8; i++ {
		b.WriteString(fmt.Sprintf("CHAPTER %d\n", i))
		b.WriteString(strings.Repeat(fmt.Sprintf("Notes for chapter %d. ", i), 20))
		b.WriteString("\n\n")
	}
	text := b.String()

	chunks := chunker.ChunkText(text, "v1", models.KindLegalChapter)
	require.NotEmpty(t, chunks)

	var reassembled strings.Builder
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Content), 500)
		reassembled.WriteString(chunk.Content)
	}
	// No minimum-length discards happen with these sizes, so the pieces
	// must reproduce the input exactly.
	assert.Equal(t, text, reassembled.String())
}

func TestChunkTextPrefersChapterBoundaries(t *testing.T) {
	chunker := NewChunker(0, 300, 10)

	text := strings.Repeat("a", 200) + "\nCHAPTER 61\n" + strings.Repeat("b", 200)
	chunks := chunker.ChunkText(text, "v1", models.KindLegalChapter)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "CHAPTER 61"))
	assert.Equal(t, "61", chunks[1].Chapter)
}

func TestChunkTextDiscardsSlivers(t *testing.T) {
	chunker := NewChunker(0, 30000, 100)

	chunks := chunker.ChunkText("too short to index", "v1", models.KindLegalChapter)
	assert.Empty(t, chunks)
}

func TestChunkTextExtractsSectionLabel(t *testing.T) {
	chunker := NewChunker(0, 30000, 10)

	text := "SECTION XI\nTextiles and textile articles. " + strings.Repeat("General notes. ", 10)
	chunks := chunker.ChunkText(text, "v1", models.KindLegalChapter)
	require.Len(t, chunks, 1)
	assert.Equal(t, "XI", chunks[0].Section)
}
