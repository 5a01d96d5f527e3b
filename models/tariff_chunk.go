package models

import (
	"github.com/google/uuid"
)

// TariffChunk is a bounded unit of indexed text plus its embedding.
// Chunks are immutable once written; superseded chunks from an older
// version are deleted only after the new version is committed.
type TariffChunk struct {
	ID         uuid.UUID    `json:"id"`
	SourceKind DocumentKind `json:"source_kind"`
	Version    string       `json:"version"`
	Ordinal    int          `json:"ordinal"`
	Content    string       `json:"content"`
	StartCode  string       `json:"start_code,omitempty"` // first HS code in a tabular chunk
	EndCode    string       `json:"end_code,omitempty"`   // last HS code in a tabular chunk
	Chapter    string       `json:"chapter,omitempty"`
	Section    string       `json:"section,omitempty"`
	Embedding  []float64    `json:"-"`
}

// Locator describes where in the source corpus a chunk came from
func (c *TariffChunk) Locator() string {
	if c.StartCode != "" {
		return c.StartCode + "-" + c.EndCode
	}
	if c.Chapter != "" {
		return "chapter " + c.Chapter
	}
	if c.Section != "" {
		return "section " + c.Section
	}
	return ""
}

// ScoredChunk is a retrieval result: a chunk plus its vector distance
type ScoredChunk struct {
	TariffChunk
	Distance float64 `json:"distance"`
}
