package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentVersionRecord marks a (kind, version) pair of a source document as
// processed. (kind, version) is unique; at most one record per kind is
// active at a time.
type DocumentVersionRecord struct {
	ID           uuid.UUID    `json:"id"`
	DocumentKind DocumentKind `json:"document_kind"`
	Version      string       `json:"version"`
	SourceURL    string       `json:"source_url"`
	ContentHash  string       `json:"content_hash"`
	ProcessedAt  time.Time    `json:"processed_at"`
	IsActive     bool         `json:"is_active"`
}
