package models

// DocumentKind identifies the type of a tariff source document
type DocumentKind string

const (
	KindRateTable    DocumentKind = "rate_table"
	KindLegalChapter DocumentKind = "legal_chapter"
	KindOther        DocumentKind = "other"
)

// Ingestable reports whether documents of this kind are fed into the index
func (k DocumentKind) Ingestable() bool {
	return k == KindRateTable || k == KindLegalChapter
}

// SourceLink represents a downloadable document discovered on the source
// listing page. It is ephemeral and never persisted.
type SourceLink struct {
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	Version    string       `json:"version"`
	Kind       DocumentKind `json:"kind"`
	Confidence float64      `json:"confidence"`
}

// PendingDocument is a source document the change tracker has determined to
// be unseen. The downloaded bytes are carried along so ingestion does not
// fetch the same document twice.
type PendingDocument struct {
	Kind    DocumentKind
	Version string
	URL     string
	Hash    string
	Data    []byte
}
