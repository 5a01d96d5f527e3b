package models

// ProductDescription is the structured query input for classification
type ProductDescription struct {
	Description string             `json:"description"`
	Material    string             `json:"material,omitempty"`
	Composition map[string]float64 `json:"composition,omitempty"` // material name -> percentage
}

// Provenance identifies which indexed source a candidate was derived from
type Provenance struct {
	SourceKind DocumentKind `json:"source_kind"`
	Version    string       `json:"version"`
	Locator    string       `json:"locator,omitempty"`
}

// ClassificationCandidate is one ranked HS-code suggestion. Candidates are
// transient, computed per query, never persisted. Rates are looked up from
// the tariff store by code; generated numeric rates are never trusted.
type ClassificationCandidate struct {
	Code        string     `json:"code"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"`
	Rationale   []string   `json:"rationale"`
	Rates       *TariffRow `json:"rates,omitempty"`
	Provenance  Provenance `json:"provenance"`
}
