package models

import "time"

// IngestionRunStatus represents the status of an ingestion run
type IngestionRunStatus string

const (
	RunStatusIdle       IngestionRunStatus = "idle"
	RunStatusInProgress IngestionRunStatus = "in_progress"
	RunStatusCompleted  IngestionRunStatus = "completed"
	RunStatusFailed     IngestionRunStatus = "failed"
)

// IngestionRun is an in-memory snapshot of the last or current ingestion
// pass, surfaced through the status endpoint
type IngestionRun struct {
	Status             IngestionRunStatus `json:"status"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         *time.Time         `json:"finished_at,omitempty"`
	LinksDiscovered    int                `json:"links_discovered"`
	DocumentsPending   int                `json:"documents_pending"`
	DocumentsProcessed int                `json:"documents_processed"`
	DocumentsFailed    int                `json:"documents_failed"`
	ErrorMessage       string             `json:"error_message,omitempty"`
}
