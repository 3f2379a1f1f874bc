package services

import (
	"time"

	"github.com/sellerops/marketsync/internal/models"
)

// UpsertOutcome is the per-record decision of the upsert engine.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
	OutcomeSkipped UpsertOutcome = "skipped"
)

// UpsertTally aggregates upsert outcomes over one processing pass.
type UpsertTally struct {
	Processed int `json:"processed"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Add merges another tally into this one.
func (t *UpsertTally) Add(other UpsertTally) {
	t.Processed += other.Processed
	t.New += other.New
	t.Updated += other.Updated
	t.Skipped += other.Skipped
	t.Errors += other.Errors
}

// ChunkResult is what one chunk invocation of the fetch controller reports
// back to the job state manager.
type ChunkResult struct {
	RecordsFetched       int
	PagesFetched         int
	NextPage             int
	ReachedEnd           bool
	TotalPagesDiscovered *int
	FetchErrors          int
	OldestSeen           *time.Time
	Tally                UpsertTally
}

// ProcessResult is the outward-facing result of processing one chunk,
// consumed by schedulers and the HTTP API.
type ProcessResult struct {
	Success              bool             `json:"success"`
	JobID                string           `json:"job_id"`
	Status               models.JobStatus `json:"status"`
	ItemsProcessed       int              `json:"items_processed"`
	PagesProcessed       int              `json:"pages_processed"`
	ReachedEnd           bool             `json:"reached_end"`
	TotalPagesDiscovered *int             `json:"total_pages_discovered,omitempty"`
	ErrorMessage         string           `json:"error_message,omitempty"`
}

// SyncResult is the outcome of a one-shot, non-resumable sync.
type SyncResult struct {
	Success        bool                `json:"success"`
	Strategy       models.SyncStrategy `json:"strategy"`
	ItemsProcessed int                 `json:"items_processed"`
	PagesFetched   int                 `json:"pages_fetched"`
	Tally          UpsertTally         `json:"tally"`
	TimedOut       bool                `json:"timed_out"`
	Error          string              `json:"error,omitempty"`
	Duration       time.Duration       `json:"duration"`
}

// JobHandle is returned by CreateOrResumeSyncJob.
type JobHandle struct {
	JobID         string `json:"job_id"`
	CurrentPage   int    `json:"current_page"`
	Resumed       bool   `json:"resumed"`
	ShouldProcess bool   `json:"should_process"`
}
