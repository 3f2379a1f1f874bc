package models

import (
	"time"
)

// DataKind identifies which upstream dataset a sync job works through.
type DataKind string

const (
	DataKindProducts DataKind = "products"
	DataKindSales    DataKind = "sales"
)

// Valid reports whether the kind is one of the two known datasets.
func (k DataKind) Valid() bool {
	return k == DataKindProducts || k == DataKindSales
}

// JobStatus is the lifecycle state of a SyncJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are immutable
// except for deletion during retention cleanup.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// DateFilterKind selects how a job's date window is derived.
type DateFilterKind string

const (
	DateFilterNone   DateFilterKind = "none"
	DateFilterMonths DateFilterKind = "last_months"
	DateFilterCustom DateFilterKind = "custom"
)

// SyncJob is one resumable synchronization task. A job is mutated once per
// processed chunk until it reaches a terminal status.
type SyncJob struct {
	ID       string   `bson:"_id" json:"id"`
	OwnerID  string   `bson:"owner_id" json:"owner_id"`
	DataKind DataKind `bson:"data_kind" json:"data_kind"`

	// TriggerLabel identifies which caller or schedule created the job.
	// Job identity for resume purposes is (owner, kind, label, filter kind).
	TriggerLabel string `bson:"trigger_label" json:"trigger_label"`

	Status JobStatus `bson:"status" json:"status"`

	// CurrentPage is the 1-based cursor of the next page to fetch.
	CurrentPage    int    `bson:"current_page" json:"current_page"`
	TotalPages     *int   `bson:"total_pages,omitempty" json:"total_pages,omitempty"`
	TotalExpected  *int   `bson:"total_expected,omitempty" json:"total_expected,omitempty"`
	ItemsProcessed int    `bson:"items_processed" json:"items_processed"`
	ErrorCount     int    `bson:"error_count" json:"error_count"`
	LastError      string `bson:"last_error,omitempty" json:"last_error,omitempty"`

	MaxPagesToFetch int `bson:"max_pages_to_fetch,omitempty" json:"max_pages_to_fetch,omitempty"`
	PagesPerChunk   int `bson:"pages_per_chunk" json:"pages_per_chunk"`

	DateFilterKind DateFilterKind `bson:"date_filter_kind" json:"date_filter_kind"`
	FilterStart    *time.Time     `bson:"filter_start,omitempty" json:"filter_start,omitempty"`
	FilterEnd      *time.Time     `bson:"filter_end,omitempty" json:"filter_end,omitempty"`

	// OldestSeen is the watermark of the oldest record date observed while
	// scanning descending-ordered pages.
	OldestSeen *time.Time `bson:"oldest_seen,omitempty" json:"oldest_seen,omitempty"`

	// Credentials are carried on the job so a chunk can resume without
	// re-deriving configuration.
	APIKey   string `bson:"api_key" json:"-"`
	Endpoint string `bson:"endpoint" json:"endpoint"`

	StartedAt       time.Time  `bson:"started_at" json:"started_at"`
	LastProcessedAt time.Time  `bson:"last_processed_at" json:"last_processed_at"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	FailedAt        *time.Time `bson:"failed_at,omitempty" json:"failed_at,omitempty"`
}

// PageLimit returns the effective page ceiling for the job: the smaller of
// the configured cap and the discovered total, 0 meaning unbounded.
func (j *SyncJob) PageLimit() int {
	limit := j.MaxPagesToFetch
	if j.TotalPages != nil && (limit == 0 || *j.TotalPages < limit) {
		limit = *j.TotalPages
	}
	return limit
}

// SyncStrategy is a one-shot sales sync preset.
type SyncStrategy string

const (
	StrategyLast100     SyncStrategy = "Last 100"
	StrategyLast30Days  SyncStrategy = "Last 30 Days"
	StrategyLast6Months SyncStrategy = "Last 6 Months"
	StrategyAllData     SyncStrategy = "All Data"
)

// TriggerType distinguishes manual dashboard triggers from scheduled ones;
// it selects the one-shot wall-clock budget.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)
