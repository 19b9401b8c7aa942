package bulkjob

import "time"

// Status is the job lifecycle state. Terminal states are final; the only
// mutation allowed afterwards is consumer-initiated deletion.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further processing.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Format selects the generated document kind.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatCSV Format = "csv"
)

// Job is one bulk document request and its progress snapshot.
type Job struct {
	ID             string
	Shop           string
	Status         Status
	Progress       int
	TotalItems     int
	ProcessedItems int
	Format         Format
	CreatedAt      time.Time
	CompletedAt    *time.Time
	DownloadKey    string
	ExpiresAt      *time.Time
	Error          string
}

// Params describes a submission.
type Params struct {
	OrderIDs            []string
	Format              Format
	TemplateID          string
	IncludeTaxBreakdown bool
	GroupByDate         bool
}
