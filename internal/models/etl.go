package models

import (
	"time"
)

// JobStatus ETL 工作状态
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusValidating JobStatus = "validating"
	JobStatusLoading    JobStatus = "loading"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a cancel request is honoured in s.
func (s JobStatus) Cancellable() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// IssueType 数据质量问题类型
type IssueType string

const (
	IssueMissingRequiredField IssueType = "missing_required_field"
	IssueInvalidDataFormat    IssueType = "invalid_data_format"
	IssueInvalidDateFormat    IssueType = "invalid_date_format"
	IssueNegativeQuantity     IssueType = "negative_quantity"
	IssueOverAllocation       IssueType = "over_allocation"
	IssueDuplicateRecord      IssueType = "duplicate_record"
	IssueValidationCrashed    IssueType = "validation_crashed"
)

// Severity of a quality issue. Only SeverityError blocks a load.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// QualityIssue 数据质量问题
type QualityIssue struct {
	Type         IssueType `json:"type"`
	Message      string    `json:"message"`
	Column       string    `json:"column,omitempty"`
	RowNumber    int       `json:"row_number,omitempty"` // 1-based, 0 when the issue is not tied to a row
	Severity     Severity  `json:"severity"`
	CurrentValue string    `json:"current_value,omitempty"`
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid      bool                   `json:"is_valid"`
	TotalRecords int                    `json:"total_records"`
	ValidRows    int                    `json:"valid_rows"`
	ErrorCount   int                    `json:"error_count"`
	WarningCount int                    `json:"warning_count"`
	Issues       []QualityIssue         `json:"issues"`
	DataSummary  map[string]interface{} `json:"data_summary"`
}

// IssuesOfType returns the issues with the given type, in report order.
func (r *ValidationResult) IssuesOfType(t IssueType) []QualityIssue {
	var out []QualityIssue
	for _, issue := range r.Issues {
		if issue.Type == t {
			out = append(out, issue)
		}
	}
	return out
}

// Job ETL 工作
type Job struct {
	ID               string            `json:"job_id"`
	Status           JobStatus         `json:"status"`
	SourceFile       string            `json:"source_file"`
	SheetName        string            `json:"sheet_name,omitempty"`
	TargetDate       string            `json:"target_date,omitempty"`
	ValidateOnly     bool              `json:"validate_only"`
	StoredPath       string            `json:"stored_path,omitempty"`
	FileHash         string            `json:"file_hash,omitempty"`
	SourceTag        string            `json:"source_tag,omitempty"`
	Progress         float64           `json:"progress"`
	CurrentStep      string            `json:"current_step,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	RowsProcessed    int               `json:"rows_processed"`
	RowsInserted     int               `json:"rows_inserted"`
	RowsUpdated      int               `json:"rows_updated"`
	RowsSkipped      int               `json:"rows_skipped"`
}

// Clone returns a copy that shares no mutable state with j.
// ValidationResult is immutable once attached, so it is shared.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SubmitRequest carries everything needed to create a job.
type SubmitRequest struct {
	Data         []byte
	Filename     string
	SheetName    string
	TargetDate   string
	ValidateOnly bool
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status JobStatus
	Limit  int
}

// SheetSummary describes one sheet of an uploaded file.
type SheetSummary struct {
	Name        string              `json:"sheet_name"`
	RowCount    int                 `json:"row_count"`
	ColumnCount int                 `json:"column_count"`
	Columns     []string            `json:"columns"`
	SampleRows  []map[string]string `json:"sample_data"`
}
