package etl

import (
	"context"
	"errors"

	"github.com/feichai0017/inventory-etl/internal/models"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTargetDate = errors.New("invalid target date, expected YYYY-MM-DD")
	ErrNothingStaged     = errors.New("no rows were staged")
)

// TargetDateLayout is the accepted target_date format.
const TargetDateLayout = "2006-01-02"

// Service 是 ETL 作业的对外操作
type Service interface {
	SubmitJob(ctx context.Context, req *models.SubmitRequest) (*models.Job, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
	CancelJob(ctx context.Context, jobID string) (bool, error)
	ValidateBatch(batch *models.RowBatch, label string) *models.ValidationResult
	ValidateSheets(ctx context.Context, data []byte, filename string, sheetNames []string) (map[string]*models.ValidationResult, error)
	Inspect(ctx context.Context, data []byte, filename string) ([]models.SheetSummary, error)
}
