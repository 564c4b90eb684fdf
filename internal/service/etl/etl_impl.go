package etl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/inventory-etl/internal/agent"
	"github.com/feichai0017/inventory-etl/internal/agent/tabular"
	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/internal/utils/validator"
	"github.com/feichai0017/inventory-etl/internal/warehouse"
	"github.com/feichai0017/inventory-etl/pkg/logger"
	"github.com/feichai0017/inventory-etl/pkg/storage"
)

// Uploader persists the raw bytes of a submitted file.
type Uploader interface {
	Save(ctx context.Context, data []byte, filename string) (*storage.StoredFile, error)
}

// ServiceConfig ETL 服务配置
type ServiceConfig struct {
	MaxFileSize      int64
	AllowedTypes     []string
	ProcessTimeout   time.Duration
	StagingBatchSize int
	SnapshotPolicy   warehouse.SnapshotPolicy
	SourceSystem     string
	DefaultListLimit int
}

// DefaultServiceConfig 默认配置
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxFileSize:      50 * 1024 * 1024, // 50MB
		AllowedTypes:     []string{".xlsx", ".xlsm", ".csv"},
		ProcessTimeout:   30 * time.Minute,
		StagingBatchSize: warehouse.DefaultStagingBatchSize,
		SnapshotPolicy:   warehouse.SnapshotAppend,
		SourceSystem:     "WMS",
		DefaultListLimit: 50,
	}
}

// Option configures optional collaborators of the orchestrator.
type Option func(*Orchestrator)

// WithUploads saves every submitted file before the job starts.
func WithUploads(u Uploader) Option {
	return func(o *Orchestrator) { o.uploads = u }
}

// WithHistory mirrors every job change to r.
func WithHistory(r HistoryRecorder) Option {
	return func(o *Orchestrator) { o.history = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator drives ETL jobs from upload to fact load.
type Orchestrator struct {
	factory   *agent.ProcessorFactory
	precheck  *validator.UploadValidator
	validator *validator.BatchValidator
	stager    *warehouse.Stager
	resolver  *warehouse.Resolver
	facts     *warehouse.FactLoader
	store     JobStore
	uploads   Uploader
	history   HistoryRecorder
	logger    logger.Logger
	config    *ServiceConfig
	now       func() time.Time

	wg       sync.WaitGroup
	baseCtx  context.Context
	stopJobs context.CancelFunc
}

var _ Service = (*Orchestrator)(nil)

// NewService 创建 ETL 编排服务
func NewService(
	factory *agent.ProcessorFactory,
	gw warehouse.Gateway,
	store JobStore,
	log logger.Logger,
	cfg *ServiceConfig,
	opts ...Option,
) *Orchestrator {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 50
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		factory: factory,
		precheck: validator.NewUploadValidator(log.Named("upload"), &validator.UploadConfig{
			MaxFileSize:       cfg.MaxFileSize,
			AllowedExtensions: cfg.AllowedTypes,
		}),
		validator: validator.NewBatchValidator(log.Named("validator"), nil),
		stager:    warehouse.NewStager(gw, cfg.StagingBatchSize, log.Named("staging")),
		resolver:  warehouse.NewResolver(gw, log.Named("dimensions")),
		facts:     warehouse.NewFactLoader(gw, cfg.SnapshotPolicy, cfg.SourceSystem, log.Named("facts")),
		store:     store,
		logger:    log,
		config:    cfg,
		now:       time.Now,
		baseCtx:   baseCtx,
		stopJobs:  cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SubmitJob checks the upload, records a pending job and starts the
// pipeline in the background. Input errors return before any job exists.
func (o *Orchestrator) SubmitJob(ctx context.Context, req *models.SubmitRequest) (*models.Job, error) {
	info, err := o.precheck.Validate(req.Data, req.Filename)
	if err != nil {
		o.logger.Warn("Upload rejected",
			logger.String("filename", req.Filename),
			logger.Error(err),
		)
		return nil, err
	}
	if _, err := o.factory.GetParser(req.Filename); err != nil {
		return nil, fmt.Errorf("%w: %s", validator.ErrUnsupportedFormat, req.Filename)
	}
	if req.TargetDate != "" {
		if _, err := time.Parse(TargetDateLayout, req.TargetDate); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTargetDate, req.TargetDate)
		}
	}
	if err := o.requireRows(ctx, req.Data, req.Filename); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:           uuid.New().String(),
		Status:       models.JobStatusPending,
		SourceFile:   req.Filename,
		SheetName:    req.SheetName,
		TargetDate:   req.TargetDate,
		ValidateOnly: req.ValidateOnly,
		FileHash:     info.Hash,
		CreatedAt:    o.now(),
	}

	if o.uploads != nil {
		saved, err := o.uploads.Save(ctx, req.Data, req.Filename)
		if err != nil {
			o.logger.Error("Failed to store upload",
				logger.String("filename", req.Filename),
				logger.Error(err),
			)
			return nil, fmt.Errorf("failed to store file: %w", err)
		}
		job.StoredPath = saved.Path
	}

	if err := o.store.Create(job); err != nil {
		return nil, err
	}
	o.record(job)

	o.logger.Info("ETL job created",
		logger.String("job_id", job.ID),
		logger.String("filename", job.SourceFile),
		logger.Int64("size", info.Size),
		logger.Bool("validateOnly", job.ValidateOnly),
	)

	o.wg.Add(1)
	go o.run(job.ID, req.Data)

	return job.Clone(), nil
}

// requireRows parses CSV uploads up front so a header-only or blank file is
// an input error instead of a failed job. Workbooks are left to the pipeline.
func (o *Orchestrator) requireRows(ctx context.Context, data []byte, filename string) error {
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return nil
	}
	if _, err := o.factory.Parse(ctx, data, filename); errors.Is(err, tabular.ErrNoData) {
		return err
	}
	return nil
}

// GetJob returns the in-memory job, falling back to the history mirror.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	if job, ok := o.store.Get(jobID); ok {
		return job, nil
	}
	if o.history != nil {
		job, err := o.history.Lookup(ctx, jobID)
		if err == nil {
			return job, nil
		}
		o.logger.Debug("Job history lookup missed",
			logger.String("job_id", jobID),
			logger.Error(err),
		)
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// ListJobs returns jobs newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	if filter.Limit <= 0 {
		filter.Limit = o.config.DefaultListLimit
	}
	return o.store.List(filter), nil
}

var errNotCancellable = errors.New("job is not cancellable")

// CancelJob marks a pending or processing job cancelled. It reports false
// for jobs that already reached loading or a terminal state.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) (bool, error) {
	job, err := o.store.Update(jobID, func(j *models.Job) error {
		if !j.Status.Cancellable() {
			return errNotCancellable
		}
		now := o.now()
		j.Status = models.JobStatusCancelled
		j.CompletedAt = &now
		j.CurrentStep = "cancelled"
		return nil
	})
	if errors.Is(err, errNotCancellable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	o.record(job)
	o.logger.Info("ETL job cancelled", logger.String("job_id", jobID))
	return true, nil
}

// ValidateBatch runs the quality checks synchronously.
func (o *Orchestrator) ValidateBatch(batch *models.RowBatch, label string) *models.ValidationResult {
	return o.validator.Validate(batch, label)
}

// ValidateSheets validates the named sheets of one file, or every sheet when
// sheetNames is empty. A requested sheet that does not exist gets an invalid
// result carrying data_summary.error.
func (o *Orchestrator) ValidateSheets(ctx context.Context, data []byte, filename string, sheetNames []string) (map[string]*models.ValidationResult, error) {
	if _, err := o.precheck.Validate(data, filename); err != nil {
		return nil, err
	}
	wb, err := o.factory.Parse(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	if len(sheetNames) == 0 {
		sheetNames = wb.Names()
	}

	results := make(map[string]*models.ValidationResult, len(sheetNames))
	for _, name := range sheetNames {
		sheet, ok := wb.Sheet(name)
		if !ok {
			results[name] = &models.ValidationResult{
				IsValid:     false,
				ErrorCount:  1,
				Issues:      []models.QualityIssue{},
				DataSummary: map[string]interface{}{"error": fmt.Sprintf("sheet not found: %s", name)},
			}
			continue
		}
		results[name] = o.validator.Validate(sheet, name)
	}

	o.logger.Info("Sheets validated",
		logger.String("filename", filename),
		logger.Int("sheets", len(results)),
	)
	return results, nil
}

// Inspect summarizes every sheet of a file without creating a job.
func (o *Orchestrator) Inspect(ctx context.Context, data []byte, filename string) ([]models.SheetSummary, error) {
	if _, err := o.precheck.Validate(data, filename); err != nil {
		return nil, err
	}
	return o.factory.Inspect(ctx, data, filename)
}

// Wait blocks until every started pipeline has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for running pipelines; when ctx expires first their
// contexts are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.stopJobs()
		<-done
		return ctx.Err()
	}
}

func (o *Orchestrator) record(job *models.Job) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.history.Record(ctx, job); err != nil {
		o.logger.Warn("Failed to mirror job",
			logger.String("job_id", job.ID),
			logger.Error(err),
		)
	}
}
