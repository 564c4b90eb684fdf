package etl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// errCancelled stops the pipeline once the job was cancelled.
var errCancelled = errors.New("job cancelled")

// Pipeline steps and their progress percentages.
const (
	stepReading    = "reading file"
	stepValidating = "validating"
	stepStaging    = "staging rows"
	stepDimensions = "resolving dimensions"
	stepFacts      = "loading facts"
	stepCleanup    = "cleaning up staging"
	stepDone       = "completed"
)

var stepProgress = map[string]float64{
	stepReading:    10,
	stepValidating: 20,
	stepStaging:    50,
	stepDimensions: 70,
	stepFacts:      85,
	stepCleanup:    95,
	stepDone:       100,
}

// run is the single boundary that turns any error or panic into a failed job.
func (o *Orchestrator) run(jobID string, data []byte) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(o.baseCtx, o.config.ProcessTimeout)
	defer cancel()
	ctx = logger.WithJobID(ctx, jobID)
	log := logger.FromContext(ctx, o.logger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("ETL pipeline panicked",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			o.fail(jobID, fmt.Errorf("internal error: %v", r))
		}
	}()

	start := time.Now()
	err := o.process(ctx, jobID, data, log)
	switch {
	case errors.Is(err, errCancelled):
		log.Info("ETL pipeline stopped after cancel")
	case err != nil:
		log.Error("ETL job failed", logger.Error(err), logger.Duration("elapsed", time.Since(start)))
		o.fail(jobID, err)
	default:
		log.Info("ETL pipeline finished", logger.Duration("elapsed", time.Since(start)))
	}
}

func (o *Orchestrator) process(ctx context.Context, jobID string, data []byte, log logger.Logger) error {
	job, err := o.transition(jobID, func(j *models.Job) {
		now := o.now()
		j.Status = models.JobStatusProcessing
		j.StartedAt = &now
	})
	if err != nil {
		return err
	}
	if err := o.progress(jobID, stepReading, log); err != nil {
		return err
	}

	wb, err := o.factory.Parse(ctx, data, job.SourceFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", job.SourceFile, err)
	}
	batch, ok := wb.Select(job.SheetName)
	if !ok {
		return fmt.Errorf("no sheet available in %s", job.SourceFile)
	}
	if job.SheetName != "" && batch.Name != job.SheetName {
		log.Warn("Requested sheet not found, using first sheet",
			logger.String("requested", job.SheetName),
			logger.String("sheet", batch.Name),
		)
	}

	if _, err := o.transition(jobID, func(j *models.Job) {
		j.Status = models.JobStatusValidating
		j.SheetName = batch.Name
	}); err != nil {
		return err
	}
	if err := o.progress(jobID, stepValidating, log); err != nil {
		return err
	}

	result := o.validator.Validate(batch, batch.Name)
	log.Info("Validation finished",
		logger.String("sheet", batch.Name),
		logger.Int("totalRecords", result.TotalRecords),
		logger.Int("errors", result.ErrorCount),
		logger.Int("warnings", result.WarningCount),
	)

	if !result.IsValid {
		_, err := o.transition(jobID, func(j *models.Job) {
			now := o.now()
			j.ValidationResult = result
			j.Status = models.JobStatusFailed
			j.ErrorMessage = fmt.Sprintf("validation failed: %d errors", result.ErrorCount)
			j.CompletedAt = &now
		})
		return err
	}
	if job.ValidateOnly {
		_, err := o.transition(jobID, func(j *models.Job) {
			now := o.now()
			j.ValidationResult = result
			j.Status = models.JobStatusCompleted
			j.Progress = stepProgress[stepDone]
			j.CurrentStep = stepDone
			j.CompletedAt = &now
		})
		return err
	}

	// Cancel is no longer honoured once the job enters loading.
	sourceTag := o.sourceTag(job)
	if _, err := o.transition(jobID, func(j *models.Job) {
		j.ValidationResult = result
		j.Status = models.JobStatusLoading
		j.SourceTag = sourceTag
	}); err != nil {
		return err
	}

	return o.load(ctx, jobID, job, batch, sourceTag, log)
}

func (o *Orchestrator) load(ctx context.Context, jobID string, job *models.Job, batch *models.RowBatch, sourceTag string, log logger.Logger) error {
	_ = o.progress(jobID, stepStaging, log)
	staged, err := o.stager.Stage(ctx, batch, sourceTag)
	o.update(jobID, func(j *models.Job) {
		j.RowsProcessed = staged
		j.RowsSkipped = batch.Len() - staged
	})
	if err != nil {
		return err
	}
	if staged == 0 {
		return ErrNothingStaged
	}

	_ = o.progress(jobID, stepDimensions, log)
	counts, err := o.resolver.ResolveAll(ctx, sourceTag)
	if err != nil {
		return err
	}
	o.update(jobID, func(j *models.Job) {
		j.RowsUpdated = counts.Products + counts.Locations + counts.Lots
	})

	_ = o.progress(jobID, stepFacts, log)
	targetDate, err := o.targetDate(job.TargetDate)
	if err != nil {
		return err
	}
	inserted, err := o.facts.LoadFacts(ctx, sourceTag, targetDate)
	o.update(jobID, func(j *models.Job) {
		j.RowsInserted = inserted
		j.TargetDate = targetDate.Format(TargetDateLayout)
	})
	if err != nil {
		return err
	}

	_ = o.progress(jobID, stepCleanup, log)
	if err := o.stager.Cleanup(context.WithoutCancel(ctx), sourceTag); err != nil {
		log.Warn("Staging cleanup failed", logger.String("sourceTag", sourceTag), logger.Error(err))
	}

	o.update(jobID, func(j *models.Job) {
		now := o.now()
		j.Status = models.JobStatusCompleted
		j.Progress = stepProgress[stepDone]
		j.CurrentStep = stepDone
		j.CompletedAt = &now
	})
	log.Info("ETL job completed",
		logger.Int("rowsProcessed", staged),
		logger.Int("rowsInserted", inserted),
		logger.Int("products", counts.Products),
		logger.Int("locations", counts.Locations),
		logger.Int("lots", counts.Lots),
	)
	return nil
}

// transition applies fn unless the job has been cancelled.
func (o *Orchestrator) transition(jobID string, fn func(*models.Job)) (*models.Job, error) {
	job, err := o.store.Update(jobID, func(j *models.Job) error {
		if j.Status == models.JobStatusCancelled {
			return errCancelled
		}
		fn(j)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.record(job)
	return job, nil
}

// update changes a loading job; cancel cannot interrupt it.
func (o *Orchestrator) update(jobID string, fn func(*models.Job)) {
	if _, err := o.transition(jobID, fn); err != nil {
		o.logger.Warn("Job update skipped", logger.String("job_id", jobID), logger.Error(err))
	}
}

func (o *Orchestrator) progress(jobID, step string, log logger.Logger) error {
	pct := stepProgress[step]
	_, err := o.transition(jobID, func(j *models.Job) {
		j.Progress = pct
		j.CurrentStep = step
	})
	if err == nil {
		log.Info("ETL progress", logger.Float64("progress", pct), logger.String("step", step))
	}
	return err
}

func (o *Orchestrator) fail(jobID string, cause error) {
	job, err := o.store.Update(jobID, func(j *models.Job) error {
		if j.Status.IsTerminal() {
			return errCancelled
		}
		now := o.now()
		j.Status = models.JobStatusFailed
		j.ErrorMessage = cause.Error()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return
	}
	o.record(job)
}

// sourceTag is unique per submission: filename, timestamp and job id.
func (o *Orchestrator) sourceTag(job *models.Job) string {
	name := strings.TrimSuffix(filepath.Base(job.SourceFile), filepath.Ext(job.SourceFile))
	return fmt.Sprintf("%s_%s_%s", name, o.now().Format("20060102_150405"), job.ID[:8])
}

func (o *Orchestrator) targetDate(s string) (time.Time, error) {
	if s == "" {
		now := o.now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(TargetDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTargetDate, s)
	}
	return t, nil
}
