package etl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/feichai0017/inventory-etl/internal/models"
)

// JobStore holds the authoritative job records. Get and List return copies;
// the only way to change a stored job is Update.
type JobStore interface {
	Create(job *models.Job) error
	Get(jobID string) (*models.Job, bool)
	// Update applies fn to the stored job under the store's lock and
	// returns a copy of the result. An error from fn leaves the job unchanged.
	Update(jobID string, fn func(*models.Job) error) (*models.Job, error)
	List(filter models.JobFilter) []*models.Job
}

// HistoryRecorder mirrors job snapshots to a secondary store.
type HistoryRecorder interface {
	Record(ctx context.Context, job *models.Job) error
	Lookup(ctx context.Context, jobID string) (*models.Job, error)
}

// MemoryStore 内存中的任务表
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) Create(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(jobID string) (*models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

func (s *MemoryStore) Update(jobID string, fn func(*models.Job) error) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	next := job.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[jobID] = next
	return next.Clone(), nil
}

// List returns matching jobs newest first. Limit <= 0 returns all.
func (s *MemoryStore) List(filter models.JobFilter) []*models.Job {
	s.mu.RLock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}
