package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"demeter/pkg/errors"
)

// MemoryStore is an in-process job store for single-instance deployments and
// tests
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]Job
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return errors.Wrapf(errors.ErrJobNotFound, "job %s not found", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "job %s not found", id)
	}
	out := job
	return &out, nil
}
