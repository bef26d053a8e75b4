package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"demeter/internal/adapters/redis"
	"demeter/internal/jobs"
	"demeter/pkg/errors"
)

const jobKeyPrefix = "backfill:job:"

// JobStore persists backfill job state in Redis with a TTL, so progress is
// pollable across processes and stale jobs expire on their own
type JobStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ jobs.Store = (*JobStore)(nil)

// NewJobStore creates a Redis-backed job store
func NewJobStore(client *redis.Client, ttl time.Duration) *JobStore {
	return &JobStore{client: client, ttl: ttl}
}

func jobKey(id uuid.UUID) string {
	return fmt.Sprintf("%s%s", jobKeyPrefix, id)
}

func (s *JobStore) Create(ctx context.Context, job *jobs.Job) error {
	if err := s.client.Set(ctx, jobKey(job.ID), job, s.ttl); err != nil {
		return errors.Wrapf(err, "failed to store job %s", job.ID)
	}
	return nil
}

func (s *JobStore) Update(ctx context.Context, job *jobs.Job) error {
	// Updates refresh the TTL; a job is kept alive as long as it moves
	return s.Create(ctx, job)
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	var job jobs.Job
	if err := s.client.Get(ctx, jobKey(id), &job); err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, errors.Wrapf(errors.ErrJobNotFound, "job %s not found", id)
		}
		return nil, errors.Wrapf(err, "failed to load job %s", id)
	}
	return &job, nil
}
