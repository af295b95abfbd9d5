// Package memory provides an in-memory job store for tests and
// single-process deployments that do not need durability. All
// operations are guarded by a single mutex, which also makes the
// claim/CAS operations trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// Store is an in-memory implementation of job.Store.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*job.Job
	closed bool
}

var _ job.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// CreateJob implements job.Store.
func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stoker.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return stoker.ErrJobAlreadyExists
	}
	s.jobs[key] = j.Clone()
	return nil
}

// GetJob implements job.Store.
func (s *Store) GetJob(_ context.Context, taskID id.TaskID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, stoker.ErrStoreClosed
	}

	j, ok := s.jobs[taskID.String()]
	if !ok {
		return nil, stoker.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListJobs implements job.Store.
func (s *Store) ListJobs(_ context.Context) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, stoker.ErrStoreClosed
	}

	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].EnqueuedAt.Equal(out[k].EnqueuedAt) {
			return out[i].ID.String() < out[k].ID.String()
		}
		return out[i].EnqueuedAt.Before(out[k].EnqueuedAt)
	})
	return out, nil
}

// ClaimJobs implements job.Store. The store mutex makes the scan and
// the state flips one atomic step, so concurrent claimers never share
// a job.
func (s *Store) ClaimJobs(_ context.Context, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, stoker.ErrStoreClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	queued := make([]*job.Job, 0)
	for _, j := range s.jobs {
		if j.State == job.StateQueued {
			queued = append(queued, j)
		}
	}
	sort.Slice(queued, func(i, k int) bool {
		if queued[i].EnqueuedAt.Equal(queued[k].EnqueuedAt) {
			return queued[i].ID.String() < queued[k].ID.String()
		}
		return queued[i].EnqueuedAt.Before(queued[k].EnqueuedAt)
	})
	if len(queued) > limit {
		queued = queued[:limit]
	}

	now := time.Now().UTC()
	claimed := make([]*job.Job, 0, len(queued))
	for _, j := range queued {
		j.State = job.StateRunning
		j.WorkerID = workerID
		started := now
		j.StartedAt = &started
		j.UpdatedAt = now
		claimed = append(claimed, j.Clone())
	}
	return claimed, nil
}

// TransitionJob implements job.Store.
func (s *Store) TransitionJob(_ context.Context, taskID id.TaskID, from []job.State, to job.State) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, stoker.ErrStoreClosed
	}

	j, ok := s.jobs[taskID.String()]
	if !ok {
		return nil, stoker.ErrJobNotFound
	}

	matched := false
	for _, f := range from {
		if j.State == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, stoker.ErrInvalidState
	}

	now := time.Now().UTC()
	j.State = to
	j.UpdatedAt = now
	if to.Terminal() {
		completed := now
		j.CompletedAt = &completed
	}
	return j.Clone(), nil
}

// FinalizeJob implements job.Store.
func (s *Store) FinalizeJob(_ context.Context, taskID id.TaskID, fin job.Finalization) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, stoker.ErrStoreClosed
	}

	j, ok := s.jobs[taskID.String()]
	if !ok {
		return nil, stoker.ErrJobNotFound
	}
	if j.State.Terminal() {
		return nil, stoker.ErrInvalidState
	}

	now := time.Now().UTC()
	j.State = fin.State
	j.Exception = fin.Exception
	j.Traceback = fin.Traceback
	if fin.Progress != nil {
		j.Progress = *fin.Progress
	}
	j.UpdatedAt = now
	completed := now
	j.CompletedAt = &completed
	return j.Clone(), nil
}

// UpdateProgress implements job.Store.
func (s *Store) UpdateProgress(_ context.Context, taskID id.TaskID, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stoker.ErrStoreClosed
	}

	j, ok := s.jobs[taskID.String()]
	if !ok {
		return stoker.ErrJobNotFound
	}
	if j.State != job.StateRunning && j.State != job.StateCanceling {
		return nil
	}
	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// PruneJob implements job.Store.
func (s *Store) PruneJob(_ context.Context, taskID id.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stoker.ErrStoreClosed
	}

	j, ok := s.jobs[taskID.String()]
	if !ok {
		return stoker.ErrJobNotFound
	}
	if !j.State.Terminal() {
		return stoker.ErrJobNotDone
	}
	delete(s.jobs, taskID.String())
	return nil
}

// PruneJobs implements job.Store.
func (s *Store) PruneJobs(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, stoker.ErrStoreClosed
	}

	var removed int64
	for key, j := range s.jobs {
		if j.State.Terminal() {
			delete(s.jobs, key)
			removed++
		}
	}
	return removed, nil
}

// FailUnfinished implements job.Store.
func (s *Store) FailUnfinished(_ context.Context, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, stoker.ErrStoreClosed
	}

	now := time.Now().UTC()
	var settled int64
	for _, j := range s.jobs {
		if j.State.Terminal() {
			continue
		}
		j.State = job.StateFailed
		j.Exception = reason
		j.UpdatedAt = now
		completed := now
		j.CompletedAt = &completed
		settled++
	}
	return settled, nil
}

// Migrate implements job.Store. No-op for the in-memory backend.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping implements job.Store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stoker.ErrStoreClosed
	}
	return nil
}

// Close implements job.Store. Subsequent operations return
// stoker.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
