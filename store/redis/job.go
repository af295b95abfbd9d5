package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// Multi-step writes run as Lua scripts so that the read-check-write of
// each operation is atomic against other server processes. Job hash
// keys are derived inside the scripts from the shared prefix, which
// pins all stoker keys to one hash slot owner in non-clustered Redis.

// createScript inserts the job hash and indexes it, rejecting
// duplicates. KEYS: job, jobs index, queue. ARGV: id, score, state,
// then field/value pairs.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'exists'
end
for i = 4, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
if ARGV[3] == 'QUEUED' then
  redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
end
return 'ok'
`)

// claimScript pops up to limit of the oldest queued ids and stamps
// their hashes RUNNING. KEYS: queue. ARGV: limit, job key prefix,
// worker id, now, running state.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
if #ids == 0 then
  return ids
end
redis.call('ZREM', KEYS[1], unpack(ids))
for _, id in ipairs(ids) do
  redis.call('HSET', ARGV[2] .. id,
    'state', ARGV[5], 'worker_id', ARGV[3],
    'started_at', ARGV[4], 'updated_at', ARGV[4])
end
return ids
`)

// transitionScript compare-and-sets the state field, maintaining the
// claim queue index: a job promoted into QUEUED is indexed by its
// enqueue-time score, a job leaving QUEUED is removed. KEYS: job,
// queue. ARGV: id, to, now, completed_at (empty unless terminal), then
// the accepted from-states.
var transitionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'missing'
end
local state = redis.call('HGET', KEYS[1], 'state')
local ok = false
for i = 5, #ARGV do
  if state == ARGV[i] then
    ok = true
    break
  end
end
if not ok then
  return 'invalid'
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'updated_at', ARGV[3])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'completed_at', ARGV[4])
end
if state == 'QUEUED' and ARGV[2] ~= 'QUEUED' then
  redis.call('ZREM', KEYS[2], ARGV[1])
end
if ARGV[2] == 'QUEUED' and state ~= 'QUEUED' then
  local score = tonumber(redis.call('HGET', KEYS[1], 'enqueued_score')) or 0
  redis.call('ZADD', KEYS[2], score, ARGV[1])
end
return 'ok'
`)

// finalizeScript applies a terminal write unless the job has already
// settled. KEYS: job, queue. ARGV: id, state, exception, traceback,
// progress (empty keeps the stored value), now.
var finalizeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'missing'
end
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'CANCELED' or state == 'COMPLETED' or state == 'FAILED' then
  return 'invalid'
end
redis.call('HSET', KEYS[1],
  'state', ARGV[2], 'exception', ARGV[3], 'traceback', ARGV[4],
  'completed_at', ARGV[6], 'updated_at', ARGV[6])
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], 'progress', ARGV[5])
end
if state == 'QUEUED' then
  redis.call('ZREM', KEYS[2], ARGV[1])
end
return 'ok'
`)

// progressScript writes the fraction only while the job is live.
// KEYS: job. ARGV: progress, now.
var progressScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'missing'
end
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'RUNNING' and state ~= 'CANCELING' then
  return 'skip'
end
redis.call('HSET', KEYS[1], 'progress', ARGV[1], 'updated_at', ARGV[2])
return 'ok'
`)

// pruneScript deletes one settled record and drops it from the
// indexes. KEYS: job, jobs index, queue. ARGV: id.
var pruneScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'missing'
end
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'CANCELED' and state ~= 'COMPLETED' and state ~= 'FAILED' then
  return 'live'
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
return 'ok'
`)

// failScript settles one unfinished record as FAILED, returning 1 when
// it changed anything. KEYS: job, queue. ARGV: id, reason, now.
var failScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'CANCELED' or state == 'COMPLETED' or state == 'FAILED' then
  return 0
end
redis.call('HSET', KEYS[1],
  'state', 'FAILED', 'exception', ARGV[2], 'completed_at', ARGV[3], 'updated_at', ARGV[3])
if state == 'QUEUED' then
  redis.call('ZREM', KEYS[2], ARGV[1])
end
return 1
`)

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	fields, err := jobToFields(j)
	if err != nil {
		return err
	}

	score := float64(j.EnqueuedAt.UTC().UnixNano())
	args := make([]any, 0, len(fields)+3)
	args = append(args, j.ID.String(), score, string(j.State))
	args = append(args, fields...)

	res, err := createScript.Run(ctx, s.client,
		[]string{jobKey(j.ID.String()), jobsKey, queueKey}, args...).Text()
	if err != nil {
		return fmt.Errorf("stoker/redis: create job: %w", err)
	}
	if res == "exists" {
		return stoker.ErrJobAlreadyExists
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, taskID id.TaskID) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(taskID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, stoker.ErrJobNotFound
	}
	return fieldsToJob(fields)
}

// ListJobs returns all job records in enqueue order.
func (s *Store) ListJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.ZRange(ctx, jobsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, rawID := range ids {
		fields, err := s.client.HGetAll(ctx, jobKey(rawID)).Result()
		if err != nil {
			return nil, fmt.Errorf("stoker/redis: list jobs: %w", err)
		}
		if len(fields) == 0 {
			// Pruned between the index read and the hash read.
			continue
		}
		j, err := fieldsToJob(fields)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ClaimJobs atomically claims up to limit of the oldest QUEUED jobs.
func (s *Store) ClaimJobs(ctx context.Context, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ids, err := claimScript.Run(ctx, s.client, []string{queueKey},
		limit, jobKeyPrefix, workerID.String(), now, string(job.StateRunning)).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: claim jobs: %w", err)
	}

	claimed := make([]*job.Job, 0, len(ids))
	for _, rawID := range ids {
		fields, err := s.client.HGetAll(ctx, jobKey(rawID)).Result()
		if err != nil {
			return nil, fmt.Errorf("stoker/redis: claim jobs: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		j, err := fieldsToJob(fields)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// TransitionJob compare-and-sets the job's state.
func (s *Store) TransitionJob(ctx context.Context, taskID id.TaskID, from []job.State, to job.State) (*job.Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var completedAt string
	if to.Terminal() {
		completedAt = now
	}

	args := make([]any, 0, len(from)+4)
	args = append(args, taskID.String(), string(to), now, completedAt)
	for _, f := range from {
		args = append(args, string(f))
	}

	res, err := transitionScript.Run(ctx, s.client,
		[]string{jobKey(taskID.String()), queueKey}, args...).Text()
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: transition job: %w", err)
	}
	switch res {
	case "missing":
		return nil, stoker.ErrJobNotFound
	case "invalid":
		return nil, stoker.ErrInvalidState
	}
	return s.GetJob(ctx, taskID)
}

// FinalizeJob applies a terminal write, guarded so an already-terminal
// job is never overwritten.
func (s *Store) FinalizeJob(ctx context.Context, taskID id.TaskID, fin job.Finalization) (*job.Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var progress string
	if fin.Progress != nil {
		progress = fmt.Sprintf("%g", *fin.Progress)
	}

	res, err := finalizeScript.Run(ctx, s.client,
		[]string{jobKey(taskID.String()), queueKey},
		taskID.String(), string(fin.State), fin.Exception, fin.Traceback, progress, now).Text()
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: finalize job: %w", err)
	}
	switch res {
	case "missing":
		return nil, stoker.ErrJobNotFound
	case "invalid":
		return nil, stoker.ErrInvalidState
	}
	return s.GetJob(ctx, taskID)
}

// UpdateProgress persists a progress fraction while the job is live.
// A write against a settled job is discarded, not an error.
func (s *Store) UpdateProgress(ctx context.Context, taskID id.TaskID, progress float64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := progressScript.Run(ctx, s.client,
		[]string{jobKey(taskID.String())},
		fmt.Sprintf("%g", progress), now).Text()
	if err != nil {
		return fmt.Errorf("stoker/redis: update progress: %w", err)
	}
	if res == "missing" {
		return stoker.ErrJobNotFound
	}
	return nil
}

// PruneJob deletes one terminal job record.
func (s *Store) PruneJob(ctx context.Context, taskID id.TaskID) error {
	res, err := pruneScript.Run(ctx, s.client,
		[]string{jobKey(taskID.String()), jobsKey, queueKey},
		taskID.String()).Text()
	if err != nil {
		return fmt.Errorf("stoker/redis: prune job: %w", err)
	}
	switch res {
	case "missing":
		return stoker.ErrJobNotFound
	case "live":
		return stoker.ErrJobNotDone
	}
	return nil
}

// PruneJobs deletes every terminal job record.
func (s *Store) PruneJobs(ctx context.Context) (int64, error) {
	ids, err := s.client.ZRange(ctx, jobsKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("stoker/redis: prune jobs: %w", err)
	}

	var removed int64
	for _, rawID := range ids {
		res, err := pruneScript.Run(ctx, s.client,
			[]string{jobKey(rawID), jobsKey, queueKey}, rawID).Text()
		if err != nil {
			return removed, fmt.Errorf("stoker/redis: prune jobs: %w", err)
		}
		if res == "ok" {
			removed++
		}
	}
	return removed, nil
}

// FailUnfinished marks every non-terminal job FAILED with the given
// diagnostic.
func (s *Store) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	ids, err := s.client.ZRange(ctx, jobsKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("stoker/redis: fail unfinished: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var settled int64
	for _, rawID := range ids {
		n, err := failScript.Run(ctx, s.client,
			[]string{jobKey(rawID), queueKey}, rawID, reason, now).Int64()
		if err != nil {
			return settled, fmt.Errorf("stoker/redis: fail unfinished: %w", err)
		}
		settled += n
	}
	return settled, nil
}
