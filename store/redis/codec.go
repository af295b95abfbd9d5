package redisstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// jobToFields flattens a job record into HSET field/value pairs.
func jobToFields(j *job.Job) ([]any, error) {
	var metadata string
	if len(j.Metadata) > 0 {
		data, err := json.Marshal(j.Metadata)
		if err != nil {
			return nil, fmt.Errorf("stoker/redis: marshal metadata for %s: %w", j.ID, err)
		}
		metadata = string(data)
	}

	var workerID string
	if !j.WorkerID.IsNil() {
		workerID = j.WorkerID.String()
	}

	return []any{
		"id", j.ID.String(),
		"name", j.Name,
		"payload", string(j.Payload),
		"state", string(j.State),
		"progress", strconv.FormatFloat(j.Progress, 'f', -1, 64),
		"cancellable", boolField(j.Cancellable),
		"track_progress", boolField(j.TrackProgress),
		"exception", j.Exception,
		"traceback", j.Traceback,
		"metadata", metadata,
		"worker_id", workerID,
		"enqueued_at", j.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		"enqueued_score", strconv.FormatInt(j.EnqueuedAt.UTC().UnixNano(), 10),
		"started_at", timeField(j.StartedAt),
		"completed_at", timeField(j.CompletedAt),
		"created_at", j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at", j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// fieldsToJob rebuilds a job record from a HGETALL result.
func fieldsToJob(fields map[string]string) (*job.Job, error) {
	taskID, err := id.ParseTaskID(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: parse task id %q: %w", fields["id"], err)
	}

	var workerID id.WorkerID
	if raw := fields["worker_id"]; raw != "" {
		if workerID, err = id.ParseWorkerID(raw); err != nil {
			return nil, fmt.Errorf("stoker/redis: parse worker id %q: %w", raw, err)
		}
	}

	var metadata map[string]any
	if raw := fields["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("stoker/redis: unmarshal metadata for %s: %w", fields["id"], err)
		}
	}

	progress, err := strconv.ParseFloat(fields["progress"], 64)
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: parse progress %q: %w", fields["progress"], err)
	}

	enqueuedAt, err := parseTime(fields["enqueued_at"])
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: parse enqueued_at: %w", err)
	}
	createdAt, err := parseTime(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: parse created_at: %w", err)
	}
	updatedAt, err := parseTime(fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: parse updated_at: %w", err)
	}
	startedAt, err := parseTimePtr(fields["started_at"])
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: parse started_at: %w", err)
	}
	completedAt, err := parseTimePtr(fields["completed_at"])
	if err != nil {
		return nil, fmt.Errorf("stoker/redis: parse completed_at: %w", err)
	}

	var payload []byte
	if raw := fields["payload"]; raw != "" {
		payload = []byte(raw)
	}

	return &job.Job{
		Entity: stoker.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:            taskID,
		Name:          fields["name"],
		Payload:       payload,
		State:         job.State(fields["state"]),
		Progress:      progress,
		Cancellable:   fields["cancellable"] == "1",
		TrackProgress: fields["track_progress"] == "1",
		Exception:     fields["exception"],
		Traceback:     fields["traceback"],
		Metadata:      metadata,
		WorkerID:      workerID,
		EnqueuedAt:    enqueuedAt,
		StartedAt:     startedAt,
		CompletedAt:   completedAt,
	}, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func parseTimePtr(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
