package sqlitestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:stoker_jobs"`

	ID            string     `bun:"id,pk"`
	Name          string     `bun:"name,notnull"`
	Payload       []byte     `bun:"payload"`
	State         string     `bun:"state,notnull,default:'SCHEDULED'"`
	Progress      float64    `bun:"progress,notnull,default:0"`
	Cancellable   bool       `bun:"cancellable,notnull,default:false"`
	TrackProgress bool       `bun:"track_progress,notnull,default:false"`
	Exception     string     `bun:"exception,notnull,default:''"`
	Traceback     string     `bun:"traceback,notnull,default:''"`
	Metadata      string     `bun:"metadata,notnull,default:''"`
	WorkerID      string     `bun:"worker_id,notnull,default:''"`
	EnqueuedAt    time.Time  `bun:"enqueued_at,notnull"`
	StartedAt     *time.Time `bun:"started_at"`
	CompletedAt   *time.Time `bun:"completed_at"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) (*jobModel, error) {
	var metadata string
	if len(j.Metadata) > 0 {
		data, err := json.Marshal(j.Metadata)
		if err != nil {
			return nil, fmt.Errorf("stoker/sqlite: marshal metadata for %s: %w", j.ID, err)
		}
		metadata = string(data)
	}

	var workerID string
	if !j.WorkerID.IsNil() {
		workerID = j.WorkerID.String()
	}

	return &jobModel{
		ID:            j.ID.String(),
		Name:          j.Name,
		Payload:       j.Payload,
		State:         string(j.State),
		Progress:      j.Progress,
		Cancellable:   j.Cancellable,
		TrackProgress: j.TrackProgress,
		Exception:     j.Exception,
		Traceback:     j.Traceback,
		Metadata:      metadata,
		WorkerID:      workerID,
		EnqueuedAt:    j.EnqueuedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}, nil
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	taskID, err := id.ParseTaskID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("stoker/sqlite: parse task id %q: %w", m.ID, err)
	}

	var workerID id.WorkerID
	if m.WorkerID != "" {
		if workerID, err = id.ParseWorkerID(m.WorkerID); err != nil {
			return nil, fmt.Errorf("stoker/sqlite: parse worker id %q: %w", m.WorkerID, err)
		}
	}

	var metadata map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("stoker/sqlite: unmarshal metadata for %s: %w", m.ID, err)
		}
	}

	return &job.Job{
		Entity: stoker.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            taskID,
		Name:          m.Name,
		Payload:       m.Payload,
		State:         job.State(m.State),
		Progress:      m.Progress,
		Cancellable:   m.Cancellable,
		TrackProgress: m.TrackProgress,
		Exception:     m.Exception,
		Traceback:     m.Traceback,
		Metadata:      metadata,
		WorkerID:      workerID,
		EnqueuedAt:    m.EnqueuedAt,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
	}, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
