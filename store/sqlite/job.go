package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// terminalStates is the SQL-side mirror of job.State.Terminal.
var terminalStates = []string{
	string(job.StateCanceled),
	string(job.StateCompleted),
	string(job.StateFailed),
}

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m, err := toJobModel(j)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return stoker.ErrJobAlreadyExists
		}
		return fmt.Errorf("stoker/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, taskID id.TaskID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", taskID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stoker.ErrJobNotFound
		}
		return nil, fmt.Errorf("stoker/sqlite: get job: %w", err)
	}
	return fromJobModel(m)
}

// ListJobs returns all job records in enqueue order.
func (s *Store) ListJobs(ctx context.Context) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Order("enqueued_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("stoker/sqlite: list jobs: %w", err)
	}
	return fromJobModels(models)
}

// ClaimJobs atomically claims up to limit of the oldest QUEUED jobs.
// SQLite serializes writers, so the UPDATE-over-subquery is a single
// atomic step and two concurrent claimers never share a job.
func (s *Store) ClaimJobs(ctx context.Context, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var models []jobModel
	err := s.db.NewRaw(`
		UPDATE stoker_jobs
		SET state = ?, worker_id = ?, started_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM stoker_jobs
			WHERE state = ?
			ORDER BY enqueued_at ASC, id ASC
			LIMIT ?
		)
		RETURNING *`,
		string(job.StateRunning), workerID.String(), now, now,
		string(job.StateQueued), limit,
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("stoker/sqlite: claim jobs: %w", err)
	}
	return fromJobModels(models)
}

// TransitionJob compare-and-sets the job's state.
func (s *Store) TransitionJob(ctx context.Context, taskID id.TaskID, from []job.State, to job.State) (*job.Job, error) {
	now := time.Now().UTC()

	placeholders := make([]string, len(from))
	args := make([]any, 0, len(from)+5)
	args = append(args, string(to), now)
	if to.Terminal() {
		args = append(args, now)
	} else {
		args = append(args, nil)
	}
	args = append(args, taskID.String())
	for i, f := range from {
		placeholders[i] = "?"
		args = append(args, string(f))
	}

	query := fmt.Sprintf(`
		UPDATE stoker_jobs
		SET state = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND state IN (%s)
		RETURNING *`,
		strings.Join(placeholders, ","),
	)

	m := new(jobModel)
	err := s.db.NewRaw(query, args...).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, s.missingOrInvalid(ctx, taskID)
		}
		return nil, fmt.Errorf("stoker/sqlite: transition job: %w", err)
	}
	return fromJobModel(m)
}

// FinalizeJob applies a terminal write, guarded so an already-terminal
// job is never overwritten.
func (s *Store) FinalizeJob(ctx context.Context, taskID id.TaskID, fin job.Finalization) (*job.Job, error) {
	now := time.Now().UTC()

	var progress any
	if fin.Progress != nil {
		progress = *fin.Progress
	}

	m := new(jobModel)
	err := s.db.NewRaw(`
		UPDATE stoker_jobs
		SET state = ?, exception = ?, traceback = ?,
		    progress = COALESCE(?, progress),
		    completed_at = ?, updated_at = ?
		WHERE id = ? AND state NOT IN (?, ?, ?)
		RETURNING *`,
		string(fin.State), fin.Exception, fin.Traceback,
		progress, now, now, taskID.String(),
		terminalStates[0], terminalStates[1], terminalStates[2],
	).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, s.missingOrInvalid(ctx, taskID)
		}
		return nil, fmt.Errorf("stoker/sqlite: finalize job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateProgress persists a progress fraction while the job is live.
func (s *Store) UpdateProgress(ctx context.Context, taskID id.TaskID, progress float64) error {
	res, err := s.db.NewUpdate().
		TableExpr("stoker_jobs").
		Set("progress = ?", progress).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", taskID.String()).
		Where("state IN (?, ?)", string(job.StateRunning), string(job.StateCanceling)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stoker/sqlite: update progress: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		// Discarded for a settled job; only an absent record is an error.
		if _, getErr := s.GetJob(ctx, taskID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// PruneJob deletes one terminal job record. The state guard rides on
// the DELETE itself; the follow-up read only classifies the miss.
func (s *Store) PruneJob(ctx context.Context, taskID id.TaskID) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			TableExpr("stoker_jobs").
			Where("id = ?", taskID.String()).
			Where("state IN (?, ?, ?)", terminalStates[0], terminalStates[1], terminalStates[2]).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("stoker/sqlite: prune job: %w", err)
		}
		rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
		if rows > 0 {
			return nil
		}

		exists, err := tx.NewSelect().
			TableExpr("stoker_jobs").
			Where("id = ?", taskID.String()).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("stoker/sqlite: prune job check: %w", err)
		}
		if exists {
			return stoker.ErrJobNotDone
		}
		return stoker.ErrJobNotFound
	})
}

// PruneJobs deletes every terminal job record.
func (s *Store) PruneJobs(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("stoker_jobs").
		Where("state IN (?, ?, ?)", terminalStates[0], terminalStates[1], terminalStates[2]).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("stoker/sqlite: prune jobs: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// FailUnfinished marks every non-terminal job FAILED with the given
// diagnostic.
func (s *Store) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		TableExpr("stoker_jobs").
		Set("state = ?", string(job.StateFailed)).
		Set("exception = ?", reason).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("state NOT IN (?, ?, ?)", terminalStates[0], terminalStates[1], terminalStates[2]).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("stoker/sqlite: fail unfinished: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// missingOrInvalid distinguishes a CAS miss from an absent record.
func (s *Store) missingOrInvalid(ctx context.Context, taskID id.TaskID) error {
	exists, err := s.db.NewSelect().
		TableExpr("stoker_jobs").
		Where("id = ?", taskID.String()).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("stoker/sqlite: state check: %w", err)
	}
	if exists {
		return stoker.ErrInvalidState
	}
	return stoker.ErrJobNotFound
}
