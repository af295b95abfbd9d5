package schedule

import (
	"time"

	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// Entry is one recurring schedule: a cron expression bound to a
// registered task name. Entries live in process memory; they are
// re-registered at startup, not persisted.
type Entry struct {
	ID       id.ScheduleID `json:"id"`
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	TaskName string        `json:"task_name"`
	Payload  any           `json:"payload,omitempty"`
	Enabled  bool          `json:"enabled"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// Options are applied to every job this entry enqueues.
	Options []job.Option `json:"-"`
}
