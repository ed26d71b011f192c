package job

import (
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
)

// DefaultVisibilityTimeout is the lease duration used when the
// submitter does not pick one.
const DefaultVisibilityTimeout = 5 * time.Minute

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is open in its queue's index, waiting
	// for a worker lease. The stake is escrowed.
	StatusPending Status = "pending"
	// StatusLeased means a worker holds a time-bounded exclusive claim.
	StatusLeased Status = "leased"
	// StatusCompleted means the lease holder submitted a result and the
	// job awaits the submitter's review.
	StatusCompleted Status = "completed"
	// StatusVerified means the submitter accepted the result and the
	// stake was paid to the worker. Terminal; deletable.
	StatusVerified Status = "verified"
	// StatusDeadLetter means the job exhausted its retry budget (or was
	// force-refunded) and the stake returned to the submitter.
	// Terminal; deletable.
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether no further lifecycle transition (other than
// delete) is permitted from this status.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusDeadLetter
}

// Job represents a posted unit of work with an attached monetary stake.
type Job struct {
	taskfair.Entity

	ID        id.JobID        `json:"id"`
	Queue     string          `json:"queue"`
	Payload   []byte          `json:"payload"`
	Stake     taskfair.Amount `json:"stake"`
	Submitter taskfair.Actor  `json:"submitter"`

	// Worker is the identity holding (or, for completed jobs, last
	// holding) the lease. Set iff Status is leased or completed.
	Worker taskfair.Actor `json:"worker,omitempty"`

	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`

	// Result is set by the worker on completion, cleared again on
	// rejection, and read by the submitter for review.
	Result []byte `json:"result,omitempty"`

	// LastError records the most recent failure message reported by a
	// worker via Fail.
	LastError string `json:"last_error,omitempty"`

	// VisibilityTimeout is the lease duration chosen at submission.
	VisibilityTimeout time.Duration `json:"visibility_timeout"`

	LeasedAt    *time.Time `json:"leased_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Deadline is LeasedAt + the lease's visibility timeout. Past it,
	// anyone may force the expiry-release path.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Expired reports whether the job holds a stale lease at the given time.
// Only leased jobs can be expired; the predicate is derived, never stored.
func (j *Job) Expired(now time.Time) bool {
	return j.Status == StatusLeased && j.Deadline != nil && !now.Before(*j.Deadline)
}

// Leasable reports whether the job is open for a new lease.
func (j *Job) Leasable() bool {
	return j.Status == StatusPending
}

// ClearLease drops the lease fields when a job reopens to pending.
func (j *Job) ClearLease() {
	j.Worker = ""
	j.Result = nil
	j.LeasedAt = nil
	j.CompletedAt = nil
	j.Deadline = nil
}
