package event

import (
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
)

// Kind names a lifecycle transition. The engine emits exactly one event
// per transition; dashboards subscribe to these instead of polling.
type Kind string

const (
	KindSubmitted      Kind = "job.submitted"
	KindLeased         Kind = "job.leased"
	KindCompleted      Kind = "job.completed"
	KindVerified       Kind = "job.verified"
	KindRejected       Kind = "job.rejected"
	KindRetried        Kind = "job.retried"
	KindDeadLettered   Kind = "job.dead_lettered"
	KindExpiredRelease Kind = "job.expired_released"
	KindRefunded       Kind = "job.refunded"
	KindDeleted        Kind = "job.deleted"
)

// Financial reports whether events of this kind carry a moved amount.
func (k Kind) Financial() bool {
	switch k {
	case KindSubmitted, KindVerified, KindDeadLettered, KindRefunded:
		return true
	}
	return false
}

// Event is a single lifecycle notification. Amount is set only for
// financial kinds (the stake deposited, paid, or refunded).
type Event struct {
	ID      id.EventID      `json:"id"`
	Kind    Kind            `json:"kind"`
	JobID   id.JobID        `json:"job_id"`
	Queue   string          `json:"queue"`
	Actor   taskfair.Actor  `json:"actor"`
	Amount  taskfair.Amount `json:"amount,omitempty"`
	Payload []byte          `json:"payload,omitempty"`
	Acked   bool            `json:"acked"`

	CreatedAt time.Time `json:"created_at"`
}
