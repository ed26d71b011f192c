package dlq

import (
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
)

// Entry represents a job that was dead-lettered, with the refund that
// resolved its stake.
type Entry struct {
	ID        id.DLQID        `json:"id"`
	JobID     id.JobID        `json:"job_id"`
	Queue     string          `json:"queue"`
	Payload   []byte          `json:"payload"`
	Stake     taskfair.Amount `json:"stake"`
	Submitter taskfair.Actor  `json:"submitter"`

	// Cause is the last failure message, or the admin's reason on the
	// forced-refund path.
	Cause    string `json:"cause"`
	Attempts int    `json:"attempts"`

	// RefundReceipt links to the closed escrow receipt proving the
	// submitter was refunded exactly once.
	RefundReceipt id.ReceiptID `json:"refund_receipt"`

	FailedAt      time.Time  `json:"failed_at"`
	ResubmittedAt *time.Time `json:"resubmitted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
