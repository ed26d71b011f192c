package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/event"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/treasury"
	"github.com/taskfair/taskfair/worker"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:taskfair_jobs"`

	ID                string     `bun:"id,pk"`
	Queue             string     `bun:"queue,notnull"`
	Payload           []byte     `bun:"payload,notnull,type:bytea"`
	Stake             int64      `bun:"stake,notnull"`
	Submitter         string     `bun:"submitter,notnull"`
	Worker            string     `bun:"worker"`
	Status            string     `bun:"status,notnull,default:'pending'"`
	Attempts          int        `bun:"attempts,notnull,default:0"`
	Result            []byte     `bun:"result,type:bytea"`
	LastError         string     `bun:"last_error"`
	VisibilityTimeout int64      `bun:"visibility_timeout,notnull"`
	LeasedAt          *time.Time `bun:"leased_at"`
	CompletedAt       *time.Time `bun:"completed_at"`
	Deadline          *time.Time `bun:"deadline"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:                j.ID.String(),
		Queue:             j.Queue,
		Payload:           j.Payload,
		Stake:             int64(j.Stake),
		Submitter:         string(j.Submitter),
		Worker:            string(j.Worker),
		Status:            string(j.Status),
		Attempts:          j.Attempts,
		Result:            j.Result,
		LastError:         j.LastError,
		VisibilityTimeout: j.VisibilityTimeout.Nanoseconds(),
		LeasedAt:          j.LeasedAt,
		CompletedAt:       j.CompletedAt,
		Deadline:          j.Deadline,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: taskfair.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                parsedID,
		Queue:             m.Queue,
		Payload:           m.Payload,
		Stake:             taskfair.Amount(m.Stake),
		Submitter:         taskfair.Actor(m.Submitter),
		Worker:            taskfair.Actor(m.Worker),
		Status:            job.Status(m.Status),
		Attempts:          m.Attempts,
		Result:            m.Result,
		LastError:         m.LastError,
		VisibilityTimeout: time.Duration(m.VisibilityTimeout),
		LeasedAt:          m.LeasedAt,
		CompletedAt:       m.CompletedAt,
		Deadline:          m.Deadline,
	}, nil
}

// ── Worker subscription model ─────────────────────────────────────

type subscriptionModel struct {
	bun.BaseModel `bun:"table:taskfair_subscriptions"`

	ID                string    `bun:"id,pk"`
	Actor             string    `bun:"actor,notnull,unique"`
	Queues            []string  `bun:"queues,array"`
	BatchSize         int       `bun:"batch_size,notnull,default:1"`
	VisibilityTimeout int64     `bun:"visibility_timeout,notnull,default:0"`
	LastSeen          time.Time `bun:"last_seen,notnull,default:current_timestamp"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toSubscriptionModel(sub *worker.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                sub.ID.String(),
		Actor:             string(sub.Actor),
		Queues:            sub.Queues,
		BatchSize:         sub.BatchSize,
		VisibilityTimeout: sub.VisibilityTimeout.Nanoseconds(),
		LastSeen:          sub.LastSeen,
		CreatedAt:         sub.CreatedAt,
		UpdatedAt:         sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*worker.Subscription, error) {
	parsedID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: parse worker id %q: %w", m.ID, err)
	}

	return &worker.Subscription{
		Entity: taskfair.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                parsedID,
		Actor:             taskfair.Actor(m.Actor),
		Queues:            m.Queues,
		BatchSize:         m.BatchSize,
		VisibilityTimeout: time.Duration(m.VisibilityTimeout),
		LastSeen:          m.LastSeen,
	}, nil
}

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:taskfair_dlq"`

	ID            string     `bun:"id,pk"`
	JobID         string     `bun:"job_id,notnull"`
	Queue         string     `bun:"queue,notnull"`
	Payload       []byte     `bun:"payload,notnull,type:bytea"`
	Stake         int64      `bun:"stake,notnull"`
	Submitter     string     `bun:"submitter,notnull"`
	Cause         string     `bun:"cause,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	RefundReceipt string     `bun:"refund_receipt"`
	FailedAt      time.Time  `bun:"failed_at,notnull,default:current_timestamp"`
	ResubmittedAt *time.Time `bun:"resubmitted_at"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:            e.ID.String(),
		JobID:         e.JobID.String(),
		Queue:         e.Queue,
		Payload:       e.Payload,
		Stake:         int64(e.Stake),
		Submitter:     string(e.Submitter),
		Cause:         e.Cause,
		Attempts:      e.Attempts,
		RefundReceipt: e.RefundReceipt.String(),
		FailedAt:      e.FailedAt,
		ResubmittedAt: e.ResubmittedAt,
		CreatedAt:     e.CreatedAt,
	}
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: parse dlq id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: parse job id %q: %w", m.JobID, err)
	}

	e := &dlq.Entry{
		ID:            parsedID,
		JobID:         parsedJobID,
		Queue:         m.Queue,
		Payload:       m.Payload,
		Stake:         taskfair.Amount(m.Stake),
		Submitter:     taskfair.Actor(m.Submitter),
		Cause:         m.Cause,
		Attempts:      m.Attempts,
		FailedAt:      m.FailedAt,
		ResubmittedAt: m.ResubmittedAt,
		CreatedAt:     m.CreatedAt,
	}

	if m.RefundReceipt != "" {
		parsedReceipt, rErr := id.ParseReceiptID(m.RefundReceipt)
		if rErr == nil {
			e.RefundReceipt = parsedReceipt
		}
	}

	return e, nil
}

// ── Event model ───────────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:taskfair_events"`

	ID        string    `bun:"id,pk"`
	Kind      string    `bun:"kind,notnull"`
	JobID     string    `bun:"job_id,notnull"`
	Queue     string    `bun:"queue,notnull"`
	Actor     string    `bun:"actor,notnull"`
	Amount    int64     `bun:"amount,notnull,default:0"`
	Payload   []byte    `bun:"payload,type:bytea"`
	Acked     bool      `bun:"acked,notnull,default:false"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:        evt.ID.String(),
		Kind:      string(evt.Kind),
		JobID:     evt.JobID.String(),
		Queue:     evt.Queue,
		Actor:     string(evt.Actor),
		Amount:    int64(evt.Amount),
		Payload:   evt.Payload,
		Acked:     evt.Acked,
		CreatedAt: evt.CreatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	parsedID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: parse event id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: parse job id %q: %w", m.JobID, err)
	}

	return &event.Event{
		ID:        parsedID,
		Kind:      event.Kind(m.Kind),
		JobID:     parsedJobID,
		Queue:     m.Queue,
		Actor:     taskfair.Actor(m.Actor),
		Amount:    taskfair.Amount(m.Amount),
		Payload:   m.Payload,
		Acked:     m.Acked,
		CreatedAt: m.CreatedAt,
	}, nil
}

// ── Escrow receipt model ──────────────────────────────────────────

type receiptModel struct {
	bun.BaseModel `bun:"table:taskfair_receipts"`

	JobID       string     `bun:"job_id,pk"`
	ID          string     `bun:"id,notnull,unique"`
	Amount      int64      `bun:"amount,notnull"`
	Depositor   string     `bun:"depositor,notnull"`
	Outcome     string     `bun:"outcome,notnull,default:''"`
	Beneficiary string     `bun:"beneficiary"`
	ClosedAt    *time.Time `bun:"closed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toReceiptModel(r *treasury.Receipt) *receiptModel {
	return &receiptModel{
		JobID:       r.JobID.String(),
		ID:          r.ID.String(),
		Amount:      int64(r.Amount),
		Depositor:   string(r.Depositor),
		Outcome:     string(r.Outcome),
		Beneficiary: string(r.Beneficiary),
		ClosedAt:    r.ClosedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromReceiptModel(m *receiptModel) (*treasury.Receipt, error) {
	parsedID, err := id.ParseReceiptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: parse receipt id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: parse job id %q: %w", m.JobID, err)
	}

	return &treasury.Receipt{
		Entity: taskfair.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		JobID:       parsedJobID,
		Amount:      taskfair.Amount(m.Amount),
		Depositor:   taskfair.Actor(m.Depositor),
		Outcome:     treasury.Outcome(m.Outcome),
		Beneficiary: taskfair.Actor(m.Beneficiary),
		ClosedAt:    m.ClosedAt,
	}, nil
}
