package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/event"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/treasury"
	"github.com/taskfair/taskfair/worker"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store       = (*Store)(nil)
	_ worker.Registry = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ event.Store     = (*Store)(nil)
	_ treasury.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
//
// The per-queue pending index is maintained inside the same critical
// section as every status change, so a job is in its queue's index iff
// its status is pending.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	pending  map[string]map[string]struct{} // queue → set of pending job IDs
	subs     map[string]*worker.Subscription
	dlqs     map[string]*dlq.Entry
	events   map[string]*event.Event
	receipts map[string]*treasury.Receipt // key: job ID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*job.Job),
		pending:  make(map[string]map[string]struct{}),
		subs:     make(map[string]*worker.Subscription),
		dlqs:     make(map[string]*dlq.Entry),
		events:   make(map[string]*event.Event),
		receipts: make(map[string]*treasury.Receipt),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// index adds a job to its queue's pending set.
func (m *Store) index(j *job.Job) {
	set, ok := m.pending[j.Queue]
	if !ok {
		set = make(map[string]struct{})
		m.pending[j.Queue] = set
	}
	set[j.ID.String()] = struct{}{}
}

// deindex removes a job from its queue's pending set.
func (m *Store) deindex(j *job.Job) {
	if set, ok := m.pending[j.Queue]; ok {
		delete(set, j.ID.String())
		if len(set) == 0 {
			delete(m.pending, j.Queue)
		}
	}
}

// PendingIndex returns the IDs currently indexed for a queue. Test hook.
func (m *Store) PendingIndex(queue string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.pending[queue]))
	for k := range m.pending[queue] {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new pending job and indexes it under its queue.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return taskfair.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	if cp.Status == job.StatusPending {
		m.index(&cp)
	}
	return nil
}

// LeaseJobs atomically claims up to limit jobs from the queue for the
// worker: the worker's own live leases first (untouched), then pending
// jobs by stake descending, arrival, ID.
func (m *Store) LeaseJobs(_ context.Context, queue string, w taskfair.Actor, limit int, now time.Time, visibility time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Own live leases, redelivered unchanged.
	var own []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusLeased && j.Queue == queue && j.Worker == w && !j.Expired(now) {
			own = append(own, j)
		}
	}
	sort.Slice(own, func(i, k int) bool {
		if !own[i].LeasedAt.Equal(*own[k].LeasedAt) {
			return own[i].LeasedAt.Before(*own[k].LeasedAt)
		}
		return own[i].ID.String() < own[k].ID.String()
	})

	result := make([]*job.Job, 0, limit)
	for _, j := range own {
		if len(result) == limit {
			break
		}
		cp := *j
		result = append(result, &cp)
	}

	// Top up from the pending index.
	candidates := make([]*job.Job, 0, len(m.pending[queue]))
	for key := range m.pending[queue] {
		candidates = append(candidates, m.jobs[key])
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Stake != candidates[k].Stake {
			return candidates[i].Stake > candidates[k].Stake
		}
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	for _, j := range candidates {
		if len(result) == limit {
			break
		}
		vis := visibility
		if vis <= 0 {
			vis = j.VisibilityTimeout
		}
		j.Status = job.StatusLeased
		j.Worker = w
		leasedAt := now
		deadline := now.Add(vis)
		j.LeasedAt = &leasedAt
		j.Deadline = &deadline
		j.UpdatedAt = now
		m.deindex(j)

		cp := *j
		result = append(result, &cp)
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, taskfair.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// SwapJob persists j only if the stored job still matches the guard,
// adjusting the queue index in the same step.
func (m *Store) SwapJob(_ context.Context, j *job.Job, expected job.Guard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	stored, ok := m.jobs[key]
	if !ok {
		return taskfair.ErrJobNotFound
	}
	if !expected.Matches(stored) {
		return taskfair.ErrInvalidState
	}

	m.deindex(stored)
	cp := *j
	m.jobs[key] = &cp
	if cp.Status == job.StatusPending {
		m.index(&cp)
	}
	return nil
}

// DeleteJob removes the job only if its stored status still equals
// expected.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID, expected job.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	stored, ok := m.jobs[key]
	if !ok {
		return taskfair.ErrJobNotFound
	}
	if stored.Status != expected {
		return taskfair.ErrInvalidState
	}
	m.deindex(stored)
	delete(m.jobs, key)
	return nil
}

// ListJobsByStatus returns jobs matching the given status.
func (m *Store) ListJobsByStatus(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status != status {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ListExpiredLeases returns leased jobs whose deadline is at or before
// now.
func (m *Store) ListExpiredLeases(_ context.Context, queue string, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if !j.Expired(now) {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].Deadline.Equal(*result[k].Deadline) {
			return result[i].Deadline.Before(*result[k].Deadline)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Worker Registry
// ──────────────────────────────────────────────────

// UpsertSubscription creates or replaces the actor's subscription,
// preserving the original ID and creation time on replace.
func (m *Store) UpsertSubscription(_ context.Context, sub *worker.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sub
	if existing, ok := m.subs[string(sub.Actor)]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	m.subs[string(sub.Actor)] = &cp
	return nil
}

// GetSubscription retrieves the subscription for an actor.
func (m *Store) GetSubscription(_ context.Context, actor taskfair.Actor) (*worker.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[string(actor)]
	if !ok {
		return nil, taskfair.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// ListSubscriptions returns subscriptions, optionally filtered by queue.
func (m *Store) ListSubscriptions(_ context.Context, queue string) ([]*worker.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*worker.Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if queue != "" && !sub.Covers(queue) {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// DeregisterSubscription removes the actor's subscription.
func (m *Store) DeregisterSubscription(_ context.Context, actor taskfair.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[string(actor)]; !ok {
		return taskfair.ErrSubscriptionNotFound
	}
	delete(m.subs, string(actor))
	return nil
}

// TouchSubscription advances LastSeen for the actor.
func (m *Store) TouchSubscription(_ context.Context, actor taskfair.Actor, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[string(actor)]
	if !ok {
		return taskfair.ErrSubscriptionNotFound
	}
	sub.LastSeen = now
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a dead-lettered job entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, taskfair.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkResubmitted records the resubmission time on an entry.
func (m *Store) MarkResubmitted(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return taskfair.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ResubmittedAt = &now
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events[evt.ID.String()] = &cp
	return nil
}

// SubscribeEvent waits for an unacked event of the given kind.
// Poll-based: loops with 10ms sleep until an event is available or
// timeout. Oldest matching event wins.
func (m *Store) SubscribeEvent(ctx context.Context, kind event.Kind, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		m.mu.RLock()
		var oldest *event.Event
		for _, evt := range m.events {
			if evt.Kind != kind || evt.Acked {
				continue
			}
			if oldest == nil || evt.CreatedAt.Before(oldest.CreatedAt) {
				oldest = evt
			}
		}
		m.mu.RUnlock()

		if oldest != nil {
			cp := *oldest
			return &cp, nil
		}

		// Brief sleep to avoid busy-waiting.
		time.Sleep(10 * time.Millisecond)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return taskfair.ErrEventNotFound
	}
	evt.Acked = true
	return nil
}

// ──────────────────────────────────────────────────
// Treasury Store
// ──────────────────────────────────────────────────

// CreateReceipt persists a new open receipt.
func (m *Store) CreateReceipt(_ context.Context, r *treasury.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.JobID.String()
	if _, exists := m.receipts[key]; exists {
		return taskfair.ErrJobAlreadyExists
	}
	cp := *r
	m.receipts[key] = &cp
	return nil
}

// GetReceipt retrieves the receipt for a job.
func (m *Store) GetReceipt(_ context.Context, jobID id.JobID) (*treasury.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.receipts[jobID.String()]
	if !ok {
		return nil, taskfair.ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

// CloseReceipt atomically closes an open receipt. A receipt that is
// already closed or missing fails with ErrInvalidState: this is the
// exactly-once settlement gate.
func (m *Store) CloseReceipt(_ context.Context, jobID id.JobID, outcome treasury.Outcome, beneficiary taskfair.Actor, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.receipts[jobID.String()]
	if !ok {
		return taskfair.ErrInvalidState
	}
	if !r.Open() {
		return taskfair.ErrInvalidState
	}
	r.Outcome = outcome
	r.Beneficiary = beneficiary
	closedAt := at
	r.ClosedAt = &closedAt
	r.UpdatedAt = at
	return nil
}

// DeleteReceipt removes a receipt.
func (m *Store) DeleteReceipt(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.receipts[key]; !ok {
		return taskfair.ErrReceiptNotFound
	}
	delete(m.receipts, key)
	return nil
}

// SumOpenReceipts returns the total amount currently escrowed.
func (m *Store) SumOpenReceipts(_ context.Context) (taskfair.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total taskfair.Amount
	for _, r := range m.receipts {
		if r.Open() {
			total += r.Amount
		}
	}
	return total, nil
}
