package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/treasury"
	"github.com/taskfair/taskfair/worker"
)

func newJob(queue string, stake taskfair.Amount) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:            taskfair.NewEntityAt(now),
		ID:                id.NewJobID(),
		Queue:             queue,
		Payload:           []byte("payload"),
		Stake:             stake,
		Submitter:         "alice",
		Status:            job.StatusPending,
		VisibilityTimeout: time.Minute,
	}
}

func TestCreateJob_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("render", 10)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateJob(ctx, j); err != taskfair.ErrJobAlreadyExists {
		t.Fatalf("duplicate create: got %v, want ErrJobAlreadyExists", err)
	}
}

func TestCreateJob_IndexesPending(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("render", 10)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	idx := s.PendingIndex("render")
	if len(idx) != 1 || idx[0] != j.ID.String() {
		t.Fatalf("index = %v, want [%s]", idx, j.ID)
	}
}

func TestLeaseJobs_StakeOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	low := newJob("render", 5)
	high := newJob("render", 50)
	mid := newJob("render", 20)
	for _, j := range []*job.Job{low, high, mid} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	leased, err := s.LeaseJobs(ctx, "render", "wrk", 2, now, 0)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 2 {
		t.Fatalf("leased %d jobs, want 2", len(leased))
	}
	if leased[0].ID != high.ID || leased[1].ID != mid.ID {
		t.Errorf("lease order = %s, %s; want %s, %s", leased[0].ID, leased[1].ID, high.ID, mid.ID)
	}

	// The low-stake job is the only one left indexed.
	idx := s.PendingIndex("render")
	if len(idx) != 1 || idx[0] != low.ID.String() {
		t.Errorf("index after lease = %v, want [%s]", idx, low.ID)
	}
}

func TestLeaseJobs_SetsLeaseFields(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	j := newJob("render", 10)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	leased, err := s.LeaseJobs(ctx, "render", "wrk", 1, now, 0)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	got := leased[0]
	if got.Status != job.StatusLeased {
		t.Errorf("status = %s, want leased", got.Status)
	}
	if got.Worker != "wrk" {
		t.Errorf("worker = %s, want wrk", got.Worker)
	}
	if got.LeasedAt == nil || !got.LeasedAt.Equal(now) {
		t.Errorf("leasedAt = %v, want %v", got.LeasedAt, now)
	}
	// Visibility 0 falls back to the job's own timeout.
	want := now.Add(j.VisibilityTimeout)
	if got.Deadline == nil || !got.Deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", got.Deadline, want)
	}
}

func TestLeaseJobs_IdempotentRedelivery(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	a := newJob("render", 30)
	b := newJob("render", 10)
	for _, j := range []*job.Job{a, b} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	first, err := s.LeaseJobs(ctx, "render", "wrk", 1, now, 0)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(first) != 1 || first[0].ID != a.ID {
		t.Fatalf("first lease = %v", first)
	}

	// A retry poll gets the live lease back, deadline untouched, before
	// topping up with the remaining pending job.
	later := now.Add(10 * time.Second)
	second, err := s.LeaseJobs(ctx, "render", "wrk", 2, later, 0)
	if err != nil {
		t.Fatalf("re-lease: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("re-lease returned %d jobs, want 2", len(second))
	}
	if second[0].ID != a.ID {
		t.Errorf("own lease not returned first")
	}
	if !second[0].Deadline.Equal(now.Add(time.Minute)) {
		t.Errorf("redelivered deadline moved: %v", second[0].Deadline)
	}
	if second[1].ID != b.ID {
		t.Errorf("top-up = %s, want %s", second[1].ID, b.ID)
	}
}

func TestLeaseJobs_ConcurrentSingleClaim(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateJob(ctx, newJob("render", 10)); err != nil {
		t.Fatalf("create: %v", err)
	}

	workers := []taskfair.Actor{"w1", "w2", "w3", "w4"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for _, w := range workers {
		wg.Add(1)
		go func(w taskfair.Actor) {
			defer wg.Done()
			leased, err := s.LeaseJobs(ctx, "render", w, 1, now, 0)
			if err != nil {
				t.Errorf("lease: %v", err)
				return
			}
			mu.Lock()
			claims += len(leased)
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	if claims != 1 {
		t.Fatalf("job claimed %d times, want exactly 1", claims)
	}
}

func TestSwapJob_CASMismatch(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("render", 10)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	j.Status = job.StatusVerified
	err := s.SwapJob(ctx, j, job.Guard{Status: job.StatusLeased}) // stored status is pending
	if err != taskfair.ErrInvalidState {
		t.Fatalf("swap with stale expectation: got %v, want ErrInvalidState", err)
	}

	stored, _ := s.GetJob(ctx, j.ID)
	if stored.Status != job.StatusPending {
		t.Errorf("record mutated by failed swap: %s", stored.Status)
	}
}

func TestSwapJob_RefusesStaleLeaseHolder(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	j := newJob("render", 10)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	// First holder claims the job and snapshots it.
	first, err := s.LeaseJobs(ctx, "render", "w1", 1, now, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("first lease: %v (%d jobs)", err, len(first))
	}
	stale := first[0]
	staleGuard := stale.Guard()

	// The lease is released and claimed by a second holder, so the
	// status is leased again but under a different identity.
	reopened := *stale
	reopened.ClearLease()
	reopened.Status = job.StatusPending
	if err := s.SwapJob(ctx, &reopened, stale.Guard()); err != nil {
		t.Fatalf("release: %v", err)
	}
	second, err := s.LeaseJobs(ctx, "render", "w2", 1, now.Add(time.Second), time.Minute)
	if err != nil || len(second) != 1 {
		t.Fatalf("second lease: %v (%d jobs)", err, len(second))
	}

	// The first holder's write must not land on the second's lease.
	stale.Status = job.StatusCompleted
	if err := s.SwapJob(ctx, stale, staleGuard); err != taskfair.ErrInvalidState {
		t.Fatalf("stale holder swap: got %v, want ErrInvalidState", err)
	}

	stored, _ := s.GetJob(ctx, j.ID)
	if stored.Status != job.StatusLeased || stored.Worker != "w2" {
		t.Errorf("record = %s/%s, want leased/w2", stored.Status, stored.Worker)
	}
}

func TestSwapJob_MaintainsIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	j := newJob("render", 10)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	leased, err := s.LeaseJobs(ctx, "render", "wrk", 1, now, 0)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if got := s.PendingIndex("render"); len(got) != 0 {
		t.Fatalf("leased job still indexed: %v", got)
	}

	// Reopen to pending: back in the index.
	reopened := leased[0]
	guard := reopened.Guard()
	reopened.ClearLease()
	reopened.Status = job.StatusPending
	if err := s.SwapJob(ctx, reopened, guard); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got := s.PendingIndex("render"); len(got) != 1 {
		t.Fatalf("reopened job not indexed: %v", got)
	}
}

func TestDeleteJob_CAS(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("render", 10)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.DeleteJob(ctx, j.ID, job.StatusVerified); err != taskfair.ErrInvalidState {
		t.Fatalf("delete with wrong expectation: got %v, want ErrInvalidState", err)
	}
	if err := s.DeleteJob(ctx, j.ID, job.StatusPending); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := s.PendingIndex("render"); len(got) != 0 {
		t.Errorf("deleted job still indexed: %v", got)
	}
	if _, err := s.GetJob(ctx, j.ID); err != taskfair.ErrJobNotFound {
		t.Errorf("get after delete: got %v, want ErrJobNotFound", err)
	}
}

func TestListExpiredLeases(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := newJob("render", 10)
	stale := newJob("render", 10)
	for _, j := range []*job.Job{fresh, stale} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.LeaseJobs(ctx, "render", "wrk", 2, now, 0); err != nil {
		t.Fatalf("lease: %v", err)
	}

	// Nothing expired yet.
	expired, err := s.ListExpiredLeases(ctx, "render", now, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expired before deadline: %d", len(expired))
	}

	// Both leases are past deadline once the clock moves.
	expired, err = s.ListExpiredLeases(ctx, "", now.Add(2*time.Minute), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expired = %d, want 2", len(expired))
	}
}

func TestSubscription_UpsertPreservesIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	first := &worker.Subscription{
		Entity:    taskfair.NewEntityAt(now),
		ID:        id.NewWorkerID(),
		Actor:     "wrk",
		Queues:    []string{"render"},
		BatchSize: 5,
		LastSeen:  now,
	}
	if err := s.UpsertSubscription(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second := &worker.Subscription{
		Entity:    taskfair.NewEntityAt(now.Add(time.Hour)),
		ID:        id.NewWorkerID(),
		Actor:     "wrk",
		Queues:    []string{"render", "transcode"},
		BatchSize: 10,
		LastSeen:  now.Add(time.Hour),
	}
	if err := s.UpsertSubscription(ctx, second); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := s.GetSubscription(ctx, "wrk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("ID replaced on upsert: %s != %s", got.ID, first.ID)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt replaced on upsert")
	}
	if got.BatchSize != 10 || len(got.Queues) != 2 {
		t.Errorf("subscription fields not updated: %+v", got)
	}
}

func TestSubscription_ListByQueue(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	subs := []*worker.Subscription{
		{Entity: taskfair.NewEntityAt(now), ID: id.NewWorkerID(), Actor: "a", Queues: []string{"render"}},
		{Entity: taskfair.NewEntityAt(now.Add(time.Second)), ID: id.NewWorkerID(), Actor: "b", Queues: []string{"transcode"}},
	}
	for _, sub := range subs {
		if err := s.UpsertSubscription(ctx, sub); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := s.ListSubscriptions(ctx, "render")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Actor != "a" {
		t.Fatalf("list by queue = %v", got)
	}
	all, _ := s.ListSubscriptions(ctx, "")
	if len(all) != 2 {
		t.Fatalf("list all = %d, want 2", len(all))
	}
}

func TestReceipt_CloseExactlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	jobID := id.NewJobID()

	r := &treasury.Receipt{
		Entity:    taskfair.NewEntityAt(now),
		ID:        id.NewReceiptID(),
		JobID:     jobID,
		Amount:    25,
		Depositor: "alice",
	}
	if err := s.CreateReceipt(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateReceipt(ctx, r); err != taskfair.ErrJobAlreadyExists {
		t.Fatalf("duplicate receipt: got %v, want ErrJobAlreadyExists", err)
	}

	if err := s.CloseReceipt(ctx, jobID, treasury.OutcomeSettled, "bob", now); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.CloseReceipt(ctx, jobID, treasury.OutcomeRefunded, "alice", now); err != taskfair.ErrInvalidState {
		t.Fatalf("second close: got %v, want ErrInvalidState", err)
	}

	got, err := s.GetReceipt(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome != treasury.OutcomeSettled || got.Beneficiary != "bob" {
		t.Errorf("first close overwritten: %+v", got)
	}
}

func TestSumOpenReceipts(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	a := &treasury.Receipt{ID: id.NewReceiptID(), JobID: id.NewJobID(), Amount: 10, Depositor: "alice"}
	b := &treasury.Receipt{ID: id.NewReceiptID(), JobID: id.NewJobID(), Amount: 30, Depositor: "bob"}
	for _, r := range []*treasury.Receipt{a, b} {
		if err := s.CreateReceipt(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := s.CloseReceipt(ctx, a.JobID, treasury.OutcomeRefunded, "alice", now); err != nil {
		t.Fatalf("close: %v", err)
	}

	sum, err := s.SumOpenReceipts(ctx)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 30 {
		t.Errorf("open sum = %d, want 30", sum)
	}
}

func TestDLQ_PurgeBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	old := &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), Queue: "render", FailedAt: now.Add(-48 * time.Hour)}
	recent := &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), Queue: "render", FailedAt: now}
	for _, e := range []*dlq.Entry{old, recent} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	n, err := s.PurgeDLQ(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	count, _ := s.CountDLQ(ctx)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
