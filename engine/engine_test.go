package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/engine"
	"github.com/taskfair/taskfair/event"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/ledger"
	"github.com/taskfair/taskfair/store/memory"
)

const (
	alice taskfair.Actor = "alice"
	bob   taskfair.Actor = "bob"
	carol taskfair.Actor = "carol"
	admin taskfair.Actor = "admin"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	eng    *engine.Engine
	store  *memory.Store
	ledger *ledger.Memory
	clock  *fakeClock
}

func newFixture(t *testing.T, cfgMod func(*taskfair.Config)) *fixture {
	t.Helper()

	cfg := taskfair.DefaultConfig()
	if cfgMod != nil {
		cfgMod(&cfg)
	}

	st := memory.New()
	led := ledger.NewMemory()
	ctx := context.Background()
	led.Mint(ctx, alice, 1000)
	led.Mint(ctx, carol, 1000)

	m, err := taskfair.New(
		taskfair.WithStore(st),
		taskfair.WithLedger(led),
		taskfair.WithConfig(cfg),
		taskfair.WithAdmins(admin),
		taskfair.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}

	clk := newFakeClock()
	eng, err := engine.Build(m, engine.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return &fixture{eng: eng, store: st, ledger: led, clock: clk}
}

func (f *fixture) balance(t *testing.T, a taskfair.Actor) taskfair.Amount {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), a)
	if err != nil {
		t.Fatalf("balance %s: %v", a, err)
	}
	return b
}

func (f *fixture) submit(t *testing.T, stake taskfair.Amount) *job.Job {
	t.Helper()
	j, err := f.eng.Submit(context.Background(), alice, "render", []byte("frame"), stake, time.Minute)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return j
}

// subscribe registers w for the render queue unless a subscription
// already exists, so tests that shape their own subscription keep it.
func (f *fixture) subscribe(t *testing.T, w taskfair.Actor) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.eng.Subscription(ctx, w); err == nil {
		return
	}
	if _, err := f.eng.Subscribe(ctx, w, []string{"render"}, 10, 0); err != nil {
		t.Fatalf("subscribe %s: %v", w, err)
	}
}

func (f *fixture) lease(t *testing.T, w taskfair.Actor) *job.Job {
	t.Helper()
	f.subscribe(t, w)
	leased, err := f.eng.Lease(context.Background(), "render", w, 1)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("leased %d jobs, want 1", len(leased))
	}
	return leased[0]
}

// drainEvents collects all unacked events of a kind.
func (f *fixture) drainEvents(t *testing.T, kind event.Kind) []*event.Event {
	t.Helper()
	ctx := context.Background()
	var out []*event.Event
	for {
		evt, err := f.eng.Events().Subscribe(ctx, kind, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("subscribe %s: %v", kind, err)
		}
		if evt == nil {
			return out
		}
		if err := f.eng.Events().Ack(ctx, evt.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}
		out = append(out, evt)
	}
}

func TestSubmit_EscrowsStake(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	j := f.submit(t, 100)
	if j.Status != job.StatusPending {
		t.Errorf("status = %s, want pending", j.Status)
	}
	if got := f.balance(t, alice); got != 900 {
		t.Errorf("submitter balance = %d, want 900", got)
	}
	escrowed, err := f.eng.Treasury().Escrowed(ctx)
	if err != nil {
		t.Fatalf("escrowed: %v", err)
	}
	if escrowed != 100 {
		t.Errorf("escrowed = %d, want 100", escrowed)
	}

	events := f.drainEvents(t, event.KindSubmitted)
	if len(events) != 1 {
		t.Fatalf("submitted events = %d, want 1", len(events))
	}
	if events[0].Amount != 100 || events[0].Actor != alice {
		t.Errorf("event = %+v", events[0])
	}
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	big := make([]byte, 5*1024)

	tests := []struct {
		name       string
		submitter  taskfair.Actor
		queue      string
		payload    []byte
		stake      taskfair.Amount
		visibility time.Duration
	}{
		{"empty submitter", "", "render", nil, 10, time.Minute},
		{"empty queue", alice, "", nil, 10, time.Minute},
		{"queue with space", alice, "a b", nil, 10, time.Minute},
		{"queue with colon", alice, "a:b", nil, 10, time.Minute},
		{"oversized payload", alice, "render", big, 10, time.Minute},
		{"zero stake", alice, "render", nil, 0, time.Minute},
		{"negative stake", alice, "render", nil, -5, time.Minute},
		{"timeout too short", alice, "render", nil, 10, time.Second},
		{"timeout too long", alice, "render", nil, 10, 48 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.Submit(ctx, tt.submitter, tt.queue, tt.payload, tt.stake, tt.visibility)
			if !taskfair.IsInvalidArgument(err) {
				t.Fatalf("got %v, want invalid-argument class", err)
			}
		})
	}

	// No money moved for any refused submission.
	if got := f.balance(t, alice); got != 1000 {
		t.Errorf("balance after refused submits = %d, want 1000", got)
	}
}

func TestSubmit_InsufficientFunds(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.eng.Submit(context.Background(), alice, "render", nil, 5000, time.Minute)
	if !errors.Is(err, taskfair.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestHappyPath_SubmitLeaseCompleteVerify(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	submitted := f.submit(t, 100)
	leased := f.lease(t, bob)
	if leased.ID != submitted.ID {
		t.Fatalf("leased wrong job")
	}
	if leased.Worker != bob {
		t.Errorf("lease holder = %s, want bob", leased.Worker)
	}

	completed, err := f.eng.Complete(ctx, leased.ID, bob, []byte("result"))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}

	verified, err := f.eng.VerifyAndRelease(ctx, leased.ID, alice)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != job.StatusVerified {
		t.Errorf("status = %s, want verified", verified.Status)
	}

	if got := f.balance(t, bob); got != 100 {
		t.Errorf("worker balance = %d, want 100", got)
	}
	escrowed, _ := f.eng.Treasury().Escrowed(ctx)
	if escrowed != 0 {
		t.Errorf("escrowed after settle = %d, want 0", escrowed)
	}

	// Terminal state is immutable.
	if _, err := f.eng.VerifyAndRelease(ctx, leased.ID, alice); !taskfair.IsInvalidState(err) {
		t.Errorf("second verify: got %v, want invalid-state class", err)
	}
	if _, err := f.eng.Complete(ctx, leased.ID, bob, nil); !taskfair.IsInvalidState(err) {
		t.Errorf("complete after verify: got %v, want invalid-state class", err)
	}
}

func TestLease_IdempotentForWorker(t *testing.T) {
	f := newFixture(t, nil)
	j := f.submit(t, 100)

	first := f.lease(t, bob)
	second := f.lease(t, bob)
	if first.ID != j.ID || second.ID != j.ID {
		t.Fatalf("re-poll did not return own lease")
	}
	if !second.Deadline.Equal(*first.Deadline) {
		t.Errorf("re-poll moved deadline: %v != %v", second.Deadline, first.Deadline)
	}

	// At most one live lease: another worker gets nothing.
	f.subscribe(t, carol)
	leased, err := f.eng.Lease(context.Background(), "render", carol, 1)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("second worker claimed a leased job")
	}
}

func TestLease_RequiresCoveringSubscription(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.submit(t, 100)

	// No subscription at all.
	if _, err := f.eng.Lease(ctx, "render", bob, 1); !errors.Is(err, taskfair.ErrUnauthorized) {
		t.Fatalf("lease without subscription: got %v, want ErrUnauthorized", err)
	}

	// A subscription that does not cover the queue.
	if _, err := f.eng.Subscribe(ctx, bob, []string{"transcode"}, 5, 0); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := f.eng.Lease(ctx, "render", bob, 1); !errors.Is(err, taskfair.ErrUnauthorized) {
		t.Fatalf("lease outside subscription: got %v, want ErrUnauthorized", err)
	}

	// Neither refusal claimed the job.
	stats, err := f.eng.QueueStats(ctx, "render")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("pending = %d, want 1", stats.Pending)
	}

	// A covering subscription admits the worker. A zero limit falls
	// back to the subscription's batch size, an oversized one is
	// clamped to it.
	if _, err := f.eng.Subscribe(ctx, bob, []string{"render", "transcode"}, 5, 0); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	f.submit(t, 50)
	leased, err := f.eng.Lease(ctx, "render", bob, 0)
	if err != nil {
		t.Fatalf("lease with zero limit: %v", err)
	}
	if len(leased) != 2 {
		t.Fatalf("leased %d jobs, want 2", len(leased))
	}
	if _, err := f.eng.Lease(ctx, "render", bob, 500); err != nil {
		t.Fatalf("lease with oversized limit: %v", err)
	}
}

func TestComplete_RoleAndStateChecks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	j := f.submit(t, 100)

	// Pending job cannot be completed.
	if _, err := f.eng.Complete(ctx, j.ID, bob, nil); !taskfair.IsInvalidState(err) {
		t.Errorf("complete pending: got %v, want invalid-state class", err)
	}

	f.lease(t, bob)
	if _, err := f.eng.Complete(ctx, j.ID, carol, nil); !errors.Is(err, taskfair.ErrUnauthorized) {
		t.Errorf("complete by non-holder: got %v, want ErrUnauthorized", err)
	}

	// Verify before completion is refused.
	if _, err := f.eng.VerifyAndRelease(ctx, j.ID, alice); !taskfair.IsInvalidState(err) {
		t.Errorf("verify leased: got %v, want invalid-state class", err)
	}
}

func TestReject_ReopensWithStakeHeld(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	j := f.submit(t, 100)
	f.lease(t, bob)
	if _, err := f.eng.Complete(ctx, j.ID, bob, []byte("bad")); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Only the submitter may reject.
	if _, err := f.eng.Reject(ctx, j.ID, bob, "nope"); !errors.Is(err, taskfair.ErrUnauthorized) {
		t.Fatalf("reject by worker: got %v, want ErrUnauthorized", err)
	}

	rejected, err := f.eng.Reject(ctx, j.ID, alice, "wrong output")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != job.StatusPending {
		t.Errorf("status = %s, want pending", rejected.Status)
	}
	if rejected.Worker != "" || rejected.Result != nil {
		t.Errorf("lease fields not cleared: %+v", rejected)
	}

	// Stake still escrowed; job leasable again.
	escrowed, _ := f.eng.Treasury().Escrowed(ctx)
	if escrowed != 100 {
		t.Errorf("escrowed = %d, want 100", escrowed)
	}
	again := f.lease(t, carol)
	if again.ID != j.ID {
		t.Fatalf("rejected job not leasable")
	}
}

func TestReject_CountsAsAttemptWhenConfigured(t *testing.T) {
	f := newFixture(t, func(c *taskfair.Config) {
		c.MaxAttempts = 2
		c.RejectionCountsAsAttempt = true
	})
	ctx := context.Background()

	j := f.submit(t, 100)

	// First rejection: budget left, the job reopens carrying the attempt.
	f.lease(t, bob)
	if _, err := f.eng.Complete(ctx, j.ID, bob, []byte("bad")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	reopened, err := f.eng.Reject(ctx, j.ID, alice, "wrong output")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if reopened.Status != job.StatusPending || reopened.Attempts != 1 {
		t.Fatalf("after first reject: status=%s attempts=%d", reopened.Status, reopened.Attempts)
	}

	// Second rejection exhausts the budget: dead letter plus refund.
	f.lease(t, bob)
	if _, err := f.eng.Complete(ctx, j.ID, bob, []byte("bad again")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	dead, err := f.eng.Reject(ctx, j.ID, alice, "still wrong")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if dead.Status != job.StatusDeadLetter || dead.Attempts != 2 {
		t.Fatalf("after second reject: status=%s attempts=%d", dead.Status, dead.Attempts)
	}
	if got := f.balance(t, alice); got != 1000 {
		t.Errorf("refund not applied: balance = %d", got)
	}

	entries, err := f.eng.DeadLetters(ctx, dlq.ListOpts{Queue: "render"})
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != j.ID {
		t.Fatalf("dlq entries = %v", entries)
	}
	if got := f.drainEvents(t, event.KindDeadLettered); len(got) != 1 {
		t.Errorf("dead-lettered events = %d, want 1", len(got))
	}
	// The terminal rejection emits the dead-letter event, not a second
	// rejected event.
	if got := f.drainEvents(t, event.KindRejected); len(got) != 1 {
		t.Errorf("rejected events = %d, want 1", len(got))
	}
}

func TestFail_RetryLadderIntoDLQ(t *testing.T) {
	f := newFixture(t, func(c *taskfair.Config) { c.MaxAttempts = 2 })
	ctx := context.Background()

	j := f.submit(t, 100)

	// First failure: budget left, job reopens.
	f.lease(t, bob)
	failed, err := f.eng.Fail(ctx, j.ID, bob, "oom")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != job.StatusPending || failed.Attempts != 1 {
		t.Fatalf("after first fail: status=%s attempts=%d", failed.Status, failed.Attempts)
	}
	if failed.LastError != "oom" {
		t.Errorf("last error = %q", failed.LastError)
	}
	if got := f.drainEvents(t, event.KindRetried); len(got) != 1 {
		t.Errorf("retried events = %d, want 1", len(got))
	}

	// Second failure exhausts the budget: dead letter plus refund.
	f.lease(t, bob)
	dead, err := f.eng.Fail(ctx, j.ID, bob, "oom again")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if dead.Status != job.StatusDeadLetter {
		t.Fatalf("status = %s, want dead_letter", dead.Status)
	}
	if got := f.balance(t, alice); got != 1000 {
		t.Errorf("submitter balance = %d, want 1000 (exact refund)", got)
	}
	escrowed, _ := f.eng.Treasury().Escrowed(ctx)
	if escrowed != 0 {
		t.Errorf("escrowed = %d, want 0", escrowed)
	}

	entries, err := f.eng.DeadLetters(ctx, dlq.ListOpts{Queue: "render"})
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != j.ID {
		t.Fatalf("dlq entries = %v", entries)
	}
	if entries[0].Stake != 100 || entries[0].Submitter != alice {
		t.Errorf("dlq snapshot = %+v", entries[0])
	}

	if got := f.drainEvents(t, event.KindDeadLettered); len(got) != 1 {
		t.Errorf("dead-lettered events = %d, want 1", len(got))
	}

	// Dead letter is terminal: no lease, no fail, no verify.
	f.subscribe(t, carol)
	if leased, _ := f.eng.Lease(ctx, "render", carol, 1); len(leased) != 0 {
		t.Errorf("dead-lettered job leased")
	}
	if _, err := f.eng.Fail(ctx, j.ID, bob, "again"); !taskfair.IsInvalidState(err) {
		t.Errorf("fail terminal: got %v", err)
	}
}

func TestReleaseExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	j := f.submit(t, 100)
	f.lease(t, bob)

	// A live lease is not releasable.
	if _, err := f.eng.ReleaseExpired(ctx, j.ID, carol); !taskfair.IsInvalidState(err) {
		t.Fatalf("release live lease: got %v, want invalid-state class", err)
	}

	f.clock.Advance(2 * time.Minute)

	expired, err := f.eng.IsExpired(ctx, j.ID)
	if err != nil {
		t.Fatalf("is expired: %v", err)
	}
	if !expired {
		t.Fatal("lease should be expired")
	}

	// The stalled worker can no longer land a result.
	if _, err := f.eng.Complete(ctx, j.ID, bob, nil); !errors.Is(err, taskfair.ErrLeaseExpired) {
		t.Fatalf("complete expired: got %v, want ErrLeaseExpired", err)
	}

	// Anyone may force the release.
	released, err := f.eng.ReleaseExpired(ctx, j.ID, carol)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != job.StatusPending {
		t.Errorf("status = %s, want pending", released.Status)
	}
	if got := f.drainEvents(t, event.KindExpiredRelease); len(got) != 1 || got[0].Actor != carol {
		t.Errorf("expired-release events = %v", got)
	}

	// Releasing twice is a stale-state error.
	if _, err := f.eng.ReleaseExpired(ctx, j.ID, carol); !taskfair.IsInvalidState(err) {
		t.Errorf("second release: got %v", err)
	}

	// The job is open for a new lease.
	again := f.lease(t, carol)
	if again.ID != j.ID {
		t.Fatalf("released job not leasable")
	}
}

func TestReleaseExpired_CountsAsAttemptWhenConfigured(t *testing.T) {
	f := newFixture(t, func(c *taskfair.Config) {
		c.MaxAttempts = 1
		c.ExpiryCountsAsAttempt = true
	})
	ctx := context.Background()

	j := f.submit(t, 100)
	f.lease(t, bob)
	f.clock.Advance(2 * time.Minute)

	dead, err := f.eng.ReleaseExpired(ctx, j.ID, carol)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if dead.Status != job.StatusDeadLetter {
		t.Fatalf("status = %s, want dead_letter (expiry counted, budget 1)", dead.Status)
	}
	if got := f.balance(t, alice); got != 1000 {
		t.Errorf("refund not applied: balance = %d", got)
	}
}

func TestAdminRefund(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	j := f.submit(t, 100)

	if _, err := f.eng.AdminRefund(ctx, j.ID, bob, "stuck"); !errors.Is(err, taskfair.ErrUnauthorized) {
		t.Fatalf("refund by non-admin: got %v, want ErrUnauthorized", err)
	}

	refunded, err := f.eng.AdminRefund(ctx, j.ID, admin, "queue drained")
	if err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	if refunded.Status != job.StatusDeadLetter {
		t.Errorf("status = %s, want dead_letter", refunded.Status)
	}
	if got := f.balance(t, alice); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}

	// Terminal jobs are not refundable.
	if _, err := f.eng.AdminRefund(ctx, j.ID, admin, "again"); !taskfair.IsInvalidState(err) {
		t.Errorf("refund terminal: got %v", err)
	}

	if got := f.drainEvents(t, event.KindRefunded); len(got) != 1 || got[0].Amount != 100 {
		t.Errorf("refunded events = %v", got)
	}
}

// The worker field identifies a live lease holder; once the stake is
// resolved the terminal record carries no worker.
func TestTerminalRecordsDropWorker(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Verified via settlement.
	j := f.submit(t, 100)
	f.lease(t, bob)
	if _, err := f.eng.Complete(ctx, j.ID, bob, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	verified, err := f.eng.VerifyAndRelease(ctx, j.ID, alice)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Worker != "" {
		t.Errorf("verified worker = %q, want empty", verified.Worker)
	}
	stored, err := f.eng.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Worker != "" {
		t.Errorf("stored verified worker = %q, want empty", stored.Worker)
	}
	// The settlement still paid the lease holder.
	if got := f.balance(t, bob); got != 100 {
		t.Errorf("worker balance = %d, want 100", got)
	}

	// Dead-lettered via forced refund of a live lease.
	k := f.submit(t, 50)
	f.lease(t, bob)
	dead, err := f.eng.AdminRefund(ctx, k.ID, admin, "stuck")
	if err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	if dead.Worker != "" {
		t.Errorf("dead-lettered worker = %q, want empty", dead.Worker)
	}
	stored, err = f.eng.GetJob(ctx, k.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Worker != "" {
		t.Errorf("stored dead-lettered worker = %q, want empty", stored.Worker)
	}
}

func TestDelete_Rules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	j := f.submit(t, 100)

	// Unresolved stake blocks deletion.
	if err := f.eng.Delete(ctx, j.ID, alice); !errors.Is(err, taskfair.ErrNotDeletable) {
		t.Fatalf("delete pending: got %v, want ErrNotDeletable", err)
	}

	f.lease(t, bob)
	if _, err := f.eng.Complete(ctx, j.ID, bob, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.eng.VerifyAndRelease(ctx, j.ID, alice); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Only the submitter or an admin may delete.
	if err := f.eng.Delete(ctx, j.ID, bob); !errors.Is(err, taskfair.ErrUnauthorized) {
		t.Fatalf("delete by stranger: got %v, want ErrUnauthorized", err)
	}
	if err := f.eng.Delete(ctx, j.ID, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.eng.GetJob(ctx, j.ID); !errors.Is(err, taskfair.ErrJobNotFound) {
		t.Fatalf("get after delete: got %v, want ErrJobNotFound", err)
	}
}

func TestEscrowConservation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Run a mix of outcomes.
	settled := f.submit(t, 100)
	f.lease(t, bob)
	if _, err := f.eng.Complete(ctx, settled.ID, bob, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.eng.VerifyAndRelease(ctx, settled.ID, alice); err != nil {
		t.Fatalf("verify: %v", err)
	}

	open := f.submit(t, 250)
	_ = open

	refunded := f.submit(t, 50)
	if _, err := f.eng.AdminRefund(ctx, refunded.ID, admin, "cleanup"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	// Total currency is conserved across all accounts.
	total := f.balance(t, alice) + f.balance(t, bob) + f.balance(t, carol) +
		f.balance(t, f.eng.Treasury().Account())
	if total != 2000 {
		t.Errorf("total currency = %d, want 2000", total)
	}

	// Treasury balance exactly covers open receipts: no surplus, no hole.
	surplus, err := f.eng.Treasury().Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if surplus != 0 {
		t.Errorf("reserve surplus = %d, want 0", surplus)
	}
	escrowed, _ := f.eng.Treasury().Escrowed(ctx)
	if escrowed != 250 {
		t.Errorf("escrowed = %d, want 250", escrowed)
	}
}

// Conservation must hold after every step of an arbitrary interleaving
// of outcomes, not just the curated mix above.
func TestEscrowConservation_RandomizedRuns(t *testing.T) {
	f := newFixture(t, func(c *taskfair.Config) { c.MaxAttempts = 2 })
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(0x7a5f, 0xfa17))
	f.subscribe(t, bob)

	leaseOne := func(i int) *job.Job {
		t.Helper()
		leased, err := f.eng.Lease(ctx, "render", bob, 1)
		if err != nil {
			t.Fatalf("step %d: lease: %v", i, err)
		}
		if len(leased) == 0 {
			t.Fatalf("step %d: nothing leased", i)
		}
		return leased[0]
	}

	for i := range 60 {
		stake := taskfair.Amount(1 + rng.IntN(10))
		j, err := f.eng.Submit(ctx, alice, "render", nil, stake, time.Minute)
		if err != nil {
			t.Fatalf("step %d: submit: %v", i, err)
		}

		// The lease picks by stake, so the acted-on job is whichever
		// pending job ranks first, not necessarily the fresh one.
		switch rng.IntN(6) {
		case 0:
			// Stays pending.
		case 1: // settled to the worker
			l := leaseOne(i)
			if _, err := f.eng.Complete(ctx, l.ID, bob, nil); err != nil {
				t.Fatalf("step %d: complete: %v", i, err)
			}
			if _, err := f.eng.VerifyAndRelease(ctx, l.ID, alice); err != nil {
				t.Fatalf("step %d: verify: %v", i, err)
			}
		case 2: // rejected back to pending
			l := leaseOne(i)
			if _, err := f.eng.Complete(ctx, l.ID, bob, nil); err != nil {
				t.Fatalf("step %d: complete: %v", i, err)
			}
			if _, err := f.eng.Reject(ctx, l.ID, alice, "redo"); err != nil {
				t.Fatalf("step %d: reject: %v", i, err)
			}
		case 3: // failed; reopens or dead-letters on the second strike
			l := leaseOne(i)
			if _, err := f.eng.Fail(ctx, l.ID, bob, "boom"); err != nil {
				t.Fatalf("step %d: fail: %v", i, err)
			}
		case 4: // lease expires and is force-released
			l := leaseOne(i)
			f.clock.Advance(2 * time.Minute)
			if _, err := f.eng.ReleaseExpired(ctx, l.ID, carol); err != nil {
				t.Fatalf("step %d: release: %v", i, err)
			}
		case 5: // force-refunded by an admin
			if _, err := f.eng.AdminRefund(ctx, j.ID, admin, "sweep"); err != nil {
				t.Fatalf("step %d: refund: %v", i, err)
			}
		}

		total := f.balance(t, alice) + f.balance(t, bob) + f.balance(t, carol) +
			f.balance(t, f.eng.Treasury().Account())
		if total != 2000 {
			t.Fatalf("step %d: total currency = %d, want 2000", i, total)
		}
		surplus, err := f.eng.Treasury().Reconcile(ctx)
		if err != nil {
			t.Fatalf("step %d: reconcile: %v", i, err)
		}
		if surplus != 0 {
			t.Fatalf("step %d: reserve surplus = %d, want 0", i, surplus)
		}
	}
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.submit(t, 10)
	f.submit(t, 20)
	f.lease(t, bob)

	stats, err := f.eng.QueueStats(ctx, "render")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 {
		t.Errorf("stats = %+v, want total 2 pending 1", stats)
	}
}

func TestSubscribe_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.eng.Subscribe(ctx, bob, nil, 1, 0); !taskfair.IsInvalidArgument(err) {
		t.Fatalf("subscribe without queues: got %v", err)
	}
	if _, err := f.eng.Subscribe(ctx, bob, []string{"render"}, 500, 0); !errors.Is(err, taskfair.ErrInvalidBatchSize) {
		t.Fatalf("oversized batch: got %v", err)
	}

	sub, err := f.eng.Subscribe(ctx, bob, []string{"render"}, 5, 10*time.Minute)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Re-subscribing updates in place.
	again, err := f.eng.Subscribe(ctx, bob, []string{"render", "transcode"}, 10, 10*time.Minute)
	if err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	if again.ID != sub.ID {
		t.Errorf("re-subscribe minted a new ID")
	}
	if len(again.Queues) != 2 || again.BatchSize != 10 {
		t.Errorf("subscription not updated: %+v", again)
	}

	// A poll advances LastSeen and applies the subscription's visibility.
	f.submit(t, 100)
	f.clock.Advance(time.Second)
	leased := f.lease(t, bob)
	wantDeadline := f.clock.Now().Add(10 * time.Minute)
	if !leased.Deadline.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v (subscription visibility)", leased.Deadline, wantDeadline)
	}
	got, _ := f.eng.Subscription(ctx, bob)
	if !got.LastSeen.Equal(f.clock.Now()) {
		t.Errorf("LastSeen not advanced: %v", got.LastSeen)
	}

	if err := f.eng.Unsubscribe(ctx, bob); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, err := f.eng.Subscription(ctx, bob); !errors.Is(err, taskfair.ErrSubscriptionNotFound) {
		t.Errorf("get after unsubscribe: got %v", err)
	}
}

func TestResubmitDeadLetter(t *testing.T) {
	f := newFixture(t, func(c *taskfair.Config) { c.MaxAttempts = 1 })
	ctx := context.Background()

	j := f.submit(t, 100)
	f.lease(t, bob)
	if _, err := f.eng.Fail(ctx, j.ID, bob, "broken"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	entries, err := f.eng.DeadLetters(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.JobID != j.ID || entry.Cause != "broken" {
		t.Errorf("entry = %+v", entry)
	}

	// Only the submitter or an admin may resubmit.
	if _, err := f.eng.ResubmitDeadLetter(ctx, entry.ID, bob); !errors.Is(err, taskfair.ErrUnauthorized) {
		t.Fatalf("resubmit by stranger: got %v", err)
	}

	fresh, err := f.eng.ResubmitDeadLetter(ctx, entry.ID, alice)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if fresh.ID == j.ID {
		t.Error("resubmit reused the dead job's ID")
	}
	if fresh.Status != job.StatusPending || fresh.Attempts != 0 {
		t.Errorf("fresh job = %+v", fresh)
	}
	// Fresh escrow charged to the original submitter.
	if got := f.balance(t, alice); got != 900 {
		t.Errorf("balance = %d, want 900", got)
	}

	// An entry resubmits once.
	if _, err := f.eng.ResubmitDeadLetter(ctx, entry.ID, alice); !taskfair.IsInvalidState(err) {
		t.Errorf("second resubmit: got %v", err)
	}
}

func TestOneEventPerTransition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	j := f.submit(t, 100)
	f.lease(t, bob)
	if _, err := f.eng.Complete(ctx, j.ID, bob, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.eng.VerifyAndRelease(ctx, j.ID, alice); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.eng.Delete(ctx, j.ID, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}

	wantOne := []event.Kind{
		event.KindSubmitted,
		event.KindLeased,
		event.KindCompleted,
		event.KindVerified,
		event.KindDeleted,
	}
	for _, kind := range wantOne {
		if got := f.drainEvents(t, kind); len(got) != 1 {
			t.Errorf("%s events = %d, want 1", kind, len(got))
		}
	}
	for _, kind := range []event.Kind{event.KindRejected, event.KindRetried, event.KindDeadLettered} {
		if got := f.drainEvents(t, kind); len(got) != 0 {
			t.Errorf("%s events = %d, want 0", kind, len(got))
		}
	}
}

// A submitter can wind down its own job without a privileged path:
// lease it itself, complete with a cancellation marker, verify to
// itself, and delete. Funds make a round trip back to the submitter.
func TestSelfServiceCancellation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	j := f.submit(t, 100)
	if got := f.balance(t, alice); got != 900 {
		t.Fatalf("balance after submit = %d, want 900", got)
	}

	leased := f.lease(t, alice)
	if leased.ID != j.ID {
		t.Fatalf("leased wrong job")
	}

	if _, err := f.eng.Complete(ctx, j.ID, alice, []byte("cancelled")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	verified, err := f.eng.VerifyAndRelease(ctx, j.ID, alice)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != job.StatusVerified {
		t.Fatalf("status = %s, want verified", verified.Status)
	}
	if err := f.eng.Delete(ctx, j.ID, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Stake settled back to the submitter-as-worker; nothing escrowed.
	if got := f.balance(t, alice); got != 1000 {
		t.Errorf("balance after cancellation = %d, want 1000", got)
	}
	escrowed, err := f.eng.Treasury().Escrowed(ctx)
	if err != nil {
		t.Fatalf("escrowed: %v", err)
	}
	if escrowed != 0 {
		t.Errorf("escrowed = %d, want 0", escrowed)
	}
	if _, err := f.eng.GetJob(ctx, j.ID); !errors.Is(err, taskfair.ErrJobNotFound) {
		t.Errorf("get after delete = %v, want ErrJobNotFound", err)
	}
}
