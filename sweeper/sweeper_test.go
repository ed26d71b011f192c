package sweeper_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/sweeper"
)

type fakeReleaser struct {
	mu       sync.Mutex
	stale    map[string][]*job.Job
	released map[string]taskfair.Actor
	raced    map[string]bool
}

func newFakeReleaser() *fakeReleaser {
	return &fakeReleaser{
		stale:    make(map[string][]*job.Job),
		released: make(map[string]taskfair.Actor),
		raced:    make(map[string]bool),
	}
}

func (f *fakeReleaser) ExpiredLeases(_ context.Context, queue string, _ int) ([]*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if queue == "" {
		var all []*job.Job
		for _, jobs := range f.stale {
			all = append(all, jobs...)
		}
		return all, nil
	}
	return f.stale[queue], nil
}

func (f *fakeReleaser) ReleaseExpired(_ context.Context, jobID id.JobID, by taskfair.Actor) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raced[jobID.String()] {
		return nil, taskfair.ErrInvalidState
	}
	f.released[jobID.String()] = by
	return nil, nil
}

func TestSweep_ReleasesStaleLeases(t *testing.T) {
	r := newFakeReleaser()
	a := &job.Job{ID: id.NewJobID(), Queue: "render"}
	b := &job.Job{ID: id.NewJobID(), Queue: "transcode"}
	r.stale["render"] = []*job.Job{a}
	r.stale["transcode"] = []*job.Job{b}

	s := sweeper.New(r,
		sweeper.WithQueues("render", "transcode"),
		sweeper.WithActor("janitor"),
		sweeper.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(r.released) != 2 {
		t.Fatalf("released %d, want 2", len(r.released))
	}
	if r.released[a.ID.String()] != "janitor" {
		t.Errorf("released by %s, want janitor", r.released[a.ID.String()])
	}
}

func TestSweep_AllQueuesByDefault(t *testing.T) {
	r := newFakeReleaser()
	a := &job.Job{ID: id.NewJobID(), Queue: "render"}
	r.stale["render"] = []*job.Job{a}

	s := sweeper.New(r, sweeper.WithLogger(slog.New(slog.DiscardHandler)))
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(r.released) != 1 {
		t.Fatalf("released %d, want 1", len(r.released))
	}
}

func TestSweep_SkipsRaces(t *testing.T) {
	r := newFakeReleaser()
	won := &job.Job{ID: id.NewJobID(), Queue: "render"}
	lost := &job.Job{ID: id.NewJobID(), Queue: "render"}
	r.stale["render"] = []*job.Job{won, lost}
	r.raced[lost.ID.String()] = true

	s := sweeper.New(r,
		sweeper.WithQueues("render"),
		sweeper.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep should tolerate release races: %v", err)
	}
	if len(r.released) != 1 {
		t.Fatalf("released %d, want 1", len(r.released))
	}
}
