package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
)

// CreateJob persists a new pending job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return taskfair.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskfair/bun: create job: %w", err)
	}
	return nil
}

// LeaseJobs atomically claims up to limit jobs from the queue for the
// worker: its own live leases first (untouched), then pending jobs by
// stake descending, arrival, ID. The top-up uses FOR UPDATE SKIP LOCKED
// so concurrent pollers never both claim the same pending job.
func (s *Store) LeaseJobs(ctx context.Context, queue string, w taskfair.Actor, limit int, now time.Time, visibility time.Duration) ([]*job.Job, error) {
	var ownModels []jobModel
	err := s.db.NewSelect().Model(&ownModels).
		Where("status = ?", string(job.StatusLeased)).
		Where("queue = ?", queue).
		Where("worker = ?", string(w)).
		Where("deadline > ?", now).
		Order("leased_at ASC", "id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: lease jobs (own): %w", err)
	}

	result := make([]*job.Job, 0, limit)
	for i := range ownModels {
		j, convErr := fromJobModel(&ownModels[i])
		if convErr != nil {
			return nil, convErr
		}
		result = append(result, j)
	}

	remaining := limit - len(result)
	if remaining <= 0 {
		return result, nil
	}

	// A zero visibility falls back to each job's own timeout, resolved
	// inside the UPDATE so the claim stays one statement.
	var claimedModels []jobModel
	_, err = s.db.NewRaw(`
		WITH claimed AS (
			UPDATE taskfair_jobs
			SET status = ?0,
			    worker = ?1,
			    leased_at = ?2,
			    deadline = ?2 + make_interval(secs =>
			        (CASE WHEN ?3 > 0 THEN ?3 ELSE visibility_timeout END)::double precision / 1000000000.0),
			    updated_at = ?2
			WHERE id IN (
				SELECT id FROM taskfair_jobs
				WHERE status = ?4 AND queue = ?5
				ORDER BY stake DESC, created_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT ?6
			)
			RETURNING *
		)
		SELECT * FROM claimed ORDER BY stake DESC, created_at ASC, id ASC`,
		string(job.StatusLeased), string(w), now, visibility.Nanoseconds(),
		string(job.StatusPending), queue, remaining,
	).Exec(ctx, &claimedModels)
	if err != nil {
		return nil, fmt.Errorf("taskfair/bun: lease jobs: %w", err)
	}

	for i := range claimedModels {
		j, convErr := fromJobModel(&claimedModels[i])
		if convErr != nil {
			return nil, convErr
		}
		result = append(result, j)
	}
	return result, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, taskfair.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskfair/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// SwapJob persists j only if the stored job still matches the guard.
func (s *Store) SwapJob(ctx context.Context, j *job.Job, expected job.Guard) error {
	m := toJobModel(j)
	res, err := s.db.NewUpdate().Model(m).
		WherePK().
		Where("status = ?", string(expected.Status)).
		Where("worker = ?", string(expected.Worker)).
		Where("leased_at IS NOT DISTINCT FROM ?", expected.LeasedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskfair/bun: swap job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.jobMissReason(ctx, j.ID)
	}
	return nil
}

// DeleteJob removes the job only if its stored status still equals
// expected.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID, expected job.Status) error {
	res, err := s.db.NewDelete().
		TableExpr("taskfair_jobs").
		Where("id = ?", jobID.String()).
		Where("status = ?", string(expected)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskfair/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.jobMissReason(ctx, jobID)
	}
	return nil
}

// jobMissReason distinguishes a missing job from a lost status race
// after a conditional write touched zero rows.
func (s *Store) jobMissReason(ctx context.Context, jobID id.JobID) error {
	exists, err := s.db.NewSelect().
		TableExpr("taskfair_jobs").
		Where("id = ?", jobID.String()).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("taskfair/bun: job exists: %w", err)
	}
	if !exists {
		return taskfair.ErrJobNotFound
	}
	return taskfair.ErrInvalidState
}

// ListJobsByStatus returns jobs matching the given status.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", string(status))

	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}

	q = q.Order("created_at ASC", "id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("taskfair/bun: list jobs by status: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ListExpiredLeases returns leased jobs whose deadline is at or before
// now, oldest deadline first.
func (s *Store) ListExpiredLeases(ctx context.Context, queue string, now time.Time, limit int) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", string(job.StatusLeased)).
		Where("deadline <= ?", now)

	if queue != "" {
		q = q.Where("queue = ?", queue)
	}

	q = q.Order("deadline ASC", "id ASC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("taskfair/bun: list expired leases: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))

	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("taskfair/bun: count jobs: %w", err)
	}
	return int64(count), nil
}
