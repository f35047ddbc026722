package schedule

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsestore/db"
	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
)

// DefaultPingInterval is how often GetDueJobs verifies the connection.
const DefaultPingInterval = 30 * time.Second

// StoreConfig configures a Store. Zero values select defaults.
type StoreConfig struct {
	Codec       Codec           // default: NewJSONCodec(nil)
	Normalizer  *Normalizer     // default: aware UTC
	Location    *time.Location  // engine timezone for returned times; default: Normalizer.Location()
	HealthCheck *db.HealthCheck // default: ping every DefaultPingInterval
}

// Store is the durable job store used by the scheduling engine.
// It keeps no cache: every read goes to the database.
type Store struct {
	handle *db.Handle
	codec  Codec
	norm   *Normalizer
	loc    *time.Location
	health *db.HealthCheck
	logger *zap.SugaredLogger
}

// storedJob is a row before its state blob is decoded.
type storedJob struct {
	id          string
	nextRunTime sql.NullString
	state       []byte
}

// NewStore creates a new job store over h.
func NewStore(h *db.Handle, cfg StoreConfig, log *zap.SugaredLogger) *Store {
	if cfg.Codec == nil {
		cfg.Codec = NewJSONCodec(nil)
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = DefaultNormalizer()
	}
	if cfg.Location == nil {
		cfg.Location = cfg.Normalizer.Location()
	}
	if cfg.HealthCheck == nil {
		cfg.HealthCheck = db.NewHealthCheck(h, DefaultPingInterval, nil)
	}
	return &Store{
		handle: h,
		codec:  cfg.Codec,
		norm:   cfg.Normalizer,
		loc:    cfg.Location,
		health: cfg.HealthCheck,
		logger: logger.OrNop(log),
	}
}

// Normalizer returns the store's timestamp normalizer.
func (s *Store) Normalizer() *Normalizer { return s.norm }

// LookupJob returns the job with id, or nil if there is none. A job whose
// state cannot be decoded is reported as absent and left in place; bulk
// queries quarantine it.
func (s *Store) LookupJob(ctx context.Context, id string) (*Job, error) {
	row, err := db.Retry(ctx, s.handle, "lookup job", func(conn *sql.DB) (*storedJob, error) {
		var r storedJob
		err := conn.QueryRowContext(ctx,
			`SELECT id, next_run_time, job_state FROM scheduled_jobs WHERE id = ?`, id,
		).Scan(&r.id, &r.nextRunTime, &r.state)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to lookup job %s", id)
		}
		return &r, nil
	})
	if err != nil || row == nil {
		return nil, err
	}

	job, err := s.restore(row)
	if err != nil {
		s.logger.Warnw("Unable to restore job, reporting it as absent",
			logger.FieldJobID, id,
			logger.FieldError, err,
		)
		return nil, nil
	}
	return job, nil
}

// GetDueJobs returns jobs whose next run time is at or before now, earliest
// first. Paused jobs are never due. The connection health check runs first.
func (s *Store) GetDueJobs(ctx context.Context, now time.Time) ([]*Job, error) {
	if _, err := s.health.Check(ctx); err != nil {
		s.logger.Warnw("Database health check failed", logger.FieldError, err)
	}
	return s.getJobs(ctx, "get due jobs",
		`WHERE next_run_time IS NOT NULL AND next_run_time <= ? ORDER BY next_run_time, id`,
		s.norm.Format(now),
	)
}

// GetNextRunTime returns the earliest scheduled run time, or nil when every
// job is paused or there are no jobs.
func (s *Store) GetNextRunTime(ctx context.Context) (*time.Time, error) {
	next, err := db.Retry(ctx, s.handle, "get next run time", func(conn *sql.DB) (sql.NullString, error) {
		var v sql.NullString
		err := conn.QueryRowContext(ctx,
			`SELECT MIN(next_run_time) FROM scheduled_jobs WHERE next_run_time IS NOT NULL`,
		).Scan(&v)
		if err != nil {
			return v, errors.Wrap(err, "failed to get next run time")
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return s.norm.FromStorage(next, s.loc)
}

// GetAllJobs returns every job, scheduled ones by next run time and paused
// ones last. Jobs that cannot be decoded are removed and left out.
func (s *Store) GetAllJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := s.getJobs(ctx, "get all jobs", `ORDER BY next_run_time, id`)
	if err != nil {
		return nil, err
	}
	fixPausedJobsSorting(jobs)
	return jobs, nil
}

// fixPausedJobsSorting moves paused jobs behind scheduled ones, keeping the
// relative order within each group. NULL ordering differs between backends.
func fixPausedJobsSorting(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return !jobs[i].Paused() && jobs[j].Paused()
	})
}

// AddJob inserts job. If the id already exists the stored record is
// refreshed with job's values and a warning is logged.
func (s *Store) AddJob(ctx context.Context, job *Job) error {
	state, err := s.codec.Marshal(job)
	if err != nil {
		return err
	}
	nextRunTime := s.norm.ToStorage(job.NextRunTime)

	refreshed, err := db.Retry(ctx, s.handle, "add job", func(conn *sql.DB) (bool, error) {
		var refreshed bool
		err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, `
				INSERT INTO scheduled_jobs (id, next_run_time, job_state)
				VALUES (?, ?, ?)
				ON CONFLICT(id) DO NOTHING`,
				job.ID, nextRunTime, state,
			)
			if err != nil {
				return errors.Wrapf(err, "failed to add job %s", job.ID)
			}
			inserted, err := result.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "failed to check rows affected")
			}
			if inserted > 0 {
				return nil
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE scheduled_jobs SET next_run_time = ?, job_state = ? WHERE id = ?`,
				nextRunTime, state, job.ID,
			); err != nil {
				return errors.Wrapf(err, "failed to refresh job %s", job.ID)
			}
			refreshed = true
			return nil
		})
		return refreshed, err
	})
	if err != nil {
		return err
	}

	if refreshed {
		s.logger.Warnw("Job already exists, refreshed it in place",
			logger.FieldJobID, job.ID,
			logger.FieldNextRunTime, nextRunTime,
		)
	} else {
		s.logger.Debugw("Job added", logger.FieldJobID, job.ID, logger.FieldNextRunTime, nextRunTime)
	}
	return nil
}

// UpdateJob overwrites the next run time and state of an existing job.
// It returns a not-found error if no row matched.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	state, err := s.codec.Marshal(job)
	if err != nil {
		return err
	}
	nextRunTime := s.norm.ToStorage(job.NextRunTime)
	lock := s.handle.Dialect().LockClause()

	return db.RetryExec(ctx, s.handle, "update job", func(conn *sql.DB) error {
		return db.WithTx(ctx, conn, func(tx *sql.Tx) error {
			if lock != "" {
				var id string
				err := tx.QueryRowContext(ctx, `SELECT id FROM scheduled_jobs WHERE id = ?`+lock, job.ID).Scan(&id)
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return errors.Wrapf(err, "failed to lock job %s", job.ID)
				}
			}

			result, err := tx.ExecContext(ctx,
				`UPDATE scheduled_jobs SET next_run_time = ?, job_state = ? WHERE id = ?`,
				nextRunTime, state, job.ID,
			)
			if err != nil {
				return errors.Wrapf(err, "failed to update job %s", job.ID)
			}
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "failed to check rows affected")
			}
			if rowsAffected == 0 {
				return jobNotFound(job.ID)
			}
			return nil
		})
	})
}

// RemoveJob deletes the job and, by cascade, its executions.
func (s *Store) RemoveJob(ctx context.Context, id string) error {
	return db.RetryExec(ctx, s.handle, "remove job", func(conn *sql.DB) error {
		result, err := conn.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
		if err != nil {
			return errors.Wrapf(err, "failed to remove job %s", id)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to check rows affected")
		}
		if rowsAffected == 0 {
			return jobNotFound(id)
		}
		return nil
	})
}

// RemoveAllJobs deletes every job. Executions go with them through the
// foreign key cascade.
func (s *Store) RemoveAllJobs(ctx context.Context) error {
	removed, err := db.Retry(ctx, s.handle, "remove all jobs", func(conn *sql.DB) (int64, error) {
		result, err := conn.ExecContext(ctx, `DELETE FROM scheduled_jobs`)
		if err != nil {
			return 0, errors.Wrap(err, "failed to remove all jobs")
		}
		return result.RowsAffected()
	})
	if err != nil {
		return err
	}
	s.logger.Infow("Removed all jobs", logger.FieldCount, removed)
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.handle.Close()
}

// getJobs loads rows matching clause, decodes them and quarantines the ones
// that fail to decode.
func (s *Store) getJobs(ctx context.Context, op, clause string, args ...any) ([]*Job, error) {
	rows, err := db.Retry(ctx, s.handle, op, func(conn *sql.DB) ([]storedJob, error) {
		rows, err := conn.QueryContext(ctx, `SELECT id, next_run_time, job_state FROM scheduled_jobs `+clause, args...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to query jobs")
		}
		defer rows.Close()

		var stored []storedJob
		for rows.Next() {
			var r storedJob
			if err := rows.Scan(&r.id, &r.nextRunTime, &r.state); err != nil {
				return nil, errors.Wrap(err, "failed to scan job")
			}
			stored = append(stored, r)
		}
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "error iterating jobs")
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(rows))
	var failed []string
	for i := range rows {
		job, err := s.restore(&rows[i])
		if err != nil {
			s.logger.Errorw("Unable to restore job, removing it",
				logger.FieldJobID, rows[i].id,
				logger.FieldError, err,
			)
			failed = append(failed, rows[i].id)
			continue
		}
		jobs = append(jobs, job)
	}

	if len(failed) > 0 {
		if err := s.quarantine(ctx, failed); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (s *Store) restore(r *storedJob) (*Job, error) {
	job, err := s.codec.Unmarshal(r.id, r.state)
	if err != nil {
		return nil, err
	}
	next, err := s.norm.FromStorage(r.nextRunTime, s.loc)
	if err != nil {
		return nil, errors.NewDecodeError(err, r.id)
	}
	job.ID = r.id
	job.NextRunTime = next
	return job, nil
}

// quarantine deletes jobs whose state could not be restored.
func (s *Store) quarantine(ctx context.Context, ids []string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	removed, err := db.Retry(ctx, s.handle, "quarantine jobs", func(conn *sql.DB) (int64, error) {
		result, err := conn.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, errors.Wrap(err, "failed to remove unrestorable jobs")
		}
		return result.RowsAffected()
	})
	if err != nil {
		return err
	}

	s.logger.Warnw("Removed jobs that could not be restored",
		logger.FieldCount, removed,
		"job_ids", ids,
	)
	return nil
}

func jobNotFound(id string) error {
	return errors.NewNotFoundError("job %q not found", id)
}
