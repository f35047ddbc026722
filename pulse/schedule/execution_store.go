package schedule

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsestore/db"
	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
)

const executionColumns = `id, job_id, status, run_time, started, finished, duration, exception, traceback`

// ExecutionStore handles persistence of job execution history.
// Every write is a read-decide-write inside one transaction, retried once on
// connectivity errors.
type ExecutionStore struct {
	handle *db.Handle
	norm   *Normalizer
	loc    *time.Location
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewExecutionStore creates a new execution store. A nil norm stores aware
// UTC timestamps.
func NewExecutionStore(h *db.Handle, norm *Normalizer, log *zap.SugaredLogger) *ExecutionStore {
	if norm == nil {
		norm = DefaultNormalizer()
	}
	return &ExecutionStore{
		handle: h,
		norm:   norm,
		loc:    norm.Location(),
		now:    time.Now,
		logger: logger.OrNop(log),
	}
}

// SetClock replaces the wall clock used for started/finished and purges.
func (s *ExecutionStore) SetClock(now func() time.Time) {
	s.now = now
}

// SetLocation sets the timezone RunTime is returned in.
func (s *ExecutionStore) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// GetOrCreateOnSubmission records a submission for (jobID, runTime).
// If a record already exists, whatever its status, it is returned unchanged
// with OutcomeDiscarded: a finish event may legitimately arrive first, and a
// terminal status is never regressed to SENT.
func (s *ExecutionStore) GetOrCreateOnSubmission(ctx context.Context, jobID string, runTime time.Time) (*Execution, Outcome, error) {
	return s.mutate(ctx, jobID, runTime, transition{status: StatusSent})
}

// Finalize moves the record for (jobID, runTime) to a terminal status,
// creating it when no submission was recorded. Duration is computed only
// when the record has a started time. A record that is already terminal is
// left as is (first terminal outcome wins) and OutcomeDiscarded is returned.
func (s *ExecutionStore) Finalize(ctx context.Context, jobID string, runTime time.Time, status Status, exception, traceback *string) (*Execution, Outcome, error) {
	if !status.Terminal() {
		return nil, OutcomeDiscarded, errors.AssertionFailedf("finalize requires a terminal status, got %q", status)
	}
	return s.mutate(ctx, jobID, runTime, transition{status: status, exception: exception, traceback: traceback})
}

func (s *ExecutionStore) mutate(ctx context.Context, jobID string, runTime time.Time, t transition) (*Execution, Outcome, error) {
	exec, outcome, err := s.mutateOnce(ctx, jobID, runTime, t)
	if db.IsDuplicate(err) {
		// Another process inserted the same key between our read and insert.
		// Re-read and decide again against its row.
		s.logger.Debugw("Execution inserted concurrently, re-reading",
			logger.FieldJobID, jobID,
			logger.FieldRunTime, runTime,
		)
		return s.mutateOnce(ctx, jobID, runTime, t)
	}
	return exec, outcome, err
}

func (s *ExecutionStore) mutateOnce(ctx context.Context, jobID string, runTime time.Time, t transition) (*Execution, Outcome, error) {
	type result struct {
		exec    *Execution
		outcome Outcome
	}

	key := s.norm.Format(runTime)
	selectQuery := `SELECT ` + executionColumns + ` FROM job_executions WHERE job_id = ? AND run_time = ?` + s.handle.Dialect().LockClause()

	res, err := db.Retry(ctx, s.handle, "execution "+string(t.status), func(conn *sql.DB) (result, error) {
		var r result
		err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
			current, err := s.scanExecution(tx.QueryRowContext(ctx, selectQuery, jobID, key))
			if errors.Is(err, sql.ErrNoRows) {
				current = nil
			} else if err != nil {
				return errors.Wrap(err, "failed to read execution")
			}

			next, outcome := apply(current, jobID, runTime, t, epochSeconds(s.now()))
			switch outcome {
			case OutcomeCreated:
				inserted, err := tx.ExecContext(ctx, `
					INSERT INTO job_executions (job_id, status, run_time, started, finished, duration, exception, traceback)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					jobID, next.Status, key,
					nullFloat(next.Started), nullFloat(next.Finished), nullFloat(next.Duration),
					nullString(next.Exception), nullString(next.Traceback),
				)
				if err != nil {
					return errors.Wrapf(err, "failed to create execution for job %s", jobID)
				}
				if next.ID, err = inserted.LastInsertId(); err != nil {
					return errors.Wrap(err, "failed to read execution id")
				}
			case OutcomeUpdated:
				updated, err := tx.ExecContext(ctx, `
					UPDATE job_executions
					SET status = ?, finished = ?, duration = ?, exception = ?, traceback = ?
					WHERE id = ?`,
					next.Status, nullFloat(next.Finished), nullFloat(next.Duration),
					nullString(next.Exception), nullString(next.Traceback), next.ID,
				)
				if err != nil {
					return errors.Wrapf(err, "failed to update execution %d", next.ID)
				}
				rowsAffected, err := updated.RowsAffected()
				if err != nil {
					return errors.Wrap(err, "failed to check rows affected")
				}
				if rowsAffected == 0 {
					return errors.NewNotFoundError("execution not found: %d", next.ID)
				}
			}
			r = result{exec: next, outcome: outcome}
			return nil
		})
		return r, err
	})
	if err != nil {
		return nil, OutcomeDiscarded, err
	}

	res.exec.RunTime = res.exec.RunTime.In(s.loc)
	return res.exec, res.outcome, nil
}

// GetExecution retrieves the record for (jobID, runTime).
func (s *ExecutionStore) GetExecution(ctx context.Context, jobID string, runTime time.Time) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE job_id = ? AND run_time = ?`
	key := s.norm.Format(runTime)

	return db.Retry(ctx, s.handle, "get execution", func(conn *sql.DB) (*Execution, error) {
		exec, err := s.scanExecution(conn.QueryRowContext(ctx, query, jobID, key))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("execution not found: %s at %s", jobID, key)
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to get execution")
		}
		return exec, nil
	})
}

// ListExecutions returns executions newest run first. An empty jobID lists
// every job; limit <= 0 means no limit.
func (s *ExecutionStore) ListExecutions(ctx context.Context, jobID string, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions`
	var args []any
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY run_time DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return db.Retry(ctx, s.handle, "list executions", func(conn *sql.DB) ([]*Execution, error) {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to query executions")
		}
		defer rows.Close()

		var executions []*Execution
		for rows.Next() {
			exec, err := s.scanExecution(rows)
			if err != nil {
				return nil, errors.Wrap(err, "failed to scan execution")
			}
			executions = append(executions, exec)
		}
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "error iterating executions")
		}
		return executions, nil
	})
}

// PurgeOlderThan deletes executions whose run time is at least maxAge in the
// past and returns how many were removed.
func (s *ExecutionStore) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge < 0 {
		return 0, errors.Newf("max age must be >= 0, got %s", maxAge)
	}
	cutoff := s.norm.Format(s.now().Add(-maxAge))

	deleted, err := db.Retry(ctx, s.handle, "purge executions", func(conn *sql.DB) (int64, error) {
		result, err := conn.ExecContext(ctx, `DELETE FROM job_executions WHERE run_time <= ?`, cutoff)
		if err != nil {
			return 0, errors.Wrap(err, "failed to delete old executions")
		}
		return result.RowsAffected()
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debugw("Purged old job executions",
		logger.FieldCount, deleted,
		logger.FieldMaxAge, maxAge,
	)
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *ExecutionStore) scanExecution(row rowScanner) (*Execution, error) {
	var (
		exec                        Execution
		status, runTime             string
		started, finished, duration sql.NullFloat64
		exception, traceback        sql.NullString
	)
	if err := row.Scan(&exec.ID, &exec.JobID, &status, &runTime,
		&started, &finished, &duration, &exception, &traceback); err != nil {
		return nil, err
	}

	rt, err := s.norm.Parse(runTime)
	if err != nil {
		return nil, err
	}
	exec.RunTime = rt.In(s.loc)
	exec.Status = Status(status)

	if started.Valid {
		exec.Started = &started.Float64
	}
	if finished.Valid {
		exec.Finished = &finished.Float64
	}
	if duration.Valid {
		exec.Duration = &duration.Float64
	}
	if exception.Valid {
		exec.Exception = &exception.String
	}
	if traceback.Valid {
		exec.Traceback = &traceback.String
	}
	return &exec, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
