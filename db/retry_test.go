package db

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/pulsestore/errors"
)

const countJobs = "SELECT count(*) FROM scheduled_jobs"

// mockHandle returns a Handle whose opener hands out the given sqlmock pools
// in order.
func mockHandle(t *testing.T, log *zap.SugaredLogger, n int) (*Handle, []sqlmock.Sqlmock, *int) {
	t.Helper()

	var pools []*sql.DB
	var mocks []sqlmock.Sqlmock
	for i := 0; i < n; i++ {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		pools = append(pools, db)
		mocks = append(mocks, mock)
	}

	opened := 0
	open := func() (*sql.DB, error) {
		if opened >= len(pools) {
			return nil, errors.New("unable to open database file")
		}
		db := pools[opened]
		opened++
		return db, nil
	}

	h, err := NewHandle(open, DialectSQLite, log)
	require.NoError(t, err)
	return h, mocks, &opened
}

func countFn(ctx context.Context) func(*sql.DB) (int, error) {
	return func(db *sql.DB) (int, error) {
		var n int
		err := db.QueryRowContext(ctx, countJobs).Scan(&n)
		return n, err
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers from a transient error with one reconnect", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		h, mocks, opened := mockHandle(t, zap.New(core).Sugar(), 2)

		mocks[0].ExpectQuery(regexp.QuoteMeta(countJobs)).WillReturnError(errors.New("invalid connection"))
		mocks[1].ExpectQuery(regexp.QuoteMeta(countJobs)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))

		n, err := Retry(ctx, h, "count jobs", countFn(ctx))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, int64(1), h.Reconnects())
		assert.Equal(t, 2, *opened)

		warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
		require.Len(t, warnings, 1)
		assert.Equal(t, "count jobs", warnings[0].ContextMap()["operation"])

		for _, m := range mocks {
			assert.NoError(t, m.ExpectationsWereMet())
		}
	})

	t.Run("propagates the error when the retry also fails", func(t *testing.T) {
		h, mocks, _ := mockHandle(t, nil, 2)

		mocks[0].ExpectQuery(regexp.QuoteMeta(countJobs)).WillReturnError(errors.New("invalid connection"))
		mocks[1].ExpectQuery(regexp.QuoteMeta(countJobs)).WillReturnError(errors.New("connection refused"))

		_, err := Retry(ctx, h, "count jobs", countFn(ctx))
		require.Error(t, err)
		assert.True(t, errors.IsTransientError(err))
		assert.Equal(t, "connection refused", err.Error(), "original message must be preserved")
		assert.Equal(t, int64(1), h.Reconnects(), "exactly one retry, no loop")
	})

	t.Run("passes non-transient errors through untouched", func(t *testing.T) {
		h, mocks, opened := mockHandle(t, nil, 2)

		constraint := errors.New("UNIQUE constraint failed: job_executions.job_id, job_executions.run_time")
		mocks[0].ExpectExec("INSERT INTO job_executions").WillReturnError(constraint)

		err := RetryExec(ctx, h, "insert execution", func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, "INSERT INTO job_executions (job_id) VALUES (?)", "a")
			return err
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, constraint))
		assert.False(t, errors.IsTransientError(err))
		assert.Equal(t, int64(0), h.Reconnects())
		assert.Equal(t, 1, *opened)
	})

	t.Run("not found is never retried", func(t *testing.T) {
		h, _, opened := mockHandle(t, nil, 1)

		_, err := Retry(ctx, h, "lookup", func(*sql.DB) (int, error) {
			return 0, errors.NewNotFoundError("job %q not found", "x")
		})
		assert.True(t, errors.IsNotFoundError(err))
		assert.Equal(t, 1, *opened)
	})

	t.Run("reconnect failure keeps the original error", func(t *testing.T) {
		h, mocks, _ := mockHandle(t, nil, 1)
		mocks[0].ExpectQuery(regexp.QuoteMeta(countJobs)).WillReturnError(errors.New("broken pipe"))

		_, err := Retry(ctx, h, "count jobs", countFn(ctx))
		require.Error(t, err)
		assert.True(t, errors.IsTransientError(err))
		assert.Contains(t, err.Error(), "broken pipe")
		assert.Equal(t, int64(0), h.Reconnects())
	})
}

func TestWithTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM scheduled_jobs").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM scheduled_jobs")
		return err
	}))

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("boom")
	err = WithTx(ctx, db, func(*sql.Tx) error { return boom })
	assert.True(t, errors.Is(err, boom))

	assert.NoError(t, mock.ExpectationsWereMet())
}
