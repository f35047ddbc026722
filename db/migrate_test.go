package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("creates store tables", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		for _, table := range []string{"schema_migrations", "scheduled_jobs", "job_executions"} {
			var n int
			err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
			require.NoError(t, err)
			assert.Equal(t, 1, n, "table %s should exist", table)
		}

		versions, err := AppliedVersions(db)
		require.NoError(t, err)
		assert.Equal(t, []string{"000", "001", "002", "003"}, versions)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations multiple times should be safe")
	})

	t.Run("execution rows cascade with their job", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec("INSERT INTO scheduled_jobs (id, next_run_time, job_state) VALUES ('a', NULL, x'00')")
		require.NoError(t, err)
		_, err = db.Exec("INSERT INTO job_executions (job_id, status, run_time) VALUES ('a', 'Executed', '2024-01-01T00:00:00.000000000Z')")
		require.NoError(t, err)

		_, err = db.Exec("INSERT INTO job_executions (job_id, status, run_time) VALUES ('a', 'Executed', '2024-01-01T00:00:00.000000000Z')")
		assert.True(t, IsDuplicate(err), "(job_id, run_time) must be unique, got %v", err)

		_, err = db.Exec("INSERT INTO job_executions (job_id, status, run_time) VALUES ('ghost', 'Executed', '2024-01-01T00:00:00.000000000Z')")
		assert.True(t, IsForeignKey(err), "unknown job must violate the foreign key, got %v", err)

		_, err = db.Exec("DELETE FROM scheduled_jobs WHERE id = 'a'")
		require.NoError(t, err)

		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM job_executions").Scan(&n))
		assert.Equal(t, 0, n)
	})

	t.Run("widens microsecond timestamps", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`INSERT INTO scheduled_jobs (id, next_run_time, job_state) VALUES
			('aware', '2024-01-01T00:00:00.123456Z', x'00'),
			('naive', '2024-01-01 01:00:00.500000', x'00'),
			('current', '2024-01-01T00:00:00.123456789Z', x'00'),
			('paused', NULL, x'00')`)
		require.NoError(t, err)
		_, err = db.Exec("INSERT INTO job_executions (job_id, status, run_time) VALUES ('aware', 'Executed', '2024-01-01T00:00:00.000001Z')")
		require.NoError(t, err)

		sqlBytes, err := migrations.ReadFile("sqlite/migrations/003_widen_timestamp_precision.sql")
		require.NoError(t, err)
		_, err = db.Exec(string(sqlBytes))
		require.NoError(t, err)

		want := map[string]string{
			"aware":   "2024-01-01T00:00:00.123456000Z",
			"naive":   "2024-01-01 01:00:00.500000000",
			"current": "2024-01-01T00:00:00.123456789Z",
		}
		for id, text := range want {
			var got string
			require.NoError(t, db.QueryRow("SELECT next_run_time FROM scheduled_jobs WHERE id = ?", id).Scan(&got))
			assert.Equal(t, text, got, id)
		}

		var paused bool
		require.NoError(t, db.QueryRow("SELECT next_run_time IS NULL FROM scheduled_jobs WHERE id = 'paused'").Scan(&paused))
		assert.True(t, paused)

		var runTime string
		require.NoError(t, db.QueryRow("SELECT run_time FROM job_executions").Scan(&runTime))
		assert.Equal(t, "2024-01-01T00:00:00.000001000Z", runTime)
	})

	t.Run("fails on a closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		err = Migrate(db, nil)
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})
}
