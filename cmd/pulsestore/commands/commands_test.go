package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsestore/am"
	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/internal/util"
	"github.com/teranos/pulsestore/pulse/schedule"
)

var runTime = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// setupEnv points configuration at a fresh database and returns stores on it.
func setupEnv(t *testing.T) *stores {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("PULSESTORE_DATABASE_PATH", filepath.Join(dir, "cli.db"))
	am.Reset()
	t.Cleanup(am.Reset)
	pterm.DisableOutput()
	t.Cleanup(pterm.EnableOutput)

	s, err := openStores()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedJob(t *testing.T, s *stores, id string, next *time.Time) {
	t.Helper()
	require.NoError(t, s.jobs.AddJob(context.Background(), &schedule.Job{
		ID:          id,
		NextRunTime: next,
		Definition: schedule.Definition{
			Func:         "reports.nightly",
			Name:         "Nightly " + id,
			Args:         json.RawMessage(`[1,2]`),
			Trigger:      json.RawMessage(`{"type":"cron","hour":3}`),
			MaxInstances: 1,
		},
	}))
}

func TestJobsTable(t *testing.T) {
	data := jobsTable([]*schedule.Job{
		{ID: "a", NextRunTime: util.Ptr(runTime), Definition: schedule.Definition{Name: "A", Func: "f"}},
		{ID: "b", Definition: schedule.Definition{Func: "g"}},
	}, time.RFC3339)
	require.Len(t, data, 3)
	assert.Equal(t, []string{"a", "A", "f", "2024-06-01T09:30:00Z"}, data[1])
	assert.Equal(t, "paused", data[2][3])

	data = jobsTable([]*schedule.Job{{ID: "a", NextRunTime: util.Ptr(runTime)}}, "Jan 2, 2006, 15:04")
	assert.Equal(t, "Jun 1, 2024, 09:30", data[1][3])
}

func TestJobsShowYAML(t *testing.T) {
	s := setupEnv(t)
	seedJob(t, s, "nightly", util.Ptr(runTime))
	_, _, err := s.executions.Finalize(context.Background(), "nightly", runTime.Add(-24*time.Hour), schedule.StatusError, util.Ptr("boom"), nil)
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runJobsShow(cmd, []string{"nightly"}))

	text := out.String()
	assert.Contains(t, text, "id: nightly")
	assert.Contains(t, text, "func: reports.nightly")
	assert.Contains(t, text, "type: cron")
	assert.Contains(t, text, "Error!")
	assert.Contains(t, text, "exception: boom")

	err = runJobsShow(cmd, []string{"missing"})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestJobsRm(t *testing.T) {
	s := setupEnv(t)
	seedJob(t, s, "one", util.Ptr(runTime))
	seedJob(t, s, "two", nil)
	ctx := context.Background()

	assert.Error(t, runJobsRm(JobsCmd, nil), "needs an id or --all")

	require.NoError(t, runJobsRm(JobsCmd, []string{"one"}))
	job, err := s.jobs.LookupJob(ctx, "one")
	require.NoError(t, err)
	assert.Nil(t, job)

	err = runJobsRm(JobsCmd, []string{"one"})
	assert.True(t, errors.IsNotFoundError(err))

	jobsRmAll = true
	defer func() { jobsRmAll = false }()
	require.NoError(t, runJobsRm(JobsCmd, nil))
	all, err := s.jobs.GetAllJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPurge(t *testing.T) {
	s := setupEnv(t)
	seedJob(t, s, "p", util.Ptr(runTime))
	ctx := context.Background()
	now := time.Now()
	for _, age := range []time.Duration{96 * time.Hour, time.Hour} {
		_, _, err := s.executions.Finalize(ctx, "p", now.Add(-age), schedule.StatusSuccess, nil, nil)
		require.NoError(t, err)
	}

	purgeMaxAge = 72 * time.Hour
	defer func() { purgeMaxAge = 0 }()
	require.NoError(t, runPurge(PurgeCmd, nil))

	left, err := s.executions.ListExecutions(ctx, "p", 0)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestExecutionsTable(t *testing.T) {
	data := executionsTable([]*schedule.Execution{
		{ID: 1, JobID: "a", RunTime: runTime, Status: schedule.StatusSuccess, Duration: util.Ptr(1.25)},
		{ID: 2, JobID: "a", RunTime: runTime, Status: schedule.StatusMissed, Exception: util.Ptr("missed")},
	}, "2006-01-02 15:04")
	require.Len(t, data, 3)
	assert.Equal(t, "2024-06-01 09:30", data[1][2])
	assert.Equal(t, "1.25s", data[1][4])
	assert.Equal(t, "N/A", data[2][4])
	assert.Equal(t, "missed", data[2][5])
}

func TestDbCommands(t *testing.T) {
	setupEnv(t)
	require.NoError(t, runDbMigrate(DbCmd, nil))
	require.NoError(t, runDbStatus(DbCmd, nil))
}

func TestAmGet(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runAmGet(cmd, []string{"store.timezone_mode"}))
	assert.Equal(t, "aware\n", out.String())

	assert.Error(t, runAmGet(cmd, []string{"no.such.key"}))
}

func TestAmSet(t *testing.T) {
	setupEnv(t)

	require.NoError(t, runAmSet(AmCmd, []string{"retention.max_age_seconds", "3600"}))
	cfg, err := am.Load()
	require.NoError(t, err)
	assert.Equal(t, 3600, cfg.Retention.MaxAgeSeconds)

	assert.Error(t, runAmSet(AmCmd, []string{"retention.max_age_seconds", "-5"}))
	assert.Error(t, runAmSet(AmCmd, []string{"unknown.key", "1"}))
}

func TestAmShowFormats(t *testing.T) {
	setupEnv(t)
	defer func() { configFormat = "toml" }()

	for _, format := range []string{"toml", "json", "yaml"} {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)
		configFormat = format
		require.NoError(t, runAmShow(cmd, nil), format)
		assert.Contains(t, out.String(), "timezone_mode", format)
	}

	configFormat = "xml"
	assert.Error(t, runAmShow(&cobra.Command{}, nil))
}
