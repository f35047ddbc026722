package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/pulsestore/db"
	pstest "github.com/teranos/pulsestore/internal/testing"
)

var t0 = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// newTestStore returns a job store over a fresh database and an observer
// capturing its log entries.
func newTestStore(t *testing.T) (*Store, *db.Handle, *observer.ObservedLogs) {
	t.Helper()
	h := pstest.CreateTestHandle(t)
	core, logs := observer.New(zapcore.DebugLevel)
	return NewStore(h, StoreConfig{}, zap.New(core).Sugar()), h, logs
}

func testJob(id string, next *time.Time) *Job {
	return &Job{
		ID:          id,
		NextRunTime: next,
		Definition: Definition{
			Func:         "reports.nightly",
			Args:         json.RawMessage(`[1,"two"]`),
			Kwargs:       json.RawMessage(`{"dry_run":true}`),
			Trigger:      json.RawMessage(`{"type":"interval","seconds":60}`),
			Name:         id,
			MaxInstances: 1,
		},
	}
}

func at(t time.Time) *time.Time { return &t }
