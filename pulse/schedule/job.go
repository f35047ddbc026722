// Package schedule persists scheduler jobs and their execution history.
//
// The scheduling engine itself (triggers, thread pools, wakeups) lives
// outside this package. It loads and saves jobs through Store and reports
// lifecycle events that pulse/reconcile turns into Execution rows.
package schedule

import (
	"encoding/json"
	"time"
)

// CurrentDefinitionVersion is written into every encoded job definition.
const CurrentDefinitionVersion = "1.0.0"

// Job is a schedulable unit of work.
type Job struct {
	ID          string
	NextRunTime *time.Time // nil means paused
	Definition  Definition
}

// Paused reports whether the job has no future run scheduled.
func (j *Job) Paused() bool {
	return j.NextRunTime == nil
}

// Definition is the engine-owned description of a job. The store persists
// it as an opaque blob through a Codec and never interprets Trigger.
type Definition struct {
	Version          string          `json:"version"`
	Func             string          `json:"func"` // registered name, see Registry
	Args             json.RawMessage `json:"args,omitempty"`
	Kwargs           json.RawMessage `json:"kwargs,omitempty"`
	Trigger          json.RawMessage `json:"trigger,omitempty"`
	Name             string          `json:"name,omitempty"`
	Executor         string          `json:"executor,omitempty"`
	MisfireGraceTime *int64          `json:"misfire_grace_time,omitempty"` // seconds
	Coalesce         bool            `json:"coalesce"`
	MaxInstances     int             `json:"max_instances"`
}
