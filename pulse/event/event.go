// Package event models scheduler lifecycle events and the bus the engine
// uses to deliver them to observers.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Code identifies an event kind. Codes are bit flags so listeners can
// subscribe to several kinds with one mask.
type Code uint32

const (
	SchedulerStarted Code = 1 << iota
	SchedulerShutdown
	JobAdded
	JobRemoved
	JobModified
	JobSubmitted
	JobExecuted
	JobError
	JobMissed
	JobMaxInstances

	// All matches every code.
	All Code = SchedulerStarted | SchedulerShutdown | JobAdded | JobRemoved | JobModified |
		JobSubmitted | JobExecuted | JobError | JobMissed | JobMaxInstances
)

var codeNames = []struct {
	code Code
	name string
}{
	{SchedulerStarted, "scheduler_started"},
	{SchedulerShutdown, "scheduler_shutdown"},
	{JobAdded, "job_added"},
	{JobRemoved, "job_removed"},
	{JobModified, "job_modified"},
	{JobSubmitted, "job_submitted"},
	{JobExecuted, "job_executed"},
	{JobError, "job_error"},
	{JobMissed, "job_missed"},
	{JobMaxInstances, "job_max_instances"},
}

// Has reports whether c shares any bit with mask.
func (c Code) Has(mask Code) bool {
	return c&mask != 0
}

func (c Code) String() string {
	var names []string
	for _, cn := range codeNames {
		if c&cn.code != 0 {
			names = append(names, cn.name)
		}
	}
	if rest := c &^ All; rest != 0 || len(names) == 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// Event is one lifecycle notification from the scheduling engine.
type Event struct {
	ID    uuid.UUID // unique per delivery, for tracing duplicates
	Code  Code
	JobID string
	// ScheduledRunTimes lists the fire times the event concerns. Submission
	// events may cover several coalesced runs; other job events carry one.
	ScheduledRunTimes []time.Time
	// Exception and Traceback are set on error events.
	Exception error
	Traceback string
	At        time.Time
}

// New returns an event with a fresh ID.
func New(code Code, jobID string, runTimes ...time.Time) Event {
	return Event{
		ID:                uuid.New(),
		Code:              code,
		JobID:             jobID,
		ScheduledRunTimes: runTimes,
		At:                time.Now(),
	}
}

// WithException returns a copy of e carrying err and its traceback.
func (e Event) WithException(err error, traceback string) Event {
	e.Exception = err
	e.Traceback = traceback
	return e
}

// RunTime returns the first scheduled run time.
func (e Event) RunTime() (time.Time, bool) {
	if len(e.ScheduledRunTimes) == 0 {
		return time.Time{}, false
	}
	return e.ScheduledRunTimes[0], true
}
