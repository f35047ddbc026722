package schedule

import "time"

// Status of an Execution. The values are stored verbatim.
type Status string

// Execution status constants. StatusSent is the only non-terminal status.
const (
	StatusSent         Status = "Started execution"
	StatusSuccess      Status = "Executed"
	StatusError        Status = "Error!"
	StatusMissed       Status = "Missed!"
	StatusMaxInstances Status = "Max instances!"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusSuccess, StatusError, StatusMissed, StatusMaxInstances:
		return true
	}
	return false
}

// Terminal reports whether no further event may change a record in status s.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusSent
}

// Execution is one attempted run of a job at one scheduled time.
// There is at most one Execution per (JobID, RunTime).
//
// Started and Finished are Unix epoch seconds. Duration is Finished-Started
// and stays nil when the submission was never recorded.
type Execution struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	RunTime   time.Time `json:"run_time"` // scheduled fire time, not wall-clock start
	Status    Status    `json:"status"`
	Started   *float64  `json:"started,omitempty"`
	Finished  *float64  `json:"finished,omitempty"`
	Duration  *float64  `json:"duration,omitempty"`
	Exception *string   `json:"exception,omitempty"`
	Traceback *string   `json:"traceback,omitempty"`
}

// Outcome says what a write did to the stored record.
type Outcome int

const (
	// OutcomeCreated means no record existed and one was inserted.
	OutcomeCreated Outcome = iota
	// OutcomeUpdated means an existing SENT record was moved to a terminal status.
	OutcomeUpdated
	// OutcomeDiscarded means the event was stale or a duplicate; nothing changed.
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// transition is the change an event asks for.
type transition struct {
	status    Status
	exception *string
	traceback *string
}

// apply decides how current (nil when absent) changes under t at time now
// (epoch seconds). It returns the record to persist, or current unchanged
// with OutcomeDiscarded.
//
//	ABSENT   + SENT      -> SENT (started=now)
//	ABSENT   + terminal  -> terminal (finished=now, no started, no duration)
//	SENT     + SENT      -> discarded
//	SENT     + terminal  -> terminal (finished=now, duration if started)
//	terminal + anything  -> discarded
func apply(current *Execution, jobID string, runTime time.Time, t transition, now float64) (*Execution, Outcome) {
	if current == nil {
		next := &Execution{JobID: jobID, RunTime: runTime, Status: t.status}
		if t.status == StatusSent {
			next.Started = &now
		} else {
			next.Finished = &now
			next.Exception = t.exception
			next.Traceback = t.traceback
		}
		return next, OutcomeCreated
	}

	if current.Status.Terminal() || t.status == StatusSent {
		return current, OutcomeDiscarded
	}

	next := *current
	next.Status = t.status
	next.Finished = &now
	if next.Started != nil {
		d := now - *next.Started
		next.Duration = &d
	}
	next.Exception = t.exception
	next.Traceback = t.traceback
	return &next, OutcomeUpdated
}

// epochSeconds converts t to fractional Unix seconds.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
