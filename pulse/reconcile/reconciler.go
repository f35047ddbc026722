// Package reconcile turns scheduler lifecycle events into execution records.
//
// The engine may deliver submission, execution and error events for the
// same run in any order and more than once. The Reconciler serializes the
// read-decide-write step under one lock and relies on the execution store
// never regressing a terminal status, so the stored record converges to the
// first terminal outcome regardless of delivery order.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsestore/db"
	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
	"github.com/teranos/pulsestore/pulse/event"
	"github.com/teranos/pulsestore/pulse/schedule"
)

// Masks the handlers are registered for.
const (
	SubmissionMask = event.JobSubmitted | event.JobMaxInstances
	ExecutionMask  = event.JobExecuted
	ErrorMask      = event.JobError | event.JobMissed
)

// Engine is the part of the scheduling engine the reconciler attaches to.
type Engine interface {
	AddListener(l event.Listener, mask event.Code)
	CreateLock() sync.Locker
}

// Executions is the subset of schedule.ExecutionStore the reconciler uses.
type Executions interface {
	GetOrCreateOnSubmission(ctx context.Context, jobID string, runTime time.Time) (*schedule.Execution, schedule.Outcome, error)
	Finalize(ctx context.Context, jobID string, runTime time.Time, status schedule.Status, exception, traceback *string) (*schedule.Execution, schedule.Outcome, error)
}

// Reconciler records execution outcomes reported by the engine.
type Reconciler struct {
	executions Executions
	lock       sync.Locker
	logger     *zap.SugaredLogger
}

// New creates a Reconciler. A nil lock gets a private mutex.
func New(executions Executions, lock sync.Locker, log *zap.SugaredLogger) *Reconciler {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Reconciler{
		executions: executions,
		lock:       lock,
		logger:     logger.OrNop(log).Named("reconcile"),
	}
}

// Register creates a Reconciler sharing the engine's lock and subscribes its
// three handlers.
func Register(engine Engine, executions Executions, log *zap.SugaredLogger) *Reconciler {
	r := New(executions, engine.CreateLock(), log)
	engine.AddListener(r.listener(r.HandleSubmission), SubmissionMask)
	engine.AddListener(r.listener(r.HandleExecution), ExecutionMask)
	engine.AddListener(r.listener(r.HandleError), ErrorMask)
	return r
}

func (r *Reconciler) listener(h func(context.Context, event.Event) (int64, error)) event.Listener {
	return func(ctx context.Context, ev event.Event) error {
		_, err := h(ctx, ev)
		return err
	}
}

// HandleSubmission records a submitted or max-instances event and returns
// the execution ID, or 0 when the job no longer exists.
func (r *Reconciler) HandleSubmission(ctx context.Context, ev event.Event) (int64, error) {
	switch ev.Code {
	case event.JobSubmitted:
		return r.record(ctx, ev, schedule.StatusSent, nil, nil)
	case event.JobMaxInstances:
		msg := fmt.Sprintf("Execution of job '%s' skipped: maximum number of running instances reached!", ev.JobID)
		return r.record(ctx, ev, schedule.StatusMaxInstances, &msg, nil)
	default:
		return 0, unsupported(ev, SubmissionMask)
	}
}

// HandleExecution records a successful execution.
func (r *Reconciler) HandleExecution(ctx context.Context, ev event.Event) (int64, error) {
	if ev.Code != event.JobExecuted {
		return 0, unsupported(ev, ExecutionMask)
	}
	return r.record(ctx, ev, schedule.StatusSuccess, nil, nil)
}

// HandleError records a failed or missed execution. Without an exception
// on the event a message naming the job is stored instead.
func (r *Reconciler) HandleError(ctx context.Context, ev event.Event) (int64, error) {
	switch ev.Code {
	case event.JobError:
		var msg string
		var traceback *string
		if ev.Exception != nil {
			msg = ev.Exception.Error()
			tb := ev.Traceback
			if tb == "" {
				tb = fmt.Sprintf("%+v", ev.Exception)
			}
			traceback = &tb
		} else {
			msg = fmt.Sprintf("Job '%s' raised an error!", ev.JobID)
		}
		return r.record(ctx, ev, schedule.StatusError, &msg, traceback)
	case event.JobMissed:
		msg := fmt.Sprintf("Run time of job '%s' was missed!", ev.JobID)
		return r.record(ctx, ev, schedule.StatusMissed, &msg, nil)
	default:
		return 0, unsupported(ev, ErrorMask)
	}
}

func (r *Reconciler) record(ctx context.Context, ev event.Event, status schedule.Status, exception, traceback *string) (int64, error) {
	runTime, ok := ev.RunTime()
	if !ok {
		return 0, errors.AssertionFailedf("event %s for job %q carries no scheduled run time", ev.Code, ev.JobID)
	}

	log := logger.LoggerFromContext(ctx, r.logger).With(
		logger.FieldEventID, ev.ID.String(),
		logger.FieldJobID, ev.JobID,
		logger.FieldRunTime, runTime,
	)

	r.lock.Lock()
	var (
		exec    *schedule.Execution
		outcome schedule.Outcome
		err     error
	)
	if status == schedule.StatusSent {
		exec, outcome, err = r.executions.GetOrCreateOnSubmission(ctx, ev.JobID, runTime)
	} else {
		exec, outcome, err = r.executions.Finalize(ctx, ev.JobID, runTime, status, exception, traceback)
	}
	r.lock.Unlock()

	if db.IsForeignKey(err) {
		log.Warnf("Job '%s' no longer exists! Skipping logging of job execution...", ev.JobID)
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to record %s for job %q", status, ev.JobID)
	}

	if outcome == schedule.OutcomeDiscarded {
		log.Debugw("Stale event discarded",
			logger.FieldStatus, string(exec.Status),
			logger.FieldEventCode, ev.Code.String(),
		)
	} else {
		log.Debugw("Execution recorded",
			logger.FieldExecutionID, exec.ID,
			logger.FieldStatus, string(exec.Status),
			logger.FieldOutcome, outcome.String(),
		)
	}
	return exec.ID, nil
}

func unsupported(ev event.Event, expected event.Code) error {
	return errors.Mark(
		errors.AssertionFailedf("don't know how to handle event %s for job %q, expected one of %s", ev.Code, ev.JobID, expected),
		errors.ErrUnsupportedEvent,
	)
}
