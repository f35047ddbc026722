package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pulsestore/errors"
)

func TestCodeString(t *testing.T) {
	assert.Equal(t, "job_submitted", JobSubmitted.String())
	assert.Equal(t, "job_error|job_missed", (JobError | JobMissed).String())
	assert.Equal(t, "0x400", Code(1<<10).String())
	assert.True(t, JobMissed.Has(JobError|JobMissed))
	assert.False(t, JobExecuted.Has(JobError|JobMissed))
}

func TestNewEvent(t *testing.T) {
	rt := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	a := New(JobSubmitted, "job-1", rt)
	b := New(JobSubmitted, "job-1", rt)
	assert.NotEqual(t, a.ID, b.ID)

	got, ok := a.RunTime()
	require.True(t, ok)
	assert.True(t, rt.Equal(got))

	_, ok = New(SchedulerStarted, "").RunTime()
	assert.False(t, ok)

	withErr := a.WithException(errors.New("boom"), "trace")
	assert.EqualError(t, withErr.Exception, "boom")
	assert.Nil(t, a.Exception)
}

func TestBusDispatchByMask(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t).Sugar())
	var got []string
	record := func(name string) Listener {
		return func(_ context.Context, ev Event) error {
			got = append(got, name+":"+ev.Code.String())
			return nil
		}
	}

	bus.AddListener(record("submit"), JobSubmitted|JobMaxInstances)
	bus.AddListener(record("exec"), JobExecuted)
	unsubscribe := bus.Subscribe(record("all"), All)

	ctx := context.Background()
	require.NoError(t, bus.Dispatch(ctx, New(JobSubmitted, "j")))
	require.NoError(t, bus.Dispatch(ctx, New(JobExecuted, "j")))
	unsubscribe()
	require.NoError(t, bus.Dispatch(ctx, New(JobMaxInstances, "j")))

	assert.Equal(t, []string{
		"submit:job_submitted", "all:job_submitted",
		"exec:job_executed", "all:job_executed",
		"submit:job_max_instances",
	}, got)
}

func TestBusJoinsListenerErrors(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	bus.AddListener(func(context.Context, Event) error { calls++; return errors.New("first") }, All)
	bus.AddListener(func(context.Context, Event) error { calls++; return nil }, All)
	bus.AddListener(func(context.Context, Event) error { calls++; return errors.New("third") }, All)

	err := bus.Dispatch(context.Background(), New(JobError, "j"))
	require.Error(t, err)
	assert.Equal(t, 3, calls, "an error does not stop delivery")
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "third")
}

func TestBusInterceptorOrder(t *testing.T) {
	bus := NewBus(nil)
	var trace []string
	tag := func(name string) Interceptor {
		return func(next Listener) Listener {
			return func(ctx context.Context, ev Event) error {
				trace = append(trace, name)
				return next(ctx, ev)
			}
		}
	}
	bus.Use(tag("outer"))
	bus.Use(tag("inner"))
	bus.Use(Logging(zaptest.NewLogger(t).Sugar()))
	bus.AddListener(func(context.Context, Event) error {
		trace = append(trace, "listener")
		return nil
	}, All)

	require.NoError(t, bus.Dispatch(context.Background(), New(JobAdded, "j")))
	assert.Equal(t, []string{"outer", "inner", "listener"}, trace)
}

func TestRecoverInterceptor(t *testing.T) {
	bus := NewBus(nil)
	bus.Use(Recover())
	bus.AddListener(func(context.Context, Event) error { panic("kaboom") }, All)

	err := bus.Dispatch(context.Background(), New(JobExecuted, "job-9"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Contains(t, err.Error(), "job-9")
}

func TestCreateLock(t *testing.T) {
	bus := NewBus(nil)
	lock := bus.CreateLock()
	lock.Lock()
	lock.Unlock()
	assert.NotSame(t, lock, bus.CreateLock())
}
