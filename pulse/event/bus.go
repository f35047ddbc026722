package event

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
)

// Listener handles an event. A returned error is reported to the
// dispatcher; it does not stop delivery to other listeners.
type Listener func(ctx context.Context, ev Event) error

// Interceptor wraps a listener. Interceptors are the extension point for
// cross-cutting behaviour (logging, metrics, panics) around delivery.
type Interceptor func(next Listener) Listener

type subscription struct {
	id       uint64
	listener Listener
	mask     Code
}

// Bus delivers events to subscribed listeners in registration order.
// It satisfies the engine side of reconcile.Engine.
type Bus struct {
	mu           sync.RWMutex
	nextID       uint64
	subs         []subscription
	interceptors []Interceptor
	logger       *zap.SugaredLogger
}

// NewBus creates an empty bus.
func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{logger: logger.OrNop(log)}
}

// Subscribe registers l for events matching mask and returns a function
// that removes it.
func (b *Bus) Subscribe(l Listener, mask Code) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: l, mask: mask})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// AddListener registers l for mask.
func (b *Bus) AddListener(l Listener, mask Code) {
	b.Subscribe(l, mask)
}

// Use appends an interceptor. The first one added is the outermost.
func (b *Bus) Use(i Interceptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interceptors = append(b.interceptors, i)
}

// CreateLock returns the lock shared by listeners that must serialize
// their work.
func (b *Bus) CreateLock() sync.Locker {
	return &sync.Mutex{}
}

// Dispatch delivers ev to every matching listener and returns their errors
// joined.
func (b *Bus) Dispatch(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if ev.Code.Has(s.mask) {
			subs = append(subs, s)
		}
	}
	interceptors := append([]Interceptor(nil), b.interceptors...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		l := s.listener
		for i := len(interceptors) - 1; i >= 0; i-- {
			l = interceptors[i](l)
		}
		if err := l(ctx, ev); err != nil {
			b.logger.Debugw("Listener returned error",
				logger.FieldEventID, ev.ID.String(),
				logger.FieldEventCode, ev.Code.String(),
				logger.FieldError, err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recover converts a panicking listener into an error.
func Recover() Interceptor {
	return func(next Listener) Listener {
		return func(ctx context.Context, ev Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Newf("listener panicked on %s for job %s: %v", ev.Code, ev.JobID, r)
				}
			}()
			return next(ctx, ev)
		}
	}
}

// Logging logs every delivery at debug level.
func Logging(log *zap.SugaredLogger) Interceptor {
	log = logger.OrNop(log)
	return func(next Listener) Listener {
		return func(ctx context.Context, ev Event) error {
			log.Debugw("Delivering event",
				logger.FieldEventID, ev.ID.String(),
				logger.FieldEventCode, ev.Code.String(),
				logger.FieldJobID, ev.JobID,
			)
			return next(ctx, ev)
		}
	}
}
