package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/tenantrbac/pkg/observability"
)

const (
	defaultQueueSize = 4096
	sinkWriteTimeout = 5 * time.Second
)

// Sink mirrors recorded events to external storage.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
	Close() error
}

// Dispatcher delivers events to sinks from a single goroutine so every sink
// sees events in id order. Sink failures are logged and counted; they never
// reach the caller of Record.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	done    chan struct{}
	logger  *observability.Logger
	metrics *observability.Metrics
	once    sync.Once
}

// NewDispatcher starts delivering to sinks.
func NewDispatcher(sinks []Sink, queueSize int, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		done:    make(chan struct{}),
		logger:  logger.WithField("component", "audit_dispatcher"),
		metrics: metrics,
	}
	go d.run()
	return d
}

// enqueue never blocks. A full queue drops the event for the sinks only.
func (d *Dispatcher) enqueue(e Event) {
	select {
	case d.queue <- e:
	default:
		d.metrics.AuditDropped()
		d.logger.WithField("event_id", e.ID).Warn("audit sink queue full, event not mirrored")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			if err := d.write(s, e); err != nil {
				d.metrics.AuditSinkError(s.Name())
				d.logger.WithError(err).WithFields(map[string]interface{}{
					"sink":     s.Name(),
					"event_id": e.ID,
				}).Error("audit sink write failed")
			}
		}
	}
}

func (d *Dispatcher) write(s Sink, e Event) (err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()
	return s.Write(ctx, e)
}

// Close stops accepting events, drains the queue and closes every sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	var errs []error
	d.once.Do(func() {
		close(d.queue)
		select {
		case <-d.done:
		case <-ctx.Done():
			// the run loop still owns the sinks
			errs = append(errs, ctx.Err())
			return
		}
		for _, s := range d.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
