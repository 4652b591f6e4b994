package audit

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
	"github.com/platinummonkey/tenantrbac/pkg/observability"
)

// Recorder is the interface for audit recording
type Recorder interface {
	// Record appends e and returns it with ID and Timestamp assigned
	Record(ctx context.Context, e Event) (Event, error)

	// Query returns matching events in timestamp-ascending order
	Query(ctx context.Context, f Filter) ([]Event, error)
}

// Reader is the read side used by handlers and reports.
type Reader interface {
	Query(ctx context.Context, f Filter) ([]Event, error)
	Stats(ctx context.Context, f Filter) (Stats, error)
	Get(ctx context.Context, id int64) (Event, bool)
}

// LogOptions configures NewLog.
type LogOptions struct {
	Clock   func() time.Time
	Sinks   []Sink
	Queue   int
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Log is the in-process append-only audit trail. Ids start at 1 and increase
// by one per event; timestamps never decrease, so id order and timestamp
// order agree.
type Log struct {
	mu         sync.RWMutex
	events     []Event
	lastTS     time.Time
	clock      func() time.Time
	dispatcher *Dispatcher
	metrics    *observability.Metrics
}

// NewLog creates an empty trail. Events are mirrored to opts.Sinks in id order.
func NewLog(opts LogOptions) *Log {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	l := &Log{clock: clock, metrics: opts.Metrics}
	if len(opts.Sinks) > 0 {
		l.dispatcher = NewDispatcher(opts.Sinks, opts.Queue, opts.Logger, opts.Metrics)
	}
	return l
}

// Record appends e. Request metadata missing from e is taken from ctx.
func (l *Log) Record(ctx context.Context, e Event) (Event, error) {
	if e.SourceIP == "" {
		e.SourceIP = contextkeys.GetSourceIP(ctx)
	}
	if e.UserAgent == "" {
		e.UserAgent = contextkeys.GetUserAgent(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = contextkeys.GetRequestID(ctx)
	}
	if !e.Severity.Valid() {
		e.Severity = SeverityInfo
	}

	l.mu.Lock()
	ts := l.clock()
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	e.Timestamp = ts
	e.ID = int64(len(l.events)) + 1
	l.events = append(l.events, e)
	l.lastTS = ts
	if l.dispatcher != nil {
		l.dispatcher.enqueue(e)
	}
	l.mu.Unlock()

	l.metrics.AuditRecorded(string(e.Severity))
	return e, nil
}

// Query returns matching events ordered by timestamp, then id.
func (l *Log) Query(_ context.Context, f Filter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range l.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return f.page(out), nil
}

// Stats counts matching events. Limit and Offset are ignored.
func (l *Log) Stats(_ context.Context, f Filter) (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := newStats()
	for _, e := range l.events {
		if f.Matches(e) {
			s.add(e)
		}
	}
	return s, nil
}

// Get returns the event with the given id.
func (l *Log) Get(_ context.Context, id int64) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if id < 1 || id > int64(len(l.events)) {
		return Event{}, false
	}
	return l.events[id-1], true
}

// Since returns up to limit events with id greater than afterID.
func (l *Log) Since(afterID int64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if afterID < 0 {
		afterID = 0
	}
	if afterID >= int64(len(l.events)) {
		return nil
	}
	tail := l.events[afterID:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]Event, len(tail))
	copy(out, tail)
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Close flushes queued events to the sinks and closes them.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	d := l.dispatcher
	l.dispatcher = nil
	l.mu.Unlock()

	if d == nil {
		return nil
	}
	return d.Close(ctx)
}

// Discard is a Recorder that keeps nothing. It is used when auditing is
// disabled in tests.
type Discard struct{}

func (Discard) Record(_ context.Context, e Event) (Event, error) { return e, nil }

func (Discard) Query(context.Context, Filter) ([]Event, error) { return nil, nil }
