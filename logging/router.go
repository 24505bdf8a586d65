package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gridclash/internal/telemetry"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Metrics receives router counters. telemetry.Counters satisfies it.
type Metrics interface {
	Add(key string, delta uint64)
}

const (
	metricEventsRouted  = "logging_events_total"
	metricEventsDropped = "logging_events_dropped_total"
	metricSinkDropped   = "logging_sink_dropped_total"
	metricSinkFailures  = "logging_sink_failures_total"
)

// RouterOption adjusts a Router at construction.
type RouterOption func(*Router)

// WithMetrics reports routed, dropped and failed events into m.
func WithMetrics(m Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// Router fans published events out to one worker per sink so a slow sink
// never stalls the tick. Publish never blocks: when the router queue or a
// sink backlog is full the event is dropped and counted.
type Router struct {
	queue       chan Event
	sinks       []*sinkWorker
	clock       Clock
	fallback    *log.Logger
	metrics     Metrics
	minSeverity Severity
	fields      map[string]any
	drops       *dropReporter

	ctx          context.Context
	cancel       context.CancelFunc
	closed       atomic.Bool
	wg           sync.WaitGroup
	dispatchOnce sync.Once

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
}

// RouterStats is a point-in-time view of delivery.
type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
	Sinks        []SinkStats
}

// SinkStats reports one sink worker.
type SinkStats struct {
	Name     string
	Written  uint64
	Dropped  uint64
	Failures uint64
}

func NewRouter(clock Clock, cfg Config, fallback *log.Logger, namedSinks []NamedSink, opts ...RouterOption) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		queue:       make(chan Event, bufferSize),
		clock:       clock,
		fallback:    fallback,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.cloneFields(),
		drops:       newDropReporter(fallback, cfg.DropWarnInterval),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(r)
	}

	sinkBuffer := min(max(bufferSize, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.sinks = append(r.sinks, &sinkWorker{
			name:   named.Name,
			sink:   named.Sink,
			events: make(chan Event, sinkBuffer),
			router: r,
		})
	}

	r.start()
	return r
}

func (r *Router) start() {
	r.dispatchOnce.Do(func() {
		r.wg.Add(1)
		go r.dispatch()
		for _, worker := range r.sinks {
			r.wg.Add(1)
			go func(w *sinkWorker) {
				defer r.wg.Done()
				w.run()
			}(worker)
		}
	})
}

func (r *Router) dispatch() {
	defer func() {
		for _, worker := range r.sinks {
			close(worker.events)
		}
		r.wg.Done()
	}()
	for {
		select {
		case <-r.ctx.Done():
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return
				}
			}
		case event := <-r.queue:
			r.forward(event)
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.fields)
	r.eventsTotal.Add(1)
	r.count(metricEventsRouted, 1)
	for _, worker := range r.sinks {
		worker.enqueue(event)
	}
}

// Publish implements Publisher. Events published inside a recording span
// carry its trace id.
func (r *Router) Publish(ctx context.Context, event Event) {
	if r == nil || event.Type == "" || r.closed.Load() {
		return
	}
	if event.TraceID == "" {
		event.TraceID = telemetry.TraceID(ctx)
	}
	select {
	case r.queue <- event:
	default:
		r.droppedTotal.Add(1)
		r.count(metricEventsDropped, 1)
		r.drops.report("router queue full, dropping event type=%s tick=%d", event.Type, event.Tick)
	}
}

// Close stops dispatch, flushes queued events to the sinks and closes them.
func (r *Router) Close(ctx context.Context) error {
	if r == nil || !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	if r == nil {
		return RouterStats{}
	}
	stats := RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
		Sinks:        make([]SinkStats, 0, len(r.sinks)),
	}
	for _, w := range r.sinks {
		stats.Sinks = append(stats.Sinks, SinkStats{
			Name:     w.name,
			Written:  w.written.Load(),
			Dropped:  w.dropped.Load(),
			Failures: w.failures.Load(),
		})
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	if r == nil {
		return nil
	}
	for _, worker := range r.sinks {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

func (r *Router) count(key string, delta uint64) {
	if r.metrics != nil {
		r.metrics.Add(key, delta)
	}
}

// dropReporter rate-limits drop warnings to one per interval.
type dropReporter struct {
	logger   *log.Logger
	interval time.Duration
	next     atomic.Int64
}

func newDropReporter(logger *log.Logger, interval time.Duration) *dropReporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &dropReporter{logger: logger, interval: interval}
}

func (d *dropReporter) report(format string, args ...any) {
	now := time.Now().UnixNano()
	next := d.next.Load()
	if now < next {
		return
	}
	if d.next.CompareAndSwap(next, now+d.interval.Nanoseconds()) {
		d.logger.Printf(format, args...)
	}
}

type sinkWorker struct {
	name   string
	sink   Sink
	events chan Event
	router *Router

	written  atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64

	// consecutive and nextRetry are owned by the worker goroutine.
	consecutive int
	nextRetry   time.Time
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.dropped.Add(1)
		w.router.count(metricSinkDropped, 1)
		w.router.drops.report("sink %s backlog full, dropping event type=%s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if w.consecutive > 0 {
			if wait := time.Until(w.nextRetry); wait > 0 {
				time.Sleep(wait)
			}
		}
		if err := w.sink.Write(event); err != nil {
			w.fail(err)
			continue
		}
		w.written.Add(1)
		w.consecutive = 0
	}
}

// fail backs the worker off exponentially, capped at 32s.
func (w *sinkWorker) fail(err error) {
	w.consecutive++
	w.failures.Add(1)
	w.router.count(metricSinkFailures, 1)
	delay := time.Duration(1<<min(w.consecutive, 5)) * time.Second
	w.nextRetry = time.Now().Add(delay)
	w.router.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, delay)
}
