// Package events carries engine notifications to the transport layer.
// Publishing never blocks the engine: envelopes are queued and delivered
// by a background goroutine, and failures are logged and dropped.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Envelope is one published event.
type Envelope struct {
	SessionID   string    `json:"session_id"`
	Event       string    `json:"event"`
	Payload     any       `json:"payload"`
	PublishedAt time.Time `json:"published_at"`
}

// Sink delivers envelopes somewhere subscribers can read them.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Sink Sink
	// Queue capacity; envelopes published while it is full are dropped.
	Buffer int
	// Per-delivery timeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher queues envelopes and hands them to a Sink in publish order.
type Dispatcher struct {
	sink    Sink
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Envelope
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sink:    cfg.Sink,
		log:     logger,
		timeout: timeout,
		now:     time.Now,
		queue:   make(chan Envelope, buffer),
		done:    make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// Publish enqueues an event without blocking.
func (d *Dispatcher) Publish(sessionID, event string, payload any) {
	env := Envelope{SessionID: sessionID, Event: event, Payload: payload, PublishedAt: d.now().UTC()}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- env:
	default:
		d.dropped.Add(1)
		d.log.Warn("event queue full, dropping", "session_id", sessionID, "event", event)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

// Dropped counts envelopes discarded because the queue was full or closed.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Failed counts envelopes the sink rejected.
func (d *Dispatcher) Failed() int64 {
	return d.failed.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for env := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Deliver(ctx, env); err != nil {
			d.failed.Add(1)
			d.log.Error("deliver event", "session_id", env.SessionID, "event", env.Event, "err", err)
		}
		cancel()
	}
}

// LogSink writes envelopes to a logger. It stands in for a transport when
// no broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(_ context.Context, env Envelope) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("event", "session_id", env.SessionID, "event", env.Event, "payload", env.Payload)
	return nil
}

// Fanout delivers every envelope to each sink in turn and joins their
// errors.
type Fanout []Sink

func (f Fanout) Deliver(ctx context.Context, env Envelope) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
