// Package notify delivers notification events to the inbox store out of
// band. Emit never blocks or fails the appointment mutation that
// produced the event; delivery failures are retried with bounded
// backoff and, past the limit, logged and dropped.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"agendamento-api/internal/metrics"
	"agendamento-api/internal/model"
)

// Sink is the durable inbox the dispatcher writes to.
type Sink interface {
	CreateNotification(ctx context.Context, n *model.NotificationEvent) error
}

type Options struct {
	QueueSize    int
	MaxAttempts  int
	InitialDelay time.Duration
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
}

type Dispatcher struct {
	sink Sink
	log  *zap.Logger
	opts Options

	queue  chan model.NotificationEvent
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func New(sink Sink, log *zap.Logger, opts Options) *Dispatcher {
	opts.defaults()
	d := &Dispatcher{
		sink:  sink,
		log:   log,
		opts:  opts,
		queue: make(chan model.NotificationEvent, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues the event and returns immediately. When the queue is
// full, or the dispatcher is already closed, the event is dropped and
// logged rather than blocking or panicking the caller.
func (d *Dispatcher) Emit(ev model.NotificationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		metrics.NotificationsDispatched.WithLabelValues("dropped").Inc()
		d.log.Warn("dispatcher closed, dropping event",
			zap.String("recipient_id", ev.RecipientID),
			zap.String("kind", string(ev.Kind)))
		return
	}
	select {
	case d.queue <- ev:
	default:
		metrics.NotificationsDispatched.WithLabelValues("dropped").Inc()
		d.log.Warn("notification queue full, dropping event",
			zap.String("recipient_id", ev.RecipientID),
			zap.String("kind", string(ev.Kind)))
	}
}

// Close stops intake and drains the queue before returning.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.queue)
		<-d.done
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev model.NotificationEvent) {
	delay := d.opts.InitialDelay
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		err := d.sink.CreateNotification(ctx, &ev)
		cancel()
		if err == nil {
			metrics.NotificationsDispatched.WithLabelValues("delivered").Inc()
			return
		}
		if attempt >= d.opts.MaxAttempts {
			metrics.NotificationsDispatched.WithLabelValues("failed").Inc()
			d.log.Error("notification delivery failed permanently",
				zap.String("recipient_id", ev.RecipientID),
				zap.String("kind", string(ev.Kind)),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
		d.log.Warn("notification delivery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		time.Sleep(delay)
		delay *= 2
	}
}
