package forward

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jglowsoap/jimini/internal/circuitbreaker"
	"github.com/jglowsoap/jimini/internal/dlq"
	"github.com/jglowsoap/jimini/internal/metrics"
	"github.com/jglowsoap/jimini/internal/retry"
)

// Config bounds a forwarder's queue and flush cadence.
type Config struct {
	QueueSize       int
	FlushInterval   time.Duration
	BatchSize       int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the standard forwarder bounds.
func DefaultConfig() Config {
	return Config{
		QueueSize:       1024,
		FlushInterval:   5 * time.Second,
		BatchSize:       50,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Forwarder pumps events from a bounded queue to one sink. Enqueue never
// blocks evaluation: past the queue bound the oldest queued event is dropped
// and counted. A single consumer goroutine owns the sink.
type Forwarder struct {
	sink    Sink
	breaker *circuitbreaker.CircuitBreaker
	policy  retry.Policy
	dead    *dlq.Store
	config  Config
	logger  *zap.Logger

	queue  chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a forwarder for sink. dead may be nil in tests.
func New(sink Sink, breaker *circuitbreaker.CircuitBreaker, policy retry.Policy, dead *dlq.Store, config Config, logger *zap.Logger) *Forwarder {
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	return &Forwarder{
		sink:    sink,
		breaker: breaker,
		policy:  policy,
		dead:    dead,
		config:  config,
		logger:  logger,
		queue:   make(chan Event, config.QueueSize),
		stopCh:  make(chan struct{}),
	}
}

// Name returns the sink's target name.
func (f *Forwarder) Name() string { return f.sink.Name() }

// Start launches the consumer loop.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go f.run()
}

// Enqueue adds an event without blocking. When the queue is full the oldest
// queued event is dropped and the drop counted.
func (f *Forwarder) Enqueue(ev Event) {
	select {
	case f.queue <- ev:
		return
	default:
	}
	select {
	case <-f.queue:
		metrics.EventsDropped.WithLabelValues(f.sink.Name()).Inc()
	default:
	}
	select {
	case f.queue <- ev:
	default:
		metrics.EventsDropped.WithLabelValues(f.sink.Name()).Inc()
	}
}

// Stop drains the queue with a bounded deadline and stops the consumer.
func (f *Forwarder) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

func (f *Forwarder) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, f.config.BatchSize)
	for {
		select {
		case ev := <-f.queue:
			batch = append(batch, ev)
			if len(batch) >= f.config.BatchSize {
				f.flush(context.Background(), batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				f.flush(context.Background(), batch)
				batch = batch[:0]
			}
		case <-f.stopCh:
			ctx, cancel := context.WithTimeout(context.Background(), f.config.ShutdownTimeout)
			defer cancel()
			f.drain(ctx, batch)
			return
		}
	}
}

// drain performs the final flush on shutdown.
func (f *Forwarder) drain(ctx context.Context, batch []Event) {
	for {
		select {
		case ev := <-f.queue:
			batch = append(batch, ev)
		default:
			if len(batch) > 0 {
				f.flush(ctx, batch)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// flush attempts delivery through the breaker with retries. BreakerOpen is
// not retried; the batch goes to the dead letter queue immediately. Exhausted
// retries and permanent failures land there too.
func (f *Forwarder) flush(ctx context.Context, batch []Event) {
	attempts := 0
	err := f.policy.Do(ctx, func() error {
		attempts++
		return f.breaker.Execute(ctx, func() error {
			return f.sink.Deliver(ctx, batch)
		})
	}, func(err error) bool {
		if errors.Is(err, circuitbreaker.ErrBreakerOpen) || IsPermanent(err) {
			return false
		}
		return true
	})

	if err == nil {
		metrics.ForwarderDeliveries.WithLabelValues(f.sink.Name(), "ok").Inc()
		return
	}
	metrics.ForwarderDeliveries.WithLabelValues(f.sink.Name(), "failed").Inc()
	f.logger.Warn("Forwarder delivery abandoned",
		zap.String("target", f.sink.Name()),
		zap.Int("events", len(batch)),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	f.toDeadLetter(batch, attempts, err)
}

func (f *Forwarder) toDeadLetter(batch []Event, attempts int, cause error) {
	if f.dead == nil {
		return
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		f.logger.Error("Failed to serialize dead letter payload", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.dead.Enqueue(ctx, f.sink.Name(), payload, attempts, cause.Error()); err != nil {
		f.logger.Error("Failed to enqueue dead letter", zap.Error(err))
	}
	if depth, err := f.dead.Depth(ctx, f.sink.Name()); err == nil {
		metrics.DLQDepth.WithLabelValues(f.sink.Name()).Set(float64(depth))
	}
}
