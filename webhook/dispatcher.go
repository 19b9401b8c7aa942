package webhook

import (
	"context"
	"log/slog"
	"time"

	"gstflow/health"
)

const (
	defaultAttempts = 3
	defaultDelay    = time.Second
)

// Handler processes one verified webhook event.
type Handler func(ctx context.Context, evt Event) error

// Dispatcher routes verified events to topic handlers, retries transient
// failures, and records exactly one health metric per delivery regardless
// of how many attempts ran.
type Dispatcher struct {
	handlers map[string]Handler
	monitor  *health.Monitor
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(monitor *health.Monitor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		monitor:  monitor,
		attempts: defaultAttempts,
		delay:    defaultDelay,
		logger:   logger,
		now:      time.Now,
	}
}

// WithRetryPolicy overrides the attempt count and inter-attempt delay.
func (d *Dispatcher) WithRetryPolicy(attempts int, delay time.Duration) *Dispatcher {
	d.attempts = attempts
	d.delay = delay
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) Register(topic string, h Handler) {
	d.handlers[topic] = h
}

// Dispatch runs the registered handler for the event's topic under the
// retry policy and records the final outcome. Events for unregistered
// topics are acknowledged and logged without a metric, so subscribing to
// extra topics upstream cannot skew the error rate.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) error {
	h, ok := d.handlers[evt.Topic]
	if !ok {
		d.logger.Info("unhandled webhook topic", "topic", evt.Topic, "shop", evt.Shop)
		return nil
	}

	start := d.now()
	attempts, err := WithRetry(ctx, d.attempts, d.delay, func(ctx context.Context) error {
		return h(ctx, evt)
	})
	duration := d.now().Sub(start)

	metric := health.Metric{
		Timestamp: d.now().UTC(),
		Shop:      evt.Shop,
		Topic:     evt.Topic,
		Success:   err == nil,
		Duration:  duration,
		Attempts:  attempts,
	}
	if err != nil {
		metric.Error = err.Error()
		d.logger.Error("webhook processing failed",
			"topic", evt.Topic, "shop", evt.Shop, "attempts", attempts, "error", err)
	} else if attempts > 1 {
		d.logger.Info("webhook recovered after retry",
			"topic", evt.Topic, "shop", evt.Shop, "attempts", attempts)
	}
	d.monitor.Record(metric)

	return err
}
