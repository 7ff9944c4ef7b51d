package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sweepjudge"

// Metrics holds the swarm's instruments.
type Metrics struct {
	TasksPushed     metric.Int64Counter
	TasksDispatched metric.Int64Counter
	TasksRequeued   metric.Int64Counter
	TasksReclaimed  metric.Int64Counter
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	KarmaDelta      metric.Int64Histogram
	DispatchLatency metric.Float64Histogram
	HandleDuration  metric.Float64Histogram

	meter metric.Meter
}

// NewMetrics creates every instrument on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{meter: meter}

	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter("sweepjudge."+name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	m.TasksPushed = counter("tasks.pushed", "Tasks pushed to the queue")
	m.TasksDispatched = counter("tasks.dispatched", "Tasks delivered to a worker inbox")
	m.TasksRequeued = counter("tasks.requeued", "Tasks pushed back by the scheduler")
	m.TasksReclaimed = counter("tasks.reclaimed", "Stuck tasks requeued by the reclaimer")
	m.TasksCompleted = counter("tasks.completed", "Tasks handled successfully")
	m.TasksFailed = counter("tasks.failed", "Tasks marked failed")

	var err error
	m.KarmaDelta, err = meter.Int64Histogram("sweepjudge.karma.delta",
		metric.WithDescription("Karma deltas appended to the ledger"))
	errs = append(errs, err)
	m.DispatchLatency, err = meter.Float64Histogram("sweepjudge.dispatch.latency_seconds",
		metric.WithDescription("Time from pop to inbox delivery"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.HandleDuration, err = meter.Float64Histogram("sweepjudge.handle.duration_seconds",
		metric.WithDescription("Handler execution time"), metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return m, nil
}

// ObserveQueueDepth reports depth() as the sweepjudge.queue.depth gauge on
// every collection.
func (m *Metrics) ObserveQueueDepth(depth func(context.Context) (int, error)) error {
	_, err := m.meter.Int64ObservableGauge("sweepjudge.queue.depth",
		metric.WithDescription("Queued tasks, including delayed ones"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := depth(ctx)
			if err != nil {
				return err
			}
			o.Observe(int64(n))
			return nil
		}))
	return err
}
