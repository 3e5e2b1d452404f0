package main

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/manamana32321/orion-agent"

// Metrics holds the agent's OTel instruments. A nil *Metrics records nothing.
type Metrics struct {
	enqueued    metric.Int64Counter
	dispatched  metric.Int64Counter
	failures    metric.Int64Counter
	rconReqs    metric.Int64Counter
	rconLatency metric.Float64Histogram
	logLines    metric.Int64Counter
	players     metric.Int64Gauge
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.enqueued, err = meter.Int64Counter("orion.facts.enqueued",
		metric.WithDescription("Facts accepted by a dispatch queue")); err != nil {
		return nil, fmt.Errorf("facts.enqueued: %w", err)
	}
	if m.dispatched, err = meter.Int64Counter("orion.facts.dispatched",
		metric.WithDescription("Facts fully dispatched to their handlers")); err != nil {
		return nil, fmt.Errorf("facts.dispatched: %w", err)
	}
	if m.failures, err = meter.Int64Counter("orion.handler.failures",
		metric.WithDescription("Handler invocations that failed or panicked")); err != nil {
		return nil, fmt.Errorf("handler.failures: %w", err)
	}
	if m.rconReqs, err = meter.Int64Counter("orion.rcon.requests",
		metric.WithDescription("Control channel requests by result")); err != nil {
		return nil, fmt.Errorf("rcon.requests: %w", err)
	}
	if m.rconLatency, err = meter.Float64Histogram("orion.rcon.duration",
		metric.WithDescription("Control channel round-trip time"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("rcon.duration: %w", err)
	}
	if m.logLines, err = meter.Int64Counter("orion.log.lines",
		metric.WithDescription("Lines read from the game log")); err != nil {
		return nil, fmt.Errorf("log.lines: %w", err)
	}
	if m.players, err = meter.Int64Gauge("orion.server.players",
		metric.WithDescription("Players listed by the last status poll")); err != nil {
		return nil, fmt.Errorf("server.players: %w", err)
	}
	return m, nil
}

// ObserveDepth registers an observable gauge reporting the current length of
// each named queue.
func (m *Metrics) ObserveDepth(mp metric.MeterProvider, queues map[string]func() int) error {
	if m == nil {
		return nil
	}
	meter := mp.Meter(meterName)
	_, err := meter.Int64ObservableGauge("orion.queue.depth",
		metric.WithDescription("Facts waiting in each queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for name, depth := range queues {
				o.Observe(int64(depth()), metric.WithAttributes(attribute.String("queue", name)))
			}
			return nil
		}))
	return err
}

func (m *Metrics) FactEnqueued(queue string) {
	if m == nil {
		return
	}
	m.enqueued.Add(context.Background(), 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) FactDispatched(queue string) {
	if m == nil {
		return
	}
	m.dispatched.Add(context.Background(), 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) HandlerFailed(queue, kind string) {
	if m == nil {
		return
	}
	m.failures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RCONRequest(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.rconReqs.Add(context.Background(), 1, attrs)
	m.rconLatency.Record(context.Background(), float64(elapsed.Microseconds())/1000, attrs)
}

func (m *Metrics) LogLine() {
	if m == nil {
		return
	}
	m.logLines.Add(context.Background(), 1)
}

func (m *Metrics) Players(n int) {
	if m == nil {
		return
	}
	m.players.Record(context.Background(), int64(n))
}
