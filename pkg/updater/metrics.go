package updater

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/nexttogo-service-go/log"
)

type metrics struct {
	fetches  metric.Int64Counter
	records  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter, l *log.Logger) *metrics {
	m := &metrics{}
	var err error
	if m.fetches, err = meter.Int64Counter("ntg.updater.fetches",
		metric.WithDescription("Number of remote source calls"),
		metric.WithUnit("{call}")); err != nil {
		l.Warn("could not create metric", log.ErrorField(err))
	}
	if m.records, err = meter.Int64Counter("ntg.updater.records",
		metric.WithDescription("Number of records merged into the store"),
		metric.WithUnit("{record}")); err != nil {
		l.Warn("could not create metric", log.ErrorField(err))
	}
	if m.failures, err = meter.Int64Counter("ntg.updater.errors",
		metric.WithDescription("Number of background errors"),
		metric.WithUnit("{error}")); err != nil {
		l.Warn("could not create metric", log.ErrorField(err))
	}
	if m.duration, err = meter.Float64Histogram("ntg.updater.fetch.duration",
		metric.WithDescription("Duration of fetch and merge"),
		metric.WithUnit("s")); err != nil {
		l.Warn("could not create metric", log.ErrorField(err))
	}
	return m
}

func (m *metrics) fetched(ctx context.Context, size, merged int, d time.Duration) {
	if m.fetches != nil {
		m.fetches.Add(ctx, 1, metric.WithAttributes(attribute.Int("size", size)))
	}
	if m.records != nil {
		m.records.Add(ctx, int64(merged))
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds())
	}
}

func (m *metrics) failed(ctx context.Context, op Op) {
	if m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", string(op))))
	}
}
