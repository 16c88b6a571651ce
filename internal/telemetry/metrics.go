// ABOUTME: OpenTelemetry instruments for the relay's streaming and bulk paths.
// ABOUTME: Metrics satisfies the stream and bulk observer interfaces.

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/2389/sql-relay"

// Metrics holds the relay's metric instruments.
type Metrics struct {
	ChunksReceived   metric.Int64Counter
	SessionsOpened   metric.Int64Counter
	SessionsReplaced metric.Int64Counter
	SessionsTimedOut metric.Int64Counter
	BulkRows         metric.Int64Counter
	StreamDuration   metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFromMeter(otel.Meter(meterName))
}

// NewMetricsFromMeter creates instruments on meter.
func NewMetricsFromMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ChunksReceived, err = meter.Int64Counter("sqlrelay.chunks.received",
		metric.WithDescription("Chunks pushed by agents"))
	if err != nil {
		return nil, err
	}

	m.SessionsOpened, err = meter.Int64Counter("sqlrelay.sessions.opened",
		metric.WithDescription("Stream sessions opened"))
	if err != nil {
		return nil, err
	}

	m.SessionsReplaced, err = meter.Int64Counter("sqlrelay.sessions.replaced",
		metric.WithDescription("Stream sessions abandoned by a newer session for the same agent"))
	if err != nil {
		return nil, err
	}

	m.SessionsTimedOut, err = meter.Int64Counter("sqlrelay.sessions.timed_out",
		metric.WithDescription("Stream sessions that hit the inactivity timeout"))
	if err != nil {
		return nil, err
	}

	m.BulkRows, err = meter.Int64Counter("sqlrelay.bulk.rows",
		metric.WithDescription("Rows copied into destination tables"))
	if err != nil {
		return nil, err
	}

	m.StreamDuration, err = meter.Float64Histogram("sqlrelay.stream.duration_seconds",
		metric.WithDescription("Time from stream request to the end of the HTTP response"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SessionOpened implements stream.Observer.
func (m *Metrics) SessionOpened(string) {
	m.SessionsOpened.Add(context.Background(), 1)
}

// SessionReplaced implements stream.Observer.
func (m *Metrics) SessionReplaced(string) {
	m.SessionsReplaced.Add(context.Background(), 1)
}

// SessionTimedOut implements stream.Observer.
func (m *Metrics) SessionTimedOut(string) {
	m.SessionsTimedOut.Add(context.Background(), 1)
}

// RowsLoaded implements bulk.RowsObserver.
func (m *Metrics) RowsLoaded(ctx context.Context, n int64) {
	m.BulkRows.Add(ctx, n)
}

// ChunkReceived counts one agent chunk.
func (m *Metrics) ChunkReceived(ctx context.Context, last bool) {
	m.ChunksReceived.Add(ctx, 1, metric.WithAttributes(attribute.Bool("last", last)))
}

// StreamFinished records a stream's duration labelled by mode and outcome.
func (m *Metrics) StreamFinished(ctx context.Context, started time.Time, bulk bool, outcome string) {
	m.StreamDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
		attribute.Bool("bulk", bulk),
		attribute.String("outcome", outcome),
	))
}
