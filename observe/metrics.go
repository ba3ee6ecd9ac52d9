package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricToolExecTotal     = "tool.exec.total"
	MetricToolExecErrors    = "tool.exec.errors"
	MetricToolExecDuration  = "tool.exec.duration_ms"
	MetricExchangeTotal     = "broker.exchange.total"
	MetricExchangeDuration  = "broker.exchange.duration_ms"
	MetricCacheLookups      = "broker.cache.lookups"
	MetricCacheEvictions    = "broker.cache.evictions"
	MetricAuthzDecisions    = "authz.decisions"
	MetricTokenVerification = "auth.verifications"
)

// Metrics records the service's instruments.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records a tool execution with duration and error status.
	RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error)

	// RecordExchange records one broker exchange. outcome is "hit", "miss",
	// "shared" or "error".
	RecordExchange(ctx context.Context, outcome string, duration time.Duration)

	// RecordEviction records a session token leaving the broker cache.
	RecordEviction(ctx context.Context, reason string)

	// RecordDecision records one authorization decision.
	RecordDecision(ctx context.Context, capability string, granted bool, reason string)

	// RecordVerification records one bearer-token verification. reason is
	// empty for accepted tokens.
	RecordVerification(ctx context.Context, reason string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	toolTotal        metric.Int64Counter
	toolErrors       metric.Int64Counter
	toolDuration     metric.Float64Histogram
	exchangeTotal    metric.Int64Counter
	exchangeDuration metric.Float64Histogram
	cacheLookups     metric.Int64Counter
	cacheEvictions   metric.Int64Counter
	decisions        metric.Int64Counter
	verifications    metric.Int64Counter
}

// NewMetrics creates the service instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	m := &metricsImpl{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.toolTotal, MetricToolExecTotal, "Total number of tool executions", "{call}"},
		{&m.toolErrors, MetricToolExecErrors, "Total number of tool execution errors", "{error}"},
		{&m.exchangeTotal, MetricExchangeTotal, "Delegation exchanges by outcome", "{exchange}"},
		{&m.cacheLookups, MetricCacheLookups, "Session token cache lookups by result", "{lookup}"},
		{&m.cacheEvictions, MetricCacheEvictions, "Session tokens evicted from the cache", "{entry}"},
		{&m.decisions, MetricAuthzDecisions, "Authorization decisions", "{decision}"},
		{&m.verifications, MetricTokenVerification, "Bearer token verifications", "{token}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
	}

	m.toolDuration, err = meter.Float64Histogram(
		MetricToolExecDuration,
		metric.WithDescription("Tool execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.exchangeDuration, err = meter.Float64Histogram(
		MetricExchangeDuration,
		metric.WithDescription("Delegation exchange duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordExecution records metrics for a tool execution.
func (m *metricsImpl) RecordExecution(ctx context.Context, meta ToolMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("tool.id", meta.ToolID()),
		attribute.String("tool.name", meta.Name),
	}
	if meta.Namespace != "" {
		attrs = append(attrs, attribute.String("tool.namespace", meta.Namespace))
	}
	opt := metric.WithAttributes(attrs...)

	m.toolTotal.Add(ctx, 1, opt)
	if err != nil {
		m.toolErrors.Add(ctx, 1, opt)
	}
	m.toolDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordExchange records a broker exchange and the cache lookup behind it.
func (m *metricsImpl) RecordExchange(ctx context.Context, outcome string, duration time.Duration) {
	m.exchangeTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.exchangeDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("outcome", outcome)))

	result := "miss"
	if outcome == "hit" {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metricsImpl) RecordEviction(ctx context.Context, reason string) {
	m.cacheEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metricsImpl) RecordDecision(ctx context.Context, capability string, granted bool, reason string) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.Bool("granted", granted),
		attribute.String("reason", reason),
	))
}

func (m *metricsImpl) RecordVerification(ctx context.Context, reason string) {
	result := "accepted"
	if reason != "" {
		result = "rejected"
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("reason", reason),
	))
}

// nopMetrics is a metrics implementation that does nothing.
type nopMetrics struct{}

func (nopMetrics) RecordExecution(context.Context, ToolMeta, time.Duration, error) {}
func (nopMetrics) RecordExchange(context.Context, string, time.Duration)           {}
func (nopMetrics) RecordEviction(context.Context, string)                          {}
func (nopMetrics) RecordDecision(context.Context, string, bool, string)            {}
func (nopMetrics) RecordVerification(context.Context, string)                      {}

// NopMetrics returns Metrics that record nothing.
func NopMetrics() Metrics {
	return nopMetrics{}
}

// MetricsOrNop returns m, or NopMetrics when m is nil.
func MetricsOrNop(m Metrics) Metrics {
	if m == nil {
		return NopMetrics()
	}
	return m
}
