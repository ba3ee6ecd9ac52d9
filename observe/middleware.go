package observe

import (
	"context"
	"time"
)

// ExecuteFunc is the signature Middleware wraps: one tool call.
type ExecuteFunc func(ctx context.Context, tool ToolMeta, input any) (any, error)

// Middleware wraps tool execution with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: the span is carried on the context passed to the wrapped func.
//   - Errors: errors from the wrapped func are recorded and returned unchanged.
//   - Ownership: input and output values pass through untouched.
type Middleware struct {
	tracer        Tracer
	metrics       Metrics
	logger        Logger
	contextFields func(ctx context.Context) []Field
}

// NewMiddleware creates a new Middleware. Nil components are replaced by
// no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: MetricsOrNop(metrics),
		logger:  LoggerOrNop(logger),
	}
}

// WithContextFields adds the fields fn derives from the call context, such
// as the caller identity, to every execution log entry.
func (m *Middleware) WithContextFields(fn func(ctx context.Context) []Field) *Middleware {
	m.contextFields = fn
	return m
}

// Wrap wraps an ExecuteFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, tool ToolMeta, input any) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, tool)
		start := time.Now()

		result, err := fn(ctx, tool, input)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, tool, duration, err)

		fields := []Field{{Key: "duration_ms", Value: float64(duration.Milliseconds())}}
		if m.contextFields != nil {
			fields = append(fields, m.contextFields(ctx)...)
		}

		logger := m.logger.WithTool(tool)
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			logger.Error(ctx, "tool execution failed", fields...)
		} else {
			logger.Info(ctx, "tool execution completed", fields...)
		}

		return result, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	return NewMiddleware(NewTracer(obs.Tracer()), obs.Metrics(), obs.Logger()), nil
}
