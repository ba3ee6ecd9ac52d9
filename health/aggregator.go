package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/tooldelegate/observe"
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout is the maximum time to wait for all checks.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxConcurrent bounds how many checks run at once. Zero means no bound.
	MaxConcurrent int

	// Logger receives a warning for every check that is not healthy.
	Logger observe.Logger
}

// Aggregator combines multiple health checkers into a single composite check.
type Aggregator struct {
	config AggregatorConfig
	logger observe.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	var cfg AggregatorConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Aggregator{
		config:   cfg,
		logger:   observe.LoggerOrNop(cfg.Logger),
		checkers: make(map[string]Checker),
	}
}

// Register adds a checker under its own name. Registering a name again
// replaces the earlier checker.
func (a *Aggregator) Register(checkers ...Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range checkers {
		name := c.Name()
		if _, exists := a.checkers[name]; !exists {
			a.order = append(a.order, name)
		}
		a.checkers[name] = c
	}
}

// CheckerNames returns the names of all registered checkers in
// registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Check runs a single named health check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()

	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return a.runCheck(ctx, name, checker), nil
}

// CheckAll runs all registered health checks and returns the results.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := make(map[string]Checker, len(a.checkers))
	for name, checker := range a.checkers {
		checkers[name] = checker
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(checkers))
	if len(checkers) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if a.config.MaxConcurrent > 0 {
		g.SetLimit(a.config.MaxConcurrent)
	}
	for name, checker := range checkers {
		g.Go(func() error {
			result := a.runCheck(ctx, name, checker)
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// OverallStatus computes the overall health status from a set of results:
// the worst status of any result, healthy when there are none.
func OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, result := range results {
		if result.Status > overall {
			overall = result.Status
		}
	}
	if overall > StatusUnhealthy {
		return StatusUnhealthy
	}
	return overall
}

func (a *Aggregator) runCheck(ctx context.Context, name string, checker Checker) Result {
	start := time.Now()
	resultCh := make(chan Result, 1)

	go func() {
		result := checker.Check(ctx)
		result.Duration = time.Since(start)
		if result.Timestamp.IsZero() {
			result.Timestamp = start
		}
		resultCh <- result
	}()

	var result Result
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		result = Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}

	if result.Status != StatusHealthy {
		fields := []observe.Field{
			{Key: "check", Value: name},
			{Key: "status", Value: result.Status.String()},
			{Key: "message", Value: result.Message},
		}
		if result.Error != nil {
			fields = append(fields, observe.Field{Key: "error", Value: result.Error.Error()})
		}
		a.logger.Warn(ctx, "health check not healthy", fields...)
	}
	return result
}
