package search

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dealdesk/internal/metrics"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/resilience"
)

// DegradingConfig tunes the Degrading wrapper.
type DegradingConfig struct {
	Timeout    time.Duration // per call; default 30s
	RatePerSec float64       // 0 disables limiting
	Breaker    *resilience.CircuitBreaker
}

// Degrading wraps a Searcher so that every failure, timeout or open circuit
// yields zero results instead of an error.
type Degrading struct {
	name    string
	next    Searcher
	timeout time.Duration
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewDegrading wraps next under the given provider name.
func NewDegrading(name string, next Searcher, cfg DegradingConfig) *Degrading {
	d := &Degrading{
		name:    name,
		next:    next,
		timeout: cfg.Timeout,
		breaker: cfg.Breaker,
	}
	if d.timeout <= 0 {
		d.timeout = 30 * time.Second
	}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return d
}

func (d *Degrading) Search(ctx context.Context, query string, depth Depth, maxResults int) ([]model.SearchResult, error) {
	log := zap.L().With(zap.String("provider", d.name), zap.String("query", query))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			log.Warn("search: rate limiter wait failed", zap.Error(err))
			metrics.SearchRequests.WithLabelValues(d.name, "throttled").Inc()
			return nil, nil
		}
	}

	start := time.Now()
	call := func(ctx context.Context) ([]model.SearchResult, error) {
		return d.next.Search(ctx, query, depth, maxResults)
	}

	var results []model.SearchResult
	var err error
	if d.breaker != nil {
		results, err = resilience.ExecuteVal(ctx, d.breaker, call)
	} else {
		results, err = call(ctx)
	}
	metrics.ObserveSearch(d.name, start, err)

	if err != nil {
		log.Warn("search: provider degraded, returning no results", zap.Error(err))
		return nil, nil
	}
	return results, nil
}
