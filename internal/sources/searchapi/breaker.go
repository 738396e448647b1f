package searchapi

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

// Searcher is anything that can fetch one page of search results
type Searcher interface {
	Search(ctx context.Context, query string, limit int, cursor string) (*models.SearchPage, error)
}

// BreakerClient wraps a Searcher with circuit breaking so a failing index is
// not hammered by every criterion's retry loop
type BreakerClient struct {
	next   Searcher
	cb     *gobreaker.CircuitBreaker
	logger *logger.Logger
}

// NewBreakerClient creates a circuit breaker in front of next
func NewBreakerClient(next Searcher, cfg config.SearchAPIConfig, log *logger.Logger) *BreakerClient {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openFor := cfg.BreakerOpenDelay
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	b := &BreakerClient{
		next:   next,
		logger: log.WithComponent("search-breaker"),
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "search-api",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// cancellation and client-side errors say nothing about index health
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return b
}

// Search implements Searcher
func (b *BreakerClient) Search(ctx context.Context, query string, limit int, cursor string) (*models.SearchPage, error) {
	resp, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Search(ctx, query, limit, cursor)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*models.SearchPage), nil
}

// State returns the current breaker state name
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}
