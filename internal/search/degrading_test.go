package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/resilience"
)

func TestDegrading_PassesResults(t *testing.T) {
	next := &mockSearcher{}
	want := []model.SearchResult{{URL: "https://a"}}
	next.On("Search", mock.Anything, "q", DepthBasic, 5).Return(want, nil)

	got, err := NewDegrading("tavily", next, DegradingConfig{}).Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDegrading_ErrorBecomesEmpty(t *testing.T) {
	next := &mockSearcher{}
	next.On("Search", mock.Anything, "q", DepthBasic, 5).Return(nil, errors.New("upstream down"))

	got, err := NewDegrading("tavily", next, DegradingConfig{}).Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDegrading_Timeout(t *testing.T) {
	next := &mockSearcher{}
	next.On("Search", mock.Anything, "q", DepthBasic, 5).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	d := NewDegrading("tavily", next, DegradingConfig{Timeout: 10 * time.Millisecond})
	got, err := d.Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDegrading_OpenCircuitSkipsProvider(t *testing.T) {
	next := &mockSearcher{}
	next.On("Search", mock.Anything, "q", DepthBasic, 5).Return(nil, errors.New("fail")).Twice()

	breaker := resilience.NewCircuitBreaker("tavily", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	d := NewDegrading("tavily", next, DegradingConfig{Breaker: breaker})

	for i := 0; i < 3; i++ {
		got, err := d.Search(context.Background(), "q", DepthBasic, 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	next.AssertNumberOfCalls(t, "Search", 2)
	assert.Equal(t, resilience.CircuitOpen, breaker.State())
}

func TestDegrading_RateLimited(t *testing.T) {
	next := &mockSearcher{}
	next.On("Search", mock.Anything, "q", DepthBasic, 5).Return([]model.SearchResult{{URL: "https://a"}}, nil)

	d := NewDegrading("tavily", next, DegradingConfig{RatePerSec: 1000})
	for i := 0; i < 3; i++ {
		got, err := d.Search(context.Background(), "q", DepthBasic, 5)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
	next.AssertNumberOfCalls(t, "Search", 3)
}
