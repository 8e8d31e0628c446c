package comps

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/search"
	"github.com/sells-group/dealdesk/pkg/rentcast"
)

type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) SearchComps(ctx context.Context, subject Subject) ([]model.Comp, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Comp), args.Error(1)
}

type mockRentcastClient struct {
	mock.Mock
}

func (m *mockRentcastClient) SearchProperties(ctx context.Context, q rentcast.PropertyQuery) ([]rentcast.Property, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rentcast.Property), args.Error(1)
}

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, query string, depth search.Depth, maxResults int) ([]model.SearchResult, error) {
	args := m.Called(ctx, query, depth, maxResults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SearchResult), args.Error(1)
}

func ptr[T any](v T) *T { return &v }
