package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/pkg/jina"
	"github.com/sells-group/dealdesk/pkg/tavily"
)

func TestDepthFor(t *testing.T) {
	assert.Equal(t, DepthBasic, DepthFor(model.PhaseQuick))
	assert.Equal(t, DepthAdvanced, DepthFor(model.PhaseDeep))
}

func TestTavily_Search(t *testing.T) {
	client := &mockTavilyClient{}
	client.On("Search", mock.Anything, tavily.SearchRequest{
		Query:       "austin cap rates",
		SearchDepth: "advanced",
		MaxResults:  2,
	}).Return(&tavily.SearchResponse{Results: []tavily.Result{
		{Title: "A", URL: "https://a", Content: "5.2%"},
		{Title: "B", URL: "https://b", Content: "5.4%"},
		{Title: "C", URL: "https://c", Content: "5.6%"},
	}}, nil)

	got, err := NewTavily(client).Search(context.Background(), "austin cap rates", DepthAdvanced, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.SearchResult{URL: "https://a", Title: "A", Snippet: "5.2%"}, got[0])
	client.AssertExpectations(t)
}

func TestTavily_SearchError(t *testing.T) {
	client := &mockTavilyClient{}
	client.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("401"))

	_, err := NewTavily(client).Search(context.Background(), "q", DepthBasic, 5)
	assert.Error(t, err)
}

func TestJina_Search_PrefersContent(t *testing.T) {
	client := &mockJinaClient{}
	client.On("Search", mock.Anything, "q").Return(&jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "A", URL: "https://a", Content: "full text", Description: "desc"},
		{Title: "B", URL: "https://b", Description: "only desc"},
	}}, nil)

	got, err := NewJina(client).Search(context.Background(), "q", DepthAdvanced, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "full text", got[0].Snippet)
	assert.Equal(t, "only desc", got[1].Snippet)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", 600)
	in := []model.SearchResult{{URL: "https://a", Snippet: long}, {URL: "https://b", Snippet: "short"}}

	out := Truncate(in, 500)
	assert.Len(t, []rune(out[0].Snippet), 500)
	assert.Equal(t, "short", out[1].Snippet)
	assert.Len(t, []rune(in[0].Snippet), 600, "input must not be modified")
}
