// Package search adapts web search providers to the single capability the
// research agent and the derived comps provider rely on.
package search

import (
	"context"
	"strings"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/pkg/jina"
	"github.com/sells-group/dealdesk/pkg/tavily"
)

// Depth selects how thorough a search is.
type Depth string

const (
	DepthBasic    Depth = "basic"
	DepthAdvanced Depth = "advanced"
)

// DepthFor maps a validation phase to a search depth.
func DepthFor(phase model.Phase) Depth {
	if phase == model.PhaseDeep {
		return DepthAdvanced
	}
	return DepthBasic
}

// Searcher returns up to maxResults ranked results for query.
type Searcher interface {
	Search(ctx context.Context, query string, depth Depth, maxResults int) ([]model.SearchResult, error)
}

// Tavily adapts the Tavily API.
type Tavily struct {
	client tavily.Client
}

// NewTavily wraps a Tavily client.
func NewTavily(c tavily.Client) *Tavily {
	return &Tavily{client: c}
}

func (t *Tavily) Search(ctx context.Context, query string, depth Depth, maxResults int) ([]model.SearchResult, error) {
	resp, err := t.client.Search(ctx, tavily.SearchRequest{
		Query:       query,
		SearchDepth: string(depth),
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, model.SearchResult{URL: r.URL, Title: r.Title, Snippet: r.Content})
	}
	return limit(out, maxResults), nil
}

// Jina adapts Jina AI Search. Jina has no depth setting, so depth is ignored.
type Jina struct {
	client jina.Client
}

// NewJina wraps a Jina client.
func NewJina(c jina.Client) *Jina {
	return &Jina{client: c}
}

func (j *Jina) Search(ctx context.Context, query string, _ Depth, maxResults int) ([]model.SearchResult, error) {
	resp, err := j.client.Search(ctx, query, jina.WithCount(maxResults))
	if err != nil {
		return nil, err
	}

	out := make([]model.SearchResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		snippet := r.Description
		if strings.TrimSpace(r.Content) != "" {
			snippet = r.Content
		}
		out = append(out, model.SearchResult{URL: r.URL, Title: r.Title, Snippet: snippet})
	}
	return limit(out, maxResults), nil
}

func limit(results []model.SearchResult, n int) []model.SearchResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}

// Truncate returns a copy of results with each snippet cut to maxChars runes.
func Truncate(results []model.SearchResult, maxChars int) []model.SearchResult {
	out := make([]model.SearchResult, len(results))
	for i, r := range results {
		if maxChars > 0 {
			if runes := []rune(r.Snippet); len(runes) > maxChars {
				r.Snippet = string(runes[:maxChars])
			}
		}
		out[i] = r
	}
	return out
}
