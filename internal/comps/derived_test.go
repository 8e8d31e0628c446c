package comps

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/search"
	"github.com/sells-group/dealdesk/pkg/anthropic"
	anthropicmocks "github.com/sells-group/dealdesk/pkg/anthropic/mocks"
)

func TestQueries(t *testing.T) {
	s := testSubject()
	s.PropertyType = model.PropertyMixedUse
	q := Queries(s)
	require.Len(t, q, 2)
	assert.Equal(t, "mixed use sold Austin, TX 2023 2024 comparable properties", q[0])
	assert.Equal(t, "mixed use comps Austin, TX cap rate price per unit site:zillow.com OR site:loopnet.com", q[1])
}

func TestSearchProvider_ExtractsComps(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything, search.DepthBasic, 5).Return([]model.SearchResult{
		{URL: "https://loopnet.com/a", Title: "Sold", Snippet: strings.Repeat("z", 800)},
	}, nil).Once()
	searcher.On("Search", mock.Anything, mock.Anything, search.DepthBasic, 5).Return(nil, errors.New("timeout")).Once()

	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		content := req.Messages[0].Content
		return strings.Contains(content, "https://loopnet.com/a") && !strings.Contains(content, strings.Repeat("z", 501))
	})).Return(&anthropic.MessageResponse{Content: []anthropic.ContentBlock{{
		Type: anthropic.BlockText,
		Text: `{"comps":[
			{"address":"12 Oak St","city":"Austin","state":"TX","property_type":"office","cap_rate":6.2,"sale_price":5000000,"source_url":"https://loopnet.com/a"},
			{"address":"","cap_rate":0.05},
			{"address":"9 Elm Ave","property_type":"warehouse","occupancy_rate":0.93}
		]}`,
	}}}, nil)

	p := NewSearchProvider(searcher, llm, "claude-sonnet-4-5-20250929", 0)
	got, err := p.SearchComps(context.Background(), testSubject())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "12 Oak St", got[0].Address)
	assert.Equal(t, model.CompSourceTavily, got[0].Source)
	require.NotNil(t, got[0].CapRate)
	assert.InDelta(t, 0.062, *got[0].CapRate, 1e-9)

	assert.Equal(t, "9 Elm Ave", got[1].Address)
	assert.Equal(t, "Austin", got[1].City)
	assert.Equal(t, model.PropertyOffice, got[1].PropertyType)
	assert.InDelta(t, 0.93, *got[1].OccupancyRate, 1e-9)
}

func TestSearchProvider_NoResultsSkipsModel(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything, search.DepthBasic, 5).Return([]model.SearchResult{}, nil)
	llm := anthropicmocks.NewMockClient(t)

	got, err := NewSearchProvider(searcher, llm, "m", 0).SearchComps(context.Background(), testSubject())
	require.NoError(t, err)
	assert.Empty(t, got)
	llm.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSearchProvider_ParseFailure(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything, search.DepthBasic, 5).
		Return([]model.SearchResult{{URL: "https://a", Snippet: "x"}}, nil)
	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: "sorry, nothing useful"}},
	}, nil)

	got, err := NewSearchProvider(searcher, llm, "m", 0).SearchComps(context.Background(), testSubject())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParseComps_PercentConversion(t *testing.T) {
	got, err := parseComps(`{"comps":[{"address":"1 A St","cap_rate":0.07,"occupancy_rate":95,"expense_ratio":42}]}`, testSubject(), time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.07, *got[0].CapRate, 1e-9)
	assert.InDelta(t, 0.95, *got[0].OccupancyRate, 1e-9)
	assert.InDelta(t, 0.42, *got[0].ExpenseRatio, 1e-9)
}
