package research

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/search"
	"github.com/sells-group/dealdesk/pkg/anthropic"
	anthropicmocks "github.com/sells-group/dealdesk/pkg/anthropic/mocks"
)

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

func toolUseResponse(id, query string) *anthropic.MessageResponse {
	input, _ := json.Marshal(map[string]string{"query": query})
	return &anthropic.MessageResponse{
		StopReason: anthropic.StopToolUse,
		Content: []anthropic.ContentBlock{
			{Type: anthropic.BlockText, Text: "Let me look that up."},
			{Type: anthropic.BlockToolUse, ID: id, Name: toolWebSearch, Input: input},
		},
		Usage: anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: text}},
		Usage:      anthropic.TokenUsage{InputTokens: 200, OutputTokens: 80},
	}
}

var testContext = Context{Location: "100 Main St, Austin, TX", Category: "multifamily", Size: "120000 sf"}

func testClaims() []model.NumericClaim {
	return []model.NumericClaim{
		{Key: "cap_rate", Value: 0.055, Unit: "ratio"},
		{Key: "rent_psf_yr", Value: 32},
	}
}

func TestValidate_RoundBound(t *testing.T) {
	tests := []struct {
		phase  model.Phase
		rounds int
		depth  search.Depth
	}{
		{model.PhaseQuick, 3, search.DepthBasic},
		{model.PhaseDeep, 10, search.DepthAdvanced},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			llm := anthropicmocks.NewMockClient(t)
			llm.On("CreateMessage", mock.Anything, mock.Anything).Return(toolUseResponse("tu_1", "austin cap rates"), nil)

			searcher := &mockSearcher{}
			searcher.On("Search", mock.Anything, "austin cap rates", tt.depth, 5).
				Return([]model.SearchResult{{URL: "https://a", Title: "A", Snippet: "5.5%"}}, nil)

			agent := NewAgent(llm, searcher, nil, Config{})
			res, err := agent.Validate(context.Background(), testContext, testClaims(), nil, tt.phase)
			require.NoError(t, err)

			llm.AssertNumberOfCalls(t, "CreateMessage", tt.rounds)
			assert.Equal(t, tt.rounds, res.Rounds)
			assert.Equal(t, OutcomeExhausted, res.Outcome)
			assert.Empty(t, res.Verdicts)
			require.Len(t, res.Steps, tt.rounds)
			for _, s := range res.Steps {
				assert.Equal(t, tt.phase, s.Phase)
				assert.Equal(t, "austin cap rates", s.Query)
			}
		})
	}
}

func TestValidate_SearchThenVerdicts(t *testing.T) {
	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(toolUseResponse("tu_1", "austin multifamily cap rate 2026"), nil).Once()
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		// user prompt, assistant tool turn, tool results
		if len(req.Messages) != 3 {
			return false
		}
		res := req.Messages[2].Blocks
		return len(res) == 1 && res[0].Type == anthropic.BlockToolResult && res[0].ToolUseID == "tu_1" && !res[0].IsError
	})).Return(textResponse("```json\n"+`{"validations":[
		{"field_key":"cap_rate","om_value":999,"market_value":0.052,"status":"within_range","explanation":"Submarket cap rates run 5.0-5.5%.","sources":[{"url":"https://a","title":"A","snippet":"5.2%"}],"confidence":0.8},
		{"field_key":"rent_psf_yr","market_value":28,"status":"insufficient_data","explanation":"No reliable rent comps.","confidence":0.3}
	]}`+"\n```"), nil).Once()

	long := strings.Repeat("x", 900)
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, "austin multifamily cap rate 2026", search.DepthBasic, 5).
		Return([]model.SearchResult{{URL: "https://a", Title: "A", Snippet: long}}, nil)

	agent := NewAgent(llm, searcher, nil, Config{Model: "claude-sonnet-4-5-20250929"})
	res, err := agent.Validate(context.Background(), testContext, testClaims(), nil, model.PhaseQuick)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Rounds)
	require.Len(t, res.Steps, 1)
	assert.Len(t, res.Steps[0].Results[0].Snippet, 500)

	require.Len(t, res.Verdicts, 2)
	capRate := res.Verdicts[0]
	assert.Equal(t, "cap_rate", capRate.FieldKey)
	assert.InDelta(t, 0.055, capRate.OMValue, 1e-9, "om_value comes from the claim")
	require.NotNil(t, capRate.MarketValue)
	assert.InDelta(t, 0.052, *capRate.MarketValue, 1e-9)
	assert.Equal(t, model.StatusWithinRange, capRate.Status)
	assert.Len(t, capRate.Sources, 1)
	assert.InDelta(t, 0.8, capRate.Confidence, 1e-9)

	rent := res.Verdicts[1]
	assert.Equal(t, model.StatusInsufficientData, rent.Status)
	assert.Nil(t, rent.MarketValue)
	assert.NotNil(t, rent.Sources)
	assert.Empty(t, rent.Sources)

	assert.Equal(t, int64(300), res.Usage.InputTokens)
}

// lastToolResult reports whether the request ends with a tool result whose
// content contains want.
func lastToolResult(want string) func(anthropic.MessageRequest) bool {
	return func(req anthropic.MessageRequest) bool {
		if len(req.Messages) == 0 {
			return false
		}
		blocks := req.Messages[len(req.Messages)-1].Blocks
		return len(blocks) == 1 && blocks[0].Type == anthropic.BlockToolResult && strings.Contains(blocks[0].Text, want)
	}
}

func TestValidate_RentWithinMarketRange(t *testing.T) {
	claims := []model.NumericClaim{{Key: "rent_psf_yr", Value: 30, Unit: "usd_per_sf_yr"}}

	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1
	})).Return(toolUseResponse("tu_1", "austin office asking rent per square foot"), nil).Once()
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(lastToolResult("$28–$32/sf"))).
		Return(textResponse(`{"validations":[{"field_key":"rent_psf_yr","om_value":30,"market_value":30,"status":"within_range","explanation":"Submarket asking rents run $28–$32/sf.","sources":[{"url":"https://broker.example/austin-q2","title":"Austin Office Q2","snippet":"Class B asking rents $28–$32/sf"}],"confidence":0.75}]}`), nil).Once()

	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, "austin office asking rent per square foot", search.DepthBasic, 5).
		Return([]model.SearchResult{
			{URL: "https://broker.example/austin-q2", Title: "Austin Office Q2", Snippet: "Class B asking rents $28–$32/sf"},
			{URL: "https://news.example/rents", Title: "Rents hold", Snippet: "Full service gross rents between $28–$32/sf in the CBD fringe"},
		}, nil)

	res, err := NewAgent(llm, searcher, nil, Config{}).Validate(context.Background(), testContext, claims, nil, model.PhaseQuick)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	require.Len(t, res.Steps, 1)
	assert.Len(t, res.Steps[0].Results, 2)

	require.Len(t, res.Verdicts, 1)
	v := res.Verdicts[0]
	assert.Equal(t, model.StatusWithinRange, v.Status)
	assert.InDelta(t, 30, v.OMValue, 1e-9)
	require.NotNil(t, v.MarketValue)
	assert.GreaterOrEqual(t, *v.MarketValue, 28.0)
	assert.LessOrEqual(t, *v.MarketValue, 32.0)
	assert.Len(t, v.Sources, 1)
}

func TestValidate_NoSearchResultsIsInsufficientData(t *testing.T) {
	claims := []model.NumericClaim{{Key: "cap_rate", Value: 0.05, Unit: "ratio"}}

	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1
	})).Return(toolUseResponse("tu_1", "austin multifamily cap rate"), nil).Once()
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 3
	})).Return(toolUseResponse("tu_2", "travis county apartment sale cap rate"), nil).Once()
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 5 && lastToolResult("[]")(req)
	})).Return(textResponse(`{"validations":[{"field_key":"cap_rate","market_value":0.05,"status":"insufficient_data","explanation":"No market data found.","sources":[],"confidence":0.1}]}`), nil).Once()

	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything, search.DepthAdvanced, 5).Return([]model.SearchResult{}, nil)

	res, err := NewAgent(llm, searcher, nil, Config{}).Validate(context.Background(), testContext, claims, nil, model.PhaseDeep)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	require.Len(t, res.Steps, 2)
	for _, step := range res.Steps {
		assert.Empty(t, step.Results)
	}
	searcher.AssertNumberOfCalls(t, "Search", 2)

	require.Len(t, res.Verdicts, 1)
	v := res.Verdicts[0]
	assert.Equal(t, model.StatusInsufficientData, v.Status)
	assert.Nil(t, v.MarketValue)
	assert.InDelta(t, 0.05, v.OMValue, 1e-9)
}

func TestValidate_NoSearchNoSteps(t *testing.T) {
	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"validations":[{"field_key":"cap_rate","status":"above_market","market_value":0.06,"confidence":0.7}]}`), nil).Once()

	searcher := &mockSearcher{}
	agent := NewAgent(llm, searcher, nil, Config{})
	res, err := agent.Validate(context.Background(), testContext, testClaims(), nil, model.PhaseDeep)
	require.NoError(t, err)

	assert.Empty(t, res.Steps)
	require.Len(t, res.Verdicts, 1)
	assert.Equal(t, model.StatusAboveMarket, res.Verdicts[0].Status)
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidate_ParseFailureKeepsSteps(t *testing.T) {
	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(toolUseResponse("tu_1", "austin rents"), nil).Once()
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("I could not decide."), nil).Once()

	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, "austin rents", search.DepthBasic, 5).Return([]model.SearchResult{}, nil)

	agent := NewAgent(llm, searcher, nil, Config{})
	res, err := agent.Validate(context.Background(), testContext, testClaims(), nil, model.PhaseQuick)
	require.NoError(t, err)

	assert.Equal(t, OutcomeParseFailed, res.Outcome)
	assert.Empty(t, res.Verdicts)
	require.Len(t, res.Steps, 1)
	assert.NotNil(t, res.Steps[0].Results)
}

func TestValidate_TransportError(t *testing.T) {
	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset")).Once()

	agent := NewAgent(llm, &mockSearcher{}, nil, Config{})
	res, err := agent.Validate(context.Background(), testContext, testClaims(), nil, model.PhaseQuick)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestValidate_EmptyQueryIsSkipped(t *testing.T) {
	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		StopReason: anthropic.StopToolUse,
		Content: []anthropic.ContentBlock{
			{Type: anthropic.BlockToolUse, ID: "tu_1", Name: toolWebSearch, Input: json.RawMessage(`{"query":"  "}`)},
			{Type: anthropic.BlockToolUse, ID: "tu_2", Name: "fetch_page", Input: json.RawMessage(`{}`)},
		},
	}, nil).Once()
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		if len(req.Messages) != 3 {
			return false
		}
		res := req.Messages[2].Blocks
		return len(res) == 2 && res[0].IsError && res[1].IsError
	})).Return(textResponse(`{"validations":[]}`), nil).Once()

	searcher := &mockSearcher{}
	agent := NewAgent(llm, searcher, nil, Config{})
	res, err := agent.Validate(context.Background(), testContext, testClaims(), nil, model.PhaseQuick)
	require.NoError(t, err)

	assert.Empty(t, res.Steps)
	assert.Empty(t, res.Verdicts)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidate_SearchFailureStillRecordsStep(t *testing.T) {
	llm := anthropicmocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(toolUseResponse("tu_1", "austin opex"), nil).Once()
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"validations":[]}`), nil).Once()

	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, "austin opex", search.DepthBasic, 5).Return(nil, errors.New("timeout"))

	agent := NewAgent(llm, searcher, nil, Config{})
	res, err := agent.Validate(context.Background(), testContext, testClaims(), nil, model.PhaseQuick)
	require.NoError(t, err)

	require.Len(t, res.Steps, 1)
	assert.Empty(t, res.Steps[0].Results)
}

func TestValidate_NoClaims(t *testing.T) {
	llm := anthropicmocks.NewMockClient(t)
	agent := NewAgent(llm, &mockSearcher{}, nil, Config{})

	res, err := agent.Validate(context.Background(), testContext, nil, nil, model.PhaseQuick)
	require.NoError(t, err)
	assert.Empty(t, res.Verdicts)
	llm.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestParseVerdicts(t *testing.T) {
	claims := testClaims()

	t.Run("unknown and duplicate keys dropped", func(t *testing.T) {
		got, err := parseVerdicts(`{"validations":[
			{"field_key":"cap_rate","status":"within_range","market_value":0.05},
			{"field_key":"cap_rate","status":"suspicious","market_value":0.2},
			{"field_key":"year_built","status":"within_range","market_value":1999}
		]}`, claims)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, model.StatusWithinRange, got[0].Status)
	})

	t.Run("status closure", func(t *testing.T) {
		got, err := parseVerdicts(`{"validations":[
			{"field_key":"cap_rate","status":"WAY_TOO_HIGH","market_value":0.05},
			{"field_key":"rent_psf_yr","status":" Below_Market ","market_value":40}
		]}`, claims)
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, v := range got {
			assert.Contains(t, model.ValidationStatuses, v.Status)
		}
		assert.Equal(t, model.StatusInsufficientData, got[0].Status)
		assert.Nil(t, got[0].MarketValue)
		assert.Equal(t, model.StatusBelowMarket, got[1].Status)
	})

	t.Run("confidence clamped", func(t *testing.T) {
		got, err := parseVerdicts(`{"validations":[
			{"field_key":"cap_rate","status":"within_range","confidence":1.7},
			{"field_key":"rent_psf_yr","status":"within_range","confidence":-2}
		]}`, claims)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)
		assert.InDelta(t, 0.0, got[1].Confidence, 1e-9)
	})

	t.Run("missing array", func(t *testing.T) {
		_, err := parseVerdicts(`{"answer":"fine"}`, claims)
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := parseVerdicts("no idea", claims)
		assert.Error(t, err)
	})
}

func TestBuildUserPrompt(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	v := 0.06
	lo, hi := 0.05, 0.07
	claims := append(testClaims(), model.NumericClaim{Key: "square_feet", Value: 120000})
	benchmarks := []model.Assumption{
		{Key: "cap_rate", ValueNumber: &v, Unit: "ratio", RangeMin: &lo, RangeMax: &hi},
		{Key: "notes_only"},
	}

	quick := buildUserPrompt(testContext, claims, benchmarks, catalog, model.PhaseQuick)
	assert.Contains(t, quick, "Location: 100 Main St, Austin, TX")
	assert.Contains(t, quick, "quick review")
	assert.Contains(t, quick, "cap_rate (Going-in cap rate, financial)")
	assert.Contains(t, quick, "square_feet (Rentable square feet, descriptive)")
	assert.Contains(t, quick, "range 0.05 to 0.07")
	assert.NotContains(t, quick, "notes_only")

	deep := buildUserPrompt(testContext, claims, nil, catalog, model.PhaseDeep)
	assert.Contains(t, deep, "deep review")
	assert.NotContains(t, deep, "Benchmark assumptions")
}
