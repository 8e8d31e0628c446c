// Package research implements the bounded tool-use loop that checks
// offering-memorandum claims against live web search results.
package research

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/metrics"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/search"
	"github.com/sells-group/dealdesk/pkg/anthropic"
)

const toolWebSearch = "web_search"

// Run outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeExhausted   = "exhausted"
	OutcomeParseFailed = "parse_failed"
)

// Config bounds the agent loop.
type Config struct {
	QuickRounds  int
	DeepRounds   int
	MaxResults   int
	SnippetChars int
	Model        string
	MaxTokens    int64
}

func (c *Config) applyDefaults() {
	if c.QuickRounds <= 0 {
		c.QuickRounds = 3
	}
	if c.DeepRounds <= 0 {
		c.DeepRounds = 10
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.SnippetChars <= 0 {
		c.SnippetChars = 500
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
}

// Rounds returns the round budget for phase.
func (c Config) Rounds(phase model.Phase) int {
	if phase == model.PhaseDeep {
		return c.DeepRounds
	}
	return c.QuickRounds
}

// Result is the outcome of one Validate call. Steps holds every search
// issued, in order, even when Verdicts is empty.
type Result struct {
	Verdicts []model.Verdict
	Steps    []model.SearchStep
	Rounds   int
	Outcome  string
	Usage    anthropic.TokenUsage
}

// Agent runs the research loop.
type Agent struct {
	llm     anthropic.Client
	search  search.Searcher
	catalog *Catalog
	cfg     Config
}

// NewAgent creates an Agent. A nil catalog falls back to the built-in one.
func NewAgent(llm anthropic.Client, searcher search.Searcher, catalog *Catalog, cfg Config) *Agent {
	cfg.applyDefaults()
	if catalog == nil {
		catalog, _ = LoadCatalog("")
	}
	return &Agent{llm: llm, search: searcher, catalog: catalog, cfg: cfg}
}

var webSearchTool = anthropic.Tool{
	Name:        toolWebSearch,
	Description: "Search the web for current market data. Returns ranked results with url, title and snippet.",
	Properties: map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "The search query, including the property type and location.",
		},
	},
	Required: []string{"query"},
}

// Validate asks the model for a verdict on each claim, executing web
// searches on its behalf for at most the phase's round budget. Running out
// of rounds or an unparseable final answer yields no verdicts and no error.
// Only a reasoning-service failure is returned as an error.
func (a *Agent) Validate(ctx context.Context, pc Context, claims []model.NumericClaim, benchmarks []model.Assumption, phase model.Phase) (*Result, error) {
	log := zap.L().With(zap.String("phase", string(phase)), zap.Int("claims", len(claims)))

	res := &Result{Outcome: OutcomeExhausted}
	if len(claims) == 0 {
		res.Outcome = OutcomeCompleted
		return res, nil
	}

	rounds := a.cfg.Rounds(phase)
	depth := search.DepthFor(phase)
	messages := []anthropic.Message{
		{Role: "user", Content: buildUserPrompt(pc, claims, benchmarks, a.catalog, phase)},
	}

	defer func() {
		metrics.AgentRounds.WithLabelValues(string(phase)).Observe(float64(res.Rounds))
		metrics.AgentOutcomes.WithLabelValues(string(phase), res.Outcome).Inc()
		metrics.ObserveTokens("validate_"+string(phase), res.Usage.InputTokens, res.Usage.OutputTokens)
	}()

	for res.Rounds < rounds {
		res.Rounds++

		resp, err := a.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.cfg.Model,
			MaxTokens: a.cfg.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
			Messages:  messages,
			Tools:     []anthropic.Tool{webSearchTool},
		})
		if err != nil {
			res.Outcome = "error"
			return nil, eris.Wrap(err, "research: create message")
		}
		res.Usage.Add(resp.Usage)

		uses := resp.ToolUses()
		if len(uses) == 0 {
			verdicts, err := parseVerdicts(resp.Text(), claims)
			if err != nil {
				log.Warn("research: unparseable final answer", zap.Error(err), zap.Int("round", res.Rounds))
				res.Outcome = OutcomeParseFailed
				res.Usage.LogCost(a.cfg.Model, "validate_"+string(phase))
				return res, nil
			}
			res.Verdicts = verdicts
			res.Outcome = OutcomeCompleted
			for _, v := range verdicts {
				metrics.VerdictStatuses.WithLabelValues(string(phase), string(v.Status)).Inc()
			}
			res.Usage.LogCost(a.cfg.Model, "validate_"+string(phase))
			return res, nil
		}

		messages = append(messages, resp.AssistantTurn())
		results := make([]anthropic.ContentBlock, 0, len(uses))
		for _, use := range uses {
			block, step := a.runTool(ctx, use, depth, phase)
			if step != nil {
				res.Steps = append(res.Steps, *step)
			}
			results = append(results, block)
		}
		messages = append(messages, anthropic.Message{Role: "user", Blocks: results})
	}

	log.Warn("research: round budget exhausted", zap.Int("rounds", res.Rounds), zap.Int("steps", len(res.Steps)))
	res.Usage.LogCost(a.cfg.Model, "validate_"+string(phase))
	return res, nil
}

// runTool executes one tool_use block. The returned step is nil when no
// search was issued.
func (a *Agent) runTool(ctx context.Context, use anthropic.ContentBlock, depth search.Depth, phase model.Phase) (anthropic.ContentBlock, *model.SearchStep) {
	if use.Name != toolWebSearch {
		return anthropic.ToolResult(use.ID, "unknown tool: "+use.Name, true), nil
	}

	var input struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(use.Input, &input); err != nil || strings.TrimSpace(input.Query) == "" {
		return anthropic.ToolResult(use.ID, "web_search requires a non-empty query", true), nil
	}
	query := strings.TrimSpace(input.Query)

	hits, err := a.search.Search(ctx, query, depth, a.cfg.MaxResults)
	if err != nil {
		zap.L().Warn("research: search failed", zap.String("query", query), zap.Error(err))
		hits = nil
	}
	hits = search.Truncate(hits, a.cfg.SnippetChars)

	payload, _ := json.Marshal(hits)
	step := &model.SearchStep{Phase: phase, Query: query, Results: hits}
	return anthropic.ToolResult(use.ID, string(payload), false), step
}

type rawVerdict struct {
	FieldKey    string               `json:"field_key"`
	MarketValue *float64             `json:"market_value"`
	Status      string               `json:"status"`
	Explanation string               `json:"explanation"`
	Sources     []model.SearchResult `json:"sources"`
	Confidence  *float64             `json:"confidence"`
}

// parseVerdicts decodes the final answer and reconciles it with the input
// claims. Keys that were not claimed are dropped and the first verdict for
// a key wins.
func parseVerdicts(text string, claims []model.NumericClaim) ([]model.Verdict, error) {
	var payload struct {
		Validations *[]rawVerdict `json:"validations"`
	}
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(text)), &payload); err != nil {
		return nil, eris.Wrap(err, "research: decode verdicts")
	}
	if payload.Validations == nil {
		return nil, eris.New("research: missing validations array")
	}

	byKey := make(map[string]model.NumericClaim, len(claims))
	for _, c := range claims {
		byKey[c.Key] = c
	}

	seen := make(map[string]bool)
	verdicts := make([]model.Verdict, 0, len(*payload.Validations))
	for _, rv := range *payload.Validations {
		claim, ok := byKey[rv.FieldKey]
		if !ok || seen[rv.FieldKey] {
			continue
		}
		seen[rv.FieldKey] = true

		v := model.Verdict{
			FieldKey:    rv.FieldKey,
			OMValue:     claim.Value,
			MarketValue: rv.MarketValue,
			Status:      model.ParseValidationStatus(rv.Status),
			Explanation: rv.Explanation,
			Sources:     rv.Sources,
		}
		if v.Status == model.StatusInsufficientData {
			v.MarketValue = nil
		}
		if v.Sources == nil {
			v.Sources = []model.SearchResult{}
		}
		if rv.Confidence != nil {
			v.Confidence = clamp01(*rv.Confidence)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}
