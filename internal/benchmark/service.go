// Package benchmark generates market benchmark assumptions for a deal.
package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/metrics"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/store"
	"github.com/sells-group/dealdesk/pkg/anthropic"
)

// ErrNoAssumptionSet is returned when a deal has no assumption set to
// write benchmarks into.
var ErrNoAssumptionSet = eris.New("benchmark: deal has no assumption set")

// RequiredKeys are the benchmarks every generation must try to produce.
var RequiredKeys = []string{"rent_psf_yr", "vacancy_rate", "cap_rate", "opex_ratio", "purchase_price"}

const temperature = 0.3

// Suggestion is one generated benchmark.
type Suggestion struct {
	Key        string  `json:"key"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	RangeMin   float64 `json:"range_min"`
	RangeMax   float64 `json:"range_max"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Service generates benchmarks into a deal's first assumption set.
type Service struct {
	store     store.Store
	llm       anthropic.Client
	model     string
	maxTokens int64
}

// NewService creates a benchmark Service.
func NewService(st store.Store, llm anthropic.Client, modelName string, maxTokens int64) *Service {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Service{store: st, llm: llm, model: modelName, maxTokens: maxTokens}
}

// Generate asks the model for market benchmarks and upserts them into the
// deal's first assumption set as AI-sourced assumptions.
func (s *Service) Generate(ctx context.Context, dealID string) ([]Suggestion, error) {
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: get deal")
	}

	sets, err := s.store.ListAssumptionSets(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: list assumption sets")
	}
	if len(sets) == 0 {
		return nil, eris.Wrapf(ErrNoAssumptionSet, "deal %s", dealID)
	}
	target := sets[0]

	temp := temperature
	resp, err := s.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: buildPrompt(deal)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: create message")
	}
	metrics.ObserveTokens("benchmarks", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	resp.Usage.LogCost(s.model, "benchmarks")

	suggestions, err := parseSuggestions(resp.Text())
	if err != nil {
		return nil, err
	}

	if missing := missingKeys(suggestions); len(missing) > 0 {
		zap.L().Warn("benchmark: required keys missing from response",
			zap.String("deal_id", dealID),
			zap.Strings("missing", missing),
		)
	}

	assumptions := make([]model.Assumption, 0, len(suggestions))
	for _, sg := range suggestions {
		value, lo, hi := sg.Value, sg.RangeMin, sg.RangeMax
		assumptions = append(assumptions, model.Assumption{
			SetID:       target.ID,
			Key:         sg.Key,
			ValueNumber: &value,
			Unit:        sg.Unit,
			RangeMin:    &lo,
			RangeMax:    &hi,
			SourceType:  model.SourceAI,
			SourceRef:   sg.Source,
			Notes:       fmt.Sprintf("confidence %.2f", sg.Confidence),
		})
	}
	if err := s.store.UpsertAssumptions(ctx, target.ID, assumptions); err != nil {
		return nil, eris.Wrap(err, "benchmark: upsert assumptions")
	}

	zap.L().Info("benchmark: generated",
		zap.String("deal_id", dealID),
		zap.String("set_id", target.ID),
		zap.Int("count", len(suggestions)),
	)
	return suggestions, nil
}

func buildPrompt(d *model.Deal) string {
	return fmt.Sprintf(`You are a commercial real estate analyst. Generate market benchmark assumptions for a %s property located at %s.

Return a JSON object with a single key "benchmarks" containing an array of objects. Each object must have these exact keys:
  "key": string (e.g. "rent_psf_yr", "vacancy_rate", "cap_rate", "opex_ratio")
  "value": number
  "unit": string (e.g. "$/sf/yr", "%%", "ratio")
  "range_min": number
  "range_max": number
  "source": string (data source description)
  "confidence": number between 0 and 1

Include at least: %s (purchase_price is the total purchase price, not per square foot).`,
		d.PropertyType.Label(), d.FullAddress(), strings.Join(RequiredKeys, ", "))
}

func parseSuggestions(text string) ([]Suggestion, error) {
	var payload struct {
		Benchmarks []Suggestion `json:"benchmarks"`
	}
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(text)), &payload); err != nil {
		return nil, eris.Wrap(err, "benchmark: decode response")
	}

	seen := make(map[string]bool, len(payload.Benchmarks))
	out := make([]Suggestion, 0, len(payload.Benchmarks))
	for _, sg := range payload.Benchmarks {
		sg.Key = strings.TrimSpace(sg.Key)
		if sg.Key == "" || seen[sg.Key] {
			continue
		}
		seen[sg.Key] = true
		out = append(out, sg)
	}
	return out, nil
}

func missingKeys(suggestions []Suggestion) []string {
	have := make(map[string]bool, len(suggestions))
	for _, sg := range suggestions {
		have[sg.Key] = true
	}
	var missing []string
	for _, k := range RequiredKeys {
		if !have[k] {
			missing = append(missing, k)
		}
	}
	return missing
}
