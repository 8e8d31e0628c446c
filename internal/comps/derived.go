package comps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/metrics"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/search"
	"github.com/sells-group/dealdesk/pkg/anthropic"
)

const (
	derivedMaxResults   = 5
	derivedSnippetChars = 500
)

// SearchProvider derives comps from web search results, using one model
// call to pull structured comps out of the result snippets.
type SearchProvider struct {
	search    search.Searcher
	llm       anthropic.Client
	model     string
	maxTokens int64
}

// NewSearchProvider creates the derived-search provider.
func NewSearchProvider(searcher search.Searcher, llm anthropic.Client, modelName string, maxTokens int64) *SearchProvider {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &SearchProvider{search: searcher, llm: llm, model: modelName, maxTokens: maxTokens}
}

// Name implements Provider.
func (p *SearchProvider) Name() string { return string(model.CompSourceTavily) }

// Queries returns the searches issued for a subject.
func Queries(subject Subject) []string {
	pt := subject.PropertyType.Label()
	loc := subject.Locality()
	return []string{
		fmt.Sprintf("%s sold %s 2023 2024 comparable properties", pt, loc),
		fmt.Sprintf("%s comps %s cap rate price per unit site:zillow.com OR site:loopnet.com", pt, loc),
	}
}

// SearchComps implements Provider. Search and parse failures yield no comps;
// only a model transport error is returned.
func (p *SearchProvider) SearchComps(ctx context.Context, subject Subject) ([]model.Comp, error) {
	log := zap.L().With(zap.String("provider", p.Name()), zap.String("deal_id", subject.DealID))

	var hits []model.SearchResult
	for _, q := range Queries(subject) {
		res, err := p.search.Search(ctx, q, search.DepthBasic, derivedMaxResults)
		if err != nil {
			log.Warn("comps: search failed", zap.String("query", q), zap.Error(err))
			continue
		}
		hits = append(hits, search.Truncate(res, derivedSnippetChars)...)
	}
	if len(hits) == 0 {
		return []model.Comp{}, nil
	}

	temp := 0.0
	resp, err := p.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(extractionPrompt(subject)),
		Messages:    []anthropic.Message{{Role: "user", Content: "Search results:\n\n" + formatHits(hits)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "comps: extract")
	}
	metrics.ObserveTokens("comps_extract", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	resp.Usage.LogCost(p.model, "comps_extract")

	comps, err := parseComps(resp.Text(), subject, time.Now().UTC())
	if err != nil {
		log.Warn("comps: unparseable extraction", zap.Error(err))
		return []model.Comp{}, nil
	}
	log.Info("comps: search results", zap.Int("count", len(comps)))
	return comps, nil
}

func formatHits(hits []model.SearchResult) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("URL: %s\nTitle: %s\nContent: %s", h.URL, h.Title, h.Snippet)
	}
	return strings.Join(parts, "\n\n")
}

func extractionPrompt(subject Subject) string {
	pt := string(subject.PropertyType)
	return fmt.Sprintf(`You are extracting comparable property data from web search results.
The subject property is a %s in %s.

Extract any comparable properties you find. Return ONLY a JSON object with this structure:
{
  "comps": [
    {
      "address": "street address only",
      "city": "city",
      "state": "2-letter state",
      "property_type": "%s",
      "year_built": int or null,
      "unit_count": int or null,
      "square_feet": number or null,
      "sale_price": number or null,
      "price_per_unit": number or null,
      "price_per_sqft": number or null,
      "cap_rate": decimal like 0.062 (not 6.2) or null,
      "rent_per_unit": monthly rent or null,
      "occupancy_rate": decimal like 0.95 (not 95) or null,
      "expense_ratio": decimal or null,
      "source_url": "url of the source"
    }
  ]
}

Only include properties with an address and at least one financial metric. Return {"comps": []} if none are found.`,
		subject.PropertyType.Label(), subject.Locality(), pt)
}

type rawComp struct {
	Address       string   `json:"address"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	PropertyType  string   `json:"property_type"`
	YearBuilt     *int     `json:"year_built"`
	UnitCount     *int     `json:"unit_count"`
	SquareFeet    *float64 `json:"square_feet"`
	SalePrice     *float64 `json:"sale_price"`
	PricePerUnit  *float64 `json:"price_per_unit"`
	PricePerSqft  *float64 `json:"price_per_sqft"`
	CapRate       *float64 `json:"cap_rate"`
	RentPerUnit   *float64 `json:"rent_per_unit"`
	OccupancyRate *float64 `json:"occupancy_rate"`
	ExpenseRatio  *float64 `json:"expense_ratio"`
	SourceURL     string   `json:"source_url"`
}

func parseComps(text string, subject Subject, fetchedAt time.Time) ([]model.Comp, error) {
	var payload struct {
		Comps []rawComp `json:"comps"`
	}
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(text)), &payload); err != nil {
		return nil, eris.Wrap(err, "comps: decode extraction")
	}

	out := make([]model.Comp, 0, len(payload.Comps))
	for _, rc := range payload.Comps {
		address := strings.TrimSpace(rc.Address)
		if address == "" {
			continue
		}

		pt := subject.PropertyType
		if rc.PropertyType != "" {
			if parsed := model.ParsePropertyType(rc.PropertyType); parsed != model.PropertyOther || strings.EqualFold(rc.PropertyType, string(model.PropertyOther)) {
				pt = parsed
			}
		}

		out = append(out, model.Comp{
			Address:       address,
			City:          firstNonEmpty(strings.TrimSpace(rc.City), subject.City),
			State:         firstNonEmpty(strings.TrimSpace(rc.State), subject.State),
			PropertyType:  pt,
			Source:        model.CompSourceTavily,
			SourceURL:     rc.SourceURL,
			FetchedAt:     fetchedAt,
			YearBuilt:     rc.YearBuilt,
			UnitCount:     rc.UnitCount,
			SquareFeet:    rc.SquareFeet,
			SalePrice:     rc.SalePrice,
			PricePerUnit:  rc.PricePerUnit,
			PricePerSqft:  rc.PricePerSqft,
			CapRate:       percentToDecimal(rc.CapRate),
			RentPerUnit:   rc.RentPerUnit,
			OccupancyRate: percentToDecimal(rc.OccupancyRate),
			ExpenseRatio:  percentToDecimal(rc.ExpenseRatio),
		})
	}
	return out, nil
}

// percentToDecimal converts a ratio the model reported as a percentage
// (6.2 instead of 0.062).
func percentToDecimal(v *float64) *float64 {
	if v == nil || *v <= 1 {
		return v
	}
	d := *v / 100
	return &d
}
