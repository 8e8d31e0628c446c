package research

import (
	"fmt"
	"strings"

	"github.com/sells-group/dealdesk/internal/model"
)

const systemPrompt = `You are a commercial real estate analyst checking the numbers in an offering memorandum (OM) against the current market.

Rules:
- Only validate financial and operational claims (prices, rents, rates, expenses, income). Skip descriptive facts such as square footage, unit counts or year built; do not return verdicts for them.
- Use the web_search tool whenever you need market evidence. Prefer recent, local sources.
- Every market assertion in an explanation must cite a search result in "sources". Do not invent URLs.
- When the evidence is thin or conflicting, use status "insufficient_data" and set market_value to null.

Statuses:
- within_range: the OM value is consistent with the market.
- above_market: the OM value is materially above the market.
- below_market: the OM value is materially below the market.
- suspicious: the OM value is implausible or internally inconsistent.
- insufficient_data: you could not establish a market value.

When you are done, reply with a single JSON object and nothing else:
{"validations": [{"field_key": string, "om_value": number, "market_value": number|null, "status": string, "explanation": string, "sources": [{"url": string, "title": string, "snippet": string}], "confidence": number between 0 and 1}]}`

// Context describes the subject property.
type Context struct {
	Location string
	Category string
	Size     string
}

// ContextFor builds the research context for a deal.
func ContextFor(d *model.Deal) Context {
	c := Context{Location: d.FullAddress(), Category: d.PropertyType.Label()}
	if d.SquareFeet != nil {
		c.Size = fmt.Sprintf("%.0f sf", *d.SquareFeet)
	}
	return c
}

func buildUserPrompt(pc Context, claims []model.NumericClaim, benchmarks []model.Assumption, catalog *Catalog, phase model.Phase) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Property: %s\n", pc.Category)
	fmt.Fprintf(&b, "Location: %s\n", pc.Location)
	if pc.Size != "" {
		fmt.Fprintf(&b, "Size: %s\n", pc.Size)
	}

	if phase == model.PhaseDeep {
		b.WriteString("\nThis is a deep review. Search thoroughly, cross-check several independent sources for each claim, and look for submarket-level data.\n")
	} else {
		b.WriteString("\nThis is a quick review. Use a few targeted searches and focus on the most material claims.\n")
	}

	b.WriteString("\nOM claims:\n")
	for _, c := range claims {
		spec := catalog.Lookup(c.Key)
		kind := "financial"
		if !spec.Financial {
			kind = "descriptive"
		}
		unit := c.Unit
		if unit == "" {
			unit = spec.Unit
		}
		fmt.Fprintf(&b, "- %s (%s, %s): %v %s\n", c.Key, spec.Label, kind, c.Value, unit)
	}

	if len(benchmarks) > 0 {
		b.WriteString("\nBenchmark assumptions already on file:\n")
		for _, a := range benchmarks {
			if a.ValueNumber == nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %v %s", a.Key, *a.ValueNumber, a.Unit)
			if a.RangeMin != nil && a.RangeMax != nil {
				fmt.Fprintf(&b, " (range %v to %v)", *a.RangeMin, *a.RangeMax)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
