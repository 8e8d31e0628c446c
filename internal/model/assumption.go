package model

// AssumptionSource records where an assumption value came from.
type AssumptionSource string

const (
	SourceOM       AssumptionSource = "om"
	SourceAI       AssumptionSource = "ai"
	SourceManual   AssumptionSource = "manual"
	SourceAIEdited AssumptionSource = "ai_edited"
)

// BaseCaseName is the name of the assumption set created with every deal.
const BaseCaseName = "Base Case"

// AssumptionSet groups assumptions for a deal scenario.
type AssumptionSet struct {
	ID          string       `json:"id"`
	DealID      string       `json:"deal_id"`
	Name        string       `json:"name"`
	Assumptions []Assumption `json:"assumptions,omitempty"`
}

// Assumption is a single underwriting input, e.g. a market benchmark.
type Assumption struct {
	ID          string           `json:"id"`
	SetID       string           `json:"set_id"`
	Key         string           `json:"key"`
	ValueNumber *float64         `json:"value_number,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	RangeMin    *float64         `json:"range_min,omitempty"`
	RangeMax    *float64         `json:"range_max,omitempty"`
	SourceType  AssumptionSource `json:"source_type"`
	SourceRef   string           `json:"source_ref,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}
