package model

import (
	"strings"
	"time"
)

// Phase selects how thorough a validation run is.
type Phase string

const (
	PhaseQuick Phase = "quick"
	PhaseDeep  Phase = "deep"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == PhaseQuick || p == PhaseDeep
}

// ValidationStatus is the verdict on a single claim.
type ValidationStatus string

const (
	StatusWithinRange      ValidationStatus = "within_range"
	StatusAboveMarket      ValidationStatus = "above_market"
	StatusBelowMarket      ValidationStatus = "below_market"
	StatusSuspicious       ValidationStatus = "suspicious"
	StatusInsufficientData ValidationStatus = "insufficient_data"
)

// ValidationStatuses lists every status a verdict may carry.
var ValidationStatuses = []ValidationStatus{
	StatusWithinRange,
	StatusAboveMarket,
	StatusBelowMarket,
	StatusSuspicious,
	StatusInsufficientData,
}

// ParseValidationStatus maps model output onto the closed status set.
// Anything unrecognized becomes insufficient_data.
func ParseValidationStatus(s string) ValidationStatus {
	norm := ValidationStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range ValidationStatuses {
		if norm == st {
			return st
		}
	}
	return StatusInsufficientData
}

// SearchResult is one ranked snippet returned by web search.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchStep records one search issued during a validation phase.
type SearchStep struct {
	Phase   Phase          `json:"phase"`
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// Verdict is the research agent's judgment on one claim.
type Verdict struct {
	FieldKey    string           `json:"field_key"`
	OMValue     float64          `json:"om_value"`
	MarketValue *float64         `json:"market_value"`
	Status      ValidationStatus `json:"status"`
	Explanation string           `json:"explanation"`
	Sources     []SearchResult   `json:"sources"`
	Confidence  float64          `json:"confidence"`
}

// FieldValidation is the persisted, current verdict for (deal, field key)
// together with the accumulated research trail.
type FieldValidation struct {
	ID          string           `json:"id"`
	DealID      string           `json:"deal_id"`
	FieldKey    string           `json:"field_key"`
	OMValue     float64          `json:"om_value"`
	MarketValue *float64         `json:"market_value"`
	Status      ValidationStatus `json:"status"`
	Explanation string           `json:"explanation"`
	Sources     []SearchResult   `json:"sources"`
	SearchSteps []SearchStep     `json:"search_steps"`
	Confidence  float64          `json:"confidence"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ApplyVerdict overwrites the verdict fields of fv and appends steps to its
// search trail. Prior steps are never removed.
func (fv *FieldValidation) ApplyVerdict(v Verdict, steps []SearchStep) {
	fv.FieldKey = v.FieldKey
	fv.OMValue = v.OMValue
	fv.MarketValue = v.MarketValue
	fv.Status = v.Status
	fv.Explanation = v.Explanation
	fv.Sources = append([]SearchResult(nil), v.Sources...)
	fv.Confidence = v.Confidence
	fv.SearchSteps = append(fv.SearchSteps, steps...)
}
