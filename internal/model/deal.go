package model

import (
	"strings"
	"time"
)

// PropertyType classifies a deal's asset.
type PropertyType string

const (
	PropertyMultifamily PropertyType = "multifamily"
	PropertyOffice      PropertyType = "office"
	PropertyRetail      PropertyType = "retail"
	PropertyIndustrial  PropertyType = "industrial"
	PropertyMixedUse    PropertyType = "mixed_use"
	PropertyOther       PropertyType = "other"
)

// ParsePropertyType maps free text onto a known property type, falling back
// to PropertyOther.
func ParsePropertyType(s string) PropertyType {
	switch pt := PropertyType(strings.ToLower(strings.TrimSpace(s))); pt {
	case PropertyMultifamily, PropertyOffice, PropertyRetail, PropertyIndustrial, PropertyMixedUse:
		return pt
	default:
		return PropertyOther
	}
}

// Label returns the human-readable form used in prompts and search queries.
func (p PropertyType) Label() string {
	return strings.ReplaceAll(string(p), "_", " ")
}

// Deal is the subject that documents, validations and comps are scoped to.
type Deal struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Address       string        `json:"address"`
	City          string        `json:"city"`
	State         string        `json:"state"`
	PropertyType  PropertyType  `json:"property_type"`
	Latitude      *float64      `json:"latitude,omitempty"`
	Longitude     *float64      `json:"longitude,omitempty"`
	SquareFeet    *float64      `json:"square_feet,omitempty"`
	PipelineState PipelineState `json:"pipeline_state"`
	PipelineStage string        `json:"pipeline_stage,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasCoordinates reports whether the deal has been geocoded.
func (d *Deal) HasCoordinates() bool {
	return d.Latitude != nil && d.Longitude != nil
}

// FullAddress joins the street address with city and state.
func (d *Deal) FullAddress() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.Address, d.City, d.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Locality returns "City, ST" for search queries.
func (d *Deal) Locality() string {
	switch {
	case d.City != "" && d.State != "":
		return d.City + ", " + d.State
	case d.City != "":
		return d.City
	default:
		return d.State
	}
}
