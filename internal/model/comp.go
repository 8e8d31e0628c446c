package model

import "time"

// CompSource identifies which provider produced a comp.
type CompSource string

const (
	CompSourceRentcast CompSource = "rentcast"
	CompSourceTavily   CompSource = "tavily"
)

// Comp is a comparable property for a deal.
type Comp struct {
	ID                string       `json:"id"`
	DealID            string       `json:"deal_id"`
	Address           string       `json:"address"`
	NormalizedAddress string       `json:"normalized_address"`
	City              string       `json:"city,omitempty"`
	State             string       `json:"state,omitempty"`
	PropertyType      PropertyType `json:"property_type,omitempty"`
	Source            CompSource   `json:"source"`
	SourceURL         string       `json:"source_url,omitempty"`
	FetchedAt         time.Time    `json:"fetched_at"`
	Generation        string       `json:"generation,omitempty"`

	YearBuilt  *int     `json:"year_built,omitempty"`
	UnitCount  *int     `json:"unit_count,omitempty"`
	SquareFeet *float64 `json:"square_feet,omitempty"`

	SalePrice    *float64 `json:"sale_price,omitempty"`
	PricePerUnit *float64 `json:"price_per_unit,omitempty"`
	PricePerSqft *float64 `json:"price_per_sqft,omitempty"`
	CapRate      *float64 `json:"cap_rate,omitempty"`

	RentPerUnit   *float64 `json:"rent_per_unit,omitempty"`
	OccupancyRate *float64 `json:"occupancy_rate,omitempty"`
	NOI           *float64 `json:"noi,omitempty"`
	ExpenseRatio  *float64 `json:"expense_ratio,omitempty"`
	OpexPerUnit   *float64 `json:"opex_per_unit,omitempty"`
}
