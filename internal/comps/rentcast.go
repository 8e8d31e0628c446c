package comps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/pkg/rentcast"
)

var toRentcastType = map[model.PropertyType]string{
	model.PropertyMultifamily: rentcast.TypeMultiFamily,
	model.PropertyOffice:      rentcast.TypeOffice,
	model.PropertyRetail:      rentcast.TypeRetail,
	model.PropertyIndustrial:  rentcast.TypeIndustrial,
}

var fromRentcastType = map[string]model.PropertyType{
	rentcast.TypeMultiFamily: model.PropertyMultifamily,
	rentcast.TypeOffice:      model.PropertyOffice,
	rentcast.TypeRetail:      model.PropertyRetail,
	rentcast.TypeIndustrial:  model.PropertyIndustrial,
}

// RentcastProvider finds sold comps near the subject's coordinates.
type RentcastProvider struct {
	client      rentcast.Client
	hasKey      bool
	radiusMiles float64
	limit       int
}

// NewRentcastProvider creates the structured provider. With hasKey false it
// returns no comps.
func NewRentcastProvider(client rentcast.Client, hasKey bool, radiusMiles float64, limit int) *RentcastProvider {
	if radiusMiles <= 0 {
		radiusMiles = 2.0
	}
	if limit <= 0 {
		limit = 10
	}
	return &RentcastProvider{client: client, hasKey: hasKey, radiusMiles: radiusMiles, limit: limit}
}

// Name implements Provider.
func (p *RentcastProvider) Name() string { return string(model.CompSourceRentcast) }

// SearchComps implements Provider.
func (p *RentcastProvider) SearchComps(ctx context.Context, subject Subject) ([]model.Comp, error) {
	log := zap.L().With(zap.String("provider", p.Name()), zap.String("deal_id", subject.DealID))
	if subject.Latitude == nil || subject.Longitude == nil {
		log.Warn("comps: subject has no coordinates, skipping")
		return []model.Comp{}, nil
	}
	if !p.hasKey {
		log.Warn("comps: rentcast key not configured, skipping")
		return []model.Comp{}, nil
	}

	rcType, ok := toRentcastType[subject.PropertyType]
	if !ok {
		rcType = rentcast.TypeMultiFamily
	}

	props, err := p.client.SearchProperties(ctx, rentcast.PropertyQuery{
		Latitude:     *subject.Latitude,
		Longitude:    *subject.Longitude,
		RadiusMiles:  p.radiusMiles,
		PropertyType: rcType,
		Limit:        p.limit,
	})
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC()
	out := make([]model.Comp, 0, len(props))
	for _, prop := range props {
		if c, ok := compFromProperty(prop, subject, fetchedAt); ok {
			out = append(out, c)
		}
	}
	log.Info("comps: rentcast results", zap.Int("count", len(out)))
	return out, nil
}

func compFromProperty(prop rentcast.Property, subject Subject, fetchedAt time.Time) (model.Comp, bool) {
	address := strings.TrimSpace(prop.AddressLine1)
	if address == "" {
		address = strings.TrimSpace(strings.Split(prop.FormattedAddress, ",")[0])
	}
	if address == "" {
		return model.Comp{}, false
	}

	pt, ok := fromRentcastType[prop.PropertyType]
	if !ok {
		pt = subject.PropertyType
	}

	c := model.Comp{
		Address:       address,
		City:          firstNonEmpty(prop.City, subject.City),
		State:         firstNonEmpty(prop.State, subject.State),
		PropertyType:  pt,
		Source:        model.CompSourceRentcast,
		SourceURL:     fmt.Sprintf("https://rentcast.io/property/%s", prop.ID),
		FetchedAt:     fetchedAt,
		YearBuilt:     prop.YearBuilt,
		UnitCount:     prop.UnitTotal(),
		SquareFeet:    prop.SquareFootage,
		SalePrice:     prop.LastSalePrice,
		CapRate:       prop.CapRate,
		RentPerUnit:   prop.RentEstimate,
		OccupancyRate: prop.OccupancyRate,
	}

	if c.SalePrice != nil && *c.SalePrice > 0 {
		if c.UnitCount != nil && *c.UnitCount > 0 {
			v := *c.SalePrice / float64(*c.UnitCount)
			c.PricePerUnit = &v
		}
		if c.SquareFeet != nil && *c.SquareFeet > 0 {
			v := *c.SalePrice / *c.SquareFeet
			c.PricePerSqft = &v
		}
	}
	return c, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
