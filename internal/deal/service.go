// Package deal creates and reads deals.
package deal

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/store"
	"github.com/sells-group/dealdesk/pkg/geocode"
)

// ErrInvalid is returned for a deal missing required attributes.
var ErrInvalid = eris.New("deal: invalid input")

// Input holds the attributes of a new deal.
type Input struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	PropertyType string   `json:"property_type"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	SquareFeet   *float64 `json:"square_feet,omitempty"`
}

// Service manages deals.
type Service struct {
	store    store.Store
	geocoder geocode.Client
}

// NewService creates a deal Service. geocoder may be nil.
func NewService(st store.Store, geocoder geocode.Client) *Service {
	return &Service{store: st, geocoder: geocoder}
}

// Create stores a new deal together with its Base Case assumption set.
// Deals without coordinates are geocoded when a geocoder is configured; a
// geocoding failure leaves the coordinates empty.
func (s *Service) Create(ctx context.Context, in Input) (*model.Deal, error) {
	d := &model.Deal{
		Name:         strings.TrimSpace(in.Name),
		Address:      strings.TrimSpace(in.Address),
		City:         strings.TrimSpace(in.City),
		State:        strings.ToUpper(strings.TrimSpace(in.State)),
		PropertyType: model.ParsePropertyType(in.PropertyType),
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		SquareFeet:   in.SquareFeet,
	}
	if d.Name == "" {
		return nil, eris.Wrap(ErrInvalid, "name is required")
	}
	if d.Address == "" {
		return nil, eris.Wrap(ErrInvalid, "address is required")
	}

	if !d.HasCoordinates() && s.geocoder != nil {
		s.geocode(ctx, d)
	}

	if err := s.store.CreateDeal(ctx, d); err != nil {
		return nil, eris.Wrap(err, "deal: create")
	}
	zap.L().Info("deal: created", zap.String("deal_id", d.ID), zap.String("name", d.Name))
	return d, nil
}

func (s *Service) geocode(ctx context.Context, d *model.Deal) {
	log := zap.L().With(zap.String("address", d.FullAddress()))
	res, err := s.geocoder.Geocode(ctx, geocode.AddressInput{Street: d.Address, City: d.City, State: d.State})
	if err != nil {
		log.Warn("deal: geocode failed", zap.Error(err))
		return
	}
	if !res.Matched {
		log.Info("deal: address not geocoded")
		return
	}
	lat, lon := res.Latitude, res.Longitude
	d.Latitude, d.Longitude = &lat, &lon
	log.Debug("deal: geocoded", zap.String("source", res.Source), zap.String("quality", res.Quality))
}

// Get returns a deal by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Deal, error) {
	d, err := s.store.GetDeal(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "deal: get")
	}
	return d, nil
}

// List returns deals matching filter, newest first.
func (s *Service) List(ctx context.Context, filter store.DealFilter) ([]model.Deal, error) {
	deals, err := s.store.ListDeals(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "deal: list")
	}
	if deals == nil {
		deals = []model.Deal{}
	}
	return deals, nil
}

// AssumptionSets returns the deal's assumption sets with their assumptions.
func (s *Service) AssumptionSets(ctx context.Context, id string) ([]model.AssumptionSet, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	sets, err := s.store.ListAssumptionSets(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "deal: list assumption sets")
	}
	if sets == nil {
		sets = []model.AssumptionSet{}
	}
	return sets, nil
}
