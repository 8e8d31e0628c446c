// Package comps gathers comparable properties from a structured property
// API and from web search, merges them and stores the result.
package comps

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealdesk/internal/metrics"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/store"
)

// Subject is the property comps are gathered for.
type Subject struct {
	DealID       string
	Address      string
	City         string
	State        string
	PropertyType model.PropertyType
	Latitude     *float64
	Longitude    *float64
}

// SubjectFor builds a Subject from a deal.
func SubjectFor(d *model.Deal) Subject {
	return Subject{
		DealID:       d.ID,
		Address:      d.Address,
		City:         d.City,
		State:        d.State,
		PropertyType: d.PropertyType,
		Latitude:     d.Latitude,
		Longitude:    d.Longitude,
	}
}

// Locality returns "City, ST".
func (s Subject) Locality() string {
	d := model.Deal{City: s.City, State: s.State}
	return d.Locality()
}

// Provider returns comps for a subject. Implementations may return an
// error; the Combinator treats it as zero comps.
type Provider interface {
	Name() string
	SearchComps(ctx context.Context, subject Subject) ([]model.Comp, error)
}

// Combinator runs providers concurrently and replaces a deal's comps with
// the deduplicated union. Providers earlier in the list win ties.
type Combinator struct {
	store     store.Store
	providers []Provider
	newGen    func() string
}

// NewCombinator creates a Combinator. Pass the structured provider first.
func NewCombinator(st store.Store, providers ...Provider) *Combinator {
	return &Combinator{
		store:     st,
		providers: providers,
		newGen:    func() string { return uuid.New().String() },
	}
}

// SearchComps fetches comps from every provider and replaces the stored set.
// Provider failures are logged and absorbed. An empty merge still clears
// the previous comps.
func (c *Combinator) SearchComps(ctx context.Context, dealID string) ([]model.Comp, error) {
	deal, err := c.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "comps: get deal")
	}
	subject := SubjectFor(deal)

	results := make([][]model.Comp, len(c.providers))
	var g errgroup.Group
	for i, p := range c.providers {
		g.Go(func() error {
			start := time.Now()
			found, err := p.SearchComps(ctx, subject)
			if err != nil {
				metrics.ProviderErrors.WithLabelValues(p.Name()).Inc()
				zap.L().Warn("comps: provider failed",
					zap.String("provider", p.Name()),
					zap.String("deal_id", dealID),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err),
				)
				return nil
			}
			metrics.CompsFound.WithLabelValues(p.Name()).Add(float64(len(found)))
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	var merged []model.Comp
	for _, r := range results {
		merged = append(merged, r...)
	}
	merged = Dedup(merged)

	generation := c.newGen()
	if err := c.store.ReplaceComps(ctx, dealID, generation, merged); err != nil {
		return nil, eris.Wrap(err, "comps: replace")
	}

	zap.L().Info("comps: replaced",
		zap.String("deal_id", dealID),
		zap.String("generation", generation),
		zap.Int("count", len(merged)),
	)

	out, err := c.store.ListComps(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "comps: list")
	}
	if out == nil {
		out = []model.Comp{}
	}
	return out, nil
}

// ListComps returns the stored comps for a deal.
func (c *Combinator) ListComps(ctx context.Context, dealID string) ([]model.Comp, error) {
	if _, err := c.store.GetDeal(ctx, dealID); err != nil {
		return nil, eris.Wrap(err, "comps: get deal")
	}
	out, err := c.store.ListComps(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "comps: list")
	}
	if out == nil {
		out = []model.Comp{}
	}
	return out, nil
}
