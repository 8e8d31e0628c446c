package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/dealdesk/internal/model"
)

// prepareDeal fills the id, defaults and timestamps of a new deal.
func prepareDeal(d *model.Deal) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.PropertyType == "" {
		d.PropertyType = model.PropertyOther
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
}

// prepareDocument fills the id, defaults and timestamps of a new document.
func prepareDocument(d *model.Document) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DocumentType == "" {
		d.DocumentType = model.DocumentOfferingMemorandum
	}
	if d.ProcessingStatus == "" {
		d.ProcessingStatus = model.ProcessingPending
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
}

// prepareComps stamps each comp with the deal, generation and a fresh id.
func prepareComps(dealID, generation string, comps []model.Comp) []model.Comp {
	out := make([]model.Comp, len(comps))
	now := time.Now().UTC()
	for i, c := range comps {
		c.ID = uuid.New().String()
		c.DealID = dealID
		c.Generation = generation
		if c.FetchedAt.IsZero() {
			c.FetchedAt = now
		}
		out[i] = c
	}
	return out
}
