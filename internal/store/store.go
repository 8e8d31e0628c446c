package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealdesk/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// DealFilter specifies criteria for listing deals.
type DealFilter struct {
	State  model.PipelineState `json:"state,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Progress summarizes which stage outputs exist for a deal.
type Progress struct {
	Documents        int `json:"documents"`
	PendingDocuments int `json:"pending_documents"`
	Assumptions      int `json:"assumptions"`
	Validations      int `json:"validations"`
	Comps            int `json:"comps"`
}

// Store defines the persistence interface for deals and their pipeline outputs.
type Store interface {
	// Deals
	CreateDeal(ctx context.Context, deal *model.Deal) error
	GetDeal(ctx context.Context, dealID string) (*model.Deal, error)
	ListDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error)
	SetPipelineState(ctx context.Context, dealID string, state model.PipelineState, stage string) error
	GetProgress(ctx context.Context, dealID string) (*Progress, error)

	// Documents
	CreateDocument(ctx context.Context, doc *model.Document) error
	UpdateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, docID string) (*model.Document, error)
	ListDocuments(ctx context.Context, dealID string) ([]model.Document, error)
	InsertExtractedFields(ctx context.Context, fields []model.ExtractedField) error
	ListExtractedFields(ctx context.Context, docID string) ([]model.ExtractedField, error)
	ListDealFields(ctx context.Context, dealID string) ([]model.ExtractedField, error)

	// Assumptions
	ListAssumptionSets(ctx context.Context, dealID string) ([]model.AssumptionSet, error)
	UpsertAssumptions(ctx context.Context, setID string, assumptions []model.Assumption) error

	// Validations. UpsertValidations replaces the verdict fields of each
	// (deal, field_key) row and appends steps to its search trail.
	ListValidations(ctx context.Context, dealID string) ([]model.FieldValidation, error)
	UpsertValidations(ctx context.Context, dealID string, verdicts []model.Verdict, steps []model.SearchStep) ([]model.FieldValidation, error)

	// Comps. ReplaceComps writes comps under generation and removes every
	// other generation for the deal in one transaction.
	ListComps(ctx context.Context, dealID string) ([]model.Comp, error)
	ReplaceComps(ctx context.Context, dealID, generation string, comps []model.Comp) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
