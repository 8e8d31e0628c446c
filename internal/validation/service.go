// Package validation runs the research agent over a deal's numeric claims
// and persists the verdicts.
package validation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/research"
	"github.com/sells-group/dealdesk/internal/store"
)

// ErrInvalidPhase is returned for a phase other than quick or deep.
var ErrInvalidPhase = eris.New("validation: phase must be quick or deep")

// Researcher produces verdicts for a set of claims.
type Researcher interface {
	Validate(ctx context.Context, pc research.Context, claims []model.NumericClaim, benchmarks []model.Assumption, phase model.Phase) (*research.Result, error)
}

// Service validates deal fields.
type Service struct {
	store store.Store
	agent Researcher
}

// NewService creates a validation Service.
func NewService(st store.Store, agent Researcher) *Service {
	return &Service{store: st, agent: agent}
}

// ValidateFields runs one validation phase for a deal and returns the
// resulting rows. A deal with no numeric claims is a no-op.
func (s *Service) ValidateFields(ctx context.Context, dealID string, phase model.Phase) ([]model.FieldValidation, error) {
	if !phase.Valid() {
		return nil, eris.Wrapf(ErrInvalidPhase, "got %q", phase)
	}

	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "validation: get deal")
	}

	fields, err := s.store.ListDealFields(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "validation: list fields")
	}
	claims := model.NumericClaims(fields)
	log := zap.L().With(
		zap.String("deal_id", dealID),
		zap.String("phase", string(phase)),
		zap.Int("claims", len(claims)),
	)
	if len(claims) == 0 {
		log.Info("validation: no numeric claims, skipping")
		return []model.FieldValidation{}, nil
	}

	benchmarks, err := s.benchmarks(ctx, dealID)
	if err != nil {
		return nil, err
	}

	res, err := s.agent.Validate(ctx, research.ContextFor(deal), claims, benchmarks, phase)
	if err != nil {
		return nil, eris.Wrap(err, "validation: research")
	}

	rows, err := s.store.UpsertValidations(ctx, dealID, res.Verdicts, res.Steps)
	if err != nil {
		return nil, eris.Wrap(err, "validation: upsert")
	}
	if rows == nil {
		rows = []model.FieldValidation{}
	}

	log.Info("validation: phase complete",
		zap.String("outcome", res.Outcome),
		zap.Int("rounds", res.Rounds),
		zap.Int("verdicts", len(res.Verdicts)),
		zap.Int("searches", len(res.Steps)),
	)
	return rows, nil
}

// ListValidations returns the stored validations for a deal.
func (s *Service) ListValidations(ctx context.Context, dealID string) ([]model.FieldValidation, error) {
	rows, err := s.store.ListValidations(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "validation: list")
	}
	if rows == nil {
		rows = []model.FieldValidation{}
	}
	return rows, nil
}

// benchmarks returns the assumptions of the deal's first assumption set.
func (s *Service) benchmarks(ctx context.Context, dealID string) ([]model.Assumption, error) {
	sets, err := s.store.ListAssumptionSets(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "validation: list assumption sets")
	}
	if len(sets) == 0 {
		return nil, nil
	}
	return sets[0].Assumptions, nil
}
