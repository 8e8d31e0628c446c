package validation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/research"
	"github.com/sells-group/dealdesk/internal/store"
)

type mockResearcher struct {
	mock.Mock
}

func (m *mockResearcher) Validate(ctx context.Context, pc research.Context, claims []model.NumericClaim, benchmarks []model.Assumption, phase model.Phase) (*research.Result, error) {
	args := m.Called(ctx, pc, claims, benchmarks, phase)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*research.Result), args.Error(1)
}

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedDeal creates a deal with one processed OM carrying the given fields.
func seedDeal(t *testing.T, st store.Store, fields ...model.ExtractedField) *model.Deal {
	t.Helper()
	ctx := context.Background()

	deal := &model.Deal{Name: "Maple Court", Address: "100 Main St", City: "Austin", State: "TX", PropertyType: model.PropertyMultifamily}
	require.NoError(t, st.CreateDeal(ctx, deal))

	doc := &model.Document{DealID: deal.ID, DocumentType: model.DocumentOfferingMemorandum, OriginalFilename: "om.pdf", ProcessingStatus: model.ProcessingComplete}
	require.NoError(t, st.CreateDocument(ctx, doc))

	for i := range fields {
		fields[i].DocumentID = doc.ID
	}
	require.NoError(t, st.InsertExtractedFields(ctx, fields))
	return deal
}

func TestValidateFields_PersistsVerdictsAndSteps(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	deal := seedDeal(t, st,
		model.ExtractedField{FieldKey: "cap_rate", ValueNumber: ptr(0.055), Confidence: 0.9},
		model.ExtractedField{FieldKey: "property_name", ValueText: ptr("Maple Court"), Confidence: 0.9},
	)

	sets, err := st.ListAssumptionSets(ctx, deal.ID)
	require.NoError(t, err)
	require.NoError(t, st.UpsertAssumptions(ctx, sets[0].ID, []model.Assumption{
		{Key: "cap_rate", ValueNumber: ptr(0.052), SourceType: model.SourceAI},
	}))

	agent := &mockResearcher{}
	agent.On("Validate", mock.Anything,
		research.Context{Location: "100 Main St, Austin, TX", Category: "multifamily"},
		[]model.NumericClaim{{Key: "cap_rate", Value: 0.055}},
		mock.MatchedBy(func(b []model.Assumption) bool { return len(b) == 1 && b[0].Key == "cap_rate" }),
		model.PhaseQuick,
	).Return(&research.Result{
		Verdicts: []model.Verdict{{FieldKey: "cap_rate", OMValue: 0.055, MarketValue: ptr(0.052), Status: model.StatusWithinRange, Confidence: 0.8}},
		Steps:    []model.SearchStep{{Phase: model.PhaseQuick, Query: "austin cap rates", Results: []model.SearchResult{}}},
		Outcome:  research.OutcomeCompleted,
	}, nil).Once()

	agent.On("Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, model.PhaseDeep).Return(&research.Result{
		Verdicts: []model.Verdict{{FieldKey: "cap_rate", OMValue: 0.055, Status: model.StatusInsufficientData, Confidence: 0.2}},
		Steps: []model.SearchStep{
			{Phase: model.PhaseDeep, Query: "austin multifamily cap rate q3", Results: []model.SearchResult{}},
			{Phase: model.PhaseDeep, Query: "travis county cap rate", Results: []model.SearchResult{}},
		},
		Outcome: research.OutcomeCompleted,
	}, nil).Once()

	svc := NewService(st, agent)

	rows, err := svc.ValidateFields(ctx, deal.ID, model.PhaseQuick)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusWithinRange, rows[0].Status)
	assert.Len(t, rows[0].SearchSteps, 1)

	rows, err = svc.ValidateFields(ctx, deal.ID, model.PhaseDeep)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusInsufficientData, rows[0].Status)
	assert.Nil(t, rows[0].MarketValue)

	stored, err := svc.ListValidations(ctx, deal.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, stored[0].SearchSteps, 3)
	assert.Equal(t, model.PhaseQuick, stored[0].SearchSteps[0].Phase)
	assert.Equal(t, model.PhaseDeep, stored[0].SearchSteps[2].Phase)

	agent.AssertExpectations(t)
}

func TestValidateFields_NoClaimsIsNoop(t *testing.T) {
	st := newTestStore(t)
	deal := seedDeal(t, st, model.ExtractedField{FieldKey: "property_name", ValueText: ptr("Maple Court")})

	agent := &mockResearcher{}
	rows, err := NewService(st, agent).ValidateFields(context.Background(), deal.ID, model.PhaseQuick)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	agent.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidateFields_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := NewService(st, &mockResearcher{}).ValidateFields(context.Background(), "missing", model.PhaseQuick)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestValidateFields_InvalidPhase(t *testing.T) {
	st := newTestStore(t)
	_, err := NewService(st, &mockResearcher{}).ValidateFields(context.Background(), "any", model.Phase("thorough"))
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestValidateFields_AgentError(t *testing.T) {
	st := newTestStore(t)
	deal := seedDeal(t, st, model.ExtractedField{FieldKey: "noi", ValueNumber: ptr(1_250_000.0)})

	agent := &mockResearcher{}
	agent.On("Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, model.PhaseDeep).
		Return(nil, errors.New("anthropic: 529 overloaded"))

	_, err := NewService(st, agent).ValidateFields(context.Background(), deal.ID, model.PhaseDeep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")

	stored, err := st.ListValidations(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestValidateFields_ExhaustedWritesNothing(t *testing.T) {
	st := newTestStore(t)
	deal := seedDeal(t, st, model.ExtractedField{FieldKey: "noi", ValueNumber: ptr(1_250_000.0)})

	agent := &mockResearcher{}
	agent.On("Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, model.PhaseQuick).
		Return(&research.Result{Steps: []model.SearchStep{{Phase: model.PhaseQuick, Query: "q"}}, Outcome: research.OutcomeExhausted}, nil)

	rows, err := NewService(st, agent).ValidateFields(context.Background(), deal.ID, model.PhaseQuick)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListValidations_EmptyIsArray(t *testing.T) {
	st := newTestStore(t)
	deal := seedDeal(t, st)

	rows, err := NewService(st, &mockResearcher{}).ListValidations(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	body, err := json.Marshal(rows)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(body))
}
