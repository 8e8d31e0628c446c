package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/research"
	"github.com/sells-group/dealdesk/internal/store"
	"github.com/sells-group/dealdesk/pkg/anthropic"
	anthropicmocks "github.com/sells-group/dealdesk/pkg/anthropic/mocks"
)

type fakeExtractor struct {
	pages []model.PageText
	err   error
	seen  string
}

func (f *fakeExtractor) ExtractPages(_ context.Context, path string) ([]model.PageText, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.seen = string(data)
	return f.pages, f.err
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: text}}}
}

type fixture struct {
	st   *store.SQLiteStore
	ext  *fakeExtractor
	llm  *anthropicmocks.MockClient
	svc  *Service
	deal *model.Deal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newTestStore(t)
	deal := &model.Deal{Name: "Maple Court", Address: "100 Main St", City: "Austin", State: "TX", PropertyType: model.PropertyOffice}
	require.NoError(t, st.CreateDeal(context.Background(), deal))

	catalog, err := research.LoadCatalog("")
	require.NoError(t, err)

	ext := &fakeExtractor{}
	llm := anthropicmocks.NewMockClient(t)
	svc := NewService(st, NewLocalStore(t.TempDir()), ext, llm, catalog, Config{Model: "claude-haiku-4-5-20251001"})
	return &fixture{st: st, ext: ext, llm: llm, svc: svc, deal: deal}
}

func TestUpload_CreatesPendingDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, f.deal.ID, "../../om.pdf", "", strings.NewReader("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, "om.pdf", doc.OriginalFilename)
	assert.Equal(t, model.DocumentOfferingMemorandum, doc.DocumentType)
	assert.Equal(t, model.ProcessingPending, doc.ProcessingStatus)
	assert.Equal(t, "documents/"+f.deal.ID+"/"+doc.ID+"-om.pdf", doc.FilePath)
	require.Len(t, doc.ProcessingSteps, 3)
	for _, s := range doc.ProcessingSteps {
		assert.Equal(t, StepPending, s.Status)
	}

	docs, err := f.svc.List(ctx, f.deal.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)
}

func TestUpload_UnknownDeal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), "missing", "om.pdf", model.DocumentRentRoll, strings.NewReader("x"))
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestProcess_NormalizesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, f.deal.ID, "om.pdf", model.DocumentOfferingMemorandum, strings.NewReader("pdf bytes"))
	require.NoError(t, err)

	f.ext.pages = []model.PageText{
		{PageNumber: 1, Text: "Asking price $12,500,000. Going-in cap rate 5.5%."},
		{PageNumber: 2, Text: "Unit    Tenant    SF\n101     Acme      1,200\n102     Beta      900\n"},
	}
	f.llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		prompt := req.Messages[0].Content
		return req.Temperature != nil && *req.Temperature == 0.1 &&
			strings.Contains(prompt, "Asking price") &&
			strings.Contains(prompt, "101 | Acme | 1,200") &&
			strings.Contains(prompt, "- cap_rate: Going-in cap rate")
	})).Return(textResponse(`{"fields":[
		{"key":"purchase_price","value_text":"$12,500,000","value_number":12500000,"unit":"$","confidence":0.9,"source_page":1},
		{"key":"cap_rate","value_number":0.055,"unit":"ratio"},
		{"key":"  ","value_number":1}
	]}`), nil)

	require.NoError(t, f.svc.Process(ctx, doc.ID))
	assert.Equal(t, "pdf bytes", f.ext.seen)

	got, err := f.st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingComplete, got.ProcessingStatus)
	assert.Equal(t, 2, got.PageCount)
	assert.Empty(t, got.ErrorMessage)
	for _, s := range got.ProcessingSteps {
		assert.Equal(t, StepComplete, s.Status, s.Name)
	}
	assert.Equal(t, "Extracted 1 tables", got.ProcessingSteps[1].Detail)

	fields, err := f.svc.Fields(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "purchase_price", fields[0].FieldKey)
	require.NotNil(t, fields[0].SourcePage)
	assert.Equal(t, 1, *fields[0].SourcePage)
	assert.InDelta(t, 0.9, fields[0].Confidence, 1e-9)
	assert.Equal(t, "cap_rate", fields[1].FieldKey)
	assert.InDelta(t, 0.5, fields[1].Confidence, 1e-9)
}

func TestProcess_ExtractionFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, f.deal.ID, "om.pdf", "", strings.NewReader("x"))
	require.NoError(t, err)
	f.ext.err = errors.New("pdftotext: exit status 1")

	err = f.svc.Process(ctx, doc.ID)
	require.Error(t, err)

	got, err := f.st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingFailed, got.ProcessingStatus)
	assert.Contains(t, got.ErrorMessage, "exit status 1")
	assert.Equal(t, StepFailed, got.ProcessingSteps[0].Status)
	assert.Equal(t, StepPending, got.ProcessingSteps[2].Status)
}

func TestProcess_NormalizeFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, f.deal.ID, "om.pdf", "", strings.NewReader("x"))
	require.NoError(t, err)
	f.ext.pages = []model.PageText{{PageNumber: 1, Text: "NOI $700,000"}}
	f.llm.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("not json"), nil)

	require.Error(t, f.svc.Process(ctx, doc.ID))

	got, err := f.st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingFailed, got.ProcessingStatus)
	assert.Equal(t, StepComplete, got.ProcessingSteps[0].Status)
	assert.Equal(t, StepFailed, got.ProcessingSteps[2].Status)
}

func TestProcess_EmptyDocumentSkipsModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Upload(ctx, f.deal.ID, "blank.pdf", "", strings.NewReader("x"))
	require.NoError(t, err)
	f.ext.pages = []model.PageText{{PageNumber: 1, Text: "   "}}

	require.NoError(t, f.svc.Process(ctx, doc.ID))

	fields, err := f.svc.Fields(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.NotNil(t, fields)
}

func TestFields_UnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Fields(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
