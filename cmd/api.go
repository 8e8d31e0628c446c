package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/benchmark"
	"github.com/sells-group/dealdesk/internal/deal"
	"github.com/sells-group/dealdesk/internal/document"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/orchestrator"
	"github.com/sells-group/dealdesk/internal/store"
	"github.com/sells-group/dealdesk/internal/validation"
)

const maxUploadBytes = 50 << 20

type dealAPI interface {
	Create(ctx context.Context, in deal.Input) (*model.Deal, error)
	Get(ctx context.Context, id string) (*model.Deal, error)
	List(ctx context.Context, filter store.DealFilter) ([]model.Deal, error)
	AssumptionSets(ctx context.Context, id string) ([]model.AssumptionSet, error)
}

type documentAPI interface {
	Upload(ctx context.Context, dealID, filename string, docType model.DocumentType, r io.Reader) (*model.Document, error)
	Process(ctx context.Context, docID string) error
	List(ctx context.Context, dealID string) ([]model.Document, error)
	Fields(ctx context.Context, docID string) ([]model.ExtractedField, error)
	QuickExtract(ctx context.Context, filename string, r io.Reader) (*document.DealInfo, error)
}

type benchmarkAPI interface {
	Generate(ctx context.Context, dealID string) ([]benchmark.Suggestion, error)
}

type validationAPI interface {
	ValidateFields(ctx context.Context, dealID string, phase model.Phase) ([]model.FieldValidation, error)
	ListValidations(ctx context.Context, dealID string) ([]model.FieldValidation, error)
}

type compsAPI interface {
	SearchComps(ctx context.Context, dealID string) ([]model.Comp, error)
	ListComps(ctx context.Context, dealID string) ([]model.Comp, error)
}

type pipelineAPI interface {
	Start(ctx context.Context, dealID string) error
	Status(ctx context.Context, dealID string) (*orchestrator.Status, error)
	Cancel(dealID string) bool
}

// api serves the /api/v1 routes.
type api struct {
	deals      dealAPI
	documents  documentAPI
	benchmarks benchmarkAPI
	validation validationAPI
	comps      compsAPI
	pipeline   pipelineAPI
}

func newAPI(env *appEnv) *api {
	return &api{
		deals:      env.Deals,
		documents:  env.Documents,
		benchmarks: env.Benchmarks,
		validation: env.Validation,
		comps:      env.Comps,
		pipeline:   env.Orchestrator,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, validation.ErrInvalidPhase), errors.Is(err, deal.ErrInvalid), errors.Is(err, document.ErrEmptyFile):
		status = http.StatusBadRequest
	case errors.Is(err, document.ErrNoText):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrBusy), errors.Is(err, benchmark.ErrNoAssumptionSet):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (a *api) createDeal(w http.ResponseWriter, r *http.Request) {
	var in deal.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	d, err := a.deals.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *api) listDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DealFilter{State: model.PipelineState(q.Get("state"))}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "invalid "+key)
			return
		}
		*dst = n
	}

	deals, err := a.deals.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deals)
}

func (a *api) getDeal(w http.ResponseWriter, r *http.Request) {
	d, err := a.deals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *api) uploadDocument(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	docType := model.DocumentType(r.FormValue("document_type"))
	doc, err := a.documents.Upload(r.Context(), dealID, header.Filename, docType, file)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := a.documents.Process(ctx, doc.ID); err != nil {
			zap.L().Warn("api: document processing failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, doc)
}

func (a *api) quickExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := a.documents.QuickExtract(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.documents.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *api) documentFields(w http.ResponseWriter, r *http.Request) {
	fields, err := a.documents.Fields(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

func (a *api) listAssumptions(w http.ResponseWriter, r *http.Request) {
	sets, err := a.deals.AssumptionSets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

func (a *api) generateBenchmarks(w http.ResponseWriter, r *http.Request) {
	suggestions, err := a.benchmarks.Generate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// phasesFor maps the phase query parameter to the phases to run. An absent
// phase runs quick then deep.
func phasesFor(raw string) ([]model.Phase, error) {
	if raw == "" {
		return []model.Phase{model.PhaseQuick, model.PhaseDeep}, nil
	}
	p := model.Phase(raw)
	if !p.Valid() {
		return nil, validation.ErrInvalidPhase
	}
	return []model.Phase{p}, nil
}

func (a *api) validate(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "id")
	phases, err := phasesFor(r.URL.Query().Get("phase"))
	if err != nil {
		writeError(w, err)
		return
	}
	for _, phase := range phases {
		if _, err := a.validation.ValidateFields(r.Context(), dealID, phase); err != nil {
			writeError(w, err)
			return
		}
	}
	a.listValidations(w, r)
}

func (a *api) listValidations(w http.ResponseWriter, r *http.Request) {
	validations, err := a.validation.ListValidations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validations)
}

func (a *api) searchComps(w http.ResponseWriter, r *http.Request) {
	found, err := a.comps.SearchComps(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (a *api) listComps(w http.ResponseWriter, r *http.Request) {
	found, err := a.comps.ListComps(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (a *api) startPipeline(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "id")
	if err := a.pipeline.Start(r.Context(), dealID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "deal_id": dealID})
}

func (a *api) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.pipeline.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) cancelPipeline(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{"deal_id": dealID, "cancelled": a.pipeline.Cancel(dealID)})
}
