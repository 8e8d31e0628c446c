// Package document stores uploaded deal documents and turns them into
// normalized extracted fields.
package document

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/metrics"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/ocr"
	"github.com/sells-group/dealdesk/internal/research"
	"github.com/sells-group/dealdesk/internal/store"
	"github.com/sells-group/dealdesk/pkg/anthropic"
)

// Processing step names.
const (
	StepExtractText     = "extract_text"
	StepExtractTables   = "extract_tables"
	StepNormalizeFields = "normalize_fields"
)

// Step statuses.
const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepComplete   = "complete"
	StepFailed     = "failed"
)

const (
	pageTextLimit     = 2000
	tableRowLimit     = 40
	defaultConfidence = 0.5
	temperature       = 0.1
)

// Config tunes the Service.
type Config struct {
	Model     string
	MaxTokens int64
}

// Service uploads and processes documents.
type Service struct {
	store     store.Store
	blobs     BlobStore
	extractor ocr.Extractor
	llm       anthropic.Client
	catalog   *research.Catalog
	cfg       Config
}

// NewService creates a document Service.
func NewService(st store.Store, blobs BlobStore, extractor ocr.Extractor, llm anthropic.Client, catalog *research.Catalog, cfg Config) *Service {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Service{store: st, blobs: blobs, extractor: extractor, llm: llm, catalog: catalog, cfg: cfg}
}

// Upload stores the file and records a pending document. Processing is a
// separate call.
func (s *Service) Upload(ctx context.Context, dealID, filename string, docType model.DocumentType, r io.Reader) (*model.Document, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, eris.Wrap(err, "document: get deal")
	}

	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = "upload"
	}
	if docType == "" {
		docType = model.DocumentOfferingMemorandum
	}

	doc := &model.Document{
		ID:               uuid.New().String(),
		DealID:           dealID,
		DocumentType:     docType,
		OriginalFilename: name,
		ProcessingStatus: model.ProcessingPending,
		ProcessingSteps: []model.ProcessingStep{
			{Name: StepExtractText, Status: StepPending},
			{Name: StepExtractTables, Status: StepPending},
			{Name: StepNormalizeFields, Status: StepPending},
		},
	}
	doc.FilePath = path.Join("documents", dealID, doc.ID+"-"+name)

	if err := s.blobs.Put(ctx, doc.FilePath, r); err != nil {
		return nil, err
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, eris.Wrap(err, "document: create")
	}

	zap.L().Info("document: uploaded",
		zap.String("deal_id", dealID),
		zap.String("document_id", doc.ID),
		zap.String("filename", name),
	)
	return doc, nil
}

// Process extracts page text and tables and normalizes them into fields.
// On failure the document is marked failed with the error message, and the
// error is returned.
func (s *Service) Process(ctx context.Context, docID string) error {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return eris.Wrap(err, "document: get")
	}
	log := zap.L().With(zap.String("deal_id", doc.DealID), zap.String("document_id", doc.ID))

	step := StepExtractText
	if err := s.process(ctx, doc, &step); err != nil {
		log.Error("document: processing failed", zap.String("step", step), zap.Error(err))
		doc.ProcessingStatus = model.ProcessingFailed
		doc.ErrorMessage = err.Error()
		setStep(doc, step, StepFailed, "")
		if uerr := s.store.UpdateDocument(context.WithoutCancel(ctx), doc); uerr != nil {
			log.Error("document: record failure", zap.Error(uerr))
		}
		return err
	}

	log.Info("document: processed", zap.Int("pages", doc.PageCount))
	return nil
}

func (s *Service) process(ctx context.Context, doc *model.Document, step *string) error {
	*step = StepExtractText
	doc.ProcessingStatus = model.ProcessingExtractingText
	doc.ErrorMessage = ""
	setStep(doc, StepExtractText, StepInProgress, "")
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return eris.Wrap(err, "document: update")
	}

	pages, err := s.extractPages(ctx, doc)
	if err != nil {
		return err
	}
	doc.PageCount = len(pages)
	setStep(doc, StepExtractText, StepComplete, fmt.Sprintf("Extracted %d pages", len(pages)))

	*step = StepExtractTables
	tables := DetectTables(pages)
	setStep(doc, StepExtractTables, StepComplete, fmt.Sprintf("Extracted %d tables", len(tables)))

	*step = StepNormalizeFields
	doc.ProcessingStatus = model.ProcessingNormalizing
	setStep(doc, StepNormalizeFields, StepInProgress, "")
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return eris.Wrap(err, "document: update")
	}

	fields, err := s.normalize(ctx, pages, tables)
	if err != nil {
		return err
	}
	for i := range fields {
		fields[i].DocumentID = doc.ID
	}
	if err := s.store.InsertExtractedFields(ctx, fields); err != nil {
		return eris.Wrap(err, "document: insert fields")
	}
	setStep(doc, StepNormalizeFields, StepComplete, fmt.Sprintf("Normalized %d fields", len(fields)))

	doc.ProcessingStatus = model.ProcessingComplete
	return eris.Wrap(s.store.UpdateDocument(ctx, doc), "document: update")
}

// extractPages extracts the pages of a stored document.
func (s *Service) extractPages(ctx context.Context, doc *model.Document) ([]model.PageText, error) {
	rc, err := s.blobs.Open(ctx, doc.FilePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	pages, _, err := s.spool(ctx, filepath.Ext(doc.OriginalFilename), rc)
	return pages, err
}

// spool copies r to a temp file so extractors that shell out always see a
// local path. Empty input yields no pages. It also reports how many bytes
// were copied.
func (s *Service) spool(ctx context.Context, ext string, r io.Reader) ([]model.PageText, int64, error) {
	tmp, err := os.CreateTemp("", "dealdesk-*"+ext)
	if err != nil {
		return nil, 0, eris.Wrap(err, "document: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return nil, n, eris.Wrap(err, "document: copy to temp file")
	}
	if err := tmp.Close(); err != nil {
		return nil, n, eris.Wrap(err, "document: close temp file")
	}
	if n == 0 {
		return nil, 0, nil
	}

	pages, err := s.extractor.ExtractPages(ctx, tmp.Name())
	if err != nil {
		return nil, n, eris.Wrap(err, "document: extract text")
	}
	return pages, n, nil
}

type normalizedField struct {
	Key         string   `json:"key"`
	ValueText   *string  `json:"value_text"`
	ValueNumber *float64 `json:"value_number"`
	Unit        *string  `json:"unit"`
	Confidence  *float64 `json:"confidence"`
	SourcePage  *int     `json:"source_page"`
}

func (s *Service) normalize(ctx context.Context, pages []model.PageText, tables []Table) ([]model.ExtractedField, error) {
	type rawField struct {
		Key        string `json:"key"`
		Value      string `json:"value"`
		SourcePage int    `json:"source_page"`
	}

	var raw []rawField
	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > pageTextLimit {
			text = string(r[:pageTextLimit])
		}
		raw = append(raw, rawField{Key: "page_text", Value: text, SourcePage: p.PageNumber})
	}
	for _, t := range tables {
		raw = append(raw, rawField{Key: "table", Value: t.render(tableRowLimit), SourcePage: t.PageNumber})
	}
	if len(raw) == 0 {
		return nil, nil
	}

	rawJSON, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "document: marshal raw fields")
	}

	temp := temperature
	resp, err := s.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: s.normalizePrompt(string(rawJSON))}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "document: normalize fields")
	}
	metrics.ObserveTokens("normalize", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	resp.Usage.LogCost(s.cfg.Model, "normalize")

	var payload struct {
		Fields []normalizedField `json:"fields"`
	}
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(resp.Text())), &payload); err != nil {
		return nil, eris.Wrap(err, "document: decode normalized fields")
	}

	out := make([]model.ExtractedField, 0, len(payload.Fields))
	for _, nf := range payload.Fields {
		key := strings.TrimSpace(nf.Key)
		if key == "" {
			continue
		}
		conf := defaultConfidence
		if nf.Confidence != nil {
			conf = *nf.Confidence
		}
		out = append(out, model.ExtractedField{
			FieldKey:    key,
			ValueText:   nf.ValueText,
			ValueNumber: nf.ValueNumber,
			Unit:        nf.Unit,
			Confidence:  conf,
			SourcePage:  nf.SourcePage,
		})
	}
	return out, nil
}

func (s *Service) normalizePrompt(rawJSON string) string {
	var b strings.Builder
	b.WriteString("You are a commercial real estate document parser. Normalize these extracted fields into canonical form.\n\n")
	b.WriteString("Raw fields:\n")
	b.WriteString(rawJSON)
	b.WriteString("\n\n")

	if s.catalog != nil && len(s.catalog.Fields) > 0 {
		keys := make([]string, 0, len(s.catalog.Fields))
		for k := range s.catalog.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Prefer these canonical keys when they apply:\n")
		for _, k := range keys {
			spec := s.catalog.Fields[k]
			fmt.Fprintf(&b, "- %s: %s (%s)\n", k, spec.Label, spec.Unit)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Return a JSON object with a single key "fields" containing an array of objects. Each object must have these exact keys:
  "key": string (canonical field name, e.g. "rent_psf_yr", "square_feet", "vacancy_rate")
  "value_text": string or null (text representation)
  "value_number": number or null (numeric value if applicable; rates as decimals, e.g. 0.055)
  "unit": string or null (e.g. "$/sf/yr", "sf", "ratio")
  "confidence": number between 0 and 1
  "source_page": integer or null (page the value came from)
`)
	return b.String()
}

// List returns a deal's documents.
func (s *Service) List(ctx context.Context, dealID string) ([]model.Document, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, eris.Wrap(err, "document: get deal")
	}
	docs, err := s.store.ListDocuments(ctx, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "document: list")
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return docs, nil
}

// Fields returns the extracted fields of a document.
func (s *Service) Fields(ctx context.Context, docID string) ([]model.ExtractedField, error) {
	if _, err := s.store.GetDocument(ctx, docID); err != nil {
		return nil, eris.Wrap(err, "document: get")
	}
	fields, err := s.store.ListExtractedFields(ctx, docID)
	if err != nil {
		return nil, eris.Wrap(err, "document: list fields")
	}
	if fields == nil {
		fields = []model.ExtractedField{}
	}
	return fields, nil
}

func setStep(doc *model.Document, name, status, detail string) {
	for i := range doc.ProcessingSteps {
		if doc.ProcessingSteps[i].Name == name {
			doc.ProcessingSteps[i].Status = status
			doc.ProcessingSteps[i].Detail = detail
			return
		}
	}
	doc.ProcessingSteps = append(doc.ProcessingSteps, model.ProcessingStep{Name: name, Status: status, Detail: detail})
}
