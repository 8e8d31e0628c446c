package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealdesk/internal/metrics"
	"github.com/sells-group/dealdesk/internal/model"
	"github.com/sells-group/dealdesk/internal/ocr"
	"github.com/sells-group/dealdesk/pkg/anthropic"
)

// Quick extraction errors.
var (
	ErrEmptyFile = eris.New("document: empty file")
	ErrNoText    = eris.New("document: could not extract text")
)

const quickExtractPages = 5

var quickPropertyTypes = []model.PropertyType{
	model.PropertyMultifamily,
	model.PropertyOffice,
	model.PropertyRetail,
	model.PropertyIndustrial,
	model.PropertyMixedUse,
	model.PropertyOther,
}

// DealInfo is the basic deal information read from the first pages of an
// offering memorandum. Nil fields could not be determined.
type DealInfo struct {
	Name         *string             `json:"name"`
	Address      *string             `json:"address"`
	City         *string             `json:"city"`
	State        *string             `json:"state"`
	PropertyType *model.PropertyType `json:"property_type"`
	SquareFeet   *float64            `json:"square_feet"`
}

// QuickExtract reads the first pages of an uploaded file and asks the model
// for the fields needed to create a deal. Nothing is stored.
func (s *Service) QuickExtract(ctx context.Context, filename string, r io.Reader) (*DealInfo, error) {
	pages, err := s.extractReader(ctx, filepath.Ext(filename), r)
	if err != nil {
		return nil, err
	}
	if len(pages) > quickExtractPages {
		pages = pages[:quickExtractPages]
	}

	var b strings.Builder
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		fmt.Fprintf(&b, "--- Page %d ---\n%s\n\n", p.PageNumber, p.Text)
	}
	if b.Len() == 0 {
		return nil, ErrNoText
	}

	temp := temperature
	resp, err := s.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: quickExtractPrompt(strings.TrimSpace(b.String()))}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "document: quick extract")
	}
	metrics.ObserveTokens("quick_extract", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	resp.Usage.LogCost(s.cfg.Model, "quick_extract")

	var raw struct {
		Name         *string  `json:"name"`
		Address      *string  `json:"address"`
		City         *string  `json:"city"`
		State        *string  `json:"state"`
		PropertyType *string  `json:"property_type"`
		SquareFeet   *float64 `json:"square_feet"`
	}
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(resp.Text())), &raw); err != nil {
		return nil, eris.Wrap(err, "document: decode quick extract")
	}

	info := &DealInfo{
		Name:       blankToNil(raw.Name),
		Address:    blankToNil(raw.Address),
		City:       blankToNil(raw.City),
		State:      blankToNil(raw.State),
		SquareFeet: raw.SquareFeet,
	}
	if raw.PropertyType != nil {
		for _, pt := range quickPropertyTypes {
			if string(pt) == *raw.PropertyType {
				info.PropertyType = &pt
				break
			}
		}
	}

	zap.L().Info("document: quick extract",
		zap.String("filename", filename),
		zap.Int("pages", len(pages)),
	)
	return info, nil
}

// extractReader extracts the pages of an upload that is not stored.
func (s *Service) extractReader(ctx context.Context, ext string, r io.Reader) ([]model.PageText, error) {
	pages, n, err := s.spool(ctx, ext, r)
	switch {
	case errors.Is(err, ocr.ErrNoTextLayer):
		return nil, eris.Wrap(ErrNoText, err.Error())
	case err != nil:
		return nil, err
	case n == 0:
		return nil, ErrEmptyFile
	}
	return pages, nil
}

func quickExtractPrompt(text string) string {
	types := make([]string, len(quickPropertyTypes))
	for i, pt := range quickPropertyTypes {
		types[i] = string(pt)
	}
	typesJSON, _ := json.Marshal(types)

	var b strings.Builder
	b.WriteString("You are a commercial real estate document parser. Extract the basic deal information from this Offering Memorandum text.\n\n")
	b.WriteString("Document text:\n")
	b.WriteString(text)
	b.WriteString("\n\nReturn a JSON object with these exact keys:\n")
	b.WriteString(`  "name": string (a short deal name, e.g. "Lund Pointe Apartments" or "100 Main St Acquisition")` + "\n")
	b.WriteString(`  "address": string (street address)` + "\n")
	b.WriteString(`  "city": string (city name)` + "\n")
	b.WriteString(`  "state": string (two-letter state abbreviation)` + "\n")
	fmt.Fprintf(&b, "  \"property_type\": string (must be one of %s)\n", typesJSON)
	b.WriteString(`  "square_feet": number or null (total square footage if mentioned)` + "\n\n")
	b.WriteString("Use null for any field you cannot determine from the text.\n")
	return b.String()
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
