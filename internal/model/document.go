package model

import "time"

// DocumentType identifies the kind of uploaded document.
type DocumentType string

const (
	DocumentOfferingMemorandum DocumentType = "offering_memorandum"
	DocumentRentRoll           DocumentType = "rent_roll"
	DocumentT12                DocumentType = "t12"
	DocumentOther              DocumentType = "other"
)

// ProcessingStatus tracks a document through extraction.
type ProcessingStatus string

const (
	ProcessingPending        ProcessingStatus = "pending"
	ProcessingExtractingText ProcessingStatus = "extracting_text"
	ProcessingNormalizing    ProcessingStatus = "normalizing"
	ProcessingComplete       ProcessingStatus = "complete"
	ProcessingFailed         ProcessingStatus = "failed"
)

// IsTerminal reports whether no further processing will happen.
func (s ProcessingStatus) IsTerminal() bool {
	return s == ProcessingComplete || s == ProcessingFailed
}

// ProcessingStep records the progress of one extraction step.
type ProcessingStep struct {
	Name   string `json:"name"`
	Status string `json:"status"` // pending, in_progress, complete, failed
	Detail string `json:"detail,omitempty"`
}

// Document is an uploaded file belonging to a deal.
type Document struct {
	ID               string           `json:"id"`
	DealID           string           `json:"deal_id"`
	DocumentType     DocumentType     `json:"document_type"`
	FilePath         string           `json:"file_path"`
	OriginalFilename string           `json:"original_filename"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessingSteps  []ProcessingStep `json:"processing_steps"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	PageCount        int              `json:"page_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// AllTerminal reports whether every document has finished processing.
// An empty slice is terminal.
func AllTerminal(docs []Document) bool {
	for _, d := range docs {
		if !d.ProcessingStatus.IsTerminal() {
			return false
		}
	}
	return true
}

// PageText is the text of a single page.
type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// ExtractedField is a normalized value pulled from a document.
type ExtractedField struct {
	ID          string   `json:"id"`
	DocumentID  string   `json:"document_id"`
	FieldKey    string   `json:"field_key"`
	ValueText   *string  `json:"value_text,omitempty"`
	ValueNumber *float64 `json:"value_number,omitempty"`
	Unit        *string  `json:"unit,omitempty"`
	Confidence  float64  `json:"confidence"`
	SourcePage  *int     `json:"source_page,omitempty"`
}

// NumericClaim is a numeric fact extracted from a document, the unit of
// validation.
type NumericClaim struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// NumericClaims keeps only fields that carry a number. When a key appears
// more than once the first occurrence wins.
func NumericClaims(fields []ExtractedField) []NumericClaim {
	seen := make(map[string]bool, len(fields))
	var claims []NumericClaim
	for _, f := range fields {
		if f.ValueNumber == nil || seen[f.FieldKey] {
			continue
		}
		seen[f.FieldKey] = true
		c := NumericClaim{Key: f.FieldKey, Value: *f.ValueNumber}
		if f.Unit != nil {
			c.Unit = *f.Unit
		}
		claims = append(claims, c)
	}
	return claims
}
