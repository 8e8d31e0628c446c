package store

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealdesk/internal/model"
)

// Column lists shared by the Postgres and SQLite stores. Both drivers scan
// JSON columns into []byte and nullable numbers into pointers.
const (
	dealColumns       = `id, name, address, city, state, property_type, latitude, longitude, square_feet, pipeline_state, pipeline_stage, created_at, updated_at`
	documentColumns   = `id, deal_id, document_type, file_path, original_filename, processing_status, processing_steps, error_message, page_count, created_at, updated_at`
	fieldColumns      = `id, document_id, field_key, value_text, value_number, unit, confidence, source_page`
	assumptionColumns = `id, set_id, key, value_number, unit, range_min, range_max, source_type, source_ref, notes`
	validationColumns = `id, deal_id, field_key, om_value, market_value, status, explanation, sources, search_steps, confidence, created_at, updated_at`
	compColumns       = `id, deal_id, generation, address, normalized_address, city, state, property_type, source, source_url, fetched_at, year_built, unit_count, square_feet, sale_price, price_per_unit, price_per_sqft, cap_rate, rent_per_unit, occupancy_rate, noi, expense_ratio, opex_per_unit`
)

// compInsertColumns adds the merge ordinal that orders a comp set.
const compInsertColumns = compColumns + `, ordinal`

// compInsertNames is compInsertColumns split for COPY.
var compInsertNames = splitColumns(compInsertColumns)

type scannable interface {
	Scan(dest ...any) error
}

func splitColumns(cols string) []string {
	parts := strings.Split(cols, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// prefixColumns qualifies each column with a table alias.
func prefixColumns(alias, cols string) string {
	parts := splitColumns(cols)
	for i := range parts {
		parts[i] = alias + "." + parts[i]
	}
	return strings.Join(parts, ", ")
}

func scanDeal(row scannable) (*model.Deal, error) {
	var d model.Deal
	var pt, state string
	err := row.Scan(&d.ID, &d.Name, &d.Address, &d.City, &d.State, &pt,
		&d.Latitude, &d.Longitude, &d.SquareFeet, &state, &d.PipelineStage,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.PropertyType = model.PropertyType(pt)
	d.PipelineState = model.PipelineState(state)
	return &d, nil
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	var docType, status string
	var steps []byte
	err := row.Scan(&d.ID, &d.DealID, &docType, &d.FilePath, &d.OriginalFilename,
		&status, &steps, &d.ErrorMessage, &d.PageCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.DocumentType = model.DocumentType(docType)
	d.ProcessingStatus = model.ProcessingStatus(status)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &d.ProcessingSteps); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal processing steps")
		}
	}
	return &d, nil
}

func scanField(row scannable) (*model.ExtractedField, error) {
	var f model.ExtractedField
	err := row.Scan(&f.ID, &f.DocumentID, &f.FieldKey, &f.ValueText, &f.ValueNumber,
		&f.Unit, &f.Confidence, &f.SourcePage)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanAssumption(row scannable) (*model.Assumption, error) {
	var a model.Assumption
	var source string
	err := row.Scan(&a.ID, &a.SetID, &a.Key, &a.ValueNumber, &a.Unit, &a.RangeMin,
		&a.RangeMax, &source, &a.SourceRef, &a.Notes)
	if err != nil {
		return nil, err
	}
	a.SourceType = model.AssumptionSource(source)
	return &a, nil
}

func scanValidation(row scannable) (*model.FieldValidation, error) {
	var v model.FieldValidation
	var status string
	var sources, steps []byte
	err := row.Scan(&v.ID, &v.DealID, &v.FieldKey, &v.OMValue, &v.MarketValue, &status,
		&v.Explanation, &sources, &steps, &v.Confidence, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = model.ValidationStatus(status)
	if err := unmarshalList(sources, &v.Sources); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal sources")
	}
	if err := unmarshalList(steps, &v.SearchSteps); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal search steps")
	}
	return &v, nil
}

func scanComp(row scannable) (*model.Comp, error) {
	var c model.Comp
	var pt, source string
	err := row.Scan(&c.ID, &c.DealID, &c.Generation, &c.Address, &c.NormalizedAddress,
		&c.City, &c.State, &pt, &source, &c.SourceURL, &c.FetchedAt,
		&c.YearBuilt, &c.UnitCount, &c.SquareFeet, &c.SalePrice, &c.PricePerUnit,
		&c.PricePerSqft, &c.CapRate, &c.RentPerUnit, &c.OccupancyRate, &c.NOI,
		&c.ExpenseRatio, &c.OpexPerUnit)
	if err != nil {
		return nil, err
	}
	c.PropertyType = model.PropertyType(pt)
	c.Source = model.CompSource(source)
	return &c, nil
}

// compValues returns c's column values in compColumns order.
func compValues(c model.Comp) []any {
	return []any{
		c.ID, c.DealID, c.Generation, c.Address, c.NormalizedAddress,
		c.City, c.State, string(c.PropertyType), string(c.Source), c.SourceURL, c.FetchedAt,
		c.YearBuilt, c.UnitCount, c.SquareFeet, c.SalePrice, c.PricePerUnit,
		c.PricePerSqft, c.CapRate, c.RentPerUnit, c.OccupancyRate, c.NOI,
		c.ExpenseRatio, c.OpexPerUnit,
	}
}

// compRow returns c's values in compInsertColumns order.
func compRow(c model.Comp, ordinal int) []any {
	return append(compValues(c), ordinal)
}

func unmarshalList[T any](data []byte, out *[]T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// marshalList encodes a slice as a JSON array, never "null".
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}
