package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealdesk/internal/db"
	"github.com/sells-group/dealdesk/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlGetDeal = `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`

	sqlSetPipelineState = `UPDATE deals SET pipeline_state = $1, pipeline_stage = $2, updated_at = $3 WHERE id = $4`

	sqlGetProgress = `SELECT
		(SELECT COUNT(*) FROM documents WHERE deal_id = $1),
		(SELECT COUNT(*) FROM documents WHERE deal_id = $1 AND processing_status NOT IN ('complete', 'failed')),
		(SELECT COUNT(*) FROM assumptions a JOIN assumption_sets s ON s.id = a.set_id WHERE s.deal_id = $1),
		(SELECT COUNT(*) FROM field_validations WHERE deal_id = $1),
		(SELECT COUNT(*) FROM comps WHERE deal_id = $1)`

	sqlListValidations = `SELECT ` + validationColumns + ` FROM field_validations WHERE deal_id = $1 ORDER BY field_key`

	// Verdict fields are replaced; search_steps concatenates the stored
	// trail with the new steps.
	sqlUpsertValidation = `INSERT INTO field_validations (` + validationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (deal_id, field_key) DO UPDATE SET
			om_value = EXCLUDED.om_value,
			market_value = EXCLUDED.market_value,
			status = EXCLUDED.status,
			explanation = EXCLUDED.explanation,
			sources = EXCLUDED.sources,
			search_steps = field_validations.search_steps || EXCLUDED.search_steps,
			confidence = EXCLUDED.confidence,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + validationColumns

	sqlListComps = `SELECT ` + compColumns + ` FROM comps WHERE deal_id = $1 ORDER BY ordinal, id`

	sqlPruneComps = `DELETE FROM comps WHERE deal_id = $1 AND generation <> $2`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_deal":           sqlGetDeal,
	"set_pipeline_state": sqlSetPipelineState,
	"get_progress":       sqlGetProgress,
	"list_validations":   sqlListValidations,
	"upsert_validation":  sqlUpsertValidation,
	"list_comps":         sqlListComps,
	"prune_comps":        sqlPruneComps,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name           TEXT NOT NULL,
	address        TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	property_type  TEXT NOT NULL DEFAULT 'other',
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	square_feet    DOUBLE PRECISION,
	pipeline_state TEXT NOT NULL DEFAULT '',
	pipeline_stage TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	deal_id           TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	document_type     TEXT NOT NULL,
	file_path         TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	processing_steps  JSONB NOT NULL DEFAULT '[]',
	error_message     TEXT NOT NULL DEFAULT '',
	page_count        INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extracted_fields (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	field_key    TEXT NOT NULL,
	value_text   TEXT,
	value_number DOUBLE PRECISION,
	unit         TEXT,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_page  INTEGER
);

CREATE TABLE IF NOT EXISTS assumption_sets (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	deal_id    TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assumptions (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	set_id       TEXT NOT NULL REFERENCES assumption_sets(id) ON DELETE CASCADE,
	key          TEXT NOT NULL,
	value_number DOUBLE PRECISION,
	unit         TEXT NOT NULL DEFAULT '',
	range_min    DOUBLE PRECISION,
	range_max    DOUBLE PRECISION,
	source_type  TEXT NOT NULL,
	source_ref   TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	UNIQUE (set_id, key)
);

CREATE TABLE IF NOT EXISTS field_validations (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	deal_id      TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	field_key    TEXT NOT NULL,
	om_value     DOUBLE PRECISION NOT NULL,
	market_value DOUBLE PRECISION,
	status       TEXT NOT NULL,
	explanation  TEXT NOT NULL DEFAULT '',
	sources      JSONB NOT NULL DEFAULT '[]',
	search_steps JSONB NOT NULL DEFAULT '[]',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (deal_id, field_key)
);

CREATE TABLE IF NOT EXISTS comps (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	deal_id            TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	generation         TEXT NOT NULL,
	address            TEXT NOT NULL,
	normalized_address TEXT NOT NULL,
	city               TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	property_type      TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL,
	source_url         TEXT NOT NULL DEFAULT '',
	fetched_at         TIMESTAMPTZ NOT NULL,
	year_built         INTEGER,
	unit_count         INTEGER,
	square_feet        DOUBLE PRECISION,
	sale_price         DOUBLE PRECISION,
	price_per_unit     DOUBLE PRECISION,
	price_per_sqft     DOUBLE PRECISION,
	cap_rate           DOUBLE PRECISION,
	rent_per_unit      DOUBLE PRECISION,
	occupancy_rate     DOUBLE PRECISION,
	noi                DOUBLE PRECISION,
	expense_ratio      DOUBLE PRECISION,
	opex_per_unit      DOUBLE PRECISION,
	ordinal            INTEGER NOT NULL DEFAULT 0,
	UNIQUE (deal_id, generation, normalized_address)
);

CREATE INDEX IF NOT EXISTS idx_deals_pipeline_state ON deals(pipeline_state);
CREATE INDEX IF NOT EXISTS idx_documents_deal_id ON documents(deal_id);
CREATE INDEX IF NOT EXISTS idx_extracted_fields_document_id ON extracted_fields(document_id);
CREATE INDEX IF NOT EXISTS idx_assumption_sets_deal_id ON assumption_sets(deal_id);
CREATE INDEX IF NOT EXISTS idx_comps_deal_id ON comps(deal_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Deals ---

func (s *PostgresStore) CreateDeal(ctx context.Context, deal *model.Deal) error {
	prepareDeal(deal)

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO deals (`+dealColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			deal.ID, deal.Name, deal.Address, deal.City, deal.State, string(deal.PropertyType),
			deal.Latitude, deal.Longitude, deal.SquareFeet, string(deal.PipelineState), deal.PipelineStage,
			deal.CreatedAt, deal.UpdatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert deal")
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO assumption_sets (id, deal_id, name, created_at) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), deal.ID, model.BaseCaseName, deal.CreatedAt,
		)
		return eris.Wrap(err, "postgres: insert base case set")
	})
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	d, err := scanDeal(s.pool.QueryRow(ctx, sqlGetDeal, dealID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "deal %s", dealID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get deal %s", dealID)
	}
	return d, nil
}

func (s *PostgresStore) ListDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE true`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND pipeline_state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		deals = append(deals, *d)
	}
	return deals, eris.Wrap(rows.Err(), "postgres: list deals iterate")
}

func (s *PostgresStore) SetPipelineState(ctx context.Context, dealID string, state model.PipelineState, stage string) error {
	tag, err := s.pool.Exec(ctx, sqlSetPipelineState, string(state), stage, time.Now().UTC(), dealID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set pipeline state %s", dealID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "deal %s", dealID)
	}
	return nil
}

func (s *PostgresStore) GetProgress(ctx context.Context, dealID string) (*Progress, error) {
	var p Progress
	err := s.pool.QueryRow(ctx, sqlGetProgress, dealID).
		Scan(&p.Documents, &p.PendingDocuments, &p.Assumptions, &p.Validations, &p.Comps)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get progress %s", dealID)
	}
	return &p, nil
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	prepareDocument(doc)
	steps, err := marshalList(doc.ProcessingSteps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal processing steps")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		doc.ID, doc.DealID, string(doc.DocumentType), doc.FilePath, doc.OriginalFilename,
		string(doc.ProcessingStatus), steps, doc.ErrorMessage, doc.PageCount,
		doc.CreatedAt, doc.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert document")
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	steps, err := marshalList(doc.ProcessingSteps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal processing steps")
	}
	doc.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET processing_status = $1, processing_steps = $2, error_message = $3, page_count = $4, updated_at = $5 WHERE id = $6`,
		string(doc.ProcessingStatus), steps, doc.ErrorMessage, doc.PageCount, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document %s", doc.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "document %s", doc.ID)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, docID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", docID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", docID)
	}
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, dealID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE deal_id = $1 ORDER BY created_at`, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) InsertExtractedFields(ctx context.Context, fields []model.ExtractedField) error {
	rows := make([][]any, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		rows[i] = []any{f.ID, f.DocumentID, f.FieldKey, f.ValueText, f.ValueNumber, f.Unit, f.Confidence, f.SourcePage}
	}
	_, err := db.CopyFrom(ctx, s.pool, "extracted_fields", splitColumns(fieldColumns), rows)
	return eris.Wrap(err, "postgres: insert extracted fields")
}

func (s *PostgresStore) ListExtractedFields(ctx context.Context, docID string) ([]model.ExtractedField, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fieldColumns+` FROM extracted_fields WHERE document_id = $1 ORDER BY field_key, id`, docID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extracted fields")
	}
	return collectPgFields(rows)
}

func (s *PostgresStore) ListDealFields(ctx context.Context, dealID string) ([]model.ExtractedField, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+prefixColumns("f", fieldColumns)+` FROM extracted_fields f
		 JOIN documents d ON d.id = f.document_id
		 WHERE d.deal_id = $1 ORDER BY d.created_at, f.field_key, f.id`, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deal fields")
	}
	return collectPgFields(rows)
}

func collectPgFields(rows pgx.Rows) ([]model.ExtractedField, error) {
	defer rows.Close()

	var fields []model.ExtractedField
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan field")
		}
		fields = append(fields, *f)
	}
	return fields, eris.Wrap(rows.Err(), "postgres: list fields iterate")
}

// --- Assumptions ---

func (s *PostgresStore) ListAssumptionSets(ctx context.Context, dealID string) ([]model.AssumptionSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_id, name FROM assumption_sets WHERE deal_id = $1 ORDER BY created_at, id`, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assumption sets")
	}

	var sets []model.AssumptionSet
	for rows.Next() {
		var set model.AssumptionSet
		if err := rows.Scan(&set.ID, &set.DealID, &set.Name); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan assumption set")
		}
		sets = append(sets, set)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list assumption sets iterate")
	}

	for i := range sets {
		assumptions, err := s.listAssumptions(ctx, sets[i].ID)
		if err != nil {
			return nil, err
		}
		sets[i].Assumptions = assumptions
	}
	return sets, nil
}

func (s *PostgresStore) listAssumptions(ctx context.Context, setID string) ([]model.Assumption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assumptionColumns+` FROM assumptions WHERE set_id = $1 ORDER BY key`, setID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assumptions")
	}
	defer rows.Close()

	var out []model.Assumption
	for rows.Next() {
		a, err := scanAssumption(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan assumption")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assumptions iterate")
}

func (s *PostgresStore) UpsertAssumptions(ctx context.Context, setID string, assumptions []model.Assumption) error {
	rows := make([][]any, len(assumptions))
	for i, a := range assumptions {
		id := a.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows[i] = []any{id, setID, a.Key, a.ValueNumber, a.Unit, a.RangeMin, a.RangeMax,
			string(a.SourceType), a.SourceRef, a.Notes}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "assumptions",
		Columns:      splitColumns(assumptionColumns),
		ConflictKeys: []string{"set_id", "key"},
		UpdateCols:   []string{"value_number", "unit", "range_min", "range_max", "source_type", "source_ref", "notes"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert assumptions")
}

// --- Validations ---

func (s *PostgresStore) ListValidations(ctx context.Context, dealID string) ([]model.FieldValidation, error) {
	rows, err := s.pool.Query(ctx, sqlListValidations, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list validations")
	}
	defer rows.Close()

	var out []model.FieldValidation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan validation")
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list validations iterate")
}

func (s *PostgresStore) UpsertValidations(ctx context.Context, dealID string, verdicts []model.Verdict, steps []model.SearchStep) ([]model.FieldValidation, error) {
	if len(verdicts) == 0 {
		return nil, nil
	}

	trail, err := marshalList(steps)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal search steps")
	}

	out := make([]model.FieldValidation, 0, len(verdicts))
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, v := range verdicts {
			sources, err := marshalList(v.Sources)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal sources")
			}
			now := time.Now().UTC()
			fv, err := scanValidation(tx.QueryRow(ctx, sqlUpsertValidation,
				uuid.New().String(), dealID, v.FieldKey, v.OMValue, v.MarketValue, string(v.Status),
				v.Explanation, sources, trail, v.Confidence, now, now,
			))
			if err != nil {
				return eris.Wrapf(err, "postgres: upsert validation %s", v.FieldKey)
			}
			out = append(out, *fv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Comps ---

func (s *PostgresStore) ListComps(ctx context.Context, dealID string) ([]model.Comp, error) {
	rows, err := s.pool.Query(ctx, sqlListComps, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list comps")
	}
	defer rows.Close()

	var out []model.Comp
	for rows.Next() {
		c, err := scanComp(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan comp")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list comps iterate")
}

func (s *PostgresStore) ReplaceComps(ctx context.Context, dealID, generation string, comps []model.Comp) error {
	prepared := prepareComps(dealID, generation, comps)
	rows := make([][]any, len(prepared))
	for i, c := range prepared {
		rows[i] = compRow(c, i)
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := db.CopyFrom(ctx, tx, "comps", compInsertNames, rows); err != nil {
			return eris.Wrap(err, "postgres: insert comps")
		}
		_, err := tx.Exec(ctx, sqlPruneComps, dealID, generation)
		return eris.Wrap(err, "postgres: prune comps")
	})
}
