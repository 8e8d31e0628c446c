package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dealdesk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	address        TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	property_type  TEXT NOT NULL DEFAULT 'other',
	latitude       REAL,
	longitude      REAL,
	square_feet    REAL,
	pipeline_state TEXT NOT NULL DEFAULT '',
	pipeline_stage TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	deal_id           TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	document_type     TEXT NOT NULL,
	file_path         TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	processing_steps  TEXT NOT NULL DEFAULT '[]',
	error_message     TEXT NOT NULL DEFAULT '',
	page_count        INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extracted_fields (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	field_key    TEXT NOT NULL,
	value_text   TEXT,
	value_number REAL,
	unit         TEXT,
	confidence   REAL NOT NULL DEFAULT 0,
	source_page  INTEGER
);

CREATE TABLE IF NOT EXISTS assumption_sets (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS assumptions (
	id           TEXT PRIMARY KEY,
	set_id       TEXT NOT NULL REFERENCES assumption_sets(id) ON DELETE CASCADE,
	key          TEXT NOT NULL,
	value_number REAL,
	unit         TEXT NOT NULL DEFAULT '',
	range_min    REAL,
	range_max    REAL,
	source_type  TEXT NOT NULL,
	source_ref   TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	UNIQUE (set_id, key)
);

CREATE TABLE IF NOT EXISTS field_validations (
	id           TEXT PRIMARY KEY,
	deal_id      TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	field_key    TEXT NOT NULL,
	om_value     REAL NOT NULL,
	market_value REAL,
	status       TEXT NOT NULL,
	explanation  TEXT NOT NULL DEFAULT '',
	sources      TEXT NOT NULL DEFAULT '[]',
	search_steps TEXT NOT NULL DEFAULT '[]',
	confidence   REAL NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (deal_id, field_key)
);

CREATE TABLE IF NOT EXISTS comps (
	id                 TEXT PRIMARY KEY,
	deal_id            TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
	generation         TEXT NOT NULL,
	address            TEXT NOT NULL,
	normalized_address TEXT NOT NULL,
	city               TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	property_type      TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL,
	source_url         TEXT NOT NULL DEFAULT '',
	fetched_at         DATETIME NOT NULL,
	year_built         INTEGER,
	unit_count         INTEGER,
	square_feet        REAL,
	sale_price         REAL,
	price_per_unit     REAL,
	price_per_sqft     REAL,
	cap_rate           REAL,
	rent_per_unit      REAL,
	occupancy_rate     REAL,
	noi                REAL,
	expense_ratio      REAL,
	opex_per_unit      REAL,
	ordinal            INTEGER NOT NULL DEFAULT 0,
	UNIQUE (deal_id, generation, normalized_address)
);

CREATE INDEX IF NOT EXISTS idx_deals_pipeline_state ON deals(pipeline_state);
CREATE INDEX IF NOT EXISTS idx_documents_deal_id ON documents(deal_id);
CREATE INDEX IF NOT EXISTS idx_extracted_fields_document_id ON extracted_fields(document_id);
CREATE INDEX IF NOT EXISTS idx_assumption_sets_deal_id ON assumption_sets(deal_id);
CREATE INDEX IF NOT EXISTS idx_comps_deal_id ON comps(deal_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction and commits when fn returns nil.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Deals ---

func (s *SQLiteStore) CreateDeal(ctx context.Context, deal *model.Deal) error {
	prepareDeal(deal)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deals (`+dealColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			deal.ID, deal.Name, deal.Address, deal.City, deal.State, string(deal.PropertyType),
			deal.Latitude, deal.Longitude, deal.SquareFeet, string(deal.PipelineState), deal.PipelineStage,
			deal.CreatedAt, deal.UpdatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert deal")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO assumption_sets (id, deal_id, name, created_at) VALUES (?, ?, ?, ?)`,
			uuid.New().String(), deal.ID, model.BaseCaseName, deal.CreatedAt,
		)
		return eris.Wrap(err, "sqlite: insert base case set")
	})
}

func (s *SQLiteStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = ?`, dealID)
	d, err := scanDeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "deal %s", dealID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get deal %s", dealID)
	}
	return d, nil
}

func (s *SQLiteStore) ListDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE 1=1`
	var args []any

	if filter.State != "" {
		query += ` AND pipeline_state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deals")
	}
	defer rows.Close() //nolint:errcheck

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		deals = append(deals, *d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: list deals iterate")
}

func (s *SQLiteStore) SetPipelineState(ctx context.Context, dealID string, state model.PipelineState, stage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET pipeline_state = ?, pipeline_stage = ?, updated_at = ? WHERE id = ?`,
		string(state), stage, time.Now().UTC(), dealID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set pipeline state %s", dealID)
	}
	return checkRowsAffected(res, "deal", dealID)
}

func (s *SQLiteStore) GetProgress(ctx context.Context, dealID string) (*Progress, error) {
	var p Progress
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM documents WHERE deal_id = ?),
		(SELECT COUNT(*) FROM documents WHERE deal_id = ? AND processing_status NOT IN ('complete', 'failed')),
		(SELECT COUNT(*) FROM assumptions a JOIN assumption_sets s ON s.id = a.set_id WHERE s.deal_id = ?),
		(SELECT COUNT(*) FROM field_validations WHERE deal_id = ?),
		(SELECT COUNT(*) FROM comps WHERE deal_id = ?)`,
		dealID, dealID, dealID, dealID, dealID,
	).Scan(&p.Documents, &p.PendingDocuments, &p.Assumptions, &p.Validations, &p.Comps)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get progress %s", dealID)
	}
	return &p, nil
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	prepareDocument(doc)
	steps, err := marshalList(doc.ProcessingSteps)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal processing steps")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.DealID, string(doc.DocumentType), doc.FilePath, doc.OriginalFilename,
		string(doc.ProcessingStatus), string(steps), doc.ErrorMessage, doc.PageCount,
		doc.CreatedAt, doc.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert document")
}

func (s *SQLiteStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	steps, err := marshalList(doc.ProcessingSteps)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal processing steps")
	}
	doc.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET processing_status = ?, processing_steps = ?, error_message = ?, page_count = ?, updated_at = ? WHERE id = ?`,
		string(doc.ProcessingStatus), string(steps), doc.ErrorMessage, doc.PageCount, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document %s", doc.ID)
	}
	return checkRowsAffected(res, "document", doc.ID)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, docID)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", docID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", docID)
	}
	return d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, dealID string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE deal_id = ? ORDER BY created_at`, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close() //nolint:errcheck

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) InsertExtractedFields(ctx context.Context, fields []model.ExtractedField) error {
	if len(fields) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range fields {
			f := &fields[i]
			if f.ID == "" {
				f.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO extracted_fields (`+fieldColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				f.ID, f.DocumentID, f.FieldKey, f.ValueText, f.ValueNumber, f.Unit, f.Confidence, f.SourcePage,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert field %s", f.FieldKey)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListExtractedFields(ctx context.Context, docID string) ([]model.ExtractedField, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fieldColumns+` FROM extracted_fields WHERE document_id = ? ORDER BY rowid`, docID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extracted fields")
	}
	return collectFields(rows)
}

func (s *SQLiteStore) ListDealFields(ctx context.Context, dealID string) ([]model.ExtractedField, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("f", fieldColumns)+` FROM extracted_fields f
		 JOIN documents d ON d.id = f.document_id
		 WHERE d.deal_id = ? ORDER BY d.created_at, f.rowid`, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deal fields")
	}
	return collectFields(rows)
}

func collectFields(rows *sql.Rows) ([]model.ExtractedField, error) {
	defer rows.Close() //nolint:errcheck

	var fields []model.ExtractedField
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field")
		}
		fields = append(fields, *f)
	}
	return fields, eris.Wrap(rows.Err(), "sqlite: list fields iterate")
}

// --- Assumptions ---

func (s *SQLiteStore) ListAssumptionSets(ctx context.Context, dealID string) ([]model.AssumptionSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_id, name FROM assumption_sets WHERE deal_id = ? ORDER BY created_at, rowid`, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assumption sets")
	}
	defer rows.Close() //nolint:errcheck

	var sets []model.AssumptionSet
	for rows.Next() {
		var set model.AssumptionSet
		if err := rows.Scan(&set.ID, &set.DealID, &set.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assumption set")
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list assumption sets iterate")
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

func (s *SQLiteStore) listAssumptions(ctx context.Context, setID string) ([]model.Assumption, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assumptionColumns+` FROM assumptions WHERE set_id = ? ORDER BY key`, setID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assumptions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Assumption
	for rows.Next() {
		a, err := scanAssumption(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assumption")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assumptions iterate")
}

func (s *SQLiteStore) UpsertAssumptions(ctx context.Context, setID string, assumptions []model.Assumption) error {
	if len(assumptions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, a := range assumptions {
			id := a.ID
			if id == "" {
				id = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO assumptions (`+assumptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (set_id, key) DO UPDATE SET
					value_number = excluded.value_number,
					unit = excluded.unit,
					range_min = excluded.range_min,
					range_max = excluded.range_max,
					source_type = excluded.source_type,
					source_ref = excluded.source_ref,
					notes = excluded.notes`,
				id, setID, a.Key, a.ValueNumber, a.Unit, a.RangeMin, a.RangeMax,
				string(a.SourceType), a.SourceRef, a.Notes,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert assumption %s", a.Key)
			}
		}
		return nil
	})
}

// --- Validations ---

func (s *SQLiteStore) ListValidations(ctx context.Context, dealID string) ([]model.FieldValidation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+validationColumns+` FROM field_validations WHERE deal_id = ? ORDER BY field_key`, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list validations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FieldValidation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan validation")
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list validations iterate")
}

// UpsertValidations merges inside one transaction: the existing row is read,
// its verdict replaced and steps appended, then written back.
func (s *SQLiteStore) UpsertValidations(ctx context.Context, dealID string, verdicts []model.Verdict, steps []model.SearchStep) ([]model.FieldValidation, error) {
	if len(verdicts) == 0 {
		return nil, nil
	}

	out := make([]model.FieldValidation, 0, len(verdicts))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, v := range verdicts {
			now := time.Now().UTC()
			row := tx.QueryRowContext(ctx,
				`SELECT `+validationColumns+` FROM field_validations WHERE deal_id = ? AND field_key = ?`,
				dealID, v.FieldKey)
			existing, err := scanValidation(row)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return eris.Wrapf(err, "sqlite: load validation %s", v.FieldKey)
			}

			fv := existing
			if fv == nil {
				fv = &model.FieldValidation{ID: uuid.New().String(), DealID: dealID, CreatedAt: now}
			}
			fv.ApplyVerdict(v, steps)
			fv.UpdatedAt = now

			sources, err := marshalList(fv.Sources)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal sources")
			}
			trail, err := marshalList(fv.SearchSteps)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal search steps")
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO field_validations (`+validationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (deal_id, field_key) DO UPDATE SET
					om_value = excluded.om_value,
					market_value = excluded.market_value,
					status = excluded.status,
					explanation = excluded.explanation,
					sources = excluded.sources,
					search_steps = excluded.search_steps,
					confidence = excluded.confidence,
					updated_at = excluded.updated_at`,
				fv.ID, dealID, fv.FieldKey, fv.OMValue, fv.MarketValue, string(fv.Status),
				fv.Explanation, string(sources), string(trail), fv.Confidence, fv.CreatedAt, fv.UpdatedAt,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert validation %s", v.FieldKey)
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

func (s *SQLiteStore) ListComps(ctx context.Context, dealID string) ([]model.Comp, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+compColumns+` FROM comps WHERE deal_id = ? ORDER BY ordinal, rowid`, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list comps")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Comp
	for rows.Next() {
		c, err := scanComp(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan comp")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list comps iterate")
}

func (s *SQLiteStore) ReplaceComps(ctx context.Context, dealID, generation string, comps []model.Comp) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i, c := range prepareComps(dealID, generation, comps) {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO comps (`+compInsertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				compRow(c, i)...,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert comp %s", c.Address)
			}
		}

		_, err := tx.ExecContext(ctx,
			`DELETE FROM comps WHERE deal_id = ? AND generation <> ?`, dealID, generation)
		return eris.Wrap(err, "sqlite: prune comps")
	})
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
