package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// maxParams is the Postgres limit on bind parameters per statement.
const maxParams = 65535

// UpsertConfig describes an INSERT ... ON CONFLICT DO UPDATE.
type UpsertConfig struct {
	Table        string   // optionally schema-qualified
	Columns      []string // insert order of each row
	ConflictKeys []string // the unique constraint
	UpdateCols   []string // nil updates every non-key column
}

func (c UpsertConfig) validate() error {
	if len(c.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(c.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	for _, k := range c.ConflictKeys {
		if !slices.Contains(c.Columns, k) {
			return eris.Errorf("db: upsert: conflict key %q is not a column", k)
		}
	}
	return nil
}

func (c UpsertConfig) updateCols() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	var cols []string
	for _, col := range c.Columns {
		if !slices.Contains(c.ConflictKeys, col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// statement renders the upsert for n rows with positional parameters.
func (c UpsertConfig) statement(n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", ident(c.Table), quoteAndJoin(c.Columns))
	p := 1
	for i := range n {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range c.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteByte(')')
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s)", quoteAndJoin(c.ConflictKeys))

	update := c.updateCols()
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}
	b.WriteString(" DO UPDATE SET ")
	for i, col := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		q := pgx.Identifier{col}.Sanitize()
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", q, q)
	}
	return b.String()
}

// BulkUpsert writes rows with multi-row INSERT ... ON CONFLICT statements.
// Rows repeating a conflict key collapse to the last occurrence, since
// Postgres rejects a statement that touches the same row twice. Large
// batches are split by the bind parameter limit; pass a pgx.Tx to make the
// batches atomic.
func BulkUpsert(ctx context.Context, e Execer, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	rows, err := dedupe(cfg, rows)
	if err != nil {
		return 0, err
	}

	perStmt := maxParams / len(cfg.Columns)
	var total int64
	for start := 0; start < len(rows); start += perStmt {
		batch := rows[start:min(start+perStmt, len(rows))]
		args := make([]any, 0, len(batch)*len(cfg.Columns))
		for _, r := range batch {
			args = append(args, r...)
		}
		tag, err := e.Exec(ctx, cfg.statement(len(batch)), args...)
		if err != nil {
			return total, eris.Wrapf(err, "db: upsert %s", cfg.Table)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func dedupe(cfg UpsertConfig, rows [][]any) ([][]any, error) {
	keyIdx := make([]int, len(cfg.ConflictKeys))
	for i, k := range cfg.ConflictKeys {
		keyIdx[i] = slices.Index(cfg.Columns, k)
	}

	pos := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	for i, r := range rows {
		if len(r) != len(cfg.Columns) {
			return nil, eris.Errorf("db: upsert %s: row %d has %d values, want %d", cfg.Table, i, len(r), len(cfg.Columns))
		}
		parts := make([]string, len(keyIdx))
		for j, idx := range keyIdx {
			parts[j] = fmt.Sprint(r[idx])
		}
		key := strings.Join(parts, "\x00")
		if at, ok := pos[key]; ok {
			out[at] = r
			continue
		}
		pos[key] = len(out)
		out = append(out, r)
	}
	return out, nil
}

// ident quotes a possibly schema-qualified name like "public.assumptions".
func ident(name string) string {
	return pgx.Identifier(strings.SplitN(name, ".", 2)).Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
