package document

import (
	"regexp"
	"strings"

	"github.com/sells-group/dealdesk/internal/model"
)

// Table is a run of column-aligned lines found in layout text.
type Table struct {
	PageNumber int
	Rows       [][]string
}

var columnGap = regexp.MustCompile(`\s{2,}|\t+`)

const (
	minTableColumns = 3
	minTableRows    = 2
)

// DetectTables finds tables in layout-preserving page text: consecutive
// lines that split into at least three columns on runs of whitespace.
func DetectTables(pages []model.PageText) []Table {
	var tables []Table
	for _, p := range pages {
		var rows [][]string
		flush := func() {
			if len(rows) >= minTableRows {
				tables = append(tables, Table{PageNumber: p.PageNumber, Rows: rows})
			}
			rows = nil
		}
		for _, line := range strings.Split(p.Text, "\n") {
			cells := columnGap.Split(strings.TrimSpace(line), -1)
			if len(cells) >= minTableColumns {
				rows = append(rows, cells)
				continue
			}
			flush()
		}
		flush()
	}
	return tables
}

// render formats a table as pipe-separated rows, keeping at most maxRows.
func (t Table) render(maxRows int) string {
	var b strings.Builder
	for i, r := range t.Rows {
		if i == maxRows {
			break
		}
		b.WriteString(strings.Join(r, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
