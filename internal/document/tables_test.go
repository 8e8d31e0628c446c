package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealdesk/internal/model"
)

func TestDetectTables(t *testing.T) {
	t.Parallel()

	pages := []model.PageText{
		{PageNumber: 1, Text: "Executive Summary\nA well located asset.\n"},
		{PageNumber: 2, Text: "Rent Roll\n" +
			"Unit    Tenant        SF      Rent\n" +
			"101     Acme Corp     1,200   $30.00\n" +
			"102     Beta LLC      900     $31.50\n" +
			"\n" +
			"Notes follow here.\n" +
			"Only   one   row\n"},
	}

	tables := DetectTables(pages)
	require.Len(t, tables, 1)
	assert.Equal(t, 2, tables[0].PageNumber)
	require.Len(t, tables[0].Rows, 3)
	assert.Equal(t, []string{"101", "Acme Corp", "1,200", "$30.00"}, tables[0].Rows[1])
	assert.Equal(t, "Unit | Tenant | SF | Rent\n101 | Acme Corp | 1,200 | $30.00\n", tables[0].render(2))
}

func TestDetectTables_None(t *testing.T) {
	t.Parallel()
	assert.Empty(t, DetectTables([]model.PageText{{PageNumber: 1, Text: "plain prose only"}}))
	assert.Empty(t, DetectTables(nil))
}
