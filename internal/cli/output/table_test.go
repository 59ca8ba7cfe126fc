package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	table := NewTableData("Op", "Result")
	assert.Equal(t, []string{"Op", "Result"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("write", "n=5")
	table.AddRow("flush", "immediate")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"flush", "immediate"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Op", "Result")
	table.AddRow("write", "n=5")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, table))

	out := buf.String()
	assert.Contains(t, out, "OP")
	assert.Contains(t, out, "RESULT")
	assert.Contains(t, out, "write")
	assert.Contains(t, out, "n=5")
}

func TestSimpleTable(t *testing.T) {
	pairs := KeyValues{}.Add("Dirty bytes", "0").Add("Flushes", "2")
	require.Len(t, pairs, 2)

	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, pairs))

	out := buf.String()
	assert.Contains(t, out, "Dirty bytes")
	assert.Contains(t, out, "Flushes")
	assert.Contains(t, out, "2")
}
