package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	table := NewTableData("Client", "Status")

	assert.Equal(t, []string{"Client", "Status"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("edge-001", "connected")
	table.AddRow("edge-002", "connected")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"edge-001", "connected"}, rows[0])
	assert.Equal(t, []string{"edge-002", "connected"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Name", "Value")
	table.AddRow("key1", "value1")
	table.AddRow("key2", "value2")

	var buf bytes.Buffer
	err := PrintTable(&buf, table)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "NAME")
	assert.Contains(t, output, "VALUE")
	assert.Contains(t, output, "key1")
	assert.Contains(t, output, "value1")
	assert.Contains(t, output, "key2")
	assert.Contains(t, output, "value2")
}
