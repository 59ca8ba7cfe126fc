package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, []kv{{"a", 1}, {"b", 2}}))

	out := buf.String()
	assert.Contains(t, out, "- key: a")
	assert.Contains(t, out, "  value: 2")
}
