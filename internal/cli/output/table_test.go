package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintTableRowsPerLine(t *testing.T) {
	var buf bytes.Buffer
	rows := jobRows{
		{"stream-1", "running", "10.0%"},
		{"stream-2", "paused", "55.5%"},
	}
	require.NoError(t, PrintTable(&buf, rows))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	// Header plus one line per job.
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[1], "stream-1")
	assert.Contains(t, lines[2], "paused")
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{
		{"ID", "stream-1"},
		{"Target", "top"},
	}))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "stream-1")
	assert.Contains(t, out, "Target")
	assert.Contains(t, out, ":")
}
