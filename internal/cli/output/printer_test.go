package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

// jobRows is a minimal TableRenderer shaped like the jobs listing.
type jobRows [][]string

func (r jobRows) Headers() []string { return []string{"ID", "STATE", "PROGRESS"} }
func (r jobRows) Rows() [][]string  { return r }

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable)

	require.NoError(t, p.Print(jobRows{{"stream-1", "running", "42.0%"}}))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "stream-1")
	assert.Contains(t, out, "42.0%")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON)

	require.NoError(t, p.Print(map[string]string{"id": "stream-1", "state": "completed"}))

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "stream-1", decoded["id"])
	assert.Equal(t, "completed", decoded["state"])
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatYAML)

	require.NoError(t, p.Print(map[string]int64{"bytes_copied": 524288}))

	var decoded map[string]int64
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, int64(524288), decoded["bytes_copied"])
}

func TestPrintTableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable)

	// Data without a TableRenderer still prints, as JSON.
	require.NoError(t, p.Print(map[string]string{"id": "stream-1"}))

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "stream-1", decoded["id"])
}
