package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTableCSV(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTable(&buf, TableFormatCSV,
		[]string{"NAME", "STATE"},
		[][]string{{"work", "Running"}, {"vault", "Halted"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "NAME,STATE\nwork,Running\nvault,Halted\n", buf.String())
}

func TestRenderTableJSON(t *testing.T) {
	raw := []map[string]string{{"name": "work"}}

	var buf bytes.Buffer
	err := RenderTable(&buf, TableFormatJSON, nil, nil, raw)
	require.NoError(t, err)

	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, raw, decoded)
}

func TestRenderTableTable(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTable(&buf, TableFormatTable,
		[]string{"NAME"}, [][]string{{"work"}}, nil)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "NAME")
	assert.Contains(t, buf.String(), "work")
}

func TestRenderTableInvalidFormat(t *testing.T) {
	err := RenderTable(&bytes.Buffer{}, "xml", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "xml"))
}
