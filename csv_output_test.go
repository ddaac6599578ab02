package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readReport(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSink_WritesOneRowPerRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	sink.DumpRecords([]PerformanceRecord{
		{Requests: []RequestSummary{
			{
				URL:            "https://example.com/",
				RequestID:      "1",
				Method:         strPtr("GET"),
				StatusCode:     int64Ptr(200),
				StatusText:     strPtr("OK"),
				FromCache:      boolPtr(false),
				Finished:       true,
				StartTime:      int64Ptr(1000),
				FirstBytesTime: 40,
				LastBytesTime:  55,
			},
			{URL: "https://example.com/a.js", RequestID: "2"},
		}},
	})
	sink.DumpRecords([]PerformanceRecord{
		{Requests: []RequestSummary{{URL: "https://example.com/next", RequestID: "3", Finished: true}}},
	})

	rows := readReport(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeaders, rows[0])

	first := rows[1]
	require.Len(t, first, len(csvHeaders))
	assert.Equal(t, "1", first[0])
	assert.Equal(t, "https://example.com/", first[1])
	assert.Equal(t, "GET", first[3])
	assert.Equal(t, "200", first[4])
	assert.Equal(t, "OK", first[5])
	assert.Equal(t, "", first[6])
	assert.Equal(t, "false", first[7])
	assert.Equal(t, "true", first[8])
	assert.Equal(t, "1000", first[11])
	assert.Equal(t, "", first[12])
	assert.Equal(t, "40", first[18])
	assert.Equal(t, "55", first[19])

	// requests of the same record share the record number
	assert.Equal(t, "1", rows[2][0])
	assert.Equal(t, "", rows[2][7])
	assert.Equal(t, "2", rows[3][0])
}

func TestNewCSVSink_InvalidPath(t *testing.T) {
	_, err := NewCSVSink("")
	assert.Error(t, err)

	_, err = NewCSVSink(filepath.Join(t.TempDir(), "missing", "report.csv"))
	assert.Error(t, err)
}

func TestCSVSink_NilSink(t *testing.T) {
	var sink *CSVSink
	assert.Error(t, sink.WriteRecords(nil))
}
