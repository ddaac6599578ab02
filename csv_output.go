package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// csvHeaders are the columns of the request report, one row per request
var csvHeaders = []string{
	"Record", "URL", "Request ID", "Method", "Status", "Status Text", "Content Type",
	"From Cache", "Finished", "Error", "Aborted",
	"Start Time", "Duration (ms)", "DNS (ms)", "Connect (ms)", "Send (ms)", "Busy (ms)",
	"Receive (ms)", "First Bytes (ms)", "Last Bytes (ms)", "Request Size", "Response Size",
}

// CSVSink appends the requests of flushed records to a CSV report
// - it satisfies the recordSink interface
type CSVSink struct {
	outputFile string

	mu      sync.Mutex
	records int
}

// NewCSVSink creates a new CSVSink instance and writes the report header
func NewCSVSink(outputFile string) (*CSVSink, error) {
	newSink := CSVSink{outputFile: outputFile}
	err := newSink.validateAndCreateOutputFile()
	if err != nil {
		return nil, fmt.Errorf("failed csv output file validation/creation: %w", err)
	}

	return &newSink, nil
}

// validateAndCreateOutputFile creates the report with its header row
func (s *CSVSink) validateAndCreateOutputFile() error {
	if s.outputFile == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	// create the output file
	// this validates both directory existence and write permissions
	file, err := os.Create(s.outputFile)
	if err != nil {
		return fmt.Errorf("cannot create output file %s: %w", s.outputFile, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeaders); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	writer.Flush()

	return writer.Error()
}

// DumpRecords appends the records to the report, logging failures
func (s *CSVSink) DumpRecords(records []PerformanceRecord) {
	if err := s.WriteRecords(records); err != nil {
		log.Error().Err(err).Str("file", s.outputFile).Msg("failed to write records")
	}
}

// WriteRecords appends one row per request of every record
func (s *CSVSink) WriteRecords(records []PerformanceRecord) error {
	if s == nil || s.outputFile == "" {
		return fmt.Errorf("nil csv sink")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outFile, err := os.OpenFile(s.outputFile, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer outFile.Close()

	writer := csv.NewWriter(outFile)

	for _, rec := range records {
		s.records++
		for _, req := range rec.Requests {
			if err := writer.Write(requestRow(s.records, req)); err != nil {
				return fmt.Errorf("failed to write to file: %w", err)
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

// requestRow renders a request summary in csvHeaders order
func requestRow(record int, r RequestSummary) []string {
	return []string{
		strconv.Itoa(record),
		r.URL,
		r.RequestID,
		stringValue(r.Method),
		intValue(r.StatusCode),
		stringValue(r.StatusText),
		stringValue(r.ContentType),
		boolValue(r.FromCache),
		strconv.FormatBool(r.Finished),
		strconv.FormatBool(r.Error),
		strconv.FormatBool(r.Aborted),
		intValue(r.StartTime),
		intValue(r.Duration),
		intValue(r.DNSTime),
		intValue(r.ConnectTime),
		intValue(r.SendTime),
		intValue(r.BusyTime),
		intValue(r.ReceiveTime),
		strconv.FormatInt(r.FirstBytesTime, 10),
		strconv.FormatInt(r.LastBytesTime, 10),
		intValue(r.RequestSize),
		intValue(r.ResponseSize),
	}
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func intValue(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func boolValue(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
