package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// CSVSource extracts visit URLs by reading them from a CSV file
// - it satisfies the extractor interface
type CSVSource struct {
	inputFile string
}

// NewCSVSource creates a new CSVSource instance
func NewCSVSource(inputFile string) (*CSVSource, error) {
	if inputFile == "" {
		return nil, nil // not using CSV source
	}

	newSource := CSVSource{inputFile: inputFile}
	err := newSource.validateInputFile()
	if err != nil {
		return nil, fmt.Errorf("failed csv input file validation: %w", err)
	}

	return &newSource, nil
}

// Name returns the source name
func (s *CSVSource) Name() string {
	return "csv source"
}

// validateInputFile checks if the input CSV file exists and is readable
func (s *CSVSource) validateInputFile() error {
	info, err := os.Stat(s.inputFile)
	if os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", s.inputFile)
	} else if err != nil {
		return fmt.Errorf("cannot access input file: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("input file is a directory: %s", s.inputFile)
	}

	return nil
}

// Extract reads the CSV file and returns the URLs of its first column.
// A first row that does not hold a URL is taken as header; lines starting
// with "#" are comments.
func (s *CSVSource) Extract(_ context.Context) ([]string, error) {
	if s == nil || s.inputFile == "" {
		return nil, nil
	}

	file, err := os.Open(s.inputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	var urls []string
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		url := strings.TrimSpace(record[0])
		if url == "" {
			continue
		}
		if row == 0 && !strings.Contains(url, "://") {
			continue // header
		}

		urls = append(urls, url)
	}

	return urls, nil
}
