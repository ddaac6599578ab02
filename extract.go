package main

import (
	"context"
	"fmt"
)

// extractor defines the interface for extracting visit URLs from
// different sources
type extractor interface {
	Name() string
	Extract(ctx context.Context) ([]string, error)
}

// argsSource hands out the URLs given on the command line
type argsSource struct {
	urls []string
}

func (s argsSource) Name() string {
	return "command line"
}

func (s argsSource) Extract(_ context.Context) ([]string, error) {
	return s.urls, nil
}

// extractVisitURLs collects the URLs of every source and filters them
// into the visit list
func extractVisitURLs(ctx context.Context, sources ...extractor) ([]string, error) {
	var urls []string

	for _, source := range sources {
		if source == nil {
			continue
		}

		extracted, err := source.Extract(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to extract URLs from %s: %w", source.Name(), err)
		}

		urls = append(urls, extracted...)
	}

	return filterVisitURLs(urls), nil
}
