package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

type website struct {
	originalURL string
	scheme      string
	domain      string
}

// newWebsite takes in a raw URL, parses it and returns a website
// instance. Only http and https pages can be visited.
func newWebsite(rawURL string) (*website, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q: %s", parsed.Scheme, rawURL)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("URL missing host: %s", rawURL)
	}

	return &website{
		domain:      strings.ToLower(parsed.Host),
		scheme:      scheme,
		originalURL: rawURL,
	}, nil
}

// filterVisitURLs drops invalid URLs and duplicates, keeping the order in
// which the URLs were given. The same site may be visited several times
// through different pages.
func filterVisitURLs(rawURLs []string) []string {
	urls := []string{}
	seen := map[string]bool{}

	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		website, err := newWebsite(raw)
		if err != nil {
			log.Warn().Err(err).Msg("skipping URL")
			continue
		}

		if seen[website.originalURL] || !recordable(website.originalURL) {
			continue
		}

		seen[website.originalURL] = true
		urls = append(urls, website.originalURL)
	}

	return urls
}
