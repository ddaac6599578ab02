package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebsite(t *testing.T) {
	w, err := newWebsite("HTTPS://Example.com/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https", w.scheme)
	assert.Equal(t, "example.com", w.domain)
	assert.Equal(t, "HTTPS://Example.com/path?q=1", w.originalURL)

	for _, raw := range []string{"ftp://example.com/", "example.com", "https://", "data:,xltParameters?xltPort=1", "http://%zz"} {
		_, err := newWebsite(raw)
		assert.Error(t, err, raw)
	}
}

func TestFilterVisitURLs(t *testing.T) {
	urls := filterVisitURLs([]string{
		"https://example.com/",
		" https://example.com/ ",
		"not a url",
		"",
		"https://example.com/about",
		"blob:https://example.com/1",
		"http://example.org/",
	})

	assert.Equal(t, []string{"https://example.com/", "https://example.com/about", "http://example.org/"}, urls)
	assert.NotNil(t, filterVisitURLs(nil))
}

func TestRecordable(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/", true},
		{"HTTP://example.com/", true},
		{"wss://example.com/socket", true},
		{"file:///tmp/index.html", true},
		{"", false},
		{"blob:https://example.com/x", false},
		{"data:text/plain,hi", false},
		{"chrome-extension://abc/background.js", false},
		{"devtools://devtools/bundled/inspector.html", false},
		{"about:blank", false},
		{"data:,xltParameters?xltPort=1&clientID=c", false},
		{"example.com", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, recordable(tt.url), tt.url)
	}
}

type failingExtractor struct{}

func (failingExtractor) Name() string { return "broken" }

func (failingExtractor) Extract(context.Context) ([]string, error) {
	return nil, errors.New("boom")
}

func TestExtractVisitURLs(t *testing.T) {
	urls, err := extractVisitURLs(context.Background(),
		argsSource{urls: []string{"https://example.com/", "https://example.com/"}},
		nil,
		argsSource{urls: []string{"https://example.org/"}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.org/"}, urls)

	_, err = extractVisitURLs(context.Background(), failingExtractor{})
	assert.ErrorContains(t, err, "broken")
}
