package main

import (
	"strings"
)

// recordable reports whether requests to rawURL belong in a record.
// Generated and inline content, browser internals and the handshake page
// are left out.
func recordable(rawURL string) bool {
	if rawURL == "" || isHandshakeURL(rawURL) {
		return false
	}

	scheme, _, ok := strings.Cut(rawURL, ":")
	if !ok {
		return false
	}

	switch strings.ToLower(scheme) {
	case "http", "https", "ws", "wss", "ftp", "file":
		return true
	}
	// blob: (workers, generated content), data: (inline content),
	// chrome:, chrome-extension:, devtools:, about:
	return false
}
