package main

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	crlfLength        = len("\r\n")
	httpVersionLength = len("HTTP/x.x")
)

var reResponseStatus = regexp.MustCompile(`HTTP/\d(?:\.\d)?\s+\d{3}\s+(.*)`)

// requestLineSize estimates the size of e.g. "GET https://example.com HTTP/1.1"
func requestLineSize(method, url string) int64 {
	return int64(len(method) + len(url) + httpVersionLength + crlfLength + 2)
}

// headerSize returns the size of a serialized header block, including the
// terminating blank line
func headerSize(headers []Header) int64 {
	if len(headers) == 0 {
		return 0
	}

	size := 0
	for _, h := range headers {
		size += len(h.Name) + len(": ") + len(h.Value) + crlfLength
	}
	return int64(size + crlfLength)
}

func statusLineSize(statusLine string) int64 {
	if statusLine == "" {
		return 0
	}
	return int64(len(statusLine) + crlfLength)
}

// responseSize adds the content length to the header and status line
// sizes unless the response came from the cache
func responseSize(headers []Header, statusLine string, fromCache bool) int64 {
	size := headerSize(headers) + statusLineSize(statusLine)
	if !fromCache {
		size += contentLength(headers)
	}
	return size
}

// requestBodySize sums the sizes of all form values and raw chunks
func requestBodySize(body *RequestBody) int64 {
	if body == nil {
		return 0
	}

	size := 0
	for name, values := range body.FormData {
		size += len(name)
		for _, v := range values {
			size += len(v)
		}
	}
	for _, chunk := range body.Raw {
		if chunk.Bytes != nil {
			size += len(chunk.Bytes)
		} else if chunk.File != "" {
			size += len(chunk.File)
		}
	}
	return int64(size)
}

// statusText extracts the reason phrase from a status line
func statusText(statusLine string) *string {
	m := reResponseStatus.FindStringSubmatch(statusLine)
	if len(m) != 2 {
		return nil
	}
	return &m[1]
}

func contentLength(headers []Header) int64 {
	v := headerValue(headers, "content-length")
	if v == nil {
		return 0
	}

	n, err := strconv.ParseInt(strings.TrimSpace(*v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func contentType(headers []Header) *string {
	return headerValue(headers, "content-type")
}

// headerValue returns the value of the first header matching name
// (case-insensitive), or nil
func headerValue(headers []Header, name string) *string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			v := h.Value
			return &v
		}
	}
	return nil
}
