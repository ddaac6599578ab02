package main

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// maxBase64Body is the number of body bytes kept when a body has to be
// reported as base64
const maxBase64Body = 8192

var (
	reMultipart        = regexp.MustCompile(`multipart/form-data`)
	reTextualBody      = regexp.MustCompile(`text/.+|application/(json|(java|ecma)script|x-www-form-urlencoded|.+\+xml|xml\b)`)
	reTextPlain        = regexp.MustCompile(`text/plain`)
	reCharsetParam     = regexp.MustCompile(`charset=([a-z0-9\-]+)`)
	reMultipartCharset = regexp.MustCompile(`[Cc]ontent-[Dd]isposition:\s*form-data;\s*name="_charset_"\s+([a-z0-9\-]+)\s+`)
)

// BodySummary is the request body as reported to the collector
type BodySummary struct {
	FormData map[string][]string `json:"formData"`
	Raw      []RawBody           `json:"raw"`
}

// RawBody is one body chunk: a file reference, decoded text or base64
type RawBody struct {
	File   *string `json:"file,omitempty"`
	Text   *string `json:"text,omitempty"`
	Base64 *string `json:"base64,omitempty"`
}

// decodeRequestBody renders the request body of r for the collector.
// Textual bodies are decoded with the charset the request declared;
// anything that does not decode cleanly is reported as base64 instead.
func decodeRequestBody(r *RequestEntry) BodySummary {
	var ct string
	if v := contentType(r.Header); v != nil {
		ct = *v
	}

	multipart := reMultipart.MatchString(ct)
	isText := reTextualBody.MatchString(ct)
	encoding := bodyCharset(ct, r.Body, multipart)

	var summary BodySummary
	if r.Body.Raw != nil {
		summary.Raw = []RawBody{}
		for _, chunk := range r.Body.Raw {
			switch {
			case chunk.File != "":
				file := chunk.File
				summary.Raw = append(summary.Raw, RawBody{File: &file})
			case chunk.Bytes != nil:
				if isText || multipart {
					if text, ok := decodeBytes(chunk.Bytes, encoding); ok {
						summary.Raw = append(summary.Raw, RawBody{Text: &text})
						continue
					}
				}
				encoded := toBase64(chunk.Bytes)
				summary.Raw = append(summary.Raw, RawBody{Base64: &encoded})
			}
		}
	}

	if r.Body.FormData != nil {
		formData, ok := decodeFormData(r.Body.FormData, encoding)
		if ok {
			summary.FormData = formData
		} else {
			// not decodable field by field, send the whole form url-encoded
			text := urlEncode(r.Body.FormData)
			summary.Raw = append(summary.Raw, RawBody{Text: &text})
		}
	}

	return summary
}

// bodyCharset determines the charset of a request body. The content type
// wins; forms may instead carry a hidden "_charset_" field.
func bodyCharset(ct string, body RequestBody, multipart bool) string {
	if idx := strings.Index(ct, ";"); idx > -1 {
		if m := reCharsetParam.FindStringSubmatch(strings.ToLower(ct[idx+1:])); len(m) > 1 {
			return m[1]
		}
	}

	if reTextPlain.MatchString(ct) {
		return "us-ascii"
	}

	if body.FormData != nil {
		if values := body.FormData["_charset_"]; len(values) > 0 {
			return values[0]
		}
		return ""
	}

	if multipart {
		for _, chunk := range body.Raw {
			if chunk.Bytes == nil {
				continue
			}
			text, ok := decodeBytes(chunk.Bytes, "us-ascii")
			if !ok {
				continue
			}
			if m := reMultipartCharset.FindStringSubmatch(text); len(m) > 1 {
				return m[1]
			}
		}
	}

	return ""
}

// decodeFormData makes sure every form value is valid text. Values that
// are not UTF-8 are decoded with the given charset; ok is false when that
// is impossible.
func decodeFormData(form map[string][]string, encoding string) (map[string][]string, bool) {
	decoded := make(map[string][]string, len(form))
	for name, values := range form {
		out := make([]string, 0, len(values))
		for _, v := range values {
			if utf8.ValidString(v) {
				out = append(out, v)
				continue
			}
			if encoding == "" {
				return nil, false
			}
			text, ok := decodeBytes([]byte(v), encoding)
			if !ok {
				return nil, false
			}
			out = append(out, text)
		}
		decoded[name] = out
	}
	return decoded, true
}

// decodeBytes decodes b strictly: an unknown charset or any undecodable
// byte sequence is a failure
func decodeBytes(b []byte, encoding string) (string, bool) {
	if encoding == "" || strings.EqualFold(encoding, "utf-8") || strings.EqualFold(encoding, "utf8") {
		if !utf8.Valid(b) {
			return "", false
		}
		return string(b), true
	}

	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return "", false
	}

	out, err := enc.NewDecoder().Bytes(b)
	if err != nil || strings.ContainsRune(string(out), utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// toBase64 encodes at most 8KiB of b, marking truncation with "..."
func toBase64(b []byte) string {
	if len(b) <= maxBase64Body {
		return base64.StdEncoding.EncodeToString(b)
	}
	return base64.StdEncoding.EncodeToString(b[:maxBase64Body-2]) + "..."
}

// urlEncode renders form fields as application/x-www-form-urlencoded
func urlEncode(form map[string][]string) string {
	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)

	var pairs []string
	for _, name := range names {
		key := url.QueryEscape(name)
		for _, v := range form[name] {
			pairs = append(pairs, key+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(pairs, "&")
}
