package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinner(t *testing.T) {
	var out bytes.Buffer
	s := NewSpinner()
	s.out = &out

	s.Start("https://example.com/")
	s.Stop()
	s.Stop()

	assert.Contains(t, out.String(), "✅ https://example.com/\n")
}

func TestSpinner_NoOutput(t *testing.T) {
	s := &Spinner{}
	s.Start("quiet")
	s.Stop()
}
