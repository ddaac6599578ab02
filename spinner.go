package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Spinner shows which page is being visited while the visit list runs
type Spinner struct {
	out   io.Writer
	chars []string
	delay time.Duration
	end   chan struct{}
	wg    sync.WaitGroup
}

func NewSpinner() *Spinner {
	return &Spinner{
		out:   os.Stdout,
		chars: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		delay: 100 * time.Millisecond,
	}
}

// Start animates message until Stop is called
func (s *Spinner) Start(message string) {
	if s.out == nil {
		return
	}

	s.end = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.delay)
		defer ticker.Stop()

		for i := 0; ; i++ {
			fmt.Fprintf(s.out, "\r%s %s", s.chars[i%len(s.chars)], message)

			select {
			case <-s.end:
				fmt.Fprintf(s.out, "\r✅ %s\n", message)
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *Spinner) Stop() {
	if s.end == nil {
		return
	}
	close(s.end)
	s.wg.Wait()
	s.end = nil
}
