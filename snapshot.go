package main

import "strings"

// rawTimingData is the platform timing dump produced by the page script.
// Zero means "not available", as with the browser's timing APIs.
type rawTimingData struct {
	URL                 string             `json:"url"`
	NavigationStart     float64            `json:"navigationStart"`
	IncludeEventTimings bool               `json:"includeEventTimings"`
	Entries             []rawTimingEntry   `json:"entries"`
	Timing              map[string]float64 `json:"timing,omitempty"`
	PaintSupported      bool               `json:"paintSupported"`
	FirstPaintTime      float64            `json:"firstPaintTime"`
	Paint               []rawPaintEntry    `json:"paint,omitempty"`
	WebVitals           []WebVital         `json:"webVitals,omitempty"`
}

// rawTimingEntry is a navigation or resource timing entry
type rawTimingEntry struct {
	Name              string  `json:"name"`
	EntryType         string  `json:"entryType"`
	FetchStart        float64 `json:"fetchStart"`
	DomainLookupStart float64 `json:"domainLookupStart"`
	DomainLookupEnd   float64 `json:"domainLookupEnd"`
	ConnectStart      float64 `json:"connectStart"`
	ConnectEnd        float64 `json:"connectEnd"`
	RequestStart      float64 `json:"requestStart"`
	ResponseStart     float64 `json:"responseStart"`
	ResponseEnd       float64 `json:"responseEnd"`
	TransferSize      float64 `json:"transferSize"`
}

type rawPaintEntry struct {
	Name      string  `json:"name"`
	StartTime float64 `json:"startTime"`
}

// pageMilestones are the navigation timing attributes reported as
// page timings
var pageMilestones = []string{
	"domComplete",
	"domContentLoadedEventEnd",
	"domContentLoadedEventStart",
	"domInteractive",
	"domLoading",
	"loadEventEnd",
	"loadEventStart",
}

// captureSnapshot turns the page's timing dump into a snapshot. Entries
// are grouped by URL in fetch order. Milestones, paint timings and web
// vitals are only included with includeEventTimings.
func captureSnapshot(raw rawTimingData, includeEventTimings bool) TimingSnapshot {
	snapshot := TimingSnapshot{
		URL:     raw.URL,
		Entries: map[string][]ResourceTiming{},
	}

	for _, e := range raw.Entries {
		snapshot.Entries[e.Name] = append(snapshot.Entries[e.Name], resourceTiming(e, raw.NavigationStart))
	}

	if includeEventTimings {
		snapshot.Timings = pageTimings(raw)
		snapshot.WebVitals = raw.WebVitals
		if snapshot.WebVitals == nil {
			snapshot.WebVitals = []WebVital{}
		}
	}

	return snapshot
}

// resourceTiming breaks a timing entry down into request phases
func resourceTiming(e rawTimingEntry, navigationStart float64) ResourceTiming {
	start := entryStartTime(e)

	rt := ResourceTiming{
		URL:          e.Name,
		EntryType:    e.EntryType,
		TransferSize: e.TransferSize,
		StartTime:    floatPtr(navigationStart + start),
		ConnectTime:  phase(e.ConnectStart, e.ConnectEnd),
		BusyTime:     phase(e.RequestStart, e.ResponseStart),
		ReceiveTime:  phase(e.ResponseStart, e.ResponseEnd),
		Duration:     phase(start, e.ResponseEnd),
		DNSTime:      phase(e.DomainLookupStart, e.DomainLookupEnd),
	}
	rt.FirstBytesTime = valueOrZero(rt.ConnectTime) + valueOrZero(rt.SendTime) + valueOrZero(rt.BusyTime)
	rt.LastBytesTime = rt.FirstBytesTime + valueOrZero(rt.ReceiveTime)

	return rt
}

// entryStartTime picks the start of the first phase that actually took
// time: DNS, connect, request, response, else the fetch start
func entryStartTime(e rawTimingEntry) float64 {
	switch {
	case e.DomainLookupStart != 0 && e.DomainLookupEnd-e.DomainLookupStart > 0:
		return e.DomainLookupStart
	case e.ConnectStart != 0 && e.ConnectEnd-e.ConnectStart > 0:
		return e.ConnectStart
	case e.RequestStart != 0 && e.ResponseStart-e.RequestStart > 0:
		return e.RequestStart
	case e.ResponseStart != 0 && e.ResponseEnd-e.ResponseStart > 0:
		return e.ResponseStart
	}
	return e.FetchStart
}

// pageTimings computes the milestones relative to navigation start
func pageTimings(raw rawTimingData) map[string]PageTiming {
	navStart := raw.NavigationStart
	timings := make(map[string]PageTiming, len(pageMilestones)+2)

	for _, name := range pageMilestones {
		timings[name] = PageTiming{StartTime: navStart, Duration: phase(navStart, raw.Timing[name])}
	}

	if !raw.PaintSupported {
		var d *float64
		if raw.FirstPaintTime != 0 {
			d = floatPtr(raw.FirstPaintTime - navStart)
		}
		timings["firstPaint"] = PageTiming{StartTime: navStart, Duration: d}
		return timings
	}

	for _, p := range raw.Paint {
		name := camelCase(p.Name)
		if name == "firstPaint" || name == "firstContentfulPaint" {
			timings[name] = PageTiming{StartTime: navStart, Duration: floatPtr(p.StartTime)}
		}
	}
	return timings
}

// phase returns end - start when both are set
func phase(start, end float64) *float64 {
	if start == 0 || end == 0 {
		return nil
	}
	return floatPtr(end - start)
}

// camelCase turns "first-contentful-paint" into "firstContentfulPaint"
func camelCase(name string) string {
	parts := strings.Split(name, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" && parts[i][0] >= 'a' && parts[i][0] <= 'z' {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
