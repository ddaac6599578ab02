package main

import (
	"math"
	"sort"
)

// PerformanceRecord is the serializable result for one navigation
type PerformanceRecord struct {
	Timings   map[string]RecordTiming `json:"timings"`
	Requests  []RequestSummary        `json:"requests"`
	WebVitals []RecordWebVital        `json:"webVitals,omitempty"`
}

// RecordTiming is a page milestone rounded to whole milliseconds
type RecordTiming struct {
	StartTime int64  `json:"startTime"`
	Duration  *int64 `json:"duration"`
}

// RecordWebVital is a web vital as reported to the collector
type RecordWebVital struct {
	Time  int64   `json:"time"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RequestSummary is a request merged with its in-page timing, if any
type RequestSummary struct {
	URL          string  `json:"url"`
	RequestID    string  `json:"requestId"`
	RequestSize  *int64  `json:"requestSize"`
	ResponseSize *int64  `json:"responseSize"`
	StatusCode   *int64  `json:"statusCode"`
	ContentType  *string `json:"contentType"`
	FromCache    *bool   `json:"fromCache"`
	Error        bool    `json:"error"`
	Aborted      bool    `json:"aborted"`
	Finished     bool    `json:"finished"`

	StartTime      *int64 `json:"startTime"`
	Duration       *int64 `json:"duration"`
	DNSTime        *int64 `json:"dnsTime"`
	ConnectTime    *int64 `json:"connectTime"`
	SendTime       *int64 `json:"sendTime"`
	FirstBytesTime int64  `json:"firstBytesTime"`
	LastBytesTime  int64  `json:"lastBytesTime"`
	ReceiveTime    *int64 `json:"receiveTime"`
	BusyTime       *int64 `json:"busyTime"`

	Method     *string         `json:"method"`
	Header     []Header        `json:"header"`
	Body       BodySummary     `json:"body"`
	Response   ResponseSummary `json:"response"`
	StatusText *string         `json:"statusText"`
}

// ResponseSummary holds the response side of a request summary
type ResponseSummary struct {
	Header []Header `json:"header"`
}

// requestTimes carries the unrounded timing of a request until the
// summary is emitted
type requestTimes struct {
	startTime    *float64
	duration     *float64
	dnsTime      *float64
	connectTime  *float64
	sendTime     *float64
	busyTime     *float64
	receiveTime  *float64
	responseSize *int64
}

// timesFromRequest derives the phase durations from the timestamps the
// network layer reported
func timesFromRequest(r *RequestEntry) requestTimes {
	start := observedStartTime(r)

	return requestTimes{
		startTime:    start,
		connectTime:  span(r.ConnectStart, r.ConnectEnd),
		sendTime:     span(r.RequestStart, r.RequestEnd),
		busyTime:     span(r.RequestEnd, r.ResponseStart),
		receiveTime:  span(r.ResponseStart, r.ResponseEnd),
		duration:     span(start, r.ResponseEnd),
		responseSize: r.ResponseSize,
	}
}

// enrich overwrites the phase timings with the in-page measurement, which
// is more precise than what the network layer sees
func (t *requestTimes) enrich(rt ResourceTiming) {
	if rt.StartTime != nil {
		t.startTime = rt.StartTime
	}
	t.connectTime = rt.ConnectTime
	t.sendTime = rt.SendTime
	t.busyTime = rt.BusyTime
	t.receiveTime = rt.ReceiveTime
	if rt.Duration != nil {
		t.duration = rt.Duration
	}
	if rt.DNSTime != nil {
		t.dnsTime = rt.DNSTime
	}
	if rt.TransferSize > 0 {
		t.responseSize = int64Ptr(int64(rt.TransferSize))
	}
}

// firstBytesTime is connect + send + busy, missing phases counting as 0
func (t requestTimes) firstBytesTime() float64 {
	return valueOrZero(t.connectTime) + valueOrZero(t.sendTime) + valueOrZero(t.busyTime)
}

func (t requestTimes) lastBytesTime() float64 {
	return t.firstBytesTime() + valueOrZero(t.receiveTime)
}

// observedStartTime returns the first lifecycle timestamp after the
// request was issued, falling back to the issue time itself
func observedStartTime(r *RequestEntry) *float64 {
	if r.StartTime == nil {
		return nil
	}

	start := *r.StartTime
	for _, ts := range []*float64{r.ConnectStart, r.ConnectEnd, r.RequestStart, r.RequestEnd, r.ResponseStart} {
		if ts != nil && *ts > start {
			return floatPtr(*ts)
		}
	}
	return floatPtr(start)
}

// pendingSummary is a request whose summary has not been emitted yet
type pendingSummary struct {
	request *RequestEntry
	times   requestTimes
}

func (p pendingSummary) emit() RequestSummary {
	r := p.request
	t := p.times

	ct := r.ContentType
	if ct == nil {
		ct = contentTypeForResource(r.Type)
	}

	var statusLine string
	if r.StatusLine != nil {
		statusLine = *r.StatusLine
	}

	return RequestSummary{
		URL:            r.URL,
		RequestID:      r.RequestID,
		RequestSize:    r.RequestSize,
		ResponseSize:   t.responseSize,
		StatusCode:     r.StatusCode,
		ContentType:    ct,
		FromCache:      r.FromCache,
		Error:          r.Error,
		Aborted:        r.Aborted,
		Finished:       r.Finished,
		StartTime:      roundMillis(t.startTime),
		Duration:       roundMillis(t.duration),
		DNSTime:        roundMillis(t.dnsTime),
		ConnectTime:    roundMillis(t.connectTime),
		SendTime:       roundMillis(t.sendTime),
		BusyTime:       roundMillis(t.busyTime),
		ReceiveTime:    roundMillis(t.receiveTime),
		FirstBytesTime: int64(math.Round(t.firstBytesTime())),
		LastBytesTime:  int64(math.Round(t.lastBytesTime())),
		Method:         r.Method,
		Header:         r.Header,
		Body:           decodeRequestBody(r),
		Response:       ResponseSummary{Header: r.ResponseHeader},
		StatusText:     statusText(statusLine),
	}
}

// buildRecord turns a navigation and its requests into a record.
//
// Requests are matched to in-page timings by URL. A URL with a single
// timing is matched directly. When a URL has several timings the
// requests for it are held back, sorted by start time and paired index
// for index with the (chronological) timings. Requests without a timing
// are emitted as they are.
func buildRecord(entry *timingDataEntry, requests []*RequestEntry) PerformanceRecord {
	record := PerformanceRecord{
		Timings:   roundTimings(entry.Timings),
		Requests:  []RequestSummary{},
		WebVitals: roundWebVitals(entry.WebVitals),
	}

	pool := make(map[string][]ResourceTiming, len(entry.Entries))
	for url, timings := range entry.Entries {
		sorted := append([]ResourceTiming(nil), timings...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return valueOrZero(sorted[i].StartTime) < valueOrZero(sorted[j].StartTime)
		})
		pool[url] = sorted
	}

	leftovers := map[string][]pendingSummary{}
	var leftoverURLs []string

	for _, r := range requests {
		p := pendingSummary{request: r, times: timesFromRequest(r)}

		timings := pool[r.URL]
		switch {
		case len(timings) > 1:
			if _, seen := leftovers[r.URL]; !seen {
				leftoverURLs = append(leftoverURLs, r.URL)
			}
			leftovers[r.URL] = append(leftovers[r.URL], p)
			continue
		case len(timings) == 1:
			p.times.enrich(timings[0])
			delete(pool, r.URL)
		}

		record.Requests = append(record.Requests, p.emit())
	}

	for _, url := range leftoverURLs {
		worklist := leftovers[url]
		sort.SliceStable(worklist, func(i, j int) bool {
			return valueOrZero(worklist[i].times.startTime) < valueOrZero(worklist[j].times.startTime)
		})

		timings := pool[url]
		for _, p := range worklist {
			if len(timings) > 0 {
				p.times.enrich(timings[0])
				timings = timings[1:]
			}
			record.Requests = append(record.Requests, p.emit())
		}
	}

	return record
}

// filterRecordEntries drops cached requests, and unfinished or aborted
// requests unless incomplete requests should be recorded. Records left
// without requests are dropped.
func filterRecordEntries(records []PerformanceRecord, recordIncompleted bool) []PerformanceRecord {
	filtered := []PerformanceRecord{}
	for _, rec := range records {
		var requests []RequestSummary
		for _, r := range rec.Requests {
			if r.FromCache != nil && *r.FromCache {
				continue
			}
			if !recordIncompleted && (!r.Finished || r.Aborted) {
				continue
			}
			requests = append(requests, r)
		}

		if len(requests) > 0 {
			rec.Requests = requests
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// contentTypeForResource is used when a response had no content type.
// Documents, pings and XHRs carry no meaningful type of their own.
func contentTypeForResource(t ResourceType) *string {
	switch t {
	case resourceMainFrame, resourceSubFrame, resourcePing, resourceOther, resourceXMLHTTPRequest, "":
		return nil
	}
	s := string(t)
	return &s
}

func roundTimings(timings map[string]PageTiming) map[string]RecordTiming {
	if timings == nil {
		return nil
	}

	rounded := make(map[string]RecordTiming, len(timings))
	for name, t := range timings {
		rounded[name] = RecordTiming{
			StartTime: int64(math.Round(t.StartTime)),
			Duration:  roundMillis(t.Duration),
		}
	}
	return rounded
}

// roundWebVitals rounds every metric but CLS, which is a unitless score
func roundWebVitals(vitals []WebVital) []RecordWebVital {
	if len(vitals) == 0 {
		return nil
	}

	rounded := make([]RecordWebVital, 0, len(vitals))
	for _, v := range vitals {
		value := v.Value
		if v.Name != "CLS" {
			value = math.Round(value)
		}
		rounded = append(rounded, RecordWebVital{Time: int64(math.Round(v.Time)), Name: v.Name, Value: value})
	}
	return rounded
}

// span returns end - start when both are known
func span(start, end *float64) *float64 {
	if start == nil || end == nil {
		return nil
	}
	return floatPtr(*end - *start)
}

func roundMillis(v *float64) *int64 {
	if v == nil {
		return nil
	}
	return int64Ptr(int64(math.Round(*v)))
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
