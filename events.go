package main

// RequestEventKind is the stage of a request lifecycle an event reports
type RequestEventKind int

const (
	eventBeforeRequest RequestEventKind = iota
	eventBeforeSendHeaders
	eventSendHeaders
	eventHeadersReceived
	eventBeforeRedirect
	eventResponseStarted
	eventCompleted
	eventErrorOccurred
)

func (k RequestEventKind) String() string {
	switch k {
	case eventBeforeRequest:
		return "beforeRequest"
	case eventBeforeSendHeaders:
		return "beforeSendHeaders"
	case eventSendHeaders:
		return "sendHeaders"
	case eventHeadersReceived:
		return "headersReceived"
	case eventBeforeRedirect:
		return "beforeRedirect"
	case eventResponseStarted:
		return "responseStarted"
	case eventCompleted:
		return "completed"
	case eventErrorOccurred:
		return "errorOccurred"
	}
	return "unknown"
}

// abortedError is the network error reported for cancelled requests
const abortedError = "net::ERR_ABORTED"

// RequestEvent is one request lifecycle notification from the network layer
type RequestEvent struct {
	Kind      RequestEventKind
	Tab       TabID
	RequestID string
	URL       string

	Method    string
	Type      ResourceType
	Timestamp float64 // ms since epoch

	StatusCode      int64
	StatusLine      string
	FromCache       bool
	RequestHeaders  []Header
	ResponseHeaders []Header
	Body            *RequestBody
	Error           string
}

// apply folds the event into the request entry. Timestamps never move
// backwards: an event older than what the entry has already seen is
// stamped with the entry's latest timestamp.
func (r *RequestEntry) apply(ev RequestEvent) {
	ts := ev.Timestamp
	if latest := r.latestTimestamp(); ts < latest {
		ts = latest
	}

	method := ev.Method
	r.Method = &method
	r.Type = ev.Type

	switch ev.Kind {
	case eventBeforeRequest:
		r.StartTime = floatPtr(ts)
		r.ConnectStart = floatPtr(ts)
		if ev.Body != nil {
			r.Body = *ev.Body
		}
		r.RequestSize = int64Ptr(derefInt64(r.RequestSize) + requestBodySize(ev.Body))

	case eventBeforeSendHeaders:
		r.Header = ev.RequestHeaders

	case eventSendHeaders:
		r.ConnectEnd = floatPtr(ts)
		r.RequestStart = floatPtr(ts)
		r.RequestEnd = floatPtr(ts)
		r.Header = ev.RequestHeaders
		size := derefInt64(r.RequestSize) + headerSize(ev.RequestHeaders) + requestLineSize(ev.Method, ev.URL)
		r.RequestSize = int64Ptr(size)

	case eventHeadersReceived:
		r.applyResponse(ev)
		r.ResponseSize = int64Ptr(headerSize(ev.ResponseHeaders) + statusLineSize(ev.StatusLine))

	case eventBeforeRedirect:
		r.ResponseStart = floatPtr(ts)
		r.ResponseEnd = floatPtr(ts)
		r.applyResponse(ev)
		r.FromCache = boolPtr(ev.FromCache)
		r.Finished = true
		r.ResponseSize = int64Ptr(headerSize(ev.ResponseHeaders) + statusLineSize(ev.StatusLine))

	case eventResponseStarted:
		r.ResponseStart = floatPtr(ts)
		r.applyResponse(ev)
		r.FromCache = boolPtr(ev.FromCache)
		r.ResponseSize = int64Ptr(headerSize(ev.ResponseHeaders) + statusLineSize(ev.StatusLine))

	case eventCompleted:
		r.ResponseEnd = floatPtr(ts)
		r.applyResponse(ev)
		r.FromCache = boolPtr(ev.FromCache)
		r.Finished = true
		r.ResponseSize = int64Ptr(responseSize(ev.ResponseHeaders, ev.StatusLine, ev.FromCache))

	case eventErrorOccurred:
		r.ResponseEnd = floatPtr(ts)
		r.Error = true
		r.Finished = true
		r.Aborted = ev.Error == abortedError
		r.FromCache = boolPtr(ev.FromCache)
		r.ResponseSize = int64Ptr(responseSize(ev.ResponseHeaders, ev.StatusLine, ev.FromCache))
		if r.StartTime == nil {
			r.StartTime = floatPtr(ts)
		}
	}
}

// applyResponse copies status and response headers
func (r *RequestEntry) applyResponse(ev RequestEvent) {
	status := ev.StatusCode
	r.StatusCode = &status
	statusLine := ev.StatusLine
	r.StatusLine = &statusLine
	r.ResponseHeader = ev.ResponseHeaders
	r.ContentType = contentType(ev.ResponseHeaders)
}

func floatPtr(v float64) *float64 { return &v }

func int64Ptr(v int64) *int64 { return &v }

func boolPtr(v bool) *bool { return &v }

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
