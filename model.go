package main

// TabID identifies a browser tab (the CDP target id of a page)
type TabID string

// ResourceType is the resource category of a request, named the way
// the collector expects (main_frame, script, image, ...)
type ResourceType string

const (
	resourceMainFrame      ResourceType = "main_frame"
	resourceSubFrame       ResourceType = "sub_frame"
	resourceStylesheet     ResourceType = "stylesheet"
	resourceScript         ResourceType = "script"
	resourceImage          ResourceType = "image"
	resourceFont           ResourceType = "font"
	resourceMedia          ResourceType = "media"
	resourceXMLHTTPRequest ResourceType = "xmlhttprequest"
	resourceWebSocket      ResourceType = "websocket"
	resourcePing           ResourceType = "ping"
	resourceCSPReport      ResourceType = "csp_report"
	resourceOther          ResourceType = "other"
)

// Header is a single HTTP header as observed on the wire
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UploadData is one chunk of a request body, either raw bytes or a file
// reference
type UploadData struct {
	Bytes []byte `json:"bytes,omitempty"`
	File  string `json:"file,omitempty"`
}

// RequestBody holds what is known about a request body: decoded form
// fields and/or raw chunks
type RequestBody struct {
	FormData map[string][]string `json:"formData"`
	Raw      []UploadData        `json:"raw"`
}

// RequestEntry is one observed network request, keyed by tab, request id
// and URL. Lifecycle events mutate it in place until it is finished.
type RequestEntry struct {
	Tab       TabID  `json:"tabId"`
	RequestID string `json:"requestId"`
	URL       string `json:"url"`

	Method      *string      `json:"method"`
	Type        ResourceType `json:"type"`
	StatusCode  *int64       `json:"statusCode"`
	StatusLine  *string      `json:"statusLine"`
	ContentType *string      `json:"contentType"`
	FromCache   *bool        `json:"fromCache"`

	Error    bool `json:"error"`
	Aborted  bool `json:"aborted"`
	Finished bool `json:"finished"`

	RequestSize  *int64 `json:"requestSize"`
	ResponseSize *int64 `json:"responseSize"`

	StartTime     *float64 `json:"startTime"`
	ConnectStart  *float64 `json:"connectStart"`
	ConnectEnd    *float64 `json:"connectEnd"`
	RequestStart  *float64 `json:"requestStart"`
	RequestEnd    *float64 `json:"requestEnd"`
	ResponseStart *float64 `json:"responseStart"`
	ResponseEnd   *float64 `json:"responseEnd"`

	Header         []Header    `json:"header"`
	Body           RequestBody `json:"body"`
	ResponseHeader []Header    `json:"responseHeader"`
}

// latestTimestamp returns the largest timestamp recorded so far, or 0
func (r *RequestEntry) latestTimestamp() float64 {
	var latest float64
	for _, ts := range []*float64{
		r.StartTime, r.ConnectStart, r.ConnectEnd, r.RequestStart,
		r.RequestEnd, r.ResponseStart, r.ResponseEnd,
	} {
		if ts != nil && *ts > latest {
			latest = *ts
		}
	}
	return latest
}

// PageTiming is a named page milestone relative to navigation start
type PageTiming struct {
	StartTime float64  `json:"startTime"`
	Duration  *float64 `json:"duration"`
}

// WebVital is one captured page-experience metric
type WebVital struct {
	Time  float64 `json:"time"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ResourceTiming is one in-page performance measurement for a URL, already
// broken down into phases (milliseconds, unrounded)
type ResourceTiming struct {
	URL            string   `json:"url"`
	EntryType      string   `json:"entryType"`
	TransferSize   float64  `json:"transferSize"`
	StartTime      *float64 `json:"startTime"`
	ConnectTime    *float64 `json:"connectTime"`
	SendTime       *float64 `json:"sendTime"`
	BusyTime       *float64 `json:"busyTime"`
	ReceiveTime    *float64 `json:"receiveTime"`
	FirstBytesTime float64  `json:"firstBytesTime"`
	LastBytesTime  float64  `json:"lastBytesTime"`
	Duration       *float64 `json:"duration"`
	DNSTime        *float64 `json:"dnsTime"`
}

// TimingSnapshot is what the page recorder reports for the current page
type TimingSnapshot struct {
	URL       string                      `json:"url"`
	Entries   map[string][]ResourceTiming `json:"entries"`
	Timings   map[string]PageTiming       `json:"timings,omitempty"`
	WebVitals []WebVital                  `json:"webVitals,omitempty"`
}

// timingDataEntry is one navigation within a tab
type timingDataEntry struct {
	Timings      map[string]PageTiming       `json:"timings"`
	Entries      map[string][]ResourceTiming `json:"entries"`
	WebVitals    []WebVital                  `json:"webVitals"`
	Requests     []requestKey                `json:"requests"`
	Loaded       bool                        `json:"loaded"`
	BeforeUnload bool                        `json:"beforeUnload"`
}

// mergeSnapshot folds a page snapshot into the entry: milestones and web
// vitals are replaced when present, resource timings are appended per URL
func (e *timingDataEntry) mergeSnapshot(s TimingSnapshot) {
	if s.Timings != nil {
		e.Timings = s.Timings
	}
	if s.WebVitals != nil {
		e.WebVitals = s.WebVitals
	}
	if e.Entries == nil {
		e.Entries = map[string][]ResourceTiming{}
	}

	for url, timings := range s.Entries {
		for _, t := range timings {
			// the navigation entry is part of every snapshot, keep the latest
			if t.EntryType == "navigation" {
				if i := navigationIndex(e.Entries[url]); i >= 0 {
					e.Entries[url][i] = t
					continue
				}
			}
			e.Entries[url] = append(e.Entries[url], t)
		}
	}
}

func navigationIndex(timings []ResourceTiming) int {
	for i, t := range timings {
		if t.EntryType == "navigation" {
			return i
		}
	}
	return -1
}

// settings is the recorder configuration captured from the handshake URL
type settings struct {
	RecordIncompleted bool           `json:"recordIncompleted"`
	UseSessionStorage bool           `json:"useSessionStorage"`
	Connect           *connectParams `json:"connectParams"`
}

// connectParams identifies the collector socket
type connectParams struct {
	Port     string `json:"port"`
	ClientID string `json:"clientID"`
}
