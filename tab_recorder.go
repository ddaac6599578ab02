package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// tabRecorder translates the DevTools events of one tab into request and
// page lifecycle events for the aggregator
type tabRecorder struct {
	tab         TabID
	ctx         context.Context
	cancel      context.CancelFunc
	agg         *Aggregator
	onHandshake func(rawURL string)

	mu        sync.Mutex
	offset    float64 // wall clock ms minus monotonic ms
	hasOffset bool
	inflight  map[network.RequestID]*inflightRequest
	early     map[network.RequestID]*wireInfo // extra info ahead of its hop
}

// wireInfo is what the extra info events report about one hop of a
// request as it went over the wire
type wireInfo struct {
	requestHeaders  []Header
	statusLine      string
	responseHeaders []Header
}

// inflightRequest is what has been seen of a request that has not ended
type inflightRequest struct {
	url            string
	method         string
	resourceType   ResourceType
	requestHeaders []Header
	wire           wireInfo
	fromCache      bool

	hasResponse     bool
	statusCode      int64
	statusLine      string
	responseHeaders []Header
}

func newTabRecorder(ctx context.Context, cancel context.CancelFunc, tab TabID, agg *Aggregator, onHandshake func(string)) *tabRecorder {
	return &tabRecorder{
		tab:         tab,
		ctx:         ctx,
		cancel:      cancel,
		agg:         agg,
		onHandshake: onHandshake,
		inflight:    map[network.RequestID]*inflightRequest{},
		early:       map[network.RequestID]*wireInfo{},
	}
}

// install enables the needed domains and injects the page recorder into
// every document of the tab, the current one included
func (t *tabRecorder) install() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("failed to enable network events: %w", err)
		}
		if err := page.Enable().Do(ctx); err != nil {
			return fmt.Errorf("failed to enable page events: %w", err)
		}
		if err := runtime.Enable().Do(ctx); err != nil {
			return fmt.Errorf("failed to enable runtime events: %w", err)
		}
		if err := runtime.AddBinding(bindingName).Do(ctx); err != nil {
			return fmt.Errorf("failed to add page binding: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(recorderScript()).Do(ctx); err != nil {
			return fmt.Errorf("failed to install page recorder: %w", err)
		}
		if err := chromedp.Evaluate(recorderScript(), nil).Do(ctx); err != nil {
			return fmt.Errorf("failed to start page recorder: %w", err)
		}
		return nil
	})
}

// handleEvent is the target listener. It must not block.
func (t *tabRecorder) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.requestWillBeSent(ev)
	case *network.EventRequestWillBeSentExtraInfo:
		headers := convertHeaders(ev.Headers)
		t.withWireInfo(ev.RequestID,
			func(w *wireInfo) bool { return w.requestHeaders == nil },
			func(w *wireInfo) { w.requestHeaders = headers })
	case *network.EventRequestServedFromCache:
		t.withRequest(ev.RequestID, func(r *inflightRequest) {
			r.fromCache = true
		})
	case *network.EventResponseReceived:
		t.responseReceived(ev)
	case *network.EventResponseReceivedExtraInfo:
		headers := convertHeaders(ev.Headers)
		line, _, _ := strings.Cut(ev.HeadersText, "\r\n")
		t.withWireInfo(ev.RequestID,
			func(w *wireInfo) bool { return w.responseHeaders == nil && w.statusLine == "" },
			func(w *wireInfo) {
				w.responseHeaders = headers
				w.statusLine = line
			})
	case *network.EventLoadingFinished:
		t.loadingFinished(ev)
	case *network.EventLoadingFailed:
		t.loadingFailed(ev)

	case *page.EventFrameNavigated:
		t.frameNavigated(ev)

	case *runtime.EventBindingCalled:
		if ev.Name != bindingName {
			return
		}
		pageEvent, err := decodePageEvent([]byte(ev.Payload))
		if err != nil {
			log.Debug().Err(err).Str("tab", string(t.tab)).Msg("ignoring page message")
			return
		}
		t.agg.HandlePageEvent(t.tab, pageEvent)
	}
}

func (t *tabRecorder) requestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}

	t.mu.Lock()
	if ev.WallTime != nil && ev.Timestamp != nil {
		t.offset = epochMillis(ev.WallTime.Time()) - epochMillis(ev.Timestamp.Time())
		t.hasOffset = true
	}
	ts := t.wallMillisLocked(ev.Timestamp)

	var redirected *RequestEvent
	if prev, ok := t.inflight[ev.RequestID]; ok && ev.RedirectResponse != nil {
		prev.setResponse(ev.RedirectResponse)
		prev.fromCache = prev.fromCache || ev.RedirectResponse.FromDiskCache
		e := t.responseEventLocked(eventBeforeRedirect, ev.RequestID, prev, ts)
		redirected = &e
	}

	r := &inflightRequest{
		url:            ev.Request.URL + ev.Request.URLFragment,
		method:         ev.Request.Method,
		resourceType:   resourceTypeOf(ev.Type, ev.FrameID, t.tab),
		requestHeaders: convertHeaders(ev.Request.Headers),
	}
	if w, ok := t.early[ev.RequestID]; ok {
		r.wire = *w
		delete(t.early, ev.RequestID)
	}
	t.inflight[ev.RequestID] = r
	t.mu.Unlock()

	if redirected != nil {
		t.agg.HandleRequestEvent(*redirected)
	}

	base := RequestEvent{
		Tab:       t.tab,
		RequestID: string(ev.RequestID),
		URL:       r.url,
		Method:    r.method,
		Type:      r.resourceType,
		Timestamp: ts,
	}

	before := base
	before.Kind = eventBeforeRequest
	before.Body = requestBody(ev.Request, r.requestHeaders)
	t.agg.HandleRequestEvent(before)

	beforeSend := base
	beforeSend.Kind = eventBeforeSendHeaders
	beforeSend.RequestHeaders = r.requestHeaders
	t.agg.HandleRequestEvent(beforeSend)
}

func (t *tabRecorder) responseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}

	t.mu.Lock()
	r, ok := t.inflight[ev.RequestID]
	if !ok {
		t.mu.Unlock()
		return
	}
	ts := t.wallMillisLocked(ev.Timestamp)

	// the headers went out before the response came in: step back by the
	// time between sending and receiving the headers
	sendTs := ts
	if timing := ev.Response.Timing; timing != nil && timing.SendStart >= 0 && timing.ReceiveHeadersEnd > timing.SendStart {
		sendTs = ts - (timing.ReceiveHeadersEnd - timing.SendStart)
	}

	r.setResponse(ev.Response)
	r.fromCache = r.fromCache || ev.Response.FromDiskCache || ev.Response.FromPrefetchCache

	headers := r.requestHeaders
	if r.wire.requestHeaders != nil {
		headers = r.wire.requestHeaders
	} else if ev.Response.RequestHeaders != nil {
		headers = convertHeaders(ev.Response.RequestHeaders)
	}
	send := RequestEvent{
		Kind:           eventSendHeaders,
		Tab:            t.tab,
		RequestID:      string(ev.RequestID),
		URL:            r.url,
		Method:         r.method,
		Type:           r.resourceType,
		Timestamp:      sendTs,
		RequestHeaders: headers,
	}
	received := t.responseEventLocked(eventHeadersReceived, ev.RequestID, r, ts)
	started := t.responseEventLocked(eventResponseStarted, ev.RequestID, r, ts)
	t.mu.Unlock()

	for _, e := range []RequestEvent{send, received, started} {
		t.agg.HandleRequestEvent(e)
	}
}

func (t *tabRecorder) loadingFinished(ev *network.EventLoadingFinished) {
	t.mu.Lock()
	delete(t.early, ev.RequestID)
	r, ok := t.inflight[ev.RequestID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.inflight, ev.RequestID)
	completed := t.responseEventLocked(eventCompleted, ev.RequestID, r, t.wallMillisLocked(ev.Timestamp))
	t.mu.Unlock()

	t.agg.HandleRequestEvent(completed)
}

func (t *tabRecorder) loadingFailed(ev *network.EventLoadingFailed) {
	t.mu.Lock()
	delete(t.early, ev.RequestID)
	r, ok := t.inflight[ev.RequestID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.inflight, ev.RequestID)
	failed := t.responseEventLocked(eventErrorOccurred, ev.RequestID, r, t.wallMillisLocked(ev.Timestamp))
	t.mu.Unlock()

	failed.Error = ev.ErrorText
	if ev.Canceled && failed.Error == "" {
		failed.Error = abortedError
	}
	t.agg.HandleRequestEvent(failed)
}

func (t *tabRecorder) frameNavigated(ev *page.EventFrameNavigated) {
	if ev.Frame == nil {
		return
	}

	if ev.Frame.ParentID == "" && isHandshakeURL(ev.Frame.URL) && t.onHandshake != nil {
		t.onHandshake(ev.Frame.URL)
	}

	t.agg.NavigationCommitted(t.tab)
}

// responseEventLocked builds an event of kind carrying the response seen
// so far. Must hold mu.
func (t *tabRecorder) responseEventLocked(kind RequestEventKind, id network.RequestID, r *inflightRequest, ts float64) RequestEvent {
	ev := RequestEvent{
		Kind:      kind,
		Tab:       t.tab,
		RequestID: string(id),
		URL:       r.url,
		Method:    r.method,
		Type:      r.resourceType,
		Timestamp: ts,
		FromCache: r.fromCache,
	}
	if r.hasResponse {
		ev.StatusCode = r.statusCode
		ev.StatusLine = r.statusLine
		ev.ResponseHeaders = r.responseHeaders
		if r.wire.statusLine != "" {
			ev.StatusLine = r.wire.statusLine
		}
		if r.wire.responseHeaders != nil {
			ev.ResponseHeaders = r.wire.responseHeaders
		}
	}
	return ev
}

// wallMillisLocked converts a monotonic timestamp to wall clock ms. Must
// hold mu.
func (t *tabRecorder) wallMillisLocked(ts *cdp.MonotonicTime) float64 {
	if ts == nil || !t.hasOffset {
		return epochMillis(time.Now())
	}
	return epochMillis(ts.Time()) + t.offset
}

// withWireInfo applies fn to the hop an extra info event describes. The
// known hop owns it unless it already has that info: then, as for a
// request not announced yet, the info is kept for the hop to come.
func (t *tabRecorder) withWireInfo(id network.RequestID, owns func(w *wireInfo) bool, fn func(w *wireInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.inflight[id]; ok && owns(&r.wire) {
		fn(&r.wire)
		return
	}
	w, ok := t.early[id]
	if !ok {
		w = &wireInfo{}
		t.early[id] = w
	}
	fn(w)
}

// withRequest runs fn on the in-flight request id, if known
func (t *tabRecorder) withRequest(id network.RequestID, fn func(r *inflightRequest)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.inflight[id]; ok {
		fn(r)
	}
}

// currentTimingData asks the page recorder for its current data
func (t *tabRecorder) currentTimingData(ctx context.Context) (TimingSnapshot, error) {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var reply string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(timingRequestExpression(), &reply)); err != nil {
		return TimingSnapshot{}, fmt.Errorf("failed to request timing data: %w", err)
	}
	if reply == "" {
		return TimingSnapshot{}, errors.New("page recorder not available")
	}

	return decodeTimingReply([]byte(reply))
}

func (r *inflightRequest) setResponse(resp *network.Response) {
	r.hasResponse = true
	r.statusCode = resp.Status
	r.statusLine = responseStatusLine(resp.Protocol, resp.Status, resp.StatusText)
	r.responseHeaders = convertHeaders(resp.Headers)
}

// resourceTypeOf maps a DevTools resource type to its request type name.
// The main frame of a tab has the tab's target id as frame id.
func resourceTypeOf(t network.ResourceType, frame cdp.FrameID, tab TabID) ResourceType {
	switch string(t) {
	case "Document":
		if TabID(frame) == tab {
			return resourceMainFrame
		}
		return resourceSubFrame
	case "Stylesheet":
		return resourceStylesheet
	case "Script":
		return resourceScript
	case "Image":
		return resourceImage
	case "Font":
		return resourceFont
	case "Media":
		return resourceMedia
	case "XHR", "Fetch", "EventSource":
		return resourceXMLHTTPRequest
	case "WebSocket":
		return resourceWebSocket
	case "Ping":
		return resourcePing
	case "CSPViolationReport":
		return resourceCSPReport
	}
	return resourceOther
}

// convertHeaders flattens DevTools headers, where repeated headers are
// joined by newlines, into a list sorted by name
func convertHeaders(h network.Headers) []Header {
	if h == nil {
		return nil
	}

	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make([]Header, 0, len(h))
	for _, name := range names {
		for _, value := range strings.Split(fmt.Sprint(h[name]), "\n") {
			headers = append(headers, Header{Name: name, Value: value})
		}
	}
	return headers
}

// responseStatusLine rebuilds a status line when the raw one is unknown
func responseStatusLine(protocol string, status int64, text string) string {
	version := "HTTP/1.1"
	switch strings.ToLower(protocol) {
	case "http/1.0":
		version = "HTTP/1.0"
	case "h2", "http/2.0":
		version = "HTTP/2"
	case "h3", "http/3":
		version = "HTTP/3"
	}

	line := fmt.Sprintf("%s %d", version, status)
	if text != "" {
		line += " " + text
	}
	return line
}

// requestBody extracts the upload data of a request. URL-encoded forms are
// reported as form fields, anything else as raw chunks.
func requestBody(req *network.Request, headers []Header) *RequestBody {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}

	var raw []byte
	for _, entry := range req.PostDataEntries {
		chunk, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			log.Debug().Err(err).Str("url", req.URL).Msg("failed to decode upload data")
			continue
		}
		raw = append(raw, chunk...)
	}

	if ct := contentType(headers); ct != nil && strings.Contains(strings.ToLower(*ct), "application/x-www-form-urlencoded") {
		if form, err := url.ParseQuery(string(raw)); err == nil {
			return &RequestBody{FormData: form}
		}
	}

	return &RequestBody{Raw: []UploadData{{Bytes: raw}}}
}

func epochMillis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}
