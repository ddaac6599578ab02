package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	collectorHost     = "127.0.0.1"
	reconnectDelay    = time.Second
	keepAliveInterval = 10 * time.Second
	writeTimeout      = 10 * time.Second
	maxOutbox         = 1024
)

// collectorClient keeps one websocket connection to the collector. Frames
// sent while no connection is open are queued and written once the next
// connection opens.
type collectorClient struct {
	agg   *Aggregator
	stats *stats

	dialer            *websocket.Dialer
	reconnectDelay    time.Duration
	keepAliveInterval time.Duration

	mu      sync.Mutex
	params  *connectParams
	conn    *socket
	gen     uint64 // bumped by Connect, a reconnect only proceeds for its own generation
	dialing bool   // a dial is running or scheduled
	outbox  [][]byte
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// socket is one open collector connection
type socket struct {
	conn *websocket.Conn
	gen  uint64
	wmu  sync.Mutex
}

func (s *socket) write(frame []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func newCollectorClient(ctx context.Context, agg *Aggregator, st *stats) *collectorClient {
	if st == nil {
		st = newStats()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &collectorClient{
		agg:               agg,
		stats:             st,
		dialer:            &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		reconnectDelay:    reconnectDelay,
		keepAliveInterval: keepAliveInterval,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// endpoint returns the collector URL for params
func endpoint(params connectParams) string {
	return fmt.Sprintf("ws://%s/xlt/%s", net.JoinHostPort(collectorHost, params.Port), params.ClientID)
}

// Connect (re)connects to the collector described by params. An open
// connection is replaced.
func (c *collectorClient) Connect(params connectParams) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	startKeepAlive := c.params == nil
	c.params = &params
	c.gen++
	gen := c.gen
	old := c.conn
	c.conn = nil
	c.dialing = true
	c.mu.Unlock()

	if old != nil {
		old.conn.Close()
	}

	if startKeepAlive {
		c.wg.Add(1)
		go c.keepAlive()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dial(gen)
	}()
}

// Send writes data to the collector under messageID. Without an open
// connection the frame is queued and a connection is started.
func (c *collectorClient) Send(data any, messageID string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	frame, err := json.Marshal(socketMessage{MessageID: messageID, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	c.mu.Lock()
	s := c.conn
	c.mu.Unlock()

	if s != nil {
		err := s.write(frame)
		if err == nil {
			atomic.AddInt64(&c.stats.FramesSent, 1)
			return nil
		}
		log.Warn().Err(err).Msg("failed to send message, queueing it")
		// the read loop notices the broken socket and reconnects
		s.conn.Close()
	}

	c.enqueue(frame)
	return nil
}

// DumpRecords pushes flushed records to the collector
func (c *collectorClient) DumpRecords(records []PerformanceRecord) {
	data, err := json.Marshal(records)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode performance data")
		return
	}

	msg := dumpPush{Action: actionDumpData, PerformanceData: string(data)}
	if err := c.Send(msg, uuid.NewString()); err != nil {
		log.Error().Err(err).Msg("failed to push performance data")
	}
}

// Close drops the connection for good and waits for the client's
// goroutines. Queued frames are discarded.
func (c *collectorClient) Close() {
	c.mu.Lock()
	c.closed = true
	s := c.conn
	c.conn = nil
	if n := len(c.outbox); n > 0 {
		log.Warn().Int("frames", n).Msg("discarding unsent collector messages")
	}
	c.outbox = nil
	c.mu.Unlock()

	c.cancel()
	if s != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.conn.Close()
	}
	c.wg.Wait()
}

// connected reports whether a connection is open
func (c *collectorClient) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *collectorClient) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if len(c.outbox) >= maxOutbox {
		c.outbox = c.outbox[1:]
		atomic.AddInt64(&c.stats.FramesDropped, 1)
		log.Warn().Int("limit", maxOutbox).Msg("collector outbox full, dropping oldest message")
	}
	c.outbox = append(c.outbox, frame)
	atomic.AddInt64(&c.stats.FramesQueued, 1)

	c.startDialLocked()
}

// startDialLocked starts a dial unless one is running or a connection is
// open. Must hold mu.
func (c *collectorClient) startDialLocked() {
	if c.conn != nil || c.dialing || c.closed {
		return
	}
	if c.params == nil {
		log.Warn().Msg("could not open websocket due to missing configuration")
		return
	}

	c.dialing = true
	gen := c.gen
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dial(gen)
	}()
}

// dial opens a connection for generation gen and flushes the outbox
func (c *collectorClient) dial(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.params == nil {
		c.mu.Unlock()
		return
	}
	url := endpoint(*c.params)
	c.mu.Unlock()

	atomic.AddInt64(&c.stats.Dials, 1)
	conn, _, err := c.dialer.DialContext(c.ctx, url, nil)
	if err != nil {
		atomic.AddInt64(&c.stats.DialErrors, 1)
		log.Warn().Err(err).Str("url", url).Msg("failed to connect to collector")
		c.scheduleReconnect(gen)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	s := &socket{conn: conn, gen: gen}
	c.conn = s
	c.dialing = false
	outbox := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	log.Info().Str("url", url).Int("queued", len(outbox)).Msg("connected to collector")

	c.wg.Add(1)
	go c.readLoop(s)

	for i, frame := range outbox {
		if err := s.write(frame); err != nil {
			log.Warn().Err(err).Msg("failed to flush queued messages")
			c.requeue(outbox[i:])
			s.conn.Close()
			return
		}
		atomic.AddInt64(&c.stats.FramesSent, 1)
	}
}

// requeue puts frames back in front of the outbox
func (c *collectorClient) requeue(frames [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.outbox = append(append([][]byte(nil), frames...), c.outbox...)
}

// scheduleReconnect dials again after the reconnect delay, provided no
// newer connection was started and none is open by then
func (c *collectorClient) scheduleReconnect(gen uint64) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}

		c.mu.Lock()
		proceed := !c.closed && gen == c.gen && c.conn == nil
		c.mu.Unlock()

		if proceed {
			c.dial(gen)
		}
	}()
}

// readLoop handles collector requests until the socket closes, then
// schedules a reconnect unless the socket was replaced
func (c *collectorClient) readLoop(s *socket) {
	defer c.wg.Done()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("collector connection closed")
			}
			break
		}
		c.handleFrame(data)
	}
	s.conn.Close()

	c.mu.Lock()
	current := c.conn == s
	if current {
		c.conn = nil
	}
	reconnect := current && !c.closed && s.gen == c.gen
	if reconnect {
		c.dialing = true
	}
	c.mu.Unlock()

	if reconnect {
		log.Info().Dur("delay", c.reconnectDelay).Msg("collector connection lost, reconnecting")
		c.scheduleReconnect(s.gen)
	}
}

// handleFrame dispatches a collector message. Only data requests are
// understood; everything else is ignored.
func (c *collectorClient) handleFrame(data []byte) {
	var msg socketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Msg("failed to decode collector message")
		return
	}

	var req collectorRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Warn().Err(err).Msg("failed to decode collector request")
		return
	}

	if req.Action != actionGetData {
		log.Debug().Str("action", req.Action).Msg("ignoring collector message")
		return
	}

	timeout := time.Duration(req.StorageTimeout * float64(time.Millisecond))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.answerDataRequest(msg.MessageID, timeout)
	}()
}

// answerDataRequest collects, replies under the request's message id and
// then drops all collected state
func (c *collectorClient) answerDataRequest(messageID string, timeout time.Duration) {
	log.Debug().Str("messageID", messageID).Dur("timeout", timeout).Msg("collecting performance data")

	records := c.agg.Collect(c.ctx, timeout)
	filtered := filterRecordEntries(records, c.agg.Settings().RecordIncompleted)

	data, err := json.Marshal(filtered)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode performance data")
		data = []byte("[]")
	}

	if err := c.Send(getDataReply{Action: actionGetData, Data: string(data)}, messageID); err != nil {
		log.Error().Err(err).Msg("failed to answer data request")
	}

	c.agg.Reset()
}

// keepAlive pings the collector while connection parameters are known
func (c *collectorClient) keepAlive() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		s := c.conn
		if s == nil {
			c.startDialLocked()
		}
		c.mu.Unlock()

		if s == nil {
			continue
		}

		log.Debug().Msg("sending keep-alive message")
		if err := c.Send(keepAlivePing{Action: actionKeepAlivePing, Data: "[]"}, uuid.NewString()); err != nil {
			log.Warn().Err(err).Msg("failed to send keep-alive message")
		}
	}
}
