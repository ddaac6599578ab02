package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectorServer accepts collector connections and hands them to the test
type collectorServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	paths chan string
}

func newCollectorServer(t *testing.T) *collectorServer {
	t.Helper()

	cs := &collectorServer{
		conns: make(chan *websocket.Conn, 8),
		paths: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.paths <- r.URL.Path
		cs.conns <- conn
	}))
	t.Cleanup(cs.srv.Close)

	return cs
}

func (cs *collectorServer) params(t *testing.T, clientID string) connectParams {
	t.Helper()
	u, err := url.Parse(cs.srv.URL)
	require.NoError(t, err)
	return connectParams{Port: u.Port(), ClientID: clientID}
}

func (cs *collectorServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-cs.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("collector was not dialed")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) socketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg socketMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8080/xlt/abc", endpoint(connectParams{Port: "8080", ClientID: "abc"}))
}

func TestCollectorClient_AnswersDataRequest(t *testing.T) {
	cs := newCollectorServer(t)

	agg := newAggregator(nil)
	pageURL := "https://example.com/"
	agg.HandleRequestEvent(requestEvent(eventBeforeRequest, "tab", "1", pageURL, 1000))
	agg.HandleRequestEvent(completedEvent("tab", "1", pageURL, 1100))

	client := newCollectorClient(context.Background(), agg, nil)
	defer client.Close()

	client.Connect(cs.params(t, "client-1"))
	conn := cs.accept(t)
	assert.Equal(t, "/xlt/client-1", <-cs.paths)

	request := `{"messageID":"msg-1","data":{"action":"GET_DATA","storageTimeout":500}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(request)))

	msg := readFrame(t, conn)
	assert.Equal(t, "msg-1", msg.MessageID)

	var reply getDataReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	assert.Equal(t, actionGetData, reply.Action)

	var records []PerformanceRecord
	require.NoError(t, json.Unmarshal([]byte(reply.Data), &records))
	require.Len(t, records, 1)
	require.Len(t, records[0].Requests, 1)
	assert.Equal(t, pageURL, records[0].Requests[0].URL)

	// answering drops the collected state
	require.Eventually(t, func() bool {
		return len(agg.tabIDs()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCollectorClient_IgnoresOtherActions(t *testing.T) {
	cs := newCollectorServer(t)

	agg := newAggregator(nil)
	agg.HandleRequestEvent(requestEvent(eventBeforeRequest, "tab", "1", "https://example.com/", 1000))

	client := newCollectorClient(context.Background(), agg, nil)
	defer client.Close()

	client.Connect(cs.params(t, "client-1"))
	conn := cs.accept(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messageID":"m","data":{"action":"SOMETHING"}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	// nothing is answered and nothing is dropped
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Len(t, agg.tabIDs(), 1)
}

func TestCollectorClient_FlushesQueuedFramesOnConnect(t *testing.T) {
	cs := newCollectorServer(t)
	st := newStats()

	client := newCollectorClient(context.Background(), newAggregator(nil), st)
	defer client.Close()

	require.NoError(t, client.Send(map[string]string{"action": "HELLO"}, "queued-1"))
	assert.False(t, client.connected())
	assert.Equal(t, int64(1), atomic.LoadInt64(&st.FramesQueued))

	client.Connect(cs.params(t, "client-1"))
	conn := cs.accept(t)

	msg := readFrame(t, conn)
	assert.Equal(t, "queued-1", msg.MessageID)
	assert.JSONEq(t, `{"action":"HELLO"}`, string(msg.Data))
}

func TestCollectorClient_DumpRecords(t *testing.T) {
	cs := newCollectorServer(t)

	client := newCollectorClient(context.Background(), newAggregator(nil), nil)
	defer client.Close()

	client.Connect(cs.params(t, "client-1"))
	conn := cs.accept(t)
	require.Eventually(t, client.connected, 2*time.Second, 10*time.Millisecond)

	client.DumpRecords([]PerformanceRecord{{
		Requests: []RequestSummary{{URL: "https://example.com/", RequestID: "1", Finished: true}},
	}})

	msg := readFrame(t, conn)
	_, err := uuid.Parse(msg.MessageID)
	assert.NoError(t, err)

	var push dumpPush
	require.NoError(t, json.Unmarshal(msg.Data, &push))
	assert.Equal(t, actionDumpData, push.Action)

	var records []PerformanceRecord
	require.NoError(t, json.Unmarshal([]byte(push.PerformanceData), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].Requests[0].RequestID)
}

func TestCollectorClient_ReconnectsAfterConnectionLoss(t *testing.T) {
	cs := newCollectorServer(t)
	st := newStats()

	client := newCollectorClient(context.Background(), newAggregator(nil), st)
	client.reconnectDelay = 20 * time.Millisecond
	defer client.Close()

	client.Connect(cs.params(t, "client-1"))
	first := cs.accept(t)
	require.NoError(t, first.Close())

	second := cs.accept(t)
	require.Eventually(t, client.connected, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&st.Dials), int64(2))

	require.NoError(t, client.Send(map[string]string{"action": "AFTER"}, "m-2"))
	assert.Equal(t, "m-2", readFrame(t, second).MessageID)
}

func TestCollectorClient_ConnectReplacesConnection(t *testing.T) {
	cs := newCollectorServer(t)

	client := newCollectorClient(context.Background(), newAggregator(nil), nil)
	defer client.Close()

	client.Connect(cs.params(t, "client-1"))
	first := cs.accept(t)
	assert.Equal(t, "/xlt/client-1", <-cs.paths)

	client.Connect(cs.params(t, "client-2"))
	cs.accept(t)
	assert.Equal(t, "/xlt/client-2", <-cs.paths)

	// the replaced connection is closed and not dialed again
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	select {
	case <-cs.conns:
		t.Fatal("unexpected reconnect")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCollectorClient_OutboxIsBounded(t *testing.T) {
	st := newStats()
	client := newCollectorClient(context.Background(), newAggregator(nil), st)
	defer client.Close()

	for i := 0; i < maxOutbox+5; i++ {
		client.enqueue([]byte{byte(i)})
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.outbox, maxOutbox)
	assert.Equal(t, []byte{5}, client.outbox[0])
	assert.Equal(t, int64(5), atomic.LoadInt64(&st.FramesDropped))
}

func TestCollectorClient_ClosedClientDropsFrames(t *testing.T) {
	client := newCollectorClient(context.Background(), newAggregator(nil), nil)
	client.Close()

	require.NoError(t, client.Send(map[string]string{"action": "LATE"}, "late"))
	client.Connect(connectParams{Port: "1", ClientID: "c"})

	assert.False(t, client.connected())
	assert.Empty(t, client.outbox)
}
