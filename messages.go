package main

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// communication ids tag every message so that unrelated traffic on a
// shared channel is ignored
var (
	contentCommunicationID    = uuid.MustParse("44cbe54d-c0d5-4712-b0b0-929ca3d72c83") // page -> recorder
	backgroundCommunicationID = uuid.MustParse("a35329d7-3f97-44c2-8aae-88213a474ffe") // recorder -> page
	externalCommunicationID   = uuid.MustParse("8401bc88-ed75-4560-ae93-6854efbfbe62") // external -> page
)

// pageMessage is the envelope exchanged with the page script
type pageMessage struct {
	CommunicationID uuid.UUID       `json:"communicationID"`
	Data            json.RawMessage `json:"data"`
	Value           json.RawMessage `json:"value,omitempty"`
}

// timingPayload wraps a timing dump the way the page script sends it
type timingPayload struct {
	TimingData *rawTimingData `json:"timingData"`
}

// pageEventKind enumerates the lifecycle signals of the page recorder
type pageEventKind int

const (
	pageEventLoad pageEventKind = iota
	pageEventBeforeUnload
	pageEventResourceTimingBufferFull
)

func (k pageEventKind) String() string {
	switch k {
	case pageEventLoad:
		return "eventLoad"
	case pageEventBeforeUnload:
		return "eventBeforeUnload"
	case pageEventResourceTimingBufferFull:
		return "eventResourceTimingBufferFull"
	}
	return "unknown"
}

// PageEvent is a decoded lifecycle signal, with the snapshot that came
// along with it (nil for load)
type PageEvent struct {
	Kind     pageEventKind
	Snapshot *TimingSnapshot
}

var (
	errForeignMessage = errors.New("not a page recorder message")
	errUnknownEvent   = errors.New("unknown page event")
)

// decodePageEvent decodes a message sent by the page script
func decodePageEvent(payload []byte) (PageEvent, error) {
	var msg pageMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return PageEvent{}, fmt.Errorf("failed to decode page message: %w", err)
	}
	if msg.CommunicationID != contentCommunicationID {
		return PageEvent{}, errForeignMessage
	}

	var name string
	if err := json.Unmarshal(msg.Data, &name); err != nil {
		return PageEvent{}, fmt.Errorf("failed to decode page event name: %w", err)
	}

	var ev PageEvent
	switch name {
	case pageEventLoad.String():
		return PageEvent{Kind: pageEventLoad}, nil
	case pageEventBeforeUnload.String():
		ev.Kind = pageEventBeforeUnload
	case pageEventResourceTimingBufferFull.String():
		ev.Kind = pageEventResourceTimingBufferFull
	default:
		return PageEvent{}, fmt.Errorf("%w: %q", errUnknownEvent, name)
	}

	snapshot, err := decodeTimingPayload(msg.Value)
	if err != nil {
		return PageEvent{}, err
	}
	ev.Snapshot = &snapshot
	return ev, nil
}

// decodeTimingReply decodes the page's answer to a timing data request
func decodeTimingReply(payload []byte) (TimingSnapshot, error) {
	var msg pageMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return TimingSnapshot{}, fmt.Errorf("failed to decode timing reply: %w", err)
	}
	if msg.CommunicationID != contentCommunicationID {
		return TimingSnapshot{}, errForeignMessage
	}
	return decodeTimingPayload(msg.Data)
}

func decodeTimingPayload(raw json.RawMessage) (TimingSnapshot, error) {
	var payload timingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return TimingSnapshot{}, fmt.Errorf("failed to decode timing data: %w", err)
	}
	if payload.TimingData == nil {
		return TimingSnapshot{}, errors.New("message carries no timing data")
	}
	return captureSnapshot(*payload.TimingData, payload.TimingData.IncludeEventTimings), nil
}

// timingRequestExpression asks the page script for its current timing
// data, synchronously
func timingRequestExpression() string {
	msg, _ := json.Marshal(pageMessage{
		CommunicationID: backgroundCommunicationID,
		Data:            json.RawMessage(`"getTimingData"`),
	})
	return fmt.Sprintf(`window.%s ? window.%s.onMessage(%s) : ""`, recorderGlobal, recorderGlobal, msg)
}

// collector socket protocol

const (
	actionGetData       = "GET_DATA"
	actionDumpData      = "DUMP_PERFORMANCE_DATA"
	actionKeepAlivePing = "KEEP_ALIVE_PING"
)

// socketMessage is the frame exchanged with the collector
type socketMessage struct {
	MessageID string          `json:"messageID"`
	Data      json.RawMessage `json:"data"`
}

// collectorRequest is the payload of a collector-initiated message
type collectorRequest struct {
	Action         string  `json:"action"`
	StorageTimeout float64 `json:"storageTimeout"`
}

type getDataReply struct {
	Action string `json:"action"`
	Data   string `json:"data"`
}

type dumpPush struct {
	Action          string `json:"action"`
	PerformanceData string `json:"performanceData"`
}

type keepAlivePing struct {
	Action string `json:"action"`
	Data   string `json:"data"`
}
