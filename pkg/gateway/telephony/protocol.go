// Package telephony implements the provider's media-stream wire protocol:
// JSON text frames over a websocket, carrying base64 8kHz G.711 μ-law audio.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

// DecodeError describes a malformed inbound stream frame. The bridge drops
// such frames and logs them without ending the call.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badFrame(message string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message}
}

// Message is one decoded inbound stream event. Exactly the fields for the
// event kind are populated.
type Message struct {
	Event     string
	StreamSid string

	// start
	CallSid      string
	CallerNumber string
	AccountSid   string

	// media
	Track   string
	Payload []byte // decoded μ-law bytes

	// mark
	MarkName string
}

type wireMessage struct {
	Event          string     `json:"event"`
	SequenceNumber string     `json:"sequenceNumber,omitempty"`
	StreamSid      string     `json:"streamSid,omitempty"`
	Start          *wireStart `json:"start,omitempty"`
	Media          *wireMedia `json:"media,omitempty"`
	Mark           *wireMark  `json:"mark,omitempty"`
	Stop           *wireStop  `json:"stop,omitempty"`
}

type wireStart struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      map[string]any    `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type wireMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type wireMark struct {
	Name string `json:"name"`
}

type wireStop struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// Decode parses one inbound text frame.
func Decode(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, badFrame("frame is not valid JSON")
	}

	msg := Message{Event: wire.Event, StreamSid: wire.StreamSid}
	switch wire.Event {
	case EventConnected:
		return msg, nil

	case EventStart:
		if wire.Start == nil {
			return Message{}, badFrame("start event missing start body")
		}
		msg.StreamSid = wire.Start.StreamSid
		msg.CallSid = strings.TrimSpace(wire.Start.CallSid)
		msg.AccountSid = wire.Start.AccountSid
		msg.CallerNumber = strings.TrimSpace(wire.Start.CustomParameters["callerNumber"])
		if msg.CallSid == "" {
			return Message{}, badFrame("start event missing callSid")
		}
		return msg, nil

	case EventMedia:
		if wire.Media == nil {
			return Message{}, badFrame("media event missing media body")
		}
		payload, err := base64.StdEncoding.DecodeString(wire.Media.Payload)
		if err != nil {
			return Message{}, badFrame("media payload is not valid base64")
		}
		msg.Track = wire.Media.Track
		msg.Payload = payload
		return msg, nil

	case EventStop:
		if wire.Stop != nil {
			msg.CallSid = wire.Stop.CallSid
		}
		return msg, nil

	case EventMark:
		if wire.Mark != nil {
			msg.MarkName = wire.Mark.Name
		}
		return msg, nil

	case "":
		return Message{}, badFrame("frame missing event kind")

	default:
		// Unknown event kinds are tolerated and ignored by the bridge.
		return msg, nil
	}
}

// EncodeMedia builds an outbound media frame carrying μ-law audio back to
// the caller's stream.
func EncodeMedia(streamSid string, audio []byte) ([]byte, error) {
	return json.Marshal(wireMessage{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &wireMedia{Payload: base64.StdEncoding.EncodeToString(audio)},
	})
}

// EncodeClear builds the frame that tells the provider to drop any audio it
// has buffered but not yet played.
func EncodeClear(streamSid string) ([]byte, error) {
	return json.Marshal(wireMessage{Event: EventClear, StreamSid: streamSid})
}

// EncodeMark builds a playback checkpoint frame.
func EncodeMark(streamSid, name string) ([]byte, error) {
	return json.Marshal(wireMessage{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &wireMark{Name: name},
	})
}
