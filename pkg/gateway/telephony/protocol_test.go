package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode_Start(t *testing.T) {
	frame := `{
		"event": "start",
		"sequenceNumber": "1",
		"start": {
			"streamSid": "MZ1",
			"accountSid": "AC1",
			"callSid": "CA1",
			"tracks": ["inbound"],
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
			"customParameters": {"callerNumber": "+15551234"}
		}
	}`
	msg, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if msg.Event != EventStart {
		t.Fatalf("event=%q, want %q", msg.Event, EventStart)
	}
	if msg.CallSid != "CA1" || msg.StreamSid != "MZ1" {
		t.Fatalf("callSid=%q streamSid=%q", msg.CallSid, msg.StreamSid)
	}
	if msg.CallerNumber != "+15551234" {
		t.Fatalf("callerNumber=%q, want +15551234", msg.CallerNumber)
	}
}

func TestDecode_StartWithoutCallSidIsRejected(t *testing.T) {
	frame := `{"event": "start", "start": {"streamSid": "MZ1"}}`
	_, err := Decode([]byte(frame))
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err=%v, want DecodeError", err)
	}
}

func TestDecode_MediaRoundTrip(t *testing.T) {
	audio := []byte{0x7f, 0x00, 0xff, 0x55}
	frame, err := EncodeMedia("MZ1", audio)
	if err != nil {
		t.Fatalf("EncodeMedia error: %v", err)
	}

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if msg.Event != EventMedia {
		t.Fatalf("event=%q, want %q", msg.Event, EventMedia)
	}
	if string(msg.Payload) != string(audio) {
		t.Fatalf("payload=%v, want %v", msg.Payload, audio)
	}
}

func TestDecode_MediaWithBadBase64(t *testing.T) {
	frame := `{"event": "media", "media": {"payload": "not-base64!!!"}}`
	_, err := Decode([]byte(frame))
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err=%v, want DecodeError", err)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte("{nope"))
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err=%v, want DecodeError", err)
	}
}

func TestDecode_UnknownEventIsTolerated(t *testing.T) {
	msg, err := Decode([]byte(`{"event": "dtmf", "streamSid": "MZ1"}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if msg.Event != "dtmf" {
		t.Fatalf("event=%q, want dtmf", msg.Event)
	}
}

func TestEncodeClearAndMark(t *testing.T) {
	frame, err := EncodeClear("MZ1")
	if err != nil {
		t.Fatalf("EncodeClear error: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(frame, &wire); err != nil {
		t.Fatalf("clear frame not JSON: %v", err)
	}
	if wire["event"] != "clear" || wire["streamSid"] != "MZ1" {
		t.Fatalf("clear frame=%v", wire)
	}

	frame, err = EncodeMark("MZ1", "greeting-done")
	if err != nil {
		t.Fatalf("EncodeMark error: %v", err)
	}
	if err := json.Unmarshal(frame, &wire); err != nil {
		t.Fatalf("mark frame not JSON: %v", err)
	}
	mark, _ := wire["mark"].(map[string]any)
	if mark["name"] != "greeting-done" {
		t.Fatalf("mark frame=%v", wire)
	}
}

func TestDecode_PayloadMatchesEncoding(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("audio"))
	frame := []byte(`{"event":"media","media":{"payload":"` + payload + `"}}`)
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if string(msg.Payload) != "audio" {
		t.Fatalf("payload=%q", msg.Payload)
	}
}
