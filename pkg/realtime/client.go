// Package realtime is the websocket client for the AI backend's realtime
// session protocol: one session-configuration message up front, then audio
// deltas, transcripts, and at most one structured function call back.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultBaseURL = "wss://api.openai.com/v1/realtime"

// EventKind discriminates backend events surfaced to the bridge.
type EventKind string

const (
	// EventAudioDelta carries one chunk of spoken reply audio (μ-law).
	EventAudioDelta EventKind = "audio_delta"
	// EventTranscriptDone carries a completed utterance transcript, either
	// the caller's or the assistant's.
	EventTranscriptDone EventKind = "transcript_done"
	// EventFunctionCall is the terminal intake signal: the backend decided
	// collection is complete and emitted the structured payload.
	EventFunctionCall EventKind = "function_call"
	// EventError is a backend error event. The connection stays usable.
	EventError EventKind = "error"
	// EventClosed is the last event on the channel before it closes.
	EventClosed EventKind = "closed"
)

type Event struct {
	Kind EventKind

	Audio      []byte // EventAudioDelta
	Transcript string // EventTranscriptDone
	Speaker    string // EventTranscriptDone: "caller" or "assistant"

	FunctionName string // EventFunctionCall
	FunctionArgs []byte // EventFunctionCall, raw JSON
	CallID       string // EventFunctionCall

	Code    string // EventError / EventClosed
	Message string // EventError / EventClosed
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string

	// Silence the backend waits for before treating the caller's turn as
	// done (server-side turn detection).
	TurnSilence time.Duration

	Instructions string

	// ToolName/ToolSchema declare the one function the backend may invoke.
	// Empty ToolName disables function calling.
	ToolName        string
	ToolDescription string
	ToolSchema      map[string]any

	// Dialer overrides the websocket dialer, for tests.
	Dialer *websocket.Dialer
}

// Conn is one realtime session. It is owned by exactly one call.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	events    chan Event
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens the session and sends the session-configuration message. A
// failure here is fatal to the call: the caller is expected to apologize
// and hang up, never to retry mid-call.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("realtime: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("realtime: model is required")
	}

	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = defaultBaseURL
	}
	wsURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse base url: %w", err)
	}
	query := wsURL.Query()
	query.Set("model", cfg.Model)
	wsURL.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}

	c := &Conn{
		ws:     ws,
		events: make(chan Event, 256),
		closed: make(chan struct{}),
	}
	if err := c.configureSession(cfg); err != nil {
		_ = ws.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Conn) configureSession(cfg Config) error {
	silenceMS := int(cfg.TurnSilence / time.Millisecond)
	if silenceMS <= 0 {
		silenceMS = 700
	}

	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"input_audio_format":  "g711_ulaw",
		"output_audio_format": "g711_ulaw",
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"silence_duration_ms": silenceMS,
		},
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
	}
	if cfg.Voice != "" {
		session["voice"] = cfg.Voice
	}
	if cfg.Instructions != "" {
		session["instructions"] = cfg.Instructions
	}
	if cfg.ToolName != "" {
		session["tools"] = []map[string]any{{
			"type":        "function",
			"name":        cfg.ToolName,
			"description": cfg.ToolDescription,
			"parameters":  cfg.ToolSchema,
		}}
		session["tool_choice"] = "auto"
	}

	return c.writeJSON(map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

// SendAudio forwards one frame of caller audio to the backend's input
// buffer. Frames must be sent in receipt order; the bridge's telephone-side
// loop is the only caller.
func (c *Conn) SendAudio(audio []byte) error {
	return c.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

// CompleteFunctionCall reports the function call's outcome back to the
// backend and asks it to speak a closing confirmation.
func (c *Conn) CompleteFunctionCall(callID string, output any) error {
	encoded, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("realtime: encode function output: %w", err)
	}
	if err := c.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  string(encoded),
		},
	}); err != nil {
		return err
	}
	return c.writeJSON(map[string]any{"type": "response.create"})
}

// Events is the backend's event stream, in emission order. The channel is
// closed after EventClosed.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Close tears the session down. Safe to call more than once; only the
// first call closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: encode message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				c.emit(Event{Kind: EventClosed, Code: "closed", Message: "session closed"})
			default:
				c.emit(Event{Kind: EventClosed, Code: "read_error", Message: err.Error()})
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Not ours to crash on; skip the frame.
			continue
		}

		switch ev.Type {
		case "response.audio.delta":
			audio, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil || len(audio) == 0 {
				continue
			}
			c.emit(Event{Kind: EventAudioDelta, Audio: audio})

		case "conversation.item.input_audio_transcription.completed":
			c.emit(Event{Kind: EventTranscriptDone, Transcript: ev.Transcript, Speaker: "caller"})

		case "response.audio_transcript.done":
			c.emit(Event{Kind: EventTranscriptDone, Transcript: ev.Transcript, Speaker: "assistant"})

		case "response.function_call_arguments.done":
			c.emit(Event{
				Kind:         EventFunctionCall,
				FunctionName: ev.Name,
				FunctionArgs: []byte(ev.Arguments),
				CallID:       ev.CallID,
			})

		case "error":
			event := Event{Kind: EventError}
			if ev.Error != nil {
				event.Code = ev.Error.Code
				event.Message = ev.Error.Message
			}
			c.emit(event)

		default:
			// Session acks, rate-limit notices, item lifecycle events and
			// future event kinds are ignored.
		}
	}
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}
