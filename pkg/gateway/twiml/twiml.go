// Package twiml renders the call-control XML documents returned to the
// telephony provider. Rendering goes through encoding/xml, so caller-facing
// text is escaped for all five XML special characters.
package twiml

import (
	"encoding/xml"
	"fmt"
)

const (
	// DefaultVoice is the provider TTS voice used for every spoken prompt.
	DefaultVoice    = "Polly.Joanna"
	DefaultLanguage = "en-US"
)

// Response is the root call-control document. Verbs are rendered in order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Gather collects one spoken utterance via speech recognition and POSTs the
// transcript to Action. Nested verbs play while gathering begins.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr,omitempty"`
	Action        string   `xml:"action,attr,omitempty"`
	Method        string   `xml:"method,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Timeout       int      `xml:"timeout,attr,omitempty"`
	Language      string   `xml:"language,attr,omitempty"`
	Verbs         []any
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Redirect re-enters the webhook flow at URL after the preceding verbs
// finish, typically when a Gather times out without speech.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Connect hands the call's audio to a bidirectional media stream.
type Connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  Stream
}

type Stream struct {
	XMLName    xml.Name `xml:"Stream"`
	URL        string   `xml:"url,attr"`
	Parameters []StreamParameter
}

// StreamParameter is passed through to the stream's start event as a custom
// parameter.
type StreamParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

// Render marshals the document with an XML declaration.
func Render(resp Response) (string, error) {
	body, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("render call-control document: %w", err)
	}
	return xml.Header + string(body), nil
}

// SpeakSentence is the common one-Say document helper.
func SpeakSentence(text string, thenHangup bool) Response {
	resp := Response{Verbs: []any{say(text)}}
	if thenHangup {
		resp.Verbs = append(resp.Verbs, Hangup{})
	}
	return resp
}

// GatherSpeech speaks a prompt inside a speech Gather posting to action,
// with a spoken fallback if the caller stays silent.
func GatherSpeech(prompt, action, fallback string) Response {
	resp := Response{Verbs: []any{
		Gather{
			Input:         "speech",
			Action:        action,
			Method:        "POST",
			SpeechTimeout: "auto",
			Timeout:       6,
			Language:      DefaultLanguage,
			Verbs:         []any{say(prompt)},
		},
	}}
	if fallback != "" {
		resp.Verbs = append(resp.Verbs, say(fallback))
	}
	return resp
}

// ConnectStream speaks an optional greeting and then opens the
// bidirectional audio stream to streamURL, forwarding the caller's number
// as a custom parameter.
func ConnectStream(greeting, streamURL, callerNumber string) Response {
	resp := Response{}
	if greeting != "" {
		resp.Verbs = append(resp.Verbs, say(greeting))
	}
	stream := Stream{URL: streamURL}
	if callerNumber != "" {
		stream.Parameters = append(stream.Parameters, StreamParameter{Name: "callerNumber", Value: callerNumber})
	}
	resp.Verbs = append(resp.Verbs, Connect{Stream: stream})
	return resp
}

func say(text string) Say {
	return Say{Voice: DefaultVoice, Language: DefaultLanguage, Text: text}
}
