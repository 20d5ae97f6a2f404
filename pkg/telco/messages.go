// Telco Media Streams wire types.
//
// The telephony provider speaks JSON frames over the media WebSocket:
// connected/start/media/stop inbound, media/clear/mark outbound. Audio is
// base64 µ-law at 8kHz mono.
//
// Reference: https://www.twilio.com/docs/voice/media-streams

package telco

import (
	"encoding/base64"
	"encoding/json"
)

// Telco event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

// MediaMessage represents one Telco media stream WebSocket frame.
type MediaMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload contains stream initialization data.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the audio format of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`   // "audio/x-mulaw"
	SampleRate int    `json:"sampleRate"` // 8000
	Channels   int    `json:"channels"`   // 1
}

// MediaPayload carries base64 µ-law audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload contains stream termination data.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// MarkPayload contains mark event data.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload contains a DTMF digit.
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// decodeMediaMessage parses one frame off the media WebSocket.
func decodeMediaMessage(data []byte) (*MediaMessage, error) {
	var msg MediaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Parameters returns the start event's custom parameters in canonical
// plain form. Historically parameters were shipped as a single base64
// JSON blob under "customParams"; both forms are accepted, with the plain
// form taking precedence on key collisions.
func (s *StartPayload) Parameters() map[string]string {
	params := make(map[string]string, len(s.CustomParameters))

	if blob, ok := s.CustomParameters["customParams"]; ok {
		if raw, err := base64.StdEncoding.DecodeString(blob); err == nil {
			var legacy map[string]string
			if err := json.Unmarshal(raw, &legacy); err == nil {
				for k, v := range legacy {
					params[k] = v
				}
			}
		}
	}

	for k, v := range s.CustomParameters {
		if k == "customParams" {
			continue
		}
		params[k] = v
	}

	return params
}
