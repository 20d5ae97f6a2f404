// Agent WebSocket protocol types.
//
// The Agent provider speaks a typed JSON protocol over a single WebSocket:
// the client sends one conversation_initiation_client_data frame, then raw
// base64 audio chunks; the server sends audio, interruptions, pings,
// transcripts and client tool calls.
//
// Reference: https://elevenlabs.io/docs/conversational-ai/api-reference

package agent

import "encoding/json"

// Server event types consumed by the bridge.
const (
	EventTypeConversationMetadata = "conversation_initiation_metadata"
	EventTypeAudio                = "audio"
	EventTypeAudioEvent           = "audio_event"
	EventTypeInterruption         = "interruption"
	EventTypePing                 = "ping"
	EventTypeAgentResponse        = "agent_response"
	EventTypeUserTranscript       = "user_transcript"
	EventTypeClientToolCall       = "client_tool_call"
)

// InitMessage is the one-shot conversation_initiation_client_data frame that
// parameterizes the agent session. It is sent exactly once per session.
type InitMessage struct {
	Type                       string            `json:"type"`
	ConversationConfigOverride ConfigOverride    `json:"conversation_config_override"`
	DynamicVariables           map[string]string `json:"dynamic_variables,omitempty"`
}

// ConfigOverride carries per-call overrides of the agent configuration.
type ConfigOverride struct {
	Agent       AgentOverride `json:"agent"`
	TTS         *TTSOverride  `json:"tts,omitempty"`
	AudioOutput AudioOutput   `json:"audio_output"`
}

// AgentOverride overrides the agent's first message and system prompt.
type AgentOverride struct {
	FirstMessage string          `json:"first_message,omitempty"`
	Prompt       *PromptOverride `json:"prompt,omitempty"`
}

// PromptOverride replaces the agent's system prompt for this session.
type PromptOverride struct {
	Prompt string `json:"prompt"`
}

// TTSOverride overrides voice settings for this session.
type TTSOverride struct {
	VoiceID string `json:"voice_id,omitempty"`
}

// AudioOutput hints the audio encoding the telephony leg expects.
type AudioOutput struct {
	Encoding   string `json:"encoding"`    // "ulaw"
	SampleRate int    `json:"sample_rate"` // 8000
}

// NewInitMessage builds an init frame with the µ-law 8kHz output hint that
// Twilio Media Streams require.
func NewInitMessage(override AgentOverride, dynamicVars map[string]string) *InitMessage {
	return &InitMessage{
		Type: "conversation_initiation_client_data",
		ConversationConfigOverride: ConfigOverride{
			Agent: override,
			AudioOutput: AudioOutput{
				Encoding:   "ulaw",
				SampleRate: 8000,
			},
		},
		DynamicVariables: dynamicVars,
	}
}

// audioChunk is the per-frame user audio message.
type audioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// pongMessage answers a server ping.
type pongMessage struct {
	Type    string `json:"type"` // "pong"
	EventID int    `json:"event_id"`
}

// ToolResult is the client_tool_result envelope returned for a tool call.
type ToolResult struct {
	Type       string `json:"type"` // "client_tool_result"
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"` // JSON-encoded string
	IsError    bool   `json:"is_error"`
}

// ServerEvent is a decoded frame from the Agent WebSocket.
//
// The provider has shipped two shapes for audio ("audio" with audio.chunk
// and "audio_event" with audio_event.audio_base_64) and two placements of
// the ping event id; accessors below normalize both.
type ServerEvent struct {
	Type string `json:"type"`

	Audio          *AudioPayload      `json:"audio,omitempty"`
	AudioEvent     *AudioEventPayload `json:"audio_event,omitempty"`
	PingEvent      *PingPayload       `json:"ping_event,omitempty"`
	EventID        *int               `json:"event_id,omitempty"`
	AgentResponse  *AgentResponse     `json:"agent_response_event,omitempty"`
	UserTranscript *UserTranscript    `json:"user_transcription_event,omitempty"`
	ClientToolCall *ToolCallRequest   `json:"client_tool_call,omitempty"`
}

// AudioPayload is the legacy audio shape.
type AudioPayload struct {
	Chunk string `json:"chunk"`
}

// AudioEventPayload is the current audio shape.
type AudioEventPayload struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int    `json:"event_id,omitempty"`
}

// PingPayload carries the ping event id to echo back.
type PingPayload struct {
	EventID int `json:"event_id"`
	PingMs  int `json:"ping_ms,omitempty"`
}

// AgentResponse is the agent's text response (observability only).
type AgentResponse struct {
	AgentResponse string `json:"agent_response"`
}

// UserTranscript is the caller's transcript (observability only).
type UserTranscript struct {
	UserTranscript string `json:"user_transcript"`
}

// ToolCallRequest is an agent-initiated tool invocation.
type ToolCallRequest struct {
	ToolName   string                 `json:"tool_name"`
	ToolCallID string                 `json:"tool_call_id"`
	Parameters map[string]interface{} `json:"parameters"`
}

// AudioBase64 returns the base64 audio payload regardless of frame shape,
// or "" if the event carries no audio.
func (e *ServerEvent) AudioBase64() string {
	if e.AudioEvent != nil && e.AudioEvent.AudioBase64 != "" {
		return e.AudioEvent.AudioBase64
	}
	if e.Audio != nil {
		return e.Audio.Chunk
	}
	return ""
}

// PingID returns the event id to echo in the pong reply.
func (e *ServerEvent) PingID() int {
	if e.PingEvent != nil {
		return e.PingEvent.EventID
	}
	if e.EventID != nil {
		return *e.EventID
	}
	return 0
}

// decodeServerEvent parses one frame off the agent WebSocket.
func decodeServerEvent(data []byte) (*ServerEvent, error) {
	var e ServerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
