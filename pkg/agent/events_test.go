package agent

import (
	"encoding/json"
	"testing"
)

func TestDecodeServerEvent_AudioShapes(t *testing.T) {
	// Legacy shape: audio.chunk
	e, err := decodeServerEvent([]byte(`{"type":"audio","audio":{"chunk":"ZZZ="}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if e.AudioBase64() != "ZZZ=" {
		t.Errorf("expected ZZZ=, got %q", e.AudioBase64())
	}

	// Current shape: audio_event.audio_base_64
	e, err = decodeServerEvent([]byte(`{"type":"audio_event","audio_event":{"audio_base_64":"QQ==","event_id":7}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if e.AudioBase64() != "QQ==" {
		t.Errorf("expected QQ==, got %q", e.AudioBase64())
	}
}

func TestDecodeServerEvent_PingIDPlacements(t *testing.T) {
	e, err := decodeServerEvent([]byte(`{"type":"ping","ping_event":{"event_id":42}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if e.PingID() != 42 {
		t.Errorf("expected ping id 42, got %d", e.PingID())
	}

	e, err = decodeServerEvent([]byte(`{"type":"ping","event_id":13}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if e.PingID() != 13 {
		t.Errorf("expected ping id 13, got %d", e.PingID())
	}
}

func TestDecodeServerEvent_ToolCall(t *testing.T) {
	raw := `{"type":"client_tool_call","client_tool_call":{"tool_name":"get_available_slots","tool_call_id":"t1","parameters":{"eventTypeId":"2171540","start":"2025-02-01"}}}`
	e, err := decodeServerEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if e.ClientToolCall == nil {
		t.Fatal("expected client_tool_call payload")
	}
	if e.ClientToolCall.ToolName != "get_available_slots" || e.ClientToolCall.ToolCallID != "t1" {
		t.Errorf("unexpected tool call: %+v", e.ClientToolCall)
	}
	if e.ClientToolCall.Parameters["eventTypeId"] != "2171540" {
		t.Errorf("unexpected parameters: %v", e.ClientToolCall.Parameters)
	}
}

func TestDecodeServerEvent_Malformed(t *testing.T) {
	if _, err := decodeServerEvent([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestNewInitMessage_Shape(t *testing.T) {
	msg := NewInitMessage(AgentOverride{
		FirstMessage: "Hello John!",
		Prompt:       &PromptOverride{Prompt: "You are a receptionist."},
	}, map[string]string{"CUSTOMER_NAME": "John"})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if parsed["type"] != "conversation_initiation_client_data" {
		t.Errorf("unexpected type: %v", parsed["type"])
	}

	override := parsed["conversation_config_override"].(map[string]interface{})
	audioOut := override["audio_output"].(map[string]interface{})
	if audioOut["encoding"] != "ulaw" || audioOut["sample_rate"] != float64(8000) {
		t.Errorf("unexpected audio_output: %v", audioOut)
	}

	vars := parsed["dynamic_variables"].(map[string]interface{})
	if vars["CUSTOMER_NAME"] != "John" {
		t.Errorf("unexpected dynamic_variables: %v", vars)
	}
}
