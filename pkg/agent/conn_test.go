package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgentServer accepts one WebSocket, echoes received frames onto a
// channel for assertions, and plays scripted server events.
type fakeAgentServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	received chan map[string]interface{}
	send     chan string
}

func newFakeAgentServer(t *testing.T) (*fakeAgentServer, *httptest.Server) {
	fake := &fakeAgentServer{
		t:        t,
		received: make(chan map[string]interface{}, 16),
		send:     make(chan string, 16),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fake.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		go func() {
			for raw := range fake.send {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
					return
				}
			}
			conn.Close()
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var parsed map[string]interface{}
			if err := json.Unmarshal(msg, &parsed); err == nil {
				fake.received <- parsed
			}
		}
	}))
	t.Cleanup(srv.Close)
	return fake, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recvFrame(t *testing.T, fake *fakeAgentServer) map[string]interface{} {
	t.Helper()
	select {
	case frame := <-fake.received:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("server never received frame")
		return nil
	}
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/agent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestConn_SendFrames(t *testing.T) {
	fake, srv := newFakeAgentServer(t)
	conn, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendInit(NewInitMessage(AgentOverride{FirstMessage: "Hi"}, nil)))
	frame := recvFrame(t, fake)
	assert.Equal(t, "conversation_initiation_client_data", frame["type"])

	require.NoError(t, conn.SendAudioChunk("AAA="))
	frame = recvFrame(t, fake)
	assert.Equal(t, "AAA=", frame["user_audio_chunk"])

	require.NoError(t, conn.SendPong(9))
	frame = recvFrame(t, fake)
	assert.Equal(t, "pong", frame["type"])
	assert.Equal(t, float64(9), frame["event_id"])

	require.NoError(t, conn.SendToolResult(&ToolResult{ToolCallID: "t1", Result: `{"ok":true}`}))
	frame = recvFrame(t, fake)
	assert.Equal(t, "client_tool_result", frame["type"])
	assert.Equal(t, "t1", frame["tool_call_id"])
	assert.Equal(t, false, frame["is_error"])
}

func TestConn_ReceiveTypedEvents(t *testing.T) {
	fake, srv := newFakeAgentServer(t)
	conn, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	fake.send <- `{"type":"audio","audio":{"chunk":"ZZZ="}}`
	fake.send <- `not json at all`
	fake.send <- `{"type":"interruption"}`

	event := <-conn.Events()
	assert.Equal(t, EventTypeAudio, event.Type)
	assert.Equal(t, "ZZZ=", event.AudioBase64())

	// The malformed frame is dropped, not surfaced.
	event = <-conn.Events()
	assert.Equal(t, EventTypeInterruption, event.Type)
}

func TestConn_DeliverDropsOldestWhenFull(t *testing.T) {
	c := &Conn{events: make(chan *ServerEvent, 2)}

	c.deliver(&ServerEvent{Type: EventTypeAudio})
	c.deliver(&ServerEvent{Type: EventTypePing})
	c.deliver(&ServerEvent{Type: EventTypeInterruption})

	assert.Equal(t, EventTypePing, (<-c.events).Type)
	assert.Equal(t, EventTypeInterruption, (<-c.events).Type)
	select {
	case ev := <-c.events:
		t.Fatalf("unexpected extra event %s", ev.Type)
	default:
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	_, srv := newFakeAgentServer(t)
	conn, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.True(t, conn.Closed())

	// Events channel drains and closes after teardown.
	for range conn.Events() {
	}

	assert.ErrorIs(t, conn.SendAudioChunk("AAA="), ErrConnClosed)
}
