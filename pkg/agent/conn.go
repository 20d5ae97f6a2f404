// Agent WebSocket connection.
//
// Conn owns one WebSocket to the conversational agent provider. A read loop
// decodes typed server events onto a channel; writes are mutex-synchronized
// (gorilla/websocket requires it). A fresh Conn is dialed per call.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// ConnectTimeout bounds the WebSocket dial and handshake.
	ConnectTimeout = 3 * time.Second

	eventChanSize = 100
)

// ErrAgentUnavailable reports that the agent WebSocket could not be opened.
var ErrAgentUnavailable = errors.New("agent unavailable")

// ErrConnClosed reports a write on a closed connection.
var ErrConnClosed = errors.New("agent connection closed")

// Conn is a live WebSocket session with the agent provider.
type Conn struct {
	conn   *websocket.Conn
	events chan *ServerEvent

	writeMu sync.Mutex
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// Dial opens an agent WebSocket using a signed URL. It fails with
// ErrAgentUnavailable if the connection cannot be established within
// ConnectTimeout.
func Dial(ctx context.Context, signedURL string) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	wsConn, _, err := dialer.DialContext(dialCtx, signedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}

	c := &Conn{
		conn:   wsConn,
		events: make(chan *ServerEvent, eventChanSize),
	}

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

// Events returns the channel of decoded server events. The channel is
// closed when the peer closes or the connection is torn down.
func (c *Conn) Events() <-chan *ServerEvent {
	return c.events
}

// readLoop reads frames until the socket dies. Unparseable frames are
// logged and dropped; they never tear down the session.
func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[AgentConn] Read error: %v", err)
			}
			return
		}

		event, err := decodeServerEvent(message)
		if err != nil {
			log.Printf("[AgentConn] Failed to parse event: %v", err)
			continue
		}

		c.deliver(event)
	}
}

// deliver queues a decoded event. When the channel is full the oldest
// queued event is dropped so the consumer keeps seeing recent traffic,
// matching how the session buffers audio.
func (c *Conn) deliver(event *ServerEvent) {
	select {
	case c.events <- event:
		return
	default:
	}

	select {
	case dropped := <-c.events:
		log.Printf("[AgentConn] Event channel full, dropped oldest %s", dropped.Type)
	default:
	}
	select {
	case c.events <- event:
	default:
	}
}

// SendInit sends the conversation initiation frame.
func (c *Conn) SendInit(msg *InitMessage) error {
	return c.writeJSON(msg)
}

// SendAudioChunk forwards one base64 µ-law chunk of caller audio.
func (c *Conn) SendAudioChunk(b64 string) error {
	return c.writeJSON(&audioChunk{UserAudioChunk: b64})
}

// SendPong answers a server ping.
func (c *Conn) SendPong(eventID int) error {
	return c.writeJSON(&pongMessage{Type: "pong", EventID: eventID})
}

// SendToolResult returns a tool result envelope to the agent.
func (c *Conn) SendToolResult(res *ToolResult) error {
	res.Type = "client_tool_result"
	return c.writeJSON(res)
}

func (c *Conn) writeJSON(v interface{}) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("agent write: %w", err)
	}
	return nil
}

// Close tears the connection down exactly once and waits for the read
// loop to exit.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	// Best-effort close frame, then hard close to unblock the reader.
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// Closed reports whether Close has been called or the peer has gone away.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
