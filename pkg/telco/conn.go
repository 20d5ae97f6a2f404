// Telco WebSocket connection.
//
// Conn wraps one accepted media stream WebSocket. Reads are pulled by the
// session's read loop; writes are mutex-synchronized and safe from any
// goroutine. The socket is closed exactly once.

package telco

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live Telco media stream connection.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConn wraps an upgraded WebSocket.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadEvent blocks for the next well-formed frame. Unparseable frames are
// logged and skipped; they never tear down the stream.
func (c *Conn) ReadEvent() (*MediaMessage, error) {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}

		msg, err := decodeMediaMessage(message)
		if err != nil {
			log.Printf("[TelcoConn] Failed to parse frame: %v", err)
			continue
		}
		return msg, nil
	}
}

// SendMedia forwards one base64 µ-law chunk to the caller.
func (c *Conn) SendMedia(streamSid, payload string) error {
	return c.writeJSON(&MediaMessage{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: payload},
	})
}

// SendClear tells the Telco to discard any buffered outbound audio.
func (c *Conn) SendClear(streamSid string) error {
	return c.writeJSON(&MediaMessage{
		Event:     EventClear,
		StreamSid: streamSid,
	})
}

// SendMark requests a mark callback once queued audio has played out.
func (c *Conn) SendMark(streamSid, name string) error {
	return c.writeJSON(&MediaMessage{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: name},
	})
}

func (c *Conn) writeJSON(msg *MediaMessage) error {
	if c.closed.Load() {
		return fmt.Errorf("telco connection closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Close closes the socket with a normal closure frame, exactly once.
func (c *Conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure)
}

// CloseWithInternalError closes the socket with status 1011, used when the
// agent leg could not be established.
func (c *Conn) CloseWithInternalError() error {
	return c.closeWith(websocket.CloseInternalServerErr)
}

func (c *Conn) closeWith(code int) error {
	if c.closed.Swap(true) {
		return nil
	}

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.ws.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
