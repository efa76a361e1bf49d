package eventbus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single websocket peer subscribed to the event stream.
// Trimmed from the teacher's gateway.Client: no per-client subscription
// filtering, no SUBSCRIBE/UNSUBSCRIBE message handling — there is exactly
// one stream, and every connected operator client receives it in full.
type Client struct {
	bus  *Bus
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger
}

// Serve upgrades the connection's lifetime: registers the client, sends
// the last known event (if any) as an initial snapshot, then runs the
// read/write pumps until the connection closes.
func (b *Bus) Serve(conn *websocket.Conn) {
	c := &Client{bus: b, conn: conn, send: make(chan []byte, 32), log: b.log}
	b.addClient(c)
	b.log.Info("eventbus: client connected", "total", b.clientCount())

	if evt, ok := b.Latest(); ok {
		if envelope, err := json.Marshal(envelopeOf(evt, 0)); err == nil {
			select {
			case c.send <- envelope:
			default:
			}
		}
	}

	go c.writePump()
	c.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.bus.removeClient(c)
		c.conn.Close()
		c.log.Info("eventbus: client disconnected", "total", c.bus.clientCount())
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// The stream is one-directional; any inbound message (other than a
		// pong/close control frame) is simply discarded.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
