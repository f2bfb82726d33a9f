package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridianbenefits/claimbatch/logger"
)

const clientSendBuffer = 64

// client is one WebSocket monitor connection
type client struct {
	monitor   *Monitor
	conn      *websocket.Conn
	send      chan interface{}
	closeOnce sync.Once
}

func newClient(m *Monitor, conn *websocket.Conn) *client {
	return &client{
		monitor: m,
		conn:    conn,
		send:    make(chan interface{}, clientSendBuffer),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// readPump drains and discards client frames. The monitor accepts no
// commands; reading is only needed to process pongs and detect disconnects.
func (c *client) readPump() {
	defer func() {
		c.monitor.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugw("Monitor client read error", "error", err)
			}
			return
		}
	}
}

// writePump serializes outbound messages and keeps the connection alive with
// pings
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Debugw("Monitor client write error", "error", err)
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
