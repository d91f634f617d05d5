package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

func (c *client) readPump() {
	defer c.hub.wg.Done()
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("realtime connection closed", "user_id", c.userID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.hub.reply(c, EventError, ErrorMessage{Message: "Malformed frame"})
			continue
		}
		c.handle(f)
	}
}

func (c *client) handle(f Frame) {
	switch f.Event {
	case EventJoin:
		userID, ok := roomArg(f.Data)
		if !ok {
			c.hub.reply(c, EventError, ErrorMessage{Message: "Invalid userId"})
			return
		}
		if c.userID != "" && c.userID != userID {
			c.hub.reply(c, EventError, ErrorMessage{Message: "Forbidden"})
			return
		}
		size, err := c.hub.join(c, userID)
		if err != nil {
			c.hub.reply(c, EventError, ErrorMessage{Message: "Failed to join room"})
			return
		}
		c.hub.logger.Debug("joined room", "user_id", userID, "clients_in_room", size)
		c.hub.reply(c, EventJoined, JoinedAck{UserID: userID, Room: userID, ClientsInRoom: size})
	case EventLeave:
		if userID, ok := roomArg(f.Data); ok {
			c.hub.leave(c, userID)
		}
	case EventPing:
		c.hub.reply(c, EventPong, nil)
	default:
		c.hub.reply(c, EventError, ErrorMessage{Message: "Unknown event"})
	}
}

func roomArg(data json.RawMessage) (string, bool) {
	var userID string
	if err := json.Unmarshal(data, &userID); err != nil {
		return "", false
	}
	userID = strings.TrimSpace(userID)
	return userID, userID != ""
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
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
