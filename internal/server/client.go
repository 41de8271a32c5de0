package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/dkarlsen/go-chatrelay/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16384
)

// Client is one websocket connection. The identity resolved at upgrade time
// is bound for the connection's lifetime: every event is attributed to it
// regardless of what the payload claims.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		engine := c.chatServer.engine
		switch {
		case msg.Join != nil:
			engine.HandleJoin(c, &msg)
		case msg.Leave != nil:
			engine.HandleLeave(c, &msg)
		case msg.Send != nil:
			engine.RelayUserMessage(c, &msg)
		case msg.Typing != nil:
			engine.RelayTyping(c, msg.Typing.ConversationId, false)
		case msg.StopTyping != nil:
			engine.RelayTyping(c, msg.StopTyping.ConversationId, true)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

// queueMessage enqueues without blocking; a slow consumer drops messages
// rather than stalling the rest of the room.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Client) cleanup() {
	c.chatServer.DeregisterClient(c)
	c.stopClient()
}
