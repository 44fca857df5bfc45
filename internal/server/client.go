package server

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/pawchat/internal/logging"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	// frames up to maxMessageSize are decoded; larger ones are drained and
	// answered with an error, and only frames over maxFrameSize end the session.
	maxMessageSize = 16 << 10
	maxFrameSize   = 1 << 20
)

// Client is one websocket session of an authenticated user.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	id         string
	userId     int64
	send       chan *ServerMessage
	rooms      map[int64]struct{}
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(userId int64, conn *websocket.Conn, cs *ChatServer, l zerolog.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = "unknown"
	}

	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l.With().Str(logging.FieldSessionID, id).Int64(logging.FieldUserID, userId).Logger(),
		id:         id,
		userId:     userId,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[int64]struct{}),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.flush()
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// flush writes whatever is already queued before the connection closes.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				continue
			}
			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		raw, err := c.readFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			break
		}
		if raw == nil {
			c.log.Debug().Msg("oversized client message")
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		cmd, err := DecodeCommand(raw)
		if err != nil {
			c.log.Debug().Err(err).Msg("rejected client message")
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		c.chatServer.dispatch(c, cmd)
	}
}

// readFrame returns the next frame, or nil when the frame exceeds
// maxMessageSize. Oversized frames are drained so the session can go on.
func (c *Client) readFrame() ([]byte, error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxMessageSize+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxMessageSize {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return raw, nil
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("event", msg.Event).Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.leaveAllRooms(c)
	c.chatServer.deregister(c)
	c.stopClient()
}

func (c *Client) addRoom(roomId int64) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[roomId] = struct{}{}
}

func (c *Client) delRoom(roomId int64) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, roomId)
}

func (c *Client) joinedRooms() []int64 {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	ids := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
