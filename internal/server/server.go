package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/pawchat/internal/chat"
	"github.com/npezzotti/pawchat/internal/logging"
	"github.com/npezzotti/pawchat/internal/pubsub"
	"github.com/npezzotti/pawchat/internal/stats"
	"github.com/npezzotti/pawchat/internal/types"
	"github.com/rs/zerolog"
)

const defaultOpTimeout = 10 * time.Second

// ChatService is the part of the chat subsystem used by realtime sessions.
type ChatService interface {
	AuthorizeJoin(ctx context.Context, userId, roomId int64) (types.Room, error)
	Send(ctx context.Context, req chat.SendRequest, pub chat.Publisher) (types.Message, error)
	MarkRead(ctx context.Context, userId, roomId int64) error
}

type ChatServer struct {
	log         zerolog.Logger
	chat        ChatService
	relay       pubsub.Relay
	stats       stats.StatsProvider
	router      Router
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	wg          sync.WaitGroup
	opTimeout   time.Duration
	closing     bool
}

func NewChatServer(logger zerolog.Logger, svc ChatService, relay pubsub.Relay, sp stats.StatsProvider) *ChatServer {
	if relay == nil {
		relay = pubsub.NoopRelay{}
	}

	return &ChatServer{
		log:       logger,
		chat:      svc,
		relay:     relay,
		stats:     sp,
		clients:   make(map[*Client]struct{}),
		opTimeout: defaultOpTimeout,
	}
}

// Start subscribes to messages persisted by other instances.
func (cs *ChatServer) Start(ctx context.Context) error {
	return cs.relay.Subscribe(ctx, cs.deliverRemote)
}

// ServeClient registers an authenticated connection and runs its pumps.
func (cs *ChatServer) ServeClient(userId int64, conn *websocket.Conn) *Client {
	c := NewClient(userId, conn, cs, cs.log)
	if !cs.register(c) {
		RejectConnection(conn, ErrServiceUnavailable())
		return c
	}

	c.queueMessage(ConnectSuccess(userId))

	cs.wg.Add(2)
	go func() {
		defer cs.wg.Done()
		c.Write()
	}()
	go func() {
		defer cs.wg.Done()
		c.Read()
	}()

	return c
}

// RejectConnection reports msg on an upgraded connection that will not
// become a session, then closes it.
func RejectConnection(conn *websocket.Conn, msg *ServerMessage) {
	closeCode, reason := websocket.ClosePolicyViolation, ""
	if data, ok := msg.Data.(ErrorData); ok {
		reason = data.Message
		if data.Code == http.StatusServiceUnavailable {
			closeCode = websocket.CloseTryAgainLater
		}
	}

	deadline := time.Now().Add(writeWait)
	conn.SetWriteDeadline(deadline)
	conn.WriteJSON(msg)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), deadline)
	conn.Close()
}

func (cs *ChatServer) register(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if cs.closing {
		return false
	}

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.ActiveConnections)
	c.log.Info().Msg("session connected")
	return true
}

func (cs *ChatServer) deregister(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr(stats.ActiveConnections)
	c.log.Info().Msg("session disconnected")
}

func (cs *ChatServer) dispatch(c *Client, cmd *Command) {
	ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
	defer cancel()

	switch {
	case cmd.Join != nil:
		cs.join(ctx, c, cmd.Join.ChatRoomId)
	case cmd.Leave != nil:
		cs.leave(c, cmd.Leave.ChatRoomId)
	case cmd.Send != nil:
		cs.sendMessage(ctx, c, cmd.Send)
	case cmd.Read != nil:
		cs.markRead(ctx, c, cmd.Read.ChatRoomId)
	}
}

func (cs *ChatServer) join(ctx context.Context, c *Client, roomId int64) {
	if _, err := cs.chat.AuthorizeJoin(ctx, c.userId, roomId); err != nil {
		cs.reportError(c, err, "join room", roomId)
		return
	}

	cs.router.subscribe(roomId, c)
	c.addRoom(roomId)
	cs.stats.Incr(stats.RoomsJoined)

	c.log.Info().Int64(logging.FieldRoomID, roomId).Msg("joined room")
	c.queueMessage(JoinedRoom(roomId))
}

func (cs *ChatServer) leave(c *Client, roomId int64) {
	if cs.router.unsubscribe(roomId, c) {
		c.log.Info().Int64(logging.FieldRoomID, roomId).Msg("left room")
	}
	c.delRoom(roomId)
	c.queueMessage(LeftRoom(roomId))
}

func (cs *ChatServer) leaveAllRooms(c *Client) {
	for _, roomId := range c.joinedRooms() {
		cs.router.unsubscribe(roomId, c)
		c.delRoom(roomId)
	}
}

func (cs *ChatServer) sendMessage(ctx context.Context, c *Client, req *SendMessage) {
	_, err := cs.chat.Send(ctx, chat.SendRequest{
		SenderId: c.userId,
		RoomId:   req.ChatRoomId,
		Body:     req.Message,
	}, cs)
	if err != nil {
		cs.reportError(c, err, "send message", req.ChatRoomId)
		return
	}

	cs.stats.Incr(stats.MessagesSent)
}

func (cs *ChatServer) markRead(ctx context.Context, c *Client, roomId int64) {
	if err := cs.chat.MarkRead(ctx, c.userId, roomId); err != nil {
		cs.reportError(c, err, "mark read", roomId)
		return
	}

	c.queueMessage(RoomRead(roomId))
}

func (cs *ChatServer) reportError(c *Client, err error, op string, roomId int64) {
	ev := c.log.Info()
	if errors.Is(err, chat.ErrServiceUnavailable) {
		ev = c.log.Error()
	}
	ev.Err(err).Int64(logging.FieldRoomID, roomId).Msg(op + " failed")

	c.queueMessage(ErrorFor(err))
}

// PublishMessage delivers a persisted message to local subscribers and
// forwards it to other instances.
func (cs *ChatServer) PublishMessage(ctx context.Context, msg types.Message) {
	n := cs.router.publish(msg.ChatRoomId, NewMessage(msg))
	cs.log.Debug().
		Int64(logging.FieldRoomID, msg.ChatRoomId).
		Str("message_id", msg.Id).
		Int("sessions", n).
		Msg("broadcast message")

	if err := cs.relay.Publish(ctx, msg); err != nil {
		cs.log.Error().Err(err).Int64(logging.FieldRoomID, msg.ChatRoomId).Msg("relay publish failed")
	}
}

func (cs *ChatServer) deliverRemote(msg types.Message) {
	cs.router.publish(msg.ChatRoomId, NewMessage(msg))
}

// Shutdown stops every session and waits for their pumps to exit or for
// ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("shutting down chat server")

	cs.clientsLock.Lock()
	cs.closing = true
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
