package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/pawchat/internal/chat"
	"github.com/npezzotti/pawchat/internal/types"
)

// Inbound events.
const (
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"
	EventLeaveRoom   = "leaveRoom"
	EventMarkRead    = "markRead"
)

// Outbound events.
const (
	EventConnectSuccess = "connectSuccess"
	EventJoinedRoom     = "joinedRoom"
	EventLeftRoom       = "leftRoom"
	EventNewMessage     = "newMessage"
	EventRoomRead       = "roomRead"
	EventError          = "error"
)

// MaxMessageBytes caps the UTF-8 encoded size of a message body.
const MaxMessageBytes = 4000

var validate = validator.New()

// ClientMessage is the frame a client sends. Data is decoded according to Event.
type ClientMessage struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

type RoomRef struct {
	ChatRoomId int64 `json:"chatRoomId" validate:"required,gt=0"`
}

type SendMessage struct {
	ChatRoomId int64  `json:"chatRoomId" validate:"required,gt=0"`
	Message    string `json:"message" validate:"required"`
}

// Command is a decoded and validated client frame. Exactly one field is set.
type Command struct {
	Join  *RoomRef
	Leave *RoomRef
	Send  *SendMessage
	Read  *RoomRef
}

// DecodeCommand parses raw into one of the known client events. Anything
// else, including a known event with a malformed payload, is rejected with
// chat.ErrInvalidPayload.
func DecodeCommand(raw []byte) (*Command, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrInvalidPayload, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrInvalidPayload, err)
	}

	var (
		cmd     Command
		payload any
	)
	switch msg.Event {
	case EventJoinRoom:
		cmd.Join = &RoomRef{}
		payload = cmd.Join
	case EventLeaveRoom:
		cmd.Leave = &RoomRef{}
		payload = cmd.Leave
	case EventMarkRead:
		cmd.Read = &RoomRef{}
		payload = cmd.Read
	case EventSendMessage:
		cmd.Send = &SendMessage{}
		payload = cmd.Send
	default:
		return nil, fmt.Errorf("%w: unknown event %q", chat.ErrInvalidPayload, msg.Event)
	}

	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data for %q", chat.ErrInvalidPayload, msg.Event)
	}
	if err := json.Unmarshal(msg.Data, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrInvalidPayload, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrInvalidPayload, err)
	}
	if cmd.Send != nil && len(cmd.Send.Message) > MaxMessageBytes {
		return nil, fmt.Errorf("%w: message is %d bytes, limit is %d", chat.ErrInvalidPayload, len(cmd.Send.Message), MaxMessageBytes)
	}

	return &cmd, nil
}

// ServerMessage is the frame sent to a client.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

type ConnectData struct {
	UserId int64 `json:"userId"`
}

func ConnectSuccess(userId int64) *ServerMessage {
	return &ServerMessage{Event: EventConnectSuccess, Data: ConnectData{UserId: userId}}
}

func JoinedRoom(roomId int64) *ServerMessage {
	return &ServerMessage{Event: EventJoinedRoom, Data: RoomRef{ChatRoomId: roomId}}
}

func LeftRoom(roomId int64) *ServerMessage {
	return &ServerMessage{Event: EventLeftRoom, Data: RoomRef{ChatRoomId: roomId}}
}

func RoomRead(roomId int64) *ServerMessage {
	return &ServerMessage{Event: EventRoomRead, Data: RoomRef{ChatRoomId: roomId}}
}

func NewMessage(msg types.Message) *ServerMessage {
	return &ServerMessage{Event: EventNewMessage, Data: msg}
}

func errorMessage(code int, message string) *ServerMessage {
	return &ServerMessage{Event: EventError, Data: ErrorData{Message: message, Code: code}}
}

func ErrUnauthenticated() *ServerMessage {
	return errorMessage(http.StatusUnauthorized, "authentication failed")
}

func ErrInvalidMessage() *ServerMessage {
	return errorMessage(http.StatusBadRequest, "invalid message format")
}

func ErrSameUser() *ServerMessage {
	return errorMessage(http.StatusBadRequest, "cannot chat with yourself")
}

func ErrRoomNotFound() *ServerMessage {
	return errorMessage(http.StatusNotFound, "chat room not found")
}

func ErrUnknownUser() *ServerMessage {
	return errorMessage(http.StatusNotFound, "user not found")
}

func ErrNotAParticipant() *ServerMessage {
	return errorMessage(http.StatusForbidden, "you are not a participant of this chat room")
}

func ErrNotAuthorizedForRoom() *ServerMessage {
	return errorMessage(http.StatusForbidden, "you are not authorized to join this chat room")
}

func ErrServiceUnavailable() *ServerMessage {
	return errorMessage(http.StatusServiceUnavailable, "service unavailable")
}

// ErrorFor maps a chat error to the frame reported to the session.
func ErrorFor(err error) *ServerMessage {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return ErrUnauthenticated()
	case errors.Is(err, chat.ErrInvalidPayload):
		return ErrInvalidMessage()
	case errors.Is(err, chat.ErrSameUser):
		return ErrSameUser()
	case errors.Is(err, chat.ErrUnknownUser):
		return ErrUnknownUser()
	case errors.Is(err, chat.ErrNotFound):
		return ErrRoomNotFound()
	case errors.Is(err, chat.ErrNotAParticipant):
		return ErrNotAParticipant()
	case errors.Is(err, chat.ErrNotAuthorizedForRoom):
		return ErrNotAuthorizedForRoom()
	default:
		return ErrServiceUnavailable()
	}
}
