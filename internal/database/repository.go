package database

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrUnknownUser is returned when a room names a user the users table lacks.
	ErrUnknownUser = fmt.Errorf("unknown user: %w", ErrNotFound)
	// ErrAlreadyApplied is returned when the room update for a message id was
	// already recorded, whatever happened to the room since.
	ErrAlreadyApplied = errors.New("room update already applied")
)

const DefaultMessageLimit = 50

// RoomRepository stores two-party chat rooms and their mutable aggregate state.
type RoomRepository interface {
	Ping(ctx context.Context) error
	FindRoomByUsers(ctx context.Context, userA, userB int64) (ChatRoom, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (ChatRoom, error)
	GetRoom(ctx context.Context, roomId int64) (ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userId int64) ([]ChatRoom, error)
	// ApplyMessage must increment the receiver's counter atomically in the store.
	ApplyMessage(ctx context.Context, update RoomMessageUpdate) error
	ResetUnread(ctx context.Context, roomId, userId int64) error
}

// MessageLog is the append-only message store.
type MessageLog interface {
	AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error)
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, roomId int64, limit int) ([]Message, error)
}

type UserRepository interface {
	GetUsersByIds(ctx context.Context, ids []int64) ([]User, error)
}
