package database

import (
	"database/sql"
	"time"
)

type ChatRoom struct {
	Id            int64
	User1Id       int64
	User2Id       int64
	User1Unread   int
	User2Unread   int
	LastMessage   sql.NullString
	LastMessageAt sql.NullTime
	LastMessageId sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether userId occupies either slot of the room.
func (r ChatRoom) HasParticipant(userId int64) bool {
	return r.User1Id == userId || r.User2Id == userId
}

// OtherParticipant returns the participant that is not userId.
func (r ChatRoom) OtherParticipant(userId int64) int64 {
	if r.User1Id == userId {
		return r.User2Id
	}
	return r.User1Id
}

// UnreadFor returns the unread counter of userId's slot.
func (r ChatRoom) UnreadFor(userId int64) int {
	switch userId {
	case r.User1Id:
		return r.User1Unread
	case r.User2Id:
		return r.User2Unread
	}
	return 0
}

type Message struct {
	Id         string
	RoomId     int64
	SenderId   int64
	ReceiverId int64
	Content    string
	CreatedAt  time.Time
}

type User struct {
	Id   int64
	Name string
}

type CreateRoomParams struct {
	User1Id int64
	User2Id int64
}

type RoomMessageUpdate struct {
	RoomId     int64
	ReceiverId int64
	MessageId  string
	Content    string
	SentAt     time.Time
}

type AppendMessageParams struct {
	RoomId     int64
	SenderId   int64
	ReceiverId int64
	Content    string
	CreatedAt  time.Time
}
