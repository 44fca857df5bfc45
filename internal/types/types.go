package types

import (
	"time"
)

type User struct {
	Id   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

type Room struct {
	Id            int64      `json:"id"`
	User1Id       int64      `json:"user1Id"`
	User2Id       int64      `json:"user2Id"`
	User1         User       `json:"user1"`
	User2         User       `json:"user2"`
	LastMessage   *string    `json:"lastMessage"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// RoomSummary is a room as seen by one of its participants.
type RoomSummary struct {
	Room
	UnreadCount    int     `json:"unreadCount"`
	LastMessageAgo *string `json:"lastMessageAgo"`
}

type Message struct {
	Id         string    `json:"id"`
	Message    string    `json:"message"`
	SenderId   int64     `json:"senderId"`
	ReceiverId int64     `json:"receiverId"`
	ChatRoomId int64     `json:"chatRoomId"`
	CreatedAt  time.Time `json:"createdAt"`
}
