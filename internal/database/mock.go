package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRoomRepository) FindRoomByUsers(ctx context.Context, userA, userB int64) (ChatRoom, error) {
	args := m.Called(userA, userB)
	return args.Get(0).(ChatRoom), args.Error(1)
}
func (m *MockRoomRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (ChatRoom, error) {
	args := m.Called(params)
	return args.Get(0).(ChatRoom), args.Error(1)
}
func (m *MockRoomRepository) GetRoom(ctx context.Context, roomId int64) (ChatRoom, error) {
	args := m.Called(roomId)
	return args.Get(0).(ChatRoom), args.Error(1)
}
func (m *MockRoomRepository) ListRoomsForUser(ctx context.Context, userId int64) ([]ChatRoom, error) {
	args := m.Called(userId)
	if rooms, ok := args.Get(0).([]ChatRoom); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomRepository) ApplyMessage(ctx context.Context, update RoomMessageUpdate) error {
	args := m.Called(update)
	return args.Error(0)
}
func (m *MockRoomRepository) ResetUnread(ctx context.Context, roomId, userId int64) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}

type MockMessageLog struct {
	mock.Mock
}

func (m *MockMessageLog) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessageLog) RecentMessages(ctx context.Context, roomId int64, limit int) ([]Message, error) {
	args := m.Called(roomId, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetUsersByIds(ctx context.Context, ids []int64) ([]User, error) {
	args := m.Called(ids)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
