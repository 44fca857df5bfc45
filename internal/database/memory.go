package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

type roomPair struct {
	lo, hi int64
}

func pairOf(a, b int64) roomPair {
	if a > b {
		a, b = b, a
	}
	return roomPair{lo: a, hi: b}
}

// MemoryStore is a process-local RoomRepository, MessageLog and UserRepository
// used for development and tests. All state is lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	nextRoom int64
	rooms    map[int64]*ChatRoom
	pairs    map[roomPair]int64
	applied  map[int64]map[string]struct{}

	logMu    sync.RWMutex
	nextMsg  int64
	messages map[int64][]Message

	users sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[int64]*ChatRoom),
		pairs:    make(map[roomPair]int64),
		applied:  make(map[int64]map[string]struct{}),
		messages: make(map[int64][]Message),
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) FindRoomByUsers(_ context.Context, userA, userB int64) (ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.pairs[pairOf(userA, userB)]
	if !ok {
		return ChatRoom{}, fmt.Errorf("find room for users %d and %d: %w", userA, userB, ErrNotFound)
	}
	return *s.rooms[id], nil
}

func (s *MemoryStore) CreateRoom(_ context.Context, params CreateRoomParams) (ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairOf(params.User1Id, params.User2Id)
	if id, ok := s.pairs[key]; ok {
		return *s.rooms[id], nil
	}

	s.nextRoom++
	now := time.Now().UTC()
	room := &ChatRoom{
		Id:        s.nextRoom,
		User1Id:   params.User1Id,
		User2Id:   params.User2Id,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rooms[room.Id] = room
	s.pairs[key] = room.Id

	return *room, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, roomId int64) (ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomId]
	if !ok {
		return ChatRoom{}, fmt.Errorf("get room %d: %w", roomId, ErrNotFound)
	}
	return *room, nil
}

func (s *MemoryStore) ListRoomsForUser(_ context.Context, userId int64) ([]ChatRoom, error) {
	s.mu.Lock()
	rooms := make([]ChatRoom, 0)
	for _, room := range s.rooms {
		if room.HasParticipant(userId) {
			rooms = append(rooms, *room)
		}
	}
	s.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		a, b := rooms[i].LastMessageAt, rooms[j].LastMessageAt
		if a.Valid != b.Valid {
			return a.Valid
		}
		if a.Valid && !a.Time.Equal(b.Time) {
			return a.Time.After(b.Time)
		}
		return rooms[i].Id > rooms[j].Id
	})

	return rooms, nil
}

func (s *MemoryStore) ApplyMessage(_ context.Context, update RoomMessageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[update.RoomId]
	if !ok {
		return fmt.Errorf("apply message to room %d: %w", update.RoomId, ErrNotFound)
	}

	applied, ok := s.applied[update.RoomId]
	if !ok {
		applied = make(map[string]struct{})
		s.applied[update.RoomId] = applied
	}
	if _, ok := applied[update.MessageId]; ok {
		return ErrAlreadyApplied
	}
	applied[update.MessageId] = struct{}{}

	switch update.ReceiverId {
	case room.User1Id:
		room.User1Unread++
	case room.User2Id:
		room.User2Unread++
	}

	if !room.LastMessageAt.Valid || !room.LastMessageAt.Time.After(update.SentAt) {
		room.LastMessage = sql.NullString{String: update.Content, Valid: true}
		room.LastMessageAt = sql.NullTime{Time: update.SentAt, Valid: true}
		room.LastMessageId = sql.NullString{String: update.MessageId, Valid: true}
	}
	room.UpdatedAt = time.Now().UTC()

	return nil
}

func (s *MemoryStore) ResetUnread(_ context.Context, roomId, userId int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomId]
	if !ok {
		return nil
	}

	switch userId {
	case room.User1Id:
		room.User1Unread = 0
	case room.User2Id:
		room.User2Unread = 0
	default:
		return nil
	}
	room.UpdatedAt = time.Now().UTC()

	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, params AppendMessageParams) (Message, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	s.nextMsg++
	msg := Message{
		Id:         fmt.Sprintf("%020d", s.nextMsg),
		RoomId:     params.RoomId,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		Content:    params.Content,
		CreatedAt:  params.CreatedAt,
	}
	s.messages[params.RoomId] = append(s.messages[params.RoomId], msg)

	return msg, nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, roomId int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	s.logMu.RLock()
	defer s.logMu.RUnlock()

	log := s.messages[roomId]
	n := min(limit, len(log))
	out := make([]Message, 0, n)
	for i := len(log) - 1; i >= len(log)-n; i-- {
		out = append(out, log[i])
	}

	return out, nil
}

// PutUser registers a display name for GetUsersByIds.
func (s *MemoryStore) PutUser(u User) {
	s.users.Store(u.Id, u)
}

func (s *MemoryStore) GetUsersByIds(_ context.Context, ids []int64) ([]User, error) {
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users.Load(id); ok {
			users = append(users, u.(User))
		}
	}
	return users, nil
}
