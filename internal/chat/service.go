package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/pawchat/internal/database"
	"github.com/npezzotti/pawchat/internal/logging"
	"github.com/npezzotti/pawchat/internal/types"
	"github.com/rs/zerolog"
)

const (
	defaultApplyAttempts = 3
	defaultApplyBackoff  = 50 * time.Millisecond
)

// UserLookup resolves display information for participants. Missing users
// are simply absent from the returned map.
type UserLookup interface {
	DisplayUsers(ctx context.Context, ids []int64) (map[int64]types.User, error)
}

// Service is the room directory, send pipeline and read-state resolver of
// the chat subsystem.
type Service struct {
	log      zerolog.Logger
	rooms    database.RoomRepository
	messages database.MessageLog
	users    UserLookup
	seq      *roomSequencer

	applyAttempts int
	applyBackoff  time.Duration
	now           func() time.Time
}

type Option func(*Service)

// WithApplyRetry bounds how often the room update of a persisted message is
// retried before the send is reported as failed.
func WithApplyRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.applyAttempts = attempts
		}
		s.applyBackoff = backoff
	}
}

// WithClock replaces the time source used for message timestamps and
// relative ages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(logger zerolog.Logger, rooms database.RoomRepository, messages database.MessageLog, users UserLookup, opts ...Option) *Service {
	s := &Service{
		log:           logger,
		rooms:         rooms,
		messages:      messages,
		users:         users,
		seq:           newRoomSequencer(),
		applyAttempts: defaultApplyAttempts,
		applyBackoff:  defaultApplyBackoff,
		now:           Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetOrCreateRoom returns the room shared by userA and userB, creating it
// with zeroed counters when the pair has none yet.
func (s *Service) GetOrCreateRoom(ctx context.Context, userA, userB int64) (types.Room, error) {
	if userA == userB {
		return types.Room{}, ErrSameUser
	}

	room, err := s.rooms.FindRoomByUsers(ctx, userA, userB)
	if errors.Is(err, database.ErrNotFound) {
		room, err = s.rooms.CreateRoom(ctx, database.CreateRoomParams{
			User1Id: userA,
			User2Id: userB,
		})
		if err == nil {
			s.log.Info().
				Int64(logging.FieldRoomID, room.Id).
				Int64("user1_id", room.User1Id).
				Int64("user2_id", room.User2Id).
				Msg("chat room ready")
		}
	}
	if err != nil {
		return types.Room{}, storeError("get or create room", err)
	}

	users := s.displayUsers(ctx, room.User1Id, room.User2Id)
	return toRoom(room, users), nil
}

func (s *Service) GetRoom(ctx context.Context, roomId int64) (types.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomId)
	if err != nil {
		return types.Room{}, storeError("get room", err)
	}

	return toRoom(room, nil), nil
}

// AuthorizeJoin re-reads the room and confirms userId may subscribe to it.
func (s *Service) AuthorizeJoin(ctx context.Context, userId, roomId int64) (types.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomId)
	if err != nil {
		return types.Room{}, storeError("authorize join", err)
	}

	if !room.HasParticipant(userId) {
		return types.Room{}, ErrNotAuthorizedForRoom
	}

	return toRoom(room, nil), nil
}

// ListRoomsForUser returns every room userId participates in, annotated
// with the caller's unread counter and the age of the last message.
func (s *Service) ListRoomsForUser(ctx context.Context, userId int64) ([]types.RoomSummary, error) {
	rooms, err := s.rooms.ListRoomsForUser(ctx, userId)
	if err != nil {
		return nil, storeError("list rooms", err)
	}

	ids := make([]int64, 0, len(rooms)+1)
	ids = append(ids, userId)
	for _, r := range rooms {
		ids = append(ids, r.OtherParticipant(userId))
	}
	users := s.displayUsers(ctx, ids...)

	now := s.now()
	summaries := make([]types.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		summary := types.RoomSummary{
			Room:        toRoom(r, users),
			UnreadCount: r.UnreadFor(userId),
		}
		if r.LastMessageAt.Valid {
			ago := FormatAgo(r.LastMessageAt.Time, now)
			summary.LastMessageAgo = &ago
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// ApplyMessageSideEffects records msg on its room: the receiver's unread
// counter grows by one and the last message snapshot moves forward. The
// update is retried a bounded number of times, and a repeat for the same
// message id is a no-op.
func (s *Service) ApplyMessageSideEffects(ctx context.Context, msg database.Message) error {
	update := database.RoomMessageUpdate{
		RoomId:     msg.RoomId,
		ReceiverId: msg.ReceiverId,
		MessageId:  msg.Id,
		Content:    msg.Content,
		SentAt:     msg.CreatedAt,
	}

	var err error
	for attempt := 1; attempt <= s.applyAttempts; attempt++ {
		err = s.rooms.ApplyMessage(ctx, update)
		if err == nil || errors.Is(err, database.ErrAlreadyApplied) {
			return nil
		}
		if errors.Is(err, database.ErrNotFound) {
			break
		}

		s.log.Warn().Err(err).
			Int64(logging.FieldRoomID, msg.RoomId).
			Str("message_id", msg.Id).
			Int("attempt", attempt).
			Msg("room update failed")

		if attempt == s.applyAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("apply message: %w: %w", ErrServiceUnavailable, ctx.Err())
		case <-time.After(s.applyBackoff * time.Duration(attempt)):
		}
	}

	return storeError("apply message", err)
}

// ResetUnread zeroes userId's unread counter. Non-participants are ignored.
func (s *Service) ResetUnread(ctx context.Context, roomId, userId int64) error {
	if err := s.rooms.ResetUnread(ctx, roomId, userId); err != nil {
		return storeError("reset unread", err)
	}

	return nil
}

// MarkRead marks the room as read for userId. Calling it again is harmless.
func (s *Service) MarkRead(ctx context.Context, userId, roomId int64) error {
	room, err := s.rooms.GetRoom(ctx, roomId)
	if err != nil {
		return storeError("mark read", err)
	}

	if !room.HasParticipant(userId) {
		return ErrNotAParticipant
	}

	return s.ResetUnread(ctx, roomId, userId)
}

// RecentMessages returns up to limit messages of the room, newest first.
// A limit of zero or less selects the default page size.
func (s *Service) RecentMessages(ctx context.Context, userId, roomId int64, limit int) ([]types.Message, error) {
	room, err := s.rooms.GetRoom(ctx, roomId)
	if err != nil {
		return nil, storeError("recent messages", err)
	}

	if !room.HasParticipant(userId) {
		return nil, ErrNotAParticipant
	}

	msgs, err := s.messages.RecentMessages(ctx, roomId, limit)
	if err != nil {
		return nil, storeError("recent messages", err)
	}

	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = toMessage(m)
	}

	return out, nil
}

// displayUsers is best effort: a failed lookup leaves names empty.
func (s *Service) displayUsers(ctx context.Context, ids ...int64) map[int64]types.User {
	if s.users == nil {
		return nil
	}

	users, err := s.users.DisplayUsers(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Msg("user lookup failed")
		return nil
	}

	return users
}

func toRoom(r database.ChatRoom, users map[int64]types.User) types.Room {
	room := types.Room{
		Id:        r.Id,
		User1Id:   r.User1Id,
		User2Id:   r.User2Id,
		User1:     types.User{Id: r.User1Id},
		User2:     types.User{Id: r.User2Id},
		CreatedAt: r.CreatedAt,
	}

	if u, ok := users[r.User1Id]; ok {
		room.User1 = u
	}
	if u, ok := users[r.User2Id]; ok {
		room.User2 = u
	}

	if r.LastMessage.Valid {
		msg := r.LastMessage.String
		room.LastMessage = &msg
	}
	if r.LastMessageAt.Valid {
		at := r.LastMessageAt.Time
		room.LastMessageAt = &at
	}

	return room
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:         m.Id,
		Message:    m.Content,
		SenderId:   m.SenderId,
		ReceiverId: m.ReceiverId,
		ChatRoomId: m.RoomId,
		CreatedAt:  m.CreatedAt,
	}
}
