package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/pawchat/internal/database"
	"github.com/npezzotti/pawchat/internal/testutil"
	"github.com/npezzotti/pawchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (p *recordingPublisher) PublishMessage(_ context.Context, msg types.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *recordingPublisher) published() []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Message(nil), p.msgs...)
}

type staticUsers map[int64]types.User

func (u staticUsers) DisplayUsers(_ context.Context, ids []int64) (map[int64]types.User, error) {
	out := make(map[int64]types.User)
	for _, id := range ids {
		if user, ok := u[id]; ok {
			out[id] = user
		}
	}
	return out, nil
}

func newMemoryService(t *testing.T, opts ...Option) (*Service, *database.MemoryStore) {
	store := database.NewMemoryStore()
	users := staticUsers{
		11: {Id: 11, Name: "Ari"},
		8:  {Id: 8, Name: "Bo"},
	}
	return NewService(testutil.TestLogger(t), store, store, users, opts...), store
}

func TestGetOrCreateRoom(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)

	room, err := svc.GetOrCreateRoom(ctx, 11, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(11), room.User1Id)
	assert.Equal(t, int64(8), room.User2Id)
	assert.Equal(t, "Ari", room.User1.Name)
	assert.Equal(t, "Bo", room.User2.Name)
	assert.Nil(t, room.LastMessage)
	assert.Nil(t, room.LastMessageAt)

	again, err := svc.GetOrCreateRoom(ctx, 11, 8)
	require.NoError(t, err)
	assert.Equal(t, room.Id, again.Id, "expected the same room on repeat")

	reversed, err := svc.GetOrCreateRoom(ctx, 8, 11)
	require.NoError(t, err)
	assert.Equal(t, room.Id, reversed.Id, "expected the same room in reversed order")
	assert.Equal(t, int64(11), reversed.User1Id, "expected the existing room to be returned unchanged")

	_, err = svc.GetOrCreateRoom(ctx, 5, 5)
	assert.ErrorIs(t, err, ErrSameUser)
}

func TestGetOrCreateRoom_StoreErrors(t *testing.T) {
	tcases := []struct {
		name      string
		findErr   error
		createErr error
		expected  error
	}{
		{name: "store unavailable", findErr: errors.New("connection refused"), expected: ErrServiceUnavailable},
		{
			name:      "unknown user",
			findErr:   database.ErrNotFound,
			createErr: fmt.Errorf("create room for users 1 and 2: %w", database.ErrUnknownUser),
			expected:  ErrUnknownUser,
		},
		{
			name:      "create fails",
			findErr:   database.ErrNotFound,
			createErr: errors.New("connection reset"),
			expected:  ErrServiceUnavailable,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rooms := &database.MockRoomRepository{}
			defer rooms.AssertExpectations(t)
			rooms.On("FindRoomByUsers", int64(1), int64(2)).Return(database.ChatRoom{}, tc.findErr)
			if tc.createErr != nil {
				rooms.On("CreateRoom", database.CreateRoomParams{User1Id: 1, User2Id: 2}).Return(database.ChatRoom{}, tc.createErr)
			}

			svc := NewService(testutil.TestLogger(t), rooms, nil, nil)
			_, err := svc.GetOrCreateRoom(context.Background(), 1, 2)
			assert.ErrorIs(t, err, tc.expected)
			if tc.expected != ErrServiceUnavailable {
				assert.NotErrorIs(t, err, ErrServiceUnavailable)
			}
		})
	}
}

func TestSend_HelloScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)
	pub := &recordingPublisher{}

	room, err := svc.GetOrCreateRoom(ctx, 11, 8)
	require.NoError(t, err)

	msg, err := svc.Send(ctx, SendRequest{SenderId: 11, RoomId: room.Id, Body: "hello"}, pub)
	require.NoError(t, err)
	assert.Equal(t, int64(11), msg.SenderId)
	assert.Equal(t, int64(8), msg.ReceiverId)
	assert.Equal(t, room.Id, msg.ChatRoomId)
	assert.Equal(t, "hello", msg.Message)
	assert.NotEmpty(t, msg.Id)
	assert.False(t, msg.CreatedAt.IsZero())

	assert.Equal(t, []types.Message{msg}, pub.published(), "expected exactly one broadcast")

	receiverRooms, err := svc.ListRoomsForUser(ctx, 8)
	require.NoError(t, err)
	require.Len(t, receiverRooms, 1)
	assert.Equal(t, 1, receiverRooms[0].UnreadCount)
	require.NotNil(t, receiverRooms[0].LastMessage)
	assert.Equal(t, "hello", *receiverRooms[0].LastMessage)
	require.NotNil(t, receiverRooms[0].LastMessageAgo)
	assert.Equal(t, "under 1 minute", *receiverRooms[0].LastMessageAgo)

	senderRooms, err := svc.ListRoomsForUser(ctx, 11)
	require.NoError(t, err)
	require.Len(t, senderRooms, 1)
	assert.Equal(t, 0, senderRooms[0].UnreadCount, "expected the sender's counter untouched")

	require.NoError(t, svc.MarkRead(ctx, 8, room.Id))
	require.NoError(t, svc.MarkRead(ctx, 8, room.Id), "expected mark read to be idempotent")

	receiverRooms, err = svc.ListRoomsForUser(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, receiverRooms[0].UnreadCount)
	assert.Equal(t, "hello", *receiverRooms[0].LastMessage, "expected the snapshot to survive mark read")
}

func TestSend_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)
	pub := &recordingPublisher{}
	room, _ := svc.GetOrCreateRoom(ctx, 11, 8)

	tcases := []struct {
		name     string
		req      SendRequest
		expected error
	}{
		{name: "empty body", req: SendRequest{SenderId: 11, RoomId: room.Id, Body: ""}, expected: ErrInvalidPayload},
		{name: "whitespace body", req: SendRequest{SenderId: 11, RoomId: room.Id, Body: " \n\t"}, expected: ErrInvalidPayload},
		{name: "unknown room", req: SendRequest{SenderId: 11, RoomId: 404, Body: "hi"}, expected: ErrNotFound},
		{name: "outsider", req: SendRequest{SenderId: 3, RoomId: room.Id, Body: "hi"}, expected: ErrNotAParticipant},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Send(ctx, tc.req, pub)
			assert.ErrorIs(t, err, tc.expected)
		})
	}

	assert.Empty(t, pub.published(), "expected no broadcast for rejected sends")
	recent, err := svc.RecentMessages(ctx, 11, room.Id, 0)
	require.NoError(t, err)
	assert.Empty(t, recent, "expected nothing persisted for rejected sends")
}

func TestSend_RecentReturnsLatest(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)
	room, _ := svc.GetOrCreateRoom(ctx, 11, 8)

	for _, body := range []string{"first", "second", "third"} {
		_, err := svc.Send(ctx, SendRequest{SenderId: 8, RoomId: room.Id, Body: body}, nil)
		require.NoError(t, err)
	}

	recent, err := svc.RecentMessages(ctx, 11, room.Id, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "third", recent[0].Message)

	all, err := svc.RecentMessages(ctx, 8, room.Id, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[2].Message, "expected newest first")

	_, err = svc.RecentMessages(ctx, 3, room.Id, 10)
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

func TestSend_ConcurrentBothSides(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)
	pub := &recordingPublisher{}
	room, _ := svc.GetOrCreateRoom(ctx, 11, 8)

	const perSide = 25
	var wg sync.WaitGroup
	for i := 0; i < perSide; i++ {
		for _, sender := range []int64{11, 8} {
			wg.Add(1)
			go func(sender int64) {
				defer wg.Done()
				_, err := svc.Send(ctx, SendRequest{SenderId: sender, RoomId: room.Id, Body: "ping"}, pub)
				assert.NoError(t, err)
			}(sender)
		}
	}
	wg.Wait()

	for _, user := range []int64{11, 8} {
		rooms, err := svc.ListRoomsForUser(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, perSide, rooms[0].UnreadCount, "unread count for user %d", user)
	}

	published := pub.published()
	require.Len(t, published, 2*perSide)
	for i := 1; i < len(published); i++ {
		assert.Less(t, published[i-1].Id, published[i].Id, "expected broadcast in persistence order")
	}
}

func TestListRoomsForUser_NoMessages(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)
	_, err := svc.GetOrCreateRoom(ctx, 11, 8)
	require.NoError(t, err)

	rooms, err := svc.ListRoomsForUser(ctx, 8)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Nil(t, rooms[0].LastMessage)
	assert.Nil(t, rooms[0].LastMessageAt)
	assert.Nil(t, rooms[0].LastMessageAgo)
	assert.Equal(t, 0, rooms[0].UnreadCount)
	assert.Equal(t, "Ari", rooms[0].User1.Name)

	none, err := svc.ListRoomsForUser(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListRoomsForUser_Age(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rooms := &database.MockRoomRepository{}
	defer rooms.AssertExpectations(t)
	rooms.On("ListRoomsForUser", int64(1)).Return([]database.ChatRoom{
		{
			Id:            4,
			User1Id:       1,
			User2Id:       2,
			User1Unread:   3,
			LastMessage:   sql.NullString{String: "found your dog", Valid: true},
			LastMessageAt: sql.NullTime{Time: now.Add(-3 * time.Hour), Valid: true},
		},
	}, nil)

	svc := NewService(testutil.TestLogger(t), rooms, nil, nil, WithClock(func() time.Time { return now }))
	summaries, err := svc.ListRoomsForUser(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].UnreadCount)
	assert.Equal(t, "3 hours ago", *summaries[0].LastMessageAgo)
	assert.Equal(t, int64(2), summaries[0].User2.Id)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)
	room, _ := svc.GetOrCreateRoom(ctx, 11, 8)

	assert.ErrorIs(t, svc.MarkRead(ctx, 11, 404), ErrNotFound)
	assert.ErrorIs(t, svc.MarkRead(ctx, 3, room.Id), ErrNotAParticipant)
	assert.NoError(t, svc.MarkRead(ctx, 11, room.Id), "expected mark read on an empty room to succeed")
	assert.NoError(t, svc.ResetUnread(ctx, room.Id, 3), "expected reset for a non-participant to be a no-op")
}

func TestAuthorizeJoin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMemoryService(t)
	room, _ := svc.GetOrCreateRoom(ctx, 11, 8)

	got, err := svc.AuthorizeJoin(ctx, 8, room.Id)
	require.NoError(t, err)
	assert.Equal(t, room.Id, got.Id)

	_, err = svc.AuthorizeJoin(ctx, 3, room.Id)
	assert.ErrorIs(t, err, ErrNotAuthorizedForRoom)

	_, err = svc.AuthorizeJoin(ctx, 8, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	fetched, err := svc.GetRoom(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, room.Id, fetched.Id)
}

func TestSend_PersistenceFailures(t *testing.T) {
	room := database.ChatRoom{Id: 1, User1Id: 11, User2Id: 8}
	stored := database.Message{Id: "m1", RoomId: 1, SenderId: 11, ReceiverId: 8, Content: "hi", CreatedAt: Now()}

	tcases := []struct {
		name       string
		appendErr  error
		applyErrs  []error
		expectErr  error
		expectSent bool
	}{
		{
			name:      "append fails",
			appendErr: errors.New("cassandra timeout"),
			expectErr: ErrServiceUnavailable,
		},
		{
			name:      "room update keeps failing",
			applyErrs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")},
			expectErr: ErrServiceUnavailable,
		},
		{
			name:       "room update recovers on retry",
			applyErrs:  []error{errors.New("timeout"), nil},
			expectSent: true,
		},
		{
			name:       "room update already applied",
			applyErrs:  []error{errors.New("timeout"), database.ErrAlreadyApplied},
			expectSent: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rooms := &database.MockRoomRepository{}
			messages := &database.MockMessageLog{}
			defer rooms.AssertExpectations(t)
			defer messages.AssertExpectations(t)

			rooms.On("GetRoom", int64(1)).Return(room, nil)
			messages.On("AppendMessage", mock.MatchedBy(func(p database.AppendMessageParams) bool {
				return p.RoomId == 1 && p.SenderId == 11 && p.ReceiverId == 8 && p.Content == "hi"
			})).Return(stored, tc.appendErr)
			for _, applyErr := range tc.applyErrs {
				rooms.On("ApplyMessage", database.RoomMessageUpdate{
					RoomId:     1,
					ReceiverId: 8,
					MessageId:  "m1",
					Content:    "hi",
					SentAt:     stored.CreatedAt,
				}).Return(applyErr).Once()
			}

			pub := &recordingPublisher{}
			svc := NewService(testutil.TestLogger(t), rooms, messages, nil, WithApplyRetry(3, 0))
			msg, err := svc.Send(context.Background(), SendRequest{SenderId: 11, RoomId: 1, Body: "hi"}, pub)

			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
				assert.Empty(t, pub.published(), "expected no broadcast after a failed send")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "m1", msg.Id)
			assert.Len(t, pub.published(), 1)
		})
	}
}
