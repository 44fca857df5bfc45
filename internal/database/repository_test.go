package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkApplyOutOfOrderRetry applies "b", then the older "a", then retries
// both. Every message id must be counted exactly once.
func checkApplyOutOfOrderRetry(t *testing.T, repo RoomRepository, room ChatRoom) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	b := RoomMessageUpdate{RoomId: room.Id, ReceiverId: room.User2Id, MessageId: "b", Content: "second", SentAt: now}
	a := RoomMessageUpdate{RoomId: room.Id, ReceiverId: room.User2Id, MessageId: "a", Content: "first", SentAt: now.Add(-time.Second)}

	require.NoError(t, repo.ApplyMessage(ctx, b))
	require.NoError(t, repo.ApplyMessage(ctx, a))
	assert.ErrorIs(t, repo.ApplyMessage(ctx, a), ErrAlreadyApplied, "expected a retry of the older message to be skipped")
	assert.ErrorIs(t, repo.ApplyMessage(ctx, b), ErrAlreadyApplied, "expected a retry of the newest message to be skipped")

	got, err := repo.GetRoom(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.User2Unread)
	assert.Equal(t, 0, got.User1Unread)
	assert.Equal(t, "second", got.LastMessage.String)
	assert.Equal(t, "b", got.LastMessageId.String)
	assert.True(t, got.LastMessageAt.Time.Equal(now))
}

// checkApplyConcurrent applies perSide messages to each participant at once.
func checkApplyConcurrent(t *testing.T, repo RoomRepository, room ChatRoom, perSide int) {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2*perSide)
	for i := 0; i < perSide; i++ {
		for _, receiver := range []int64{room.User1Id, room.User2Id} {
			wg.Add(1)
			go func(i int, receiver int64) {
				defer wg.Done()
				errs <- repo.ApplyMessage(ctx, RoomMessageUpdate{
					RoomId:     room.Id,
					ReceiverId: receiver,
					MessageId:  fmt.Sprintf("m-%d-%d", receiver, i),
					Content:    "x",
					SentAt:     time.Now().UTC(),
				})
			}(i, receiver)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.GetRoom(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, perSide, got.User1Unread)
	assert.Equal(t, perSide, got.User2Unread)
}
