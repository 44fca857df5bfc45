package chat

import (
	"context"
	"strings"

	"github.com/npezzotti/pawchat/internal/database"
	"github.com/npezzotti/pawchat/internal/logging"
	"github.com/npezzotti/pawchat/internal/types"
)

// Publisher delivers a persisted message to the room's subscribers.
type Publisher interface {
	PublishMessage(ctx context.Context, msg types.Message)
}

type SendRequest struct {
	SenderId int64
	RoomId   int64
	Body     string
}

// Send validates, persists and broadcasts one message. The room's
// sequencer is held across all three steps so subscribers observe messages
// in the order they were persisted. On error nothing is broadcast.
func (s *Service) Send(ctx context.Context, req SendRequest, pub Publisher) (types.Message, error) {
	if strings.TrimSpace(req.Body) == "" {
		return types.Message{}, ErrInvalidPayload
	}

	unlock := s.seq.lock(req.RoomId)
	defer unlock()

	room, err := s.rooms.GetRoom(ctx, req.RoomId)
	if err != nil {
		return types.Message{}, storeError("send", err)
	}

	if !room.HasParticipant(req.SenderId) {
		return types.Message{}, ErrNotAParticipant
	}

	stored, err := s.messages.AppendMessage(ctx, database.AppendMessageParams{
		RoomId:     room.Id,
		SenderId:   req.SenderId,
		ReceiverId: room.OtherParticipant(req.SenderId),
		Content:    req.Body,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return types.Message{}, storeError("append message", err)
	}

	if err := s.ApplyMessageSideEffects(ctx, stored); err != nil {
		s.log.Error().Err(err).
			Int64(logging.FieldRoomID, room.Id).
			Str("message_id", stored.Id).
			Msg("message persisted without room update")
		return types.Message{}, err
	}

	msg := toMessage(stored)
	if pub != nil {
		pub.PublishMessage(ctx, msg)
	}

	return msg, nil
}
