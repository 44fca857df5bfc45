package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
)

const roomColumns = "id, user1_id, user2_id, user1_unread, user2_unread, last_message, last_message_at, last_message_id, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (ChatRoom, error) {
	var room ChatRoom
	err := row.Scan(
		&room.Id,
		&room.User1Id,
		&room.User2Id,
		&room.User1Unread,
		&room.User2Unread,
		&room.LastMessage,
		&room.LastMessageAt,
		&room.LastMessageId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	return room, err
}

const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func (db *PgRepository) FindRoomByUsers(ctx context.Context, userA, userB int64) (ChatRoom, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM chat_rooms "+
			"WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1) LIMIT 1",
		userA,
		userB,
	)

	room, err := scanRoom(row)
	if err != nil {
		return ChatRoom{}, notFound(err, "find room for users %d and %d", userA, userB)
	}

	return room, nil
}

// CreateRoom inserts a room for the pair, or returns the room that already
// exists for the unordered pair when a concurrent insert won.
func (db *PgRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (ChatRoom, error) {
	qctx, cancel := db.withTimeout(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(qctx,
		"INSERT INTO chat_rooms (user1_id, user2_id, created_at, updated_at) "+
			"VALUES ($1, $2, now(), now()) ON CONFLICT DO NOTHING RETURNING "+roomColumns,
		params.User1Id,
		params.User2Id,
	)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return db.FindRoomByUsers(ctx, params.User1Id, params.User2Id)
	}
	if isForeignKeyViolation(err) {
		return ChatRoom{}, fmt.Errorf("create room for users %d and %d: %w", params.User1Id, params.User2Id, ErrUnknownUser)
	}
	if err != nil {
		return ChatRoom{}, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

func (db *PgRepository) GetRoom(ctx context.Context, roomId int64) (ChatRoom, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM chat_rooms WHERE id = $1",
		roomId,
	)

	room, err := scanRoom(row)
	if err != nil {
		return ChatRoom{}, notFound(err, "get room %d", roomId)
	}

	return room, nil
}

func (db *PgRepository) ListRoomsForUser(ctx context.Context, userId int64) ([]ChatRoom, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM chat_rooms WHERE user1_id = $1 OR user2_id = $1 "+
			"ORDER BY last_message_at DESC NULLS LAST, id DESC",
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]ChatRoom, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rooms, nil
}

// ApplyMessage records update.MessageId in room_applied_messages and, only
// when that insert is new, increments the receiver's counter in the same
// statement. The snapshot only moves forward in time.
func (db *PgRepository) ApplyMessage(ctx context.Context, update RoomMessageUpdate) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		WITH applied AS (
			INSERT INTO room_applied_messages (room_id, message_id)
			VALUES ($1, $5)
			ON CONFLICT DO NOTHING
			RETURNING room_id
		)
		UPDATE chat_rooms SET
			user1_unread = user1_unread + CASE WHEN user1_id = $2 THEN 1 ELSE 0 END,
			user2_unread = user2_unread + CASE WHEN user2_id = $2 THEN 1 ELSE 0 END,
			last_message = CASE WHEN last_message_at IS NULL OR last_message_at <= $4 THEN $3 ELSE last_message END,
			last_message_id = CASE WHEN last_message_at IS NULL OR last_message_at <= $4 THEN $5 ELSE last_message_id END,
			last_message_at = GREATEST(COALESCE(last_message_at, $4), $4),
			updated_at = now()
		WHERE id = (SELECT room_id FROM applied)`,
		update.RoomId,
		update.ReceiverId,
		update.Content,
		update.SentAt,
		update.MessageId,
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("apply message to room %d: %w", update.RoomId, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("apply message to room %d: %w", update.RoomId, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return ErrAlreadyApplied
	}

	return nil
}

func (db *PgRepository) ResetUnread(ctx context.Context, roomId, userId int64) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		UPDATE chat_rooms SET
			user1_unread = CASE WHEN user1_id = $2 THEN 0 ELSE user1_unread END,
			user2_unread = CASE WHEN user2_id = $2 THEN 0 ELSE user2_unread END,
			updated_at = now()
		WHERE id = $1 AND (user1_id = $2 OR user2_id = $2)`,
		roomId,
		userId,
	)
	if err != nil {
		return fmt.Errorf("reset unread for room %d: %w", roomId, err)
	}

	return nil
}

func (db *PgRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	var id int64
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (room_id, sender_id, receiver_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		params.RoomId,
		params.SenderId,
		params.ReceiverId,
		params.Content,
		params.CreatedAt,
	).Scan(&id)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	return Message{
		Id:         strconv.FormatInt(id, 10),
		RoomId:     params.RoomId,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		Content:    params.Content,
		CreatedAt:  params.CreatedAt,
	}, nil
}

func (db *PgRepository) RecentMessages(ctx context.Context, roomId int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, room_id, sender_id, receiver_id, content, created_at FROM messages "+
			"WHERE room_id = $1 ORDER BY id DESC LIMIT $2",
		roomId,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, min(limit, DefaultMessageLimit))
	for rows.Next() {
		var (
			msg Message
			id  int64
		)
		if err := rows.Scan(&id, &msg.RoomId, &msg.SenderId, &msg.ReceiverId, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Id = strconv.FormatInt(id, 10)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *PgRepository) GetUsersByIds(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}

	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, name FROM users WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}
