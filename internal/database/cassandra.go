package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/npezzotti/pawchat/internal/config"
)

const createMessagesByRoomTable = `
	CREATE TABLE IF NOT EXISTS messages_by_room (
		room_id     bigint,
		message_id  timeuuid,
		sender_id   bigint,
		receiver_id bigint,
		content     text,
		created_at  timestamp,
		PRIMARY KEY ((room_id), message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`

// CassandraMessageLog stores messages partitioned by room, clustered newest first.
type CassandraMessageLog struct {
	session *gocql.Session
}

func NewCassandraMessageLog(cfg config.CassandraConfig) (*CassandraMessageLog, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("create cassandra session: %w", err)
	}

	return &CassandraMessageLog{session: session}, nil
}

// EnsureSchema creates the messages table inside the configured keyspace.
func (l *CassandraMessageLog) EnsureSchema(ctx context.Context) error {
	if err := l.session.Query(createMessagesByRoomTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create messages_by_room: %w", err)
	}
	return nil
}

func (l *CassandraMessageLog) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	// timestamp columns hold milliseconds
	createdAt := params.CreatedAt.UTC().Truncate(time.Millisecond)
	id := gocql.UUIDFromTime(createdAt)

	err := l.session.Query(`
		INSERT INTO messages_by_room (
			room_id, message_id, sender_id, receiver_id, content, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		params.RoomId,
		id,
		params.SenderId,
		params.ReceiverId,
		params.Content,
		createdAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	return Message{
		Id:         id.String(),
		RoomId:     params.RoomId,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		Content:    params.Content,
		CreatedAt:  createdAt,
	}, nil
}

func (l *CassandraMessageLog) RecentMessages(ctx context.Context, roomId int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	iter := l.session.Query(`
		SELECT message_id, room_id, sender_id, receiver_id, content, created_at
		FROM messages_by_room
		WHERE room_id = ?
		LIMIT ?`,
		roomId,
		limit,
	).WithContext(ctx).Iter()

	var (
		messages = make([]Message, 0, min(limit, DefaultMessageLimit))
		id       gocql.UUID
		msg      Message
	)
	for iter.Scan(&id, &msg.RoomId, &msg.SenderId, &msg.ReceiverId, &msg.Content, &msg.CreatedAt) {
		msg.Id = id.String()
		messages = append(messages, msg)
		msg = Message{}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (l *CassandraMessageLog) Close() error {
	if l.session != nil {
		l.session.Close()
	}
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
