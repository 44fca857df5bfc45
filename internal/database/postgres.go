package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

const defaultQueryTimeout = 5 * time.Second

// PgRepository implements RoomRepository, MessageLog and UserRepository on Postgres.
type PgRepository struct {
	conn    *sql.DB
	timeout time.Duration
}

func NewPgRepository(dsn string, timeout time.Duration) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	repo := &PgRepository{conn: db, timeout: timeout}

	if err := repo.Ping(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// withTimeout bounds a single store call.
func (db *PgRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.timeout)
}

func (db *PgRepository) Ping(ctx context.Context) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()
	return db.conn.PingContext(ctx)
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
