package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/pawchat/internal/config"
	"github.com/npezzotti/pawchat/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

// Relay forwards persisted messages between server instances so that
// sessions joined to a room on another instance still receive them.
type Relay interface {
	Publish(ctx context.Context, msg types.Message) error
	// Subscribe delivers messages published by other instances to handler
	// until ctx is done or the relay is closed.
	Subscribe(ctx context.Context, handler func(types.Message)) error
	Close() error
}

// Envelope is the wire format on the relay channel.
type Envelope struct {
	Origin    string        `json:"origin"`
	Message   types.Message `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

func encodeEnvelope(origin string, msg types.Message) ([]byte, error) {
	return json.Marshal(Envelope{
		Origin:    origin,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}

// decodeEnvelope returns the carried message and whether it came from a
// different instance than self.
func decodeEnvelope(self string, payload []byte) (types.Message, bool, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return types.Message{}, false, err
	}

	return env.Message, env.Origin != self, nil
}

type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	log     zerolog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedisRelay(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	origin, err := shortid.Generate()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("generate instance id: %w", err)
	}

	return &RedisRelay{
		client:  client,
		channel: cfg.Channel,
		origin:  origin,
		log:     logger.With().Str("relay_origin", origin).Logger(),
	}, nil
}

func (r *RedisRelay) Publish(ctx context.Context, msg types.Message) error {
	data, err := encodeEnvelope(r.origin, msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}

	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, handler func(types.Message)) error {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	go r.process(ctx, ps, handler)

	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")
	return nil
}

func (r *RedisRelay) process(ctx context.Context, ps *redis.PubSub, handler func(types.Message)) {
	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			msg, remote, err := decodeEnvelope(r.origin, []byte(m.Payload))
			if err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed relay payload")
				continue
			}
			if !remote {
				continue
			}

			handler(msg)
		}
	}
}

func (r *RedisRelay) Close() error {
	r.mu.Lock()
	for _, ps := range r.subs {
		ps.Close()
	}
	r.subs = nil
	r.mu.Unlock()

	return r.client.Close()
}

// NoopRelay is used when a single instance serves every session.
type NoopRelay struct{}

func (NoopRelay) Publish(context.Context, types.Message) error         { return nil }
func (NoopRelay) Subscribe(context.Context, func(types.Message)) error { return nil }
func (NoopRelay) Close() error                                         { return nil }
