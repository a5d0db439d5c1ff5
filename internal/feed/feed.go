// Package feed carries store changes between processes over Redis pub/sub.
//
// A Publisher forwards committed changes from a local store subscription to
// one channel per table. A Subscriber turns the channel messages back into
// store.Change values and satisfies the same Next contract as a local
// subscription, so the reconciler consumes either without knowing which.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/roach88/trainflow/internal/store"
)

// DefaultPrefix namespaces the pub/sub channels.
const DefaultPrefix = "trainflow:changes"

// ErrClosed is returned by Subscriber.Next after the feed is closed. It
// matches store.ErrSubscriptionClosed so consumers treat both alike.
var ErrClosed = fmt.Errorf("feed closed: %w", store.ErrSubscriptionClosed)

// Envelope is the wire form of one change.
type Envelope struct {
	Origin string       `json:"origin"`
	Change store.Change `json:"change"`
}

// Channel returns the pub/sub channel for a table.
func Channel(prefix, table string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":" + table
}

// Encode marshals a change stamped with its origin.
func Encode(origin string, c store.Change) ([]byte, error) {
	payload, err := json.Marshal(Envelope{Origin: origin, Change: c})
	if err != nil {
		return nil, fmt.Errorf("encode change %s/%s: %w", c.Table, c.ID, err)
	}
	return payload, nil
}

// Decode parses a payload produced by Encode.
func Decode(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode change: %w", err)
	}
	if env.Change.Table == "" || env.Change.ID == "" {
		return Envelope{}, fmt.Errorf("decode change: missing table or id")
	}
	switch env.Change.Op {
	case store.OpInsert, store.OpUpdate:
		if env.Change.Record == nil {
			return Envelope{}, fmt.Errorf("decode change: %s without record", env.Change.Op)
		}
	case store.OpDelete:
	default:
		return Envelope{}, fmt.Errorf("decode change: unknown op %q", env.Change.Op)
	}
	return env, nil
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Publisher forwards local changes to Redis.
type Publisher struct {
	client *redis.Client
	origin string
	prefix string
	logger *slog.Logger
}

// NewPublisher returns a publisher stamping messages with origin.
func NewPublisher(client *redis.Client, origin, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, origin: origin, prefix: prefix, logger: logger}
}

// Publish sends one change.
func (p *Publisher) Publish(ctx context.Context, c store.Change) error {
	payload, err := Encode(p.origin, c)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, Channel(p.prefix, c.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish %s/%s: %w", c.Table, c.ID, err)
	}
	return nil
}

// Forward publishes every change read from src until ctx is done or src
// ends. Publish failures are logged and do not stop forwarding.
func (p *Publisher) Forward(ctx context.Context, src interface {
	Next(context.Context) (store.Change, error)
}) error {
	for {
		c, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, store.ErrSubscriptionClosed) {
				return nil
			}
			return err
		}
		if err := p.Publish(ctx, c); err != nil {
			p.logger.Warn("feed publish failed",
				"table", c.Table,
				"id", c.ID,
				"error", err)
		}
	}
}

// Subscriber reads remote changes for the given tables.
type Subscriber struct {
	messages <-chan *redis.Message
	closer   func() error
	origin   string
	logger   *slog.Logger
}

// Subscribe opens a pub/sub connection for tables. Messages stamped with
// origin are skipped so a process does not re-apply its own writes.
func Subscribe(ctx context.Context, client *redis.Client, origin, prefix string, logger *slog.Logger, tables ...string) (*Subscriber, error) {
	channels := make([]string, 0, len(tables))
	for _, t := range tables {
		channels = append(channels, Channel(prefix, t))
	}
	pubsub := client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return newSubscriber(pubsub.Channel(), pubsub.Close, origin, logger), nil
}

func newSubscriber(messages <-chan *redis.Message, closer func() error, origin string, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{messages: messages, closer: closer, origin: origin, logger: logger}
}

// Next returns the next remote change. Malformed payloads are logged and
// skipped.
func (s *Subscriber) Next(ctx context.Context) (store.Change, error) {
	for {
		select {
		case <-ctx.Done():
			return store.Change{}, ctx.Err()
		case msg, ok := <-s.messages:
			if !ok {
				return store.Change{}, ErrClosed
			}
			env, err := Decode(msg.Payload)
			if err != nil {
				s.logger.Warn("feed message dropped",
					"channel", msg.Channel,
					"error", err)
				continue
			}
			if s.origin != "" && env.Origin == s.origin {
				continue
			}
			return env.Change, nil
		}
	}
}

// Close ends the subscription.
func (s *Subscriber) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
