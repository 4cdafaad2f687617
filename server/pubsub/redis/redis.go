// Package redis is a pubsub transport over Redis Pub/Sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/banter-chat/banter/server/pubsub"
)

const transportName = "redis"

// transport holds the Redis client.
type transport struct {
	rdb    *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

type configType struct {
	// Server address, e.g. "localhost:6379".
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// Open connects to the Redis server and verifies the connection.
func (t *transport) Open(jsonconf json.RawMessage) error {
	if t.rdb != nil {
		return errors.New("redis transport is already connected")
	}

	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("redis transport failed to parse config: " + err.Error())
	}

	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}

	ctx, cancel := context.WithCancel(context.Background())
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		return err
	}

	t.rdb = rdb
	t.ctx = ctx
	t.cancel = cancel
	return nil
}

// Close drops the connection and stops all subscription readers.
func (t *transport) Close() error {
	if t.rdb == nil {
		return nil
	}
	t.cancel()
	err := t.rdb.Close()
	t.rdb = nil
	return err
}

// IsOpen checks if the transport is connected.
func (t *transport) IsOpen() bool {
	return t.rdb != nil
}

// GetName returns the registered name of the transport.
func (t *transport) GetName() string {
	return transportName
}

// Publish sends the payload to every current subscriber of the channel.
func (t *transport) Publish(channel string, payload []byte) error {
	if t.rdb == nil {
		return errors.New("redis transport is not connected")
	}
	return t.rdb.Publish(t.ctx, channel, payload).Err()
}

type subscription struct {
	ps *redis.PubSub
}

// Unsubscribe detaches the handler.
func (s *subscription) Unsubscribe() error {
	if s.ps == nil {
		return nil
	}
	err := s.ps.Close()
	s.ps = nil
	return err
}

// Subscribe attaches a handler to the channel. Messages are drained on a
// dedicated goroutine which exits when the subscription or transport closes.
func (t *transport) Subscribe(channel string, h pubsub.Handler) (pubsub.Subscription, error) {
	if t.rdb == nil {
		return nil, errors.New("redis transport is not connected")
	}

	ps := t.rdb.Subscribe(t.ctx, channel)
	// Force the subscription to be established before returning.
	if _, err := ps.Receive(t.ctx); err != nil {
		ps.Close()
		return nil, err
	}

	go func() {
		for m := range ps.Channel() {
			h(m.Channel, []byte(m.Payload))
		}
	}()

	return &subscription{ps: ps}, nil
}

func init() {
	pubsub.Register(&transport{})
}
