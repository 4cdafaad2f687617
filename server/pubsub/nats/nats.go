// Package nats is a pubsub transport over a NATS server.
package nats

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banter-chat/banter/server/pubsub"
)

const transportName = "nats"

// transport holds the NATS connection.
type transport struct {
	nc *nats.Conn
}

type configType struct {
	// Server URLs, e.g. ["nats://localhost:4222"].
	Servers []string `json:"servers"`
	// Connection name reported to the server.
	Name string `json:"name,omitempty"`
	// Reconnection backoff (milliseconds).
	ReconnectWait int `json:"reconnect_wait,omitempty"`
	// Dial timeout (milliseconds).
	Timeout int `json:"timeout,omitempty"`
}

// Open connects to the NATS cluster. Reconnects are unlimited: a chat
// event published while the broker is away is simply lost, per the
// best-effort delivery contract.
func (t *transport) Open(jsonconf json.RawMessage) error {
	if t.nc != nil {
		return errors.New("nats transport is already connected")
	}

	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("nats transport failed to parse config: " + err.Error())
	}

	if len(config.Servers) == 0 {
		config.Servers = []string{nats.DefaultURL}
	}
	if config.Name == "" {
		config.Name = "banter"
	}
	if config.ReconnectWait <= 0 {
		config.ReconnectWait = 500
	}
	if config.Timeout <= 0 {
		config.Timeout = 2000
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Duration(config.ReconnectWait) * time.Millisecond),
		nats.Timeout(time.Duration(config.Timeout) * time.Millisecond),
	}
	nc, err := nats.Connect(strings.Join(config.Servers, ","), opts...)
	if err != nil {
		return err
	}

	t.nc = nc
	return nil
}

// Close drops the connection.
func (t *transport) Close() error {
	if t.nc != nil {
		t.nc.Close()
		t.nc = nil
	}
	return nil
}

// IsOpen checks if the transport is connected.
func (t *transport) IsOpen() bool {
	return t.nc != nil
}

// GetName returns the registered name of the transport.
func (t *transport) GetName() string {
	return transportName
}

// Publish sends the payload to the channel's subject.
func (t *transport) Publish(channel string, payload []byte) error {
	if t.nc == nil {
		return errors.New("nats transport is not connected")
	}
	return t.nc.Publish(channel, payload)
}

type subscription struct {
	sub *nats.Subscription
}

// Unsubscribe detaches the handler.
func (s *subscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}

// Subscribe attaches a handler to the channel's subject.
func (t *transport) Subscribe(channel string, h pubsub.Handler) (pubsub.Subscription, error) {
	if t.nc == nil {
		return nil, errors.New("nats transport is not connected")
	}
	sub, err := t.nc.Subscribe(channel, func(m *nats.Msg) {
		h(m.Subject, m.Data)
	})
	if err != nil {
		return nil, err
	}
	return &subscription{sub: sub}, nil
}

func init() {
	pubsub.Register(&transport{})
}
