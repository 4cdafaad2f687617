// Package pubsub defines the publish/subscribe transport used to fan chat
// events out to live subscribers, and a registry of its implementations.
//
// Delivery is best-effort: a publish which reaches the broker is done as
// far as the core is concerned; per-subscriber delivery guarantees belong
// to the broker.
package pubsub

import (
	"encoding/json"
	"errors"
)

// Handler consumes messages arriving on a subscribed channel.
type Handler func(channel string, payload []byte)

// Subscription is a live binding of a handler to one channel.
type Subscription interface {
	// Unsubscribe detaches the handler. Safe to call more than once.
	Unsubscribe() error
}

// Transport is a connection to a message broker keyed by channel name.
// Channel names are dot-separated tokens, e.g. "chat.topic.<id>".
type Transport interface {
	// Open connects to the broker using transport-specific JSON config.
	Open(config json.RawMessage) error
	// Close drops the connection and all subscriptions.
	Close() error
	// IsOpen checks if the transport is connected.
	IsOpen() bool
	// GetName returns the registered name of the transport.
	GetName() string
	// Publish sends one payload to every current subscriber of the channel.
	Publish(channel string, payload []byte) error
	// Subscribe attaches a handler to the channel.
	Subscribe(channel string, h Handler) (Subscription, error)
}

var tpt Transport
var availableTransports = make(map[string]Transport)

type configType struct {
	// Transport name to use. Should be one of those specified in `Transports`.
	UseTransport string `json:"use_transport"`
	// Configurations for individual transports.
	Transports map[string]json.RawMessage `json:"transports"`
}

// Register makes a transport available by the name it reports.
// Panics when called twice for the same name or with a nil transport.
func Register(t Transport) {
	if t == nil {
		panic("pubsub: Register transport is nil")
	}

	name := t.GetName()
	if _, ok := availableTransports[name]; ok {
		panic("pubsub: transport '" + name + "' is already registered")
	}
	availableTransports[name] = t
}

// Open selects and connects the transport named in the config.
func Open(jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("pubsub: failed to parse config: " + err.Error())
	}

	if tpt == nil {
		if len(config.UseTransport) > 0 {
			if t, ok := availableTransports[config.UseTransport]; ok {
				tpt = t
			} else {
				return errors.New("pubsub: " + config.UseTransport + " transport is not available in this binary")
			}
		} else if len(availableTransports) == 1 {
			for _, t := range availableTransports {
				tpt = t
			}
		} else {
			return errors.New("pubsub: transport is not specified. Please set `pubsub_config.use_transport`")
		}
	}

	if tpt.IsOpen() {
		return errors.New("pubsub: connection is already opened")
	}

	var transportConfig json.RawMessage
	if config.Transports != nil {
		transportConfig = config.Transports[tpt.GetName()]
	}

	return tpt.Open(transportConfig)
}

// Close shuts the selected transport down.
func Close() error {
	if tpt != nil && tpt.IsOpen() {
		return tpt.Close()
	}
	return nil
}

// Get returns the connected transport.
func Get() Transport {
	return tpt
}
