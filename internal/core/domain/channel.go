package domain

import (
	"encoding/json"
	"time"
)

// ChannelState enumerates the socket states of a realtime subscription.
type ChannelState string

const (
	// ChannelConnecting means a dial is in progress.
	ChannelConnecting ChannelState = "connecting"
	// ChannelOpen means the socket is established and delivering events.
	ChannelOpen ChannelState = "open"
	// ChannelRetrying means the socket dropped and a reconnect is pending.
	ChannelRetrying ChannelState = "retrying"
	// ChannelClosedIntentional means the subscriber tore the channel down;
	// no reconnect will be scheduled.
	ChannelClosedIntentional ChannelState = "closed"
)

// String returns the state name.
func (s ChannelState) String() string {
	return string(s)
}

// Event is one server-pushed message on a named topic. Delivery is
// at-most-once per connection; consumers union it with periodic polling
// for eventual consistency.
type Event struct {
	Topic      string          `json:"-"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}
