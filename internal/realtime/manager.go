// Package realtime maintains the live data channels of the agent: one
// websocket subscription per topic, each with its own reconnect loop.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/domain"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/telemetry"
)

var (
	// ErrNotAuthenticated is returned when a subscription is requested
	// without an established session.
	ErrNotAuthenticated = errors.New("realtime: session not authenticated")

	// ErrManagerClosed is returned after Shutdown.
	ErrManagerClosed = errors.New("realtime: manager closed")
)

// SessionGate is the slice of the session layer the manager consults
// before opening or reopening a channel.
type SessionGate interface {
	Authenticated() bool
	AccessToken() string
}

// EventHandler receives decoded channel events in the order they arrive.
type EventHandler func(domain.Event)

// Manager owns channel subscriptions. One goroutine per topic dials,
// reads, and reconnects with exponential backoff until unsubscribed.
type Manager struct {
	baseURL string
	floor   time.Duration
	ceiling time.Duration

	dialer  Dialer
	gate    SessionGate
	metrics *telemetry.Provider
	logger  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

// NewManager constructs the channel manager. The gate decides whether
// dialing is allowed at all.
func NewManager(cfg *config.RealtimeSettings, gate SessionGate, metrics *telemetry.Provider, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		floor:    cfg.ReconnectFloor,
		ceiling:  cfg.ReconnectCeiling,
		dialer:   NewDialer(cfg),
		gate:     gate,
		metrics:  metrics,
		logger:   log,
		now:      time.Now,
		sleep:    sleepContext,
		channels: make(map[string]*channel),
	}
}

// WithDialer swaps the websocket dialer. Used by tests.
func (m *Manager) WithDialer(d Dialer) *Manager {
	m.dialer = d
	return m
}

// WithSleep swaps the backoff wait. Used by tests.
func (m *Manager) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Manager {
	m.sleep = sleep
	return m
}

// WithClock swaps the time source. Used by tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.now = clock
	return m
}

// Subscribe opens a channel for the topic and delivers every decoded
// event to onEvent. Subscribing to an already-subscribed topic replaces
// the previous channel. The returned function tears the channel down
// and is safe to call more than once.
func (m *Manager) Subscribe(topic string, onEvent EventHandler) (func(), error) {
	if !m.gate.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}

	prev := m.channels[topic]
	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		topic:   topic,
		onEvent: onEvent,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   domain.ChannelConnecting,
	}
	m.channels[topic] = ch
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("replacing channel subscription", zap.String("topic", topic))
		prev.stop()
	}

	go m.run(ctx, ch)

	unsubscribe := func() {
		m.mu.Lock()
		if current, ok := m.channels[topic]; ok && current == ch {
			delete(m.channels, topic)
		}
		m.mu.Unlock()
		ch.stop()
	}
	return unsubscribe, nil
}

// States reports the lifecycle state of every live channel, keyed by topic.
func (m *Manager) States() map[string]domain.ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]domain.ChannelState, len(m.channels))
	for topic, ch := range m.channels {
		states[topic] = ch.currentState()
	}
	return states
}

// CloseAll tears down every live channel but keeps the manager
// accepting new subscriptions. Bound to logout, so the next sign-in on
// the same workstation can reopen its streams.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	channels := m.drainLocked()
	m.mu.Unlock()

	m.stopAndWait(channels)
}

// Shutdown tears down every channel and rejects further subscriptions.
// Process disposal only; logout uses CloseAll.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	channels := m.drainLocked()
	m.mu.Unlock()

	m.stopAndWait(channels)
}

// drainLocked empties the channel map. Caller holds m.mu.
func (m *Manager) drainLocked() []*channel {
	channels := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.channels = make(map[string]*channel)
	return channels
}

func (m *Manager) stopAndWait(channels []*channel) {
	for _, ch := range channels {
		ch.stop()
	}
	for _, ch := range channels {
		<-ch.done
	}
	m.logger.Info("realtime channels closed", zap.Int("count", len(channels)))
}

func (m *Manager) run(ctx context.Context, ch *channel) {
	defer close(ch.done)
	defer ch.setState(domain.ChannelClosedIntentional)

	backoff := m.floor
	for {
		if ctx.Err() != nil {
			return
		}
		if !m.gate.Authenticated() {
			// No credential to dial with; keep backing off so the channel
			// self-heals once the user signs back in.
			ch.setState(domain.ChannelRetrying)
			m.logger.Debug("session not authenticated, delaying reconnect",
				zap.String("topic", ch.topic),
				zap.Duration("retry_in", backoff),
			)
			if m.sleep(ctx, backoff) != nil {
				return
			}
			backoff = nextBackoff(backoff, m.ceiling)
			continue
		}

		sock, err := m.dialer.Dial(ctx, m.channelURL(ch.topic), m.authHeader())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.metrics.IncReconnect()
			ch.setState(domain.ChannelRetrying)
			m.logger.Warn("channel dial failed",
				zap.String("topic", ch.topic),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			if m.sleep(ctx, backoff) != nil {
				return
			}
			backoff = nextBackoff(backoff, m.ceiling)
			continue
		}

		backoff = m.floor
		ch.setSocket(sock)
		ch.setState(domain.ChannelOpen)
		m.logger.Info("channel open", zap.String("topic", ch.topic))

		m.readLoop(ch, sock)
		sock.Close()
		ch.setSocket(nil)

		if ctx.Err() != nil {
			return
		}

		m.metrics.IncReconnect()
		ch.setState(domain.ChannelRetrying)
		m.logger.Warn("channel dropped, reconnecting",
			zap.String("topic", ch.topic),
			zap.Duration("retry_in", backoff),
		)
		if m.sleep(ctx, backoff) != nil {
			return
		}
		backoff = nextBackoff(backoff, m.ceiling)
	}
}

func (m *Manager) readLoop(ch *channel, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			return
		}

		var evt domain.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			m.metrics.IncDropped(ch.topic)
			m.logger.Warn("malformed channel payload dropped",
				zap.String("topic", ch.topic),
				zap.Error(err),
			)
			continue
		}

		evt.Topic = ch.topic
		evt.ReceivedAt = m.now()
		m.metrics.IncEvent(ch.topic)
		ch.onEvent(evt)
	}
}

func (m *Manager) channelURL(topic string) string {
	return m.baseURL + "/" + topic
}

func (m *Manager) authHeader() http.Header {
	header := http.Header{}
	if token := m.gate.AccessToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		next = ceiling
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type channel struct {
	topic   string
	onEvent EventHandler
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	sock    Socket
	state   domain.ChannelState
	stopped bool
}

func (c *channel) stop() {
	c.cancel()
	c.mu.Lock()
	c.stopped = true
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

// setSocket records the live connection so stop can unblock the read
// loop. A socket handed over after stop has run is closed on the spot.
func (c *channel) setSocket(sock Socket) {
	c.mu.Lock()
	stopped := c.stopped
	if !stopped {
		c.sock = sock
	}
	c.mu.Unlock()
	if stopped && sock != nil {
		sock.Close()
	}
}

func (c *channel) setState(state domain.ChannelState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *channel) currentState() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
