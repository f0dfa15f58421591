package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
)

// Socket is the read surface of one open channel connection.
type Socket interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a channel connection against the realtime endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

type wsDialer struct {
	handshakeTimeout time.Duration
	maxMessageSize   int64
}

// NewDialer builds the production websocket dialer from config.
func NewDialer(cfg *config.RealtimeSettings) Dialer {
	return &wsDialer{
		handshakeTimeout: cfg.HandshakeTimeout,
		maxMessageSize:   cfg.MaxMessageSize,
	}
}

func (d *wsDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout:  d.handshakeTimeout,
		EnableCompression: false,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("channel handshake rejected with %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("channel dial failed: %w", err)
	}

	if d.maxMessageSize > 0 {
		conn.SetReadLimit(d.maxMessageSize)
	}

	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}
