package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/crypto"
)

// TokenReader provides the live session pair for the handshake. Written only
// by the authentication service.
type TokenReader interface {
	Token() string
	Hash() string
}

// ClientConfig configures a single stream connection.
type ClientConfig struct {
	URL               string        // Stream endpoint (wss://...)
	HeartbeatInterval time.Duration // Ping when idle this long; stale at twice it
	ConnectionTimeout time.Duration // Handshake deadline
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Inbound frame channel capacity
}

func (c *ClientConfig) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Minute
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
}

// Client is one WebSocket connection to the broker. A Client connects once;
// after a close or transport error the manager builds a fresh one.
type Client struct {
	cfg    ClientConfig
	creds  *crypto.Credentials
	tokens TokenReader
	logger zerolog.Logger

	conn *websocket.Conn

	messages chan InboundFrame
	errors   chan error
	done     chan struct{}

	// Write serialization: gorilla allows one writer at a time, and the
	// broker requires frame ordering on the control path.
	writeMu sync.Mutex

	mu           sync.RWMutex
	connected    bool
	closed       bool
	lastInbound  time.Time // Any frame or pong from the broker
	lastActivity time.Time // Any frame in or out; gates the idle ping
}

// NewClient builds a stream client. The handshake is signed with the same
// headers as a REST call, so tokens must hold a live pair before Connect.
func NewClient(cfg ClientConfig, creds *crypto.Credentials, tokens TokenReader, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:      cfg,
		creds:    creds,
		tokens:   tokens,
		logger:   logger,
		messages: make(chan InboundFrame, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the broker with signed headers and starts the read and
// heartbeat loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	hash := ""
	if c.tokens != nil {
		hash = c.tokens.Hash()
	}
	if hash == "" {
		return ErrNotAuthenticated
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}

	// The handshake is signed like a REST call with an empty body; the
	// Checker covers the stream path.
	header := http.Header{}
	for k, v := range c.creds.SignRequest(u.Path, nil, hash) {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectionTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	now := time.Now()
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastInbound = now
	c.lastActivity = now
	c.mu.Unlock()

	// Broker pings get a pong and count as inbound traffic.
	conn.SetPingHandler(func(data string) error {
		c.noteInbound()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Pongs answer our heartbeat pings.
	conn.SetPongHandler(func(string) error {
		c.noteInbound()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug().Str("url", c.cfg.URL).Msg("stream connected")
	return nil
}

// Close sends a close frame and tears the connection down. Safe to call
// twice.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

// Send writes one text frame. Writes are serialized; each counts as
// activity for the heartbeat timer.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// Messages returns the inbound frame channel.
func (c *Client) Messages() <-chan InboundFrame { return c.messages }

// Errors returns the transport error channel. At most one error is
// delivered; after that the client is dead.
func (c *Client) Errors() <-chan error { return c.errors }

// Done is closed when the client shuts down for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// IsConnected reports the current transport state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) noteInbound() {
	now := time.Now()
	c.mu.Lock()
	c.lastInbound = now
	c.lastActivity = now
	c.mu.Unlock()
}

// readLoop reads frames until the transport fails or the client closes.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close are the close itself, not a failure.
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		c.noteInbound()

		select {
		case c.messages <- InboundFrame{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			c.logger.Warn().Msg("frame buffer full, dropping frame")
		}
	}
}

// heartbeatLoop pings when the line has been idle for a full interval and
// reports staleness after two intervals without inbound traffic.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			idle := time.Since(c.lastActivity)
			silent := time.Since(c.lastInbound)
			c.mu.RUnlock()

			// Two missed heartbeats force a reconnect.
			if silent >= 2*c.cfg.HeartbeatInterval {
				c.logger.Warn().
					Dur("silent", silent).
					Dur("interval", c.cfg.HeartbeatInterval).
					Msg("no inbound traffic, connection stale")
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}

			if idle < c.cfg.HeartbeatInterval || conn == nil {
				continue
			}

			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), deadline); err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat ping failed")
				continue
			}
			c.mu.Lock()
			c.lastActivity = time.Now()
			c.mu.Unlock()
		}
	}
}
