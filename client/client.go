// Package client implements the line-delimited JSON protocol client for the
// overlay renderer's control channel.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gOOvER/EDMCOverlay/message"
	"github.com/gOOvER/EDMCOverlay/metrics"
	"go.uber.org/zap"
)

// State is the connection state of a Client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

const (
	DefaultAttempts     = 3
	DefaultDialTimeout  = 5 * time.Second
	DefaultRetryDelay   = 1 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// Client owns one TCP connection to the renderer. Connect retries within a
// bounded budget; SendRaw never retries, so a caller always knows whether a
// given message went out. All methods are safe for concurrent use.
type Client struct {
	logger       *zap.SugaredLogger
	addr         string
	attempts     int
	dialTimeout  time.Duration
	retryDelay   time.Duration
	writeTimeout time.Duration
	collector    metrics.Collector

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	state atomic.Int32

	// mu serializes connect sequences and guards conn.
	mu   sync.Mutex
	conn net.Conn
}

type Option func(c *Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l.Named("client").Sugar()
	}
}

// WithAttempts sets the connect attempt budget. Values below one count as
// one: a Connect always gets at least one dial.
func WithAttempts(n int) Option {
	return func(c *Client) {
		c.attempts = n
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(c *Client) {
		c.collector = m
	}
}

// New builds a client for the renderer at addr. The connection is not opened
// until Connect.
func New(addr string, opts ...Option) *Client {
	c := &Client{
		logger:       zap.NewNop().Sugar(),
		addr:         addr,
		attempts:     DefaultAttempts,
		dialTimeout:  DefaultDialTimeout,
		retryDelay:   DefaultRetryDelay,
		writeTimeout: DefaultWriteTimeout,
		collector:    metrics.NewNopCollector(),
	}
	c.dial = (&net.Dialer{}).DialContext
	for _, o := range opts {
		o(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	return c
}

// Addr returns the renderer address this client dials.
func (c *Client) Addr() string {
	return c.addr
}

// State returns the current connection state without blocking on an
// in-flight connect sequence.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// Connect establishes the connection, retrying up to the attempt budget with
// a fixed delay between attempts. It is a no-op when already connected.
// Concurrent callers serialize: whoever holds the mutex dials, the rest
// observe the result.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == Connected {
		return nil
	}
	c.setState(Connecting)

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				c.setState(Disconnected)
				return fmt.Errorf("connecting to %s: %w", c.addr, ctx.Err())
			case <-time.After(c.retryDelay):
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		conn, err := c.dial(dialCtx, "tcp", c.addr)
		cancel()
		if err == nil {
			c.conn = conn
			c.setState(Connected)
			c.logger.Debugw("connected", "addr", c.addr, "attempt", attempt)
			c.collector.RecordConnectionEvent(metrics.EventConnect, time.Since(start))
			return nil
		}

		lastErr = err
		c.logger.Debugw("connect attempt failed", "addr", c.addr, "attempt", attempt, "err", err)
	}

	c.setState(Disconnected)
	c.collector.RecordConnectionEvent(metrics.EventConnectFailed, time.Since(start))
	c.collector.RecordError("connect_failed", lastErr.Error())
	return &ConnectError{Addr: c.addr, Attempts: c.attempts, Last: lastErr}
}

// SendRaw sanitizes msg, serializes it, and writes it as one
// newline-terminated line. A write failure drops the connection and returns
// ConnectionLostError; the caller decides whether to Connect again.
func (c *Client) SendRaw(ctx context.Context, msg message.Raw) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	clean := message.Sanitize(msg)
	b, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	b = append(b, '\n')

	start := time.Now()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(b); err != nil {
		c.conn.Close()
		c.conn = nil
		c.setState(Disconnected)
		c.logger.Debugw("send failed, connection dropped", "err", err)
		c.collector.RecordConnectionEvent(metrics.EventConnectionLost, 0)
		c.collector.RecordError("send_failed", err.Error())
		return &ConnectionLostError{Cause: err}
	}

	c.collector.RecordMessageSent(message.TypeOf(clean), time.Since(start))
	return nil
}

// Disconnect closes the connection if open. It is idempotent; the returned
// close error is informational and safe to ignore.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.setState(Disconnected)
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.setState(Disconnected)
	c.collector.RecordConnectionEvent(metrics.EventDisconnect, 0)
	if err != nil {
		c.logger.Debugw("error closing connection", "err", err)
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}
