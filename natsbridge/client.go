package natsbridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/health"
	"github.com/c360/controlbus/metric"
	"github.com/c360/controlbus/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Client owns the NATS connection used by proxies and servers, and tracks
// its status for health reporting.
type Client struct {
	url    string
	status atomic.Int32
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn

	// Connection options
	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	dial          retry.Policy

	metrics *metric.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientName sets the connection name shown by the server
func WithClientName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

// WithReconnect sets the reconnect policy; a negative max retries forever
func WithReconnect(maxReconnects int, wait time.Duration) ClientOption {
	return func(c *Client) {
		c.maxReconnects = maxReconnects
		c.reconnectWait = wait
	}
}

// WithConnectTimeout bounds the initial connection attempt
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithConnectRetry retries the initial connection under policy. Reconnects
// after a successful connection follow WithReconnect.
func WithConnectRetry(policy retry.Policy) ClientOption {
	return func(c *Client) {
		c.dial = policy
	}
}

// WithClientLogger sets the client logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientMetrics reports the connection state into the registry's core metrics
func WithClientMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) {
		c.metrics = registry.CoreMetrics()
	}
}

// NewClient creates a client for url. Connect dials it.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		dial:          retry.Once(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("nats_url", url)
	return c
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
	c.metrics.RecordNATSStatus(s == StatusConnected)
}

// Conn returns the underlying connection, nil before Connect
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	return opts
}

// Connect establishes the connection, giving up when ctx ends
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusConnected {
		return nil
	}
	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS")

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := retry.DoWithResult(ctx, c.dial, func(context.Context) (*nats.Conn, error) {
			conn, err := nats.Connect(c.url, c.connectionOptions()...)
			if err != nil {
				c.logger.Debug("NATS connection attempt failed", "error", err)
			}
			return conn, err
		})
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
		}
		c.mu.Lock()
		c.conn = r.conn
		c.mu.Unlock()
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		go func() {
			// a late connection is closed rather than leaked
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS")
	return nil
}

// Close drains and closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.WrapTransient(err, "Client", "Close", "drain connection")
	}
	return nil
}

// Health implements health.Reporter
func (c *Client) Health() health.Status {
	switch s := c.Status(); s {
	case StatusConnected:
		return health.NewHealthy("nats", "connected")
	case StatusReconnecting:
		return health.NewDegraded("nats", "reconnecting")
	default:
		return health.NewUnhealthy("nats", s.String())
	}
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.logger.Info("Reconnected to NATS")
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.logger.Debug("NATS connection closed")
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS error", "error", err)
}
