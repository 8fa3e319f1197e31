package ssh

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is a Transport over one SSH connection. Commands open a session
// each; file operations share one SFTP subsystem opened on first use.
type Client struct {
	cfg *Config

	mu       sync.Mutex
	conn     *ssh.Client
	files    *sftp.Client
	lastUsed time.Time
	stop     chan struct{}
}

var _ Transport = (*Client)(nil)

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &OpError{Op: "configure", Err: err}
	}
	return &Client{cfg: cfg}, nil
}

// Connect dials and authenticates. The dial and the handshake both honor
// ctx. Connecting an already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	clientCfg, release, err := c.cfg.ClientConfig()
	if err != nil {
		return &OpError{Op: "connect", Err: err, AuthFailed: true}
	}
	defer release()

	addr := c.cfg.Address()
	dialer := net.Dialer{Timeout: c.cfg.ConnectionTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &OpError{Op: "connect", Err: err, Temporary: true}
	}

	// The handshake has no context of its own.
	stopWatch := context.AfterFunc(ctx, func() { _ = nc.Close() })
	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, clientCfg)
	stopWatch()
	if err != nil {
		_ = nc.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &OpError{Op: "connect", Err: ctxErr, Temporary: true}
		}
		return &OpError{Op: "handshake", Err: err, AuthFailed: isAuthFailure(err)}
	}

	c.conn = ssh.NewClient(sc, chans, reqs)
	c.lastUsed = time.Now()
	if c.cfg.KeepAliveInterval > 0 {
		c.stop = make(chan struct{})
		go c.keepAlive(c.conn, c.stop)
	}

	log.Debug().Str("address", addr).Str("user", c.cfg.User).Msg("SSH connection established")
	return nil
}

// x/crypto reports rejected credentials only in the message.
func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// Disconnect closes the SFTP subsystem and the connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.files != nil {
		_ = c.files.Close()
		c.files = nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return &OpError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Disconnect has not run.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// LastUsed returns when the connection last carried a request.
func (c *Client) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *Client) keepAlive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			failures++
			log.Warn().Err(err).Str("host", c.cfg.Host).Int("failures", failures).Msg("SSH keep-alive failed")
			if failures > c.cfg.MaxKeepAliveRetries {
				// Closing makes every pending and later call fail as lost.
				_ = conn.Close()
				return
			}
			continue
		}
		failures = 0
		c.touch()
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *Client) client(op string) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, &OpError{Op: op, Err: ErrNotConnected, Lost: true}
	}
	c.lastUsed = time.Now()
	return c.conn, nil
}

func (c *Client) sftp(op string) (*sftp.Client, error) {
	conn, err := c.client(op)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.files == nil {
		files, err := sftp.NewClient(conn)
		if err != nil {
			return nil, &OpError{Op: op, Err: err, Temporary: true, Lost: true}
		}
		c.files = files
	}
	return c.files, nil
}
