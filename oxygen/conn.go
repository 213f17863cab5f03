package oxygen

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arloliu/go-oxygen/internal/pool"
	"github.com/arloliu/go-oxygen/logger"
	"github.com/arloliu/go-oxygen/scpi"
)

// recvBlockSize is the read chunk size while accumulating a reply.
const recvBlockSize = 4096

// Connection is the single TCP connection to the device. The protocol has
// no request correlation, so one connection carries exactly one logical
// session and strictly one exchange at a time; a single mutex serializes
// every send and every send-and-read exchange.
type Connection struct {
	cfg    *ConnectionConfig
	logger logger.Logger

	mu   sync.Mutex
	conn net.Conn

	// dialFunc is a seam for tests; nil selects net.Dialer.DialContext.
	dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
}

func newConnection(cfg *ConnectionConfig) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// Open establishes the TCP connection, retrying transient dial failures up
// to the configured attempt bound. A refused connection fails immediately:
// the device is not listening and retrying wastes no-op cycles.
//
// Open does not perform the protocol handshake; see Client.Connect.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(c.cfg.host, strconv.Itoa(c.cfg.port))

	dial := c.dialFunc
	if dial == nil {
		dialer := &net.Dialer{Timeout: c.cfg.dialTimeout}
		dial = dialer.DialContext
	}

	attempt := 0
	operation := func() error {
		attempt++

		conn, err := dial(ctx, "tcp", addr)
		if err == nil {
			c.conn = conn
			return nil
		}

		if errors.Is(err, syscall.ECONNREFUSED) {
			c.logger.Error("connection refused", "addr", addr, "error", err)
			return backoff.Permanent(fmt.Errorf("%w: %v", scpi.ErrConnRefused, err))
		}

		c.logger.Warn("connect attempt failed", "addr", addr, "attempt", attempt, "error", err)

		return err
	}

	// The per-attempt dial timeout already paces retries; no extra backoff
	// delay between attempts.
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(c.cfg.connectAttempts-1)), //nolint:gosec
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("connect to %s failed: %w", addr, err)
	}

	c.logger.Debug("connected", "addr", addr)

	return nil
}

// Connected reports whether the TCP connection is currently established.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

// Close shuts the connection down. Shutdown and close errors are logged and
// swallowed; the connection handle is cleared in every case.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.conn == nil {
		return
	}

	if tcpConn, ok := c.conn.(*net.TCPConn); ok {
		if err := tcpConn.CloseWrite(); err != nil {
			c.logger.Error("error shutting down connection", "error", err)
		}
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Error("error closing connection", "error", err)
	}

	c.conn = nil
}

// Send writes a single newline-terminated command and waits the configured
// settling delay before returning.
func (c *Connection) Send(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sendLocked(ctx, cmd)
}

func (c *Connection) sendLocked(ctx context.Context, cmd string) error {
	if err := c.writeLocked(cmd); err != nil {
		return err
	}

	// Pacing between commands; the settle delay is held under the mutex so
	// no other exchange can start early.
	if c.cfg.commandDelay > 0 {
		if err := pool.Sleep(ctx, c.cfg.commandDelay); err != nil {
			return err
		}
	}

	return nil
}

func (c *Connection) writeLocked(cmd string) error {
	if c.conn == nil {
		return scpi.ErrNotConnected
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.readTimeout)); err != nil {
		c.closeLocked()
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		c.logger.Error("failed to send command", "cmd", cmd, "error", err)
		c.closeLocked()

		return fmt.Errorf("send %q: %w", cmd, err)
	}

	return nil
}

// Ask writes a query and reads the reply. Chunks are accumulated until the
// final byte of the most recently read chunk is the line terminator; the
// accumulated buffer is never scanned for the terminator because binary
// replies may carry 0x0A inside the payload.
//
// Any transport error closes the connection and fails this call only.
func (c *Connection) Ask(ctx context.Context, cmd string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = ctx // reads are bounded by the read deadline, not the context

	if err := c.writeLocked(cmd); err != nil {
		return nil, err
	}

	var answer []byte
	buf := make([]byte, recvBlockSize)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout)); err != nil {
			c.closeLocked()
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			answer = append(answer, buf[:n]...)
		}
		if err != nil {
			c.logger.Error("failed to read reply", "cmd", cmd, "error", err)
			c.closeLocked()

			return nil, fmt.Errorf("read reply for %q: %w", cmd, err)
		}

		if n > 0 && buf[n-1] == '\n' {
			return answer, nil
		}
	}
}
