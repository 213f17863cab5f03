package oxygen

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/arloliu/go-oxygen/logger"
	"github.com/arloliu/go-oxygen/scpi"
)

// DefaultPort is the TCP port the device listens on by default.
const DefaultPort = 10001

// ConnectionConfig represents the configuration parameters for a connection
// to an Oxygen SCPI device.
type ConnectionConfig struct {
	// host specifies the host of the remote device.
	host string

	// port specifies the TCP port number of the remote device.
	port int

	// connectAttempts bounds how many times a connect is attempted before
	// giving up. A refused connection is terminal regardless of this bound.
	// Defaults to 3.
	connectAttempts int

	// dialTimeout is the per-attempt timeout for establishing the TCP
	// connection.
	// Defaults to 5 seconds.
	dialTimeout time.Duration

	// readTimeout is the deadline applied to each read while waiting for a
	// reply. The protocol has no reply correlation, so a stalled device
	// must fail the call instead of hanging it forever.
	// Defaults to 5 seconds.
	readTimeout time.Duration

	// commandDelay is the settling pause after every command write. The
	// remote command processor is not strictly pipelined; back-to-back
	// writes without pacing can be dropped.
	// Defaults to 50 milliseconds.
	commandDelay time.Duration

	// elogPollInterval is the idle pause between empty fetches inside the
	// accumulated ELOG fetch loop. Short by default to minimize added
	// end-to-end latency for live accumulation.
	// Defaults to 50 milliseconds.
	elogPollInterval time.Duration

	// autoReconnect makes commands issued on a closed session reconnect
	// (including the full handshake and state resync) before sending.
	// Reconnection is an explicit policy choice, never an implicit side
	// effect of a send.
	// Defaults to false.
	autoReconnect bool

	// logger provides a logger instance for connection events and errors.
	logger logger.Logger
}

// NewConnectionConfig creates a connection configuration for the device at
// the given host and port with optional functional options.
//
// A port of 0 selects DefaultPort. See the WithXXX functions for the
// available options.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any
// occurred during the configuration process.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		connectAttempts:  3,
		dialTimeout:      5 * time.Second,
		readTimeout:      5 * time.Second,
		commandDelay:     50 * time.Millisecond,
		elogPollInterval: 50 * time.Millisecond,
		autoReconnect:    false,
		logger:           logger.GetLogger(),
	}

	if port == 0 {
		port = DefaultPort
	}

	if err := withRemoteHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error { return c.applyFunc(cfg) }

func newConnOptFunc(name string, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		applyFunc: f,
	}
}

// withRemoteHost sets the host of the remote device.
// It returns a ConnOption that validates the host and updates the configuration.
func withRemoteHost(host string) ConnOption {
	return newConnOptFunc("withRemoteHost", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errors.New("connection config is nil")
		}

		// Check if it's a valid IP address
		if ip := net.ParseIP(host); ip != nil {
			cfg.host = host
			return nil
		}

		// If not an IP, check if it's a valid domain name
		host = strings.TrimPrefix(host, ".")
		host = strings.TrimSuffix(host, ".")
		if _, err := net.LookupHost(host); err == nil {
			cfg.host = host
			return nil
		}

		return errors.New("invalid host")
	})
}

// withPort sets the TCP port number of the remote device.
// It returns a ConnOption that validates the port number and updates the configuration.
func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errors.New("connection config is nil")
		}

		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithConnectAttempts bounds how many times a connect is attempted before
// giving up. A refused connection fails immediately regardless of the bound.
// An error is returned if the bound is outside the valid range (1-10).
//
// The default value is 3.
func WithConnectAttempts(attempts int) ConnOption {
	return newConnOptFunc("WithConnectAttempts", func(cfg *ConnectionConfig) error {
		if attempts < 1 || attempts > 10 {
			return errors.New("connect attempts out of range [1, 10]")
		}
		cfg.connectAttempts = attempts

		return nil
	})
}

// WithDialTimeout sets the per-attempt timeout for establishing the TCP
// connection.
// An error is returned if the timeout is outside the valid range (0.1-30 seconds).
//
// The default value is 5 seconds.
func WithDialTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithDialTimeout", func(cfg *ConnectionConfig) error {
		if val < 100*time.Millisecond || val > 30*time.Second {
			return errors.New("dial timeout out of range [0.1, 30]")
		}
		cfg.dialTimeout = val

		return nil
	})
}

// WithReadTimeout sets the deadline applied to each read while waiting for
// a reply.
// An error is returned if the timeout is outside the valid range (0.1-120 seconds).
//
// The default value is 5 seconds.
func WithReadTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithReadTimeout", func(cfg *ConnectionConfig) error {
		if val < 100*time.Millisecond || val > 120*time.Second {
			return errors.New("read timeout out of range [0.1, 120]")
		}
		cfg.readTimeout = val

		return nil
	})
}

// WithCommandDelay sets the settling pause after every command write.
// An error is returned if the delay is negative or longer than 1 second.
//
// The default value is 50 milliseconds.
func WithCommandDelay(val time.Duration) ConnOption {
	return newConnOptFunc("WithCommandDelay", func(cfg *ConnectionConfig) error {
		if val < 0 || val > time.Second {
			return errors.New("command delay out of range [0, 1]")
		}
		cfg.commandDelay = val

		return nil
	})
}

// WithElogPollInterval sets the idle pause between empty fetches inside the
// accumulated ELOG fetch loop.
// An error is returned if the interval is outside the valid range (1ms-10 seconds).
//
// The default value is 50 milliseconds.
func WithElogPollInterval(val time.Duration) ConnOption {
	return newConnOptFunc("WithElogPollInterval", func(cfg *ConnectionConfig) error {
		if val < time.Millisecond || val > 10*time.Second {
			return errors.New("elog poll interval out of range [0.001, 10]")
		}
		cfg.elogPollInterval = val

		return nil
	})
}

// WithAutoReconnect enables reconnecting (including the full handshake and
// state resync) when a command is issued on a closed session. When disabled,
// such commands fail with scpi.ErrNotConnected.
//
// The default value is false.
func WithAutoReconnect(val bool) ConnOption {
	return newConnOptFunc("WithAutoReconnect", func(cfg *ConnectionConfig) error {
		cfg.autoReconnect = val

		return nil
	})
}

// WithLogger sets the logger for the connection.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", func(cfg *ConnectionConfig) error {
		if l == nil {
			return scpi.ErrInvalidArgument
		}
		cfg.logger = l

		return nil
	})
}
