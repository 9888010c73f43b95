package mitutoyo

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/lsst-ts/ts-pmd/logger"
)

// ConnectionConfig represents the configuration parameters for a device link to a dial-gauge hub.
type ConnectionConfig struct {
	// host specifies the host of the terminal server the hub is attached to.
	host string

	// port specifies the TCP port number of the terminal server.
	port int

	// connectTimeout defines the long timeout used when establishing the TCP connection.
	// Defaults to 30 seconds.
	connectTimeout time.Duration

	// readTimeout defines the short timeout used for each reply read.
	// A read timeout is reported as an empty reply, not as an error, because the
	// hub returns nothing rather than erroring when a slot is unreadable.
	// Defaults to 5 seconds.
	readTimeout time.Duration

	// settleDelay defines the fixed pause between writing a command and reading its
	// reply. The hub needs a brief pause before it has data ready.
	// Defaults to 100 milliseconds.
	settleDelay time.Duration

	// recoveryEnterWait defines the settle period after the configuration-entry
	// command ("SPC") while the hub enters config mode.
	// Defaults to 5 seconds.
	recoveryEnterWait time.Duration

	// recoveryExitWait defines the settle period after the exit/query command ("QU").
	// Defaults to 2 seconds.
	recoveryExitWait time.Duration

	// logger provides a logger instance for logging link events and errors.
	logger logger.Logger
}

// NewConnectionConfig creates a new device link configuration with the given host, port number,
// and optional functional options.
//
// It initializes a ConnectionConfig struct with default values and then applies the provided
// options to customize the configuration.
//
// The defaults encode the timing requirements of the physical hub: a 30 second connect
// timeout, a 5 second read timeout, a 100 millisecond settle delay between write and read,
// and 5/2 second waits around the multiplexer recovery sequence.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any occurred during
// the configuration process.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		connectTimeout:    30 * time.Second,
		readTimeout:       5 * time.Second,
		settleDelay:       100 * time.Millisecond,
		recoveryEnterWait: 5 * time.Second,
		recoveryExitWait:  2 * time.Second,
		logger:            logger.GetLogger(),
	}

	if err := withHost(host).apply(cfg); err != nil {
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

// withHost sets the host of the terminal server.
// It returns a ConnOption that validates the host and updates the configuration.
// An error is returned if the configuration is nil.
func withHost(host string) ConnOption {
	return newConnOptFunc("withHost", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
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

// withPort sets the TCP port number of the terminal server.
// It returns a ConnOption that validates the port number and updates the configuration.
// An error is returned if the port number is out of the valid range (1-65535) or if the
// configuration is nil.
func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithConnectTimeout sets the long timeout used when establishing the TCP connection.
// It returns a ConnOption that validates the timeout value and updates the configuration.
// An error is returned if the timeout is outside the valid range (0.1-120 seconds) or if
// the configuration is nil.
//
// The default value is 30 seconds.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 100*time.Millisecond || val > 120*time.Second {
			return errors.New("connect timeout out of range [0.1, 120]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithReadTimeout sets the short timeout used for each reply read.
// It returns a ConnOption that validates the timeout value and updates the configuration.
// An error is returned if the timeout is outside the valid range (0.01-60 seconds) or if
// the configuration is nil.
//
// The default value is 5 seconds.
func WithReadTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithReadTimeout", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 10*time.Millisecond || val > 60*time.Second {
			return errors.New("read timeout out of range [0.01, 60]")
		}
		cfg.readTimeout = val

		return nil
	})
}

// WithSettleDelay sets the fixed pause between writing a command and reading its reply.
// It returns a ConnOption that validates the delay value and updates the configuration.
// An error is returned if the delay is outside the valid range (0-5 seconds) or if the
// configuration is nil.
//
// The delay encodes a real hardware timing requirement; the hub needs a brief pause
// before it has data ready.
//
// The default value is 100 milliseconds.
func WithSettleDelay(val time.Duration) ConnOption {
	return newConnOptFunc("WithSettleDelay", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 0 || val > 5*time.Second {
			return errors.New("settle delay out of range [0, 5]")
		}
		cfg.settleDelay = val

		return nil
	})
}

// WithRecoveryEnterWait sets the settle period after the configuration-entry command
// while the hub enters config mode.
// It returns a ConnOption that validates the wait value and updates the configuration.
// An error is returned if the wait is outside the valid range (0-60 seconds) or if the
// configuration is nil.
//
// The default value is 5 seconds.
func WithRecoveryEnterWait(val time.Duration) ConnOption {
	return newConnOptFunc("WithRecoveryEnterWait", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 0 || val > 60*time.Second {
			return errors.New("recovery enter wait out of range [0, 60]")
		}
		cfg.recoveryEnterWait = val

		return nil
	})
}

// WithRecoveryExitWait sets the settle period after the exit/query command while the hub
// leaves config mode.
// It returns a ConnOption that validates the wait value and updates the configuration.
// An error is returned if the wait is outside the valid range (0-60 seconds) or if the
// configuration is nil.
//
// The default value is 2 seconds.
func WithRecoveryExitWait(val time.Duration) ConnOption {
	return newConnOptFunc("WithRecoveryExitWait", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 0 || val > 60*time.Second {
			return errors.New("recovery exit wait out of range [0, 60]")
		}
		cfg.recoveryExitWait = val

		return nil
	})
}

// WithLogger sets the logger for the device link.
// It returns a ConnOption that updates the configuration with the provided logger.
// An error is returned if the configuration is nil.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.logger = l

		return nil
	})
}
