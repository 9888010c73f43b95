package mitutoyo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lsst-ts/ts-pmd/internal/pool"
	"github.com/lsst-ts/ts-pmd/logger"
)

// Conn represents the device link to a dial-gauge hub.
// It owns the TCP connection exclusively while connected, serializes all
// request/response exchanges through a single in-flight slot, and enforces
// timeouts on every blocking operation.
type Conn struct {
	cfg    *ConnectionConfig
	logger logger.Logger

	stateMgr *linkStateMgr

	exchMutex sync.Mutex    // serializes full write+read exchanges
	connMutex sync.Mutex    // guards conn and reader
	conn      net.Conn      // TCP connection, nil while disconnected
	reader    *bufio.Reader // buffered reader bound to conn

	metrics LinkMetrics // link metrics
}

// NewConn creates a new device link with the given configuration.
// The link starts in the disconnected state; call Connect to establish the
// TCP connection.
// Returns an error if the configuration is nil.
func NewConn(cfg *ConnectionConfig) (*Conn, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	conn := &Conn{
		cfg:      cfg,
		logger:   cfg.logger,
		stateMgr: newLinkStateMgr(cfg.logger),
	}

	return conn, nil
}

// Connect opens a TCP connection to the configured host and port under the
// long connect timeout. On success the link transitions to the connected state.
// On timeout or refusal it fails with ErrConnectFailed and stays disconnected.
//
// Calling Connect while already connected is a caller error and returns
// ErrAlreadyConnected.
func (c *Conn) Connect(ctx context.Context) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	addr := net.JoinHostPort(c.cfg.host, strconv.Itoa(c.cfg.port))

	dialer := net.Dialer{Timeout: c.cfg.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.logger.Error("failed to connect to hub", "method", "Connect", "addr", addr, "error", err)
		return fmt.Errorf("dial %s: %w", addr, ErrConnectFailed)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.stateMgr.toConnected()

	c.logger.Debug("connected to hub", "addr", addr)

	return nil
}

// Disconnect closes the TCP connection if connected and unconditionally returns
// the link to the disconnected state. Close-time errors are logged, not
// propagated; cleanup must not itself fail. Disconnect is idempotent and safe
// to call concurrently with an in-flight exchange, which will observe
// ErrNotConnected on its next I/O attempt.
func (c *Conn) Disconnect() {
	c.connMutex.Lock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("failed to close TCP connection", "method", "Disconnect", "error", err)
		}
		c.conn = nil
		c.reader = nil
	}
	c.connMutex.Unlock()

	c.stateMgr.toDisconnected()
}

// SendReceive performs a single request/response exchange with the hub.
//
// It writes the encoded command, waits the fixed settle delay the hub needs
// before it has data ready, then reads until the terminator under the short
// read timeout. The whole exchange runs under a mutual-exclusion scope so that
// at most one exchange is in flight at a time; a concurrent caller blocks until
// the first exchange completes.
//
// A read timeout is a valid empty-reply outcome, not an error, because the hub
// returns nothing rather than erroring when a slot is unreadable. SendReceive
// fails with ErrNotConnected if the link is disconnected.
func (c *Conn) SendReceive(ctx context.Context, cmd string) (string, error) {
	c.exchMutex.Lock()
	defer c.exchMutex.Unlock()

	conn, reader := c.transport()
	if conn == nil {
		return "", fmt.Errorf("send %q: %w", cmd, ErrNotConnected)
	}

	// drop any stale bytes left over from a reply that timed out mid-line
	if n := reader.Buffered(); n > 0 {
		_, _ = reader.Discard(n)
	}

	c.metrics.incExchangeSendCount()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.readTimeout)); err != nil {
		c.metrics.incExchangeErrCount()
		return "", fmt.Errorf("set write deadline: %w", err)
	}

	if c.logger.Level() == logger.DebugLevel {
		c.logger.Debug("send command to hub", "method", "SendReceive", "command", cmd)
	}

	if _, err := conn.Write(Encode(cmd)); err != nil {
		c.metrics.incExchangeErrCount()
		return "", c.exchangeErr("write command", err)
	}

	if err := c.settle(ctx, c.cfg.settleDelay); err != nil {
		return "", err
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.readTimeout)); err != nil {
		c.metrics.incExchangeErrCount()
		return "", fmt.Errorf("set read deadline: %w", err)
	}

	line, err := reader.ReadString(Terminator)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// the hub returns nothing instead of an error when a slot is unreadable
			c.metrics.incEmptyReplyCount()
			c.logger.Debug("reply read timed out, channel unreadable", "method", "SendReceive", "command", cmd)

			return "", nil
		}

		c.metrics.incExchangeErrCount()

		return "", c.exchangeErr("read reply", err)
	}

	reply := Decode([]byte(line))
	if reply == "" {
		c.metrics.incEmptyReplyCount()
		c.logger.Debug("empty reply, channel unreadable", "method", "SendReceive", "command", cmd)
	} else {
		c.metrics.incExchangeRecvCount()
		if c.logger.Level() == logger.DebugLevel {
			c.logger.Debug("reply received", "method", "SendReceive", "command", cmd, "reply", reply)
		}
	}

	return reply, nil
}

// Connected reports whether the link is in the connected state.
func (c *Conn) Connected() bool {
	return c.stateMgr.IsConnected()
}

// State returns the current link state.
func (c *Conn) State() LinkState {
	return c.stateMgr.State()
}

// AddLinkStateChangeHandler adds one or more handlers to be invoked on link state changes.
func (c *Conn) AddLinkStateChangeHandler(handlers ...LinkStateChangeHandler) {
	c.stateMgr.AddHandler(handlers...)
}

// GetLogger returns the logger associated with the device link.
func (c *Conn) GetLogger() logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics associated with the device link.
func (c *Conn) GetMetrics() *LinkMetrics {
	return &c.metrics
}

// transport returns the current TCP connection and reader, or nil when disconnected.
func (c *Conn) transport() (net.Conn, *bufio.Reader) {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	return c.conn, c.reader
}

// settle pauses for the given duration, honoring context cancellation.
func (c *Conn) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// exchangeErr classifies a transport failure during an exchange. A failure
// caused by a concurrent Disconnect surfaces as ErrNotConnected so that a
// torn-down poll sequence observes the contract error instead of a raw
// network error.
func (c *Conn) exchangeErr(op string, err error) error {
	if !c.Connected() || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	return fmt.Errorf("%s: %w", op, err)
}
