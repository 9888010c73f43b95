package mitutoyo

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/lsst-ts/ts-pmd/logger"
)

// NumSlots is the fixed number of channel slots on the hub, independent of how
// many physical devices are attached.
const NumSlots = 8

// PositionVector holds one position value per hub slot. Unused and unread
// slots hold NaN. A fresh vector is produced on every poll pass; a vector is
// never mutated after it is returned.
type PositionVector [NumSlots]float64

// NewPositionVector returns a vector with every slot set to NaN.
func NewPositionVector() PositionVector {
	var v PositionVector
	for i := range v {
		v[i] = math.NaN()
	}

	return v
}

// Slice returns the vector as a freshly allocated slice.
func (v PositionVector) Slice() []float64 {
	s := make([]float64, NumSlots)
	copy(s, v[:])

	return s
}

// DeviceConfig carries the externally supplied device configuration.
// It is pure data, validated upstream by a configuration schema this package
// does not own, and is immutable after Configure.
type DeviceConfig struct {
	// Devices holds up to NumSlots device names in slot order.
	// An empty name marks the slot as unused; unused slots are always skipped.
	Devices []string

	// HubType is the brand/type tag of the device hub.
	HubType string

	// Units is the informational units label for the readings.
	Units string

	// Location is the informational location label of the hub.
	Location string

	// Host is the IP address or host of the terminal server.
	Host string

	// Port is the TCP port of the terminal server.
	Port int
}

// Hub is the dial-gauge hub component. It owns the device link and implements
// per-channel polling and the multiplexer recovery protocol on top of it.
//
// The underlying multiplexer has a known fault where it silently drops
// channels 5-8. PollWithRecovery works around it by driving the hub through
// its configuration-mode reset sequence whenever a poll pass comes back
// incomplete, bounded by a maximum number of rounds.
type Hub struct {
	logger   logger.Logger
	connOpts []ConnOption

	mu       sync.Mutex
	conn     *Conn
	names    [NumSlots]string
	hubType  string
	units    string
	location string
	host     string
	port     int
}

// NewHub creates a new hub component. The connection options are applied to
// the device link configuration each time the component connects.
func NewHub(log logger.Logger, opts ...ConnOption) *Hub {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Hub{
		logger:   log,
		connOpts: append(opts, WithLogger(log)),
	}
}

// Configure assigns the externally supplied device configuration.
// It returns an error if more than NumSlots device names are given; any
// remaining slots are left unused.
func (h *Hub) Configure(cfg DeviceConfig) error {
	if len(cfg.Devices) > NumSlots {
		return fmt.Errorf("too many devices: %d, the hub has %d slots", len(cfg.Devices), NumSlots)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.names = [NumSlots]string{}
	copy(h.names[:], cfg.Devices)
	h.hubType = cfg.HubType
	h.units = cfg.Units
	h.location = cfg.Location
	h.host = cfg.Host
	h.port = cfg.Port

	h.logger.Debug("configuration completed", "hubType", h.hubType, "host", h.host, "port", h.port)

	return nil
}

// SetPort overrides the configured TCP port. It is used in simulation mode,
// where the simulated hub picks an ephemeral port after configuration.
func (h *Hub) SetPort(port int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.port = port
}

// Connect builds a device link from the configured host and port and opens it.
// It returns ErrAlreadyConnected if the link is already connected, or
// ErrConnectFailed if the TCP connection could not be established.
func (h *Hub) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.conn != nil && h.conn.Connected() {
		h.mu.Unlock()
		return ErrAlreadyConnected
	}

	cfg, err := NewConnectionConfig(h.host, h.port, h.connOpts...)
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("connection config: %w", err)
	}

	conn, err := NewConn(cfg)
	if err != nil {
		h.mu.Unlock()
		return err
	}

	h.conn = conn
	h.mu.Unlock()

	return conn.Connect(ctx)
}

// Disconnect closes the device link. It never fails and always leaves the
// link disconnected; calling it on a never-connected component is a no-op.
func (h *Hub) Disconnect() {
	if conn := h.link(); conn != nil {
		conn.Disconnect()
	}
}

// Connected reports whether the device link is connected.
func (h *Hub) Connected() bool {
	conn := h.link()

	return conn != nil && conn.Connected()
}

// PollOnce issues one query per configured slot in ascending index order and
// assembles a fresh position vector. Unconfigured slots are skipped and stay
// NaN; they never count against completeness.
//
// If a configured slot replies empty the pass is incomplete: scanning stops
// immediately, the partially filled vector is returned with isok=false, and no
// further slots are probed in the same pass. Later slots after a glitch are
// also unreliable in-cycle, so probing them only adds latency.
//
// PollOnce fails with ErrNotConnected if the device link is disconnected and
// with ErrInvalidReply if a reply cannot be parsed.
func (h *Hub) PollOnce(ctx context.Context) (PositionVector, bool, error) {
	positions := NewPositionVector()

	conn := h.link()
	if conn == nil || !conn.Connected() {
		return positions, false, fmt.Errorf("poll: %w", ErrNotConnected)
	}

	conn.metrics.incPollPassCount()

	names := h.Names()
	for i, name := range names {
		if name == "" {
			continue
		}

		reply, err := conn.SendReceive(ctx, SlotQuery(i))
		if err != nil {
			return positions, false, err
		}

		if reply == "" {
			conn.metrics.incIncompletePollCount()
			h.logger.Debug("poll pass incomplete", "slot", i, "device", name)

			return positions, false, nil
		}

		val, err := ParsePosition(reply)
		if err != nil {
			conn.metrics.incProtocolErrCount()
			return positions, false, err
		}

		positions[i] = val
	}

	return positions, true, nil
}

// PollWithRecovery polls all configured slots, driving the hub through its
// multiplexer recovery sequence between incomplete passes.
//
// It attempts one poll pass, and then for up to maxResets additional rounds
// resets the multiplexer and re-polls, stopping as soon as a pass is complete.
// The round count is inclusive of the initial attempt, so at most maxResets+1
// poll passes and maxResets reset sequences are issued; no reset is sent after
// the final failed pass. The hub's reset is a fixed-duration device-side
// operation, so the rounds use the configured settle waits rather than backoff.
//
// After the round budget is exhausted the last obtained vector is returned
// with isok=false; the caller decides how to treat persistent failure.
//
// A negative maxResets is a configuration error, rejected before any network
// activity.
func (h *Hub) PollWithRecovery(ctx context.Context, maxResets int) (PositionVector, bool, error) {
	if maxResets < 0 {
		return NewPositionVector(), false, ErrInvalidResetLimit
	}

	positions, isok, err := h.PollOnce(ctx)
	if err != nil || isok {
		return positions, isok, err
	}

	for round := 1; round <= maxResets; round++ {
		h.logger.Debug("multiplexer recovery", "round", round, "maxResets", maxResets)

		if err := h.resetMultiplexer(ctx); err != nil {
			return positions, false, err
		}

		positions, isok, err = h.PollOnce(ctx)
		if err != nil {
			return positions, false, err
		}
		if isok {
			break
		}
	}

	return positions, isok, nil
}

// resetMultiplexer drives the hub through its configuration-mode reset
// sequence: enter config mode, wait for the hub to settle, then exit config
// mode and wait again. The waits encode the hub's real settle times.
func (h *Hub) resetMultiplexer(ctx context.Context) error {
	conn := h.link()
	if conn == nil || !conn.Connected() {
		return fmt.Errorf("reset multiplexer: %w", ErrNotConnected)
	}

	reply, err := conn.SendReceive(ctx, CmdEnterConfig)
	if err != nil {
		return err
	}
	h.logger.Debug("multiplexer SPC response", "reply", reply)

	if err := conn.settle(ctx, conn.cfg.recoveryEnterWait); err != nil {
		return err
	}

	reply, err = conn.SendReceive(ctx, CmdExitConfig)
	if err != nil {
		return err
	}
	h.logger.Debug("multiplexer QU response", "reply", reply)

	if err := conn.settle(ctx, conn.cfg.recoveryExitWait); err != nil {
		return err
	}

	conn.metrics.incRecoveryRoundCount()

	return nil
}

// Names returns a copy of the configured slot names.
func (h *Hub) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, NumSlots)
	copy(names, h.names[:])

	return names
}

// HubType returns the configured hub type tag.
func (h *Hub) HubType() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.hubType
}

// Units returns the configured units label.
func (h *Hub) Units() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.units
}

// Location returns the configured location label.
func (h *Hub) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.location
}

// GetMetrics returns the metrics of the current device link, or nil if the
// component has never connected.
func (h *Hub) GetMetrics() *LinkMetrics {
	conn := h.link()
	if conn == nil {
		return nil
	}

	return conn.GetMetrics()
}

// link returns the current device link, or nil if the component has never connected.
func (h *Hub) link() *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.conn
}
