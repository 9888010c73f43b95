// Package csc wraps the mitutoyo hub component with the component lifecycle
// expected by the surrounding control system: summary-state transitions, a
// periodic telemetry loop, fault escalation, and event publication to
// registered subscribers.
//
// The package is thin glue over the core: it decides when to connect, how
// often to poll, and what to do when a poll reports an incomplete vector. The
// polling and recovery semantics themselves live in the mitutoyo package.
package csc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/lsst-ts/ts-pmd/config"
	"github.com/lsst-ts/ts-pmd/internal/task"
	"github.com/lsst-ts/ts-pmd/logger"
	"github.com/lsst-ts/ts-pmd/mitutoyo"
)

// telemetryTaskName is the interval-task name of the telemetry loop.
const telemetryTaskName = "telemetry"

// DefaultMaxResets is the recovery round budget the telemetry loop passes to
// PollWithRecovery on every cycle.
const DefaultMaxResets = 3

// PositionReport carries one telemetry cycle's result to position subscribers.
type PositionReport struct {
	// Positions is the vector produced by the most recent poll pass.
	Positions mitutoyo.PositionVector
	// IsOK reports whether every configured slot produced a numeric reading.
	IsOK bool
}

// Metadata describes the configured hub, published once configuration completes.
type Metadata struct {
	HubType  string
	Location string
	// Names is the comma-joined list of slot names, unused slots included.
	Names string
	Units string
}

// PositionHandler is invoked for every published position report.
type PositionHandler func(report PositionReport)

// SummaryStateHandler is invoked for every summary state change.
type SummaryStateHandler func(prevState SummaryState, newState SummaryState)

// PMD is the Position Measurement Device component. It owns one hub component,
// runs the telemetry loop while the component is in the Disabled/Enabled band,
// and escalates failures to the fault state.
type PMD struct {
	ctx    context.Context
	logger logger.Logger

	index             int
	simulationMode    bool
	maxResets         int
	telemetryInterval time.Duration
	connOpts          []mitutoyo.ConnOption

	component *mitutoyo.Hub
	taskMgr   *task.Manager

	mu          sync.Mutex // guards transitions, simulator and fault record
	simulator   *mitutoyo.MockServer
	mockHub     *mitutoyo.MockHub
	faultCode   ErrorCode
	faultReason string

	state atomic.Uint32

	positionHandlers *xsync.MapOf[uint64, PositionHandler]
	stateHandlers    *xsync.MapOf[uint64, SummaryStateHandler]
	handlerSeq       atomic.Uint64
}

// Option represents a functional option for configuring a PMD.
type Option interface {
	apply(*PMD) error
}

type optFunc struct {
	name      string
	applyFunc func(*PMD) error
}

func (o *optFunc) apply(c *PMD) error { return o.applyFunc(c) }

func newOptFunc(name string, f func(*PMD) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithSimulation runs the component against a simulated hub instead of real
// hardware. The simulator is started when the component leaves standby and the
// configured port is overridden with the simulator's ephemeral port.
func WithSimulation() Option {
	return newOptFunc("WithSimulation", func(c *PMD) error {
		c.simulationMode = true
		return nil
	})
}

// WithLogger sets the logger for the component.
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(c *PMD) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		c.logger = l

		return nil
	})
}

// WithMaxResets sets the recovery round budget used on every telemetry cycle.
// The default value is DefaultMaxResets.
func WithMaxResets(n int) Option {
	return newOptFunc("WithMaxResets", func(c *PMD) error {
		if n < 0 {
			return mitutoyo.ErrInvalidResetLimit
		}
		c.maxResets = n

		return nil
	})
}

// WithConnOptions forwards device link options to the hub component, e.g. the
// read timeout or the recovery settle waits.
func WithConnOptions(opts ...mitutoyo.ConnOption) Option {
	return newOptFunc("WithConnOptions", func(c *PMD) error {
		c.connOpts = append(c.connOpts, opts...)
		return nil
	})
}

// New creates a PMD component for the configuration entry whose sal_index
// matches the given index. The configuration must already be validated and
// normalized. The component starts in the standby state.
func New(ctx context.Context, index int, cfg *config.Config, opts ...Option) (*PMD, error) {
	entry, err := cfg.ForIndex(index)
	if err != nil {
		return nil, err
	}

	c := &PMD{
		ctx:               ctx,
		logger:            logger.GetLogger(),
		index:             index,
		maxResets:         DefaultMaxResets,
		telemetryInterval: entry.Interval(),
		positionHandlers:  xsync.NewMapOf[uint64, PositionHandler](),
		stateHandlers:     xsync.NewMapOf[uint64, SummaryStateHandler](),
	}

	for _, opt := range opts {
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	c.taskMgr = task.NewManager(ctx, c.logger)
	c.component = mitutoyo.NewHub(c.logger, c.connOpts...)

	if err := c.component.Configure(mitutoyo.DeviceConfig{
		Devices:  entry.Devices,
		HubType:  entry.HubType,
		Units:    entry.Units,
		Location: entry.Location,
		Host:     entry.Host,
		Port:     entry.Port,
	}); err != nil {
		return nil, err
	}

	c.state.Store(uint32(StandbyState))

	return c, nil
}

// SummaryState returns the current summary state.
func (c *PMD) SummaryState() SummaryState {
	return SummaryState(c.state.Load())
}

// Index returns the component index this instance serves.
func (c *PMD) Index() int {
	return c.index
}

// Connected reports whether the hub component's device link is connected.
func (c *PMD) Connected() bool {
	return c.component.Connected()
}

// Hub returns the underlying hub component, e.g. for diagnostic commands.
func (c *PMD) Hub() *mitutoyo.Hub {
	return c.component
}

// Metadata returns the configured hub metadata.
func (c *PMD) Metadata() Metadata {
	return Metadata{
		HubType:  c.component.HubType(),
		Location: c.component.Location(),
		Names:    strings.Join(c.component.Names(), ","),
		Units:    c.component.Units(),
	}
}

// FaultCode returns the error code of the most recent fault, or NoError.
func (c *PMD) FaultCode() ErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.faultCode
}

// FaultReason returns the human-readable reason of the most recent fault.
func (c *PMD) FaultReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.faultReason
}

// MockHub returns the simulated hub once the component has left standby in
// simulation mode, or nil. It exists so tests can manipulate the fault
// injection and position table at runtime.
func (c *PMD) MockHub() *mitutoyo.MockHub {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mockHub
}

// Start transitions the component from standby to disabled: it starts the
// simulated hub when in simulation mode, connects the device link, and starts
// the telemetry loop. A failed connect escalates to the fault state with
// HardwareConnectionFailed.
func (c *PMD) Start(ctx context.Context) error {
	c.mu.Lock()
	if s := c.SummaryState(); s != StandbyState {
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s)
	}
	c.mu.Unlock()

	c.setState(DisabledState)

	c.mu.Lock()
	err := c.bringUp(ctx)
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("connection failed", "error", err)
		c.fault(HardwareConnectionFailed, err.Error())

		return err
	}

	// The first pass runs synchronously so a dead sensor faults right away
	// instead of after one telemetry interval.
	if _, err := c.taskMgr.StartInterval(telemetryTaskName, c.telemetryTask, c.telemetryInterval, true); err != nil {
		return fmt.Errorf("start telemetry loop: %w", err)
	}

	return nil
}

// Enable transitions the component from disabled to enabled.
func (c *PMD) Enable() error {
	return c.commandTransition(DisabledState, EnabledState)
}

// Disable transitions the component from enabled to disabled.
func (c *PMD) Disable() error {
	return c.commandTransition(EnabledState, DisabledState)
}

// Standby transitions the component from disabled or fault to standby,
// stopping the telemetry loop and disconnecting. Teardown never fails.
// Transitioning directly from enabled is rejected; disable first.
func (c *PMD) Standby() error {
	c.mu.Lock()
	if s := c.SummaryState(); s != DisabledState && s != FaultState {
		c.mu.Unlock()
		return fmt.Errorf("%w: standby from %s", ErrInvalidTransition, s)
	}
	c.tearDown()
	c.mu.Unlock()

	c.setState(StandbyState)

	return nil
}

// Close tears the component down unconditionally and waits for its goroutines
// to terminate. The component cannot be restarted afterwards.
func (c *PMD) Close() error {
	c.mu.Lock()
	c.tearDown()
	c.mu.Unlock()

	c.taskMgr.Stop()
	c.taskMgr.Wait()

	return nil
}

// AddPositionHandler registers a handler invoked for every position report.
// It returns an id for RemovePositionHandler. A handler registered mid-run
// just misses earlier reports.
func (c *PMD) AddPositionHandler(h PositionHandler) uint64 {
	id := c.handlerSeq.Add(1)
	c.positionHandlers.Store(id, h)

	return id
}

// RemovePositionHandler removes a previously registered position handler.
func (c *PMD) RemovePositionHandler(id uint64) {
	c.positionHandlers.Delete(id)
}

// AddSummaryStateHandler registers a handler invoked for every state change.
// It returns an id for RemoveSummaryStateHandler.
func (c *PMD) AddSummaryStateHandler(h SummaryStateHandler) uint64 {
	id := c.handlerSeq.Add(1)
	c.stateHandlers.Store(id, h)

	return id
}

// RemoveSummaryStateHandler removes a previously registered state handler.
func (c *PMD) RemoveSummaryStateHandler(id uint64) {
	c.stateHandlers.Delete(id)
}

// commandTransition performs a state command that only changes the published
// state; the device stays up across the Disabled/Enabled band.
func (c *PMD) commandTransition(from SummaryState, to SummaryState) error {
	c.mu.Lock()
	if s := c.SummaryState(); s != from {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, to, s)
	}
	c.mu.Unlock()

	c.setState(to)

	return nil
}

// bringUp starts the simulator when needed and connects the device link.
// Callers hold c.mu.
func (c *PMD) bringUp(ctx context.Context) error {
	if c.simulationMode && c.simulator == nil {
		hub := mitutoyo.NewMockHub(c.logger)
		server := mitutoyo.NewMockServer(c.ctx, hub, c.logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start simulator: %w", err)
		}

		c.mockHub = hub
		c.simulator = server
		c.component.SetPort(server.Port())
	}

	if !c.component.Connected() {
		if err := c.component.Connect(ctx); err != nil {
			return err
		}
	}

	return nil
}

// tearDown stops the telemetry loop, disconnects, and shuts the simulator
// down. It never fails. Callers hold c.mu.
func (c *PMD) tearDown() {
	_ = c.taskMgr.StopInterval(telemetryTaskName)

	c.component.Disconnect()

	if c.simulator != nil {
		_ = c.simulator.Close()
		c.simulator = nil
		c.mockHub = nil
	}
}

// telemetryTask runs one telemetry cycle: poll with recovery, publish the
// report, and escalate when the vector is incomplete.
func (c *PMD) telemetryTask() bool {
	positions, isok, err := c.component.PollWithRecovery(c.taskMgr.Context(), c.maxResets)
	if err != nil {
		// a teardown mid-flight surfaces as a not-connected or canceled poll
		if errors.Is(err, mitutoyo.ErrNotConnected) || errors.Is(err, context.Canceled) {
			c.logger.Debug("telemetry loop stopped", "error", err)
			return false
		}

		c.fault(ChannelRecoveryFailed, err.Error())

		return false
	}

	c.publishPosition(PositionReport{Positions: positions, IsOK: isok})

	if !isok {
		c.fault(ChannelRecoveryFailed, "failed to recover multiplexer")
		return false
	}

	return true
}

// fault escalates to the fault state: it records the error code, stops
// the telemetry loop, and disconnects from the hub. It is a no-op unless the
// component is in the Disabled/Enabled band.
func (c *PMD) fault(code ErrorCode, reason string) {
	c.mu.Lock()
	if s := c.SummaryState(); s != DisabledState && s != EnabledState {
		c.mu.Unlock()
		return
	}
	c.faultCode = code
	c.faultReason = reason
	_ = c.taskMgr.StopInterval(telemetryTaskName)
	c.component.Disconnect()
	c.mu.Unlock()

	c.logger.Error("component faulted", "code", int(code), "reason", reason)

	c.setState(FaultState)
}

// setState publishes a summary state change to all registered handlers.
func (c *PMD) setState(newState SummaryState) {
	prevState := SummaryState(c.state.Swap(uint32(newState)))
	if prevState == newState {
		return
	}

	c.logger.Info("summary state changed", "prevState", prevState, "newState", newState)

	c.stateHandlers.Range(func(_ uint64, h SummaryStateHandler) bool {
		h(prevState, newState)
		return true
	})
}

// publishPosition delivers a position report to all registered handlers.
func (c *PMD) publishPosition(report PositionReport) {
	c.positionHandlers.Range(func(_ uint64, h PositionHandler) bool {
		h(report)
		return true
	})
}
