package mitutoyo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"

	"github.com/lsst-ts/ts-pmd/internal/task"
	"github.com/lsst-ts/ts-pmd/logger"
)

// DefaultMockPositions is the default position table of the simulated hub.
// Slots 5, 7 and 8 hold NaN to simulate channels that have no reading.
func DefaultMockPositions() [NumSlots]float64 {
	return [NumSlots]float64{
		0.00009,
		0.001,
		0.002,
		0.003,
		math.NaN(),
		0.005,
		math.NaN(),
		math.NaN(),
	}
}

// MockHub emulates the command dispatch of a dial-gauge hub.
//
// Numeric commands "1" to "8" return the slot's value in wire form, or a bare
// terminator if the table entry is NaN; a NaN entry means the channel produces
// no reading, so a poll pass that reaches it comes back incomplete. The
// configuration-mode commands reply with an empty ack, mirroring the real hub
// during mode transitions.
//
// When fault injection is enabled every command returns an empty reply
// regardless of the table contents, which is how the real multiplexer fault
// presents: the hub goes silent instead of erroring.
type MockHub struct {
	mu                 sync.Mutex
	positions          [NumSlots]float64
	fault              bool
	recoverAfterResets int
	resetsSeen         int
	commands           []string
	logger             logger.Logger
}

// NewMockHub creates a simulated hub with the default position table.
func NewMockHub(log logger.Logger) *MockHub {
	if log == nil {
		log = logger.GetLogger()
	}

	return &MockHub{
		positions: DefaultMockPositions(),
		logger:    log,
	}
}

// SetPositions replaces the whole position table.
func (m *MockHub) SetPositions(positions [NumSlots]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions = positions
}

// SetPosition sets a single slot's table entry. Use NaN to simulate a channel
// that has no reading.
func (m *MockHub) SetPosition(slot int, val float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[slot] = val
}

// SetFaultInjection enables or disables the fault-injection mode.
func (m *MockHub) SetFaultInjection(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fault = on
	m.resetsSeen = 0
}

// RecoverAfterResets arranges for an injected fault to clear after n complete
// reset sequences, i.e. after the nth exit/query command is processed.
// A value of 0 (the default) keeps the fault until SetFaultInjection(false).
func (m *MockHub) RecoverAfterResets(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recoverAfterResets = n
	m.resetsSeen = 0
}

// CommandLog returns a copy of every command received so far, in order.
func (m *MockHub) CommandLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := make([]string, len(m.commands))
	copy(log, m.commands)

	return log
}

// CommandCount returns how many times the given command has been received.
func (m *MockHub) CommandCount(cmd string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.commands {
		if c == cmd {
			count++
		}
	}

	return count
}

// Reply dispatches one decoded command and returns the bytes to write back,
// terminator included. An empty return means the hub stays silent and the
// client hits its read timeout, which is what the real hub does.
//
// An unrecognized command is a protocol violation and fails with
// ErrUnknownCommand; it indicates a test bug, not hub behavior.
func (m *MockHub) Reply(cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands = append(m.commands, cmd)

	switch cmd {
	case CmdEnterConfig:
		return "", nil

	case CmdExitConfig:
		if m.fault && m.recoverAfterResets > 0 {
			m.resetsSeen++
			if m.resetsSeen >= m.recoverAfterResets {
				m.logger.Debug("mock hub fault cleared by reset sequence", "resets", m.resetsSeen)
				m.fault = false
			}
		}

		return "", nil
	}

	slot, err := strconv.Atoi(cmd)
	if err != nil || slot < 1 || slot > NumSlots {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	if m.fault {
		return "", nil
	}

	val := m.positions[slot-1]
	if math.IsNaN(val) {
		return string(Terminator), nil
	}

	return FormatPosition(slot-1, val) + string(Terminator), nil
}

// MockServer exposes a MockHub over a loopback TCP listener speaking the
// CR-terminated line protocol. It serves one client at a time, matching the
// single-link hardware.
type MockServer struct {
	hub     *MockHub
	logger  logger.Logger
	taskMgr *task.Manager

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
}

// NewMockServer creates a simulated hub server for the given MockHub.
func NewMockServer(ctx context.Context, hub *MockHub, log logger.Logger) *MockServer {
	if log == nil {
		log = logger.GetLogger()
	}

	return &MockServer{
		hub:     hub,
		logger:  log,
		taskMgr: task.NewManager(ctx, log),
	}
}

// Start binds the listener on an ephemeral loopback port and starts serving.
// Query the bound port with Port after Start returns.
func (s *MockServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Debug("mock hub server started", "addr", listener.Addr())

	return s.taskMgr.Start("mockHubServe", s.serveTask)
}

// Port returns the TCP port the server is listening on.
func (s *MockServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return 0
	}

	return s.listener.Addr().(*net.TCPAddr).Port
}

// Host returns the host the server is listening on.
func (s *MockServer) Host() string {
	return "127.0.0.1"
}

// Hub returns the MockHub behind the server.
func (s *MockServer) Hub() *MockHub {
	return s.hub
}

// Close shuts the server down and waits for its goroutines to terminate.
func (s *MockServer) Close() error {
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	s.taskMgr.Stop()
	s.taskMgr.Wait()

	return nil
}

// serveTask accepts one client and runs its command loop to completion, then
// loops back to accept the next client. It stops when the listener closes.
func (s *MockServer) serveTask() bool {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		return false
	}

	conn, err := listener.Accept()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Error("mock hub accept failed", "error", err)
		}

		return false
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	return s.cmdLoop(conn)
}

// cmdLoop serves one client until it disconnects or violates the protocol.
// It returns false only on a protocol violation, which tears the server down
// so that the offending test fails loudly.
func (s *MockServer) cmdLoop(conn net.Conn) bool {
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString(Terminator)
		if err != nil {
			return true // client gone, accept the next one
		}

		cmd := Decode([]byte(line))
		reply, err := s.hub.Reply(cmd)
		if err != nil {
			s.logger.Error("mock hub protocol violation", "command", cmd, "error", err)
			return false
		}

		if reply == "" {
			continue // hub stays silent
		}

		if _, err := conn.Write([]byte(reply)); err != nil {
			return true
		}
	}
}
