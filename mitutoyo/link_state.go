package mitutoyo

import (
	"sync"
	"sync/atomic"

	"github.com/lsst-ts/ts-pmd/logger"
)

// LinkState represents the state of the device link.
type LinkState uint32

// Device link states.
const (
	// DisconnectedState indicates that the TCP connection to the hub is not established.
	DisconnectedState LinkState = iota
	// ConnectedState indicates that the TCP connection to the hub is established and
	// the link is ready for request/response exchanges.
	ConnectedState
)

// IsConnected returns if the current state is connected.
func (ls LinkState) IsConnected() bool { return ls == ConnectedState }

// IsDisconnected returns if the current state is disconnected.
func (ls LinkState) IsDisconnected() bool { return ls == DisconnectedState }

// String returns string representation of the current state.
func (ls LinkState) String() string {
	switch ls {
	case DisconnectedState:
		return "disconnected"
	case ConnectedState:
		return "connected"
	default:
		return "unknown"
	}
}

// LinkStateChangeHandler is a function type that represents a handler for link state changes.
// It is invoked when the state of the device link changes.
//
// Note: the handler will be invoked in a blocking mode. Take care with long-running implementations.
type LinkStateChangeHandler func(prevState LinkState, newState LinkState)

// linkStateMgr manages the state of a device link.
//
// It provides methods for managing state transitions and notifying listeners of state
// changes. The state transitions are thread safe in concurrent environments.
type linkStateMgr struct {
	mu       sync.Mutex
	state    atomic.Uint32
	logger   logger.Logger
	handlers []LinkStateChangeHandler
}

func newLinkStateMgr(l logger.Logger) *linkStateMgr {
	mgr := &linkStateMgr{logger: l}
	mgr.state.Store(uint32(DisconnectedState))

	return mgr
}

// State returns the current link state.
func (lm *linkStateMgr) State() LinkState {
	return LinkState(lm.state.Load())
}

// IsConnected returns if the current state is connected.
func (lm *linkStateMgr) IsConnected() bool {
	return lm.State().IsConnected()
}

// AddHandler adds one or more LinkStateChangeHandler functions to be invoked on state changes.
func (lm *linkStateMgr) AddHandler(handlers ...LinkStateChangeHandler) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.handlers = append(lm.handlers, handlers...)
}

// toConnected transitions the link state to ConnectedState.
func (lm *linkStateMgr) toConnected() {
	lm.transition(ConnectedState)
}

// toDisconnected transitions the link state to DisconnectedState.
// This transition is allowed from any state; transitioning while already
// disconnected is a no-op, which keeps Disconnect idempotent.
func (lm *linkStateMgr) toDisconnected() {
	lm.transition(DisconnectedState)
}

func (lm *linkStateMgr) transition(newState LinkState) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	curState := lm.State()
	if curState == newState {
		return
	}

	// change state before handlers run so that concurrent I/O observes the new state
	lm.state.Store(uint32(newState))

	lm.logger.Debug("link state changed", "prevState", curState, "newState", newState)

	for _, handler := range lm.handlers {
		if handler != nil {
			handler(curState, newState)
		}
	}
}
