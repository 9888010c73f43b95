package csc

import "errors"

// SummaryState represents the lifecycle state of the PMD component.
type SummaryState uint32

// Component summary states.
const (
	// StandbyState indicates that the component is alive but not reading hardware.
	StandbyState SummaryState = iota
	// DisabledState indicates that the component is connected to the hub and
	// publishing telemetry, but not considered operational.
	DisabledState
	// EnabledState indicates that the component is fully operational.
	EnabledState
	// FaultState indicates that the component escalated a failure and stopped.
	FaultState
)

// String returns string representation of the current state.
func (s SummaryState) String() string {
	switch s {
	case StandbyState:
		return "standby"
	case DisabledState:
		return "disabled"
	case EnabledState:
		return "enabled"
	case FaultState:
		return "fault"
	default:
		return "unknown"
	}
}

// ErrorCode identifies why the component entered the fault state.
type ErrorCode int

const (
	// NoError indicates that no fault has been reported.
	NoError ErrorCode = 0
	// HardwareConnectionFailed indicates that the TCP connection to the hub
	// could not be established.
	HardwareConnectionFailed ErrorCode = 1
	// ChannelRecoveryFailed indicates that the multiplexer recovery sequence
	// exhausted its round budget without a complete poll pass.
	ChannelRecoveryFailed ErrorCode = 2
)

// ErrInvalidTransition is returned when a lifecycle command is not valid in
// the current summary state.
var ErrInvalidTransition = errors.New("invalid summary state transition")
