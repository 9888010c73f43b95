// Package mitutoyo implements the device communication and recovery protocol
// for a Mitutoyo multi-channel dial-gauge hub attached to a terminal server.
//
// The hub fans one TCP link out across eight gauge channels and speaks a
// line-oriented, CR-terminated ASCII protocol: a one-based slot index queries
// a channel, and the hub answers "<slot>:<signed-decimal>" or nothing at all
// when the channel is unreadable. The hub's multiplexer has a known fault
// where channels 5-8 silently drop out; the work-around is to drive the hub
// through its configuration-mode reset sequence and poll again.
//
// Key Features:
//   - Device Link Management: Conn owns the TCP connection, serializes all
//     request/response exchanges through a single in-flight slot, and enforces
//     timeouts on every blocking operation.
//   - Channel Polling: Hub.PollOnce queries every configured slot in order and
//     assembles a fresh eight-entry position vector, reporting completeness.
//   - Multiplexer Recovery: Hub.PollWithRecovery retries incomplete passes
//     with the hub's reset sequence, bounded by a maximum round count.
//   - Simulation: MockHub and MockServer speak the same wire protocol over a
//     loopback listener, including a fault-injection mode, so the polling and
//     recovery paths can be exercised without physical hardware.
//
// Empty replies are a first-class protocol outcome meaning "channel unreadable
// this cycle", reported through the completeness flag, never as an error. Only
// transport faults and malformed replies surface as errors.
//
// Usage Example:
//
//	hub := mitutoyo.NewHub(log)
//	err := hub.Configure(mitutoyo.DeviceConfig{
//	    Devices: []string{"dial0", "dial1"},
//	    HubType: "Mitutoyo",
//	    Host:    "127.0.0.1",
//	    Port:    4001,
//	})
//	// ... handle error ...
//
//	err = hub.Connect(ctx)
//	// ... handle error ...
//	defer hub.Disconnect()
//
//	positions, isok, err := hub.PollWithRecovery(ctx, 3)
//	// ... handle error, escalate when isok is false ...
package mitutoyo
