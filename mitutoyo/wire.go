package mitutoyo

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminator is the line terminator of the hub's wire protocol.
// The hub speaks CR-terminated ASCII; it never sends LF.
const Terminator byte = '\r'

// Hub configuration-mode commands used by the multiplexer recovery sequence.
const (
	// CmdEnterConfig puts the hub into its configuration mode.
	CmdEnterConfig = "SPC"
	// CmdExitConfig queries and leaves the hub's configuration mode.
	CmdExitConfig = "QU"
)

// Encode encodes an outgoing command into its wire representation, an ASCII
// string followed by the CR terminator.
func Encode(cmd string) []byte {
	buf := make([]byte, 0, len(cmd)+1)
	buf = append(buf, cmd...)
	buf = append(buf, Terminator)

	return buf
}

// Decode decodes a received line by stripping the trailing CR terminator.
//
// An empty decoded string (including a reply that is just the terminator) is the
// protocol's explicit signal for "no data". It is not a transport error and must
// be distinguished from a timeout by the caller.
func Decode(line []byte) string {
	return strings.TrimSuffix(string(line), string(Terminator))
}

// SlotQuery returns the command string that queries the given zero-based slot.
// The hub addresses slots with one-based indexes.
func SlotQuery(slot int) string {
	return strconv.Itoa(slot + 1)
}

// ParsePosition parses a successful channel reply of the form
// "<1-based-index>:<signed-decimal>" and returns the position value.
//
// The reply is split on ':' and the final field is parsed as a floating-point
// number. A reply with fewer than two fields or a non-numeric value is a
// protocol error, distinct from an empty reply.
func ParsePosition(reply string) (float64, error) {
	fields := strings.Split(reply, ":")
	if len(fields) < 2 {
		return 0, fmt.Errorf("%w: %q has no value field", ErrInvalidReply, reply)
	}

	val, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q has a non-numeric value field", ErrInvalidReply, reply)
	}

	return val, nil
}

// FormatPosition formats a slot value the way the hub reports it, a one-based
// slot index and the value with an explicit sign and six decimal places,
// e.g. "3:+0.002000".
func FormatPosition(slot int, val float64) string {
	return fmt.Sprintf("%d:%+f", slot+1, val)
}
