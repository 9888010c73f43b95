package mitutoyo

import (
	"sync/atomic"
)

// LinkMetrics contains atomic metrics for a device link.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type LinkMetrics struct {
	// ExchangeSendCount indicates the number of commands sent to the hub.
	ExchangeSendCount atomic.Uint64
	// ExchangeRecvCount indicates the number of non-empty replies received from the hub.
	ExchangeRecvCount atomic.Uint64
	// EmptyReplyCount indicates the number of empty replies, including read timeouts.
	EmptyReplyCount atomic.Uint64
	// ExchangeErrCount indicates the number of transport errors during exchanges.
	ExchangeErrCount atomic.Uint64

	// ProtocolErrCount indicates the number of replies that could not be parsed.
	ProtocolErrCount atomic.Uint64

	// PollPassCount indicates the number of full poll passes issued.
	PollPassCount atomic.Uint64
	// IncompletePollCount indicates the number of poll passes that ended incomplete.
	IncompletePollCount atomic.Uint64
	// RecoveryRoundCount indicates the number of multiplexer recovery sequences issued.
	RecoveryRoundCount atomic.Uint64
}

func (m *LinkMetrics) incExchangeSendCount() {
	m.ExchangeSendCount.Add(1)
}

func (m *LinkMetrics) incExchangeRecvCount() {
	m.ExchangeRecvCount.Add(1)
}

func (m *LinkMetrics) incEmptyReplyCount() {
	m.EmptyReplyCount.Add(1)
}

func (m *LinkMetrics) incExchangeErrCount() {
	m.ExchangeErrCount.Add(1)
}

func (m *LinkMetrics) incProtocolErrCount() {
	m.ProtocolErrCount.Add(1)
}

func (m *LinkMetrics) incPollPassCount() {
	m.PollPassCount.Add(1)
}

func (m *LinkMetrics) incIncompletePollCount() {
	m.IncompletePollCount.Add(1)
}

func (m *LinkMetrics) incRecoveryRoundCount() {
	m.RecoveryRoundCount.Add(1)
}
