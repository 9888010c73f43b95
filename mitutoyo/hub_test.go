package mitutoyo

import (
	"bufio"
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestHub configures a hub component against the given simulated server
// with fast timeouts and the given device names. It does not connect.
func newTestHub(t *testing.T, server *MockServer, devices []string, opts ...ConnOption) *Hub {
	t.Helper()

	hub := NewHub(nil, append(fastConnOpts(), opts...)...)
	require.NoError(t, hub.Configure(DeviceConfig{
		Devices:  devices,
		HubType:  "Mitutoyo",
		Units:    "um",
		Location: "test bench",
		Host:     server.Host(),
		Port:     server.Port(),
	}))
	t.Cleanup(hub.Disconnect)

	return hub
}

func sixDevices() []string {
	return []string{"gauge1", "gauge2", "gauge3", "gauge4", "gauge5", "gauge6"}
}

func fourDevices() []string {
	return []string{"gauge1", "gauge2", "gauge3", "gauge4"}
}

func TestHub_Configure(t *testing.T) {
	require := require.New(t)

	hub := NewHub(nil)

	err := hub.Configure(DeviceConfig{
		Devices: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"},
	})
	require.Error(err)

	require.NoError(hub.Configure(DeviceConfig{
		Devices:  []string{"a", "b"},
		HubType:  "Mitutoyo",
		Units:    "um",
		Location: "somewhere",
		Host:     "127.0.0.1",
		Port:     5000,
	}))

	// names are padded to the fixed slot count
	require.Equal([]string{"a", "b", "", "", "", "", "", ""}, hub.Names())
	require.Equal("Mitutoyo", hub.HubType())
	require.Equal("um", hub.Units())
	require.Equal("somewhere", hub.Location())
}

func TestHub_NotConnected(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	hub := newTestHub(t, server, fourDevices())

	_, isok, err := hub.PollOnce(ctx)
	require.ErrorIs(err, ErrNotConnected)
	require.False(isok)

	_, isok, err = hub.PollWithRecovery(ctx, 3)
	require.ErrorIs(err, ErrNotConnected)
	require.False(isok)

	require.False(hub.Connected())
	require.Empty(mock.CommandLog())
}

func TestHub_ConnectDisconnect(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, _ := startMockServer(t)
	hub := newTestHub(t, server, fourDevices())

	// disconnect before connect is a no-op
	hub.Disconnect()

	require.NoError(hub.Connect(ctx))
	require.True(hub.Connected())
	require.ErrorIs(hub.Connect(ctx), ErrAlreadyConnected)

	hub.Disconnect()
	require.False(hub.Connected())
	hub.Disconnect()

	// reconnect after disconnect
	require.NoError(hub.Connect(ctx))
	require.True(hub.Connected())
}

func TestHub_PollOnce_Complete(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	hub := newTestHub(t, server, fourDevices())
	require.NoError(hub.Connect(ctx))

	positions, isok, err := hub.PollOnce(ctx)
	require.NoError(err)
	require.True(isok)

	require.InDelta(0.00009, positions[0], 1e-12)
	require.InDelta(0.001, positions[1], 1e-12)
	require.InDelta(0.002, positions[2], 1e-12)
	require.InDelta(0.003, positions[3], 1e-12)
	for slot := 4; slot < NumSlots; slot++ {
		require.True(math.IsNaN(positions[slot]), "slot %d should be NaN", slot)
	}

	require.Equal([]string{"1", "2", "3", "4"}, mock.CommandLog())
}

// A NaN table entry on a configured slot surfaces as an empty reply: the pass
// is incomplete and scanning stops at that slot, so later configured slots are
// not probed in the same pass.
func TestHub_PollOnce_StopsAtUnreadableSlot(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	hub := newTestHub(t, server, sixDevices())
	require.NoError(hub.Connect(ctx))

	positions, isok, err := hub.PollOnce(ctx)
	require.NoError(err)
	require.False(isok)

	require.InDelta(0.00009, positions[0], 1e-12)
	require.InDelta(0.001, positions[1], 1e-12)
	require.InDelta(0.002, positions[2], 1e-12)
	require.InDelta(0.003, positions[3], 1e-12)
	// slot 4 is the hub-reported gap, slot 5 was never probed
	require.True(math.IsNaN(positions[4]))
	require.True(math.IsNaN(positions[5]))

	require.Equal([]string{"1", "2", "3", "4", "5"}, mock.CommandLog())
}

func TestHub_PollOnce_SkipsUnconfiguredSlots(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	mock.SetPositions([NumSlots]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8})

	hub := newTestHub(t, server, []string{"gauge1", "", "gauge3"})
	require.NoError(hub.Connect(ctx))

	positions, isok, err := hub.PollOnce(ctx)
	require.NoError(err)
	require.True(isok)

	require.InDelta(0.1, positions[0], 1e-12)
	require.True(math.IsNaN(positions[1]), "unconfigured slot must stay NaN")
	require.InDelta(0.3, positions[2], 1e-12)

	require.Equal([]string{"1", "3"}, mock.CommandLog())
}

func TestHub_PollOnce_ProtocolError(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()

	// a desynchronized hub that answers every line with garbage
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		reader := bufio.NewReader(c)
		for {
			if _, err := reader.ReadString(Terminator); err != nil {
				return
			}
			if _, err := c.Write([]byte("garbage\r")); err != nil {
				return
			}
		}
	}()

	hub := NewHub(nil, fastConnOpts()...)
	require.NoError(hub.Configure(DeviceConfig{
		Devices: fourDevices(),
		Host:    "127.0.0.1",
		Port:    listener.Addr().(*net.TCPAddr).Port,
	}))
	t.Cleanup(hub.Disconnect)
	require.NoError(hub.Connect(ctx))

	_, isok, err := hub.PollOnce(ctx)
	require.ErrorIs(err, ErrInvalidReply)
	require.False(isok)
}

func TestHub_PollWithRecovery_NegativeResets(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	hub := newTestHub(t, server, fourDevices())
	require.NoError(hub.Connect(ctx))

	positions, isok, err := hub.PollWithRecovery(ctx, -1)
	require.ErrorIs(err, ErrInvalidResetLimit)
	require.False(isok)

	for slot := 0; slot < NumSlots; slot++ {
		require.True(math.IsNaN(positions[slot]))
	}

	// rejected before any network activity
	require.Empty(mock.CommandLog())
}

func TestHub_PollWithRecovery_SkipsRecoveryWhenComplete(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	hub := newTestHub(t, server, fourDevices())
	require.NoError(hub.Connect(ctx))

	_, isok, err := hub.PollWithRecovery(ctx, 3)
	require.NoError(err)
	require.True(isok)

	require.Equal(0, mock.CommandCount(CmdEnterConfig))
	require.Equal(0, mock.CommandCount(CmdExitConfig))
	require.Equal([]string{"1", "2", "3", "4"}, mock.CommandLog())
}

// With the fault injected and never clearing, maxResets=3 yields exactly four
// poll passes and three reset sequences, and no reset after the final pass.
func TestHub_PollWithRecovery_Exhaustion(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	mock.SetFaultInjection(true)

	hub := newTestHub(t, server, fourDevices())
	require.NoError(hub.Connect(ctx))

	positions, isok, err := hub.PollWithRecovery(ctx, 3)
	require.NoError(err)
	require.False(isok)

	for slot := 0; slot < NumSlots; slot++ {
		require.True(math.IsNaN(positions[slot]))
	}

	// every pass stops at slot 1, so its query count is the pass count
	require.Equal(4, mock.CommandCount("1"))
	require.Equal(3, mock.CommandCount(CmdEnterConfig))
	require.Equal(3, mock.CommandCount(CmdExitConfig))

	log := mock.CommandLog()
	require.Equal("1", log[len(log)-1], "no reset sequence after the final failed pass")

	metrics := hub.GetMetrics()
	require.Equal(uint64(4), metrics.PollPassCount.Load())
	require.Equal(uint64(3), metrics.RecoveryRoundCount.Load())
	require.Equal(uint64(4), metrics.IncompletePollCount.Load())
}

func TestHub_PollWithRecovery_RecoversAfterFirstReset(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	mock.SetFaultInjection(true)
	mock.RecoverAfterResets(1)

	hub := newTestHub(t, server, fourDevices())
	require.NoError(hub.Connect(ctx))

	positions, isok, err := hub.PollWithRecovery(ctx, 3)
	require.NoError(err)
	require.True(isok)

	require.InDelta(0.00009, positions[0], 1e-12)
	require.InDelta(0.003, positions[3], 1e-12)

	// one failed pass, one reset sequence, one complete pass
	require.Equal(2, mock.CommandCount("1"))
	require.Equal(1, mock.CommandCount("4"))
	require.Equal(1, mock.CommandCount(CmdEnterConfig))
	require.Equal(1, mock.CommandCount(CmdExitConfig))
}

func TestHub_PollWithRecovery_ZeroResets(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	mock.SetFaultInjection(true)

	hub := newTestHub(t, server, fourDevices())
	require.NoError(hub.Connect(ctx))

	_, isok, err := hub.PollWithRecovery(ctx, 0)
	require.NoError(err)
	require.False(isok)

	// a zero budget means a single pass and no recovery at all
	require.Equal([]string{"1"}, mock.CommandLog())
}

func TestHub_SetPort(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, _ := startMockServer(t)

	hub := NewHub(nil, fastConnOpts()...)
	require.NoError(hub.Configure(DeviceConfig{
		Devices: fourDevices(),
		Host:    "127.0.0.1",
		Port:    1, // placeholder, overridden below
	}))
	t.Cleanup(hub.Disconnect)

	hub.SetPort(server.Port())
	require.NoError(hub.Connect(ctx))
	require.True(hub.Connected())
}

func TestHub_DisconnectDuringPoll(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	server, mock := startMockServer(t)
	mock.SetFaultInjection(true)

	// long read timeout keeps a pass in flight while we tear down
	hub := newTestHub(t, server, fourDevices(), WithReadTimeout(2*time.Second))
	require.NoError(hub.Connect(ctx))

	errChan := make(chan error, 1)
	go func() {
		_, _, err := hub.PollWithRecovery(ctx, 3)
		errChan <- err
	}()

	time.Sleep(50 * time.Millisecond)
	hub.Disconnect()

	select {
	case err := <-errChan:
		require.ErrorIs(err, ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("poll did not observe the disconnect")
	}

	require.False(hub.Connected())
}
