package mitutoyo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockHub_Reply(t *testing.T) {
	require := require.New(t)

	hub := NewMockHub(nil)

	t.Run("numeric slot value", func(t *testing.T) {
		reply, err := hub.Reply("1")
		require.NoError(err)
		require.Equal("1:+0.000090\r", reply)

		reply, err = hub.Reply("3")
		require.NoError(err)
		require.Equal("3:+0.002000\r", reply)
	})

	t.Run("nan slot replies bare terminator", func(t *testing.T) {
		reply, err := hub.Reply("5")
		require.NoError(err)
		require.Equal("\r", reply)
	})

	t.Run("config commands reply empty ack", func(t *testing.T) {
		reply, err := hub.Reply(CmdEnterConfig)
		require.NoError(err)
		require.Empty(reply)

		reply, err = hub.Reply(CmdExitConfig)
		require.NoError(err)
		require.Empty(reply)
	})

	t.Run("unknown command fails loudly", func(t *testing.T) {
		_, err := hub.Reply("9")
		require.ErrorIs(err, ErrUnknownCommand)

		_, err = hub.Reply("0")
		require.ErrorIs(err, ErrUnknownCommand)

		_, err = hub.Reply("RESET")
		require.ErrorIs(err, ErrUnknownCommand)
	})
}

func TestMockHub_FaultInjection(t *testing.T) {
	require := require.New(t)

	hub := NewMockHub(nil)
	hub.SetFaultInjection(true)

	// every slot query goes silent, table contents do not matter
	for slot := 1; slot <= NumSlots; slot++ {
		reply, err := hub.Reply(SlotQuery(slot - 1))
		require.NoError(err)
		require.Empty(reply)
	}

	hub.SetFaultInjection(false)

	reply, err := hub.Reply("1")
	require.NoError(err)
	require.Equal("1:+0.000090\r", reply)
}

func TestMockHub_RecoverAfterResets(t *testing.T) {
	require := require.New(t)

	hub := NewMockHub(nil)
	hub.SetFaultInjection(true)
	hub.RecoverAfterResets(2)

	reply, err := hub.Reply("1")
	require.NoError(err)
	require.Empty(reply)

	// first reset sequence does not clear the fault yet
	_, err = hub.Reply(CmdEnterConfig)
	require.NoError(err)
	_, err = hub.Reply(CmdExitConfig)
	require.NoError(err)

	reply, err = hub.Reply("1")
	require.NoError(err)
	require.Empty(reply)

	// second reset sequence clears it
	_, err = hub.Reply(CmdEnterConfig)
	require.NoError(err)
	_, err = hub.Reply(CmdExitConfig)
	require.NoError(err)

	reply, err = hub.Reply("1")
	require.NoError(err)
	require.Equal("1:+0.000090\r", reply)
}

func TestMockHub_SetPosition(t *testing.T) {
	require := require.New(t)

	hub := NewMockHub(nil)

	hub.SetPosition(4, 0.25)
	reply, err := hub.Reply("5")
	require.NoError(err)
	require.Equal("5:+0.250000\r", reply)

	hub.SetPosition(0, math.NaN())
	reply, err = hub.Reply("1")
	require.NoError(err)
	require.Equal("\r", reply)
}

func TestMockHub_CommandLog(t *testing.T) {
	require := require.New(t)

	hub := NewMockHub(nil)

	_, _ = hub.Reply("1")
	_, _ = hub.Reply("2")
	_, _ = hub.Reply(CmdEnterConfig)
	_, _ = hub.Reply(CmdExitConfig)
	_, _ = hub.Reply("1")

	require.Equal([]string{"1", "2", "SPC", "QU", "1"}, hub.CommandLog())
	require.Equal(2, hub.CommandCount("1"))
	require.Equal(1, hub.CommandCount(CmdEnterConfig))
	require.Equal(0, hub.CommandCount("8"))
}
