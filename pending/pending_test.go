package pending

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcxmr/swapd/bus"
)

func TestPushDrainOrder(t *testing.T) {
	q := NewQueue()
	dest := bus.NewSwapServiceId([32]byte{1})

	q.Push(CauseAccLockFinal, Request{Dest: dest, Bus: bus.Msg, Payload: "first"})
	q.Push(CauseAccLockFinal, Request{Dest: dest, Bus: bus.Msg, Payload: "second"})
	require.Equal(t, 2, q.Len(CauseAccLockFinal))

	drained := q.Drain(CauseAccLockFinal)
	require.Equal(t, []Request{
		{Dest: dest, Bus: bus.Msg, Payload: "first"},
		{Dest: dest, Bus: bus.Msg, Payload: "second"},
	}, drained)
	require.Equal(t, 0, q.Len(CauseAccLockFinal))
}

func TestDrainIndependentCauses(t *testing.T) {
	q := NewQueue()
	dest := bus.NewSwapServiceId([32]byte{2})

	q.Push(CauseFeeEstimate, Request{Dest: dest, Bus: bus.Msg, Payload: "reveal"})
	q.Push(CausePeerUnreachable, Request{Dest: dest, Bus: bus.Msg, Payload: "retry"})

	require.Len(t, q.Drain(CauseFeeEstimate), 1)
	require.Equal(t, 1, q.Len(CausePeerUnreachable))
}

func TestRestoreRoundTrip(t *testing.T) {
	q := NewQueue()
	dest := bus.NewSwapServiceId([32]byte{3})
	q.Push(CauseAccLockFinal, Request{Dest: dest, Bus: bus.Ctl, Payload: "x"})

	snapshot := q.All()

	q2 := NewQueue()
	q2.Restore(snapshot)
	require.Equal(t, 1, q2.Len(CauseAccLockFinal))
}
