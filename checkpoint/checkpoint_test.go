package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/safety"
)

func sampleCheckpoint() Swapd {
	return Swapd{
		SwapId:    common.SwapId{1, 2, 3},
		StateName: "BobRefundProcedureSignatures",
		LastMsg:   "RefundProcedureSignatures",
		Enquirer:  bus.ServiceId{Kind: bus.ServiceFarcasterd},
		Safety: safety.TemporalSafety{
			CancelTimelock: 20,
			PunishTimelock: 40,
			BtcFinalityThr: 5,
			XmrFinalityThr: 10,
			SweepMoneroThr: 10,
			RaceThr:        2,
		},
		Txs:   map[types.TxLabel][]byte{types.Lock: []byte("locktx")},
		Txids: map[types.TxLabel]string{types.Funding: "deadbeef"},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := sampleCheckpoint()
	b, err := Encode(s)
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, s, decoded)
}

func TestSplitAndReassemble(t *testing.T) {
	orig := maxFrameSize
	maxFrameSize = reserved + 64
	defer func() { maxFrameSize = orig }()

	s := sampleCheckpoint()
	payload, err := Encode(s)
	require.NoError(t, err)
	require.True(t, NeedsChunking(payload))

	chunks := Split(s.SwapId, payload)
	require.Greater(t, len(chunks), 1)

	r := NewReassembler()
	var (
		got Swapd
		ok  bool
	)
	for i, c := range chunks {
		got, ok, err = r.Add(c)
		require.NoError(t, err)
		if i < len(chunks)-1 {
			require.False(t, ok)
		}
	}
	require.True(t, ok)
	require.Equal(t, s, got)
}

func TestReassembleDuplicateChunkIdempotent(t *testing.T) {
	orig := maxFrameSize
	maxFrameSize = reserved + 64
	defer func() { maxFrameSize = orig }()

	s := sampleCheckpoint()
	payload, err := Encode(s)
	require.NoError(t, err)
	chunks := Split(s.SwapId, payload)
	require.Greater(t, len(chunks), 1)

	r := NewReassembler()
	_, ok, err := r.Add(chunks[0])
	require.NoError(t, err)
	require.False(t, ok)

	// Re-add the same chunk; still waiting on the rest, not an error.
	_, ok, err = r.Add(chunks[0])
	require.NoError(t, err)
	require.False(t, ok)

	for _, c := range chunks[1:] {
		_, ok, err = r.Add(c)
		require.NoError(t, err)
	}
	require.True(t, ok)
}

func TestReassembleChecksumMismatch(t *testing.T) {
	orig := maxFrameSize
	maxFrameSize = reserved + 64
	defer func() { maxFrameSize = orig }()

	s := sampleCheckpoint()
	payload, err := Encode(s)
	require.NoError(t, err)
	chunks := Split(s.SwapId, payload)
	require.Greater(t, len(chunks), 1)

	corrupt := chunks
	corrupt[0].Bytes = append([]byte{0xff}, corrupt[0].Bytes[1:]...)

	r := NewReassembler()
	var lastErr error
	for _, c := range corrupt {
		_, _, lastErr = r.Add(c)
		if lastErr != nil {
			break
		}
	}
	require.ErrorIs(t, lastErr, common.ErrChecksumMismatch)
}
