package safety

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
)

func validSafety() TemporalSafety {
	return TemporalSafety{
		CancelTimelock: 20,
		PunishTimelock: 40,
		BtcFinalityThr: 5,
		XmrFinalityThr: 10,
		SweepMoneroThr: 10,
		RaceThr:        2,
	}
}

func TestValidParams(t *testing.T) {
	require.NoError(t, validSafety().ValidParams())
}

func TestValidParamsRejectsTightCancelSpacing(t *testing.T) {
	s := validSafety()
	s.CancelTimelock = s.BtcFinalityThr + s.RaceThr
	require.ErrorIs(t, s.ValidParams(), common.ErrInvalidTimelocks)
}

func TestValidParamsRejectsTightPunishSpacing(t *testing.T) {
	s := validSafety()
	s.PunishTimelock = s.CancelTimelock + s.RaceThr
	require.ErrorIs(t, s.ValidParams(), common.ErrInvalidTimelocks)
}

func TestFinalTx(t *testing.T) {
	s := validSafety()
	require.False(t, s.FinalTx(4, types.Bitcoin))
	require.True(t, s.FinalTx(5, types.Bitcoin))
	require.False(t, s.FinalTx(9, types.Monero))
	require.True(t, s.FinalTx(10, types.Monero))
}

func TestValidCancel(t *testing.T) {
	s := validSafety()
	require.False(t, s.ValidCancel(19))
	require.True(t, s.ValidCancel(20))
	require.True(t, s.ValidCancel(37))
	require.False(t, s.ValidCancel(38))
}

func TestSafeBuy(t *testing.T) {
	s := validSafety()
	require.True(t, s.SafeBuy(17))
	require.False(t, s.SafeBuy(18))
}

func TestSafeRefund(t *testing.T) {
	s := validSafety()
	require.True(t, s.SafeRefund(37))
	require.False(t, s.SafeRefund(38))
}

func TestValidPunish(t *testing.T) {
	s := validSafety()
	require.False(t, s.ValidPunish(39))
	require.True(t, s.ValidPunish(40))
}

func TestStopFundingBeforeCancel(t *testing.T) {
	s := validSafety()
	require.False(t, s.StopFundingBeforeCancel(17))
	require.True(t, s.StopFundingBeforeCancel(18))
}
