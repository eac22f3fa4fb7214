// Package safety holds TemporalSafety, the pure confirmation-count
// configuration the state machine consults before publishing a
// timelock-gated transaction.
package safety

import (
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
)

// TemporalSafety is immutable per-swap configuration: the two timelocks
// come from the swap's PublicOffer, the other thresholds from the node's
// own policy. All fields are confirmation-depth thresholds. CancelTimelock
// is compared with Lock confirmations and PunishTimelock with Cancel
// confirmations; btc_finality_thr and xmr_finality_thr are measured from
// each chain's own watched transaction, sweep_monero_thr from AccLock
// confirmations, and race_thr is the margin subtracted from or added to
// the others.
type TemporalSafety struct {
	CancelTimelock uint32
	PunishTimelock uint32
	BtcFinalityThr uint32
	XmrFinalityThr uint32
	SweepMoneroThr uint32
	RaceThr        uint32
}

// ValidParams enforces the spacing invariants a PublicOffer's timelocks
// must satisfy. A swap whose offer fails this check never starts: the
// state machine aborts at Init.
func (s TemporalSafety) ValidParams() error {
	if s.BtcFinalityThr+s.RaceThr >= s.CancelTimelock {
		return common.ErrInvalidTimelocks
	}
	if s.CancelTimelock+s.RaceThr >= s.PunishTimelock {
		return common.ErrInvalidTimelocks
	}
	return nil
}

// FinalTx reports whether c confirmations finalize a transaction on the
// given chain.
func (s TemporalSafety) FinalTx(c uint32, chain types.Chain) bool {
	if chain == types.Bitcoin {
		return c >= s.BtcFinalityThr
	}
	return c >= s.XmrFinalityThr
}

// ValidCancel reports whether c Lock confirmations make publishing
// Cancel both safe and still useful.
func (s TemporalSafety) ValidCancel(c uint32) bool {
	return c >= s.CancelTimelock && c < s.PunishTimelock-s.RaceThr
}

// SafeBuy reports whether c Lock confirmations leave enough of a race
// margin against Cancel to publish Buy.
func (s TemporalSafety) SafeBuy(c uint32) bool {
	return c+s.RaceThr < s.CancelTimelock
}

// SafeRefund reports whether c Cancel confirmations leave enough of a
// race margin to publish Refund.
func (s TemporalSafety) SafeRefund(c uint32) bool {
	return c+s.RaceThr < s.PunishTimelock
}

// ValidPunish reports whether c Cancel confirmations have reached the
// punish timelock.
func (s TemporalSafety) ValidPunish(c uint32) bool {
	return c >= s.PunishTimelock
}

// StopFundingBeforeCancel reports whether c Lock confirmations are close
// enough to cancel_timelock that locking Monero is no longer worthwhile.
func (s TemporalSafety) StopFundingBeforeCancel(c uint32) bool {
	return c+s.RaceThr >= s.CancelTimelock
}
