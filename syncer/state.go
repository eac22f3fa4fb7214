package syncer

import (
	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/common/types"
)

// State caches the chain observations a swap instance has received from
// its two syncers, on top of the task bookkeeping in Tasks.
type State struct {
	*Tasks

	Network types.Chain // informational; real network params live on PublicOffer

	BtcHeight uint64
	XmrHeight uint64
	FeeSatKvB uint64

	confirmations map[types.TxLabel]uint32

	BtcSyncerId bus.ServiceId
	XmrSyncerId bus.ServiceId

	RequiredBtc uint64
	RequiredXmr uint64

	AwaitingFunding bool

	// lastLockConfs and lastCancelConfs memoize the most recent
	// TransactionConfirmations event for Lock and Cancel so that a
	// "safe to publish" window missed while waiting on the wallet for a
	// Cancel/Buy/Refund/Punish transaction can be re-evaluated the
	// instant that transaction becomes available.
	lastLockConfs   *uint32
	lastCancelConfs *uint32
}

// NewState returns a syncer state with empty task bookkeeping, bound to
// the given syncer service ids and required funding amounts.
func NewState(btcSyncer, xmrSyncer bus.ServiceId, requiredBtc, requiredXmr uint64) *State {
	return &State{
		Tasks:         NewTasks(),
		confirmations: make(map[types.TxLabel]uint32),
		BtcSyncerId:   btcSyncer,
		XmrSyncerId:   xmrSyncer,
		RequiredBtc:   requiredBtc,
		RequiredXmr:   requiredXmr,
	}
}

// HandleHeightChange updates the cached height for chain. Returns true if
// the height advanced (the caller should re-evaluate scheduled actions).
func (s *State) HandleHeightChange(h uint64, chain types.Chain) bool {
	if chain == types.Bitcoin {
		if h <= s.BtcHeight {
			return false
		}
		s.BtcHeight = h
		return true
	}
	if h <= s.XmrHeight {
		return false
	}
	s.XmrHeight = h
	return true
}

// HandleTxConfs updates the cached confirmation count for label, flips
// its finality flag once the threshold is crossed, and memoizes Lock and
// Cancel confirmations for event replay.
func (s *State) HandleTxConfs(label types.TxLabel, c uint32, finalityThr uint32) (becameFinal bool) {
	s.confirmations[label] = c
	wasFinal := s.IsFinal(label)
	if c >= finalityThr {
		s.MarkFinal(label)
	}

	switch label {
	case types.Lock:
		cc := c
		s.lastLockConfs = &cc
	case types.Cancel:
		cc := c
		s.lastCancelConfs = &cc
	}

	return !wasFinal && s.IsFinal(label)
}

// Confirmations returns the cached confirmation count for label.
func (s *State) Confirmations(label types.TxLabel) uint32 {
	return s.confirmations[label]
}

// AllConfirmations returns a copy of every confirmation count cached so
// far, used to answer GetInfo without exposing the live map.
func (s *State) AllConfirmations() map[types.TxLabel]uint32 {
	out := make(map[types.TxLabel]uint32, len(s.confirmations))
	for label, c := range s.confirmations {
		out[label] = c
	}
	return out
}

// LastLockConfs returns the most recently observed Lock confirmation
// count, if any has been seen.
func (s *State) LastLockConfs() (uint32, bool) {
	if s.lastLockConfs == nil {
		return 0, false
	}
	return *s.lastLockConfs, true
}

// LastCancelConfs returns the most recently observed Cancel confirmation
// count, if any has been seen.
func (s *State) LastCancelConfs() (uint32, bool) {
	if s.lastCancelConfs == nil {
		return 0, false
	}
	return *s.lastCancelConfs, true
}

// SyncerFor returns the bound syncer service id for chain.
func (s *State) SyncerFor(chain types.Chain) bus.ServiceId {
	if chain == types.Bitcoin {
		return s.BtcSyncerId
	}
	return s.XmrSyncerId
}
