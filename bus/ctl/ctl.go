// Package ctl defines the supervisor/control messages exchanged on the
// Ctl bus: the inbound surface that drives a swap instance's lifecycle
// and the outbound surface it reports progress and terminal outcomes on.
package ctl

import (
	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
)

// InitSwap carries everything a freshly spawned swap instance needs to
// enter Init{Role}{Maker|Taker}.
type InitSwap struct {
	PeerdId      bus.ServiceId
	ReportTo     bus.ServiceId
	LocalParams  []byte // opaque wallet-produced parameter set
	SwapId       common.SwapId
	RemoteCommit []byte
	FundingAddr  string
	Offer        types.PublicOffer
	LocalTrade   types.TradeRole

	// BtcDestination is the local party's own Bitcoin address, used as
	// the sweep target when Bob aborts a funded-but-unlocked swap.
	BtcDestination string
	// XmrDestination is the local party's own Monero address, used as the
	// sweep target on Buy success (Bob) and on Refund (Alice).
	XmrDestination string
}

// MakeSwap is sent to a swap instance created as the maker.
type MakeSwap struct{ Init InitSwap }

// TakeSwap is sent to a swap instance created as the taker.
type TakeSwap struct{ Init InitSwap }

// AbortSwap requests cancellation. Before the point of no return it
// succeeds; after, it is refused with ErrSwapLockedIn.
type AbortSwap struct{ SwapId common.SwapId }

// Terminate tells the swap instance to shut down without further state
// transitions, used by the supervisor during process exit.
type Terminate struct{ SwapId common.SwapId }

// Tx delivers a wallet-produced transaction for the given label into the
// state machine (e.g. the signed Buy transaction once Lock is final).
type Tx struct {
	SwapId common.SwapId
	Label  types.TxLabel
	Bytes  []byte
}

// SweepXmrAddress instructs the wallet to sweep the aggregated Monero
// output once both spend secrets are known.
type SweepXmrAddress struct {
	SwapId     common.SwapId
	ViewKey    []byte
	SpendKey   []byte
	Address    string
	MinBalance uint64
}

// PeerdReconnected tells the swap instance its peer session is back; the
// pending peer request queue should be drained.
type PeerdReconnected struct{ SwapId common.SwapId }

// Checkpoint is a single-frame persisted state write.
type Checkpoint struct {
	SwapId common.SwapId
	State  []byte
}

// CheckpointMultipartChunk is one chunk of a multipart checkpoint write.
// Checksum is the RIPEMD160 of the full, unchunked State.
type CheckpointMultipartChunk struct {
	Checksum  [20]byte
	MsgIndex  uint16
	MsgsTotal uint16
	Bytes     []byte
	SwapId    common.SwapId
}

// GetInfo requests a snapshot of the swap instance's current state.
type GetInfo struct{ SwapId common.SwapId }

// PeerdUnreachable is emitted when an outbound Msg-bus send fails; the
// message itself is queued and resent on PeerdReconnected.
type PeerdUnreachable struct{ SwapId common.SwapId }

// FundingInfo is emitted once a swap instance knows the address and
// amount the counter-party (or local user, for Bob) must fund.
type FundingInfo struct {
	SwapId  common.SwapId
	Chain   types.Chain
	Address string
	Amount  uint64
}

// FundingCompleted is emitted at most once per chain per swap, when the
// required funding amount is observed.
type FundingCompleted struct {
	SwapId common.SwapId
	Chain  types.Chain
}

// FundingCanceled is emitted when funding is abandoned on a chain, e.g.
// Alice reaching stop_funding_before_cancel.
type FundingCanceled struct {
	SwapId common.SwapId
	Chain  types.Chain
}

// SwapOutcome is emitted exactly once, immediately before SwapEnd is
// entered.
type SwapOutcome struct {
	SwapId  common.SwapId
	Outcome types.Outcome
}

// SwapInfo answers GetInfo with a snapshot of the current state name and
// the confirmation counts the dispatcher has cached.
type SwapInfo struct {
	SwapId        common.SwapId
	StateName     string
	Confirmations map[types.TxLabel]uint32
}

// Progress is a free-text narration of swap progress, mirroring the
// teacher's bold-banner logging convention at the bus boundary.
type Progress struct {
	SwapId common.SwapId
	Text   string
}

// Failure reports a non-fatal error back to the enquirer.
type Failure struct {
	SwapId common.SwapId
	Code   uint32
	Info   string
}
