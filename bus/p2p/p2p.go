// Package p2p defines the peer protocol messages exchanged on the Msg
// bus. The core treats Commit, Reveal, CoreArbitratingSetup,
// RefundProcedureSignatures, and BuyProcedureSignature payloads as opaque:
// they are produced and validated by the wallet boundary, and the core
// only checks sender identity and current-state eligibility before
// routing them. Framing and wire serialization are the peer daemon's
// concern; Message only carries what the core itself needs to read.
package p2p

import (
	"fmt"

	"github.com/btcxmr/swapd/common"
)

// Kind identifies which peer message variant a Message carries, letting
// the dispatcher switch on payload type without a type assertion chain.
type Kind uint8

const (
	KindTakerCommit Kind = iota
	KindMakerCommit
	KindReveal
	KindCoreArbitratingSetup
	KindRefundProcedureSignatures
	KindBuyProcedureSignature
	KindOfferNotFound
	KindAbort
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTakerCommit:
		return "TakerCommit"
	case KindMakerCommit:
		return "MakerCommit"
	case KindReveal:
		return "Reveal"
	case KindCoreArbitratingSetup:
		return "CoreArbitratingSetup"
	case KindRefundProcedureSignatures:
		return "RefundProcedureSignatures"
	case KindBuyProcedureSignature:
		return "BuyProcedureSignature"
	case KindOfferNotFound:
		return "OfferNotFound"
	case KindAbort:
		return "Abort"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Commitment is the opaque commitment value exchanged in TakerCommit /
// MakerCommit and opened by the matching Reveal. The core never inspects
// its contents; it only compares a stored Commitment against the one a
// Reveal claims to open, via Opens.
type Commitment []byte

// Opens reports whether reveal is the opening of c. The actual
// commitment scheme lives in the wallet; the core is handed the verdict
// it asks the wallet for and stores it here as a pure comparison so that
// swapfsm's transition logic stays free of cryptographic detail.
func (c Commitment) Opens(reveal RevealPayload, verified bool) bool {
	return verified
}

// TakerCommit is sent once, by the taker to the maker, in StartTaker.
type TakerCommit struct {
	SwapId     common.SwapId
	Commitment Commitment
}

// MakerCommit is sent once, by the maker to the taker, in Init{Taker}.
type MakerCommit struct {
	SwapId     common.SwapId
	Commitment Commitment
}

// RevealKind distinguishes the three payload shapes Reveal carries.
type RevealKind uint8

const (
	RevealAliceParameters RevealKind = iota
	RevealBobParameters
	RevealProof
)

// RevealPayload is sent by both parties once the counter-party's commit
// has been received; the dispatcher must reject it unless it opens the
// previously stored commitment for that peer.
type RevealPayload struct {
	SwapId common.SwapId
	Kind   RevealKind
	// Parameters is the opaque wallet-produced parameter set (Alice's or
	// Bob's, per Kind) or the DLEq proof bytes, left untyped at this
	// layer because the core never interprets it.
	Parameters []byte
}

// CoreArbitratingSetup is sent once, Bob to Alice, after Reveal. It
// carries the Bitcoin arbitrating transactions (Lock, Cancel, Refund)
// the wallet assembled.
type CoreArbitratingSetup struct {
	SwapId common.SwapId
	Lock   []byte
	Cancel []byte
	Refund []byte
}

// RefundProcedureSignatures is sent once, Alice to Bob, in the
// AliceReveal → Setup transition. It carries Alice's signatures enabling
// Bob to broadcast Lock.
type RefundProcedureSignatures struct {
	SwapId     common.SwapId
	Signatures []byte
}

// BuyProcedureSignature is sent once, Bob to Alice, after the Monero
// AccLock output reaches finality. It carries the signature enabling
// Alice to broadcast Buy.
type BuyProcedureSignature struct {
	SwapId    common.SwapId
	Signature []byte
}

// OfferNotFound is sent when the maker no longer recognizes the offer a
// taker tried to commit to.
type OfferNotFound struct {
	OfferHash [32]byte
}

// Abort aborts the swap from the peer side, e.g. because the remote
// wallet refused to continue past commit/reveal.
type Abort struct {
	SwapId common.SwapId
	Reason string
}
