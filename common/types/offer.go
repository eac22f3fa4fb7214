package types

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/btcxmr/swapd/common"
)

// PublicOffer is immutable for the swap's lifetime: the network, the two
// leg amounts, the two timelocks, and which swap role the maker plays.
type PublicOffer struct {
	Network          *chaincfg.Params
	ArbitratingAmt   btcutil.Amount // BTC
	AccordantAmtPico uint64         // XMR, piconero
	CancelTimelock   uint32         // blocks
	PunishTimelock   uint32         // blocks
	MakerSwapRole    SwapRole
}

// SwapId derives the swap's identifier. The core treats this as an opaque
// value handed to it by the wallet boundary; this helper exists for
// callers (tests, the cmd front-ends) that need a deterministic id from an
// offer without a live wallet.
func (o *PublicOffer) SwapId(offerHash [32]byte) common.SwapId {
	return common.SwapId(offerHash)
}
