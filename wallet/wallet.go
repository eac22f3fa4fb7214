// Package wallet defines the boundary between the swap core and the
// cryptographic wallet: the core never derives keys, builds transactions,
// or verifies commitments itself, it asks Wallet and treats the answers
// as opaque payloads it routes and checks identity on.
package wallet

import (
	"context"

	"github.com/MarinX/monerorpc/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/cockroachdb/apd/v3"

	"github.com/btcxmr/swapd/common/types"
)

// FundingInfo is what the wallet hands back when asked how much and
// where the counter-party must fund. The state machine treats
// RequiredAmount as an opaque input to its funding-policy checks; it
// never computes it itself.
type FundingInfo struct {
	Chain          types.Chain
	Address        string
	RequiredAmount *apd.Decimal
}

// Commitment is the opaque commit payload produced for TakerCommit or
// MakerCommit.
type Commitment []byte

// RevealParams is the opaque parameter set (Alice's or Bob's) carried by
// a Reveal message.
type RevealParams []byte

// ArbitratingSetup carries the Bitcoin transactions CoreArbitratingSetup
// delivers, along with the addresses the syncer watches to learn when Lock
// and Cancel are later spent by Buy and Punish respectively (those two
// transactions are not known in advance, since each requires a secret only
// its publisher holds).
type ArbitratingSetup struct {
	Lock          *btcutil.Tx
	Cancel        *btcutil.Tx
	Refund        *btcutil.Tx
	LockAddress   string
	CancelAddress string
}

// MoneroSweepSpec is what DeriveMoneroSweepSpend hands back: the fully
// combined spend key for the accordant lock output (derived from the
// local secret plus the counter-party's, extracted from the witness of
// the Bitcoin transaction that revealed it) and the view key needed to
// scan for it.
type MoneroSweepSpec struct {
	SpendKey []byte
	ViewKey  []byte
}

// Wallet is the boundary the core calls into for every operation that
// needs key material or cryptographic validation. It is implemented
// against a local signer in production and against a fake in tests.
type Wallet interface {
	// BuildFundingInfo computes the address and required amount for an
	// offer's accordant or arbitrating leg.
	BuildFundingInfo(ctx context.Context, offer types.PublicOffer, role types.SwapRole, chain types.Chain) (FundingInfo, error)

	// Commit produces this party's commitment for TakerCommit/MakerCommit.
	Commit(ctx context.Context, swapID [32]byte) (Commitment, error)

	// OpensCommitment verifies that reveal opens the previously received
	// commitment.
	OpensCommitment(ctx context.Context, commitment Commitment, reveal RevealParams) (bool, error)

	// Reveal produces this party's Reveal payload.
	Reveal(ctx context.Context, swapID [32]byte) (RevealParams, error)

	// BuildArbitratingSetup assembles the Lock, Cancel, and Refund
	// transactions Bob sends Alice in CoreArbitratingSetup.
	BuildArbitratingSetup(ctx context.Context, swapID [32]byte) (ArbitratingSetup, error)

	// SignRefundProcedureSignatures produces Alice's signature payload
	// enabling Bob to broadcast Lock.
	SignRefundProcedureSignatures(ctx context.Context, swapID [32]byte, setup ArbitratingSetup) ([]byte, error)

	// SignBuyProcedureSignature produces Bob's signature payload enabling
	// Alice to broadcast Buy.
	SignBuyProcedureSignature(ctx context.Context, swapID [32]byte) ([]byte, error)

	// BuildBuyTx assembles Alice's signed Buy transaction once Bob's
	// signature has been received and Monero has reached finality.
	BuildBuyTx(ctx context.Context, swapID [32]byte, bobSig []byte) (*btcutil.Tx, error)

	// BuildPunishTx assembles Alice's signed Punish transaction once Cancel
	// has reached punish_timelock without a Refund appearing.
	BuildPunishTx(ctx context.Context, swapID [32]byte) (*btcutil.Tx, error)

	// DeriveMoneroSweepSpend extracts the counter-party's Monero spend
	// secret from the witness of a retrieved Bitcoin transaction (Buy, for
	// Bob; Refund, for Alice) and combines it with the local secret into
	// the spend/view key pair that controls the accordant lock output.
	DeriveMoneroSweepSpend(ctx context.Context, swapID [32]byte, counterpartyTx []byte) (MoneroSweepSpec, error)

	// MoneroWallet returns the underlying JSON-RPC client for Monero
	// balance and transfer operations used by the sweep and funding
	// paths.
	MoneroWallet() wallet.Wallet
}
