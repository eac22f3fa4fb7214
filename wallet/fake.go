package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarinX/monerorpc/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/cockroachdb/apd/v3"

	"github.com/btcxmr/swapd/common/types"
)

// Fake is an in-memory Wallet used by swapfsm and dispatcher tests. It
// never touches real key material: every opaque payload is a
// deterministic marker string so tests can assert on protocol sequencing
// without a live signer.
type Fake struct {
	mu sync.Mutex

	RequiredBtc *apd.Decimal
	RequiredXmr *apd.Decimal

	// ValidReveal controls the verdict OpensCommitment returns, letting
	// tests exercise the invalid-reveal rejection path.
	ValidReveal bool

	commits map[[32]byte]Commitment
}

// NewFake returns a Fake configured to accept every Reveal it is asked
// to verify.
func NewFake() *Fake {
	return &Fake{
		ValidReveal: true,
		commits:     make(map[[32]byte]Commitment),
	}
}

// BuildFundingInfo returns the configured required amount for the leg
// matching role/chain.
func (f *Fake) BuildFundingInfo(_ context.Context, offer types.PublicOffer, role types.SwapRole, chain types.Chain) (FundingInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	amt := f.RequiredBtc
	addr := "bc1qfake"
	if chain == types.Monero {
		amt = f.RequiredXmr
		addr = "fakexmraddress"
	}
	return FundingInfo{Chain: chain, Address: addr, RequiredAmount: amt}, nil
}

// Commit returns a deterministic marker commitment for swapID.
func (f *Fake) Commit(_ context.Context, swapID [32]byte) (Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := Commitment(fmt.Sprintf("commit-%x", swapID[:4]))
	f.commits[swapID] = c
	return c, nil
}

// OpensCommitment returns the fake's configured verdict.
func (f *Fake) OpensCommitment(_ context.Context, _ Commitment, _ RevealParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ValidReveal, nil
}

// Reveal returns a deterministic marker reveal payload for swapID.
func (f *Fake) Reveal(_ context.Context, swapID [32]byte) (RevealParams, error) {
	return RevealParams(fmt.Sprintf("reveal-%x", swapID[:4])), nil
}

// BuildArbitratingSetup returns minimal, validly-structured placeholder
// transactions and deterministic marker addresses, mirroring
// BuildBuyTx/BuildPunishTx below.
func (f *Fake) BuildArbitratingSetup(_ context.Context, swapID [32]byte) (ArbitratingSetup, error) {
	return ArbitratingSetup{
		Lock:          btcutil.NewTx(wire.NewMsgTx(wire.TxVersion)),
		Cancel:        btcutil.NewTx(wire.NewMsgTx(wire.TxVersion)),
		Refund:        btcutil.NewTx(wire.NewMsgTx(wire.TxVersion)),
		LockAddress:   fmt.Sprintf("bc1qlock-%x", swapID[:4]),
		CancelAddress: fmt.Sprintf("bc1qcancel-%x", swapID[:4]),
	}, nil
}

// SignRefundProcedureSignatures returns a deterministic marker payload.
func (f *Fake) SignRefundProcedureSignatures(_ context.Context, swapID [32]byte, _ ArbitratingSetup) ([]byte, error) {
	return []byte(fmt.Sprintf("refundsigs-%x", swapID[:4])), nil
}

// SignBuyProcedureSignature returns a deterministic marker payload.
func (f *Fake) SignBuyProcedureSignature(_ context.Context, swapID [32]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("buysig-%x", swapID[:4])), nil
}

// BuildBuyTx returns a minimal, validly-structured empty transaction.
func (f *Fake) BuildBuyTx(_ context.Context, _ [32]byte, _ []byte) (*btcutil.Tx, error) {
	return btcutil.NewTx(wire.NewMsgTx(wire.TxVersion)), nil
}

// BuildPunishTx returns a minimal, validly-structured empty transaction.
func (f *Fake) BuildPunishTx(_ context.Context, _ [32]byte) (*btcutil.Tx, error) {
	return btcutil.NewTx(wire.NewMsgTx(wire.TxVersion)), nil
}

// DeriveMoneroSweepSpend returns deterministic marker keys derived from
// the counter-party transaction bytes, letting tests assert that the
// correct transaction was handed to it without any real cryptography.
func (f *Fake) DeriveMoneroSweepSpend(_ context.Context, swapID [32]byte, counterpartyTx []byte) (MoneroSweepSpec, error) {
	return MoneroSweepSpec{
		SpendKey: append([]byte(fmt.Sprintf("spend-%x-", swapID[:4])), counterpartyTx...),
		ViewKey:  []byte(fmt.Sprintf("view-%x", swapID[:4])),
	}, nil
}

// MoneroWallet is unimplemented on the fake; tests that need Monero
// JSON-RPC shapes construct them directly rather than through a live
// client.
func (f *Fake) MoneroWallet() wallet.Wallet {
	return nil
}
