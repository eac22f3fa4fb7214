// Package swapfsm implements the per-swap state machine: a single
// cooperative, single-threaded instance that consumes one event at a
// time from the dispatcher and drives a swap from Start through
// commit/reveal, funding, buy or cancel/refund/punish, to SwapEnd.
//
// Instance is one struct carrying everything a transition needs rather
// than forty distinct payload types; State names which node of the
// graph it currently occupies and the rest of the fields are read or
// written depending on which branch is active.
package swapfsm

import (
	"context"
	"fmt"

	logging "github.com/ipfs/go-log"

	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/bus/ctl"
	"github.com/btcxmr/swapd/bus/p2p"
	"github.com/btcxmr/swapd/bus/syncmsg"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/pending"
	"github.com/btcxmr/swapd/safety"
	"github.com/btcxmr/swapd/syncer"
	"github.com/btcxmr/swapd/wallet"
)

var log = logging.Logger("swapfsm")

// Instance is a single swap's state machine.
type Instance struct {
	Id         common.SwapId
	Role       types.SwapRole
	TradeRole  types.TradeRole
	Offer      types.PublicOffer
	State      StateName
	Safety     safety.TemporalSafety

	Syncer      *syncer.State
	Broadcaster *syncer.Broadcaster
	Pending     *pending.Queue
	Wallet      wallet.Wallet
	Endpoints   bus.Endpoints

	PeerdId    bus.ServiceId
	ReportTo   bus.ServiceId
	Farcasterd bus.ServiceId

	RemoteCommit   p2p.Commitment
	LocalCommit    p2p.Commitment
	FundingAddress string
	RequiredBtc    uint64
	RequiredXmr    uint64

	// BtcDestination and XmrDestination are the local party's own
	// addresses, used as sweep targets: BtcDestination when Bob aborts a
	// funded-but-unlocked swap, XmrDestination when either party sweeps
	// the accordant lock output after learning the counter-party's secret.
	BtcDestination string
	XmrDestination string

	// Txs holds the raw transaction bytes known for each label, keyed as
	// soon as they are built or received: Lock/Cancel/Refund from
	// CoreArbitratingSetup (or the wallet, for Bob), Buy and Punish once
	// this instance builds them itself.
	Txs map[types.TxLabel][]byte
	// LockAddress and CancelAddress are the arbitrating outputs: Bob
	// watches LockAddress for a Buy spend, and Alice watches CancelAddress
	// (when known) for a Punish spend once Cancel is seen.
	LockAddress   string
	CancelAddress string

	LastMsg string

	// at-most-once gates named in §4.3 action rule 7.
	buyPublished     bool
	xmrLocked        bool
	cancelSeen       bool
	refundSeen       bool
	fundingCompleted map[types.Chain]bool
	outcomeEmitted   bool
}

// New returns a freshly constructed instance in StartAlice or StartBob,
// according to role: the caller drives it into Init by sending MakeSwap
// or TakeSwap.
func New(id common.SwapId, role types.SwapRole, tradeRole types.TradeRole, offer types.PublicOffer,
	safety safety.TemporalSafety, syncerState *syncer.State, w wallet.Wallet, ep bus.Endpoints,
	requiredBtc, requiredXmr uint64) *Instance {

	start := StateStartBob
	if role == types.Alice {
		start = StateStartAlice
	}

	return &Instance{
		Id:               id,
		Role:             role,
		TradeRole:        tradeRole,
		Offer:            offer,
		State:            start,
		Safety:           safety,
		Syncer:           syncerState,
		Broadcaster:      syncer.NewBroadcaster(),
		Pending:          pending.NewQueue(),
		Wallet:           w,
		Endpoints:        ep,
		Txs:              make(map[types.TxLabel][]byte),
		fundingCompleted: make(map[types.Chain]bool),
		RequiredBtc:      requiredBtc,
		RequiredXmr:      requiredXmr,
	}
}

// Ended reports whether the instance has reached its terminal state.
func (i *Instance) Ended() bool {
	return i.State == StateSwapEnd
}

// transition moves the instance to next, logging the move the way the
// teacher's swap state announces completion with colored banners.
func (i *Instance) transition(next StateName) {
	log.Infof("%s: %s -> %s", i.Id, common.RedBold(string(i.State)), common.BrightGreenBold(string(next)))
	i.State = next
}

// sendCtl is a small wrapper so transition handlers read as "send Ctl
// message" rather than threading Endpoints.SendCtl everywhere.
func (i *Instance) sendCtl(dest bus.ServiceId, payload interface{}) error {
	return i.Endpoints.SendCtl(bus.NewSwapServiceId(i.Id), dest, payload)
}

// sendMsg sends payload to dest over the Msg bus. If the peer session is
// unreachable, the send is deferred under CausePeerUnreachable instead of
// failing the transition, and PeerdReconnected later drains it (§5).
func (i *Instance) sendMsg(dest bus.ServiceId, payload interface{}) error {
	err := i.Endpoints.SendMsg(bus.NewSwapServiceId(i.Id), dest, payload)
	if err == nil {
		return nil
	}
	log.Warnf("%s: peer unreachable, deferring %T: %v", i.Id, payload, err)
	i.Pending.Push(pending.CausePeerUnreachable, pending.Request{
		Dest: dest, Bus: bus.Msg, Payload: payload,
	})
	return i.sendCtl(i.ReportTo, ctl.PeerdUnreachable{SwapId: i.Id})
}

func (i *Instance) sendSync(dest bus.ServiceId, payload interface{}) error {
	return i.Endpoints.SendSync(bus.NewSwapServiceId(i.Id), dest, payload)
}

// emitOutcome sends SwapOutcome exactly once and enters SwapEnd.
func (i *Instance) emitOutcome(ctx context.Context, outcome types.Outcome) error {
	if i.outcomeEmitted {
		return nil
	}
	i.outcomeEmitted = true
	if err := i.sendCtl(i.ReportTo, ctl.SwapOutcome{SwapId: i.Id, Outcome: outcome}); err != nil {
		return err
	}
	if _, err := i.abortAllTasks(); err != nil {
		return err
	}
	i.transition(StateSwapEnd)
	return nil
}

func (i *Instance) abortAllTasks() (syncmsg.Abort, error) {
	abort := i.Syncer.AbortAll()
	return abort, i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), abort)
}

// completeFunding marks chain's funding complete and reports it, unless
// already reported for this chain (invariant #4).
func (i *Instance) completeFunding(chain types.Chain) error {
	if i.fundingCompleted[chain] {
		return nil
	}
	i.fundingCompleted[chain] = true
	return i.sendCtl(i.ReportTo, ctl.FundingCompleted{SwapId: i.Id, Chain: chain})
}

// Next is the total transition function: it consumes event ev from
// whichever bus delivered it and returns transitioned=true if State
// changed. A nil error with transitioned=false means the event was
// valid but did not apply to the current state (ignored, stay).
func (i *Instance) Next(ctx context.Context, ev interface{}) (transitioned bool, err error) {
	if i.Ended() {
		return false, common.ErrTerminal
	}

	before := i.State
	if err := i.dispatch(ctx, ev); err != nil {
		return false, err
	}
	return i.State != before, nil
}

func (i *Instance) dispatch(ctx context.Context, ev interface{}) error {
	switch e := ev.(type) {
	case ctl.MakeSwap:
		return i.handleInit(e.Init, types.Maker)
	case ctl.TakeSwap:
		return i.handleInit(e.Init, types.Taker)
	case ctl.AbortSwap:
		return i.handleAbortSwap(ctx)
	case ctl.Tx:
		return i.handleWalletTx(ctx, e)
	case ctl.PeerdReconnected:
		return i.handlePeerdReconnected(ctx)
	case p2p.MakerCommit:
		return i.handleMakerCommit(e)
	case p2p.RevealPayload:
		return i.handleReveal(ctx, e)
	case p2p.CoreArbitratingSetup:
		return i.handleCoreArbitratingSetup(ctx, e)
	case p2p.RefundProcedureSignatures:
		return i.handleRefundProcedureSignatures(ctx, e)
	case p2p.BuyProcedureSignature:
		return i.handleBuyProcedureSignature(ctx, e)
	case p2p.OfferNotFound:
		return i.handleOfferNotFound(ctx)
	case p2p.Abort:
		return i.handleOfferNotFound(ctx)
	case syncmsg.HeightChanged:
		return i.handleHeightChanged(ctx, e)
	case syncmsg.AddressTransaction:
		return i.handleAddressTransaction(ctx, e)
	case syncmsg.TransactionConfirmations:
		return i.handleTxConfirmations(ctx, e)
	case syncmsg.TransactionRetrieved:
		return i.handleTxRetrieved(ctx, e)
	case syncmsg.SweepSuccess:
		return i.handleSweepSuccess(ctx, e)
	case syncmsg.FeeEstimation:
		return i.handleFeeEstimation(ctx, e)
	case syncmsg.TaskAborted:
		i.Syncer.AbortTask(e.Id)
		return nil
	case syncmsg.TransactionBroadcasted, syncmsg.Empty:
		return nil
	default:
		return fmt.Errorf("swapfsm: unhandled event type %T", ev)
	}
}
