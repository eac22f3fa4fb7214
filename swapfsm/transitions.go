package swapfsm

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcxmr/swapd/bus/ctl"
	"github.com/btcxmr/swapd/bus/p2p"
	"github.com/btcxmr/swapd/bus/syncmsg"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/pending"
	"github.com/btcxmr/swapd/wallet"
)

// handleInit drives Start{Role} -> Init{Role}{Maker|Taker} on MakeSwap or
// TakeSwap, validating the offer's timelock spacing first: an offer that
// fails ValidParams never starts. Per the original's
// watch_fee_and_height, a height watch on both chains is registered here,
// before any peer message is processed, so the cached tip is already
// warm by the time Reveal arrives.
func (i *Instance) handleInit(init ctl.InitSwap, tradeRole types.TradeRole) error {
	if i.State != StateStartAlice && i.State != StateStartBob {
		return nil
	}

	if err := i.Safety.ValidParams(); err != nil {
		return i.abortTerminal(context.Background(), err)
	}

	i.TradeRole = tradeRole
	i.PeerdId = init.PeerdId
	i.ReportTo = init.ReportTo
	i.FundingAddress = init.FundingAddr
	i.RemoteCommit = p2p.Commitment(init.RemoteCommit)
	i.BtcDestination = init.BtcDestination
	i.XmrDestination = init.XmrDestination

	if err := i.watchHeightBothChains(); err != nil {
		return err
	}

	commit, err := i.Wallet.Commit(context.Background(), i.Id)
	if err != nil {
		return err
	}
	i.LocalCommit = p2p.Commitment(commit)

	switch {
	case i.Role == types.Bob && tradeRole == types.Maker:
		i.transition(StateBobInitMaker)
	case i.Role == types.Bob && tradeRole == types.Taker:
		i.transition(StateBobInitTaker)
		return i.sendMsg(i.PeerdId, p2p.TakerCommit{SwapId: i.Id, Commitment: p2p.Commitment(commit)})
	case i.Role == types.Alice && tradeRole == types.Maker:
		i.transition(StateAliceInitMaker)
	default:
		i.transition(StateAliceInitTaker)
		return i.sendMsg(i.PeerdId, p2p.TakerCommit{SwapId: i.Id, Commitment: p2p.Commitment(commit)})
	}
	return nil
}

// watchHeightBothChains registers a WatchHeight task on both chains. It
// is idempotent in practice (Init is only entered once per instance) but
// does not itself guard against double registration, mirroring §4.1's
// contract that dedup is the state machine's job, not the task table's.
func (i *Instance) watchHeightBothChains() error {
	for _, chain := range []types.Chain{types.Bitcoin, types.Monero} {
		id := i.Syncer.NewTaskId()
		if err := i.sendSync(i.Syncer.SyncerFor(chain), syncmsg.WatchHeight{Chain: chain, Id: id}); err != nil {
			return err
		}
	}
	return nil
}

// handleHeightChanged updates the cached tip for the reporting chain and,
// on a Bitcoin tick, re-runs evaluateCancelWindow against the cached Lock
// confirmations without waiting for a fresh TransactionConfirmations
// event: Alice's stop_funding_before_cancel check and, for either role,
// the Cancel broadcast once the cancel window is open.
func (i *Instance) handleHeightChanged(ctx context.Context, e syncmsg.HeightChanged) error {
	if !i.Syncer.HandleHeightChange(e.Height, e.Chain) {
		return nil
	}
	if e.Chain != types.Bitcoin {
		return nil
	}
	if c, ok := i.Syncer.LastLockConfs(); ok {
		return i.evaluateCancelWindow(ctx, c)
	}
	return nil
}

// abortTerminal enters SwapEnd(FailureAbort) directly, used both for
// invalid-timelock startup failures and pre-point-of-no-return AbortSwap.
func (i *Instance) abortTerminal(ctx context.Context, cause error) error {
	log.Warnf("%s: aborting: %v", i.Id, cause)
	return i.emitOutcome(ctx, types.FailureAbort)
}

// handleAbortSwap implements the cancellation semantics of §5: before the
// point of no return this aborts directly (with a Bitcoin sweep for
// Bob); after, it is refused.
func (i *Instance) handleAbortSwap(ctx context.Context) error {
	switch i.State {
	case StateStartAlice, StateStartBob,
		StateAliceInitMaker, StateAliceInitTaker, StateAliceTakerMakerCommit, StateAliceReveal,
		StateBobInitMaker, StateBobInitTaker, StateBobTakerMakerCommit:
		return i.abortTerminal(ctx, common.ErrSwapLockedIn)
	case StateBobReveal, StateBobFunded:
		return i.bobAbortWithSweep(ctx)
	default:
		return i.sendCtl(i.ReportTo, ctl.Failure{SwapId: i.Id, Info: common.ErrSwapLockedIn.Error()})
	}
}

func (i *Instance) bobAbortWithSweep(ctx context.Context) error {
	dest := i.BtcDestination
	if dest == "" {
		dest = i.FundingAddress
	}
	task, err := i.Syncer.SweepBtc(i.FundingAddress, dest, nil)
	if err != nil {
		return err
	}
	if err := i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), task); err != nil {
		return err
	}
	i.transition(StateBobAbortAwaitingBitcoinSweep)
	return nil
}

// handleMakerCommit drives {Role}Init{Taker} -> {Role}TakerMakerCommit.
func (i *Instance) handleMakerCommit(e p2p.MakerCommit) error {
	if i.State != StateAliceInitTaker && i.State != StateBobInitTaker {
		return nil
	}
	i.RemoteCommit = e.Commitment

	if i.Role == types.Alice {
		i.transition(StateAliceTakerMakerCommit)
	} else {
		i.transition(StateBobTakerMakerCommit)
	}
	return nil
}

// handleOfferNotFound/Abort triggers Bob's sweep-and-abort path if
// funding is already outstanding, otherwise a direct abort.
func (i *Instance) handleOfferNotFound(ctx context.Context) error {
	switch i.State {
	case StateAliceInitTaker, StateAliceTakerMakerCommit,
		StateBobInitTaker, StateBobTakerMakerCommit:
		return i.abortTerminal(ctx, common.ErrSwapLockedIn)
	case StateBobReveal:
		return i.bobAbortWithSweep(ctx)
	default:
		return nil
	}
}

// handleReveal accepts Reveal only when it opens the stored remote
// commitment. Deferral for Bob waiting on a fee estimate is implemented
// by leaving the state unchanged and queuing the payload under
// CauseFeeEstimate; handleFeeEstimation replays it.
func (i *Instance) handleReveal(ctx context.Context, e p2p.RevealPayload) error {
	eligible := i.State == StateAliceInitMaker || i.State == StateAliceTakerMakerCommit ||
		i.State == StateBobInitMaker || i.State == StateBobTakerMakerCommit
	if !eligible {
		return nil
	}

	opens, err := i.Wallet.OpensCommitment(ctx, wallet.Commitment(i.RemoteCommit), wallet.RevealParams(e.Parameters))
	if err != nil {
		return err
	}
	if !opens {
		log.Warnf("%s: reveal did not open stored commitment", i.Id)
		return i.sendCtl(i.ReportTo, ctl.Failure{SwapId: i.Id, Info: common.ErrInvalidReveal.Error()})
	}

	if i.Role == types.Bob && i.Syncer.FeeSatKvB == 0 {
		i.Pending.Push(pending.CauseFeeEstimate, pending.Request{Payload: e})
		return nil
	}

	if i.Role == types.Alice {
		i.transition(StateAliceReveal)
	} else {
		i.transition(StateBobReveal)
		return i.watchBobFunding()
	}
	return nil
}

// handleFeeEstimation releases any Reveal Bob deferred for lack of a fee
// estimate and re-enters BobReveal.
func (i *Instance) handleFeeEstimation(ctx context.Context, e syncmsg.FeeEstimation) error {
	i.Syncer.FeeSatKvB = e.SatPerKvB
	if i.Role != types.Bob || i.Syncer.FeeSatKvB == 0 {
		return nil
	}

	switch i.State {
	case StateBobInitMaker, StateBobTakerMakerCommit:
		if i.Pending.Len(pending.CauseFeeEstimate) == 0 {
			return nil
		}
		i.Pending.Drain(pending.CauseFeeEstimate)
		i.transition(StateBobReveal)
		return i.watchBobFunding()
	default:
		return nil
	}
}

// watchBobFunding registers the Funding address watch the moment Bob
// reaches BobReveal.
func (i *Instance) watchBobFunding() error {
	if i.Syncer.IsWatchedAddr(types.Funding) {
		return nil
	}
	task, err := i.Syncer.WatchAddrBtc(i.FundingAddress, types.Funding, 0)
	if err != nil {
		return err
	}
	return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), task)
}

// handleAddressTransaction applies funding-amount policy for both the
// Bitcoin Funding watch (Bob) and the Monero AccLock watch (either role),
// and starts retrieving Buy when Bob's Lock spend watch reports it. Events
// for any other label, including the Punish watch on CancelAddress, are
// ignored.
func (i *Instance) handleAddressTransaction(ctx context.Context, e syncmsg.AddressTransaction) error {
	label, ok := i.Syncer.LabelForAddr(e.Id)
	if !ok {
		log.Warnf("%s: %v: task id %d", i.Id, common.ErrUnknownTaskID, e.Id)
		return nil
	}

	switch label {
	case types.Funding:
		return i.handleBobFunding(ctx, e)
	case types.AccLock:
		return i.handleAliceAccLock(ctx, e)
	case types.Buy:
		i.Syncer.RecordTxid(types.Buy, e.Txid)
		return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), i.Syncer.RetrieveTxBtc(e.Txid, types.Buy))
	default:
		return nil
	}
}

// handleBobFunding implements §4.3 action rule 5: exact amount required,
// any deviation aborts and sweeps. On success it builds the arbitrating
// transactions and sends CoreArbitratingSetup, the handshake step that
// precedes RefundProcedureSignatures.
func (i *Instance) handleBobFunding(ctx context.Context, e syncmsg.AddressTransaction) error {
	if i.State != StateBobReveal {
		return nil
	}
	if e.Amount != i.RequiredBtc {
		log.Warnf("%s: funding amount mismatch, got %d want %d", i.Id, e.Amount, i.RequiredBtc)
		return i.bobAbortWithSweep(ctx)
	}

	if err := i.completeFunding(types.Bitcoin); err != nil {
		return err
	}
	i.transition(StateBobFunded)

	setup, err := i.Wallet.BuildArbitratingSetup(ctx, i.Id)
	if err != nil {
		return err
	}
	return i.storeArbitratingSetup(setup, func(lockBytes, cancelBytes, refundBytes []byte) error {
		return i.sendMsg(i.PeerdId, p2p.CoreArbitratingSetup{
			SwapId: i.Id, Lock: lockBytes, Cancel: cancelBytes, Refund: refundBytes,
		})
	})
}

// storeArbitratingSetup records Lock/Cancel/Refund bytes and their
// addresses, registers the Lock and Cancel confirmation watches the
// first time they become known, and invokes send with the serialized
// bytes (nil for any transaction setup does not carry).
func (i *Instance) storeArbitratingSetup(setup wallet.ArbitratingSetup, send func(lock, cancel, refund []byte) error) error {
	lockBytes, err := serializeTx(setup.Lock)
	if err != nil {
		return err
	}
	cancelBytes, err := serializeTx(setup.Cancel)
	if err != nil {
		return err
	}
	refundBytes, err := serializeTx(setup.Refund)
	if err != nil {
		return err
	}

	if lockBytes != nil {
		i.Txs[types.Lock] = lockBytes
		i.LockAddress = setup.LockAddress
		if !i.Syncer.IsWatchedTx(types.Lock) {
			task, err := i.Syncer.WatchTxBtc(txid(setup.Lock), types.Lock)
			if err != nil {
				return err
			}
			if err := i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), task); err != nil {
				return err
			}
		}
	}
	if cancelBytes != nil {
		i.Txs[types.Cancel] = cancelBytes
		i.CancelAddress = setup.CancelAddress
		if !i.Syncer.IsWatchedTx(types.Cancel) {
			task, err := i.Syncer.WatchTxBtc(txid(setup.Cancel), types.Cancel)
			if err != nil {
				return err
			}
			if err := i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), task); err != nil {
				return err
			}
		}
	}
	if refundBytes != nil {
		i.Txs[types.Refund] = refundBytes
	}

	return send(lockBytes, cancelBytes, refundBytes)
}

// handleAliceAccLock implements §4.3 action rule 6: underfund keeps
// waiting, overfund cancels.
func (i *Instance) handleAliceAccLock(ctx context.Context, e syncmsg.AddressTransaction) error {
	switch i.State {
	case StateAliceArbitratingLockFinal:
		switch {
		case e.Amount < i.RequiredXmr:
			log.Warnf("%s: AccLock underfunded, waiting", i.Id)
			return nil
		case e.Amount > i.RequiredXmr:
			return i.aliceCancelFunding(ctx)
		default:
			if err := i.completeFunding(types.Monero); err != nil {
				return err
			}
			i.xmrLocked = true
			i.transition(StateAliceAccordantLock)
			return i.watchAccLockConfs(e.Id, e.Txid)
		}
	case StateBobRefundProcedureSignatures:
		if e.Amount < i.RequiredXmr {
			return nil
		}
		i.xmrLocked = true
		i.transition(StateBobAccordantLock)
		return i.watchAccLockConfs(e.Id, e.Txid)
	default:
		return nil
	}
}

// watchAccLockConfs upgrades the AccLock address watch into a confirmation
// watch once its funding transaction is known, so later
// TransactionConfirmations events can be matched back to the AccLock label.
func (i *Instance) watchAccLockConfs(addrTaskId syncmsg.TaskId, txid string) error {
	i.Syncer.RecordTxid(types.AccLock, txid)
	if i.Syncer.IsWatchedTx(types.AccLock) {
		return nil
	}
	task := i.Syncer.PromoteToTxWatch(addrTaskId, txid, types.AccLock)
	return i.sendSync(i.Syncer.SyncerFor(types.Monero), task)
}

func (i *Instance) aliceCancelFunding(ctx context.Context) error {
	i.transition(StateAliceCanceled)
	return i.sendCtl(i.ReportTo, ctl.FundingCanceled{SwapId: i.Id, Chain: types.Monero})
}

// handleRefundProcedureSignatures is Bob's pre-Lock checkpoint
// transition: validates, then broadcasts Lock.
func (i *Instance) handleRefundProcedureSignatures(ctx context.Context, e p2p.RefundProcedureSignatures) error {
	if i.State != StateBobFunded {
		return nil
	}
	if e.SwapId != i.Id {
		return common.ErrWrongSwapID
	}

	i.transition(StateBobRefundProcedureSignatures)
	i.LastMsg = "Lock"

	if _, err := i.Wallet.SignRefundProcedureSignatures(ctx, i.Id, i.pendingArbitratingSetup()); err != nil {
		return err
	}

	if err := i.Broadcaster.TryBroadcast(types.Lock); err == nil {
		if lockBytes, ok := i.Txs[types.Lock]; ok {
			if err := i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), syncmsg.BroadcastTransaction{
				Chain: types.Bitcoin, Bytes: lockBytes,
			}); err != nil {
				return err
			}
		}
	}

	if i.Syncer.IsWatchedAddr(types.AccLock) {
		return nil
	}
	task, err := i.Syncer.WatchAddrXmr(i.FundingAddress, types.AccLock, 0)
	if err != nil {
		return err
	}
	return i.sendSync(i.Syncer.SyncerFor(types.Monero), task)
}

// pendingArbitratingSetup reconstructs the wallet.ArbitratingSetup from
// stored bytes for a call that only needs it as an opaque argument to the
// wallet (the wallet already holds the authoritative copy; the core keeps
// this only for watch bookkeeping and broadcast).
func (i *Instance) pendingArbitratingSetup() wallet.ArbitratingSetup {
	setup := wallet.ArbitratingSetup{LockAddress: i.LockAddress, CancelAddress: i.CancelAddress}
	if b, ok := i.Txs[types.Lock]; ok {
		setup.Lock, _ = deserializeTx(b)
	}
	if b, ok := i.Txs[types.Cancel]; ok {
		setup.Cancel, _ = deserializeTx(b)
	}
	if b, ok := i.Txs[types.Refund]; ok {
		setup.Refund, _ = deserializeTx(b)
	}
	return setup
}

// handleCoreArbitratingSetup is Alice's pre-Lock checkpoint transition:
// on receipt she records the arbitrating transactions, watches Lock and
// Cancel for confirmations, and sends RefundProcedureSignatures.
func (i *Instance) handleCoreArbitratingSetup(ctx context.Context, e p2p.CoreArbitratingSetup) error {
	if i.State != StateAliceReveal {
		return nil
	}

	i.transition(StateAliceCoreArbitratingSetup)
	i.LastMsg = "RefundProcedureSignatures"

	setup, err := arbitratingSetupFromWire(e)
	if err != nil {
		return err
	}
	if err := i.storeArbitratingSetup(setup, func(_, _, _ []byte) error { return nil }); err != nil {
		return err
	}

	sigs, err := i.Wallet.SignRefundProcedureSignatures(ctx, i.Id, setup)
	if err != nil {
		return err
	}
	return i.sendMsg(i.PeerdId, p2p.RefundProcedureSignatures{SwapId: i.Id, Signatures: sigs})
}

// aliceLockFinal transitions AliceCoreArbitratingSetup ->
// AliceArbitratingLockFinal once Lock reaches Bitcoin finality; reached
// from handleTxConfirmations below.
func (i *Instance) aliceLockFinal(ctx context.Context) error {
	if i.State != StateAliceCoreArbitratingSetup {
		return nil
	}
	i.transition(StateAliceArbitratingLockFinal)

	if i.Syncer.IsWatchedAddr(types.AccLock) {
		return nil
	}
	task, err := i.Syncer.WatchAddrXmr(i.FundingAddress, types.AccLock, 0)
	if err != nil {
		return err
	}
	return i.sendSync(i.Syncer.SyncerFor(types.Monero), task)
}

// handleBuyProcedureSignature is Bob -> Alice: Alice broadcasts Buy
// unless Lock is already past valid_cancel, deferring until AccLock
// finality if Monero has not yet finalized.
func (i *Instance) handleBuyProcedureSignature(ctx context.Context, e p2p.BuyProcedureSignature) error {
	if i.State != StateAliceAccordantLock {
		return nil
	}

	if !i.Syncer.IsFinal(types.AccLock) {
		i.Pending.Push(pending.CauseAccLockFinal, pending.Request{Payload: e})
		return nil
	}
	return i.aliceTryBuy(ctx, e)
}

func (i *Instance) aliceTryBuy(ctx context.Context, e p2p.BuyProcedureSignature) error {
	lockConfs := i.Syncer.Confirmations(types.Lock)
	if i.Safety.ValidCancel(lockConfs) {
		i.transition(StateAliceCanceled)
		return nil
	}
	if !i.Safety.SafeBuy(lockConfs) {
		return nil
	}

	i.transition(StateAliceBuyProcedureSignature)
	i.LastMsg = "Buy"

	if err := i.Broadcaster.TryBroadcast(types.Buy); err != nil {
		return nil
	}
	tx, err := i.Wallet.BuildBuyTx(ctx, i.Id, e.Signature)
	if err != nil {
		return err
	}
	buyBytes, err := serializeTx(tx)
	if err != nil {
		return err
	}
	i.Txs[types.Buy] = buyBytes
	i.buyPublished = true
	if !i.Syncer.IsWatchedTx(types.Buy) {
		task, err := i.Syncer.WatchTxBtc(txid(tx), types.Buy)
		if err != nil {
			return err
		}
		if err := i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), task); err != nil {
			return err
		}
	}
	return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), syncmsg.BroadcastTransaction{
		Chain: types.Bitcoin, Bytes: buyBytes,
	})
}

// handleAccLockFinal releases Alice's deferred BuyProcedureSignature
// once Monero reaches finality, drives Bob's transition into
// BobAccordantLockFinal, and watches Lock's output for a Buy spend.
func (i *Instance) handleAccLockFinal(ctx context.Context) error {
	if i.Role == types.Alice && i.State == StateAliceAccordantLock {
		held := i.Pending.Drain(pending.CauseAccLockFinal)
		for _, req := range held {
			e, ok := req.Payload.(p2p.BuyProcedureSignature)
			if !ok {
				continue
			}
			if err := i.aliceTryBuy(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}

	if i.Role == types.Bob && i.State == StateBobAccordantLock {
		i.transition(StateBobAccordantLockFinal)
		i.LastMsg = "BuyProcedureSignature"
		sig, err := i.Wallet.SignBuyProcedureSignature(ctx, i.Id)
		if err != nil {
			return err
		}
		if i.LockAddress != "" && !i.Syncer.IsWatchedAddr(types.Buy) {
			task, err := i.Syncer.WatchAddrBtc(i.LockAddress, types.Buy, 0)
			if err != nil {
				return err
			}
			if err := i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), task); err != nil {
				return err
			}
		}
		return i.sendMsg(i.PeerdId, p2p.BuyProcedureSignature{SwapId: i.Id, Signature: sig})
	}
	return nil
}

// handleTxConfirmations re-evaluates every confirmation-gated action: Buy
// finality for both roles, Lock finality for Alice, and Cancel/Refund/
// Punish for the cancel branch.
func (i *Instance) handleTxConfirmations(ctx context.Context, e syncmsg.TransactionConfirmations) error {
	label, ok := i.Syncer.LabelForTx(e.Id)
	if !ok {
		log.Warnf("%s: %v: task id %d", i.Id, common.ErrUnknownTaskID, e.Id)
		return nil
	}
	if e.Confs == nil {
		return nil
	}
	return i.applyConfirmations(ctx, label, *e.Confs)
}

// applyConfirmations is the confirmation-gated core shared by the live
// TransactionConfirmations path and §4.5's event replay: when the wallet
// delivers a transaction the syncer had no txid for yet, handleWalletTx
// re-feeds the last known confirmation count for its label through here
// exactly as if the syncer had just reported it.
func (i *Instance) applyConfirmations(ctx context.Context, label types.TxLabel, c uint32) error {
	switch label {
	case types.Lock:
		i.Syncer.HandleTxConfs(types.Lock, c, i.Safety.BtcFinalityThr)
		if err := i.aliceLockFinal(ctx); err != nil {
			return err
		}
		return i.evaluateCancelWindow(ctx, c)
	case types.AccLock:
		became := i.Syncer.HandleTxConfs(types.AccLock, c, i.Safety.XmrFinalityThr)
		if became {
			if err := i.handleAccLockFinal(ctx); err != nil {
				return err
			}
		}
		// SweepMoneroThr may sit above XmrFinalityThr, so a sweep Bob
		// deferred at handleBuyFinal because AccLock had not yet reached
		// it is retried on every later confirmation update too.
		if i.Role == types.Bob && i.State == StateBobBuyFinal {
			if buyBytes, ok := i.Txs[types.Buy]; ok {
				return i.bobSweepMonero(ctx, buyBytes)
			}
		}
		return nil
	case types.Buy:
		if i.Syncer.HandleTxConfs(types.Buy, c, i.Safety.BtcFinalityThr) {
			return i.handleBuyFinal(ctx)
		}
		return nil
	case types.Cancel:
		i.Syncer.HandleTxConfs(types.Cancel, c, i.Safety.BtcFinalityThr)
		return i.evaluateCancelOutcome(ctx, c)
	default:
		return nil
	}
}

// evaluateCancelWindow publishes Cancel when Lock confirmations enter
// [cancel_timelock, punish_timelock-race_thr), whichever side notices
// first.
func (i *Instance) evaluateCancelWindow(ctx context.Context, lockConfs uint32) error {
	if i.Role == types.Alice && i.State == StateAliceArbitratingLockFinal && i.Safety.StopFundingBeforeCancel(lockConfs) {
		return i.aliceCancelFunding(ctx)
	}
	if !i.Safety.ValidCancel(lockConfs) {
		return nil
	}
	if i.cancelSeen {
		return nil
	}
	// Either side may be first to notice; both broadcast the same
	// deterministic Cancel transaction, guarded at-most-once.
	cancelBytes, ok := i.Txs[types.Cancel]
	if !ok {
		return nil
	}
	if err := i.Broadcaster.TryBroadcast(types.Cancel); err == nil {
		if err := i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), syncmsg.BroadcastTransaction{
			Chain: types.Bitcoin, Bytes: cancelBytes,
		}); err != nil {
			return err
		}
	}
	return nil
}

// evaluateCancelOutcome moves Bob into BobCanceled/BobCancelFinal and
// Alice into AliceCanceled/AlicePunish once Cancel is observed and its
// confirmations satisfy safe_refund or valid_punish.
func (i *Instance) evaluateCancelOutcome(ctx context.Context, cancelConfs uint32) error {
	if !i.cancelSeen {
		i.cancelSeen = true
		if i.Role == types.Bob && isBobAnyOngoing(i.State) {
			i.transition(StateBobCanceled)
		}
		if i.Role == types.Alice && isAliceAnyOngoing(i.State) {
			i.transition(StateAliceCanceled)
			if i.CancelAddress != "" && !i.Syncer.IsWatchedAddr(types.Punish) {
				task, err := i.Syncer.WatchAddrBtc(i.CancelAddress, types.Punish, 0)
				if err != nil {
					return err
				}
				if err := i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), task); err != nil {
					return err
				}
			}
		}
	}

	if i.Role == types.Bob && i.State == StateBobCanceled && i.Safety.SafeRefund(cancelConfs) {
		i.transition(StateBobCancelFinal)
		i.LastMsg = "Refund"
		if refundBytes, ok := i.Txs[types.Refund]; ok {
			if err := i.Broadcaster.TryBroadcast(types.Refund); err == nil {
				return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), syncmsg.BroadcastTransaction{
					Chain: types.Bitcoin, Bytes: refundBytes,
				})
			}
		}
		return nil
	}

	if i.Role == types.Alice && i.State == StateAliceCanceled && !i.refundSeen && i.Safety.ValidPunish(cancelConfs) {
		tx, err := i.Wallet.BuildPunishTx(ctx, i.Id)
		if err != nil {
			return err
		}
		punishBytes, err := serializeTx(tx)
		if err != nil {
			return err
		}
		i.Txs[types.Punish] = punishBytes

		i.transition(StateAlicePunish)
		i.LastMsg = "Punish"
		if err := i.Broadcaster.TryBroadcast(types.Punish); err != nil {
			return nil
		}
		return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), syncmsg.BroadcastTransaction{
			Chain: types.Bitcoin, Bytes: punishBytes,
		})
	}

	return nil
}

func isBobAnyOngoing(s StateName) bool {
	switch s {
	case StateBobFunded, StateBobRefundProcedureSignatures, StateBobAccordantLock, StateBobAccordantLockFinal, StateBobBuyFinal:
		return true
	default:
		return false
	}
}

func isAliceAnyOngoing(s StateName) bool {
	switch s {
	case StateAliceCoreArbitratingSetup, StateAliceArbitratingLockFinal, StateAliceAccordantLock, StateAliceBuyProcedureSignature:
		return true
	default:
		return false
	}
}

// handleBuyFinal moves Bob to BobBuyFinal once Buy reaches BTC finality
// and starts his Monero sweep, and moves Alice straight to
// SwapEnd(SuccessSwap).
func (i *Instance) handleBuyFinal(ctx context.Context) error {
	if i.Role == types.Alice {
		return i.emitOutcome(ctx, types.SuccessSwap)
	}
	if i.State != StateBobAccordantLockFinal {
		return nil
	}
	i.transition(StateBobBuyFinal)

	buyBytes, ok := i.Txs[types.Buy]
	if !ok {
		buyTxid, hasTxid := i.Syncer.Txid(types.Buy)
		if !hasTxid {
			return nil
		}
		return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), i.Syncer.RetrieveTxBtc(buyTxid, types.Buy))
	}
	return i.bobSweepMonero(ctx, buyBytes)
}

// bobSweepMonero derives the combined Monero spend key from Buy's witness
// and sweeps the accordant lock output to Bob's destination once Monero
// has reached its own sweep-safety threshold.
func (i *Instance) bobSweepMonero(ctx context.Context, buyTx []byte) error {
	if i.Syncer.Confirmations(types.AccLock) < i.Safety.SweepMoneroThr {
		return nil
	}
	spec, err := i.Wallet.DeriveMoneroSweepSpend(ctx, i.Id, buyTx)
	if err != nil {
		return err
	}
	dest := i.XmrDestination
	if dest == "" {
		dest = i.FundingAddress
	}
	task, err := i.Syncer.SweepXmr(i.FundingAddress, dest, spec.SpendKey, 0)
	if err != nil {
		return nil
	}
	i.transition(StateBobBuySweeping)
	return i.sendSync(i.Syncer.SyncerFor(types.Monero), task)
}

// handleTxRetrieved reacts to the syncer delivering full transaction
// bytes for a retrieval task: Buy (Bob learning the counter-party's
// secret) or Refund (Alice learning Bob refunded). An answer without
// bytes completes the retrieval task all the same; it is not resubmitted.
func (i *Instance) handleTxRetrieved(ctx context.Context, e syncmsg.TransactionRetrieved) error {
	label, ok := i.Syncer.LabelForRetrieval(e.Id)
	if !ok {
		log.Warnf("%s: %v: task id %d", i.Id, common.ErrUnknownTaskID, e.Id)
		return nil
	}
	i.Syncer.CompleteRetrieval(e.Id)
	if e.Tx == nil {
		return nil
	}

	switch label {
	case types.Buy:
		if i.State != StateBobAccordantLockFinal && i.State != StateBobBuyFinal {
			return nil
		}
		i.Txs[types.Buy] = e.Tx
		if i.State == StateBobAccordantLockFinal {
			i.transition(StateBobBuyFinal)
		}
		return i.bobSweepMonero(ctx, e.Tx)
	case types.Refund:
		if i.State != StateAliceCanceled {
			return nil
		}
		i.Txs[types.Refund] = e.Tx
		i.refundSeen = true
		return i.aliceRefund(ctx, e.Tx)
	default:
		return nil
	}
}

// handleWalletTx implements §4.5 event replay: when the wallet delivers a
// transaction for a label the core was waiting on, the memoized
// confirmation count for that label (if any has ever been observed) is
// re-fed through applyConfirmations so the transition that was blocked on
// seeing the bytes runs immediately instead of waiting for the next
// TransactionConfirmations event.
func (i *Instance) handleWalletTx(ctx context.Context, e ctl.Tx) error {
	if e.SwapId != i.Id {
		return common.ErrWrongSwapID
	}
	i.Txs[e.Label] = e.Bytes

	switch e.Label {
	case types.Lock:
		if c, ok := i.Syncer.LastLockConfs(); ok {
			return i.applyConfirmations(ctx, types.Lock, c)
		}
		return nil
	case types.Cancel:
		if c, ok := i.Syncer.LastCancelConfs(); ok {
			return i.applyConfirmations(ctx, types.Cancel, c)
		}
		return nil
	case types.Buy:
		return i.bobSweepMonero(ctx, e.Bytes)
	case types.Refund:
		if i.State == StateAliceCanceled {
			i.refundSeen = true
			return i.aliceRefund(ctx, e.Bytes)
		}
		return nil
	case types.Punish:
		if err := i.Broadcaster.TryBroadcast(types.Punish); err != nil {
			return nil
		}
		return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), syncmsg.BroadcastTransaction{
			Chain: types.Bitcoin, Bytes: e.Bytes,
		})
	default:
		return nil
	}
}

// handlePeerdReconnected drains every Msg-bus send deferred under
// CausePeerUnreachable and resends it now that the peer session is back.
func (i *Instance) handlePeerdReconnected(ctx context.Context) error {
	for _, req := range i.Pending.Drain(pending.CausePeerUnreachable) {
		if err := i.sendMsg(req.Dest, req.Payload); err != nil {
			return err
		}
	}
	return nil
}

// aliceRefund derives the Monero spend key from Bob's Refund witness and
// sweeps the accordant lock output back to Alice's own destination: Bob
// declined to cooperate, so this is the only path left to recover funds.
func (i *Instance) aliceRefund(ctx context.Context, refundTx []byte) error {
	spec, err := i.Wallet.DeriveMoneroSweepSpend(ctx, i.Id, refundTx)
	if err != nil {
		return err
	}
	dest := i.XmrDestination
	if dest == "" {
		dest = i.FundingAddress
	}
	task, err := i.Syncer.SweepXmr(i.FundingAddress, dest, spec.SpendKey, 0)
	if err != nil {
		return nil
	}
	i.transition(StateAliceRefund)
	if err := i.sendSync(i.Syncer.SyncerFor(types.Monero), task); err != nil {
		return err
	}
	i.transition(StateAliceRefundSweeping)
	return nil
}

// handleSweepSuccess ends Bob's buy path, Alice's refund path, and Bob's
// pre-lock abort sweep.
func (i *Instance) handleSweepSuccess(ctx context.Context, e syncmsg.SweepSuccess) error {
	i.Syncer.CompleteSweep(e.Id)

	switch i.State {
	case StateBobBuySweeping:
		return i.emitOutcome(ctx, types.SuccessSwap)
	case StateAliceRefundSweeping:
		return i.emitOutcome(ctx, types.FailureRefund)
	case StateBobAbortAwaitingBitcoinSweep:
		return i.emitOutcome(ctx, types.FailureAbort)
	default:
		return nil
	}
}

// serializeTx returns the raw wire bytes of tx, or nil if tx is nil
// ("no transaction to carry").
func serializeTx(tx *btcutil.Tx) ([]byte, error) {
	if tx == nil || tx.MsgTx() == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := tx.MsgTx().Serialize(&buf); err != nil {
		return nil, fmt.Errorf("swapfsm: serialize tx: %w", err)
	}
	return buf.Bytes(), nil
}

// deserializeTx parses raw wire bytes into a transaction, returning nil
// for an empty payload.
func deserializeTx(b []byte) (*btcutil.Tx, error) {
	if len(b) == 0 {
		return nil, nil
	}
	msgTx := wire.NewMsgTx(wire.TxVersion)
	if err := msgTx.Deserialize(bytes.NewReader(b)); err != nil {
		// serializeTx writes a transaction without inputs in the legacy
		// format, whose zero input count the witness-aware decoder takes
		// for the segwit marker; such bytes parse without witness data.
		msgTx = wire.NewMsgTx(wire.TxVersion)
		if errNoWitness := msgTx.DeserializeNoWitness(bytes.NewReader(b)); errNoWitness != nil {
			return nil, fmt.Errorf("swapfsm: deserialize tx: %w", err)
		}
	}
	return btcutil.NewTx(msgTx), nil
}

// txid returns the transaction hash's string form, the form the syncer
// vocabulary carries.
func txid(tx *btcutil.Tx) string {
	return tx.Hash().String()
}

// arbitratingSetupFromWire parses the raw transaction bytes
// CoreArbitratingSetup carries into the same shape the wallet returns
// from BuildArbitratingSetup, so both sides of the handshake share one
// watch-registration path.
func arbitratingSetupFromWire(e p2p.CoreArbitratingSetup) (wallet.ArbitratingSetup, error) {
	lock, err := deserializeTx(e.Lock)
	if err != nil {
		return wallet.ArbitratingSetup{}, err
	}
	cancel, err := deserializeTx(e.Cancel)
	if err != nil {
		return wallet.ArbitratingSetup{}, err
	}
	refund, err := deserializeTx(e.Refund)
	if err != nil {
		return wallet.ArbitratingSetup{}, err
	}
	return wallet.ArbitratingSetup{Lock: lock, Cancel: cancel, Refund: refund}, nil
}
