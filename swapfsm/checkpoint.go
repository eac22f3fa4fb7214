package swapfsm

import (
	"context"

	"github.com/btcxmr/swapd/bus/p2p"
	"github.com/btcxmr/swapd/bus/syncmsg"
	"github.com/btcxmr/swapd/checkpoint"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/pending"
)

// checkpointedLabels enumerates every TxLabel whose recorded txid is
// worth persisting; Funding and AccLock are address-watched rather than
// built by either party, but their txids still matter on restore so the
// dispatcher doesn't have to rediscover them from the chain.
var checkpointedLabels = []types.TxLabel{
	types.Funding, types.Lock, types.Cancel, types.Refund, types.Buy, types.Punish, types.AccLock,
}

// Checkpoint builds the persisted projection of the instance if it is
// currently sitting at one of the four checkpoint points named in §4.4.
// ok is false everywhere else, telling the dispatcher there is nothing
// to write.
func (i *Instance) Checkpoint() (checkpoint.Swapd, bool) {
	lastMsg, ok := checkpointLabel(i.State)
	if !ok {
		return checkpoint.Swapd{}, false
	}

	txs := make(map[types.TxLabel][]byte, len(i.Txs))
	for label, b := range i.Txs {
		txs[label] = append([]byte(nil), b...)
	}

	txids := make(map[types.TxLabel]string)
	for _, label := range checkpointedLabels {
		if txid, ok := i.Syncer.Txid(label); ok {
			txids[label] = txid
		}
	}

	pendingByCause := make(map[pending.Cause][]checkpoint.PendingEntry)
	for cause, reqs := range i.Pending.All() {
		entries := make([]checkpoint.PendingEntry, len(reqs))
		for idx, r := range reqs {
			entries[idx] = checkpoint.PendingEntry{Dest: r.Dest, Bus: r.Bus, Payload: r.Payload}
		}
		pendingByCause[cause] = entries
	}

	return checkpoint.Swapd{
		SwapId:         i.Id,
		StateName:      string(i.State),
		LastMsg:        lastMsg,
		Enquirer:       i.ReportTo,
		Safety:         i.Safety,
		Txs:            txs,
		Txids:          txids,
		PendingByCause: pendingByCause,
		BtcDestination: i.BtcDestination,
		XmrDestination: i.XmrDestination,
		Role:           i.Role,
		TradeRole:      i.TradeRole,
		PeerdId:        i.PeerdId,
		FundingAddress: i.FundingAddress,
		LockAddress:    i.LockAddress,
		CancelAddress:  i.CancelAddress,
		RequiredBtc:    i.RequiredBtc,
		RequiredXmr:    i.RequiredXmr,
	}, true
}

// Restore reinstates an instance from a persisted checkpoint: the state
// name, the safety configuration, every known transaction and txid, the
// deferred-request queue, and the broadcast gate (every label already
// carrying bytes is marked broadcast, since a checkpoint is only ever
// written after its corresponding broadcast was attempted).
func (i *Instance) Restore(cp checkpoint.Swapd) error {
	i.Id = cp.SwapId
	i.State = StateName(cp.StateName)
	i.LastMsg = cp.LastMsg
	i.ReportTo = cp.Enquirer
	i.Safety = cp.Safety
	i.BtcDestination = cp.BtcDestination
	i.XmrDestination = cp.XmrDestination
	i.Role = cp.Role
	i.TradeRole = cp.TradeRole
	i.PeerdId = cp.PeerdId
	i.FundingAddress = cp.FundingAddress
	i.LockAddress = cp.LockAddress
	i.CancelAddress = cp.CancelAddress
	i.RequiredBtc = cp.RequiredBtc
	i.RequiredXmr = cp.RequiredXmr

	i.Txs = make(map[types.TxLabel][]byte, len(cp.Txs))
	for label, b := range cp.Txs {
		i.Txs[label] = append([]byte(nil), b...)
		i.Broadcaster.MarkBroadcast(label)
	}

	for label, txid := range cp.Txids {
		i.Syncer.RecordTxid(label, txid)
	}

	snapshot := make(map[pending.Cause][]pending.Request, len(cp.PendingByCause))
	for cause, entries := range cp.PendingByCause {
		reqs := make([]pending.Request, len(entries))
		for idx, e := range entries {
			reqs[idx] = pending.Request{Dest: e.Dest, Bus: e.Bus, Payload: e.Payload}
		}
		snapshot[cause] = reqs
	}
	i.Pending.Restore(snapshot)

	return i.rewatch()
}

// rewatch re-registers the syncer visibility a restored instance needs:
// a height watch on both chains, and a confirmation watch for every
// label whose txid is known but not yet final. Labels already covered
// by an address watch (Buy via LockAddress, Punish via CancelAddress)
// are skipped, since a label may carry only one outstanding watch.
func (i *Instance) rewatch() error {
	for _, chain := range []types.Chain{types.Bitcoin, types.Monero} {
		id := i.Syncer.NewTaskId()
		if err := i.sendSync(i.Syncer.SyncerFor(chain), syncmsg.WatchHeight{Chain: chain, Id: id}); err != nil {
			return err
		}
	}

	for _, label := range checkpointedLabels {
		if i.Syncer.IsFinal(label) {
			continue
		}
		txid, ok := i.Syncer.Txid(label)
		if !ok {
			continue
		}
		if i.Syncer.IsWatchedAddr(label) || i.Syncer.IsWatchedTx(label) {
			continue
		}
		chain := label.Chain()
		var task syncmsg.WatchTransaction
		var err error
		if chain == types.Bitcoin {
			task, err = i.Syncer.WatchTxBtc(txid, label)
		} else {
			task, err = i.Syncer.WatchTxXmr(txid, label)
		}
		if err != nil {
			return err
		}
		if err := i.sendSync(i.Syncer.SyncerFor(chain), task); err != nil {
			return err
		}
	}
	return nil
}

// ResumeAction re-sends the single outbound action a checkpoint's LastMsg
// names, covering the crash-before-ack window §4.4 and scenario S6
// describe: the dispatcher calls this once, immediately after Restore,
// before resuming normal event delivery. Lock and Buy are re-broadcast
// directly from their stored bytes; this resend does not go through the
// broadcast gate. RefundProcedureSignatures and BuyProcedureSignature are
// re-derived from the wallet, which produces the same signature payload
// for the same inputs every time.
func (i *Instance) ResumeAction() error {
	ctx := context.Background()
	switch i.LastMsg {
	case "Lock":
		if b, ok := i.Txs[types.Lock]; ok {
			return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), syncmsg.BroadcastTransaction{Chain: types.Bitcoin, Bytes: b})
		}
	case "Buy":
		if b, ok := i.Txs[types.Buy]; ok {
			return i.sendSync(i.Syncer.SyncerFor(types.Bitcoin), syncmsg.BroadcastTransaction{Chain: types.Bitcoin, Bytes: b})
		}
	case "RefundProcedureSignatures":
		sigs, err := i.Wallet.SignRefundProcedureSignatures(ctx, i.Id, i.pendingArbitratingSetup())
		if err != nil {
			return err
		}
		return i.sendMsg(i.PeerdId, p2p.RefundProcedureSignatures{SwapId: i.Id, Signatures: sigs})
	case "BuyProcedureSignature":
		sig, err := i.Wallet.SignBuyProcedureSignature(ctx, i.Id)
		if err != nil {
			return err
		}
		return i.sendMsg(i.PeerdId, p2p.BuyProcedureSignature{SwapId: i.Id, Signature: sig})
	}
	return nil
}
