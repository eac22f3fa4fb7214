// Package syncer tracks the tasks a swap instance has outstanding with
// its two chain syncers and the chain state those syncers have reported
// back, and gates the at-most-once side effects (watches, broadcasts)
// the state machine must never duplicate.
package syncer

import (
	"github.com/btcxmr/swapd/bus/syncmsg"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
)

// retrieval pairs a pending RetrieveTransaction task with the label it
// was registered for, so a retry can re-submit the identical task.
type retrieval struct {
	label types.TxLabel
	task  syncmsg.RetrieveTransaction
}

// Tasks holds every syncer task a swap instance has outstanding and
// enforces the dedup invariants the dispatcher relies on: at most one
// watch per TxLabel across watched addresses and watched transactions,
// and at most one sweep in flight.
type Tasks struct {
	counter       uint32
	watchedAddrs  map[syncmsg.TaskId]types.TxLabel
	watchedTxs    map[syncmsg.TaskId]types.TxLabel
	retrievingTxs map[syncmsg.TaskId]retrieval
	sweepingAddr  *syncmsg.TaskId
	txids         map[types.TxLabel]string
	finalTxs      map[types.TxLabel]bool
}

// NewTasks returns an empty task table.
func NewTasks() *Tasks {
	return &Tasks{
		watchedAddrs:  make(map[syncmsg.TaskId]types.TxLabel),
		watchedTxs:    make(map[syncmsg.TaskId]types.TxLabel),
		retrievingTxs: make(map[syncmsg.TaskId]retrieval),
		txids:         make(map[types.TxLabel]string),
		finalTxs:      make(map[types.TxLabel]bool),
	}
}

// NewTaskId returns the next task id, unique for this table's lifetime.
func (t *Tasks) NewTaskId() syncmsg.TaskId {
	t.counter++
	return syncmsg.TaskId(t.counter)
}

// IsWatchedAddr reports whether label already has an outstanding address
// watch.
func (t *Tasks) IsWatchedAddr(label types.TxLabel) bool {
	for _, l := range t.watchedAddrs {
		if l == label {
			return true
		}
	}
	return false
}

// IsWatchedTx reports whether label already has an outstanding
// confirmation watch.
func (t *Tasks) IsWatchedTx(label types.TxLabel) bool {
	for _, l := range t.watchedTxs {
		if l == label {
			return true
		}
	}
	return false
}

// isWatched is the combined guard §3 requires: at most one entry per
// label across both watch maps.
func (t *Tasks) isWatched(label types.TxLabel) bool {
	return t.IsWatchedAddr(label) || t.IsWatchedTx(label)
}

// WatchAddrBtc registers a Bitcoin address watch for label and returns
// the task to send. Callers guard with IsWatchedAddr/IsWatchedTx; a
// second registration for an already-watched label returns
// ErrAlreadyWatched.
func (t *Tasks) WatchAddrBtc(address string, label types.TxLabel, lifetime uint32) (syncmsg.WatchAddress, error) {
	if t.isWatched(label) {
		return syncmsg.WatchAddress{}, common.ErrAlreadyWatched
	}
	id := t.NewTaskId()
	t.watchedAddrs[id] = label
	return syncmsg.WatchAddress{Address: address, Chain: types.Bitcoin, Id: id, Lifetime: lifetime}, nil
}

// WatchAddrXmr registers a Monero subaddress watch for label.
func (t *Tasks) WatchAddrXmr(address string, label types.TxLabel, lifetime uint32) (syncmsg.WatchAddress, error) {
	if t.isWatched(label) {
		return syncmsg.WatchAddress{}, common.ErrAlreadyWatched
	}
	id := t.NewTaskId()
	t.watchedAddrs[id] = label
	return syncmsg.WatchAddress{Address: address, Chain: types.Monero, Id: id, Lifetime: lifetime}, nil
}

// WatchTxBtc registers a Bitcoin confirmation watch for label.
func (t *Tasks) WatchTxBtc(txid string, label types.TxLabel) (syncmsg.WatchTransaction, error) {
	if t.isWatched(label) {
		return syncmsg.WatchTransaction{}, common.ErrAlreadyWatched
	}
	id := t.NewTaskId()
	t.watchedTxs[id] = label
	return syncmsg.WatchTransaction{Chain: types.Bitcoin, Txid: txid, Id: id}, nil
}

// WatchTxXmr registers a Monero confirmation watch for label.
func (t *Tasks) WatchTxXmr(txid string, label types.TxLabel) (syncmsg.WatchTransaction, error) {
	if t.isWatched(label) {
		return syncmsg.WatchTransaction{}, common.ErrAlreadyWatched
	}
	id := t.NewTaskId()
	t.watchedTxs[id] = label
	return syncmsg.WatchTransaction{Chain: types.Monero, Txid: txid, Id: id}, nil
}

// RetrieveTxBtc registers a retrieval task for label, storing it so
// RetryRetrieval can return the identical task for resubmission.
func (t *Tasks) RetrieveTxBtc(txid string, label types.TxLabel) syncmsg.RetrieveTransaction {
	id := t.NewTaskId()
	task := syncmsg.RetrieveTransaction{Chain: types.Bitcoin, Txid: txid, Id: id}
	t.retrievingTxs[id] = retrieval{label: label, task: task}
	return task
}

// RetryRetrieval returns the stored task for id for resubmission, and
// reports whether one was found.
func (t *Tasks) RetryRetrieval(id syncmsg.TaskId) (syncmsg.RetrieveTransaction, bool) {
	r, ok := t.retrievingTxs[id]
	if !ok {
		return syncmsg.RetrieveTransaction{}, false
	}
	return r.task, true
}

// LabelForRetrieval reports the TxLabel a retrieval task id was
// registered for.
func (t *Tasks) LabelForRetrieval(id syncmsg.TaskId) (types.TxLabel, bool) {
	r, ok := t.retrievingTxs[id]
	return r.label, ok
}

// CompleteRetrieval removes a retrieval task once the syncer has
// answered with a transaction.
func (t *Tasks) CompleteRetrieval(id syncmsg.TaskId) {
	delete(t.retrievingTxs, id)
}

// SweepXmr issues a Monero sweep task. Only one sweep may be in flight;
// callers must check IsSweeping first.
func (t *Tasks) SweepXmr(from, to string, keys []byte, fromHeight uint32) (syncmsg.SweepAddress, error) {
	if t.sweepingAddr != nil {
		return syncmsg.SweepAddress{}, common.ErrAlreadyWatched
	}
	id := t.NewTaskId()
	t.sweepingAddr = &id
	return syncmsg.SweepAddress{From: from, To: to, Keys: keys, FromHeight: fromHeight, Id: id}, nil
}

// SweepBtc issues a Bitcoin sweep task, used on Bob's underfund-abort
// path.
func (t *Tasks) SweepBtc(from, to string, keys []byte) (syncmsg.SweepAddress, error) {
	if t.sweepingAddr != nil {
		return syncmsg.SweepAddress{}, common.ErrAlreadyWatched
	}
	id := t.NewTaskId()
	t.sweepingAddr = &id
	return syncmsg.SweepAddress{From: from, To: to, Keys: keys, Id: id}, nil
}

// IsSweeping reports whether a sweep is currently in flight.
func (t *Tasks) IsSweeping() bool {
	return t.sweepingAddr != nil
}

// CompleteSweep clears the in-flight sweep marker.
func (t *Tasks) CompleteSweep(id syncmsg.TaskId) {
	if t.sweepingAddr != nil && *t.sweepingAddr == id {
		t.sweepingAddr = nil
	}
}

// RecordTxid stores a txid discovered for label before it has been
// retrieved in full.
func (t *Tasks) RecordTxid(label types.TxLabel, txid string) {
	t.txids[label] = txid
}

// Txid returns the txid recorded for label, if any.
func (t *Tasks) Txid(label types.TxLabel) (string, bool) {
	txid, ok := t.txids[label]
	return txid, ok
}

// MarkFinal flips the finality flag for label once c has crossed
// finality threshold.
func (t *Tasks) MarkFinal(label types.TxLabel) {
	t.finalTxs[label] = true
}

// IsFinal reports whether label's confirmation count has ever crossed
// finality.
func (t *Tasks) IsFinal(label types.TxLabel) bool {
	return t.finalTxs[label]
}

// AbortTask produces an Abort task for a specific id and forgets it
// locally.
func (t *Tasks) AbortTask(id syncmsg.TaskId) syncmsg.Abort {
	delete(t.watchedAddrs, id)
	delete(t.watchedTxs, id)
	delete(t.retrievingTxs, id)
	if t.sweepingAddr != nil && *t.sweepingAddr == id {
		t.sweepingAddr = nil
	}
	return syncmsg.Abort{Scope: syncmsg.AbortOne, Id: id}
}

// AbortAll produces the Abort(AllTasks) task issued at terminal
// transitions.
func (t *Tasks) AbortAll() syncmsg.Abort {
	return syncmsg.Abort{Scope: syncmsg.AbortAllTasks}
}

// LabelForAddr reports the TxLabel an address-watch task id was
// registered for.
func (t *Tasks) LabelForAddr(id syncmsg.TaskId) (types.TxLabel, bool) {
	l, ok := t.watchedAddrs[id]
	return l, ok
}

// LabelForTx reports the TxLabel a confirmation-watch task id was
// registered for.
func (t *Tasks) LabelForTx(id syncmsg.TaskId) (types.TxLabel, bool) {
	l, ok := t.watchedTxs[id]
	return l, ok
}

// ForgetTx removes a confirmation watch entry once it has served its
// purpose (e.g. superseded by a more specific watch, or on abort).
func (t *Tasks) ForgetTx(id syncmsg.TaskId) {
	delete(t.watchedTxs, id)
}

// PromoteToTxWatch converts an outstanding address watch into a
// confirmation watch for the same label: once the address watch's
// AddressTransaction has named a txid, only that transaction's
// confirmation depth matters, and isWatched's one-entry-per-label
// invariant means the old address watch must be retired before a new
// confirmation watch for the same label can be registered.
func (t *Tasks) PromoteToTxWatch(oldId syncmsg.TaskId, txid string, label types.TxLabel) syncmsg.WatchTransaction {
	delete(t.watchedAddrs, oldId)
	id := t.NewTaskId()
	t.watchedTxs[id] = label
	return syncmsg.WatchTransaction{Chain: label.Chain(), Txid: txid, Id: id}
}
