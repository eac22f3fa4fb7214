// Package syncmsg defines the Sync bus vocabulary: tasks the core submits
// to a chain syncer and events the syncer reports back.
package syncmsg

import (
	"github.com/btcxmr/swapd/common/types"
)

// TaskId identifies one outstanding syncer task, allocated by
// syncer.Tasks.NewTaskId and unique for a state machine instance's
// lifetime.
type TaskId uint32

// WatchHeight asks the syncer to push HeightChanged events for chain
// until Abort(id) or lifetime elapses.
type WatchHeight struct {
	Chain    types.Chain
	Lifetime uint32
	Id       TaskId
}

// WatchAddress registers an address watch tagged with the TxLabel it
// disambiguates to when a matching transaction arrives.
type WatchAddress struct {
	Address  string
	Chain    types.Chain
	Id       TaskId
	Lifetime uint32
}

// WatchTransaction registers a confirmation-count watch for a known txid.
type WatchTransaction struct {
	Chain types.Chain
	Txid  string
	Id    TaskId
}

// RetrieveTransaction asks the syncer to fetch and return a full
// transaction by txid. The syncer may answer "not yet available"; the
// core does not resubmit the task after such an answer.
type RetrieveTransaction struct {
	Chain types.Chain
	Txid  string
	Id    TaskId
}

// BroadcastTransaction submits raw transaction bytes for relay.
type BroadcastTransaction struct {
	Chain types.Chain
	Bytes []byte
	Id    TaskId
}

// SweepAddress asks the syncer to sweep every output at From, controlled
// by Keys, to To, scanning from FromHeight. At most one sweep task may be
// outstanding per swap, across both chains.
type SweepAddress struct {
	From       string
	To         string
	Keys       []byte
	FromHeight uint32
	Id         TaskId
}

// AbortScope selects what an Abort task cancels.
type AbortScope uint8

const (
	// AbortOne cancels a single task by id.
	AbortOne AbortScope = iota
	// AbortAllTasks cancels every outstanding task for the swap, issued
	// at terminal transitions.
	AbortAllTasks
)

// Abort cancels one task or every outstanding task.
type Abort struct {
	Scope AbortScope
	Id    TaskId
}

// HeightChanged reports a new tip height for a chain.
type HeightChanged struct {
	Chain  types.Chain
	Height uint64
}

// AddressTransaction reports a transaction seen paying a watched address,
// with the amount observed so the core can apply funding-amount policy.
type AddressTransaction struct {
	Id     TaskId
	Txid   string
	Amount uint64
}

// TransactionConfirmations reports the current confirmation depth of a
// watched transaction. Confs is absent while the transaction is still
// unconfirmed (mempool-only).
type TransactionConfirmations struct {
	Id    TaskId
	Confs *uint32
}

// TransactionRetrieved answers a RetrieveTransaction task. Tx is nil when
// the transaction is not yet available.
type TransactionRetrieved struct {
	Id TaskId
	Tx []byte
}

// TransactionBroadcasted acknowledges a BroadcastTransaction task.
type TransactionBroadcasted struct {
	Id   TaskId
	Txid string
}

// SweepSuccess reports a completed sweep, with the resulting txid.
type SweepSuccess struct {
	Id   TaskId
	Txid string
}

// TaskAborted acknowledges an Abort task.
type TaskAborted struct{ Id TaskId }

// FeeEstimation reports a Bitcoin fee-rate estimate in satoshis per kvB.
type FeeEstimation struct{ SatPerKvB uint64 }

// Empty is a keepalive/no-op event carrying only the originating task id.
type Empty struct{ Id TaskId }
