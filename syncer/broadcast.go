package syncer

import (
	"sync"

	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
)

// Broadcaster gates the at-most-once broadcast invariant: for each of
// Lock, Cancel, Refund, Buy, and Punish, the state machine issues at most
// one BroadcastTransaction over a swap's lifetime, even if the
// transition that would broadcast it is re-entered (e.g. a memoized
// confirmation event replayed after a checkpoint restore).
type Broadcaster struct {
	mu        sync.Mutex
	broadcast map[types.TxLabel]bool
}

// NewBroadcaster returns an empty broadcast guard.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{broadcast: make(map[types.TxLabel]bool)}
}

// TryBroadcast marks label as broadcast and returns nil the first time
// it is called for that label; every subsequent call for the same label
// returns ErrAlreadyBroadcast without marking anything, so a caller that
// checks the error can skip re-sending BroadcastTransaction.
func (b *Broadcaster) TryBroadcast(label types.TxLabel) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broadcast[label] {
		return common.ErrAlreadyBroadcast
	}
	b.broadcast[label] = true
	return nil
}

// HasBroadcast reports whether label has already been broadcast.
func (b *Broadcaster) HasBroadcast(label types.TxLabel) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broadcast[label]
}

// MarkBroadcast records label as already broadcast without attempting a
// send, used when a checkpoint restore installs a transaction the
// pre-crash process already broadcast: the gate must reflect history, not
// re-litigate it.
func (b *Broadcaster) MarkBroadcast(label types.TxLabel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast[label] = true
}
