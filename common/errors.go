// Package common provides small types and helpers shared across the swapd
// core: the swap identifier, sentinel errors, and logging style helpers.
package common

import "errors"

var (
	// ErrAlreadyWatched is returned when a caller attempts to register a
	// second address or transaction watch for a TxLabel that already has
	// one outstanding. It is a programming error and must be guarded by
	// IsWatchedAddr/IsWatchedTx at call sites.
	ErrAlreadyWatched = errors.New("swapd: label is already watched")

	// ErrUnknownTaskID is logged (never returned to a caller that can act
	// on it) when a syncer event references a TaskId the core never
	// allocated or has already retired.
	ErrUnknownTaskID = errors.New("swapd: unknown task id")

	// ErrInvalidTimelocks is returned by TemporalSafety.ValidParams when
	// the cancel/punish timelock spacing invariants of the offer are
	// violated. It is terminal: the swap aborts at Init.
	ErrInvalidTimelocks = errors.New("swapd: invalid timelock parameters")

	// ErrSwapLockedIn is the user-visible failure returned when AbortSwap
	// is requested after the point of no return.
	ErrSwapLockedIn = errors.New("swap is already locked-in")

	// ErrInvalidReveal is surfaced to the enquirer when a Reveal message
	// fails to open the previously stored commitment in a state that
	// requires it to succeed.
	ErrInvalidReveal = errors.New("swapd: reveal does not open remote commitment")

	// ErrWrongSwapID is returned when a control message names a swap id
	// other than the one this instance owns.
	ErrWrongSwapID = errors.New("swapd: control message names a different swap id")

	// ErrUnauthorized is returned when a Ctl message arrives from a
	// service id that is not one of Farcasterd, Wallet, Checkpoint, a
	// GetInfo client, or this swap's bound syncers.
	ErrUnauthorized = errors.New("swapd: unauthorized sender for control bus")

	// ErrChecksumMismatch is returned by checkpoint reassembly when the
	// RIPEMD160 checksum of the concatenated chunks does not match the
	// checksum carried by the chunks.
	ErrChecksumMismatch = errors.New("swapd: checkpoint checksum mismatch")

	// ErrTerminal is returned by the dispatcher when an event arrives for
	// a state machine that has already reached SwapEnd.
	ErrTerminal = errors.New("swapd: swap has already ended")

	// ErrAlreadyBroadcast is returned when a transition attempts to
	// re-broadcast a TxLabel that the swap has already sent, guarding
	// the at-most-once broadcast invariant against event replay.
	ErrAlreadyBroadcast = errors.New("swapd: transaction label already broadcast")
)
