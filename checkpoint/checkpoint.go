// Package checkpoint persists the subset of a swap's state the
// dispatcher needs to resume it after a restart, and implements the
// RIPEMD160-chunked multipart encoding large checkpoints are split into
// before being handed to the checkpoint store.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // chosen to match the checkpoint wire checksum

	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/bus/p2p"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/pending"
	"github.com/btcxmr/swapd/safety"
)

// maxFrameSize mirrors the peer transport's maximum message size; a
// checkpoint whose encoding exceeds maxFrameSize-reserved is split into
// chunks rather than written as one frame. It is a var, not a const, so
// tests can shrink it to exercise chunking without multi-megabyte
// fixtures.
var maxFrameSize = 16 * 1024 * 1024

// reserved is the header/envelope overhead subtracted from maxFrameSize
// before deciding whether a checkpoint needs chunking.
const reserved = 1024

// init registers the concrete payload types a dispatcher may have
// deferred into a PendingEntry at checkpoint time: gob requires every
// concrete type stored behind an interface{} to be registered before it
// can encode or decode one.
func init() {
	gob.Register(p2p.TakerCommit{})
	gob.Register(p2p.MakerCommit{})
	gob.Register(p2p.RevealPayload{})
	gob.Register(p2p.RefundProcedureSignatures{})
	gob.Register(p2p.BuyProcedureSignature{})
}

// Swapd is the persisted projection of a swap instance: enough to
// reconstruct the state machine and resume action without re-running the
// commit/reveal handshake. Only states after the point of no return are
// checkpointed.
type Swapd struct {
	SwapId         common.SwapId
	StateName      string
	LastMsg        string
	Enquirer       bus.ServiceId
	Safety         safety.TemporalSafety
	Txs            map[types.TxLabel][]byte
	Txids          map[types.TxLabel]string
	PendingByCause map[pending.Cause][]PendingEntry
	BtcDestination string
	XmrDestination string

	// Role, TradeRole, PeerdId, FundingAddress, LockAddress, and
	// CancelAddress, and the two required funding amounts are not named
	// by the minimal CheckpointSwapd projection, but a restored instance
	// needs all of them to keep acting (addressing its peer, applying
	// funding-amount policy, watching the Lock/Cancel spend outputs), so
	// the dispatcher checkpoints them alongside the rest.
	Role           types.SwapRole
	TradeRole      types.TradeRole
	PeerdId        bus.ServiceId
	FundingAddress string
	LockAddress    string
	CancelAddress  string
	RequiredBtc    uint64
	RequiredXmr    uint64
}

// PendingEntry is PendingRequest's gob-friendly projection: the original
// Payload is opaque interface{}, which gob requires to be a concrete
// registered type, so the checkpoint only ever stores payload kinds the
// dispatcher actually defers (registered in init above).
type PendingEntry struct {
	Dest    bus.ServiceId
	Bus     bus.Bus
	Payload interface{}
}

// Encode produces the fixed serialization of s used both for storage and
// for computing the RIPEMD160 checksum chunked writes carry.
func Encode(s Swapd) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("checkpoint: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(b []byte) (Swapd, error) {
	var s Swapd
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		return Swapd{}, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return s, nil
}

// Checksum returns the 20-byte RIPEMD160 digest of the full serialized
// checkpoint payload.
func Checksum(payload []byte) [20]byte {
	h := ripemd160.New()
	h.Write(payload) //nolint:errcheck // ripemd160.Write never errors
	var sum [20]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Chunk is one piece of a multipart checkpoint write.
type Chunk struct {
	Checksum  [20]byte
	MsgIndex  uint16
	MsgsTotal uint16
	Bytes     []byte
	SwapId    common.SwapId
}

// NeedsChunking reports whether an encoded checkpoint exceeds the single
// frame budget and must be split.
func NeedsChunking(payload []byte) bool {
	return len(payload) > maxFrameSize-reserved
}

// Split divides payload into equal-size (except the last) chunks in
// order, each carrying the checksum of the whole payload.
func Split(swapID common.SwapId, payload []byte) []Chunk {
	chunkSize := maxFrameSize - reserved
	total := (len(payload) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	sum := Checksum(payload)

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{
			Checksum:  sum,
			MsgIndex:  uint16(i),
			MsgsTotal: uint16(total),
			Bytes:     payload[start:end],
			SwapId:    swapID,
		})
	}
	return chunks
}

// Reassembler accumulates chunks keyed by checksum until every index
// [0, MsgsTotal) has arrived, then verifies and decodes.
type Reassembler struct {
	byChecksum map[[20]byte]map[uint16][]byte
	totals     map[[20]byte]uint16
}

// NewReassembler returns an empty chunk accumulator.
func NewReassembler() *Reassembler {
	return &Reassembler{
		byChecksum: make(map[[20]byte]map[uint16][]byte),
		totals:     make(map[[20]byte]uint16),
	}
}

// Add stores chunk. Duplicate chunks (same checksum and index) are
// idempotent. It returns the reassembled, decoded checkpoint once every
// chunk for its checksum has arrived; until then it returns ok=false.
func (r *Reassembler) Add(c Chunk) (s Swapd, ok bool, err error) {
	set, exists := r.byChecksum[c.Checksum]
	if !exists {
		set = make(map[uint16][]byte)
		r.byChecksum[c.Checksum] = set
		r.totals[c.Checksum] = c.MsgsTotal
	}
	set[c.MsgIndex] = c.Bytes

	if uint16(len(set)) < r.totals[c.Checksum] {
		return Swapd{}, false, nil
	}

	indices := make([]uint16, 0, len(set))
	for idx := range set {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var full bytes.Buffer
	for _, idx := range indices {
		full.Write(set[idx])
	}

	if Checksum(full.Bytes()) != c.Checksum {
		delete(r.byChecksum, c.Checksum)
		delete(r.totals, c.Checksum)
		return Swapd{}, false, common.ErrChecksumMismatch
	}

	delete(r.byChecksum, c.Checksum)
	delete(r.totals, c.Checksum)

	s, decErr := Decode(full.Bytes())
	if decErr != nil {
		return Swapd{}, false, decErr
	}
	return s, true, nil
}
