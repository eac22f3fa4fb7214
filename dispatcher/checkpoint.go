package dispatcher

import (
	"context"

	"github.com/btcxmr/swapd/bus/ctl"
	"github.com/btcxmr/swapd/checkpoint"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/swapfsm"
	"github.com/btcxmr/swapd/syncer"
)

// persistCheckpoint writes inst's checkpoint to the store if it is
// currently sitting at one of the four checkpoint points, encoding and
// splitting it exactly as a cross-process Checkpoint/
// CheckpointMultipartChunk write would, so the same reassembly path
// serves both an in-process write and one arriving over Ctl from a
// restarted peer process.
func (d *Dispatcher) persistCheckpoint(inst *swapfsm.Instance) error {
	cp, ok := inst.Checkpoint()
	if !ok {
		return nil
	}

	payload, err := checkpoint.Encode(cp)
	if err != nil {
		return err
	}

	if !checkpoint.NeedsChunking(payload) {
		return d.store.PutCheckpoint(cp.SwapId, cp)
	}

	for _, c := range checkpoint.Split(cp.SwapId, payload) {
		reassembled, ready, err := d.addChunk(cp.SwapId, ctl.CheckpointMultipartChunk{
			Checksum: c.Checksum, MsgIndex: c.MsgIndex, MsgsTotal: c.MsgsTotal, Bytes: c.Bytes, SwapId: c.SwapId,
		})
		if err != nil {
			return err
		}
		if ready {
			return d.store.PutCheckpoint(cp.SwapId, reassembled)
		}
	}
	return nil
}

// addChunk feeds one multipart chunk into this swap's reassembler,
// returning the decoded checkpoint once every chunk has arrived.
func (d *Dispatcher) addChunk(id common.SwapId, p ctl.CheckpointMultipartChunk) (checkpoint.Swapd, bool, error) {
	d.mu.Lock()
	r, ok := d.reassemblers[id]
	if !ok {
		r = checkpoint.NewReassembler()
		d.reassemblers[id] = r
	}
	d.mu.Unlock()

	cp, ready, err := r.Add(checkpoint.Chunk{
		Checksum: p.Checksum, MsgIndex: p.MsgIndex, MsgsTotal: p.MsgsTotal, Bytes: p.Bytes, SwapId: p.SwapId,
	})
	if ready || err != nil {
		d.mu.Lock()
		delete(d.reassemblers, id)
		d.mu.Unlock()
	}
	return cp, ready, err
}

// installRestore reconstructs (or reuses) the instance for id, installs
// cp, and replays its pending outbound action. It serves both process
// startup (Start, reading from the store) and a live restore delivered
// over Ctl while the process is already running.
func (d *Dispatcher) installRestore(ctx context.Context, id common.SwapId, cp checkpoint.Swapd) error {
	d.mu.RLock()
	inst, ok := d.instances[id]
	d.mu.RUnlock()

	if !ok {
		syncerState := syncer.NewState(d.btcSyncer, d.xmrSyncer, cp.RequiredBtc, cp.RequiredXmr)
		inst = swapfsm.New(id, cp.Role, cp.TradeRole, types.PublicOffer{}, cp.Safety, syncerState, d.wallet, d, cp.RequiredBtc, cp.RequiredXmr)
		d.mu.Lock()
		d.instances[id] = inst
		d.mu.Unlock()
	}

	if err := inst.Restore(cp); err != nil {
		return err
	}
	return inst.ResumeAction()
}
