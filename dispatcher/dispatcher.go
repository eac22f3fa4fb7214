// Package dispatcher multiplexes the Msg, Ctl, and Sync buses across
// every swap instance a process runs. It authorizes inbound Ctl
// traffic, constructs and restores instances, persists checkpoints as
// instances reach them, and forwards each instance's outbound sends to
// whichever destination owns them: a live routing table for running
// swap instances rather than a read-through cache of finished ones.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/apd/v3"
	logging "github.com/ipfs/go-log"

	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/bus/ctl"
	"github.com/btcxmr/swapd/checkpoint"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/db"
	"github.com/btcxmr/swapd/safety"
	"github.com/btcxmr/swapd/swapfsm"
	"github.com/btcxmr/swapd/syncer"
	"github.com/btcxmr/swapd/wallet"
)

var log = logging.Logger("dispatcher")

// Transport is the boundary to everything outside this process's swap
// instances: the peer daemon, the two chain syncers, and the supervisor
// that issues MakeSwap/TakeSwap and consumes SwapOutcome. The
// dispatcher handles routing to swap instances and to the checkpoint
// store itself; every other destination crosses this interface.
type Transport interface {
	SendMsg(dest bus.ServiceId, payload interface{}) error
	SendCtl(dest bus.ServiceId, payload interface{}) error
	SendSync(dest bus.ServiceId, payload interface{}) error
}

// SafetyPolicy is the node-level confirmation-depth configuration
// applied to every swap this dispatcher creates. CancelTimelock and
// PunishTimelock are not part of it: those are negotiated per offer and
// come from ctl.InitSwap.Offer instead.
type SafetyPolicy struct {
	BtcFinalityThr uint32
	XmrFinalityThr uint32
	SweepMoneroThr uint32
	RaceThr        uint32
}

// Dispatcher owns every swap instance a process runs.
type Dispatcher struct {
	mu        sync.RWMutex
	instances map[common.SwapId]*swapfsm.Instance

	reassemblers map[common.SwapId]*checkpoint.Reassembler

	store     db.Store
	wallet    wallet.Wallet
	transport Transport
	policy    SafetyPolicy

	btcSyncer bus.ServiceId
	xmrSyncer bus.ServiceId
}

var _ bus.Endpoints = (*Dispatcher)(nil)

// New returns a Dispatcher bound to store for checkpoint persistence, w
// for funding-info lookups and protocol payload production, transport
// for everything outside this process, and the two syncer service ids
// every instance it creates is bound to.
func New(store db.Store, w wallet.Wallet, transport Transport, policy SafetyPolicy, btcSyncer, xmrSyncer bus.ServiceId) *Dispatcher {
	return &Dispatcher{
		instances:    make(map[common.SwapId]*swapfsm.Instance),
		reassemblers: make(map[common.SwapId]*checkpoint.Reassembler),
		store:        store,
		wallet:       w,
		transport:    transport,
		policy:       policy,
		btcSyncer:    btcSyncer,
		xmrSyncer:    xmrSyncer,
	}
}

// Start resumes every swap with a live checkpoint, reconstructing an
// instance, installing the checkpoint, and replaying its pending
// outbound action for each.
func (d *Dispatcher) Start(ctx context.Context) error {
	ids, err := d.store.AllSwapIds()
	if err != nil {
		return fmt.Errorf("dispatcher: listing checkpoints: %w", err)
	}
	for _, id := range ids {
		cp, err := d.store.GetCheckpoint(id)
		if err != nil {
			return fmt.Errorf("dispatcher: loading checkpoint %s: %w", id, err)
		}
		if err := d.installRestore(ctx, id, cp); err != nil {
			return fmt.Errorf("dispatcher: resuming swap %s: %w", id, err)
		}
		log.Infof("%s: resumed at %s", id, cp.StateName)
	}
	return nil
}

// Dispatch routes one externally sourced message to its destination.
// Every destination this process handles locally is a swap instance;
// any other kind is rejected, since Msg/Ctl/Sync traffic never
// addresses anything else inbound.
func (d *Dispatcher) Dispatch(ctx context.Context, b bus.Bus, source, dest bus.ServiceId, payload interface{}) error {
	if dest.Kind != bus.ServiceSwap {
		return fmt.Errorf("dispatcher: no local handler for destination %s", dest)
	}

	id := common.SwapId(dest.Swap)

	if b == bus.Ctl && !d.authorizedCtlSender(source) {
		log.Warnf("%s: %v: sender %s", id, common.ErrUnauthorized, source)
		return common.ErrUnauthorized
	}

	switch p := payload.(type) {
	case ctl.Checkpoint:
		cp, err := checkpoint.Decode(p.State)
		if err != nil {
			log.Errorf("%s: checkpoint decode: %v", id, err)
			return err
		}
		return d.installRestore(ctx, id, cp)
	case ctl.CheckpointMultipartChunk:
		cp, ready, err := d.addChunk(id, p)
		if err != nil {
			log.Errorf("%s: checkpoint reassembly: %v", id, err)
			return err
		}
		if !ready {
			return nil
		}
		return d.installRestore(ctx, id, cp)
	case ctl.MakeSwap:
		return d.newSwap(ctx, id, types.Maker, p.Init)
	case ctl.TakeSwap:
		return d.newSwap(ctx, id, types.Taker, p.Init)
	case ctl.GetInfo:
		return d.replyGetInfo(id, source)
	case ctl.Terminate:
		d.mu.Lock()
		delete(d.instances, id)
		d.mu.Unlock()
		return nil
	default:
		return d.deliver(ctx, id, payload)
	}
}

// deliver hands payload to an already-constructed instance and
// persists a checkpoint if the resulting transition landed on one of
// the four checkpoint points.
func (d *Dispatcher) deliver(ctx context.Context, id common.SwapId, payload interface{}) error {
	d.mu.RLock()
	inst, ok := d.instances[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dispatcher: no swap instance for id %s", id)
	}

	if _, err := inst.Next(ctx, payload); err != nil {
		return err
	}
	if inst.Ended() {
		return d.store.DeleteCheckpoint(inst.Id)
	}
	return d.persistCheckpoint(inst)
}

// newSwap constructs a fresh instance for a MakeSwap/TakeSwap, deriving
// the local swap role and the required funding amounts from the
// wallet, reports the local party's own funding requirement, and then
// delivers the originating Init event.
func (d *Dispatcher) newSwap(ctx context.Context, id common.SwapId, tradeRole types.TradeRole, init ctl.InitSwap) error {
	d.mu.RLock()
	_, exists := d.instances[id]
	d.mu.RUnlock()
	if exists {
		return fmt.Errorf("dispatcher: swap %s already exists", id)
	}

	role := types.LocalSwapRole(tradeRole, init.Offer.MakerSwapRole)

	safetyCfg := safety.TemporalSafety{
		CancelTimelock: init.Offer.CancelTimelock,
		PunishTimelock: init.Offer.PunishTimelock,
		BtcFinalityThr: d.policy.BtcFinalityThr,
		XmrFinalityThr: d.policy.XmrFinalityThr,
		SweepMoneroThr: d.policy.SweepMoneroThr,
		RaceThr:        d.policy.RaceThr,
	}

	btcInfo, err := d.wallet.BuildFundingInfo(ctx, init.Offer, role, types.Bitcoin)
	if err != nil {
		return fmt.Errorf("dispatcher: bitcoin funding info: %w", err)
	}
	xmrInfo, err := d.wallet.BuildFundingInfo(ctx, init.Offer, role, types.Monero)
	if err != nil {
		return fmt.Errorf("dispatcher: monero funding info: %w", err)
	}
	requiredBtc, err := decimalToUint64(btcInfo.RequiredAmount)
	if err != nil {
		return fmt.Errorf("dispatcher: bitcoin funding amount: %w", err)
	}
	requiredXmr, err := decimalToUint64(xmrInfo.RequiredAmount)
	if err != nil {
		return fmt.Errorf("dispatcher: monero funding amount: %w", err)
	}

	syncerState := syncer.NewState(d.btcSyncer, d.xmrSyncer, requiredBtc, requiredXmr)
	inst := swapfsm.New(id, role, tradeRole, init.Offer, safetyCfg, syncerState, d.wallet, d, requiredBtc, requiredXmr)

	d.mu.Lock()
	d.instances[id] = inst
	d.mu.Unlock()

	if err := d.emitFundingInfo(id, init.ReportTo, role, init.FundingAddr, requiredBtc, requiredXmr); err != nil {
		return err
	}

	var ev interface{} = ctl.TakeSwap{Init: init}
	if tradeRole == types.Maker {
		ev = ctl.MakeSwap{Init: init}
	}
	return d.deliver(ctx, id, ev)
}

// emitFundingInfo reports the address and amount the local party must
// fund: Bitcoin for Bob, Monero for Alice.
func (d *Dispatcher) emitFundingInfo(id common.SwapId, reportTo bus.ServiceId, role types.SwapRole, fundingAddr string, requiredBtc, requiredXmr uint64) error {
	chain, amount := types.Bitcoin, requiredBtc
	if role == types.Alice {
		chain, amount = types.Monero, requiredXmr
	}
	return d.transport.SendCtl(reportTo, ctl.FundingInfo{SwapId: id, Chain: chain, Address: fundingAddr, Amount: amount})
}

// replyGetInfo answers a GetInfo request with a snapshot of the named
// swap's current state and cached confirmation counts.
func (d *Dispatcher) replyGetInfo(id common.SwapId, source bus.ServiceId) error {
	d.mu.RLock()
	inst, ok := d.instances[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dispatcher: no swap instance for id %s", id)
	}
	return d.transport.SendCtl(source, ctl.SwapInfo{
		SwapId:        id,
		StateName:     string(inst.State),
		Confirmations: inst.Syncer.AllConfirmations(),
	})
}

// SwapInfo answers a synchronous GetInfo query for id without going
// through the Ctl bus, the path the rpc package's read-only HTTP surface
// uses so a local query doesn't need a ServiceClient round-trip.
func (d *Dispatcher) SwapInfo(id common.SwapId) (ctl.SwapInfo, error) {
	d.mu.RLock()
	inst, ok := d.instances[id]
	d.mu.RUnlock()
	if !ok {
		return ctl.SwapInfo{}, fmt.Errorf("dispatcher: no swap instance for id %s", id)
	}
	return ctl.SwapInfo{
		SwapId:        id,
		StateName:     string(inst.State),
		Confirmations: inst.Syncer.AllConfirmations(),
	}, nil
}

// SwapIds lists every swap instance currently running in this process,
// used to answer a bare listing query.
func (d *Dispatcher) SwapIds() []common.SwapId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]common.SwapId, 0, len(d.instances))
	for id := range d.instances {
		ids = append(ids, id)
	}
	return ids
}

// decimalToUint64 converts a wallet-reported funding amount, expressed
// in the chain's smallest unit, to the uint64 the core's funding-policy
// checks compare against.
func decimalToUint64(d *apd.Decimal) (uint64, error) {
	if d == nil {
		return 0, nil
	}
	i, err := d.Int64()
	if err != nil {
		return 0, fmt.Errorf("amount is not an exact integer: %w", err)
	}
	if i < 0 {
		return 0, fmt.Errorf("amount %d is negative", i)
	}
	return uint64(i), nil
}
