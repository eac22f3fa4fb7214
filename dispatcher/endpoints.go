package dispatcher

import (
	"fmt"

	"github.com/btcxmr/swapd/bus"
)

// SendMsg implements bus.Endpoints: peer protocol traffic always exits
// to the transport, which owns the actual peer session.
func (d *Dispatcher) SendMsg(_, dest bus.ServiceId, payload interface{}) error {
	return d.transport.SendMsg(dest, payload)
}

// SendSync implements bus.Endpoints: every syncer task exits to the
// transport, which owns the actual syncer connections.
func (d *Dispatcher) SendSync(_, dest bus.ServiceId, payload interface{}) error {
	return d.transport.SendSync(dest, payload)
}

// SendCtl implements bus.Endpoints: a direct send to the checkpoint
// store is rejected with an error (checkpoints are persisted by the
// dispatcher itself after each delivered event); everything else
// (progress, failures, funding and outcome reports to the supervisor) is
// forwarded to the transport.
func (d *Dispatcher) SendCtl(source, dest bus.ServiceId, payload interface{}) error {
	if dest.Kind == bus.ServiceCheckpoint {
		return fmt.Errorf("dispatcher: unexpected direct send to checkpoint store from %s", source)
	}
	return d.transport.SendCtl(dest, payload)
}

// authorizedCtlSender implements the §7 authorization rule: Ctl
// messages are accepted only from Farcasterd, Wallet, Checkpoint, a
// GetInfo client, or the two syncer ids bound to this swap's network.
func (d *Dispatcher) authorizedCtlSender(source bus.ServiceId) bool {
	switch source.Kind {
	case bus.ServiceFarcasterd, bus.ServiceWallet, bus.ServiceCheckpoint, bus.ServiceClient:
		return true
	case bus.ServiceSyncer:
		return source == d.btcSyncer || source == d.xmrSyncer
	default:
		return false
	}
}
