// Package bus defines the three named buses the core communicates over
// (Msg, Ctl, Sync) and the service identity and envelope types shared by
// every message exchanged on them.
package bus

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Bus names one of the three channels a message travels on.
type Bus uint8

const (
	// Msg carries peer protocol messages (bus/p2p).
	Msg Bus = iota
	// Ctl carries supervisor/control messages (bus/ctl).
	Ctl
	// Sync carries syncer tasks and events (bus/syncmsg).
	Sync
)

// String implements fmt.Stringer.
func (b Bus) String() string {
	switch b {
	case Msg:
		return "Msg"
	case Ctl:
		return "Ctl"
	case Sync:
		return "Sync"
	default:
		return "unknown bus"
	}
}

// ServiceKind discriminates the fixed set of service identities a swap
// instance addresses messages to or receives them from.
type ServiceKind uint8

const (
	// ServiceSwap identifies a running swap state machine instance.
	ServiceSwap ServiceKind = iota
	// ServiceFarcasterd identifies the supervisor process.
	ServiceFarcasterd
	// ServiceWallet identifies the wallet boundary that produces and
	// validates protocol payloads.
	ServiceWallet
	// ServiceCheckpoint identifies the checkpoint store.
	ServiceCheckpoint
	// ServicePeerd identifies the peer connection daemon.
	ServicePeerd
	// ServiceSyncer identifies one of the two chain syncers bound to a
	// swap (Bitcoin or Monero, disambiguated by ServiceId.Chain).
	ServiceSyncer
	// ServiceClient identifies a GetInfo request-response client.
	ServiceClient
)

// String implements fmt.Stringer.
func (k ServiceKind) String() string {
	switch k {
	case ServiceSwap:
		return "Swap"
	case ServiceFarcasterd:
		return "Farcasterd"
	case ServiceWallet:
		return "Wallet"
	case ServiceCheckpoint:
		return "Checkpoint"
	case ServicePeerd:
		return "Peerd"
	case ServiceSyncer:
		return "Syncer"
	case ServiceClient:
		return "Client"
	default:
		return "unknown service"
	}
}

// ServiceId is the (kind, discriminator) pair every Envelope's source and
// destination fields carry. Discriminator is the swap id for Swap, the
// chain name for Syncer, the counter-party's libp2p identity for Peerd,
// and empty for the other singleton services.
type ServiceId struct {
	Kind   ServiceKind
	Swap   [32]byte
	Chain  string
	Client string
	PeerID peer.ID
}

// NewSwapServiceId identifies the swap instance owning id.
func NewSwapServiceId(id [32]byte) ServiceId {
	return ServiceId{Kind: ServiceSwap, Swap: id}
}

// NewSyncerServiceId identifies the syncer bound to the given chain name
// ("Bitcoin" or "Monero").
func NewSyncerServiceId(chain string) ServiceId {
	return ServiceId{Kind: ServiceSyncer, Chain: chain}
}

// NewPeerServiceId identifies the peer daemon's session with the
// counter-party's libp2p identity.
func NewPeerServiceId(id peer.ID) ServiceId {
	return ServiceId{Kind: ServicePeerd, PeerID: id}
}

// String implements fmt.Stringer.
func (s ServiceId) String() string {
	switch s.Kind {
	case ServiceSwap:
		return fmt.Sprintf("Swap(%x)", s.Swap[:4])
	case ServiceSyncer:
		return fmt.Sprintf("Syncer(%s)", s.Chain)
	case ServiceClient:
		return fmt.Sprintf("Client(%s)", s.Client)
	case ServicePeerd:
		if s.PeerID == "" {
			return "Peerd"
		}
		return fmt.Sprintf("Peerd(%s)", s.PeerID.ShortString())
	default:
		return s.Kind.String()
	}
}

// Envelope wraps a payload with the bus it travels on and the source and
// destination service ids, mirroring the dispatcher's routing key.
type Envelope struct {
	Bus     Bus
	Source  ServiceId
	Dest    ServiceId
	Payload interface{}
}

// Endpoints is the dispatcher-facing send surface every component that
// emits bus traffic is given instead of a concrete transport, so that
// swapfsm and syncer code never depend on a wire format directly.
type Endpoints interface {
	// SendMsg routes a peer protocol payload to dest over Msg.
	SendMsg(source, dest ServiceId, payload interface{}) error
	// SendCtl routes a control payload to dest over Ctl.
	SendCtl(source, dest ServiceId, payload interface{}) error
	// SendSync routes a syncer task or event to dest over Sync.
	SendSync(source, dest ServiceId, payload interface{}) error
}
