package dispatcher_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/bus/ctl"
	"github.com/btcxmr/swapd/checkpoint"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/dispatcher"
	"github.com/btcxmr/swapd/wallet"
)

// memStore is a minimal in-memory db.Store fake, grounded on the same
// shape as db's store_test.go memKV fake but built against the exported
// Store interface since dispatcher lives outside package db.
type memStore struct {
	mu sync.Mutex
	m  map[common.SwapId]checkpoint.Swapd
}

func newMemStore() *memStore {
	return &memStore{m: make(map[common.SwapId]checkpoint.Swapd)}
}

func (s *memStore) PutCheckpoint(id common.SwapId, cp checkpoint.Swapd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = cp
	return nil
}

func (s *memStore) GetCheckpoint(id common.SwapId) (checkpoint.Swapd, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.m[id]
	if !ok {
		return checkpoint.Swapd{}, fmt.Errorf("memstore: no checkpoint for swap %s", id)
	}
	return cp, nil
}

func (s *memStore) DeleteCheckpoint(id common.SwapId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func (s *memStore) AllSwapIds() ([]common.SwapId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]common.SwapId, 0, len(s.m))
	for id := range s.m {
		ids = append(ids, id)
	}
	return ids, nil
}

func testOffer() types.PublicOffer {
	return types.PublicOffer{
		Network:        &chaincfg.MainNetParams,
		ArbitratingAmt: 100000,
		CancelTimelock: 20,
		PunishTimelock: 40,
		MakerSwapRole:  types.Bob,
	}
}

func testPolicy() dispatcher.SafetyPolicy {
	return dispatcher.SafetyPolicy{BtcFinalityThr: 6, XmrFinalityThr: 10, SweepMoneroThr: 10, RaceThr: 2}
}

func newTestDispatcher(t *testing.T) (*dispatcher.Dispatcher, *memStore, *dispatcher.MockTransport) {
	t.Helper()
	ctrl := gomock.NewController(t)
	transport := dispatcher.NewMockTransport(ctrl)
	transport.EXPECT().SendMsg(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	transport.EXPECT().SendCtl(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	transport.EXPECT().SendSync(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	store := newMemStore()
	d := dispatcher.New(store, wallet.NewFake(), transport, testPolicy(),
		bus.NewSyncerServiceId("Bitcoin"), bus.NewSyncerServiceId("Monero"))
	return d, store, transport
}

// TestNewSwapBobMaker drives a MakeSwap for a Bob-role maker and asserts
// the resulting instance is queryable via SwapInfo/SwapIds.
func TestNewSwapBobMaker(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	id := common.SwapId{0x01}
	init := ctl.InitSwap{
		PeerdId:        bus.NewPeerServiceId("counterparty"),
		ReportTo:       bus.ServiceId{Kind: bus.ServiceFarcasterd},
		SwapId:         id,
		FundingAddr:    "bc1qfundingaddr",
		Offer:          testOffer(),
		LocalTrade:     types.Maker,
		BtcDestination: "bc1qdest",
	}

	err := d.Dispatch(context.Background(), bus.Ctl, bus.ServiceId{Kind: bus.ServiceFarcasterd}, bus.NewSwapServiceId(id), ctl.MakeSwap{Init: init})
	require.NoError(t, err)

	info, err := d.SwapInfo(id)
	require.NoError(t, err)
	require.Equal(t, id, info.SwapId)
	require.Equal(t, "BobInitMaker", info.StateName)

	require.Equal(t, []common.SwapId{id}, d.SwapIds())
}

// TestNewSwapDuplicate rejects a second MakeSwap/TakeSwap for an id
// already running.
func TestNewSwapDuplicate(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	id := common.SwapId{0x02}
	init := ctl.InitSwap{
		PeerdId:     bus.NewPeerServiceId("counterparty"),
		ReportTo:    bus.ServiceId{Kind: bus.ServiceFarcasterd},
		SwapId:      id,
		FundingAddr: "bc1qfundingaddr",
		Offer:       testOffer(),
	}

	require.NoError(t, d.Dispatch(context.Background(), bus.Ctl, bus.ServiceId{Kind: bus.ServiceFarcasterd}, bus.NewSwapServiceId(id), ctl.MakeSwap{Init: init}))
	err := d.Dispatch(context.Background(), bus.Ctl, bus.ServiceId{Kind: bus.ServiceFarcasterd}, bus.NewSwapServiceId(id), ctl.MakeSwap{Init: init})
	require.Error(t, err)
}

// TestDispatchUnauthorizedCtl rejects a Ctl send from a source outside
// the authorized set.
func TestDispatchUnauthorizedCtl(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	id := common.SwapId{0x03}
	init := ctl.InitSwap{SwapId: id, Offer: testOffer()}

	err := d.Dispatch(context.Background(), bus.Ctl, bus.NewPeerServiceId("stranger"), bus.NewSwapServiceId(id), ctl.MakeSwap{Init: init})
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

// TestDispatchUnknownDestination rejects anything not addressed to a
// swap instance.
func TestDispatchUnknownDestination(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.Dispatch(context.Background(), bus.Ctl, bus.ServiceId{Kind: bus.ServiceFarcasterd}, bus.ServiceId{Kind: bus.ServiceWallet}, ctl.GetInfo{})
	require.Error(t, err)
}

// TestStartResumesCheckpoint seeds the store with a checkpoint before
// Start and asserts the dispatcher reconstructs a queryable instance
// from it without a live MakeSwap/TakeSwap.
func TestStartResumesCheckpoint(t *testing.T) {
	d, store, _ := newTestDispatcher(t)

	id := common.SwapId{0x04}
	cp := checkpoint.Swapd{
		SwapId:      id,
		StateName:   "BobRefundProcedureSignatures",
		LastMsg:     "Lock",
		Role:        types.Bob,
		TradeRole:   types.Maker,
		RequiredBtc: 100000,
		RequiredXmr: 0,
	}
	require.NoError(t, store.PutCheckpoint(id, cp))

	require.NoError(t, d.Start(context.Background()))

	info, err := d.SwapInfo(id)
	require.NoError(t, err)
	require.Equal(t, "BobRefundProcedureSignatures", info.StateName)
}

// TestSwapIdsEmpty asserts a freshly constructed dispatcher reports no
// running swaps.
func TestSwapIdsEmpty(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	require.Empty(t, d.SwapIds())
}
