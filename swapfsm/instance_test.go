package swapfsm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/bus/ctl"
	"github.com/btcxmr/swapd/bus/p2p"
	"github.com/btcxmr/swapd/bus/syncmsg"
	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
	"github.com/btcxmr/swapd/pending"
	"github.com/btcxmr/swapd/safety"
	"github.com/btcxmr/swapd/syncer"
	"github.com/btcxmr/swapd/wallet"
)

// fakeEndpoints is the bus.Endpoints a test instance is built against: Ctl
// and Sync sends are recorded for assertions, and Msg sends are delivered
// straight into a wired counter-party instance's Next, simulating a live
// two-party exchange without a dispatcher or peer daemon in between.
type fakeEndpoints struct {
	ctx  context.Context
	peer *Instance

	mu       sync.Mutex
	ctlSent  []interface{}
	syncSent []interface{}
	failMsg  bool
}

func newFakeEndpoints() *fakeEndpoints {
	return &fakeEndpoints{ctx: context.Background()}
}

func (f *fakeEndpoints) SendMsg(_, _ bus.ServiceId, payload interface{}) error {
	if f.failMsg {
		return errors.New("peer unreachable")
	}
	if f.peer == nil {
		return nil
	}
	_, err := f.peer.Next(f.ctx, payload)
	return err
}

func (f *fakeEndpoints) SendCtl(_, _ bus.ServiceId, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctlSent = append(f.ctlSent, payload)
	return nil
}

func (f *fakeEndpoints) SendSync(_, _ bus.ServiceId, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncSent = append(f.syncSent, payload)
	return nil
}

func (f *fakeEndpoints) ctl() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.ctlSent...)
}

func (f *fakeEndpoints) sync() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.syncSent...)
}

func countCtl[T any](f *fakeEndpoints) int {
	n := 0
	for _, p := range f.ctl() {
		if _, ok := p.(T); ok {
			n++
		}
	}
	return n
}

func filterCtl[T any](f *fakeEndpoints) []T {
	var out []T
	for _, p := range f.ctl() {
		if t, ok := p.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func filterSync[T any](f *fakeEndpoints) []T {
	var out []T
	for _, p := range f.sync() {
		if t, ok := p.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// testSafety returns thresholds loose enough to drive a swap to Buy
// without ever entering the cancel window, and tight enough that a test
// can still reach ValidCancel/ValidPunish deliberately by feeding enough
// confirmations.
func testSafety() safety.TemporalSafety {
	return safety.TemporalSafety{
		CancelTimelock: 10,
		PunishTimelock: 20,
		BtcFinalityThr: 1,
		XmrFinalityThr: 1,
		SweepMoneroThr: 1,
		RaceThr:        1,
	}
}

func newTestInstance(role types.SwapRole, requiredBtc, requiredXmr uint64, ep *fakeEndpoints) *Instance {
	// Both parties of one swap share its id; handlers reject peer messages
	// naming another swap.
	var id common.SwapId
	id[0] = 1
	offer := types.PublicOffer{MakerSwapRole: types.Bob}
	syncerState := syncer.NewState(
		bus.NewSyncerServiceId("Bitcoin"), bus.NewSyncerServiceId("Monero"),
		requiredBtc, requiredXmr,
	)
	w := wallet.NewFake()
	return New(id, role, types.Maker, offer, testSafety(), syncerState, w, ep, requiredBtc, requiredXmr)
}

func initEvent(id common.SwapId, remoteCommit []byte) ctl.InitSwap {
	return ctl.InitSwap{
		PeerdId:        bus.NewPeerServiceId(peer.ID("test-counterparty")),
		ReportTo:       bus.ServiceId{Kind: bus.ServiceFarcasterd},
		SwapId:         id,
		RemoteCommit:   remoteCommit,
		FundingAddr:    "bc1qfunding",
		BtcDestination: "bc1qbtcdest",
		XmrDestination: "xmrdest",
	}
}

func mkReveal(id common.SwapId, params wallet.RevealParams) p2p.RevealPayload {
	return p2p.RevealPayload{SwapId: id, Kind: p2p.RevealAliceParameters, Parameters: []byte(params)}
}

// TestHappyPathBothPartiesReachSuccess drives two wired instances through
// the entire commit/reveal/fund/lock/buy sequence and checks both sides
// land in SwapEnd(SuccessSwap) exactly once.
func TestHappyPathBothPartiesReachSuccess(t *testing.T) {
	ctx := context.Background()
	const requiredBtc, requiredXmr = 100000, 200000

	bobEp := newFakeEndpoints()
	aliceEp := newFakeEndpoints()
	bob := newTestInstance(types.Bob, requiredBtc, requiredXmr, bobEp)
	alice := newTestInstance(types.Alice, requiredBtc, requiredXmr, aliceEp)
	bobEp.peer = alice
	aliceEp.peer = bob

	_, err := bob.Next(ctx, ctl.MakeSwap{Init: initEvent(bob.Id, []byte("alice-commit"))})
	require.NoError(t, err)
	require.Equal(t, StateBobInitMaker, bob.State)

	_, err = alice.Next(ctx, ctl.MakeSwap{Init: initEvent(alice.Id, []byte("bob-commit"))})
	require.NoError(t, err)
	require.Equal(t, StateAliceInitMaker, alice.State)

	bobReveal, err := bob.Wallet.Reveal(ctx, bob.Id)
	require.NoError(t, err)
	aliceReveal, err := alice.Wallet.Reveal(ctx, alice.Id)
	require.NoError(t, err)

	_, err = alice.Next(ctx, mkReveal(alice.Id, bobReveal))
	require.NoError(t, err)
	require.Equal(t, StateAliceReveal, alice.State)

	_, err = bob.Next(ctx, mkReveal(bob.Id, aliceReveal))
	require.NoError(t, err)
	require.Equal(t, StateBobInitMaker, bob.State, "Bob defers Reveal until a fee estimate is known")

	_, err = bob.Next(ctx, syncmsg.FeeEstimation{SatPerKvB: 1000})
	require.NoError(t, err)
	require.Equal(t, StateBobReveal, bob.State)

	fundingWatches := filterSync[syncmsg.WatchAddress](bobEp)
	require.Len(t, fundingWatches, 1, "funding address watch registered on BobReveal")

	_, err = bob.Next(ctx, syncmsg.AddressTransaction{Id: fundingWatches[0].Id, Txid: "fundingtx", Amount: requiredBtc})
	require.NoError(t, err)
	require.Equal(t, StateBobRefundProcedureSignatures, bob.State, "CoreArbitratingSetup round trip completes synchronously through the wired peer")
	require.Equal(t, 1, countCtl[ctl.FundingCompleted](bobEp))
	require.Equal(t, StateAliceCoreArbitratingSetup, alice.State)

	bobLockWatches := filterSync[syncmsg.WatchTransaction](bobEp)
	require.Len(t, bobLockWatches, 2, "Lock and Cancel confirmation watches registered together")
	lockWatchId := bobLockWatches[0].Id

	aliceLockWatches := filterSync[syncmsg.WatchTransaction](aliceEp)
	require.Len(t, aliceLockWatches, 2)
	aliceLockWatchId := aliceLockWatches[0].Id

	confs := uint32(2)
	_, err = bob.Next(ctx, syncmsg.TransactionConfirmations{Id: lockWatchId, Confs: &confs})
	require.NoError(t, err)

	_, err = alice.Next(ctx, syncmsg.TransactionConfirmations{Id: aliceLockWatchId, Confs: &confs})
	require.NoError(t, err)
	require.Equal(t, StateAliceArbitratingLockFinal, alice.State)

	aliceAccLockWatches := filterSync[syncmsg.WatchAddress](aliceEp)
	require.Len(t, aliceAccLockWatches, 1)
	_, err = alice.Next(ctx, syncmsg.AddressTransaction{Id: aliceAccLockWatches[0].Id, Txid: "acclocktx", Amount: requiredXmr})
	require.NoError(t, err)
	require.Equal(t, StateAliceAccordantLock, alice.State)
	require.Equal(t, 1, countCtl[ctl.FundingCompleted](aliceEp))

	bobAccLockWatches := filterSync[syncmsg.WatchAddress](bobEp)
	require.Len(t, bobAccLockWatches, 2, "AccLock address watch registered after the Funding watch")
	_, err = bob.Next(ctx, syncmsg.AddressTransaction{Id: bobAccLockWatches[1].Id, Txid: "acclocktx", Amount: requiredXmr})
	require.NoError(t, err)
	require.Equal(t, StateBobAccordantLock, bob.State)

	// handleAliceAccLock's funded branch upgrades the address watch into a
	// confirmation watch; pick the AccLock one out (it's the last
	// WatchTransaction each side has registered so far).
	aliceAccLockConfWatches := filterSync[syncmsg.WatchTransaction](aliceEp)
	require.Len(t, aliceAccLockConfWatches, 3)
	bobAccLockConfWatches := filterSync[syncmsg.WatchTransaction](bobEp)
	require.Len(t, bobAccLockConfWatches, 3)

	accConfs := uint32(1)
	_, err = alice.Next(ctx, syncmsg.TransactionConfirmations{Id: aliceAccLockConfWatches[2].Id, Confs: &accConfs})
	require.NoError(t, err)
	_, err = bob.Next(ctx, syncmsg.TransactionConfirmations{Id: bobAccLockConfWatches[2].Id, Confs: &accConfs})
	require.NoError(t, err)
	require.Equal(t, StateBobAccordantLockFinal, bob.State, "Bob sends BuyProcedureSignature and Alice buys immediately")
	require.Equal(t, StateAliceBuyProcedureSignature, alice.State, "Alice broadcasts Buy the instant it is safe to publish")

	aliceBuyWatches := filterSync[syncmsg.WatchTransaction](aliceEp)
	require.Len(t, aliceBuyWatches, 4, "Buy confirmation watch registered when Alice broadcasts Buy")
	_, err = alice.Next(ctx, syncmsg.TransactionConfirmations{Id: aliceBuyWatches[3].Id, Confs: &confs})
	require.NoError(t, err)
	require.Equal(t, StateSwapEnd, alice.State, "Alice reaches success once Buy is final")
	require.Equal(t, 1, countCtl[ctl.SwapOutcome](aliceEp))
	require.Equal(t, types.SuccessSwap, filterCtl[ctl.SwapOutcome](aliceEp)[0].Outcome)

	bobBuyWatches := filterSync[syncmsg.WatchAddress](bobEp)
	require.Len(t, bobBuyWatches, 3, "Buy spend watch on the Lock output registered when Bob sends BuyProcedureSignature")
	_, err = bob.Next(ctx, syncmsg.AddressTransaction{Id: bobBuyWatches[2].Id, Txid: "buytx"})
	require.NoError(t, err)
	retrievals := filterSync[syncmsg.RetrieveTransaction](bobEp)
	require.Len(t, retrievals, 1, "Bob retrieves Buy once its spend of Lock is seen")
	_, err = bob.Next(ctx, syncmsg.TransactionRetrieved{Id: retrievals[0].Id, Tx: alice.Txs[types.Buy]})
	require.NoError(t, err)
	require.Equal(t, StateBobBuySweeping, bob.State)

	sweepTasks := filterSync[syncmsg.SweepAddress](bobEp)
	require.Len(t, sweepTasks, 1)
	_, err = bob.Next(ctx, syncmsg.SweepSuccess{Id: sweepTasks[0].Id, Txid: "sweeptx"})
	require.NoError(t, err)
	require.Equal(t, StateSwapEnd, bob.State)
	require.Equal(t, 1, countCtl[ctl.SwapOutcome](bobEp))
	require.Equal(t, types.SuccessSwap, filterCtl[ctl.SwapOutcome](bobEp)[0].Outcome)
}

func TestAliceOverfundCancelsFunding(t *testing.T) {
	ctx := context.Background()
	const requiredXmr = 200000

	ep := newFakeEndpoints()
	alice := newTestInstance(types.Alice, 100000, requiredXmr, ep)
	alice.State = StateAliceArbitratingLockFinal

	watch, err := alice.Syncer.WatchAddrXmr("xmraddr", types.AccLock, 0)
	require.NoError(t, err)

	_, err = alice.Next(ctx, syncmsg.AddressTransaction{Id: watch.Id, Txid: "overfund", Amount: requiredXmr + 1})
	require.NoError(t, err)
	require.Equal(t, StateAliceCanceled, alice.State)
	require.Equal(t, 1, countCtl[ctl.FundingCanceled](ep))
	require.Equal(t, 0, countCtl[ctl.FundingCompleted](ep))
}

func TestBobUnderfundAbortsAndSweeps(t *testing.T) {
	ctx := context.Background()
	const requiredBtc = 100000

	ep := newFakeEndpoints()
	bob := newTestInstance(types.Bob, requiredBtc, 200000, ep)
	bob.State = StateBobReveal
	bob.FundingAddress = "bc1qfunding"
	bob.BtcDestination = "bc1qbtcdest"

	watch, err := bob.Syncer.WatchAddrBtc(bob.FundingAddress, types.Funding, 0)
	require.NoError(t, err)

	_, err = bob.Next(ctx, syncmsg.AddressTransaction{Id: watch.Id, Txid: "underfund", Amount: requiredBtc - 1})
	require.NoError(t, err)
	require.Equal(t, StateBobAbortAwaitingBitcoinSweep, bob.State)
	require.Equal(t, 0, countCtl[ctl.FundingCompleted](ep))

	sweeps := filterSync[syncmsg.SweepAddress](ep)
	require.Len(t, sweeps, 1)
	require.Equal(t, bob.BtcDestination, sweeps[0].To)

	_, err = bob.Next(ctx, syncmsg.SweepSuccess{Id: sweeps[0].Id, Txid: "sweeptx"})
	require.NoError(t, err)
	require.Equal(t, StateSwapEnd, bob.State)
	outcomes := filterCtl[ctl.SwapOutcome](ep)
	require.Len(t, outcomes, 1)
	require.Equal(t, types.FailureAbort, outcomes[0].Outcome)
}

func TestHeightChangedIgnoresNonAdvancingTip(t *testing.T) {
	ctx := context.Background()
	ep := newFakeEndpoints()
	bob := newTestInstance(types.Bob, 1, 1, ep)
	_, err := bob.Next(ctx, syncmsg.HeightChanged{Chain: types.Monero, Height: 5})
	require.NoError(t, err)
	_, err = bob.Next(ctx, syncmsg.HeightChanged{Chain: types.Monero, Height: 4})
	require.NoError(t, err)
	require.Equal(t, uint64(5), bob.Syncer.XmrHeight)
}

func TestTerminalInstanceRejectsFurtherEvents(t *testing.T) {
	ep := newFakeEndpoints()
	bob := newTestInstance(types.Bob, 1, 1, ep)
	bob.State = StateSwapEnd
	_, err := bob.Next(context.Background(), syncmsg.FeeEstimation{SatPerKvB: 1})
	require.ErrorIs(t, err, common.ErrTerminal)
}

func TestEmitOutcomeIsIdempotent(t *testing.T) {
	ep := newFakeEndpoints()
	bob := newTestInstance(types.Bob, 1, 1, ep)
	require.NoError(t, bob.emitOutcome(context.Background(), types.SuccessSwap))
	require.NoError(t, bob.emitOutcome(context.Background(), types.FailureAbort))
	require.Equal(t, 1, countCtl[ctl.SwapOutcome](ep))
	require.Equal(t, types.SuccessSwap, filterCtl[ctl.SwapOutcome](ep)[0].Outcome)
}

func TestSendMsgDefersOnUnreachablePeer(t *testing.T) {
	ep := newFakeEndpoints()
	ep.failMsg = true
	bob := newTestInstance(types.Bob, 1, 1, ep)

	err := bob.sendMsg(bus.ServiceId{Kind: bus.ServicePeerd}, p2p.RefundProcedureSignatures{SwapId: bob.Id})
	require.NoError(t, err, "a deferred send is reported via PeerdUnreachable, not returned as an error")
	require.Equal(t, 1, bob.Pending.Len(pending.CausePeerUnreachable))
	require.Equal(t, 1, countCtl[ctl.PeerdUnreachable](ep))

	ep.failMsg = false
	require.NoError(t, bob.handlePeerdReconnected(context.Background()))
	require.Equal(t, 0, bob.Pending.Len(pending.CausePeerUnreachable))
}
