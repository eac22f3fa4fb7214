package swapfsm

// StateName identifies a node in the swap state graph. The machine keeps
// exactly one StateName current at a time; Instance.Next is the total
// function next(state, event) -> option<state> the component design
// calls for, with "stays" expressed as Next returning transitioned=false.
type StateName string

const (
	StateStartAlice StateName = "StartAlice"
	StateStartBob   StateName = "StartBob"

	StateAliceInitMaker StateName = "AliceInitMaker"
	StateAliceInitTaker StateName = "AliceInitTaker"
	StateBobInitMaker   StateName = "BobInitMaker"
	StateBobInitTaker   StateName = "BobInitTaker"

	StateAliceTakerMakerCommit StateName = "AliceTakerMakerCommit"
	StateBobTakerMakerCommit   StateName = "BobTakerMakerCommit"

	StateAliceReveal StateName = "AliceReveal"
	StateBobReveal   StateName = "BobReveal"

	StateBobFunded                     StateName = "BobFunded"
	StateBobAbortAwaitingBitcoinSweep  StateName = "BobAbortAwaitingBitcoinSweep"
	StateBobRefundProcedureSignatures  StateName = "BobRefundProcedureSignatures"
	StateBobAccordantLock              StateName = "BobAccordantLock"
	StateBobAccordantLockFinal         StateName = "BobAccordantLockFinal"
	StateBobBuyFinal                   StateName = "BobBuyFinal"
	StateBobBuySweeping                StateName = "BobBuySweeping"
	StateBobCanceled                   StateName = "BobCanceled"
	StateBobCancelFinal                StateName = "BobCancelFinal"

	StateAliceCoreArbitratingSetup   StateName = "AliceCoreArbitratingSetup"
	StateAliceArbitratingLockFinal   StateName = "AliceArbitratingLockFinal"
	StateAliceAccordantLock          StateName = "AliceAccordantLock"
	StateAliceBuyProcedureSignature  StateName = "AliceBuyProcedureSignature"
	StateAliceCanceled               StateName = "AliceCanceled"
	StateAliceRefund                 StateName = "AliceRefund"
	StateAliceRefundSweeping         StateName = "AliceRefundSweeping"
	StateAlicePunish                 StateName = "AlicePunish"

	StateSwapEnd StateName = "SwapEnd"
)

// checkpointLabel reports whether entering state s is one of the four
// checkpoint points named in the component design: Bob pre-Lock, Bob
// pre-Buy, Alice pre-Lock, Alice pre-Buy. Start, Init, Commit, and
// Reveal phases are never checkpointed. The returned label is the
// pending outbound action restore must resume (§4.4's "last_msg").
func checkpointLabel(s StateName) (label string, ok bool) {
	switch s {
	case StateBobRefundProcedureSignatures:
		// Bob pre-Lock: validated RefundProcedureSignatures, about to
		// broadcast Lock.
		return "Lock", true
	case StateBobAccordantLockFinal:
		// Bob pre-Buy: AccLock final, about to send BuyProcedureSignature.
		return "BuyProcedureSignature", true
	case StateAliceCoreArbitratingSetup:
		// Alice pre-Lock: received CoreArbitratingSetup, about to send
		// RefundProcedureSignatures.
		return "RefundProcedureSignatures", true
	case StateAliceBuyProcedureSignature:
		// Alice pre-Buy: received BuyProcedureSignature, about to
		// broadcast Buy.
		return "Buy", true
	default:
		return "", false
	}
}
