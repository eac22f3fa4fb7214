package rpc

import (
	"net/http"

	"github.com/btcxmr/swapd/bus/ctl"
	"github.com/btcxmr/swapd/common"
)

// SwapService implements the gorilla/rpc "swap" namespace: each exported
// method becomes a JSON-RPC method named "swap.MethodName".
type SwapService struct {
	swaps SwapQuerier
}

// GetInfoArgs identifies which swap GetInfo is asking about.
type GetInfoArgs struct {
	SwapID string `json:"swapID"`
}

// GetInfoResponse mirrors ctl.SwapInfo with JSON-friendly field names.
type GetInfoResponse struct {
	SwapID        string           `json:"swapID"`
	StateName     string           `json:"stateName"`
	Confirmations map[string]uint32 `json:"confirmations"`
}

// GetInfo answers "swap.GetInfo": a snapshot of one swap's current state
// name and cached confirmation counts.
func (s *SwapService) GetInfo(_ *http.Request, args *GetInfoArgs, reply *GetInfoResponse) error {
	id, err := common.HexToSwapId(args.SwapID)
	if err != nil {
		return err
	}
	info, err := s.swaps.SwapInfo(id)
	if err != nil {
		return err
	}
	*reply = toGetInfoResponse(info)
	return nil
}

// ListOngoingArgs is intentionally empty; gorilla/rpc requires a
// non-nil args value even for parameterless methods.
type ListOngoingArgs struct{}

// ListOngoingResponse carries every swap id currently running in this
// process.
type ListOngoingResponse struct {
	SwapIDs []string `json:"swapIDs"`
}

// ListOngoing answers "swap.ListOngoing".
func (s *SwapService) ListOngoing(_ *http.Request, _ *ListOngoingArgs, reply *ListOngoingResponse) error {
	ids := s.swaps.SwapIds()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	reply.SwapIDs = out
	return nil
}

func toGetInfoResponse(info ctl.SwapInfo) GetInfoResponse {
	confs := make(map[string]uint32, len(info.Confirmations))
	for label, c := range info.Confirmations {
		confs[label.String()] = c
	}
	return GetInfoResponse{
		SwapID:        info.SwapId.String(),
		StateName:     info.StateName,
		Confirmations: confs,
	}
}
