// Package rpc provides the read-only HTTP/JSON-RPC surface a running
// swapd process exposes locally: one namespace for querying a swap
// instance's current state and cached confirmation counts. Peer
// discovery, offer management, and wallet balances belong to the
// supervisor and wallet processes, not this core.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json"
	logging "github.com/ipfs/go-log"

	"github.com/btcxmr/swapd/bus/ctl"
	"github.com/btcxmr/swapd/common"
)

var log = logging.Logger("rpc")

// SwapNamespace is the sole JSON-RPC namespace this server registers.
const SwapNamespace = "swap"

// SwapQuerier is the read-only slice of *dispatcher.Dispatcher the RPC
// service needs: a snapshot lookup and a listing, kept as an interface
// so the server can be tested against a fake without a live dispatcher.
type SwapQuerier interface {
	SwapInfo(id common.SwapId) (ctl.SwapInfo, error)
	SwapIds() []common.SwapId
}

// Config is the server's construction-time dependency.
type Config struct {
	Ctx     context.Context
	Address string // "IP:port"
	Swaps   SwapQuerier
}

// Server is the HTTP server hosting the JSON-RPC swap namespace.
type Server struct {
	ctx        context.Context
	listener   net.Listener
	httpServer *http.Server
}

// NewServer constructs and binds (but does not start) the RPC server:
// register the JSON codec, register the service, wrap the router in
// CORS-permissive gorilla/handlers middleware, and listen.
func NewServer(cfg *Config) (*Server, error) {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json.NewCodec(), "application/json")

	if err := rpcServer.RegisterService(&SwapService{swaps: cfg.Swaps}, SwapNamespace); err != nil {
		return nil, fmt.Errorf("rpc: registering swap service: %w", err)
	}

	serverCtx, serverCancel := context.WithCancel(cfg.Ctx)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(serverCtx, "tcp", cfg.Address)
	if err != nil {
		serverCancel()
		return nil, err
	}

	r := mux.NewRouter()
	r.Handle("/", rpcServer)

	headersOk := handlers.AllowedHeaders([]string{"content-type"})
	methodsOk := handlers.AllowedMethods([]string{"POST", "OPTIONS"})
	originsOk := handlers.AllowedOrigins([]string{"*"})

	httpServer := &http.Server{
		Addr:              ln.Addr().String(),
		ReadHeaderTimeout: time.Second,
		Handler:           handlers.CORS(headersOk, methodsOk, originsOk)(r),
		BaseContext: func(net.Listener) context.Context {
			return serverCtx
		},
	}

	return &Server{ctx: serverCtx, listener: ln, httpServer: httpServer}, nil
}

// HTTPURL returns the URL used for HTTP requests.
func (s *Server) HTTPURL() string {
	return fmt.Sprintf("http://%s", s.httpServer.Addr)
}

// Start serves the RPC endpoint until its context is canceled.
func (s *Server) Start() error {
	log.Infof("starting RPC server on %s", s.HTTPURL())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-s.ctx.Done():
		err := s.httpServer.Shutdown(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("rpc server shutdown errored: %s", err)
		}
		return s.ctx.Err()
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("rpc server failed: %s", err)
		}
		return err
	}
}

// Stop gracefully shuts down the server, servicing connections already
// in flight.
func (s *Server) Stop() error {
	return s.httpServer.Shutdown(s.ctx)
}
