// Command swapd is the thin process entrypoint that owns a Dispatcher
// and exposes its read-only query surface over the rpc package. It
// plays the role a supervisor ("farcasterd") fills in production:
// wiring the core to a concrete checkpoint store and the local RPC
// listener, while the peer session, the two chain syncers, and the
// wallet itself remain external collaborators this process doesn't
// own; swapd logs what it would have sent them rather than pretending
// to own those connections, since standing up real Bitcoin/Monero
// syncer daemons and a live wallet signer is outside this process's
// scope.
//
// Flag parsing uses a github.com/urfave/cli/v2 App with a single root
// action and no subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ChainSafe/chaindb"
	logging "github.com/ipfs/go-log"
	"github.com/urfave/cli/v2"

	"github.com/btcxmr/swapd/bus"
	"github.com/btcxmr/swapd/db"
	"github.com/btcxmr/swapd/dispatcher"
	"github.com/btcxmr/swapd/rpc"
	"github.com/btcxmr/swapd/wallet"
)

var log = logging.Logger("swapd")

const (
	flagDataDir        = "datadir"
	flagRPCAddress     = "rpc-address"
	flagBtcFinalityThr = "btc-finality-thr"
	flagXmrFinalityThr = "xmr-finality-thr"
	flagSweepMoneroThr = "sweep-monero-thr"
	flagRaceThr        = "race-thr"
)

func main() {
	app := &cli.App{
		Name:  "swapd",
		Usage: "Bitcoin/Monero atomic swap core daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagDataDir, Value: "./swapd-data", Usage: "checkpoint store data directory"},
			&cli.StringFlag{Name: flagRPCAddress, Value: "127.0.0.1:5000", Usage: "address to serve the swap query RPC on"},
			&cli.Uint64Flag{Name: flagBtcFinalityThr, Value: 6},
			&cli.Uint64Flag{Name: flagXmrFinalityThr, Value: 10},
			&cli.Uint64Flag{Name: flagSweepMoneroThr, Value: 10},
			&cli.Uint64Flag{Name: flagRaceThr, Value: 2},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("swapd: %s", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	database, err := chaindb.NewBadgerDB(&chaindb.Config{
		DataDir: c.String(flagDataDir),
	})
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}
	defer database.Close() //nolint:errcheck

	store, err := db.NewStore(database)
	if err != nil {
		return fmt.Errorf("loading checkpoints: %w", err)
	}

	policy := dispatcher.SafetyPolicy{
		BtcFinalityThr: uint32(c.Uint64(flagBtcFinalityThr)),
		XmrFinalityThr: uint32(c.Uint64(flagXmrFinalityThr)),
		SweepMoneroThr: uint32(c.Uint64(flagSweepMoneroThr)),
		RaceThr:        uint32(c.Uint64(flagRaceThr)),
	}

	btcSyncer := bus.NewSyncerServiceId("Bitcoin")
	xmrSyncer := bus.NewSyncerServiceId("Monero")

	// The wallet and the peer/syncer transport are external processes in
	// production; swapd stands in a logging placeholder for each so the
	// dispatcher is constructible and queryable standalone.
	w := wallet.NewFake()
	transport := loggingTransport{}

	d := dispatcher.New(store, w, transport, policy, btcSyncer, xmrSyncer)
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("resuming checkpointed swaps: %w", err)
	}

	server, err := rpc.NewServer(&rpc.Config{Ctx: ctx, Address: c.String(flagRPCAddress), Swaps: d})
	if err != nil {
		return fmt.Errorf("starting rpc server: %w", err)
	}

	log.Infof("swapd listening on %s", server.HTTPURL())
	return server.Start()
}

// loggingTransport implements dispatcher.Transport by logging every send
// instead of delivering it, standing in for the peer daemon and the two
// syncer connections until a real supervisor wires swapd to them.
type loggingTransport struct{}

func (loggingTransport) SendMsg(dest bus.ServiceId, payload interface{}) error {
	log.Infof("[peer %s] would send %T", dest, payload)
	return nil
}

func (loggingTransport) SendCtl(dest bus.ServiceId, payload interface{}) error {
	log.Infof("[ctl %s] would send %T", dest, payload)
	return nil
}

func (loggingTransport) SendSync(dest bus.ServiceId, payload interface{}) error {
	log.Infof("[sync %s] would send %T", dest, payload)
	return nil
}
