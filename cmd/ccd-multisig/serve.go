package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/submission"
	"github.com/ccdwallet/multisig-go/pkg/wallet"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Reconcile submitted proposals in the background and serve wallet state over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (defaults to server.address from the config)"},
			&cli.BoolFlag{Name: "with-device", Usage: "Open the device session to report its status"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	rt, err := newRuntime(c, c.Bool("with-device"))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := recordStart(rt); err != nil {
		return err
	}

	reconciler := submission.NewReconciler(rt.store, rt.wallet.Poll, rt.poller, &submission.ReconcilerConfig{
		Schedule: rt.cfg.Submission.ReconcileSchedule,
		Network:  string(rt.cfg.Network),
	}, rt.logger)
	if _, err := reconciler.RunOnce(ctx); err != nil {
		rt.logger.Sugar().Warnw("Initial reconciliation failed", "error", err)
	}
	if err := reconciler.Start(ctx); err != nil {
		return err
	}
	defer reconciler.Stop()

	addr := rt.cfg.Server.Address
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	server := wallet.NewServer(rt.wallet, addr, rt.registry, rt.logger)
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	fmt.Printf("Serving wallet state on %s (network %s)\n", addr, rt.cfg.Network)
	fmt.Printf("Endpoints:\n")
	fmt.Printf("  GET /proposals - Proposal views, filter with ?status=\n")
	fmt.Printf("  GET /proposals/{id} - One proposal\n")
	fmt.Printf("  GET /device - Device session status\n")
	fmt.Printf("  GET /metrics - Prometheus metrics\n")
	fmt.Printf("\nPress Ctrl+C to stop\n")

	<-ctx.Done()
	rt.logger.Sugar().Infow("Shutting down")
	return nil
}

// recordStart refuses a store created for another network and records the start time
func recordStart(rt *runtime) error {
	state, err := rt.store.LoadWalletState()
	if err != nil {
		return fmt.Errorf("failed to load wallet state: %w", err)
	}
	if state == nil {
		state = &persistence.WalletState{Network: string(rt.cfg.Network)}
	}
	if state.Network != "" && state.Network != string(rt.cfg.Network) {
		return fmt.Errorf("proposal store belongs to %s, not %s", state.Network, rt.cfg.Network)
	}
	state.Network = string(rt.cfg.Network)
	state.StartTime = time.Now().Unix()
	return rt.store.SaveWalletState(state)
}
